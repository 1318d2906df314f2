package rembg

import (
	"context"
	"image"
)

// Remover 去除背景，返回带 alpha 的主体图
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
	// Name 用于接口返回和日志中标识模型
	Name() string
}

// Passthrough 不做任何处理，用于本地开发和没有模型服务的环境
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Remove(_ context.Context, img image.Image) (image.Image, error) {
	return img, nil
}

func (p *Passthrough) Name() string {
	return "passthrough"
}
