package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gabriel-vasile/mimetype"

	// webp 只需要解码
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("invalid image content")

// DefaultMaxPixels 解码前允许的最大像素数（宽 * 高）
const DefaultMaxPixels int64 = 40_000_000

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// Ext 存储时使用的扩展名（jpeg 统一写成 jpg）
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) MIME() string {
	return "image/" + string(f)
}

// DetectFormat 通过文件头（magic bytes）判断图片格式，不信任扩展名
func DetectFormat(data []byte) (Format, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/jpeg"):
		return FormatJPEG, nil
	case mt.Is("image/png"):
		return FormatPNG, nil
	case mt.Is("image/webp"):
		return FormatWebP, nil
	}
	return "", fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, mt.String())
}

// CheckDimensions 只读文件头拿到宽高，超过 maxPixels 直接拒绝，避免解码时按声明的尺寸分配内存
// maxPixels <= 0 时使用 DefaultMaxPixels
func CheckDimensions(data []byte, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedFormat, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// Decode 解码 jpeg / png / webp
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG jpeg 没有 alpha，调用方需要先 Flatten
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
