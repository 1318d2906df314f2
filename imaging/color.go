package imaging

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

var ErrInvalidColor = errors.New("invalid hex color")

// 抠图后可直接使用的预设背景
var backgrounds = map[string]string{
	"white":    "#FFFFFF",
	"gray":     "#808080",
	"dark":     "#1f2937",
	"showroom": "#2d3748",
}

// 虚拟展厅背景色
var showrooms = map[string]string{
	"indoor":        "#1a1a2e",
	"outdoor":       "#87CEEB",
	"studio":        "#2d3748",
	"dark":          "#0f0f0f",
	"white":         "#f8f9fa",
	"gradient_dark": "#1a1a2e",
	"garage":        "#3d3d3d",
}

const defaultShowroom = "#2d3748"

// 透明像素合成到白底
var whiteOpaque = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// ParseHexColor 解析 #RRGGBB 或 RRGGBB
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// PresetBackground 返回预设背景色，ok 为 false 表示不是预设名
func PresetBackground(name string) (color.NRGBA, bool) {
	hex, ok := backgrounds[name]
	if !ok {
		return color.NRGBA{}, false
	}
	c, _ := ParseHexColor(hex)
	return c, true
}

// ShowroomColor 未知展厅类型回落到 studio 色
func ShowroomColor(name string) string {
	if hex, ok := showrooms[name]; ok {
		return hex
	}
	return defaultShowroom
}
