package imaging

import (
	"image"

	dimaging "github.com/disintegration/imaging"
)

// 增强系数，和 PIL ImageEnhance 一致：out = degenerate + factor * (img - degenerate)
const (
	ColorFactor      = 1.15
	ContrastFactor   = 1.1
	SharpnessFactor  = 1.2
	BrightnessFactor = 1.05
	DenoiseSigma     = 0.5
	HDRStrength      = 0.5
)

type EnhanceOptions struct {
	AutoColor bool
	Contrast  bool
	Denoise   bool
	Sharpen   bool
	HDR       bool
}

// DefaultEnhanceOptions 对应接口的默认值
func DefaultEnhanceOptions() EnhanceOptions {
	return EnhanceOptions{AutoColor: true, Contrast: true, Denoise: true, Sharpen: true}
}

// Enhance 依次做 色彩 → 对比度 → 降噪 → 锐化 → HDR → 亮度，输出不透明 NRGBA
func Enhance(img image.Image, opts EnhanceOptions) *image.NRGBA {
	out := Flatten(img, whiteOpaque)

	if opts.AutoColor {
		out = blendWith(grayscale(out), out, ColorFactor)
	}
	if opts.Contrast {
		out = blendWith(meanGray(out), out, ContrastFactor)
	}
	if opts.Denoise {
		out = GaussianBlur(out, DenoiseSigma)
	}
	if opts.Sharpen {
		out = blendWith(smooth(out), out, SharpnessFactor)
	}
	if opts.HDR {
		out = toneCurve(out, HDRStrength)
	}
	return blendWith(image.NewNRGBA(out.Rect), out, BrightnessFactor)
}

// blendWith 按系数在 degenerate 和原图之间插值（>1 为外推增强）
func blendWith(degenerate, img *image.NRGBA, factor float64) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(degenerate.Pix[i+c])
			dst.Pix[i+c] = clamp(d + factor*(float64(img.Pix[i+c])-d))
		}
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

func luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*299 + uint32(g)*587 + uint32(b)*114 + 500) / 1000)
}

func grayscale(img *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	for i := 0; i < len(img.Pix); i += 4 {
		l := luma(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = l, l, l, 255
	}
	return dst
}

// meanGray 整图平均亮度填充
func meanGray(img *image.NRGBA) *image.NRGBA {
	var sum uint64
	n := len(img.Pix) / 4
	for i := 0; i < len(img.Pix); i += 4 {
		sum += uint64(luma(img.Pix[i], img.Pix[i+1], img.Pix[i+2]))
	}
	mean := uint8(0)
	if n > 0 {
		mean = uint8(float64(sum)/float64(n) + 0.5)
	}

	dst := image.NewNRGBA(img.Rect)
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = mean, mean, mean, 255
	}
	return dst
}

// smooth 3x3 SMOOTH 卷积，边缘像素保持原值
func smooth(img *image.NRGBA) *image.NRGBA {
	kernel := [3][3]int{
		{1, 1, 1},
		{1, 5, 1},
		{1, 1, 1},
	}
	const scale = 13

	w, h := img.Rect.Dx(), img.Rect.Dy()
	dst := cloneNRGBA(img)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			var sum [3]int
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					off := (y+ky)*img.Stride + (x+kx)*4
					k := kernel[ky+1][kx+1]
					sum[0] += int(img.Pix[off]) * k
					sum[1] += int(img.Pix[off+1]) * k
					sum[2] += int(img.Pix[off+2]) * k
				}
			}
			off := y*dst.Stride + x*4
			for c := 0; c < 3; c++ {
				dst.Pix[off+c] = uint8((sum[c] + scale/2) / scale)
			}
		}
	}
	return dst
}

// GaussianBlur 高斯模糊降噪，alpha 保持不变
func GaussianBlur(img *image.NRGBA, sigma float64) *image.NRGBA {
	if sigma <= 0 {
		return cloneNRGBA(img)
	}
	dst := dimaging.Blur(img, sigma)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = img.Pix[i]
	}
	return dst
}

// toneCurve 轻 S 曲线（smoothstep），按 strength 与原图混合，提亮高光压暗阴影
func toneCurve(img *image.NRGBA, strength float64) *image.NRGBA {
	var lut [256]uint8
	for i := 0; i < 256; i++ {
		x := float64(i) / 255.0
		y := x * x * (3 - 2*x)
		lut[i] = clamp(float64(i) + strength*(y*255-float64(i)))
	}

	dst := image.NewNRGBA(img.Rect)
	for i := 0; i < len(img.Pix); i += 4 {
		dst.Pix[i] = lut[img.Pix[i]]
		dst.Pix[i+1] = lut[img.Pix[i+1]]
		dst.Pix[i+2] = lut[img.Pix[i+2]]
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
