package imaging

import (
	"image"
	"image/color"
)

// Flatten 把带 alpha 的主体合成到纯色背景上，输出不透明图
func Flatten(fg image.Image, bg color.NRGBA) *image.NRGBA {
	src := ToNRGBA(fg)
	dst := image.NewNRGBA(src.Bounds())
	for i := 0; i < len(src.Pix); i += 4 {
		a := uint32(src.Pix[i+3])
		dst.Pix[i] = blend(src.Pix[i], bg.R, a)
		dst.Pix[i+1] = blend(src.Pix[i+1], bg.G, a)
		dst.Pix[i+2] = blend(src.Pix[i+2], bg.B, a)
		dst.Pix[i+3] = 255
	}
	return dst
}

// Overlay 背景图缩放到主体尺寸后，把主体按 alpha 贴上去
func Overlay(fg, bg image.Image) *image.NRGBA {
	src := ToNRGBA(fg)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := Fit(bg, w, h)
	if dst == bg {
		dst = cloneNRGBA(dst)
	}

	for i := 0; i < len(src.Pix); i += 4 {
		a := uint32(src.Pix[i+3])
		dst.Pix[i] = blend(src.Pix[i], dst.Pix[i], a)
		dst.Pix[i+1] = blend(src.Pix[i+1], dst.Pix[i+1], a)
		dst.Pix[i+2] = blend(src.Pix[i+2], dst.Pix[i+2], a)
		dst.Pix[i+3] = 255
	}
	return dst
}

// blend fg*a + bg*(1-a)，a 取值 0-255
func blend(fg, bg uint8, a uint32) uint8 {
	return uint8((uint32(fg)*a + uint32(bg)*(255-a) + 127) / 255)
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	copy(dst.Pix, img.Pix)
	return dst
}
