package imaging

import (
	"errors"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

var ErrNoForeground = errors.New("no foreground detected")

// ForegroundThreshold alpha 超过 5% 视为主体
const ForegroundThreshold = 0.05

// ToNRGBA 转为紧凑的 NRGBA，原点移到 (0,0)，Pix 可以按 i+=4 直接遍历
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) && nrgba.Stride == 4*nrgba.Rect.Dx() && len(nrgba.Pix) == nrgba.Stride*nrgba.Rect.Dy() {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// HasUsefulAlpha 检查图片是否已经抠过图
// alpha <= ForegroundThreshold 的像素至少占 1% 才算，零星的抗锯齿边缘不算
func HasUsefulAlpha(img *image.NRGBA) bool {
	threshold := float64(ForegroundThreshold)
	th := uint8(threshold * 255)
	n := len(img.Pix) / 4
	need := max(1, n/100)

	transparent := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] <= th {
			transparent++
			if transparent >= need {
				return true
			}
		}
	}
	return false
}

// AlphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作“主体”
func AlphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := -1, -1

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] <= th {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, ErrNoForeground
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}

// ResizeWithinMax 最长边 <= maxSize，小图原样返回
func ResizeWithinMax(img *image.NRGBA, maxSize int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	return ToNRGBA(resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3))
}

// Fit 缩放到指定尺寸（不保持比例）
func Fit(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return ToNRGBA(img)
	}
	return ToNRGBA(resize.Resize(uint(w), uint(h), img, resize.Lanczos3))
}
