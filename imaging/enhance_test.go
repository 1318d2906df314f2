package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnhance_BrightnessOnly(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 100, G: 40, B: 200, A: 255})

	got := Enhance(img, EnhanceOptions{}).NRGBAAt(2, 2)
	assert.Equal(t, color.NRGBA{R: 105, G: 42, B: 210, A: 255}, got)
}

func TestEnhance_ColorOnGrayIsNoop(t *testing.T) {
	img := solid(3, 3, color.NRGBA{R: 120, G: 120, B: 120, A: 255})

	got := blendWith(grayscale(img), img, ColorFactor)
	assert.Equal(t, img.Pix, got.Pix)
}

func TestEnhance_ContrastSpreadsAroundMean(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	got := blendWith(meanGray(img), img, 2)
	assert.Equal(t, uint8(50), got.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(250), got.NRGBAAt(1, 0).R)
}

func TestGaussianBlur_UniformStaysUniform(t *testing.T) {
	img := solid(6, 6, color.NRGBA{R: 80, G: 90, B: 100, A: 255})

	got := GaussianBlur(img, DenoiseSigma)
	assert.Equal(t, img.Pix, got.Pix)
}

func TestGaussianBlur_SoftensSpike(t *testing.T) {
	img := solid(5, 5, color.NRGBA{A: 255})
	img.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	got := GaussianBlur(img, 1)
	center := got.NRGBAAt(2, 2).R
	neighbor := got.NRGBAAt(2, 1).R
	assert.Less(t, center, uint8(255))
	assert.Greater(t, neighbor, uint8(0))
	assert.Greater(t, center, neighbor)
}

func TestGaussianBlur_KeepsAlpha(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 100, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 100, A: 0})

	got := GaussianBlur(img, 1)
	assert.Equal(t, image.Rect(0, 0, 4, 4), got.Bounds())
	assert.Zero(t, got.NRGBAAt(1, 1).A)
	assert.Equal(t, uint8(255), got.NRGBAAt(2, 2).A)
}

func TestSmooth_KeepsBorder(t *testing.T) {
	img := solid(3, 3, color.NRGBA{A: 255})
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 130, A: 255})

	got := smooth(img)
	assert.Equal(t, uint8(255), got.NRGBAAt(0, 0).R)
	// (255*1 + 130*5) / 13
	assert.Equal(t, uint8(70), got.NRGBAAt(1, 1).R)
}

func TestToneCurve(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 64, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{R: 192, A: 255})

	got := toneCurve(img, HDRStrength)
	assert.Equal(t, uint8(0), got.NRGBAAt(0, 0).R)
	assert.Less(t, got.NRGBAAt(1, 0).R, uint8(64))
	assert.Greater(t, got.NRGBAAt(2, 0).R, uint8(192))
}

func TestEnhance_DefaultsKeepSizeAndOpaque(t *testing.T) {
	img := solid(7, 5, color.NRGBA{R: 10, G: 200, B: 30, A: 120})

	got := Enhance(img, DefaultEnhanceOptions())
	assert.Equal(t, image.Rect(0, 0, 7, 5), got.Bounds())
	for i := 3; i < len(got.Pix); i += 4 {
		assert.Equal(t, uint8(255), got.Pix[i])
	}
}
