package captcha

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"
)

// Enhance preprocesses a challenge image for the retry attempt: grayscale,
// contrast stretch, then a light unsharp mask. Output is always PNG.
func Enhance(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode captcha image: %w", err)
	}

	gray := toGray(src)
	stretched := stretchContrast(gray)
	sharpened := sharpen(stretched)

	var buf bytes.Buffer
	if err := png.Encode(&buf, sharpened); err != nil {
		return nil, fmt.Errorf("encode enhanced image: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(src image.Image) *image.Gray {
	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// stretchContrast remaps the observed intensity range onto [0, 255]. Flat
// images (min == max) pass through unchanged.
func stretchContrast(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	lo, hi := uint8(255), uint8(0)
	for i := range src.Pix {
		v := src.Pix[i]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo >= hi {
		return src
	}

	dst := image.NewGray(bounds)
	scale := 255.0 / float64(hi-lo)
	for i := range src.Pix {
		dst.Pix[i] = uint8(float64(src.Pix[i]-lo) * scale)
	}
	return dst
}

// sharpen applies a 3x3 unsharp kernel; border pixels are copied as-is.
func sharpen(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	copy(dst.Pix, src.Pix)

	kernel := [3][3]float64{
		{0, -0.5, 0},
		{-0.5, 3, -0.5},
		{0, -0.5, 0},
	}
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			var sum float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sum += float64(src.GrayAt(x+kx, y+ky).Y) * kernel[ky+1][kx+1]
				}
			}
			if sum < 0 {
				sum = 0
			}
			if sum > 255 {
				sum = 255
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(sum)})
		}
	}
	return dst
}
