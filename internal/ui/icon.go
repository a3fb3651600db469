package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon(32)

// renderIcon draws a filled circle with a play triangle cut out of it.
func renderIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fg := color.NRGBA{R: 0xE8, G: 0x4A, B: 0x2F, A: 0xFF}

	c := float64(size-1) / 2
	r2 := c * c
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy > r2 {
				continue
			}
			if inPlayGlyph(float64(x), float64(y), float64(size)) {
				continue
			}
			img.SetNRGBA(x, y, fg)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func inPlayGlyph(x, y, size float64) bool {
	left, right := size*0.38, size*0.72
	top, bottom := size*0.28, size*0.72
	if x < left || x > right || y < top || y > bottom {
		return false
	}
	mid := (top + bottom) / 2
	half := (bottom - top) / 2 * (right - x) / (right - left)
	return y >= mid-half && y <= mid+half
}
