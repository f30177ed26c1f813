package estimate

import (
	"image"
	"image/color/palette"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// quantizeSample dithers onto the stdlib's fixed 256-color
// image/color/palette.Plan9 palette (or its first 64 entries for the
// tighter tier), the same approximation optimize.bmpOptimizer uses: no
// median-cut quantizer exists anywhere in the retrieved pack.
func quantizeSample(img image.Image, quality int) *image.Paletted {
	pal := palette.Plan9
	if quality < 50 {
		pal = palette.Plan9[:64]
	}
	b := img.Bounds()
	dst := image.NewPaletted(b, pal)
	draw.FloydSteinberg.Draw(dst, b, img, b.Min)
	return dst
}

func bmpEncode(w io.Writer, img image.Image) error {
	return bmp.Encode(w, img)
}
