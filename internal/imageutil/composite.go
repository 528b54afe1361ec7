package imageutil

import (
	"image"
	"image/draw"
)

// NewCanvas allocates a premultiplied RGBA canvas of size w x h, filled
// with bg (straight-alpha color, converted to premultiplied on draw).
func NewCanvas(w, h int, bg image.Image) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), bg, image.Point{}, draw.Src)
	return canvas
}

// BlendOnto alpha-composites src onto dst at the given destination
// rectangle (back-to-front ordering is the caller's responsibility), per
// spec.md §4.6 step 2.
func BlendOnto(dst *image.RGBA, src image.Image, destRect image.Rectangle) {
	draw.Draw(dst, destRect, src, src.Bounds().Min, draw.Over)
}
