package imageutil

import (
	"image"
	"image/color"
)

// ResizeBilinear scales src into a newly allocated dstW x dstH RGBA image
// using bilinear filtering, per spec.md §4.5/§4.6's required filtering
// for GeoTIFF tile synthesis and GetMap blitting.
func ResizeBilinear(src *image.RGBA, dstW, dstH int) *image.RGBA {
	srcB := src.Bounds()
	srcW, srcH := srcB.Dx(), srcB.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	if srcW == 0 || srcH == 0 || dstW == 0 || dstH == 0 {
		return dst
	}

	scaleX := float64(srcW) / float64(dstW)
	scaleY := float64(srcH) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy := (float64(dy)+0.5)*scaleY - 0.5
		y0 := int(sy)
		fy := sy - float64(y0)
		y1 := y0 + 1
		y0 = clampInt(y0, 0, srcH-1)
		y1 = clampInt(y1, 0, srcH-1)

		for dx := 0; dx < dstW; dx++ {
			sx := (float64(dx)+0.5)*scaleX - 0.5
			x0 := int(sx)
			fx := sx - float64(x0)
			x1 := x0 + 1
			x0c := clampInt(x0, 0, srcW-1)
			x1c := clampInt(x1, 0, srcW-1)

			c00 := src.RGBAAt(srcB.Min.X+x0c, srcB.Min.Y+y0)
			c10 := src.RGBAAt(srcB.Min.X+x1c, srcB.Min.Y+y0)
			c01 := src.RGBAAt(srcB.Min.X+x0c, srcB.Min.Y+y1)
			c11 := src.RGBAAt(srcB.Min.X+x1c, srcB.Min.Y+y1)

			r := bilerp(float64(c00.R), float64(c10.R), float64(c01.R), float64(c11.R), fx, fy)
			g := bilerp(float64(c00.G), float64(c10.G), float64(c01.G), float64(c11.G), fx, fy)
			b := bilerp(float64(c00.B), float64(c10.B), float64(c01.B), float64(c11.B), fx, fy)
			a := bilerp(float64(c00.A), float64(c10.A), float64(c01.A), float64(c11.A), fx, fy)

			dst.SetRGBA(dx, dy, rgbaFromFloats(r, g, b, a))
		}
	}

	return dst
}

func bilerp(c00, c10, c01, c11, fx, fy float64) float64 {
	top := c00 + (c10-c00)*fx
	bottom := c01 + (c11-c01)*fx
	return top + (bottom-top)*fy
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func rgbaFromFloats(r, g, b, a float64) color.RGBA {
	return color.RGBA{R: clampByte(r), G: clampByte(g), B: clampByte(b), A: clampByte(a)}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
