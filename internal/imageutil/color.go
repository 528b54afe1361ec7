package imageutil

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// ParseBackgroundColor parses a background color spec in one of three
// forms: "#RRGGBB", "0xAARRGGBB", or a named color ("white"/"black").
// alpha defaults to 0 when transparent is true, 255 otherwise, unless the
// 0x form supplies its own alpha byte. Per spec.md §4.7.
func ParseBackgroundColor(spec string, transparent bool) (color.RGBA, error) {
	defaultAlpha := uint8(255)
	if transparent {
		defaultAlpha = 0
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return color.RGBA{A: defaultAlpha}, nil
	}

	switch strings.ToLower(spec) {
	case "white":
		return color.RGBA{R: 255, G: 255, B: 255, A: defaultAlpha}, nil
	case "black":
		return color.RGBA{A: defaultAlpha}, nil
	}

	if strings.HasPrefix(spec, "#") {
		hex := spec[1:]
		if len(hex) != 6 {
			return color.RGBA{}, fmt.Errorf("imageutil: bad #RRGGBB color %q", spec)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("imageutil: bad #RRGGBB color %q: %w", spec, err)
		}
		return color.RGBA{
			R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: defaultAlpha,
		}, nil
	}

	if strings.HasPrefix(spec, "0x") || strings.HasPrefix(spec, "0X") {
		hex := spec[2:]
		if len(hex) != 8 {
			return color.RGBA{}, fmt.Errorf("imageutil: bad 0xAARRGGBB color %q", spec)
		}
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("imageutil: bad 0xAARRGGBB color %q: %w", spec, err)
		}
		return color.RGBA{
			A: uint8(v >> 24), R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v),
		}, nil
	}

	return color.RGBA{}, fmt.Errorf("imageutil: unrecognized color spec %q", spec)
}
