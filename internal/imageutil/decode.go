// Package imageutil provides the decode/encode/composite helpers C7
// needs: PNG/JPEG/WEBP decode into premultiplied RGBA, PNG/JPEG/TIFF
// encode, background-color parsing, and bilinear resize.
//
// Grounded on the teacher's image handling in app.go (image/png,
// image/jpeg, golang.org/x/image/tiff) and on pkg/geotiff/encode.go for
// the TIFF writer specifically.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/walkthru/tilemapserver/internal/tmserr"
	_ "golang.org/x/image/tiff"
)

// ContentType maps a format name ("png","jpg"/"jpeg","webp","pbf","tiff")
// to its HTTP Content-Type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "tiff", "tif":
		return "image/tiff"
	case "pbf", "mvt":
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}

// Decode sniffs and decodes PNG, JPEG, or WEBP bytes into a premultiplied
// RGBA image. Other codecs (registered via blank import, e.g. TIFF) are
// attempted through image.Decode as a fallback.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		img, err := nativewebp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, tmserr.Format("imageutil: decode webp", err)
		}
		return toRGBA(img), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, tmserr.Format("imageutil: decode image", err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	return ToRGBA(img)
}

// ToRGBA converts any image.Image into *image.RGBA, copying only when the
// source isn't already one. Exported for sources (e.g. geotiff) that
// decode through a codec directly rather than through Decode.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// BlankPNG returns a 1x1 fully transparent PNG, used for the "blank"
// MissingTilePolicy per spec.md §6.
func BlankPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	data, err := EncodePNG(img)
	if err != nil {
		// img is a freshly allocated 1x1 RGBA; png.Encode cannot fail on it.
		panic(err)
	}
	return data
}

// EncodePNG lossless-encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, tmserr.Format("imageutil: encode png", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG at the given quality (1-100). Alpha is
// dropped (flattened over opaque black) since JPEG has no alpha channel.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, tmserr.Format("imageutil: encode jpeg", err)
	}
	return buf.Bytes(), nil
}

// Encode dispatches to EncodePNG or EncodeJPEG (or EncodeTIFF) by
// requested content type, per spec.md §4.6/§6's supported output formats.
func Encode(w io.Writer, img image.Image, contentType string, jpegQuality int) error {
	switch contentType {
	case "image/png":
		data, err := EncodePNG(img)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "image/jpeg":
		data, err := EncodeJPEG(img, jpegQuality)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "image/tiff":
		return EncodeTIFF(w, img, nil)
	default:
		return tmserr.Protocol("imageutil: encode", fmt.Errorf("unsupported format %q", contentType))
	}
}
