package imageutil

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBackgroundColor(t *testing.T) {
	c, err := ParseBackgroundColor("#FF8800", false)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 0xFF, G: 0x88, B: 0x00, A: 255}, c)

	c, err = ParseBackgroundColor("0x80FF8800", false)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{A: 0x80, R: 0xFF, G: 0x88, B: 0x00}, c)

	c, err = ParseBackgroundColor("white", false)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, c)

	c, err = ParseBackgroundColor("", true)
	require.NoError(t, err)
	require.Equal(t, uint8(0), c.A)

	_, err = ParseBackgroundColor("not-a-color", false)
	require.Error(t, err)
}

func TestPNGRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 1, A: 255})
		}
	}

	data, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), decoded.Bounds())
	require.Equal(t, img.RGBAAt(2, 3), decoded.RGBAAt(2, 3))
}

func TestEncodeTIFFProducesValidHeader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf []byte
	w := &sliceWriter{buf: &buf}
	require.NoError(t, EncodeTIFF(w, img, nil))
	require.True(t, len(buf) > 8)
	require.Equal(t, []byte{'I', 'I', 0x2A, 0x00}, buf[:4])
}

func TestResizeBilinearDimensions(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	out := ResizeBilinear(src, 16, 8)
	require.Equal(t, 16, out.Bounds().Dx())
	require.Equal(t, 8, out.Bounds().Dy())
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
