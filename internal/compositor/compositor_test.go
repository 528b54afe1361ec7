package compositor

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tilesource"
)

// recordingSource hands back a solid-color tile whose color encodes the
// (wrapped) x it was asked for, and remembers every x it saw.
type recordingSource struct {
	seenX []int
}

func (s *recordingSource) Init(context.Context) error { return nil }

func (s *recordingSource) Configuration() config.SourceConfig {
	return config.SourceConfig{Format: "png", ContentType: "image/png"}
}

func (s *recordingSource) GetTile(_ context.Context, x, _, _ int) ([]byte, error) {
	s.seenX = append(s.seenX, x)
	img := imageutil.NewCanvas(mercator.TileSize, mercator.TileSize, &image.Uniform{C: color.RGBA{R: uint8(64 * (x + 1)), A: 255}})
	return imageutil.EncodePNG(img)
}

func validRequest() Request {
	return Request{
		Width:       256,
		Height:      256,
		BBox:        mercator.Bounds{Left: -1000, Bottom: -1000, Right: 1000, Top: 1000},
		LayerNames:  []string{"base"},
		ContentType: "image/png",
		BGColor:     color.RGBA{A: 255},
	}
}

func TestRequestValidate(t *testing.T) {
	req := validRequest()
	require.NoError(t, req.Validate())

	bad := req
	bad.Width = 0
	require.Error(t, bad.Validate())

	bad = req
	bad.Width = maxDimension + 1
	require.Error(t, bad.Validate())

	bad = req
	bad.ContentType = "image/gif"
	require.Error(t, bad.Validate())

	bad = req
	bad.BBox = mercator.Bounds{Left: 10, Bottom: 0, Right: 0, Top: 10}
	require.Error(t, bad.Validate())

	bad = req
	bad.LayerNames = nil
	require.Error(t, bad.Validate())
}

func TestZoomForRequest(t *testing.T) {
	// A bbox spanning the whole world at 256px wide should pick zoom 0.
	req := Request{
		Width:  256,
		Height: 256,
		BBox:   mercator.Bounds{Left: -mercator.Circumference / 2, Right: mercator.Circumference / 2, Bottom: -mercator.Circumference / 2, Top: mercator.Circumference / 2},
	}
	require.Equal(t, 0, zoomForRequest(req))

	// Half the world's width, same pixel width, raises the zoom by one level.
	req.BBox.Left = -mercator.Circumference / 4
	req.BBox.Right = mercator.Circumference / 4
	require.Equal(t, 1, zoomForRequest(req))
}

func TestZoomForRequestDegenerateBBox(t *testing.T) {
	req := Request{Width: 256, BBox: mercator.Bounds{Left: 10, Right: 10}}
	require.Equal(t, 0, zoomForRequest(req))
}

func TestTileDestRectCoversWholeCanvasForSingleWorldTile(t *testing.T) {
	req := Request{
		Width:  256,
		Height: 256,
		BBox:   mercator.Bounds{Left: -mercator.Circumference / 2, Right: mercator.Circumference / 2, Bottom: -mercator.Circumference / 2, Top: mercator.Circumference / 2},
	}
	rect := tileDestRect(0, 0, 0, req)
	require.Equal(t, 0, rect.Min.X)
	require.Equal(t, 0, rect.Min.Y)
	require.Equal(t, 256, rect.Max.X)
	require.Equal(t, 256, rect.Max.Y)
}

func TestTileDestRectOutsideBBoxIsEmpty(t *testing.T) {
	req := Request{
		Width:  256,
		Height: 256,
		BBox:   mercator.Bounds{Left: -mercator.Circumference / 2, Right: -mercator.Circumference / 4, Bottom: -mercator.Circumference / 2, Top: -mercator.Circumference / 4},
	}
	// Tile (1,0) at zoom 1 is the NE quadrant, far from the SW bbox above.
	rect := tileDestRect(1, 0, 1, req)
	require.True(t, rect.Empty())
}

// TestRenderAntimeridianWrapIsContinuous covers spec.md §8's boundary
// case: a bbox straddling ±Circumference/2 must stitch the continuation
// tile (true column n, source column 0) in rather than dropping it.
func TestRenderAntimeridianWrapIsContinuous(t *testing.T) {
	src := &recordingSource{}
	builder := tilesource.NewBuilder()
	require.NoError(t, builder.Add("base", src))
	reg := builder.Build()

	tileSpan := mercator.Circumference / 4
	req := Request{
		Width:  256,
		Height: 256,
		BBox: mercator.Bounds{
			Left:   mercator.Circumference/2 - 0.5*tileSpan,
			Right:  mercator.Circumference/2 + 0.5*tileSpan,
			Bottom: -mercator.Circumference / 2,
			Top:    mercator.Circumference / 2,
		},
		LayerNames:  []string{"base"},
		ContentType: "image/png",
		BGColor:     color.RGBA{A: 255},
	}

	out, err := Render(context.Background(), reg, req)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	// Both the tile bordering the seam from the west (true x=3) and the
	// wrapped continuation tile (true x=4, source x=0) must be fetched.
	require.Contains(t, src.seenX, 3)
	require.Contains(t, src.seenX, 0)
}

func TestDefaultUnknownLayerPolicy(t *testing.T) {
	require.Equal(t, UnknownLayerSkip, DefaultUnknownLayerPolicy(config.ServiceConfig{}))
	require.Equal(t, UnknownLayerSkip, DefaultUnknownLayerPolicy(config.ServiceConfig{WMSUnknownLayer: "skip"}))
	require.Equal(t, UnknownLayerError, DefaultUnknownLayerPolicy(config.ServiceConfig{WMSUnknownLayer: "error"}))
}
