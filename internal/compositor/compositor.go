// Package compositor implements C6: the WMS GetMap compositor, turning
// (bbox, size, layers) into one stitched image. Grounded on the
// teacher's internal/imagery/downloader.go worker-pool-and-stitch shape
// (fetch many tiles, composite in order, encode once), generalized from
// a fixed export-grid download to an arbitrary-bbox, arbitrary-zoom
// request.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tilesource"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

const (
	maxDimension = 32768
	earthCircumference = mercator.Circumference
)

// UnknownLayerPolicy controls GetMap's behavior when a requested layer
// name isn't in the registry, per spec.md §9's open question.
type UnknownLayerPolicy string

const (
	UnknownLayerSkip  UnknownLayerPolicy = "skip"
	UnknownLayerError UnknownLayerPolicy = "error"
)

// Request describes a validated GetMap call.
type Request struct {
	Width, Height int
	BBox          mercator.Bounds
	LayerNames    []string
	ContentType   string // "image/png", "image/jpeg", "image/tiff"
	Transparent   bool
	BGColor       color.RGBA
	JpegQuality   int
	UnknownLayer  UnknownLayerPolicy
}

// imagePartSource is implemented by sources (only geotiff today) that
// can render an arbitrary bbox directly instead of through discrete
// z/x/y tiles, per spec.md §4.6 step 2's GeoTIFF in-process path.
type imagePartSource interface {
	GetImagePart(ctx context.Context, width, height int, bbox mercator.Bounds, bg color.RGBA) (*image.RGBA, error)
}

// Validate checks req against spec.md §4.6's GetMap invariants.
func (r Request) Validate() error {
	if r.Width < 1 || r.Width > maxDimension || r.Height < 1 || r.Height > maxDimension {
		return fmt.Errorf("width/height must be in [1,%d]", maxDimension)
	}
	switch r.ContentType {
	case "image/png", "image/jpeg", "image/tiff":
	default:
		return fmt.Errorf("unsupported format %q", r.ContentType)
	}
	if !(r.BBox.Left < r.BBox.Right) || !(r.BBox.Bottom < r.BBox.Top) {
		return fmt.Errorf("bbox must have minX<maxX and minY<maxY")
	}
	if len(r.LayerNames) == 0 {
		return fmt.Errorf("layers must be non-empty")
	}
	return nil
}

// Render performs the full GetMap pipeline: validate, composite every
// layer back-to-front, encode. Any BackendError from an inner tile
// fetch aborts the whole response.
func Render(ctx context.Context, reg *tilesource.Registry, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, tmserr.Protocol("compositor: validate GetMap request", err)
	}

	// BGColor holds straight (non-premultiplied) alpha, as
	// imageutil.ParseBackgroundColor returns it.
	canvas := imageutil.NewCanvas(req.Width, req.Height, &image.Uniform{C: color.NRGBA(req.BGColor)})

	for _, name := range req.LayerNames {
		entry, ok := reg.Lookup(name)
		if !ok {
			if req.UnknownLayer == UnknownLayerError {
				return nil, tmserr.Protocol("compositor: GetMap", fmt.Errorf("unknown layer %q", name))
			}
			log.Printf("compositor: GetMap skipping unknown layer %q", name)
			continue
		}

		if err := renderLayer(ctx, entry, req, canvas); err != nil {
			return nil, err
		}
	}

	return encode(canvas, req)
}

func renderLayer(ctx context.Context, entry *tilesource.Entry, req Request, canvas *image.RGBA) error {
	if ips, ok := entry.Source.(imagePartSource); ok {
		part, err := ips.GetImagePart(ctx, req.Width, req.Height, req.BBox, req.BGColor)
		if err != nil {
			return tmserr.Backend("compositor: GeoTIFF GetImagePart", err)
		}
		imageutil.BlendOnto(canvas, part, image.Rect(0, 0, req.Width, req.Height))
		return nil
	}

	cfg := entry.Source.Configuration()
	zoom := zoomForRequest(req)
	if minZ := cfg.MinZoom; minZ != nil && zoom < *minZ {
		zoom = *minZ
	}
	if maxZ := cfg.MaxZoom; maxZ != nil && zoom > *maxZ {
		zoom = *maxZ
	}

	tiles := mercator.MercatorTileCoordinates(req.BBox, zoom)

	for _, t := range tiles {
		// t.X may lie outside [0, 2^zoom) for a bbox crossing the
		// antimeridian; wrap only for addressing the real source tile,
		// not for placement below, which needs the true continued index.
		wrappedX := mercator.WrapX(t.X, zoom)
		data, err := entry.GetTile(ctx, wrappedX, t.Y, zoom)
		if err != nil {
			return tmserr.Backend("compositor: fetch tile", err)
		}
		if data == nil {
			continue
		}

		tileImg, err := imageutil.Decode(data)
		if err != nil {
			return tmserr.Format("compositor: decode tile", err)
		}

		destRect := tileDestRect(t.X, t.Y, zoom, req)
		if destRect.Empty() {
			continue
		}
		scaled := imageutil.ResizeBilinear(tileImg, destRect.Dx(), destRect.Dy())
		imageutil.BlendOnto(canvas, scaled, destRect)
	}

	return nil
}

// zoomForRequest picks the zoom level so one source tile maps to
// roughly one output pixel along the wider axis, per spec.md §4.6:
// zoom = round(log2(width / ((bbox.right-bbox.left) * 256 / circumference))).
func zoomForRequest(req Request) int {
	bboxWidth := req.BBox.Right - req.BBox.Left
	if bboxWidth <= 0 {
		return 0
	}
	ratio := float64(req.Width) / (bboxWidth * float64(mercator.TileSize) / earthCircumference)
	zoom := int(math.Round(math.Log2(ratio)))
	if zoom < 0 {
		zoom = 0
	}
	return zoom
}

// tileDestRect maps XYZ tile (x,y,z)'s projected bounds into the
// request's output pixel space. x is the tile's true (possibly
// antimeridian-continued) index, not the wrapped source-fetch index, so
// a continuation tile past ±Circumference/2 still lands adjacent to its
// neighbor instead of snapping back to tile 0's position.
func tileDestRect(x, y, zoom int, req Request) image.Rectangle {
	tb := mercator.TileBounds(x, y, zoom)

	bboxWidth := req.BBox.Right - req.BBox.Left
	bboxHeight := req.BBox.Top - req.BBox.Bottom
	if bboxWidth <= 0 || bboxHeight <= 0 {
		return image.Rectangle{}
	}

	sx := float64(req.Width) / bboxWidth
	sy := float64(req.Height) / bboxHeight

	minX := int(math.Round((tb.Left - req.BBox.Left) * sx))
	maxX := int(math.Round((tb.Right - req.BBox.Left) * sx))
	minY := int(math.Round((req.BBox.Top - tb.Top) * sy))
	maxY := int(math.Round((req.BBox.Top - tb.Bottom) * sy))

	r := image.Rect(minX, minY, maxX, maxY).Intersect(image.Rect(0, 0, req.Width, req.Height))
	return r
}

func encode(canvas *image.RGBA, req Request) ([]byte, error) {
	var buf []byte
	w := &byteSliceWriter{buf: &buf}
	if err := imageutil.Encode(w, canvas, req.ContentType, req.JpegQuality); err != nil {
		return nil, err
	}
	return buf, nil
}

type byteSliceWriter struct {
	buf *[]byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// DefaultUnknownLayerPolicy maps the configured service-wide string to
// the typed policy, defaulting to "skip" per the Open Question
// resolution in DESIGN.md.
func DefaultUnknownLayerPolicy(cfg config.ServiceConfig) UnknownLayerPolicy {
	if cfg.WMSUnknownLayer == string(UnknownLayerError) {
		return UnknownLayerError
	}
	return UnknownLayerSkip
}
