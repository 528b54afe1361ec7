// Package geotiff implements C4g: a single tiled GeoTIFF treated as a
// zoom-agnostic raster source that synthesizes 256x256 EPSG:3857 tiles
// on demand, per spec.md §4.5.
//
// Grounded on two pack files: the GeoKey/tag scan is adapted from
// other_examples' arihant-dev-forest-bd-viewer geotiff.go (hand-rolled
// IFD entry walk restricted to the tags we need: ModelPixelScale,
// ModelTiepoint, GeoKeyDirectory, PlanarConfiguration, TileWidth), and
// the pixel decode itself is delegated to golang.org/x/image/tiff
// (already wired by the teacher in app.go / internal/imageutil) rather
// than hand-rolling tile-by-tile LZW/Deflate decompression, since Go's
// standard TIFF decoder already handles CONTIG tiled images correctly
// and no pack example exposes a random-access tile reader we could
// adapt instead (see DESIGN.md).
package geotiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"

	_ "golang.org/x/image/tiff"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

// GeoKey IDs we recognize (GeoTIFF spec §6.2).
const (
	keyGTModelType       = 1024
	keyGTRasterType      = 1025
	keyGeographicType    = 2048
	keyGeogAngularUnits  = 2054
	keyProjectedCSType   = 3072
	keyProjLinearUnits   = 3076
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2

	angularUnitDegree = 9102
	linearUnitMeter   = 9001

	epsgWGS84      = 4326
	epsgWebMercator = 3857
)

// TIFF tags.
const (
	tagPlanarConfig       = 284
	tagTileWidth          = 322
	tagModelPixelScaleTag = 33550
	tagModelTiepointTag   = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectoryTag = 34735
)

const (
	dtByte   = 1
	dtShort  = 3
	dtLong   = 4
	dtDouble = 12
)

const planarConfigContig = 1

// rasterInfo holds the georeferencing facts derived from the TIFF
// header, per spec.md §3's "Raster properties (GeoTIFF)".
type rasterInfo struct {
	srid                int
	imageWidth          int
	imageHeight         int
	pixelWidthMeters    float64 // per-pixel size in EPSG:3857 meters
	pixelHeightMeters   float64
	projectedBounds     mercator.Bounds
	geographicalBounds  mercator.GeoBounds
}

const defaultPoolSize = 4

// Source synthesizes tiles from a single tiled GeoTIFF file.
type Source struct {
	cfg config.SourceConfig

	mu    sync.Mutex // guards img; decode happens once, reads are safe without a lock thereafter
	img   *image.RGBA
	info  rasterInfo

	minZoom int
	maxZoom int

	// sem bounds the number of concurrent crop/resize/encode operations
	// against the decoded raster, per SPEC_FULL.md's Service.GeotiffPoolSize
	// (the in-memory equivalent of the teacher's worker-pool sizing, since
	// there's no file handle to pool once the raster is fully decoded).
	sem chan struct{}
}

// New returns an unopened GeoTIFF source for cfg, limiting concurrent
// tile synthesis to poolSize in-flight operations (0 or negative uses
// the default).
func New(cfg config.SourceConfig, poolSize int) *Source {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &Source{cfg: cfg, sem: make(chan struct{}, poolSize)}
}

// Init parses the TIFF directory and GeoKeys, validates the restricted
// configuration spec.md §4.5 requires, and decodes the full raster into
// memory as premultiplied RGBA.
func (s *Source) Init(ctx context.Context) error {
	data, err := os.ReadFile(s.cfg.Location)
	if err != nil {
		return tmserr.BackendInit("geotiff: read file", err)
	}

	info, err := parseGeoTags(data)
	if err != nil {
		return tmserr.Format("geotiff: parse header", err)
	}
	s.info = info

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return tmserr.Format("geotiff: decode pixels", err)
	}
	s.img = imageutil.ToRGBA(img)

	if s.img.Bounds().Dx() != info.imageWidth || s.img.Bounds().Dy() != info.imageHeight {
		return tmserr.Format("geotiff: decoded image dimensions disagree with header", fmt.Errorf(
			"header %dx%d, decoded %dx%d", info.imageWidth, info.imageHeight, s.img.Bounds().Dx(), s.img.Bounds().Dy()))
	}

	// Native zoom: the level at which a source pixel maps ~1:1 to an
	// output pixel; over/under-zoom a few levels beyond it.
	native := mercator.ZoomForWidth(mercator.TileSize, info.pixelWidthMeters*mercator.TileSize)
	s.minZoom = 0
	s.maxZoom = native + 4
	if s.cfg.MinZoom != nil {
		s.minZoom = *s.cfg.MinZoom
	}
	if s.cfg.MaxZoom != nil {
		s.maxZoom = *s.cfg.MaxZoom
	}

	if s.cfg.Format == "" {
		s.cfg.Format = "png"
	}
	if s.cfg.ContentType == "" {
		s.cfg.ContentType = imageutil.ContentType(s.cfg.Format)
	}
	s.cfg.SRS = "EPSG:3857"
	s.cfg.GeoBounds = &info.geographicalBounds

	return nil
}

// Configuration returns the post-init source record.
func (s *Source) Configuration() config.SourceConfig { return s.cfg }

// GetTile synthesizes the 256x256 EPSG:3857 tile at (x,y,z) by cropping
// and resampling the in-memory raster, per spec.md §4.5 steps 1-6.
func (s *Source) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	if z < s.minZoom || z > s.maxZoom {
		return nil, nil
	}

	requested := mercator.TileBounds(x, y, z)
	if !requested.Intersects(s.info.projectedBounds) {
		return nil, nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	img := s.img
	info := s.info
	s.mu.Unlock()

	srcRect, ok := pixelRectForBounds(requested, info)
	if !ok {
		return nil, nil
	}

	scratch := image.NewRGBA(image.Rect(0, 0, srcRect.Dx(), srcRect.Dy()))
	for row := 0; row < srcRect.Dy(); row++ {
		for col := 0; col < srcRect.Dx(); col++ {
			scratch.Set(col, row, img.At(srcRect.Min.X+col, srcRect.Min.Y+row))
		}
	}

	out := imageutil.ResizeBilinear(scratch, mercator.TileSize, mercator.TileSize)

	var buf bytes.Buffer
	if err := imageutil.Encode(&buf, out, s.cfg.ContentType, 85); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetImagePart is the GeoTIFF in-process path the WMS compositor (C6)
// calls directly instead of going through GetTile/zoom selection: it
// renders exactly the requested bbox into a width x height image,
// filling any area outside the raster's bounds with bg.
func (s *Source) GetImagePart(ctx context.Context, width, height int, bbox mercator.Bounds, bg color.RGBA) (*image.RGBA, error) {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = bg.R
		out.Pix[i+1] = bg.G
		out.Pix[i+2] = bg.B
		out.Pix[i+3] = bg.A
	}

	if !bbox.Intersects(s.info.projectedBounds) {
		return out, nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	img := s.img
	info := s.info
	s.mu.Unlock()

	srcRect, ok := pixelRectForBounds(bbox, info)
	if !ok {
		return out, nil
	}

	scratch := image.NewRGBA(image.Rect(0, 0, srcRect.Dx(), srcRect.Dy()))
	for row := 0; row < srcRect.Dy(); row++ {
		for col := 0; col < srcRect.Dx(); col++ {
			scratch.Set(col, row, img.At(srcRect.Min.X+col, srcRect.Min.Y+row))
		}
	}
	pb, sx, sy := info.projectedBounds, float64(width)/(bbox.Right-bbox.Left), float64(height)/(bbox.Top-bbox.Bottom)
	dest := image.Rect(
		int(math.Round((pb.Left+float64(srcRect.Min.X)*info.pixelWidthMeters-bbox.Left)*sx)),
		int(math.Round((bbox.Top-pb.Top+float64(srcRect.Min.Y)*info.pixelHeightMeters)*sy)),
		int(math.Round((pb.Left+float64(srcRect.Max.X)*info.pixelWidthMeters-bbox.Left)*sx)),
		int(math.Round((bbox.Top-pb.Top+float64(srcRect.Max.Y)*info.pixelHeightMeters)*sy)))
	imageutil.BlendOnto(out, imageutil.ResizeBilinear(scratch, dest.Dx(), dest.Dy()), dest)
	return out, nil
}

// pixelRectForBounds converts EPSG:3857 bounds into a clipped pixel
// rectangle within the decoded raster. Row 0 is north per the header's
// tie-point convention, matching the decoded image's row order, so no
// per-tile flip is needed (spec.md §4.5's closing note).
func pixelRectForBounds(b mercator.Bounds, info rasterInfo) (image.Rectangle, bool) {
	left := info.projectedBounds.Left
	top := info.projectedBounds.Top

	minCol := int(math.Floor((b.Left - left) / info.pixelWidthMeters))
	maxCol := int(math.Ceil((b.Right - left) / info.pixelWidthMeters))
	minRow := int(math.Floor((top - b.Top) / info.pixelHeightMeters))
	maxRow := int(math.Ceil((top - b.Bottom) / info.pixelHeightMeters))

	if minCol < 0 {
		minCol = 0
	}
	if minRow < 0 {
		minRow = 0
	}
	if maxCol > info.imageWidth {
		maxCol = info.imageWidth
	}
	if maxRow > info.imageHeight {
		maxRow = info.imageHeight
	}
	if minCol >= maxCol || minRow >= maxRow {
		return image.Rectangle{}, false
	}
	return image.Rect(minCol, minRow, maxCol, maxRow), true
}

// --- header/GeoKey parsing ---

type ifdEntry struct {
	tag   uint16
	dtype uint16
	count uint32
	value uint32 // raw 4-byte value/offset field, in file byte order
}

func parseGeoTags(data []byte) (rasterInfo, error) {
	if len(data) < 8 {
		return rasterInfo{}, fmt.Errorf("file too short")
	}

	var bo binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return rasterInfo{}, fmt.Errorf("not a TIFF (bad byte order marker)")
	}
	if bo.Uint16(data[2:4]) != 42 {
		return rasterInfo{}, fmt.Errorf("not a TIFF (bad magic)")
	}

	ifdOffset := bo.Uint32(data[4:8])
	if int(ifdOffset)+2 > len(data) {
		return rasterInfo{}, fmt.Errorf("IFD offset out of range")
	}

	numEntries := int(bo.Uint16(data[ifdOffset:]))
	entries := make([]ifdEntry, numEntries)
	pos := int(ifdOffset) + 2
	for i := 0; i < numEntries; i++ {
		if pos+12 > len(data) {
			return rasterInfo{}, fmt.Errorf("truncated IFD entry")
		}
		entries[i] = ifdEntry{
			tag:   bo.Uint16(data[pos:]),
			dtype: bo.Uint16(data[pos+2:]),
			count: bo.Uint32(data[pos+4:]),
			value: bo.Uint32(data[pos+8:]),
		}
		pos += 12
	}

	find := func(tag uint16) *ifdEntry {
		for i := range entries {
			if entries[i].tag == tag {
				return &entries[i]
			}
		}
		return nil
	}

	width := int(scalarValue(find(256), data, bo))  // ImageWidth
	height := int(scalarValue(find(257), data, bo)) // ImageLength
	if width == 0 || height == 0 {
		return rasterInfo{}, fmt.Errorf("zero image dimensions")
	}

	if find(tagTileWidth) == nil {
		return rasterInfo{}, fmt.Errorf("not tiled: TileWidth tag absent")
	}
	if e := find(tagPlanarConfig); e != nil {
		if planar := scalarValue(e, data, bo); planar != 0 && planar != planarConfigContig {
			return rasterInfo{}, fmt.Errorf("unsupported PlanarConfiguration %d", planar)
		}
	}
	if find(tagModelTransform) != nil {
		return rasterInfo{}, fmt.Errorf("ModelTransformation tag present, unsupported")
	}

	scales := float64Array(find(tagModelPixelScaleTag), data, bo)
	tiepoints := float64Array(find(tagModelTiepointTag), data, bo)
	if len(scales) < 2 || len(tiepoints) < 6 {
		return rasterInfo{}, fmt.Errorf("missing ModelPixelScale/ModelTiepoint")
	}
	if len(tiepoints) != 6 {
		return rasterInfo{}, fmt.Errorf("expected exactly one tie point, got %d coordinates", len(tiepoints)/6)
	}
	i, j, k2 := tiepoints[0], tiepoints[1], tiepoints[2]
	if i != 0 || j != 0 || k2 != 0 {
		return rasterInfo{}, fmt.Errorf("tie point must be at raster origin (0,0,0)")
	}
	originX, originY := tiepoints[3], tiepoints[4]
	pixelW, pixelH := scales[0], scales[1]

	geoKeys := uint16Array(find(tagGeoKeyDirectoryTag), data, bo)
	if len(geoKeys) < 4 {
		return rasterInfo{}, fmt.Errorf("missing GeoKeyDirectory")
	}
	keys := parseGeoKeys(geoKeys)

	modelType := keys[keyGTModelType]
	var srid int
	switch modelType {
	case modelTypeGeographic:
		if keys[keyGeographicType] != epsgWGS84 {
			return rasterInfo{}, fmt.Errorf("geographic model requires EPSG:4326, got %d", keys[keyGeographicType])
		}
		if u, ok := keys[keyGeogAngularUnits]; ok && u != angularUnitDegree {
			return rasterInfo{}, fmt.Errorf("unsupported angular unit %d", u)
		}
		srid = epsgWGS84
	case modelTypeProjected:
		if keys[keyProjectedCSType] != epsgWebMercator {
			return rasterInfo{}, fmt.Errorf("projected model requires EPSG:3857, got %d", keys[keyProjectedCSType])
		}
		if u, ok := keys[keyProjLinearUnits]; ok && u != linearUnitMeter {
			return rasterInfo{}, fmt.Errorf("unsupported linear unit %d", u)
		}
		srid = epsgWebMercator
	default:
		return rasterInfo{}, fmt.Errorf("unsupported GTModelTypeGeoKey %d", modelType)
	}

	info := rasterInfo{
		srid:        srid,
		imageWidth:  width,
		imageHeight: height,
	}

	if srid == epsgWebMercator {
		info.pixelWidthMeters = pixelW
		info.pixelHeightMeters = pixelH
		info.projectedBounds = mercator.Bounds{
			Left:   originX,
			Top:    originY,
			Right:  originX + float64(width)*pixelW,
			Bottom: originY - float64(height)*pixelH,
		}
	} else {
		// Geographic (degrees): convert the corners through Web Mercator
		// and derive per-pixel meters from the projected width/height.
		minLon := originX
		maxLat := originY
		maxLon := originX + float64(width)*pixelW
		minLat := originY - float64(height)*pixelH
		left := mercator.X(minLon)
		right := mercator.X(maxLon)
		top := mercator.Y(maxLat)
		bottom := mercator.Y(minLat)
		info.projectedBounds = mercator.Bounds{Left: left, Top: top, Right: right, Bottom: bottom}
		info.pixelWidthMeters = (right - left) / float64(width)
		info.pixelHeightMeters = (top - bottom) / float64(height)
	}
	info.geographicalBounds = mercator.GeographicalBounds(info.projectedBounds)

	return info, nil
}

func parseGeoKeys(raw []uint16) map[uint16]uint16 {
	keys := make(map[uint16]uint16)
	numKeys := int(raw[3])
	for k := 0; k < numKeys; k++ {
		base := 4 + k*4
		if base+3 >= len(raw) {
			break
		}
		keyID := raw[base]
		loc := raw[base+1]
		value := raw[base+3]
		if loc == 0 { // value stored inline as a SHORT
			keys[keyID] = value
		}
	}
	return keys
}

func typeSize(dtype uint16) int {
	switch dtype {
	case dtByte:
		return 1
	case dtShort:
		return 2
	case dtLong:
		return 4
	case dtDouble:
		return 8
	default:
		return 1
	}
}

// scalarValue returns a SHORT/LONG entry's single value, handling both
// the inline (<=4 bytes) and offset-indirected encodings.
func scalarValue(e *ifdEntry, data []byte, bo binary.ByteOrder) uint32 {
	if e == nil {
		return 0
	}
	switch e.dtype {
	case dtShort:
		if e.count == 1 {
			buf := make([]byte, 4)
			bo.PutUint32(buf, e.value)
			return uint32(bo.Uint16(buf))
		}
	case dtLong:
		if e.count == 1 {
			return e.value
		}
	}
	if int(e.value)+typeSize(e.dtype) > len(data) {
		return e.value
	}
	if e.dtype == dtShort {
		return uint32(bo.Uint16(data[e.value:]))
	}
	return bo.Uint32(data[e.value:])
}

// float64Array reads a DOUBLE array entry (always offset-indirected:
// 3+ doubles never fit inline).
func float64Array(e *ifdEntry, data []byte, bo binary.ByteOrder) []float64 {
	if e == nil || e.dtype != dtDouble {
		return nil
	}
	n := int(e.count)
	off := int(e.value)
	if off+n*8 > len(data) {
		return nil
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := bo.Uint64(data[off+i*8:])
		out[i] = math.Float64frombits(bits)
	}
	return out
}

// uint16Array reads a SHORT array entry (the GeoKeyDirectory).
func uint16Array(e *ifdEntry, data []byte, bo binary.ByteOrder) []uint16 {
	if e == nil || e.dtype != dtShort {
		return nil
	}
	n := int(e.count)
	sz := n * 2
	var src []byte
	if sz <= 4 {
		buf := make([]byte, 4)
		bo.PutUint32(buf, e.value)
		src = buf
	} else {
		off := int(e.value)
		if off+sz > len(data) {
			return nil
		}
		src = data[off:]
	}
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = bo.Uint16(src[i*2:])
	}
	return out
}
