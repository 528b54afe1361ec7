// Package mercator implements Web Mercator (EPSG:3857) tile arithmetic:
// tile<->coordinate conversion, tile bounds, and the tile set covering a
// bounding box. All operations are pure and safe for concurrent use.
//
// Grounded on the teacher's own Web Mercator math in
// internal/esri/tile.go (toCoordinate/Bounds/ToWgs84/ToWebMercator) and
// internal/googleearth/tile.go (WebMercatorTileBounds/PixelToLatLon),
// generalized from their provider-specific tile types to the canonical
// XYZ convention.
package mercator

import "math"

// TileSize is the fixed pixel width/height of a Web Mercator tile.
const TileSize = 256

// EarthRadius is the spherical radius used by Web Mercator, in meters.
const EarthRadius = 6378137.0

// Circumference is the Web Mercator world circumference in meters.
const Circumference = 2 * math.Pi * EarthRadius

// MaxLatitude is the latitude whose projected Y equals Circumference/2,
// which makes the projected world square; OSM/Google clamp the
// projection to this range.
const MaxLatitude = 85.05112878

// Bounds is a projected or geographic bounding box, always
// {left/minX, bottom/minY, right/maxX, top/maxY}.
type Bounds struct {
	Left, Bottom, Right, Top float64
}

// Intersects reports whether b and o overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Left < o.Right && b.Right > o.Left && b.Bottom < o.Top && b.Top > o.Bottom
}

// GeoBounds is a geographic bounding box in degrees.
type GeoBounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Tile is an XYZ (slippy map) tile coordinate: Y=0 at the north pole. X
// returned by MercatorTileCoordinates may fall outside [0, 2^Z) for a
// bbox that crosses the antimeridian; callers wrap it with WrapX at the
// point they address an actual source tile, and use it unwrapped when
// computing that tile's true projected placement (TileBounds accepts
// any integer X).
type Tile struct {
	X, Y, Z int
}

// X projects a longitude in degrees to Web Mercator meters.
func X(lonDeg float64) float64 {
	return EarthRadius * lonDeg * math.Pi / 180.0
}

// Y projects a latitude in degrees to Web Mercator meters.
func Y(latDeg float64) float64 {
	latRad := latDeg * math.Pi / 180.0
	return EarthRadius * math.Log(math.Tan(math.Pi/4+latRad/2))
}

// Lon inverts X back to a longitude in degrees.
func Lon(x float64) float64 {
	return x / EarthRadius * 180.0 / math.Pi
}

// Lat inverts Y back to a latitude in degrees.
func Lat(y float64) float64 {
	return (2*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2) * 180.0 / math.Pi
}

// TileCount returns the number of tiles per axis at zoom z: 2^z.
func TileCount(z int) int {
	return 1 << uint(z)
}

// FlipY converts between XYZ (north-origin) and TMS (south-origin) Y
// at zoom z. The conversion is its own inverse: FlipY(FlipY(y,z),z) == y.
func FlipY(y, z int) int {
	return TileCount(z) - 1 - y
}

// TileBounds returns the projected (EPSG:3857) bounds of XYZ tile (x,y,z).
func TileBounds(x, y, z int) Bounds {
	n := float64(TileCount(z))
	tileSpan := Circumference / n
	left := -Circumference/2 + float64(x)*tileSpan
	right := left + tileSpan
	top := Circumference/2 - float64(y)*tileSpan
	bottom := top - tileSpan
	return Bounds{Left: left, Bottom: bottom, Right: right, Top: top}
}

// GeographicalBounds converts projected bounds to geographic degrees.
func GeographicalBounds(b Bounds) GeoBounds {
	return GeoBounds{
		MinLon: Lon(b.Left),
		MinLat: Lat(b.Bottom),
		MaxLon: Lon(b.Right),
		MaxLat: Lat(b.Top),
	}
}

// MercatorTileCoordinates returns every XYZ tile at zoom whose extent
// intersects bbox. A point exactly on a shared tile boundary is assigned
// to the tile bordering it to the east/north, matching spec.md's
// tie-break rule: the right/top edge of a tile is treated as exclusive
// except at the grid's outer edges.
//
// X is left unclamped: a bbox crossing ±Circumference/2 (the
// antimeridian) produces true tile indices that continue past [0,n),
// e.g. x=n for the column immediately east of the edge. Callers wrap
// each with WrapX at the point they address a real source tile, per
// spec.md §8's antimeridian-wrap requirement; TileBounds itself accepts
// the raw index for placement math. Y never clamps into a wrap — there's
// no tile grid past the poles to continue into, so it's still bounded
// to [0,n).
func MercatorTileCoordinates(bbox Bounds, zoom int) []Tile {
	n := TileCount(zoom)
	tileSpan := Circumference / float64(n)
	worldLeft := -Circumference / 2
	worldTop := Circumference / 2

	minX := int(math.Floor((bbox.Left - worldLeft) / tileSpan))
	maxX := int(math.Ceil((bbox.Right-worldLeft)/tileSpan)) - 1
	minY := int(math.Floor((worldTop - bbox.Top) / tileSpan))
	maxY := int(math.Ceil((worldTop-bbox.Bottom)/tileSpan)) - 1

	if minY < 0 {
		minY = 0
	}
	if maxY > n-1 {
		maxY = n - 1
	}
	if minY > maxY {
		return nil
	}

	// A bbox wider than the whole world covers every column at most once;
	// cap the span instead of letting WrapX re-emit the same column twice.
	if maxX-minX+1 > n {
		maxX = minX + n - 1
	}
	if minX > maxX {
		return nil
	}

	tiles := make([]Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, Tile{X: x, Y: y, Z: zoom})
		}
	}
	return tiles
}

// WrapX wraps a tile X coordinate into [0, 2^z) for antimeridian-crossing
// requests, e.g. compositing a GetMap bbox that straddles ±180°.
func WrapX(x, z int) int {
	n := TileCount(z)
	x %= n
	if x < 0 {
		x += n
	}
	return x
}

// ZoomForWidth picks the zoom level at which one source tile maps to
// approximately one output pixel along the bbox's longer axis, per
// spec.md §4.6. Clamped by the caller to the source's [minZoom,maxZoom].
func ZoomForWidth(width int, bboxWidth float64) int {
	if bboxWidth <= 0 || width <= 0 {
		return 0
	}
	ratio := float64(width) / (bboxWidth * float64(TileSize) / Circumference)
	z := int(math.Round(math.Log2(ratio)))
	if z < 0 {
		z = 0
	}
	return z
}
