package mercator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlipYInvolution(t *testing.T) {
	for z := 0; z <= 10; z++ {
		n := TileCount(z)
		for y := 0; y < n; y++ {
			require.Equal(t, y, FlipY(FlipY(y, z), z))
		}
	}
}

func TestLonLatRoundTrip(t *testing.T) {
	lats := []float64{0, 10, -10, 45, -45, 85.05112878, -85.05112878}
	lons := []float64{0, 10, -10, 179.9, -179.9}

	for _, lat := range lats {
		for _, lon := range lons {
			gotLon := Lon(X(lon))
			gotLat := Lat(Y(lat))
			require.InDelta(t, lon, gotLon, 1e-9)
			require.InDelta(t, lat, gotLat, 1e-9)
		}
	}
}

func TestTileBoundsZoom0CoversWorld(t *testing.T) {
	b := TileBounds(0, 0, 0)
	require.InDelta(t, -Circumference/2, b.Left, 1e-6)
	require.InDelta(t, Circumference/2, b.Top, 1e-6)
	require.InDelta(t, Circumference/2, b.Right, 1e-6)
	require.InDelta(t, -Circumference/2, b.Bottom, 1e-6)
}

func TestMercatorTileCoordinatesWholeWorld(t *testing.T) {
	world := Bounds{Left: -Circumference / 2, Bottom: -Circumference / 2, Right: Circumference / 2, Top: Circumference / 2}
	tiles := MercatorTileCoordinates(world, 2)
	require.Len(t, tiles, 16)
}

func TestMercatorTileCoordinatesSingleTile(t *testing.T) {
	want := TileBounds(3, 2, 4)
	// Shrink slightly so we land unambiguously inside the one tile.
	eps := 1.0
	bbox := Bounds{Left: want.Left + eps, Bottom: want.Bottom + eps, Right: want.Right - eps, Top: want.Top - eps}
	tiles := MercatorTileCoordinates(bbox, 4)
	require.Equal(t, []Tile{{X: 3, Y: 2, Z: 4}}, tiles)
}

func TestMercatorTileCoordinatesAntimeridianWrap(t *testing.T) {
	// zoom 2 has n=4, tileSpan=Circumference/4. A bbox from half a tile
	// west of the right edge to half a tile past it should cover true
	// columns 3 and 4, where column 4 is the wrapped continuation of column 0.
	tileSpan := Circumference / 4
	bbox := Bounds{
		Left:   Circumference/2 - 0.5*tileSpan,
		Right:  Circumference/2 + 0.5*tileSpan,
		Bottom: -Circumference / 2,
		Top:    Circumference / 2,
	}
	tiles := MercatorTileCoordinates(bbox, 2)

	sawX3, sawX4 := false, false
	for _, tile := range tiles {
		switch tile.X {
		case 3:
			sawX3 = true
		case 4:
			sawX4 = true
		}
	}
	require.True(t, sawX3, "expected the tile bordering the antimeridian from the west")
	require.True(t, sawX4, "expected the true (unwrapped) continuation tile past the antimeridian")

	// The continuation tile's source address wraps back to column 0.
	require.Equal(t, 0, WrapX(4, 2))
}

func TestWrapX(t *testing.T) {
	require.Equal(t, 0, WrapX(4, 2))
	require.Equal(t, 3, WrapX(-1, 2))
	require.Equal(t, 2, WrapX(2, 2))
}

func TestZoomForWidthMatchesSingleTile(t *testing.T) {
	bbox := TileBounds(0, 0, 3)
	z := ZoomForWidth(256, bbox.Right-bbox.Left)
	require.Equal(t, 3, z)
}

func TestGeographicalBounds(t *testing.T) {
	b := TileBounds(0, 0, 0)
	gb := GeographicalBounds(b)
	require.InDelta(t, -180.0, gb.MinLon, 1e-6)
	require.InDelta(t, 180.0, gb.MaxLon, 1e-6)
	require.True(t, math.Abs(gb.MaxLat-MaxLatitude) < 1e-3)
}
