package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/tilesource"
)

type stubSource struct {
	cfg config.SourceConfig
}

func (s *stubSource) Init(ctx context.Context) error               { return nil }
func (s *stubSource) Configuration() config.SourceConfig           { return s.cfg }
func (s *stubSource) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	return nil, nil
}

func TestParseBBoxDefaultVersionPassesThrough(t *testing.T) {
	b, err := parseBBox("10,20,30,40", "1.1.1")
	require.NoError(t, err)
	require.Equal(t, 10.0, b.Left)
	require.Equal(t, 20.0, b.Bottom)
	require.Equal(t, 30.0, b.Right)
	require.Equal(t, 40.0, b.Top)
}

func TestParseBBoxWMS130SwapsGeographicAxisOrder(t *testing.T) {
	// 1.3.0 geographic order is minLat,minLon,maxLat,maxLon.
	b, err := parseBBox("-10,-20,10,20", "1.3.0")
	require.NoError(t, err)
	require.InDelta(t, -20.0*111319.49, b.Left, 1.0)
	require.InDelta(t, 20.0*111319.49, b.Right, 1.0)
	require.True(t, b.Bottom < 0)
	require.True(t, b.Top > 0)
}

func TestParseBBoxRejectsMalformed(t *testing.T) {
	_, err := parseBBox("1,2,3", "1.1.1")
	require.Error(t, err)

	_, err = parseBBox("a,b,c,d", "1.1.1")
	require.Error(t, err)
}

func TestParseZXY(t *testing.T) {
	z, x, y, err := parseZXY("4", "2", "9")
	require.NoError(t, err)
	require.Equal(t, 4, z)
	require.Equal(t, 2, x)
	require.Equal(t, 9, y)

	_, _, _, err = parseZXY("4", "x", "9")
	require.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "a", firstNonEmpty("", "a", "b"))
	require.Equal(t, "", firstNonEmpty())
	require.Equal(t, "fallback", firstNonEmpty("", "", "fallback"))
}

func TestSortedIDs(t *testing.T) {
	b := tilesource.NewBuilder()
	require.NoError(t, b.Add("zeta", &stubSource{cfg: config.SourceConfig{ID: "zeta"}}))
	require.NoError(t, b.Add("alpha", &stubSource{cfg: config.SourceConfig{ID: "alpha"}}))
	reg := b.Build()

	require.Equal(t, []string{"alpha", "zeta"}, sortedIDs(reg))
}

func TestCapabilityLayerForAppliesDefaults(t *testing.T) {
	l := capabilityLayerFor(config.SourceConfig{ID: "base"})
	require.Equal(t, "base", l.Title)
	require.Equal(t, 22, l.MaxZoom)
}

func TestWriteTileResponseSetsGzipEncodingForMBTilesPBF(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	cfg := config.SourceConfig{Type: config.TypeMBTiles, ContentType: imageutil.ContentType("pbf")}

	s.writeTileResponse(rec, cfg, []byte("gzipped-mvt-bytes"), nil)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	require.Equal(t, imageutil.ContentType("pbf"), rec.Header().Get("Content-Type"))
}

func TestWriteTileResponseOmitsGzipEncodingForNonMBTilesPBF(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	cfg := config.SourceConfig{Type: config.TypePostGIS, ContentType: "application/vnd.mapbox-vector-tile"}

	s.writeTileResponse(rec, cfg, []byte("raw-mvt-bytes"), nil)

	require.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestWriteTileResponseOmitsGzipEncodingForMBTilesRaster(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	cfg := config.SourceConfig{Type: config.TypeMBTiles, ContentType: "image/png"}

	s.writeTileResponse(rec, cfg, []byte("png-bytes"), nil)

	require.Empty(t, rec.Header().Get("Content-Encoding"))
}
