package postgis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walkthru/tilemapserver/internal/config"
)

func TestInitRequiresPostGISBlock(t *testing.T) {
	s := New(config.SourceConfig{ID: "vec", Type: config.TypePostGIS})
	err := s.Init(context.Background())
	require.Error(t, err)
}

func TestInitRequiresTableAndGeometry(t *testing.T) {
	s := New(config.SourceConfig{
		ID: "vec", Type: config.TypePostGIS,
		PostGIS: &config.PostGISConfig{DSN: "postgres://localhost/db"},
	})
	err := s.Init(context.Background())
	require.Error(t, err)
}

func TestInitRequiresDSN(t *testing.T) {
	s := New(config.SourceConfig{
		ID: "vec", Type: config.TypePostGIS,
		PostGIS: &config.PostGISConfig{Table: "roads", Geometry: "geom"},
	})
	err := s.Init(context.Background())
	require.Error(t, err)
}

// GetTile's zoom-range short-circuit runs before any pool access, so it's
// exercisable without a live database connection.
func TestGetTileOutsideZoomRangeSkipsQuery(t *testing.T) {
	minZ, maxZ := 2, 10
	s := &Source{cfg: config.SourceConfig{MinZoom: &minZ, MaxZoom: &maxZ}}

	data, err := s.GetTile(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	require.Nil(t, data)

	data, err = s.GetTile(context.Background(), 0, 0, 11)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestCloseIsSafeWithoutInit(t *testing.T) {
	s := New(config.SourceConfig{})
	require.NotPanics(t, func() { s.Close() })
}
