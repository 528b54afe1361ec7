package mbtiles

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru/tilemapserver/internal/config"
)

func seedMBTiles(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, "name", "world")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, "format", "png")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, "minzoom", "0")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, "maxzoom", "5")
	require.NoError(t, err)

	// z=0,x=0,y=0 (XYZ) -> tile_row = flipY(0,0) = 0
	_, err = db.Exec(`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
		0, 0, 0, []byte("world-tile"))
	require.NoError(t, err)
}

func TestMBTilesGetTileMatchesStoredRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world.mbtiles")
	seedMBTiles(t, path)

	src := New(mustCfg("world", path))
	require.NoError(t, src.Init(context.Background()))

	data, err := src.GetTile(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("world-tile"), data)

	cfg := src.Configuration()
	require.Equal(t, "png", cfg.Format)
	require.NotNil(t, cfg.MinZoom)
	require.Equal(t, 0, *cfg.MinZoom)
}

func TestMBTilesGetTileOutOfZoomRangeIsMiss(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world.mbtiles")
	seedMBTiles(t, path)

	src := New(mustCfg("world", path))
	require.NoError(t, src.Init(context.Background()))

	data, err := src.GetTile(context.Background(), 0, 0, 9)
	require.NoError(t, err)
	require.Nil(t, data)
}

func mustCfg(id, path string) config.SourceConfig {
	return config.SourceConfig{ID: id, Type: config.TypeMBTiles, Location: path}
}
