// Package mbtiles implements C4a: a SQLite-backed MBTiles 1.3 tile
// source, and doubles as the storage engine for C5's read-through cache
// (see internal/tilecache).
//
// Grounded on internal/cache/persistent_cache.go's disk-backed tile
// store shape (metadata index, key by z/x/y, atomic size accounting)
// re-pointed at a real SQLite file since spec.md §4.1/§6 requires the
// MBTiles 1.3 schema specifically. The driver,
// github.com/mattn/go-sqlite3, is adopted from the LaPingvino-recuerdo
// pack repo (go.mod), which is the only example in the retrieval pack
// that imports a SQLite driver.
package mbtiles

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

// schemaSQL creates the MBTiles 1.3 tables if they don't already exist.
// The read source never executes it (it opens files read-only); the
// package tests seed fixtures with it, and internal/tilecache carries its
// own copy for creating cache files.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT);
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level INTEGER,
	tile_column INTEGER,
	tile_row INTEGER,
	tile_data BLOB
);
CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
`

// Source reads tiles from an MBTiles SQLite file.
type Source struct {
	cfg config.SourceConfig
	db  *sql.DB
}

// New returns an unopened MBTiles source for cfg.
func New(cfg config.SourceConfig) *Source {
	return &Source{cfg: cfg}
}

// Open opens the MBTiles file at path read-only via a pooled set of
// connections, per spec.md §5's "one connection per concurrent reader".
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	return db, nil
}

// Init opens the database and reads the metadata table.
func (s *Source) Init(ctx context.Context) error {
	db, err := Open(s.cfg.Location)
	if err != nil {
		return tmserr.BackendInit("mbtiles: open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return tmserr.BackendInit("mbtiles: open", err)
	}
	s.db = db

	meta, err := readMetadata(ctx, db)
	if err != nil {
		return tmserr.BackendInit("mbtiles: read metadata", err)
	}

	if s.cfg.Title == "" {
		s.cfg.Title = meta["name"]
	}
	format := meta["format"]
	if format == "" {
		format = "png"
	}
	s.cfg.Format = format
	s.cfg.ContentType = imageutil.ContentType(format)

	if minZ, err := parseIntOrZero(meta["minzoom"]); err == nil && s.cfg.MinZoom == nil {
		s.cfg.MinZoom = &minZ
	}
	if maxZ, err := parseIntOrZero(meta["maxzoom"]); err == nil && s.cfg.MaxZoom == nil {
		s.cfg.MaxZoom = &maxZ
	}
	if b, ok := parseBoundsString(meta["bounds"]); ok {
		s.cfg.GeoBounds = &b
	}

	return nil
}

// Configuration returns the post-init source record.
func (s *Source) Configuration() config.SourceConfig { return s.cfg }

// GetTile looks up (z,x,flipY(y,z)) since MBTiles stores TMS-convention
// tile_row, per spec.md §4.1.
func (s *Source) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	if minZ := s.cfg.MinZoom; minZ != nil && z < *minZ {
		return nil, nil
	}
	if maxZ := s.cfg.MaxZoom; maxZ != nil && z > *maxZ {
		return nil, nil
	}
	return GetTileData(ctx, s.db, z, x, y)
}

// GetTileData runs the MBTiles tile lookup for (z,x,y) against db,
// applying the XYZ->TMS row flip. Shared with internal/tilecache.
func GetTileData(ctx context.Context, db *sql.DB, z, x, y int) ([]byte, error) {
	row := mercator.FlipY(y, z)
	var data []byte
	err := db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, row).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, tmserr.Backend("mbtiles: query tile", err)
	}
	return data, nil
}

func readMetadata(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		meta[name] = value
	}
	return meta, rows.Err()
}

func parseIntOrZero(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseBoundsString(s string) (mercator.GeoBounds, bool) {
	if s == "" {
		return mercator.GeoBounds{}, false
	}
	var minLon, minLat, maxLon, maxLat float64
	n, err := fmt.Sscanf(s, "%f,%f,%f,%f", &minLon, &minLat, &maxLon, &maxLat)
	if err != nil || n != 4 {
		return mercator.GeoBounds{}, false
	}
	return mercator.GeoBounds{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}, true
}
