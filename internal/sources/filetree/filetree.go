// Package filetree implements C4b: a local filesystem tile tree where
// Location is a path template containing {z}, {x}, {y} (case-insensitive).
// Grounded on PersistentTileCache.buildFilePath's OGC ZXY path-building
// logic (internal/cache/persistent_cache.go).
package filetree

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

// Source reads tiles from a local directory tree.
type Source struct {
	cfg config.SourceConfig
}

// New returns an uninitialized filetree source for cfg.
func New(cfg config.SourceConfig) *Source {
	return &Source{cfg: cfg}
}

// Init validates that the template contains the required placeholders.
func (s *Source) Init(ctx context.Context) error {
	loc := s.cfg.Location
	lower := strings.ToLower(loc)
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(lower, ph) {
			return tmserr.Config("filetree: init", fmt.Errorf("location %q missing placeholder %s", loc, ph))
		}
	}
	if s.cfg.Format == "" {
		s.cfg.Format = "png"
	}
	if s.cfg.ContentType == "" {
		s.cfg.ContentType = imageutil.ContentType(s.cfg.Format)
	}
	return nil
}

// Configuration returns the post-init source record.
func (s *Source) Configuration() config.SourceConfig { return s.cfg }

// GetTile reads the tile file for (x,y,z), applying the TMS Y flip if
// s.cfg.TMS is set.
func (s *Source) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	if minZ := s.cfg.MinZoom; minZ != nil && z < *minZ {
		return nil, nil
	}
	if maxZ := s.cfg.MaxZoom; maxZ != nil && z > *maxZ {
		return nil, nil
	}

	row := y
	if s.cfg.TMS {
		row = mercator.FlipY(y, z)
	}

	path := expandTemplate(s.cfg.Location, x, row, z)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tmserr.Backend("filetree: read tile", err)
	}
	return data, nil
}

func expandTemplate(tmpl string, x, y, z int) string {
	replacer := strings.NewReplacer(
		"{z}", strconv.Itoa(z), "{Z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x), "{X}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y), "{Y}", strconv.Itoa(y),
	)
	return replacer.Replace(tmpl)
}
