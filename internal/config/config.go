// Package config models the JSON configuration file: service-wide
// settings plus a list of source descriptions. Grounded on
// internal/config/settings.go's UserSettings/DefaultSettings/LoadSettings
// load-or-default pattern, generalized from user preferences to a tile
// server's startup config.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/walkthru/tilemapserver/internal/mercator"
)

// SourceType enumerates the recognized backend kinds.
type SourceType string

const (
	TypeMBTiles SourceType = "mbtiles"
	TypeFile    SourceType = "file"
	TypeXYZ     SourceType = "xyz"
	TypeTMS     SourceType = "tms"
	TypeWMTS    SourceType = "wmts"
	TypeWMS     SourceType = "wms"
	TypePostGIS SourceType = "postgis"
	TypeGeoTIFF SourceType = "geotiff"
)

// CacheConfig describes an optional read-through cache wrapping a source.
type CacheConfig struct {
	Type   string `json:"type"` // only "mbtiles" is currently supported
	DBFile string `json:"dbfile"`
}

// PostGISConfig carries the backend-specific fields for a postgis source.
type PostGISConfig struct {
	DSN      string   `json:"dsn"`
	Table    string   `json:"table"`
	Geometry string   `json:"geometry"`
	Fields   []string `json:"fields"`
	Layer    string   `json:"layer"`
	PoolSize int      `json:"poolSize"`
}

// SourceConfig is the tagged record describing one configured source.
// After backend initialization the record is re-emitted with inferred
// fields (Format, ContentType, MinZoom, MaxZoom, GeoBounds, SRS) filled in,
// per spec.md §3.
type SourceConfig struct {
	ID          string     `json:"id"`
	Type        SourceType `json:"type"`
	Title       string     `json:"title,omitempty"`
	Abstract    string     `json:"abstract,omitempty"`
	Location    string     `json:"location"`
	Format      string     `json:"format,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	MinZoom     *int       `json:"minZoom,omitempty"`
	MaxZoom     *int       `json:"maxZoom,omitempty"`
	SRS         string     `json:"srs,omitempty"`
	TMS         bool       `json:"tms,omitempty"`

	Cache *CacheConfig `json:"cache,omitempty"`

	// Backend-specific, only one of these is populated per Type.
	CapabilitiesURL string         `json:"capabilitiesurl,omitempty"`
	TimeoutSeconds  int            `json:"timeoutSeconds,omitempty"`
	PostGIS         *PostGISConfig `json:"postgis,omitempty"`

	// MaxConcurrentFetches bounds in-flight upstream requests for
	// httptile sources (and wmts, which fetches through httptile); 0 uses
	// the backend's default. The wms backend does not read it.
	MaxConcurrentFetches int `json:"maxConcurrentFetches,omitempty"`

	// GeoBounds is read from JSON when given; backends that derive their
	// own extent (mbtiles metadata bounds, geotiff header) overwrite it
	// during Init.
	GeoBounds *mercator.GeoBounds `json:"geoBounds,omitempty"`
}

// Validate enforces the invariants of spec.md §3.
func (c *SourceConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("source: id must be non-empty")
	}
	if c.Location == "" {
		return fmt.Errorf("source %q: location must be non-empty", c.ID)
	}
	switch c.Type {
	case TypeMBTiles, TypeFile, TypeXYZ, TypeTMS, TypeWMTS, TypeWMS, TypePostGIS, TypeGeoTIFF:
	default:
		return fmt.Errorf("source %q: unrecognized type %q", c.ID, c.Type)
	}
	return nil
}

// ServiceConfig holds process-wide settings, per SPEC_FULL.md's ambient
// stack and Open Question resolutions.
type ServiceConfig struct {
	Title    string   `json:"title,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	Keywords []string `json:"keywords,omitempty"`

	JpegQuality int `json:"jpegQuality,omitempty"`

	SourceInitPolicy string `json:"sourceInitPolicy,omitempty"` // "strict" | "lenient"
	MissingTilePolicy string `json:"missingTilePolicy,omitempty"` // "204" | "blank"
	WMSUnknownLayer   string `json:"wmsUnknownLayer,omitempty"`   // "skip" | "error"

	TileTimeoutSeconds   int `json:"tileTimeoutSeconds,omitempty"`
	GetMapTimeoutSeconds int `json:"getMapTimeoutSeconds,omitempty"`
	GeotiffPoolSize      int `json:"geotiffPoolSize,omitempty"`

	ListenAddr string `json:"listenAddr,omitempty"`
	LogFile    string `json:"logFile,omitempty"`
}

// Config is the top-level JSON document.
type Config struct {
	Service ServiceConfig  `json:"service"`
	Sources []SourceConfig `json:"sources"`
}

// DefaultServiceConfig returns the service defaults described in
// SPEC_FULL.md's "ADDITIONAL DETAIL" section.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Title:                "Tile Map Server",
		JpegQuality:          85,
		SourceInitPolicy:     "strict",
		MissingTilePolicy:    "204",
		WMSUnknownLayer:      "skip",
		TileTimeoutSeconds:   15,
		GetMapTimeoutSeconds: 60,
		GeotiffPoolSize:      4,
		ListenAddr:           ":8080",
	}
}

func applyServiceDefaults(s *ServiceConfig) {
	d := DefaultServiceConfig()
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.JpegQuality == 0 {
		s.JpegQuality = d.JpegQuality
	}
	if s.SourceInitPolicy == "" {
		s.SourceInitPolicy = d.SourceInitPolicy
	}
	if s.MissingTilePolicy == "" {
		s.MissingTilePolicy = d.MissingTilePolicy
	}
	if s.WMSUnknownLayer == "" {
		s.WMSUnknownLayer = d.WMSUnknownLayer
	}
	if s.TileTimeoutSeconds == 0 {
		s.TileTimeoutSeconds = d.TileTimeoutSeconds
	}
	if s.GetMapTimeoutSeconds == 0 {
		s.GetMapTimeoutSeconds = d.GetMapTimeoutSeconds
	}
	if s.GeotiffPoolSize == 0 {
		s.GeotiffPoolSize = d.GeotiffPoolSize
	}
	if s.ListenAddr == "" {
		s.ListenAddr = d.ListenAddr
	}
}

// Load reads and parses the JSON config file at path, filling in service
// defaults for any omitted field and validating every source record.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyServiceDefaults(&cfg.Service)

	seen := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("config: duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
	}

	return &cfg, nil
}
