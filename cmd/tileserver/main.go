// Command tileserver is the process entrypoint: it loads the JSON
// config, constructs and initializes every configured source (wrapping
// it in the MBTiles read-through cache when configured), builds the
// immutable registry, and serves the HTTP surface.
//
// Grounded on main.go's "set up logging, build the app, start serving"
// shape, generalized from Wails' desktop bootstrap to a plain net/http
// server per spec.md §9's "replace global mutable configuration with an
// immutable registry built once at startup" guidance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/httpapi"
	"github.com/walkthru/tilemapserver/internal/sources/filetree"
	"github.com/walkthru/tilemapserver/internal/sources/geotiff"
	"github.com/walkthru/tilemapserver/internal/sources/httptile"
	"github.com/walkthru/tilemapserver/internal/sources/mbtiles"
	"github.com/walkthru/tilemapserver/internal/sources/postgis"
	"github.com/walkthru/tilemapserver/internal/sources/wms"
	"github.com/walkthru/tilemapserver/internal/sources/wmts"
	"github.com/walkthru/tilemapserver/internal/tilecache"
	"github.com/walkthru/tilemapserver/internal/tilesource"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	baseURL := flag.String("base-url", "", "external base URL used in capabilities documents")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("tileserver: %v", err)
	}

	if cfg.Service.LogFile != "" {
		f, err := os.OpenFile(cfg.Service.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("tileserver: open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	reg, err := buildRegistry(context.Background(), cfg)
	if err != nil {
		log.Fatalf("tileserver: %v", err)
	}

	base := *baseURL
	if base == "" {
		base = "http://" + cfg.Service.ListenAddr
	}
	server := httpapi.NewServer(reg, cfg.Service, base)

	log.Printf("tileserver: listening on %s (%d sources)", cfg.Service.ListenAddr, reg.Len())
	if err := http.ListenAndServe(cfg.Service.ListenAddr, server.Handler()); err != nil {
		log.Fatalf("tileserver: %v", err)
	}
}

// buildRegistry constructs every configured source, honoring
// Service.SourceInitPolicy ("strict" aborts the whole process on the
// first failing source, "lenient" logs and skips it).
func buildRegistry(ctx context.Context, cfg *config.Config) (*tilesource.Registry, error) {
	builder := tilesource.NewBuilder()

	for _, srcCfg := range cfg.Sources {
		src, err := newSource(srcCfg, cfg.Service)
		if err != nil {
			return nil, err
		}

		var initErr error
		if srcCfg.Cache != nil && srcCfg.Cache.Type == "mbtiles" {
			cached := tilecache.New(src, srcCfg.Cache.DBFile)
			initErr = cached.Init(ctx)
			if initErr == nil {
				src = cached
			}
		} else {
			initErr = src.Init(ctx)
		}

		if initErr != nil {
			if cfg.Service.SourceInitPolicy == "lenient" {
				log.Printf("tileserver: source %q failed to initialize, skipping: %v", srcCfg.ID, initErr)
				continue
			}
			return nil, fmt.Errorf("tileserver: source %q: %w", srcCfg.ID, initErr)
		}

		if err := builder.Add(srcCfg.ID, src); err != nil {
			return nil, err
		}
	}

	return builder.Build(), nil
}

func newSource(cfg config.SourceConfig, service config.ServiceConfig) (tilesource.Source, error) {
	switch cfg.Type {
	case config.TypeMBTiles:
		return mbtiles.New(cfg), nil
	case config.TypeFile:
		return filetree.New(cfg), nil
	case config.TypeXYZ, config.TypeTMS:
		return httptile.New(cfg), nil
	case config.TypeWMTS:
		return wmts.New(cfg), nil
	case config.TypeWMS:
		return wms.New(cfg), nil
	case config.TypePostGIS:
		return postgis.New(cfg), nil
	case config.TypeGeoTIFF:
		return geotiff.New(cfg, service.GeotiffPoolSize), nil
	default:
		return nil, fmt.Errorf("tileserver: source %q: unrecognized type %q", cfg.ID, cfg.Type)
	}
}
