// Package wmts implements C4d: a WMTS tile source addressed by a KVP or
// REST URL template containing {TileMatrix},{TileRow},{TileCol}, with an
// optional capabilities probe at init.
//
// Grounded directly on internal/wmts/capabilities.go's
// FetchCapabilities/GetLayers/ConvertTemplateToXYZ, which already does
// exactly this job for the teacher's Wayback-derived WMTS layers.
package wmts

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/sources/httptile"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

// capabilitiesDoc mirrors the subset of a WMTS Capabilities document
// that validateCapabilities reads. Only the presence of at least one
// layer is checked; the configured layer, style and tile matrix set are
// not looked up in it. Grounded on
// internal/wmts/capabilities.go's Capabilities/Contents/Layer structs.
type capabilitiesDoc struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents struct {
		Layers []struct {
			Identifier         string `xml:"http://www.opengis.net/ows/1.1 Identifier"`
			TileMatrixSetLinks []struct {
				TileMatrixSet string `xml:"TileMatrixSet"`
			} `xml:"TileMatrixSetLink"`
		} `xml:"Layer"`
	} `xml:"Contents"`
}

// Source fetches tiles from a WMTS REST template, converting
// {TileMatrix}/{TileRow}/{TileCol} to the {z}/{y}/{x} httptile expects.
type Source struct {
	cfg   config.SourceConfig
	inner *httptile.Source
}

// New returns an uninitialized WMTS source for cfg.
func New(cfg config.SourceConfig) *Source {
	return &Source{cfg: cfg}
}

// Init optionally validates the configured layer against CapabilitiesURL,
// then delegates per-tile fetch setup to an inner httptile.Source whose
// template has been rewritten to {x}/{y}/{z}.
func (s *Source) Init(ctx context.Context) error {
	if s.cfg.CapabilitiesURL != "" {
		if err := s.validateCapabilities(ctx); err != nil {
			return err
		}
	}

	originalLocation := s.cfg.Location
	xyzTemplate := convertTemplateToXYZ(originalLocation)
	innerCfg := s.cfg
	innerCfg.Location = xyzTemplate

	s.inner = httptile.New(innerCfg)
	if err := s.inner.Init(ctx); err != nil {
		return err
	}
	s.cfg = s.inner.Configuration()
	s.cfg.Location = originalLocation // keep the original WMTS template visible in Configuration()
	return nil
}

// validateCapabilities fetches CapabilitiesURL and fails init with a
// BackendInitError if it cannot be parsed or contains no layers.
func (s *Source) validateCapabilities(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.CapabilitiesURL, nil)
	if err != nil {
		return tmserr.BackendInit("wmts: build capabilities request", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return tmserr.BackendInit("wmts: fetch capabilities", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tmserr.BackendInit("wmts: fetch capabilities", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tmserr.BackendInit("wmts: read capabilities", err)
	}

	var doc capabilitiesDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return tmserr.BackendInit("wmts: parse capabilities", err)
	}
	if len(doc.Contents.Layers) == 0 {
		return tmserr.BackendInit("wmts: validate capabilities", fmt.Errorf("no layers found"))
	}
	return nil
}

// convertTemplateToXYZ rewrites WMTS REST placeholders to the {x}/{y}/{z}
// httptile expects. Identical in spirit to
// internal/wmts/capabilities.go's ConvertTemplateToXYZ.
func convertTemplateToXYZ(template string) string {
	result := strings.ReplaceAll(template, "{TileMatrix}", "{z}")
	result = strings.ReplaceAll(result, "{TileCol}", "{x}")
	result = strings.ReplaceAll(result, "{TileRow}", "{y}")
	return result
}

// Configuration returns the post-init source record.
func (s *Source) Configuration() config.SourceConfig { return s.cfg }

// GetTile delegates to the inner httptile source.
func (s *Source) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	return s.inner.GetTile(ctx, x, y, z)
}
