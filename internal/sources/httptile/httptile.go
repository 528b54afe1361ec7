// Package httptile implements C4c: a remote XYZ/TMS tile source fetched
// over HTTP, and is reused by C4d (WMTS REST) for the actual per-tile
// fetch once a template URL is known.
//
// Grounded on internal/esri/client.go's NewClient/FetchTile: a pooled
// http.Client with a custom Transport (proxy-aware), a timeout, and
// explicit status-code branching between "missing" and "error".
package httptile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

const defaultTimeout = 15 * time.Second

const defaultMaxConcurrentFetches = 16

// Source fetches tiles from a URL template containing {X},{Y},{Z}
// (case-insensitive).
type Source struct {
	cfg    config.SourceConfig
	client *http.Client

	// sem bounds in-flight upstream requests per source, independent of
	// the transport's idle-connection pooling, so a slow or unresponsive
	// upstream can't let one layer's requests pile up unboundedly.
	sem *semaphore.Weighted
}

// New returns an uninitialized httptile source for cfg. The TMS
// (south-origin) Y convention applies when cfg.TMS is set or cfg.Type is
// "tms".
func New(cfg config.SourceConfig) *Source {
	return &Source{cfg: cfg}
}

// Init builds the shared pooled HTTP client. Connection pooling mirrors
// esri.Client.NewClient's proxy-aware Transport.
func (s *Source) Init(ctx context.Context) error {
	lower := strings.ToLower(s.cfg.Location)
	for _, ph := range []string{"{x}", "{y}", "{z}"} {
		if !strings.Contains(lower, ph) {
			return tmserr.Config("httptile: init", fmt.Errorf("location %q missing placeholder %s", s.cfg.Location, ph))
		}
	}

	timeout := defaultTimeout
	if s.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(s.cfg.TimeoutSeconds) * time.Second
	}

	s.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	maxConcurrent := int64(s.cfg.MaxConcurrentFetches)
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentFetches
	}
	s.sem = semaphore.NewWeighted(maxConcurrent)

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

// GetTile issues the HTTP GET for tile (x,y,z). 404 is treated as a
// legitimate miss; any other non-2xx is a BackendError.
func (s *Source) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	if minZ := s.cfg.MinZoom; minZ != nil && z < *minZ {
		return nil, nil
	}
	if maxZ := s.cfg.MaxZoom; maxZ != nil && z > *maxZ {
		return nil, nil
	}

	row := y
	if s.cfg.TMS || s.cfg.Type == config.TypeTMS {
		row = mercator.FlipY(y, z)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, tmserr.Backend("httptile: acquire fetch slot", err)
	}
	defer s.sem.Release(1)

	url := expandTemplate(s.cfg.Location, x, row, z)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, tmserr.Backend("httptile: build request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, tmserr.Backend("httptile: fetch tile", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, tmserr.Backend("httptile: fetch tile", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tmserr.Backend("httptile: read tile body", err)
	}
	return data, nil
}

func expandTemplate(tmpl string, x, y, z int) string {
	replacer := strings.NewReplacer(
		"{x}", strconv.Itoa(x), "{X}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y), "{Y}", strconv.Itoa(y),
		"{z}", strconv.Itoa(z), "{Z}", strconv.Itoa(z),
	)
	return replacer.Replace(tmpl)
}
