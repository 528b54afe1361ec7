// Package wms implements C4e: a remote WMS source. Location is a base
// GetMap URL; for each requested tile the source synthesizes a GetMap
// call scoped to that tile's EPSG:3857 bounds.
//
// Grounded on internal/esri/client.go's URL-building approach (construct
// a request, set headers, branch on status code), generalized from
// Esri's bespoke query params to OGC GetMap KVP.
package wms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

const defaultTimeout = 15 * time.Second

// Source fetches tiles by issuing a 256x256 GetMap request per tile.
type Source struct {
	cfg        config.SourceConfig
	client     *http.Client
	layerNames string // WMS "layers" param, taken from cfg.ID
}

// New returns an uninitialized WMS source for cfg.
func New(cfg config.SourceConfig) *Source {
	return &Source{cfg: cfg}
}

// Init sets up the pooled HTTP client.
func (s *Source) Init(ctx context.Context) error {
	if s.cfg.Location == "" {
		return tmserr.Config("wms: init", fmt.Errorf("location (base GetMap URL) must be set"))
	}

	timeout := defaultTimeout
	if s.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(s.cfg.TimeoutSeconds) * time.Second
	}
	s.client = &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}

	if s.cfg.Format == "" {
		s.cfg.Format = "png"
	}
	if s.cfg.ContentType == "" {
		s.cfg.ContentType = imageutil.ContentType(s.cfg.Format)
	}
	s.layerNames = s.cfg.ID
	return nil
}

// Configuration returns the post-init source record.
func (s *Source) Configuration() config.SourceConfig { return s.cfg }

// GetTile synthesizes a GetMap request for the EPSG:3857 bounds of tile
// (x,y,z), WIDTH=256, HEIGHT=256, TRANSPARENT=TRUE.
func (s *Source) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	if minZ := s.cfg.MinZoom; minZ != nil && z < *minZ {
		return nil, nil
	}
	if maxZ := s.cfg.MaxZoom; maxZ != nil && z > *maxZ {
		return nil, nil
	}

	b := mercator.TileBounds(x, y, z)

	reqURL, err := buildGetMapURL(s.cfg.Location, s.layerNames, b, s.cfg.ContentType)
	if err != nil {
		return nil, tmserr.Backend("wms: build GetMap url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, tmserr.Backend("wms: build request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, tmserr.Backend("wms: fetch GetMap", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, tmserr.Backend("wms: fetch GetMap", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tmserr.Backend("wms: read GetMap body", err)
	}

	if looksLikeServiceException(resp.Header.Get("Content-Type"), data) {
		return nil, tmserr.Backend("wms: GetMap", fmt.Errorf("upstream returned a service exception: %s", firstLine(data)))
	}

	return data, nil
}

func buildGetMapURL(base, layers string, b mercator.Bounds, contentType string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.1.1")
	q.Set("REQUEST", "GetMap")
	q.Set("LAYERS", layers)
	q.Set("STYLES", "")
	q.Set("SRS", "EPSG:3857")
	q.Set("BBOX", fmt.Sprintf("%s,%s,%s,%s",
		strconv.FormatFloat(b.Left, 'f', -1, 64),
		strconv.FormatFloat(b.Bottom, 'f', -1, 64),
		strconv.FormatFloat(b.Right, 'f', -1, 64),
		strconv.FormatFloat(b.Top, 'f', -1, 64)))
	q.Set("WIDTH", "256")
	q.Set("HEIGHT", "256")
	q.Set("FORMAT", contentType)
	q.Set("TRANSPARENT", "TRUE")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func looksLikeServiceException(contentType string, body []byte) bool {
	if strings.Contains(contentType, "xml") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "<?xml") || strings.Contains(trimmed, "ServiceException")
}

func firstLine(b []byte) string {
	s := string(b)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
