// Package httpapi implements C9: the TMS/XYZ/WMTS/WMS HTTP dispatchers,
// mapping the URL surface in spec.md §6 onto the core registry (C3) and
// compositor (C6). Routing itself is "out of scope" per spec.md §1 (an
// external collaborator, mechanical once the catalog is known) — only
// parameter validation and dispatch live here.
//
// Grounded on internal/handlers/tileserver/server.go's
// http.NewServeMux()+corsMiddleware()+http.Server shape; the teacher
// never reaches for a third-party router for its embedded tile server,
// so neither do we.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/walkthru/tilemapserver/internal/capabilities"
	"github.com/walkthru/tilemapserver/internal/compositor"
	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/imageutil"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tilesource"
	"github.com/walkthru/tilemapserver/internal/tmserr"
)

// Server wires the registry and service config into an http.Handler.
type Server struct {
	registry *tilesource.Registry
	service  config.ServiceConfig
	baseURL  string
}

// NewServer returns a Server ready to be mounted via Handler().
func NewServer(reg *tilesource.Registry, service config.ServiceConfig, baseURL string) *Server {
	return &Server{registry: reg, service: service, baseURL: baseURL}
}

// Handler builds the ServeMux, wrapped in CORS middleware, per the
// teacher's server.go pattern.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tms/1.0.0", s.handleTMSService)
	mux.HandleFunc("/tms/1.0.0/", s.handleTMS)
	mux.HandleFunc("/xyz/", s.handleXYZ)
	mux.HandleFunc("/wmts", s.handleWMTSKVP)
	mux.HandleFunc("/wmts/tile/1.0.0/", s.handleWMTSRest)
	mux.HandleFunc("/wms", s.handleWMS)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- tile responses ---

// writeTileResponse serves a fetched tile, applying the configured
// MissingTilePolicy ("204" or "blank") when data is nil.
func (s *Server) writeTileResponse(w http.ResponseWriter, cfg config.SourceConfig, data []byte, err error) {
	if err != nil {
		s.writeTileError(w, err)
		return
	}
	if data == nil {
		if s.service.MissingTilePolicy == "blank" {
			blank := imageutil.BlankPNG()
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			w.Write(blank)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", cfg.ContentType)
	// MBTiles stores pbf/MVT blobs gzip-compressed per the 1.3 spec and
	// we return them verbatim (spec.md §2's "Vector tiles (pbf) are
	// returned verbatim with gzip Content-Encoding preserved"); other
	// backends that serve protobuf (e.g. PostGIS's ST_AsMVT) emit
	// uncompressed bytes, so the header is conditioned on source type.
	if cfg.Type == config.TypeMBTiles && cfg.ContentType == imageutil.ContentType("pbf") {
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) writeTileError(w http.ResponseWriter, err error) {
	log.Printf("httpapi: tile error: %v", err)
	switch {
	case tmserr.Is(err, tmserr.KindProtocol):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) tileTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := time.Duration(s.service.TileTimeoutSeconds) * time.Second
	if d <= 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// --- TMS ---

func (s *Server) handleTMSService(w http.ResponseWriter, r *http.Request) {
	ids := sortedIDs(s.registry)
	layers := capabilities.Catalog(s.registry, ids)
	doc, err := capabilities.TMSServiceDocument(layers, s.baseURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeXML(w, doc)
}

// handleTMS serves both the per-layer document (`/tms/1.0.0/{layer}`)
// and single tiles (`/tms/1.0.0/{layer}/{z}/{x}/{y}.{ext}`).
func (s *Server) handleTMS(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tms/1.0.0/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")

	entry, ok := s.registry.Lookup(parts[0])
	if !ok {
		http.Error(w, "unknown layer", http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		cfg := entry.Source.Configuration()
		doc, err := capabilities.TMSLayerDocument(capabilityLayerFor(cfg), s.baseURL)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeXML(w, doc)
		return
	}

	if len(parts) != 4 {
		http.Error(w, "malformed TMS tile path", http.StatusBadRequest)
		return
	}
	z, x, yExt := parts[1], parts[2], parts[3]
	y := strings.TrimSuffix(yExt, path.Ext(yExt))

	zi, xi, yTMS, err := parseZXY(z, x, y)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	yXYZ := mercator.FlipY(yTMS, zi)

	ctx, cancel := s.tileTimeout(r.Context())
	defer cancel()
	data, err := entry.GetTile(ctx, xi, yXYZ, zi)
	s.writeTileResponse(w, entry.Source.Configuration(), data, err)
}

// --- XYZ ---

func (s *Server) handleXYZ(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/xyz/")
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		http.Error(w, "malformed XYZ tile path", http.StatusBadRequest)
		return
	}

	entry, ok := s.registry.Lookup(parts[0])
	if !ok {
		http.Error(w, "unknown layer", http.StatusNotFound)
		return
	}

	yExt := parts[3]
	y := strings.TrimSuffix(yExt, path.Ext(yExt))
	zi, xi, yi, err := parseZXY(parts[1], parts[2], y)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.tileTimeout(r.Context())
	defer cancel()
	data, err := entry.GetTile(ctx, xi, yi, zi)
	s.writeTileResponse(w, entry.Source.Configuration(), data, err)
}

// --- WMTS ---

func (s *Server) handleWMTSKVP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	request := firstNonEmpty(q.Get("request"), q.Get("REQUEST"))

	switch strings.ToLower(request) {
	case "getcapabilities":
		ids := sortedIDs(s.registry)
		layers := capabilities.Catalog(s.registry, ids)
		doc, err := capabilities.WMTSCapabilitiesDocument(layers)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeXML(w, doc)
	case "gettile":
		layer := firstNonEmpty(q.Get("layer"), q.Get("LAYER"))
		entry, ok := s.registry.Lookup(layer)
		if !ok {
			http.Error(w, "unknown layer", http.StatusNotFound)
			return
		}
		zi, err1 := strconv.Atoi(firstNonEmpty(q.Get("tilematrix"), q.Get("TileMatrix")))
		xi, err2 := strconv.Atoi(firstNonEmpty(q.Get("tilecol"), q.Get("TileCol")))
		yi, err3 := strconv.Atoi(firstNonEmpty(q.Get("tilerow"), q.Get("TileRow")))
		if err1 != nil || err2 != nil || err3 != nil {
			http.Error(w, "malformed TileMatrix/TileRow/TileCol", http.StatusBadRequest)
			return
		}
		ctx, cancel := s.tileTimeout(r.Context())
		defer cancel()
		data, err := entry.GetTile(ctx, xi, yi, zi)
		s.writeTileResponse(w, entry.Source.Configuration(), data, err)
	default:
		http.Error(w, "unsupported WMTS request", http.StatusBadRequest)
	}
}

// handleWMTSRest serves `/wmts/tile/1.0.0/{layer}/{style}/{tilematrixset}/{z}/{y}/{x}.{ext}`.
func (s *Server) handleWMTSRest(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/wmts/tile/1.0.0/")
	parts := strings.Split(rest, "/")
	if len(parts) != 6 {
		http.Error(w, "malformed WMTS REST tile path", http.StatusBadRequest)
		return
	}
	entry, ok := s.registry.Lookup(parts[0])
	if !ok {
		http.Error(w, "unknown layer", http.StatusNotFound)
		return
	}

	xExt := parts[5]
	xStr := strings.TrimSuffix(xExt, path.Ext(xExt))
	zi, yi, xi, err := parseZXY(parts[3], parts[4], xStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.tileTimeout(r.Context())
	defer cancel()
	data, err := entry.GetTile(ctx, xi, yi, zi)
	s.writeTileResponse(w, entry.Source.Configuration(), data, err)
}

// --- WMS ---

func (s *Server) handleWMS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	request := firstNonEmpty(q.Get("request"), q.Get("REQUEST"))

	switch strings.ToLower(request) {
	case "getcapabilities":
		ids := sortedIDs(s.registry)
		layers := capabilities.Catalog(s.registry, ids)
		doc, err := capabilities.WMSCapabilitiesDocument(s.service, layers)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeXML(w, doc)
	case "getmap":
		s.handleGetMap(w, r)
	default:
		writeServiceException(w, "unsupported WMS request")
	}
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version := firstNonEmpty(q.Get("version"), q.Get("VERSION"), "1.1.1")

	width, err1 := strconv.Atoi(firstNonEmpty(q.Get("width"), q.Get("WIDTH")))
	height, err2 := strconv.Atoi(firstNonEmpty(q.Get("height"), q.Get("HEIGHT")))
	if err1 != nil || err2 != nil {
		writeServiceException(w, "width and height must be integers")
		return
	}

	bboxStr := firstNonEmpty(q.Get("bbox"), q.Get("BBOX"))
	// A 1.3.0 request in the projected EPSG:3857 CRS keeps the plain
	// minx,miny,maxx,maxy order; only a geographic CRS is swapped.
	bboxVersion := version
	if version == "1.3.0" && strings.EqualFold(firstNonEmpty(q.Get("crs"), q.Get("CRS")), "EPSG:3857") {
		bboxVersion = "1.1.1"
	}
	bounds, err := parseBBox(bboxStr, bboxVersion)
	if err != nil {
		writeServiceException(w, err.Error())
		return
	}

	layersParam := firstNonEmpty(q.Get("layers"), q.Get("LAYERS"))
	var layerNames []string
	if layersParam != "" {
		layerNames = strings.Split(layersParam, ",")
	}

	format := firstNonEmpty(q.Get("format"), q.Get("FORMAT"), "image/png")
	transparent := strings.EqualFold(firstNonEmpty(q.Get("transparent"), q.Get("TRANSPARENT")), "true")
	bg, err := imageutil.ParseBackgroundColor(firstNonEmpty(q.Get("bgcolor"), q.Get("BGCOLOR")), transparent)
	if err != nil {
		writeServiceException(w, err.Error())
		return
	}

	req := compositor.Request{
		Width: width, Height: height, BBox: bounds,
		LayerNames:  layerNames,
		ContentType: format,
		Transparent: transparent,
		BGColor:     bg,
		JpegQuality: s.service.JpegQuality,
		UnknownLayer: compositor.DefaultUnknownLayerPolicy(s.service),
	}

	d := time.Duration(s.service.GetMapTimeoutSeconds) * time.Second
	if d <= 0 {
		d = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), d)
	defer cancel()

	data, err := compositor.Render(ctx, s.registry, req)
	if err != nil {
		log.Printf("httpapi: GetMap error: %v", err)
		writeServiceException(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", format)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// parseBBox parses the comma-separated bbox, swapping axis order for
// WMS 1.3.0 with a geographic CRS, per spec.md §3. version "1.3.0" means
// geographic degrees in lat,lon order; handleGetMap passes "1.1.1" for a
// 1.3.0 request in EPSG:3857.
func parseBBox(s, version string) (mercator.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return mercator.Bounds{}, tmserr.Protocol("httpapi: parse bbox", errBadBBox(s))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return mercator.Bounds{}, tmserr.Protocol("httpapi: parse bbox", errBadBBox(s))
		}
		vals[i] = v
	}

	if version == "1.3.0" {
		// geographic axis order: miny,minx,maxy,maxx (degrees) -> project to meters
		minLat, minLon, maxLat, maxLon := vals[0], vals[1], vals[2], vals[3]
		return mercator.Bounds{
			Left: mercator.X(minLon), Bottom: mercator.Y(minLat),
			Right: mercator.X(maxLon), Top: mercator.Y(maxLat),
		}, nil
	}

	return mercator.Bounds{Left: vals[0], Bottom: vals[1], Right: vals[2], Top: vals[3]}, nil
}

func errBadBBox(s string) error {
	return &bboxError{raw: s}
}

type bboxError struct{ raw string }

func (e *bboxError) Error() string { return "malformed bbox: " + e.raw }

func writeServiceException(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/vnd.ogc.se_xml")
	w.WriteHeader(http.StatusOK)
	w.Write(capabilities.ServiceExceptionReport(message))
}

func writeXML(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func capabilityLayerFor(cfg config.SourceConfig) capabilities.Layer {
	l := capabilities.Layer{ID: cfg.ID, Title: cfg.Title, Format: cfg.Format, ContentType: cfg.ContentType, SRS: cfg.SRS}
	if l.Title == "" {
		l.Title = cfg.ID
	}
	if cfg.MinZoom != nil {
		l.MinZoom = *cfg.MinZoom
	}
	l.MaxZoom = 22
	if cfg.MaxZoom != nil {
		l.MaxZoom = *cfg.MaxZoom
	}
	if cfg.GeoBounds != nil {
		l.GeoBounds = *cfg.GeoBounds
	}
	return l
}

func parseZXY(zStr, xStr, yStr string) (z, x, y int, err error) {
	z, err = strconv.Atoi(zStr)
	if err != nil {
		return 0, 0, 0, tmserr.Protocol("httpapi: parse tile coords", err)
	}
	x, err = strconv.Atoi(xStr)
	if err != nil {
		return 0, 0, 0, tmserr.Protocol("httpapi: parse tile coords", err)
	}
	y, err = strconv.Atoi(yStr)
	if err != nil {
		return 0, 0, 0, tmserr.Protocol("httpapi: parse tile coords", err)
	}
	return z, x, y, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedIDs(reg *tilesource.Registry) []string {
	ids := reg.IDs()
	sort.Strings(ids)
	return ids
}
