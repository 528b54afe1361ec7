// Package capabilities derives layer metadata from the source registry
// and renders the TMS/WMTS/WMS capabilities XML documents C9's
// dispatchers serve. Per spec.md §1's scope note, XML serialization here
// is mechanical templating once the catalog is known; the substantive
// work is assembling a Layer record per source.
//
// Grounded on the teacher's internal/wmts/capabilities.go struct-based
// XML document shape, generalized from the teacher's fixed Esri/Google
// layer list to the dynamic, config-driven registry.
package capabilities

import (
	"encoding/xml"
	"strconv"

	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/mercator"
	"github.com/walkthru/tilemapserver/internal/tilesource"
)

// Layer is the derived, protocol-agnostic metadata for one registered
// source, used to populate every capabilities document.
type Layer struct {
	ID          string
	Title       string
	Abstract    string
	Format      string
	ContentType string
	MinZoom     int
	MaxZoom     int
	SRS         string
	GeoBounds   mercator.GeoBounds
}

// Catalog derives the full Layer list from the registry, in the order
// given by ids (callers typically pass a sorted registry.IDs()).
func Catalog(reg *tilesource.Registry, ids []string) []Layer {
	layers := make([]Layer, 0, len(ids))
	for _, id := range ids {
		entry, ok := reg.Lookup(id)
		if !ok {
			continue
		}
		cfg := entry.Source.Configuration()
		layers = append(layers, layerFromConfig(cfg))
	}
	return layers
}

func layerFromConfig(cfg config.SourceConfig) Layer {
	l := Layer{
		ID:          cfg.ID,
		Title:       cfg.Title,
		Abstract:    cfg.Abstract,
		Format:      cfg.Format,
		ContentType: cfg.ContentType,
		SRS:         cfg.SRS,
	}
	if l.Title == "" {
		l.Title = cfg.ID
	}
	if l.SRS == "" {
		l.SRS = "EPSG:3857"
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
	} else {
		l.GeoBounds = mercator.GeoBounds{MinLon: -180, MinLat: -85.05112878, MaxLon: 180, MaxLat: 85.05112878}
	}
	return l
}

// --- TMS ---

type tmsServiceDoc struct {
	XMLName    xml.Name        `xml:"TileMapService"`
	Version    string          `xml:"version,attr"`
	TileMaps   tmsTileMapsList `xml:"TileMaps"`
}

type tmsTileMapsList struct {
	TileMaps []tmsTileMapRef `xml:"TileMap"`
}

type tmsTileMapRef struct {
	Title  string `xml:"title,attr"`
	SRS    string `xml:"srs,attr"`
	Href   string `xml:"href,attr"`
}

// TMSServiceDocument renders the `/tms/1.0.0` service-level listing.
func TMSServiceDocument(layers []Layer, baseURL string) ([]byte, error) {
	doc := tmsServiceDoc{Version: "1.0.0"}
	for _, l := range layers {
		doc.TileMaps.TileMaps = append(doc.TileMaps.TileMaps, tmsTileMapRef{
			Title: l.Title,
			SRS:   l.SRS,
			Href:  baseURL + "/tms/1.0.0/" + l.ID,
		})
	}
	return xml.MarshalIndent(doc, "", "  ")
}

type tmsTileMapDoc struct {
	XMLName     xml.Name       `xml:"TileMap"`
	Version     string         `xml:"version,attr"`
	Title       string         `xml:"Title"`
	Abstract    string         `xml:"Abstract"`
	SRS         string         `xml:"SRS"`
	BoundingBox tmsBoundingBox `xml:"BoundingBox"`
	Origin      tmsOrigin      `xml:"Origin"`
	TileFormat  tmsTileFormat  `xml:"TileFormat"`
	TileSets    tmsTileSets    `xml:"TileSets"`
}

type tmsBoundingBox struct {
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

type tmsOrigin struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
}

type tmsTileFormat struct {
	Width     int    `xml:"width,attr"`
	Height    int    `xml:"height,attr"`
	MimeType  string `xml:"mime-type,attr"`
	Extension string `xml:"extension,attr"`
}

type tmsTileSets struct {
	Profile  string        `xml:"profile,attr"`
	TileSets []tmsTileSet  `xml:"TileSet"`
}

type tmsTileSet struct {
	Href       string  `xml:"href,attr"`
	UnitsPerPx float64 `xml:"units-per-pixel,attr"`
	Order      int     `xml:"order,attr"`
}

// TMSLayerDocument renders the `/tms/1.0.0/{layer}` tile-matrix-set
// document for a single layer.
func TMSLayerDocument(l Layer, baseURL string) ([]byte, error) {
	doc := tmsTileMapDoc{
		Version:  "1.0.0",
		Title:    l.Title,
		Abstract: l.Abstract,
		SRS:      l.SRS,
		BoundingBox: tmsBoundingBox{
			MinX: l.GeoBounds.MinLon, MinY: l.GeoBounds.MinLat,
			MaxX: l.GeoBounds.MaxLon, MaxY: l.GeoBounds.MaxLat,
		},
		TileFormat: tmsTileFormat{
			Width: mercator.TileSize, Height: mercator.TileSize,
			MimeType: l.ContentType, Extension: l.Format,
		},
		TileSets: tmsTileSets{Profile: "mercator"},
	}
	for z := l.MinZoom; z <= l.MaxZoom; z++ {
		unitsPerPx := mercator.Circumference / float64(mercator.TileSize) / float64(mercator.TileCount(z))
		doc.TileSets.TileSets = append(doc.TileSets.TileSets, tmsTileSet{
			Href:       baseURL + "/tms/1.0.0/" + l.ID + "/" + strconv.Itoa(z),
			UnitsPerPx: unitsPerPx,
			Order:      z,
		})
	}
	return xml.MarshalIndent(doc, "", "  ")
}

// --- WMTS ---

type wmtsCapabilities struct {
	XMLName xml.Name       `xml:"Capabilities"`
	Xmlns   string         `xml:"xmlns,attr"`
	Version string         `xml:"version,attr"`
	Layers  []wmtsLayer    `xml:"Contents>Layer"`
}

type wmtsLayer struct {
	Identifier string   `xml:"ows:Identifier"`
	Title      string   `xml:"ows:Title"`
	Format     string   `xml:"Format"`
}

// WMTSCapabilitiesDocument renders the WMTS GetCapabilities body.
func WMTSCapabilitiesDocument(layers []Layer) ([]byte, error) {
	doc := wmtsCapabilities{
		Xmlns:   "http://www.opengis.net/wmts/1.0",
		Version: "1.0.0",
	}
	for _, l := range layers {
		doc.Layers = append(doc.Layers, wmtsLayer{
			Identifier: l.ID,
			Title:      l.Title,
			Format:     l.ContentType,
		})
	}
	return xml.MarshalIndent(doc, "", "  ")
}

// --- WMS ---

type wmsCapabilities struct {
	XMLName xml.Name      `xml:"WMT_MS_Capabilities"`
	Version string        `xml:"version,attr"`
	Service wmsService    `xml:"Service"`
	Layers  []wmsLayerXML `xml:"Capability>Layer>Layer"`
}

type wmsService struct {
	Title    string `xml:"Title"`
	Abstract string `xml:"Abstract"`
}

type wmsLayerXML struct {
	Name     string  `xml:"Name"`
	Title    string  `xml:"Title"`
	SRS      string  `xml:"SRS"`
	LatLonBB wmsBBox `xml:"LatLonBoundingBox"`
}

type wmsBBox struct {
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

// WMSCapabilitiesDocument renders the WMS GetCapabilities body.
func WMSCapabilitiesDocument(service config.ServiceConfig, layers []Layer) ([]byte, error) {
	doc := wmsCapabilities{
		Version: "1.1.1",
		Service: wmsService{Title: service.Title, Abstract: service.Abstract},
	}
	for _, l := range layers {
		doc.Layers = append(doc.Layers, wmsLayerXML{
			Name:  l.ID,
			Title: l.Title,
			SRS:   "EPSG:3857",
			LatLonBB: wmsBBox{
				MinX: l.GeoBounds.MinLon, MinY: l.GeoBounds.MinLat,
				MaxX: l.GeoBounds.MaxLon, MaxY: l.GeoBounds.MaxLat,
			},
		})
	}
	return xml.MarshalIndent(doc, "", "  ")
}

// ServiceExceptionReport renders the OGC error body returned with
// HTTP 200 for WMS protocol/backend failures, per spec.md §6/§7.
func ServiceExceptionReport(message string) []byte {
	type exception struct {
		XMLName xml.Name `xml:"ServiceException"`
		Text    string   `xml:",chardata"`
	}
	type report struct {
		XMLName   xml.Name  `xml:"ServiceExceptionReport"`
		Version   string    `xml:"version,attr"`
		Exception exception `xml:"ServiceException"`
	}
	out, err := xml.MarshalIndent(report{Version: "1.1.1", Exception: exception{Text: message}}, "", "  ")
	if err != nil {
		return []byte(`<ServiceExceptionReport version="1.1.1"><ServiceException>internal error rendering exception</ServiceException></ServiceExceptionReport>`)
	}
	return append([]byte(xml.Header), out...)
}
