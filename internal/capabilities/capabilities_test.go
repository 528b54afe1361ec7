package capabilities

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walkthru/tilemapserver/internal/config"
	"github.com/walkthru/tilemapserver/internal/mercator"
)

func sampleLayer() Layer {
	return Layer{
		ID:          "base",
		Title:       "Base Layer",
		Format:      "png",
		ContentType: "image/png",
		MinZoom:     0,
		MaxZoom:     2,
		SRS:         "EPSG:3857",
		GeoBounds:   mercator.GeoBounds{MinLon: -180, MinLat: -85, MaxLon: 180, MaxLat: 85},
	}
}

func TestLayerFromConfigDefaults(t *testing.T) {
	l := layerFromConfig(config.SourceConfig{ID: "base"})
	require.Equal(t, "base", l.ID)
	require.Equal(t, "base", l.Title)
	require.Equal(t, "EPSG:3857", l.SRS)
	require.Equal(t, 22, l.MaxZoom)
	require.Equal(t, -180.0, l.GeoBounds.MinLon)
}

func TestLayerFromConfigHonorsZoomAndBounds(t *testing.T) {
	minZ, maxZ := 3, 9
	bounds := mercator.GeoBounds{MinLon: -10, MinLat: -5, MaxLon: 10, MaxLat: 5}
	l := layerFromConfig(config.SourceConfig{
		ID: "custom", Title: "Custom", MinZoom: &minZ, MaxZoom: &maxZ, GeoBounds: &bounds,
	})
	require.Equal(t, 3, l.MinZoom)
	require.Equal(t, 9, l.MaxZoom)
	require.Equal(t, bounds, l.GeoBounds)
}

func TestTMSServiceDocumentListsEveryLayer(t *testing.T) {
	doc, err := TMSServiceDocument([]Layer{sampleLayer()}, "http://localhost:8080")
	require.NoError(t, err)
	require.Contains(t, string(doc), `href="http://localhost:8080/tms/1.0.0/base"`)
}

func TestTMSLayerDocumentListsOneTileSetPerZoom(t *testing.T) {
	l := sampleLayer()
	doc, err := TMSLayerDocument(l, "http://localhost:8080")
	require.NoError(t, err)
	body := string(doc)
	require.Contains(t, body, `href="http://localhost:8080/tms/1.0.0/base/0"`)
	require.Contains(t, body, `href="http://localhost:8080/tms/1.0.0/base/1"`)
	require.Contains(t, body, `href="http://localhost:8080/tms/1.0.0/base/2"`)
}

func TestWMTSCapabilitiesDocumentIncludesLayerIdentifier(t *testing.T) {
	doc, err := WMTSCapabilitiesDocument([]Layer{sampleLayer()})
	require.NoError(t, err)
	require.Contains(t, string(doc), "<ows:Identifier>base</ows:Identifier>")
}

func TestWMSCapabilitiesDocumentIncludesServiceTitle(t *testing.T) {
	doc, err := WMSCapabilitiesDocument(config.ServiceConfig{Title: "My Tile Service"}, []Layer{sampleLayer()})
	require.NoError(t, err)
	require.Contains(t, string(doc), "My Tile Service")
	require.Contains(t, string(doc), "<Name>base</Name>")
}

func TestServiceExceptionReportIncludesMessage(t *testing.T) {
	doc := ServiceExceptionReport("layer not found")
	require.Contains(t, string(doc), "layer not found")
	require.Contains(t, string(doc), "ServiceExceptionReport")
}
