package wmts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walkthru/tilemapserver/internal/config"
)

func TestInitPreservesOriginalTemplateInConfiguration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	tmpl := srv.URL + "/wmts/{TileMatrix}/{TileRow}/{TileCol}.png"
	s := New(config.SourceConfig{Location: tmpl})
	require.NoError(t, s.Init(context.Background()))

	require.Equal(t, tmpl, s.Configuration().Location)
}

func TestGetTileDelegatesThroughRewrittenTemplate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	tmpl := srv.URL + "/wmts/{TileMatrix}/{TileRow}/{TileCol}.png"
	s := New(config.SourceConfig{Location: tmpl})
	require.NoError(t, s.Init(context.Background()))

	data, err := s.GetTile(context.Background(), 2, 3, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("tile-bytes"), data)
	require.Equal(t, "/wmts/4/3/2.png", gotPath)
}

func TestInitFailsOnUnreachableCapabilitiesURL(t *testing.T) {
	s := New(config.SourceConfig{
		Location:        "http://example.invalid/{TileMatrix}/{TileRow}/{TileCol}.png",
		CapabilitiesURL: "http://127.0.0.1:1/capabilities.xml",
	})
	err := s.Init(context.Background())
	require.Error(t, err)
}

func TestConvertTemplateToXYZ(t *testing.T) {
	got := convertTemplateToXYZ("/wmts/{TileMatrix}/{TileRow}/{TileCol}.png")
	require.Equal(t, "/wmts/{z}/{y}/{x}.png", got)
}
