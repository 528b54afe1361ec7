package wms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/walkthru/tilemapserver/internal/config"
)

func TestGetTileIssuesGetMapRequest(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	s := New(config.SourceConfig{ID: "roads", Location: srv.URL + "/wms"})
	require.NoError(t, s.Init(context.Background()))

	data, err := s.GetTile(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("tile-bytes"), data)
	require.Contains(t, gotQuery, "LAYERS=roads")
	require.Contains(t, gotQuery, "REQUEST=GetMap")
	require.Contains(t, gotQuery, "WIDTH=256")
}

func TestGetTileDetectsServiceException(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.ogc.se_xml")
		w.Write([]byte("<ServiceExceptionReport><ServiceException>Layer not defined</ServiceException></ServiceExceptionReport>"))
	}))
	defer srv.Close()

	s := New(config.SourceConfig{ID: "roads", Location: srv.URL + "/wms"})
	require.NoError(t, s.Init(context.Background()))

	_, err := s.GetTile(context.Background(), 0, 0, 0)
	require.Error(t, err)
}

func TestGetTileTreatsNon2xxAsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(config.SourceConfig{ID: "roads", Location: srv.URL + "/wms"})
	require.NoError(t, s.Init(context.Background()))

	_, err := s.GetTile(context.Background(), 0, 0, 0)
	require.Error(t, err)
}

func TestGetTileHonorsZoomRange(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	minZ := 3
	s := New(config.SourceConfig{ID: "roads", Location: srv.URL + "/wms", MinZoom: &minZ})
	require.NoError(t, s.Init(context.Background()))

	data, err := s.GetTile(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	require.Nil(t, data)
	require.False(t, called)
}

func TestInitRequiresLocation(t *testing.T) {
	s := New(config.SourceConfig{})
	err := s.Init(context.Background())
	require.Error(t, err)
}
