package tilecache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walkthru/tilemapserver/internal/config"
)

// countingSource returns a fixed tile and counts how many times GetTile
// was actually invoked, to exercise the single-flight property.
type countingSource struct {
	calls int64
	cfg   config.SourceConfig
}

func (s *countingSource) Init(ctx context.Context) error { return nil }
func (s *countingSource) Configuration() config.SourceConfig {
	return s.cfg
}
func (s *countingSource) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	atomic.AddInt64(&s.calls, 1)
	return []byte(fmt.Sprintf("tile-%d-%d-%d", x, y, z)), nil
}

func TestCacheHitsInnerExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	inner := &countingSource{cfg: config.SourceConfig{ID: "remote", Type: config.TypeXYZ}}
	c := New(inner, filepath.Join(dir, "cache.mbtiles"))

	require.NoError(t, c.Init(context.Background()))
	defer c.Close()

	data1, err := c.GetTile(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("tile-0-0-1"), data1)
	require.EqualValues(t, 1, atomic.LoadInt64(&inner.calls))

	data2, err := c.GetTile(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	require.Equal(t, data1, data2)
	require.EqualValues(t, 1, atomic.LoadInt64(&inner.calls), "second call must be served from cache")
}

func TestCacheSingleFlightConcurrent(t *testing.T) {
	dir := t.TempDir()
	inner := &countingSource{cfg: config.SourceConfig{ID: "remote", Type: config.TypeXYZ}}
	c := New(inner, filepath.Join(dir, "cache.mbtiles"))

	require.NoError(t, c.Init(context.Background()))
	defer c.Close()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.GetTile(context.Background(), 3, 4, 5)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&inner.calls))
}
