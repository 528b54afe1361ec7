// Package tilesource defines the uniform Source contract every backend
// (C4a-C4g) implements, plus the immutable Registry built once at
// startup. Grounded on spec.md §9's "dynamic source dispatch" guidance:
// a tagged variant of backend configs behind a single capability set.
package tilesource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/walkthru/tilemapserver/internal/config"
)

// Source is the contract every tile backend implements. Init may perform
// I/O and is called once, eagerly, at startup. GetTile must tolerate
// concurrent invocation from unrelated requests.
type Source interface {
	// Init opens/probes the backend. Returns a tmserr-wrapped
	// ConfigError or BackendInitError on failure.
	Init(ctx context.Context) error

	// GetTile returns (nil, nil) if the tile is legitimately absent,
	// (bytes, nil) on success, or (nil, err) on unexpected failure.
	GetTile(ctx context.Context, x, y, z int) ([]byte, error)

	// Configuration returns the post-init source record (format,
	// content type, zoom range, bounds filled in).
	Configuration() config.SourceConfig
}

// Stats is a lightweight per-source counter, in the spirit of the
// teacher's PersistentTileCache.Stats() (internal/cache/persistent_cache.go).
type Stats struct {
	Requests uint64
	Errors   uint64
	Misses   uint64
}

// Entry pairs a Source with its request counters.
type Entry struct {
	Source Source

	requests uint64
	errors   uint64
	misses   uint64
}

// GetTile wraps Source.GetTile, bumping the entry's counters.
func (e *Entry) GetTile(ctx context.Context, x, y, z int) ([]byte, error) {
	atomic.AddUint64(&e.requests, 1)
	data, err := e.Source.GetTile(ctx, x, y, z)
	if err != nil {
		atomic.AddUint64(&e.errors, 1)
	} else if data == nil {
		atomic.AddUint64(&e.misses, 1)
	}
	return data, err
}

// Stats returns a snapshot of this entry's counters.
func (e *Entry) Stats() Stats {
	return Stats{
		Requests: atomic.LoadUint64(&e.requests),
		Errors:   atomic.LoadUint64(&e.errors),
		Misses:   atomic.LoadUint64(&e.misses),
	}
}

// Registry is an immutable name->source map, populated once at startup
// via Builder and looked up in O(1) thereafter.
type Registry struct {
	entries map[string]*Entry
}

// Lookup returns the entry for id, or ok=false if no such source exists.
func (r *Registry) Lookup(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// IDs returns every registered source id, order unspecified.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered sources.
func (r *Registry) Len() int { return len(r.entries) }

// Builder accumulates sources before freezing them into a Registry.
// Add and Build are guarded by a mutex; intended for use during startup.
type Builder struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]*Entry)}
}

// Add registers src under id. Returns an error if id is already taken.
func (b *Builder) Add(id string, src Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[id]; exists {
		return fmt.Errorf("tilesource: duplicate source id %q", id)
	}
	b.entries[id] = &Entry{Source: src}
	return nil
}

// Build freezes the accumulated sources into a Registry.
func (b *Builder) Build() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	frozen := make(map[string]*Entry, len(b.entries))
	for id, e := range b.entries {
		frozen[id] = e
	}
	return &Registry{entries: frozen}
}
