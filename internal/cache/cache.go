// Package cache provides caching for raw tile payloads and rendered output.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	RenderCacheSize int
}

// Manager manages the payload and render caches.
type Manager struct {
	tileCache   *bigcache.BigCache
	renderCache *lru.Cache[string, []byte]

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	// Configure tile cache
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       64 * 1024, // compressed payload per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	renderCache, err := lru.New[string, []byte](cfg.RenderCacheSize)
	if err != nil {
		tileCache.Close()
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		tileCache.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		tileCache.Close()
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Manager{
		tileCache:   tileCache,
		renderCache: renderCache,
		enc:         enc,
		dec:         dec,
	}, nil
}

// GetTile retrieves a tile payload from cache.
func (m *Manager) GetTile(key string) (deltabar.TileData, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return deltabar.TileData{}, false
	}
	raw, err := m.dec.DecodeAll(data, nil)
	if err != nil {
		return deltabar.TileData{}, false
	}
	td, err := decodeTile(raw)
	if err != nil {
		return deltabar.TileData{}, false
	}
	return td, true
}

// SetTile stores a tile payload in cache.
func (m *Manager) SetTile(key string, td deltabar.TileData) error {
	return m.tileCache.Set(key, m.enc.EncodeAll(encodeTile(td), nil))
}

// GetRender retrieves rendered output (PNG, SVG) from cache.
func (m *Manager) GetRender(key string) ([]byte, bool) {
	return m.renderCache.Get(key)
}

// SetRender stores rendered output in cache.
func (m *Manager) SetRender(key string, data []byte) {
	m.renderCache.Add(key, data)
}

// TileKey generates a cache key for a raw tile payload.
func TileKey(track string, id deltabar.TileID) string {
	return fmt.Sprintf("tile:%s:%d/%d", track, id.Zoom, id.Pos)
}

// TextureKey generates a cache key for a tile texture. The revision changes whenever
// the track options change; the shared scale matters for layouts that depend on it.
func TextureKey(track string, id deltabar.TileID, revision int64, trackHeight float64, shared deltabar.Extent) string {
	return fmt.Sprintf("png:%s:%d/%d:r%d:h%g:s%g,%g", track, id.Zoom, id.Pos, revision, trackHeight, shared.Min, shared.Max)
}

// ExportKey generates a cache key for an SVG export of a visible tile set.
func ExportKey(track string, revision int64, trackHeight float64, ids []deltabar.TileID) string {
	base := fmt.Sprintf("svg:%s:r%d:h%g", track, revision, trackHeight)
	if len(ids) == 0 {
		return base
	}

	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b deltabar.TileID) int {
		if a.Zoom != b.Zoom {
			return a.Zoom - b.Zoom
		}
		return a.Pos - b.Pos
	})

	// Hash the tile set for the cache key
	h := sha256.New()
	for _, id := range sorted {
		fmt.Fprintf(h, "%d.%d;", id.Zoom, id.Pos)
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":   m.tileCache.Len(),
		"tile_cache_cap":   m.tileCache.Capacity(),
		"render_cache_len": m.renderCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	m.enc.Close()
	m.dec.Close()
	return m.tileCache.Close()
}
