// Package service provides business logic for the tile server.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/deltabar-tiles/server/internal/cache"
	"github.com/deltabar-tiles/server/internal/deltabar"
	"github.com/deltabar-tiles/server/internal/optstore"
	"github.com/deltabar-tiles/server/internal/render"
	"github.com/deltabar-tiles/server/pkg/colormap"
)

// ErrInvalidOptions indicates an options update that cannot be applied to the track.
var ErrInvalidOptions = errors.New("invalid track options")

// Source reads multivec tiles of one track.
type Source interface {
	Tileset() deltabar.TilesetInfo
	ReadTile(zoom, pos int) (deltabar.TileData, error)
	Close()
}

// TrackServiceConfig contains track service configuration.
type TrackServiceConfig struct {
	TrackID        string
	Title          string
	Source         Source
	Cache          *cache.Manager
	Renderer       *render.TileRenderer
	Store          *optstore.Store // optional
	Options        deltabar.Options
	TrackHeight    float64
	BarWidth       float64
	TilePixelWidth int
	Logger         *log.Logger
}

// TrackService serves one track. The pipeline is not safe for concurrent use, so
// every operation holds mu.
type TrackService struct {
	trackID   string
	title     string
	source    Source
	cache     *cache.Manager
	renderer  *render.TileRenderer
	store     *optstore.Store
	log       *log.Logger
	tileWidth float64

	mu       sync.Mutex
	pipeline *deltabar.Pipeline
	base     deltabar.Options
	revision int64
}

// TileFailure reports a tile that could not be shown.
type TileFailure struct {
	ID    deltabar.TileID `json:"id"`
	Error string          `json:"error"`
}

// ViewTile is the placement of one visible tile.
type ViewTile struct {
	ID     deltabar.TileID  `json:"id"`
	Sprite *deltabar.Sprite `json:"sprite"`
	Extent deltabar.Extent  `json:"extent"`
}

// View is the state of the visible set after a view change.
type View struct {
	Zoom        int              `json:"zoom"`
	Tiles       []ViewTile       `json:"tiles"`
	Shared      deltabar.Extent  `json:"shared"`
	TrackHeight float64          `json:"track_height"`
	Options     deltabar.Options `json:"options"`
	Revision    int64            `json:"revision"`
	Failures    []TileFailure    `json:"failures,omitempty"`
}

// NewTrackService creates a track service and applies any persisted option override.
func NewTrackService(cfg TrackServiceConfig) (*TrackService, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("track %q: no data source", cfg.TrackID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("track", cfg.TrackID)

	tileWidth := cfg.TilePixelWidth
	if tileWidth <= 0 {
		tileWidth = 256
	}

	s := &TrackService{
		trackID:   cfg.TrackID,
		title:     cfg.Title,
		source:    cfg.Source,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		store:     cfg.Store,
		log:       logger,
		tileWidth: float64(tileWidth),
		base:      cfg.Options.Clone(),
	}
	if err := validateOptions(s.base, cfg.Source.Tileset()); err != nil {
		return nil, fmt.Errorf("track %q: %w", cfg.TrackID, err)
	}

	opts := s.base
	if s.store != nil {
		rec, err := s.store.Get(cfg.TrackID)
		if err != nil {
			return nil, fmt.Errorf("track %q: failed to load options: %w", cfg.TrackID, err)
		}
		if rec != nil {
			if err := validateOptions(rec.Options, cfg.Source.Tileset()); err != nil {
				logger.Warn("ignoring stored options", "err", err)
			} else {
				opts = rec.Options
				s.revision = rec.Revision
				logger.Info("applied stored options", "revision", rec.Revision)
			}
		}
	}

	var backend deltabar.Backend
	if cfg.Renderer != nil {
		backend = cfg.Renderer
	}
	s.pipeline = deltabar.New(deltabar.Config{
		Options:     opts,
		Tileset:     cfg.Source.Tileset(),
		TrackHeight: cfg.TrackHeight,
		BarWidth:    cfg.BarWidth,
		Backend:     backend,
		Logger:      logger,
	})
	return s, nil
}

// OptionsFromMap decodes config-file options onto the defaults.
func OptionsFromMap(trackType string, m map[string]any) (deltabar.Options, error) {
	opts := deltabar.DefaultOptions()
	if len(m) > 0 {
		b, err := json.Marshal(m)
		if err != nil {
			return opts, fmt.Errorf("failed to encode options: %w", err)
		}
		if err := json.Unmarshal(b, &opts); err != nil {
			return opts, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	if trackType != "" {
		opts.TrackType = deltabar.TrackType(trackType)
	}
	return opts, nil
}

// ID returns the track id.
func (s *TrackService) ID() string { return s.trackID }

// Title returns the display title.
func (s *TrackService) Title() string { return s.title }

// TilesetInfo returns the tileset metadata.
func (s *TrackService) TilesetInfo() deltabar.TilesetInfo {
	return s.source.Tileset()
}

// Options returns the active options and their revision.
func (s *TrackService) Options() (deltabar.Options, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.Options(), s.revision
}

// UpdateOptions validates and applies new options, persisting them when a store is
// configured. Every loaded tile is rebuilt.
func (s *TrackService) UpdateOptions(opts deltabar.Options) (deltabar.Options, int64, error) {
	if err := validateOptions(opts, s.source.Tileset()); err != nil {
		return deltabar.Options{}, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		rec, err := s.store.Put(s.trackID, opts)
		if err != nil {
			return deltabar.Options{}, 0, fmt.Errorf("failed to persist options: %w", err)
		}
		s.revision = rec.Revision
	} else {
		s.revision++
	}
	s.pipeline.Rerender(opts)
	s.log.Info("options updated", "revision", s.revision)
	return s.pipeline.Options(), s.revision, nil
}

// ResetOptions drops any override and returns to the configured options.
func (s *TrackService) ResetOptions() (deltabar.Options, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(s.trackID); err != nil {
			return deltabar.Options{}, 0, fmt.Errorf("failed to delete options: %w", err)
		}
	}
	s.revision++
	s.pipeline.Rerender(s.base)
	return s.pipeline.Options(), s.revision, nil
}

// SetTrackHeight changes the drawable height and rebuilds the visible tiles.
func (s *TrackService) SetTrackHeight(h float64) error {
	if h <= 0 || math.IsNaN(h) {
		return fmt.Errorf("%w: track height must be positive", ErrInvalidOptions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h != s.pipeline.TrackHeight() {
		s.pipeline.SetDimensions(h)
	}
	return nil
}

// View makes the given positions of one zoom level the visible set. Missing tiles
// are fetched; tiles that fail are reported and skipped. Every other loaded tile
// is evicted.
func (s *TrackService) View(zoom int, positions []int) (*View, error) {
	info := s.source.Tileset()
	if zoom < 0 || zoom > info.MaxZoom {
		return nil, fmt.Errorf("invalid zoom level: %d", zoom)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]deltabar.TileID, 0, len(positions))
	for _, pos := range positions {
		id := deltabar.TileID{Zoom: zoom, Pos: pos}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	for _, old := range s.pipeline.Tiles() {
		if !slices.Contains(ids, old) {
			s.pipeline.Evict(old)
		}
	}

	var failures []TileFailure
	for _, id := range ids {
		if err := s.ensureLocked(id); err != nil {
			failures = append(failures, TileFailure{ID: id, Error: err.Error()})
		}
	}
	s.pipeline.SetVisible(ids)

	v := &View{
		Zoom:        zoom,
		Shared:      s.pipeline.Shared(),
		TrackHeight: s.pipeline.TrackHeight(),
		Options:     s.pipeline.Options(),
		Revision:    s.revision,
		Failures:    failures,
	}
	for _, id := range s.pipeline.Visible() {
		sprite, err := s.pipeline.Sprite(id)
		if err != nil {
			continue
		}
		ext, _ := s.pipeline.Extent(id)
		v.Tiles = append(v.Tiles, ViewTile{ID: id, Sprite: sprite, Extent: ext})
	}
	return v, nil
}

// ensureLocked loads a tile into the pipeline unless it is already there. Loading
// does not make the tile visible, so reads outside the view leave the shared scale
// alone.
func (s *TrackService) ensureLocked(id deltabar.TileID) error {
	if s.pipeline.Loaded(id) {
		return nil
	}
	td, err := s.loadTile(id)
	if err != nil {
		return err
	}
	return s.pipeline.Load(td, deltabar.Span{X: float64(id.Pos) * s.tileWidth, Width: s.tileWidth})
}

// loadTile fetches a payload through the tile cache.
func (s *TrackService) loadTile(id deltabar.TileID) (deltabar.TileData, error) {
	key := cache.TileKey(s.trackID, id)
	if s.cache != nil {
		if td, ok := s.cache.GetTile(key); ok {
			return td, nil
		}
	}

	td, err := s.source.ReadTile(id.Zoom, id.Pos)
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to read tile %s: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.SetTile(key, td); err != nil {
			s.log.Debug("tile not cached", "tile", id, "err", err)
		}
	}
	return td, nil
}

// Geometry returns the rectangle batch of a tile, loading it first when needed.
func (s *TrackService) Geometry(id deltabar.TileID) (*deltabar.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(id); err != nil {
		return nil, err
	}
	return s.pipeline.Geometry(id)
}

// TexturePNG returns the rasterized texture of a tile.
func (s *TrackService) TexturePNG(id deltabar.TileID) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("track %q has no renderer", s.trackID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(id); err != nil {
		return nil, err
	}

	key := cache.TextureKey(s.trackID, id, s.revision, s.pipeline.TrackHeight(), s.pipeline.Shared())
	if s.cache != nil {
		if data, ok := s.cache.GetRender(key); ok {
			return data, nil
		}
	}

	sprite, err := s.pipeline.Sprite(id)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.EncodePNG(sprite.Texture)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tile %s: %w", id, err)
	}
	if s.cache != nil {
		s.cache.SetRender(key, data)
	}
	return data, nil
}

// EmptyTexture returns a transparent PNG one tile wide and one track high.
func (s *TrackService) EmptyTexture() ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("track %q has no renderer", s.trackID)
	}
	s.mu.Lock()
	h := int(math.Ceil(s.pipeline.TrackHeight()))
	s.mu.Unlock()
	return s.renderer.CreateEmptyTile(int(s.tileWidth), max(h, 1))
}

// Lookup answers a mouseover query in texture coordinates.
func (s *TrackService) Lookup(id deltabar.TileID, column int, y float64) (deltabar.Hit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(id); err != nil {
		return deltabar.Hit{}, false, err
	}
	return s.pipeline.Lookup(id, column, y)
}

// LookupTrack answers a mouseover query in track coordinates.
func (s *TrackService) LookupTrack(id deltabar.TileID, column int, trackY float64) (deltabar.Hit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(id); err != nil {
		return deltabar.Hit{}, false, err
	}
	return s.pipeline.LookupTrack(id, column, trackY)
}

// ExportSVG renders the visible tiles as one SVG document, shifted so the leftmost
// tile starts at x=0.
func (s *TrackService) ExportSVG() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := s.pipeline.Visible()
	trackHeight := s.pipeline.TrackHeight()
	key := cache.ExportKey(s.trackID, s.revision, trackHeight, visible)
	if s.cache != nil {
		if data, ok := s.cache.GetRender(key); ok {
			return data, nil
		}
	}

	tiles := s.pipeline.Export()
	left, right := math.Inf(1), math.Inf(-1)
	for _, t := range tiles {
		left = min(left, t.X)
		right = max(right, t.X+s.tileWidth)
	}
	width := 0.0
	if len(tiles) > 0 {
		for i := range tiles {
			tiles[i].X -= left
		}
		width = right - left
	}

	data := render.RenderSVG(tiles, width, trackHeight, render.WithTitle(s.title))
	if s.cache != nil {
		s.cache.SetRender(key, data)
	}
	return data, nil
}

// Close releases the data source.
func (s *TrackService) Close() {
	s.source.Close()
}

func validateOptions(opts deltabar.Options, info deltabar.TilesetInfo) error {
	switch opts.TrackType {
	case "", deltabar.TrackStackedDelta, deltabar.TrackBasicMultipleBar:
	default:
		return fmt.Errorf("%w: unknown track type %q", ErrInvalidOptions, opts.TrackType)
	}
	switch opts.ValueScaling {
	case "", deltabar.ScalingLinear, deltabar.ScalingExponential:
	default:
		return fmt.Errorf("%w: unknown value scaling %q", ErrInvalidOptions, opts.ValueScaling)
	}
	for _, c := range opts.ColorScale {
		if _, err := colormap.Parse(c); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	for i, sel := range opts.SelectRows {
		if len(sel.Indices) == 0 {
			return fmt.Errorf("%w: selectRows[%d] is empty", ErrInvalidOptions, i)
		}
		for _, idx := range sel.Indices {
			if idx < 0 || (info.NumCategories > 0 && idx >= info.NumCategories) {
				return fmt.Errorf("%w: selectRows[%d] references row %d", ErrInvalidOptions, i, idx)
			}
		}
	}
	for name, v := range map[string]*float64{"fillOpacityMin": opts.FillOpacityMin, "fillOpacityMax": opts.FillOpacityMax} {
		if v != nil && (*v < 0 || *v > 1 || math.IsNaN(*v)) {
			return fmt.Errorf("%w: %s must be within [0, 1]", ErrInvalidOptions, name)
		}
	}
	return nil
}
