package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/deltabar-tiles/server/internal/api"
	"github.com/deltabar-tiles/server/internal/cache"
	"github.com/deltabar-tiles/server/internal/config"
	"github.com/deltabar-tiles/server/internal/data/tiledb"
	"github.com/deltabar-tiles/server/internal/data/zarr"
	"github.com/deltabar-tiles/server/internal/optstore"
	"github.com/deltabar-tiles/server/internal/render"
	"github.com/deltabar-tiles/server/internal/service"
)

// app holds the shared components behind every track.
type app struct {
	registry *api.TrackRegistry
	cache    *cache.Manager
	store    *optstore.Store
}

func (a *app) Close() {
	a.registry.Close()
	if a.store != nil {
		a.store.Close()
	}
	a.cache.Close()
}

// openApp initializes the caches, the option store and one service per track. When
// only is given, just those tracks are opened.
func openApp(cfg *config.Config, logger *log.Logger, only ...string) (*app, error) {
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		RenderCacheSize: cfg.Cache.RenderCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a := &app{cache: cacheManager}

	if cfg.Store.SQLitePath != "" {
		store, err := optstore.NewStore(cfg.Store.SQLitePath)
		if err != nil {
			cacheManager.Close()
			return nil, fmt.Errorf("failed to open option store: %w", err)
		}
		a.store = store
		logger.Info("option store opened", "path", cfg.Store.SQLitePath)
	}

	renderer := render.NewTileRenderer(render.Config{})

	trackIDs := cfg.Data.TrackIDs()
	if len(only) > 0 {
		trackIDs = only
	}
	a.registry = api.NewTrackRegistry(cfg.Data.DefaultTrack, trackIDs, cfg.Server.Title)

	logger.Info("initializing tracks", "count", len(trackIDs), "default", cfg.Data.DefaultTrack)
	for _, trackID := range trackIDs {
		tc, ok := cfg.Data.Tracks[trackID]
		if !ok {
			a.Close()
			return nil, fmt.Errorf("unknown track %q", trackID)
		}

		src, where, err := openSource(tc)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("track %q: %w", trackID, err)
		}

		opts, err := service.OptionsFromMap(tc.Type, tc.Options)
		if err != nil {
			src.Close()
			a.Close()
			return nil, fmt.Errorf("track %q: %w", trackID, err)
		}

		svc, err := service.NewTrackService(service.TrackServiceConfig{
			TrackID:        trackID,
			Title:          trackID,
			Source:         src,
			Cache:          cacheManager,
			Renderer:       renderer,
			Store:          a.store,
			Options:        opts,
			TrackHeight:    float64(cfg.Render.TrackHeight),
			BarWidth:       cfg.Render.BarWidth,
			TilePixelWidth: cfg.Render.TilePixelWidth,
			Logger:         logger,
		})
		if err != nil {
			src.Close()
			a.Close()
			return nil, err
		}
		a.registry.Register(trackID, svc)

		ts := src.Tileset()
		logger.Info("track loaded", "track", trackID, "source", where,
			"type", opts.TrackType, "categories", ts.NumCategories, "max_zoom", ts.MaxZoom)
	}
	return a, nil
}

func openSource(tc config.TrackConfig) (service.Source, string, error) {
	switch {
	case tc.ZarrPath != "":
		r, err := zarr.NewReader(tc.ZarrPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open zarr store: %w", err)
		}
		return r, tc.ZarrPath, nil
	case tc.TileDBURI != "":
		r, err := tiledb.NewReader(tc.TileDBURI)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open tiledb arrays: %w", err)
		}
		if !r.Supported() {
			r.Close()
			return nil, "", fmt.Errorf("%s: %w", tc.TileDBURI, tiledb.ErrUnsupported)
		}
		return r, tc.TileDBURI, nil
	default:
		return nil, "", fmt.Errorf("no zarr_path or tiledb_uri configured")
	}
}
