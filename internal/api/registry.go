package api

import (
	"github.com/deltabar-tiles/server/internal/deltabar"
	"github.com/deltabar-tiles/server/internal/service"
)

// TrackInfo contains information about a track for the API response.
type TrackInfo struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	TrackType     deltabar.TrackType `json:"track_type"`
	NumCategories int                `json:"num_categories"`
	MaxZoom       int                `json:"max_zoom"`
}

// TrackRegistry holds track services for all configured tracks.
type TrackRegistry struct {
	services     map[string]*service.TrackService
	defaultTrack string
	trackOrder   []string
	title        string
}

// NewTrackRegistry creates a new track registry.
func NewTrackRegistry(defaultTrack string, order []string, title string) *TrackRegistry {
	return &TrackRegistry{
		services:     make(map[string]*service.TrackService),
		defaultTrack: defaultTrack,
		trackOrder:   order,
		title:        title,
	}
}

// Register adds a track service.
func (r *TrackRegistry) Register(trackID string, svc *service.TrackService) {
	r.services[trackID] = svc
}

// Get returns the service of a track, or nil if not found.
func (r *TrackRegistry) Get(trackID string) *service.TrackService {
	return r.services[trackID]
}

// DefaultTrackID returns the default track ID.
func (r *TrackRegistry) DefaultTrackID() string {
	return r.defaultTrack
}

// Title returns the configured site title.
func (r *TrackRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Deltabar Tiles"
}

// Tracks returns track info for all registered tracks in config order.
func (r *TrackRegistry) Tracks() []TrackInfo {
	infos := make([]TrackInfo, 0, len(r.trackOrder))
	for _, id := range r.trackOrder {
		svc := r.services[id]
		if svc == nil {
			continue
		}
		ts := svc.TilesetInfo()
		opts, _ := svc.Options()
		name := svc.Title()
		if name == "" {
			name = id
		}
		infos = append(infos, TrackInfo{
			ID:            id,
			Name:          name,
			TrackType:     opts.TrackType,
			NumCategories: ts.NumCategories,
			MaxZoom:       ts.MaxZoom,
		})
	}
	return infos
}

// Close releases every track's data source.
func (r *TrackRegistry) Close() {
	for _, svc := range r.services {
		svc.Close()
	}
}
