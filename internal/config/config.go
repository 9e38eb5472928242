// Package config handles configuration loading for the deltabar tile server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// TrackConfig describes one multivec track. Exactly one of ZarrPath and TileDBURI
// is expected; ZarrPath wins when both are set.
type TrackConfig struct {
	ZarrPath  string         `yaml:"zarr_path"`
	TileDBURI string         `yaml:"tiledb_uri"`
	Type      string         `yaml:"type"`
	Options   map[string]any `yaml:"options"`
}

// DataConfig contains the configured tracks in YAML order.
type DataConfig struct {
	DefaultTrack string
	Tracks       map[string]TrackConfig
	order        []string
}

// TrackIDs returns the track ids in the order they appear in the config file.
func (d DataConfig) TrackIDs() []string {
	return append([]string(nil), d.order...)
}

// UnmarshalYAML decodes the data section, keeping the order of the tracks mapping.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected mapping, got %v", node.Tag)
	}
	d.Tracks = make(map[string]TrackConfig)
	d.order = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "default_track":
			if err := val.Decode(&d.DefaultTrack); err != nil {
				return fmt.Errorf("data.default_track: %w", err)
			}
		case "tracks":
			if val.Kind != yaml.MappingNode {
				return fmt.Errorf("data.tracks: expected mapping")
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				id := val.Content[j].Value
				var tc TrackConfig
				if err := val.Content[j+1].Decode(&tc); err != nil {
					return fmt.Errorf("data.tracks.%s: %w", id, err)
				}
				if _, dup := d.Tracks[id]; !dup {
					d.order = append(d.order, id)
				}
				d.Tracks[id] = tc
			}
		default:
			return fmt.Errorf("data: unknown key %q", key.Value)
		}
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB      int `yaml:"tile_size_mb"`
	TileTTLMinutes  int `yaml:"tile_ttl_minutes"`
	RenderCacheSize int `yaml:"render_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TrackHeight    int     `yaml:"track_height"`
	TilePixelWidth int     `yaml:"tile_pixel_width"`
	BarWidth       float64 `yaml:"bar_width"`
}

// StoreConfig points at the option override database.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if _, ok := cfg.Data.Tracks[cfg.Data.DefaultTrack]; !ok {
		return nil, fmt.Errorf("data.default_track %q is not a configured track", cfg.Data.DefaultTrack)
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Deltabar Tiles",
		},
		Data: DataConfig{
			DefaultTrack: "default",
			Tracks: map[string]TrackConfig{
				"default": {ZarrPath: "./data/multivec.zarr", Type: "horizontal-stacked-delta-bar"},
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			TileSizeMB:      512,
			TileTTLMinutes:  10,
			RenderCacheSize: 1024,
		},
		Render: RenderConfig{
			TrackHeight:    120,
			TilePixelWidth: 256,
			BarWidth:       10,
		},
		Store: StoreConfig{
			SQLitePath: "./data/options.sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Data.Tracks) == 0 {
		cfg.Data.Tracks = defaults.Data.Tracks
		cfg.Data.order = defaults.Data.order
	}
	if cfg.Data.DefaultTrack == "" {
		// First track in YAML order
		cfg.Data.DefaultTrack = cfg.Data.order[0]
	}
	for id, tc := range cfg.Data.Tracks {
		if tc.Type == "" {
			tc.Type = "horizontal-stacked-delta-bar"
			cfg.Data.Tracks[id] = tc
		}
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.RenderCacheSize == 0 {
		cfg.Cache.RenderCacheSize = defaults.Cache.RenderCacheSize
	}
	if cfg.Render.TrackHeight == 0 {
		cfg.Render.TrackHeight = defaults.Render.TrackHeight
	}
	if cfg.Render.TilePixelWidth == 0 {
		cfg.Render.TilePixelWidth = defaults.Render.TilePixelWidth
	}
	if cfg.Render.BarWidth == 0 {
		cfg.Render.BarWidth = defaults.Render.BarWidth
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}
