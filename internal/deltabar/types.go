// Package deltabar turns flat multivec tile payloads into stacked-delta
// bar geometry and a mouseover lookup structure.
//
// The pipeline is strictly sequential for one invocation:
//
//	reshape -> per-column sort/delta transform -> min/max sync -> geometry -> mouseover index
//
// A Pipeline is not safe for concurrent use; the owner serializes calls.
package deltabar

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TileID identifies a tile by zoom level and position along the track.
type TileID struct {
	Zoom int `json:"zoom"`
	Pos  int `json:"pos"`
}

func (id TileID) String() string {
	return fmt.Sprintf("%d.%d", id.Zoom, id.Pos)
}

// TileData is the fetch result for one tile.
// Dense is category-major: value (category i, position j) is Dense[Shape[1]*i+j].
type TileData struct {
	Zoom  int       `json:"zoom"`
	Pos   int       `json:"tile_pos"`
	Dense []float64 `json:"dense"`
	Shape [2]int    `json:"shape"`
}

// ID returns the tile's key.
func (t TileData) ID() TileID {
	return TileID{Zoom: t.Zoom, Pos: t.Pos}
}

// RowInfo describes one source category of the tileset.
type RowInfo struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// UnmarshalJSON accepts either a plain string (the name) or a {name, color} object.
func (r *RowInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = RowInfo{Name: name}
		return nil
	}
	type plain RowInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RowInfo(p)
	return nil
}

// TilesetInfo is the metadata of a multivec tileset.
type TilesetInfo struct {
	TileSize      int       `json:"tile_size"`
	MaxZoom       int       `json:"max_zoom"`
	NumCategories int       `json:"num_categories"`
	RowInfos      []RowInfo `json:"row_infos,omitempty"`
}

// rowName returns the display name of a source category.
func (t TilesetInfo) rowName(idx int) string {
	if idx >= 0 && idx < len(t.RowInfos) && t.RowInfos[idx].Name != "" {
		return t.RowInfos[idx].Name
	}
	return fmt.Sprintf("row %d", idx)
}

// RowSelector maps one output row to a single source category or to a sum of several.
type RowSelector struct {
	Indices   []int
	Aggregate bool
}

// Row selects a single source category.
func Row(idx int) RowSelector {
	return RowSelector{Indices: []int{idx}}
}

// Sum aggregates several source categories into one row.
func Sum(idx ...int) RowSelector {
	return RowSelector{Indices: append([]int(nil), idx...), Aggregate: true}
}

// UnmarshalJSON accepts a number (single row) or an array of numbers (aggregated row).
func (s *RowSelector) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var idx []int
		if err := json.Unmarshal(data, &idx); err != nil {
			return err
		}
		*s = RowSelector{Indices: idx, Aggregate: true}
		return nil
	}
	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("selectRows entry must be an index or a list of indices: %w", err)
	}
	*s = Row(idx)
	return nil
}

// MarshalJSON writes the same shape UnmarshalJSON accepts.
func (s RowSelector) MarshalJSON() ([]byte, error) {
	if s.Aggregate {
		return json.Marshal(s.Indices)
	}
	if len(s.Indices) != 1 {
		return nil, fmt.Errorf("%w: single-row selector with %d indices", ErrSelection, len(s.Indices))
	}
	return json.Marshal(s.Indices[0])
}

// ValueScaling is the vertical value-scaling mode of a track.
type ValueScaling string

const (
	ScalingLinear      ValueScaling = "linear"
	ScalingExponential ValueScaling = "exponential"
)

// TrackType selects the layout variant.
type TrackType string

const (
	TrackStackedDelta     TrackType = "horizontal-stacked-delta-bar"
	TrackBasicMultipleBar TrackType = "basic-multiple-bar-chart"
)

// Options configures a track. Values are validated upstream.
type Options struct {
	TrackType        TrackType     `json:"trackType,omitempty"`
	ColorScale       []string      `json:"colorScale,omitempty"`
	SelectRows       []RowSelector `json:"selectRows,omitempty"`
	ValueScaling     ValueScaling  `json:"valueScaling,omitempty"`
	BarBorder        bool          `json:"barBorder"`
	FillOpacityMin   *float64      `json:"fillOpacityMin,omitempty"`
	FillOpacityMax   *float64      `json:"fillOpacityMax,omitempty"`
	HideColorByIndex *int          `json:"hideColorByIndex,omitempty"`
}

// DefaultOptions returns the options a track starts with.
func DefaultOptions() Options {
	opMin, opMax := 0.1, 1.0
	return Options{
		TrackType:      TrackStackedDelta,
		ValueScaling:   ScalingLinear,
		BarBorder:      true,
		FillOpacityMin: &opMin,
		FillOpacityMax: &opMax,
	}
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	c := o
	c.ColorScale = append([]string(nil), o.ColorScale...)
	if o.SelectRows != nil {
		c.SelectRows = make([]RowSelector, len(o.SelectRows))
		for i, s := range o.SelectRows {
			c.SelectRows[i] = RowSelector{Indices: append([]int(nil), s.Indices...), Aggregate: s.Aggregate}
		}
	}
	if o.FillOpacityMin != nil {
		v := *o.FillOpacityMin
		c.FillOpacityMin = &v
	}
	if o.FillOpacityMax != nil {
		v := *o.FillOpacityMax
		c.FillOpacityMax = &v
	}
	if o.HideColorByIndex != nil {
		v := *o.HideColorByIndex
		c.HideColorByIndex = &v
	}
	return c
}
