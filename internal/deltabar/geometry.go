package deltabar

import "math"

// DefaultBarWidth is the texture width of one genomic position, in pixels.
const DefaultBarWidth = 10.0

// Rect is one bar segment in texture coordinates.
type Rect struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Color    string  `json:"color"`
	Hex      uint32  `json:"hex"`
	Opacity  float64 `json:"opacity"`
	Column   int     `json:"column"`
	Category int     `json:"category"`
	Rank     int     `json:"rank"`
	Hidden   bool    `json:"hidden,omitempty"`
}

// Batch is the full geometry of one tile, rebuilt wholesale on every recompute.
//
// Rects holds one rectangle per (column, category) in ascending value rank within
// each column; it backs mouseover and export. Fills holds what gets painted, largest
// value first so smaller segments land on top.
type Batch struct {
	Rects       []Rect  `json:"rects"`
	Fills       []Rect  `json:"fills"`
	Columns     int     `json:"columns"`
	Categories  int     `json:"categories"`
	BarWidth    float64 `json:"bar_width"`
	TrackHeight float64 `json:"track_height"`
	LowestY     float64 `json:"lowest_y"`
	Border      bool    `json:"border"`
}

// linearScale maps [0, d1] onto [0, r1]. A zero-width domain maps everything to 0.
type linearScale struct {
	d1, r1 float64
}

func (s linearScale) at(v float64) float64 {
	if s.d1 == 0 || math.IsNaN(v) {
		return 0
	}
	return v / s.d1 * s.r1
}

// cell is a delta value paired with its category's color.
type cell struct {
	value    float64
	category int
}

// columnPartition splits a column's cells by sign. Only the non-negative side is
// stacked; the negative side contributes headroom through the tile extent.
type columnPartition struct {
	positive []cell
	negative []cell
	isNeg    []bool
}

func partition(col []float64) columnPartition {
	p := columnPartition{isNeg: make([]bool, len(col))}
	for i, v := range col {
		if math.IsNaN(v) {
			v = 0
		}
		c := cell{value: v, category: i}
		if v >= 0 {
			p.positive = append(p.positive, c)
		} else {
			p.negative = append(p.negative, c)
			p.isNeg[i] = true
		}
	}
	return p
}

// opacityRamp interpolates fill opacity over value rank: the smallest value gets max,
// the largest gets min. Unset options give full opacity.
type opacityRamp struct {
	enabled  bool
	min, max float64
	n        int
}

// newOpacityRamp returns the per-rank fill opacity. A zero minimum counts as unset
// and leaves every fill opaque.
func newOpacityRamp(opts Options, n int) opacityRamp {
	if opts.FillOpacityMin == nil || *opts.FillOpacityMin == 0 {
		return opacityRamp{}
	}
	r := opacityRamp{enabled: true, min: *opts.FillOpacityMin, max: 1, n: n}
	if opts.FillOpacityMax != nil {
		r.max = *opts.FillOpacityMax
	}
	return r
}

func (r opacityRamp) at(rank int) float64 {
	if !r.enabled {
		return 1
	}
	if r.n <= 1 {
		return r.max
	}
	return r.max + (r.min-r.max)*float64(rank)/float64(r.n-1)
}

// stackedInput bundles what BuildStacked consumes for one tile.
type stackedInput struct {
	deltas      Matrix
	sorted      [][]int
	extent      Extent
	palette     *palette
	opts        Options
	trackHeight float64
	barWidth    float64
}

// buildStacked lays out the stacked-delta bars of one tile.
func buildStacked(in stackedInput) *Batch {
	h := in.trackHeight
	w := in.barWidth
	numCategories := in.deltas.NumCategories()

	b := &Batch{
		Columns:     len(in.deltas),
		Categories:  numCategories,
		BarWidth:    w,
		TrackHeight: h,
		LowestY:     h,
		Border:      in.opts.BarBorder,
		Rects:       make([]Rect, 0, len(in.deltas)*numCategories),
		Fills:       make([]Rect, 0, len(in.deltas)*numCategories),
	}

	positiveMax := in.extent.Max
	var positiveTrackHeight float64
	if span := in.extent.Span(); span > 0 {
		positiveTrackHeight = h * positiveMax / span
	}
	toPixels := linearScale{d1: positiveMax, r1: positiveTrackHeight}
	ramp := newOpacityRamp(in.opts, numCategories)

	for j, col := range in.deltas {
		x := float64(j) * w
		part := partition(col)
		sorted := in.sorted[j]
		n := len(sorted)

		var total float64
		for _, c := range part.positive {
			total += c.value
		}
		remaining := toPixels.at(total)

		var stacked float64
		for i := 0; i < n; i++ {
			// Mouseover segment at ascending rank i.
			cat := sorted[i]
			var height float64
			if !part.isNeg[cat] {
				height = toPixels.at(col[cat])
			}
			b.Rects = append(b.Rects, Rect{
				X:        x,
				Y:        positiveTrackHeight - (stacked + height),
				Width:    w,
				Height:   height,
				Color:    in.palette.colors[cat],
				Hex:      in.palette.hex[cat],
				Opacity:  ramp.at(i),
				Column:   j,
				Category: cat,
				Rank:     i,
				Hidden:   in.palette.hidden[cat],
			})
			stacked += height

			// Fill segment, largest value first.
			rank := n - 1 - i
			fillCat := sorted[rank]
			if part.isNeg[fillCat] {
				continue
			}
			exposed := toPixels.at(col[fillCat])
			y := positiveTrackHeight - remaining
			opacity := ramp.at(rank)
			if in.palette.hidden[fillCat] {
				opacity = 0
			}
			b.Fills = append(b.Fills, Rect{
				X:        x,
				Y:        y,
				Width:    w,
				Height:   remaining,
				Color:    in.palette.colors[fillCat],
				Hex:      in.palette.hex[fillCat],
				Opacity:  opacity,
				Column:   j,
				Category: fillCat,
				Rank:     rank,
				Hidden:   in.palette.hidden[fillCat],
			})
			remaining -= exposed
			if y < b.LowestY {
				b.LowestY = y
			}
		}
	}
	return b
}

// Reposition computes a stacked tile sprite's vertical placement under the shared
// scale: the zero line sits |shared.Min| above the track bottom and the tile's
// positive extent rises above it.
func Reposition(shared, tile Extent, trackHeight float64) (y, height float64) {
	toPixels := linearScale{d1: shared.Span(), r1: trackHeight}
	zero := trackHeight - toPixels.at(math.Abs(shared.Min))
	height = toPixels.at(tile.Min + tile.Max)
	y = zero - toPixels.at(tile.Max)
	return y, height
}
