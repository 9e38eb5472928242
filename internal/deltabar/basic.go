package deltabar

import "math"

// buildBasic lays out the basic multiple-bar variant: every category gets its own
// horizontal lane and bars rise from the lane bottom, scaled by the shared maximum.
func buildBasic(m Matrix, shared Extent, pal *palette, opts Options, trackHeight, barWidth float64) *Batch {
	numCategories := m.NumCategories()
	b := &Batch{
		Columns:     len(m),
		Categories:  numCategories,
		BarWidth:    barWidth,
		TrackHeight: trackHeight,
		LowestY:     trackHeight,
		Border:      opts.BarBorder,
		Rects:       make([]Rect, 0, len(m)*numCategories),
	}
	if numCategories == 0 {
		return b
	}

	lane := trackHeight / float64(numCategories)
	toPixels := linearScale{d1: shared.Max, r1: lane}

	for i := 0; i < numCategories; i++ {
		for j, col := range m {
			v := col[i]
			if math.IsNaN(v) || v < 0 {
				v = 0
			}
			height := toPixels.at(v)
			y := lane*float64(i+1) - height
			opacity := 1.0
			if pal.hidden[i] {
				opacity = 0
			}
			b.Rects = append(b.Rects, Rect{
				X:        float64(j) * barWidth,
				Y:        y,
				Width:    barWidth,
				Height:   height,
				Color:    pal.colors[i],
				Hex:      pal.hex[i],
				Opacity:  opacity,
				Column:   j,
				Category: i,
				Rank:     i,
				Hidden:   pal.hidden[i],
			})
			if y < b.LowestY {
				b.LowestY = y
			}
		}
	}
	b.Fills = b.Rects
	return b
}
