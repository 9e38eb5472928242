package deltabar

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Extent holds the stacked totals of a tile or of the visible set.
// Min is a non-negative magnitude: the largest absolute sum of non-positive values.
type Extent struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max + |Min|, the full dynamic range the extent occupies.
func (e Extent) Span() float64 {
	return e.Max + math.Abs(e.Min)
}

// FindMaxAndMin computes a tile's extent. Max is the largest per-column sum of
// non-negative values; Min is the largest per-column absolute sum of non-positive
// values, counting only columns that hold at least one such value.
func FindMaxAndMin(m Matrix) Extent {
	var ext Extent
	pos := make([]float64, 0, m.NumCategories())
	neg := make([]float64, 0, m.NumCategories())
	for _, col := range m {
		pos, neg = pos[:0], neg[:0]
		for _, v := range col {
			if v >= 0 {
				pos = append(pos, v)
			}
			if v <= 0 {
				neg = append(neg, math.Abs(v))
			}
		}
		if s := floats.Sum(pos); s > ext.Max {
			ext.Max = s
		}
		if len(neg) > 0 {
			if s := floats.Sum(neg); s > ext.Min {
				ext.Min = s
			}
		}
	}
	return ext
}

// SyncMaxAndMin picks the single tile whose Min+Max is largest and adopts its pair
// as the shared scale. No tiles yields the zero extent.
func SyncMaxAndMin(tiles []Extent) Extent {
	var shared Extent
	for _, t := range tiles {
		if t.Min+t.Max > shared.Min+shared.Max {
			shared = t
		}
	}
	return shared
}
