package deltabar

import (
	"cmp"
	"math"
	"slices"
)

// SortedIndices returns the category indices of column ordered by ascending value.
// Equal values keep their original index order.
func SortedIndices(column []float64) []int {
	idx := make([]int, len(column))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(column[a], column[b])
	})
	return idx
}

// StateSortedDeltas diff-encodes column along its value-sorted order and writes each
// difference back at the category's own index. Stacking the deltas from the smallest
// value upward reaches exactly the column maximum.
func StateSortedDeltas(column []float64, sorted []int) []float64 {
	deltas := make([]float64, len(column))
	if len(sorted) == 0 {
		return deltas
	}
	deltas[sorted[0]] = column[sorted[0]]
	for k := 1; k < len(sorted); k++ {
		deltas[sorted[k]] = column[sorted[k]] - column[sorted[k-1]]
	}
	return deltas
}

// Accumulate inverts the delta encoding for one category: it sums the deltas from
// rank 0 up to and including the rank of category.
func Accumulate(deltas []float64, sorted []int, category int) float64 {
	var acc float64
	for _, idx := range sorted {
		acc += deltas[idx]
		if idx == category {
			break
		}
	}
	return acc
}

// TransformMatrix applies the sort/delta transform to every column.
// The two results are parallel, indexed by column. NaN values are read as zero.
func TransformMatrix(m Matrix) (sorted [][]int, deltas Matrix) {
	sorted = make([][]int, len(m))
	deltas = make(Matrix, len(m))
	for j, col := range m {
		col = zeroNaN(col)
		sorted[j] = SortedIndices(col)
		deltas[j] = StateSortedDeltas(col, sorted[j])
	}
	return sorted, deltas
}

// zeroNaN returns col with NaN replaced by zero, copying only when it has to.
func zeroNaN(col []float64) []float64 {
	if !slices.ContainsFunc(col, math.IsNaN) {
		return col
	}
	out := make([]float64, len(col))
	for i, v := range col {
		if !math.IsNaN(v) {
			out[i] = v
		}
	}
	return out
}
