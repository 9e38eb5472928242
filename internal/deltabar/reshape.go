package deltabar

import (
	"fmt"
	"math"
)

// Matrix is an ordered sequence of columns, one per genomic position.
// Each column holds one value per category.
type Matrix [][]float64

// NumColumns returns the number of positions.
func (m Matrix) NumColumns() int { return len(m) }

// NumCategories returns the column length, or 0 for an empty matrix.
func (m Matrix) NumCategories() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Flatten writes m back into the category-major layout Reshape reads.
func (m Matrix) Flatten() []float64 {
	numPositions := len(m)
	numCategories := m.NumCategories()
	flat := make([]float64, numCategories*numPositions)
	for j, col := range m {
		for i, v := range col {
			flat[numPositions*i+j] = v
		}
	}
	return flat
}

// Reshape converts a category-major flat payload of shape [numCategories, numPositions]
// into a position-major matrix. NaN values come out as zero. A non-empty selection overrides the number of output
// categories; each entry reads one source row or sums several.
func Reshape(flat []float64, shape [2]int, selection []RowSelector) (Matrix, error) {
	sourceRows, numPositions := shape[0], shape[1]
	if sourceRows < 0 || numPositions < 0 || len(flat) != sourceRows*numPositions {
		return nil, fmt.Errorf("%w: len=%d shape=%v", ErrShapeMismatch, len(flat), shape)
	}

	numCategories := sourceRows
	if len(selection) > 0 {
		numCategories = len(selection)
		for i, sel := range selection {
			if len(sel.Indices) == 0 {
				return nil, fmt.Errorf("%w: row %d selects nothing", ErrSelection, i)
			}
			for _, idx := range sel.Indices {
				if idx < 0 || idx >= sourceRows {
					return nil, fmt.Errorf("%w: row %d references category %d of %d", ErrSelection, i, idx, sourceRows)
				}
			}
		}
	}

	matrix := make(Matrix, numPositions)
	for j := range matrix {
		matrix[j] = make([]float64, numCategories)
	}

	for i := 0; i < numCategories; i++ {
		for j := 0; j < numPositions; j++ {
			if len(selection) == 0 {
				matrix[j][i] = orZero(flat[numPositions*i+j])
				continue
			}
			sel := selection[i]
			if !sel.Aggregate {
				matrix[j][i] = orZero(flat[numPositions*sel.Indices[0]+j])
				continue
			}
			var sum float64
			for _, idx := range sel.Indices {
				sum += orZero(flat[numPositions*idx+j])
			}
			matrix[j][i] = sum
		}
	}
	return matrix, nil
}

// orZero reads a missing (NaN) value as zero.
func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// hasNegative reports whether any raw value is below zero.
func hasNegative(flat []float64) bool {
	for _, v := range flat {
		if v < 0 {
			return true
		}
	}
	return false
}
