package deltabar

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReshape(t *testing.T) {
	t.Run("category major to position major", func(t *testing.T) {
		flat := []float64{1, 2, 3, 4, 5, 6}
		m, err := Reshape(flat, [2]int{2, 3}, nil)
		require.NoError(t, err)
		assert.Equal(t, Matrix{{1, 4}, {2, 5}, {3, 6}}, m)
		assert.Equal(t, 3, m.NumColumns())
		assert.Equal(t, 2, m.NumCategories())
	})

	t.Run("round trip without selection", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		m := make(Matrix, 9)
		for j := range m {
			m[j] = make([]float64, 4)
			for i := range m[j] {
				m[j][i] = r.NormFloat64()
			}
		}
		got, err := Reshape(m.Flatten(), [2]int{4, 9}, nil)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	})

	t.Run("selection and aggregation", func(t *testing.T) {
		flat := []float64{
			1, 2, 3, // category 0
			10, 20, 30, // category 1
			100, 200, 300, // category 2
		}
		sel := []RowSelector{Row(2), Sum(0, 1), Sum(0, 1, 2)}
		m, err := Reshape(flat, [2]int{3, 3}, sel)
		require.NoError(t, err)
		require.Equal(t, 3, m.NumCategories())
		for j := 0; j < 3; j++ {
			assert.Equal(t, flat[6+j], m[j][0])
			assert.InDelta(t, flat[j]+flat[3+j], m[j][1], 1e-12)
			assert.InDelta(t, flat[j]+flat[3+j]+flat[6+j], m[j][2], 1e-12)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := Reshape([]float64{1, 2, 3}, [2]int{2, 2}, nil)
		require.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	})

	t.Run("selection out of range", func(t *testing.T) {
		_, err := Reshape([]float64{1, 2}, [2]int{2, 1}, []RowSelector{Row(2)})
		require.True(t, errors.Is(err, ErrSelection), "got %v", err)
		_, err = Reshape([]float64{1, 2}, [2]int{2, 1}, []RowSelector{Sum()})
		require.True(t, errors.Is(err, ErrSelection), "got %v", err)
	})

	t.Run("empty payload", func(t *testing.T) {
		m, err := Reshape(nil, [2]int{3, 0}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, m.NumColumns())
		assert.Equal(t, 0, m.NumCategories())
	})
}

func TestStateSortedDeltas(t *testing.T) {
	col := []float64{3, -1, -2, 5}
	sorted := SortedIndices(col)
	assert.Equal(t, []int{2, 1, 0, 3}, sorted)

	deltas := StateSortedDeltas(col, sorted)
	assert.Equal(t, []float64{4, 1, -2, 2}, deltas)

	var sum float64
	for _, d := range deltas {
		sum += d
	}
	assert.InDelta(t, 5, sum, 1e-12)
	for _, cat := range sorted {
		assert.InDelta(t, col[cat], Accumulate(deltas, sorted, cat), 1e-12)
	}
}

func TestStateSortedDeltasTies(t *testing.T) {
	col := []float64{2, 2, 2}
	sorted := SortedIndices(col)
	assert.Equal(t, []int{0, 1, 2}, sorted)
	assert.Equal(t, []float64{2, 0, 0}, StateSortedDeltas(col, sorted))

	col = []float64{1, 0, 1, 0}
	assert.Equal(t, []int{1, 3, 0, 2}, SortedIndices(col))
}

func TestDeltaReconstruction(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 1; n < 12; n++ {
		col := make([]float64, n)
		for i := range col {
			col[i] = r.Float64()*20 - 5
		}
		sorted := SortedIndices(col)
		deltas := StateSortedDeltas(col, sorted)

		var sum float64
		for k, cat := range sorted {
			sum += deltas[cat]
			require.InDelta(t, col[cat], sum, 1e-9, "rank %d of %v", k, col)
		}
		require.InDelta(t, col[sorted[n-1]], sum, 1e-9)
	}
}

func TestTransformMatrix(t *testing.T) {
	m := Matrix{{3, -1, -2, 5}, {1, 1, 1, 1}}
	sorted, deltas := TransformMatrix(m)
	require.Len(t, sorted, 2)
	require.Len(t, deltas, 2)
	assert.Equal(t, []float64{4, 1, -2, 2}, []float64(deltas[0]))
	assert.Equal(t, []float64{1, 0, 0, 0}, []float64(deltas[1]))
}

func TestTransformMatrixMissingValues(t *testing.T) {
	m := Matrix{{math.NaN(), 1, 2}}
	sorted, deltas := TransformMatrix(m)
	assert.Equal(t, []int{0, 1, 2}, sorted[0])
	assert.Equal(t, []float64{0, 1, 1}, []float64(deltas[0]))
	assert.Equal(t, Extent{Max: 2}, FindMaxAndMin(deltas))
	assert.Equal(t, 2.0, Accumulate(deltas[0], sorted[0], 2))
	assert.True(t, math.IsNaN(m[0][0]), "input column is left untouched")

	flat := []float64{math.NaN(), 3, 1, math.NaN()}
	got, err := Reshape(flat, [2]int{2, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, Matrix{{0, 1}, {3, 0}}, got)

	got, err = Reshape(flat, [2]int{2, 2}, []RowSelector{{Indices: []int{0, 1}, Aggregate: true}})
	require.NoError(t, err)
	assert.Equal(t, Matrix{{1}, {3}}, got)
}

func TestFindMaxAndMin(t *testing.T) {
	t.Run("scenario column", func(t *testing.T) {
		ext := FindMaxAndMin(Matrix{{3, -1, -2, 5}})
		assert.Equal(t, Extent{Min: 3, Max: 8}, ext)
	})

	t.Run("columns without non-positive values ignore min", func(t *testing.T) {
		ext := FindMaxAndMin(Matrix{{1, 2}, {4, 4}, {-1, 0}})
		assert.Equal(t, Extent{Min: 1, Max: 8}, ext)
	})

	t.Run("column permutation", func(t *testing.T) {
		a := Matrix{{1, -3}, {2, 2}, {-4, -4}}
		b := Matrix{{-4, -4}, {1, -3}, {2, 2}}
		assert.Equal(t, FindMaxAndMin(a), FindMaxAndMin(b))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, Extent{}, FindMaxAndMin(nil))
	})
}

func TestSyncMaxAndMin(t *testing.T) {
	assert.Equal(t, Extent{}, SyncMaxAndMin(nil))

	one := Extent{Min: 2, Max: 7}
	assert.Equal(t, one, SyncMaxAndMin([]Extent{one}))

	// The pair comes from one tile, not per-field maxima.
	got := SyncMaxAndMin([]Extent{{Min: 9, Max: 1}, {Min: 0, Max: 11}, {Min: 1, Max: 5}})
	assert.Equal(t, Extent{Min: 0, Max: 11}, got)
}
