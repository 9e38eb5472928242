package deltabar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltabar-tiles/server/pkg/colormap"
)

func testPalette(t *testing.T, opts Options, n int) *palette {
	t.Helper()
	pal, err := newPalette(opts, TilesetInfo{}, n, colormap.ToHex)
	require.NoError(t, err)
	return pal
}

func stackedFor(t *testing.T, m Matrix, opts Options, trackHeight float64) *Batch {
	t.Helper()
	sorted, deltas := TransformMatrix(m)
	return buildStacked(stackedInput{
		deltas:      deltas,
		sorted:      sorted,
		extent:      FindMaxAndMin(deltas),
		palette:     testPalette(t, opts, m.NumCategories()),
		opts:        opts,
		trackHeight: trackHeight,
		barWidth:    DefaultBarWidth,
	})
}

func rgbOptions() Options {
	opts := DefaultOptions()
	opts.ColorScale = []string{"#ff0000", "#00ff00", "#0000ff", "#000000"}
	return opts
}

func TestBuildStackedPositive(t *testing.T) {
	b := stackedFor(t, Matrix{{1, 2, 3}}, rgbOptions(), 30)

	require.Len(t, b.Rects, 3)
	want := []Rect{
		{Y: 20, Height: 10, Category: 0, Rank: 0, Opacity: 1},
		{Y: 10, Height: 10, Category: 1, Rank: 1, Opacity: 0.55},
		{Y: 0, Height: 10, Category: 2, Rank: 2, Opacity: 0.1},
	}
	for i, w := range want {
		r := b.Rects[i]
		assert.InDelta(t, w.Y, r.Y, 1e-9, "rect %d y", i)
		assert.InDelta(t, w.Height, r.Height, 1e-9, "rect %d height", i)
		assert.Equal(t, w.Category, r.Category)
		assert.Equal(t, w.Rank, r.Rank)
		assert.InDelta(t, w.Opacity, r.Opacity, 1e-9, "rect %d opacity", i)
		assert.Equal(t, DefaultBarWidth, r.Width)
	}

	// Fills go largest first and reach down to the baseline.
	require.Len(t, b.Fills, 3)
	assert.Equal(t, []int{2, 1, 0}, []int{b.Fills[0].Category, b.Fills[1].Category, b.Fills[2].Category})
	assert.InDelta(t, 0, b.Fills[0].Y, 1e-9)
	assert.InDelta(t, 30, b.Fills[0].Height, 1e-9)
	assert.InDelta(t, 10, b.Fills[1].Y, 1e-9)
	assert.InDelta(t, 20, b.Fills[1].Height, 1e-9)
	assert.InDelta(t, 20, b.Fills[2].Y, 1e-9)
	assert.InDelta(t, 10, b.Fills[2].Height, 1e-9)
	assert.InDelta(t, 0, b.LowestY, 1e-9)
}

func TestBuildStackedNegativeHeadroom(t *testing.T) {
	// deltas [4, 1, -2, 2]: max 7, min 2, so 70 of 90 pixels hold the positive stack.
	b := stackedFor(t, Matrix{{3, -1, -2, 5}}, rgbOptions(), 90)

	require.Len(t, b.Rects, 4, "one rect per column and category")
	assert.Equal(t, 2, b.Rects[0].Category)
	assert.Equal(t, 0.0, b.Rects[0].Height)
	assert.InDelta(t, 70, b.Rects[0].Y, 1e-9)
	assert.InDelta(t, 60, b.Rects[1].Y, 1e-9)
	assert.InDelta(t, 20, b.Rects[2].Y, 1e-9)
	assert.InDelta(t, 40, b.Rects[2].Height, 1e-9)
	assert.InDelta(t, 0, b.Rects[3].Y, 1e-9)

	require.Len(t, b.Fills, 3, "negative deltas are not painted")
	for _, f := range b.Fills {
		assert.NotEqual(t, 2, f.Category)
		assert.InDelta(t, 70, f.Y+f.Height, 1e-9)
	}
}

func TestBuildStackedDegenerate(t *testing.T) {
	b := stackedFor(t, Matrix{{0, 0}, {0, 0}}, rgbOptions(), 40)
	require.Len(t, b.Rects, 4)
	for _, r := range b.Rects {
		assert.Equal(t, 0.0, r.Height)
	}
	w, h := b.TextureSize()
	assert.Equal(t, 20, w)
	assert.Equal(t, 40, h)
}

func TestBuildStackedOpacityUnset(t *testing.T) {
	opts := rgbOptions()
	opts.FillOpacityMin, opts.FillOpacityMax = nil, nil
	b := stackedFor(t, Matrix{{1, 2, 3}}, opts, 30)
	for _, f := range b.Fills {
		assert.Equal(t, 1.0, f.Opacity)
	}
}

func TestBuildStackedOpacityZeroMin(t *testing.T) {
	opts := rgbOptions()
	zero, half := 0.0, 0.5
	opts.FillOpacityMin, opts.FillOpacityMax = &zero, &half
	b := stackedFor(t, Matrix{{1, 2, 3}}, opts, 30)
	require.NotEmpty(t, b.Fills)
	for _, f := range b.Fills {
		assert.Equal(t, 1.0, f.Opacity)
	}
}

func TestBuildStackedHidden(t *testing.T) {
	opts := rgbOptions()
	hide := 0
	opts.HideColorByIndex = &hide
	b := stackedFor(t, Matrix{{1, 2, 3}}, opts, 30)
	for _, f := range b.Fills {
		if f.Category == 0 {
			assert.True(t, f.Hidden)
			assert.Equal(t, 0.0, f.Opacity)
			hex, err := colormap.ToHex(colormap.Hidden)
			require.NoError(t, err)
			assert.Equal(t, hex, f.Hex)
		}
	}
}

func TestReposition(t *testing.T) {
	y, h := Reposition(Extent{Min: 2, Max: 7}, Extent{Min: 2, Max: 7}, 90)
	assert.InDelta(t, 0, y, 1e-9)
	assert.InDelta(t, 90, h, 1e-9)

	y, h = Reposition(Extent{Min: 3, Max: 8}, Extent{Min: 0, Max: 4}, 110)
	assert.InDelta(t, 40, y, 1e-9)
	assert.InDelta(t, 40, h, 1e-9)

	y, h = Reposition(Extent{}, Extent{}, 50)
	assert.Equal(t, 50.0, y)
	assert.Equal(t, 0.0, h)
}

func TestBuildBasic(t *testing.T) {
	m := Matrix{{1, 3}, {2, 4}}
	opts := rgbOptions()
	b := buildBasic(m, FindMaxAndMin(m), testPalette(t, opts, 2), opts, 60, DefaultBarWidth)

	require.Len(t, b.Rects, 4)
	// lane 30, 5 pixels per unit
	assert.InDelta(t, 25, b.Rects[0].Y, 1e-9)
	assert.InDelta(t, 5, b.Rects[0].Height, 1e-9)
	assert.InDelta(t, 20, b.Rects[1].Y, 1e-9)
	assert.InDelta(t, 45, b.Rects[2].Y, 1e-9)
	assert.InDelta(t, 40, b.Rects[3].Y, 1e-9)
	assert.InDelta(t, 20, b.LowestY, 1e-9)
	assert.Equal(t, b.Rects, b.Fills)
}

func TestColorScaleFallback(t *testing.T) {
	info := TilesetInfo{RowInfos: []RowInfo{{Name: "a", Color: "#111111"}, {Name: "b", Color: "#222222"}}}

	scale, err := colorScale(Options{}, info, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"#111111", "#222222"}, scale)

	scale, err = colorScale(Options{ColorScale: []string{"red", "blue"}}, info, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "blue"}, scale)

	scale, err = colorScale(Options{}, TilesetInfo{}, 18)
	require.NoError(t, err)
	assert.Len(t, scale, len(colormap.Categorical))

	_, err = colorScale(Options{}, TilesetInfo{}, len(colormap.Categorical)+1)
	assert.ErrorIs(t, err, ErrPaletteTooSmall)

	_, err = colorScale(Options{}, info, 3)
	assert.ErrorIs(t, err, ErrPaletteTooSmall)
}
