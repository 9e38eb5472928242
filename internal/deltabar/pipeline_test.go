package deltabar

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, opts Options, buf *bytes.Buffer) *Pipeline {
	t.Helper()
	if buf == nil {
		buf = &bytes.Buffer{}
	}
	return New(Config{
		Options:     opts,
		Tileset:     TilesetInfo{TileSize: 3, NumCategories: 2, RowInfos: []RowInfo{{Name: "A"}, {Name: "B"}}},
		TrackHeight: 50,
		Backend:     NopBackend{},
		Logger:      log.NewWithOptions(buf, log.Options{}),
	})
}

// Two categories, three positions: columns [1,4] [2,0] [3,1].
func tileA() TileData {
	return TileData{Zoom: 0, Pos: 0, Dense: []float64{1, 2, 3, 4, 0, 1}, Shape: [2]int{2, 3}}
}

// Columns [5,0] [0,0] [0,0].
func tileB() TileData {
	return TileData{Zoom: 0, Pos: 1, Dense: []float64{5, 0, 0, 0, 0, 0}, Shape: [2]int{2, 3}}
}

func TestPipelineSharedScale(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	assert.Equal(t, Extent{}, p.Shared())

	require.NoError(t, p.Add(tileA(), Span{X: 0, Width: 30}))
	assert.Equal(t, Extent{Max: 4}, p.Shared())

	require.NoError(t, p.Add(tileB(), Span{X: 30, Width: 30}))
	assert.Equal(t, Extent{Max: 5}, p.Shared())
	assert.Equal(t, []TileID{{0, 0}, {0, 1}}, p.Visible())

	sp, err := p.Sprite(TileID{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 10, sp.Y, 1e-9)
	assert.InDelta(t, 40, sp.Height, 1e-9)
	assert.InDelta(t, 0.8, sp.ScaleY(), 1e-9)

	p.Evict(TileID{0, 1})
	assert.Equal(t, Extent{Max: 4}, p.Shared())
	assert.False(t, p.Loaded(TileID{0, 1}))

	sp, err = p.Sprite(TileID{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, sp.Y, 1e-9)
	assert.InDelta(t, 50, sp.Height, 1e-9)

	p.SetVisible(nil)
	assert.Equal(t, Extent{}, p.Shared())
	assert.True(t, p.Loaded(TileID{0, 0}))
}

func TestPipelineArenaReuse(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))
	require.NoError(t, p.Add(tileB(), Span{X: 30, Width: 30}))
	p.Evict(TileID{0, 0})

	c := tileA()
	c.Pos = 2
	require.NoError(t, p.Add(c, Span{X: 60, Width: 30}))
	assert.Len(t, p.arena, 2)
	assert.Empty(t, p.free)
}

func TestPipelineLookup(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))
	require.NoError(t, p.Add(tileB(), Span{X: 30, Width: 30}))
	id := TileID{0, 0}

	// Column 0 is [1, 4] on a 12.5 px/unit scale: A spans [37.5, 50), B spans [0, 37.5).
	hit, ok, err := p.Lookup(id, 0, 40)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, hit.Category)
	assert.Equal(t, "A", hit.Label)
	assert.InDelta(t, 1, hit.Value, 1e-9)
	assert.Equal(t, "1.000", hit.Text)
	assert.Equal(t, "#ff0000", hit.Color)

	// Track y 26 maps back through sprite y 10 and scale 0.8 to texture y 20.
	hit, ok, err = p.LookupTrack(id, 0, 26)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", hit.Label)
	assert.InDelta(t, 4, hit.Value, 1e-9)

	_, ok, err = p.Lookup(id, 0, 50)
	require.NoError(t, err)
	assert.False(t, ok, "at the last record bottom")

	_, ok, err = p.Lookup(id, 0, -0.5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.Lookup(id, 7, 10)
	require.NoError(t, err)
	assert.False(t, ok, "column outside the tile")

	_, _, err = p.Lookup(TileID{3, 3}, 0, 0)
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestPipelineLookupSelection(t *testing.T) {
	opts := rgbOptions()
	opts.SelectRows = []RowSelector{Sum(0, 1)}
	p := newTestPipeline(t, opts, nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))

	hit, ok, err := p.Lookup(TileID{0, 0}, 0, 25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A, B", hit.Label)
	assert.InDelta(t, 5, hit.Value, 1e-9)
}

func TestPipelineLookupHidden(t *testing.T) {
	opts := rgbOptions()
	hide := 0
	opts.HideColorByIndex = &hide
	p := newTestPipeline(t, opts, nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))

	_, ok, err := p.Lookup(TileID{0, 0}, 0, 40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPipelineBadTileIsolated(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPipeline(t, rgbOptions(), &buf)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))

	bad := TileData{Zoom: 0, Pos: 5, Dense: []float64{1, 2, 3}, Shape: [2]int{2, 3}}
	err := p.Add(bad, Span{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	var te *TileError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, TileID{0, 5}, te.ID)
	assert.Contains(t, buf.String(), "tile build failed")

	assert.False(t, p.Loaded(bad.ID()))
	assert.Equal(t, []TileID{{0, 0}}, p.Visible())
	_, err = p.Geometry(TileID{0, 0})
	assert.NoError(t, err)
}

func TestPipelineNegativeSwitchesScaling(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPipeline(t, rgbOptions(), &buf)
	neg := TileData{Zoom: 1, Pos: 0, Dense: []float64{3, -1, -2, 5}, Shape: [2]int{4, 1}}
	require.NoError(t, p.Add(neg, Span{Width: 10}))
	assert.Equal(t, ScalingExponential, p.Options().ValueScaling)

	m1, err := p.Matrix(neg.ID())
	require.NoError(t, err)
	m2, err := p.Matrix(neg.ID())
	require.NoError(t, err)
	assert.Same(t, &m1[0][0], &m2[0][0], "reshape result is cached")

	p.Rerender(rgbOptions())
	assert.Equal(t, ScalingExponential, p.Options().ValueScaling)
	assert.Equal(t, 1, strings.Count(buf.String(), "switching value scaling"))
}

func TestPipelineRerender(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))
	before, err := p.Geometry(TileID{0, 0})
	require.NoError(t, err)

	opts := rgbOptions()
	opts.ColorScale = []string{"#000000", "#ffff00"}
	p.Rerender(opts)

	after, err := p.Geometry(TileID{0, 0})
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	for _, r := range after.Rects {
		assert.Contains(t, opts.ColorScale, r.Color)
	}
}

func TestPipelineSetDimensions(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))
	require.NoError(t, p.Add(tileB(), Span{X: 30, Width: 30}))
	p.SetVisible([]TileID{{0, 0}})

	p.SetDimensions(100)
	b, err := p.Geometry(TileID{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.TrackHeight)

	b, err = p.Geometry(TileID{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 50.0, b.TrackHeight, "hidden tiles rebuild lazily")

	p.SetVisible([]TileID{{0, 0}, {0, 1}})
	b, err = p.Geometry(TileID{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.TrackHeight)
	assert.Equal(t, Extent{Max: 5}, p.Shared())
}

// heightLimitBackend fails to make textures taller than limit.
type heightLimitBackend struct {
	NopBackend
	limit float64
}

func (b heightLimitBackend) MakeTexture(batch *Batch) (Texture, error) {
	if batch.TrackHeight > b.limit {
		return nil, errors.New("texture too tall")
	}
	return b.NopBackend.MakeTexture(batch)
}

func TestPipelineSetDimensionsKeepsGeometryOnFailure(t *testing.T) {
	var buf bytes.Buffer
	p := New(Config{
		Options:     rgbOptions(),
		Tileset:     TilesetInfo{TileSize: 3, NumCategories: 2, RowInfos: []RowInfo{{Name: "A"}, {Name: "B"}}},
		TrackHeight: 50,
		Backend:     heightLimitBackend{limit: 60},
		Logger:      log.NewWithOptions(&buf, log.Options{}),
	})
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))

	p.SetDimensions(100)
	assert.Contains(t, buf.String(), "tile build failed")

	b, err := p.Geometry(TileID{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 50.0, b.TrackHeight)
	assert.Equal(t, Extent{Max: 4}, p.Shared())
	_, err = p.Sprite(TileID{0, 0})
	require.NoError(t, err)

	// A later height the backend accepts rebuilds the tile.
	p.SetDimensions(60)
	b, err = p.Geometry(TileID{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 60.0, b.TrackHeight)
}

func TestPipelineLoadLeavesViewAlone(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	require.NoError(t, p.Add(tileA(), Span{Width: 30}))
	require.NoError(t, p.Load(tileB(), Span{X: 30, Width: 30}))

	assert.True(t, p.Loaded(TileID{0, 1}))
	assert.Equal(t, []TileID{{0, 0}}, p.Visible())
	assert.Equal(t, Extent{Max: 4}, p.Shared())
	assert.Len(t, p.Export(), 1)

	_, err := p.Geometry(TileID{0, 1})
	require.NoError(t, err)
	ext, err := p.Extent(TileID{0, 1})
	require.NoError(t, err)
	assert.Equal(t, Extent{Max: 5}, ext)

	p.SetVisible([]TileID{{0, 0}, {0, 1}})
	assert.Equal(t, Extent{Max: 5}, p.Shared())
}

func TestPipelineBasicVariant(t *testing.T) {
	opts := rgbOptions()
	opts.TrackType = TrackBasicMultipleBar
	p := newTestPipeline(t, opts, nil)
	p.SetDimensions(60)

	a := TileData{Zoom: 0, Pos: 0, Dense: []float64{1, 2, 3, 4}, Shape: [2]int{2, 2}}
	require.NoError(t, p.Add(a, Span{Width: 20}))
	b, err := p.Geometry(a.ID())
	require.NoError(t, err)
	assert.InDelta(t, 5, b.Rects[0].Height, 1e-9)

	// A taller tile widens the shared max and rescales the first one.
	big := TileData{Zoom: 0, Pos: 1, Dense: []float64{6, 0, 6, 0}, Shape: [2]int{2, 2}}
	require.NoError(t, p.Add(big, Span{X: 20, Width: 20}))
	assert.Equal(t, Extent{Max: 12}, p.Shared())
	b, err = p.Geometry(a.ID())
	require.NoError(t, err)
	assert.InDelta(t, 2.5, b.Rects[0].Height, 1e-9)

	hit, ok, err := p.Lookup(a.ID(), 1, 58)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", hit.Label)
	assert.InDelta(t, 4, hit.Value, 1e-9)
}

func TestPipelineExport(t *testing.T) {
	p := newTestPipeline(t, rgbOptions(), nil)
	require.NoError(t, p.Add(tileA(), Span{X: 5, Width: 15}))

	tiles := p.Export()
	require.Len(t, tiles, 1)
	et := tiles[0]
	assert.Equal(t, TileID{0, 0}, et.ID)
	assert.Equal(t, 5.0, et.X)
	assert.InDelta(t, 0.5, et.ScaleX, 1e-9)
	require.Len(t, et.Rects, 6)
	for _, r := range et.Rects {
		assert.Equal(t, "black", r.Stroke)
		assert.Equal(t, 0.1, r.StrokeWidth)
		assert.GreaterOrEqual(t, r.Y, 0.0)
	}

	opts := rgbOptions()
	opts.BarBorder = false
	p.Rerender(opts)
	for _, r := range p.Export()[0].Rects {
		assert.Equal(t, r.Fill, r.Stroke)
		assert.Zero(t, r.StrokeWidth)
	}
}

func TestToPrecision(t *testing.T) {
	cases := map[float64]string{
		0:          "0.000",
		1:          "1.000",
		4:          "4.000",
		12.3456:    "12.35",
		0.0012346:  "0.001235",
		-2.5:       "-2.500",
		123456:     "1.235e+5",
		9999.6:     "1.000e+4",
		0.99996:    "1.000",
		99.996:     "100.0",
		-0.0000001: "-1.000e-7",
	}
	for in, want := range cases {
		assert.Equal(t, want, toPrecision(in), "input %v", in)
	}
}
