package deltabar

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
)

// Span is a tile's horizontal placement on the track, in track pixels.
type Span struct {
	X     float64 `json:"x"`
	Width float64 `json:"width"`
}

// Config configures a Pipeline.
type Config struct {
	Options     Options
	Tileset     TilesetInfo
	TrackHeight float64
	BarWidth    float64
	Backend     Backend
	Logger      *log.Logger
}

// tileState is the side-table entry for one loaded tile. Everything except data and
// span is a derived cache that Invalidate may drop.
type tileState struct {
	data TileData
	span Span

	matrix Matrix
	sorted [][]int
	deltas Matrix
	extent Extent

	batch  *Batch
	index  *MouseoverIndex
	sprite *Sprite
	// stale geometry was built for an older track height or shared scale.
	stale bool
}

func (t *tileState) reset() {
	t.matrix, t.sorted, t.deltas = nil, nil, nil
	t.extent = Extent{}
	t.dropGeometry()
}

func (t *tileState) dropGeometry() {
	t.batch, t.index = nil, nil
	t.sprite.Destroy()
	t.sprite = nil
}

// Pipeline owns the per-tile caches and the shared scale of one track.
type Pipeline struct {
	opts        Options
	tileset     TilesetInfo
	trackHeight float64
	barWidth    float64
	backend     Backend
	log         *log.Logger

	slots map[TileID]int
	arena []*tileState
	free  []int

	visible []TileID
	shared  Extent
	palette *palette

	warnedNegative bool
}

// New creates an empty pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Backend == nil {
		cfg.Backend = NopBackend{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.BarWidth <= 0 {
		cfg.BarWidth = DefaultBarWidth
	}
	opts := cfg.Options.Clone()
	if opts.TrackType == "" {
		opts.TrackType = TrackStackedDelta
	}
	if opts.ValueScaling == "" {
		opts.ValueScaling = ScalingLinear
	}
	return &Pipeline{
		opts:        opts,
		tileset:     cfg.Tileset,
		trackHeight: cfg.TrackHeight,
		barWidth:    cfg.BarWidth,
		backend:     cfg.Backend,
		log:         cfg.Logger,
		slots:       make(map[TileID]int),
	}
}

// Options returns a copy of the current options, including any scaling switch.
func (p *Pipeline) Options() Options { return p.opts.Clone() }

// Shared returns the current shared scale.
func (p *Pipeline) Shared() Extent { return p.shared }

// TrackHeight returns the current drawable height.
func (p *Pipeline) TrackHeight() float64 { return p.trackHeight }

// Visible returns the visible tile ids in display order.
func (p *Pipeline) Visible() []TileID { return slices.Clone(p.visible) }

// Loaded reports whether the tile is tracked.
func (p *Pipeline) Loaded(id TileID) bool {
	_, ok := p.slots[id]
	return ok
}

// Tiles returns the ids of every loaded tile, visible or not, in no particular order.
func (p *Pipeline) Tiles() []TileID {
	ids := make([]TileID, 0, len(p.slots))
	for id := range p.slots {
		ids = append(ids, id)
	}
	return ids
}

func (p *Pipeline) state(id TileID) (*tileState, bool) {
	slot, ok := p.slots[id]
	if !ok {
		return nil, false
	}
	return p.arena[slot], true
}

func (p *Pipeline) alloc(id TileID, st *tileState) {
	if n := len(p.free); n > 0 {
		slot := p.free[n-1]
		p.free = p.free[:n-1]
		p.arena[slot] = st
		p.slots[id] = slot
		return
	}
	p.arena = append(p.arena, st)
	p.slots[id] = len(p.arena) - 1
}

// Add loads a fetched tile, builds its geometry, marks it visible and rescales the
// visible set. A tile that fails to build is not added; the error is logged and
// returned, and the rest of the track is unaffected.
func (p *Pipeline) Add(td TileData, span Span) error {
	if err := p.Load(td, span); err != nil {
		return err
	}
	if id := td.ID(); !slices.Contains(p.visible, id) {
		p.visible = append(p.visible, id)
	}
	p.Rescale()
	return nil
}

// Load builds and stores a fetched tile without making it visible. The shared
// scale is left alone and the tile is placed against it.
func (p *Pipeline) Load(td TileData, span Span) error {
	id := td.ID()
	st := &tileState{data: td, span: span}
	if err := p.build(id, st); err != nil {
		p.log.Warn("tile build failed", "tile", id, "err", err)
		return err
	}

	if old, ok := p.state(id); ok {
		old.dropGeometry()
		p.arena[p.slots[id]] = st
	} else {
		p.alloc(id, st)
	}
	return nil
}

// Evict destroys a tile's geometry and backend objects and forgets it.
func (p *Pipeline) Evict(id TileID) {
	slot, ok := p.slots[id]
	if !ok {
		return
	}
	p.arena[slot].dropGeometry()
	p.arena[slot] = nil
	p.free = append(p.free, slot)
	delete(p.slots, id)
	p.visible = slices.DeleteFunc(p.visible, func(v TileID) bool { return v == id })
	p.Rescale()
}

// SetVisible replaces the visible set. Ids that are not loaded are ignored. Tiles
// whose caches were invalidated are rebuilt before the shared scale is recomputed.
func (p *Pipeline) SetVisible(ids []TileID) {
	p.visible = p.visible[:0]
	for _, id := range ids {
		st, ok := p.state(id)
		if !ok || slices.Contains(p.visible, id) {
			continue
		}
		if st.batch == nil || st.stale {
			if err := p.build(id, st); err != nil {
				p.log.Warn("tile build failed", "tile", id, "err", err)
			}
		}
		p.visible = append(p.visible, id)
	}
	p.Rescale()
}

// SetSpan updates a tile's on-screen horizontal placement.
func (p *Pipeline) SetSpan(id TileID, span Span) error {
	st, ok := p.state(id)
	if !ok {
		return &TileError{ID: id, Op: "span", Err: ErrTileNotFound}
	}
	st.span = span
	if st.sprite != nil {
		st.sprite.X, st.sprite.Width = span.X, span.Width
	}
	return nil
}

// Rescale recomputes the shared scale from the visible tiles and repositions their
// sprites. The basic variant scales geometry by the shared maximum, so a changed
// scale rebuilds it instead.
func (p *Pipeline) Rescale() {
	extents := make([]Extent, 0, len(p.visible))
	for _, id := range p.visible {
		if st, ok := p.state(id); ok && st.batch != nil {
			extents = append(extents, st.extent)
		}
	}
	prev := p.shared
	p.shared = SyncMaxAndMin(extents)

	if p.opts.TrackType == TrackBasicMultipleBar && p.shared != prev {
		p.markStale()
		p.rebuildVisible()
	}
	for _, id := range p.visible {
		st, ok := p.state(id)
		if !ok || st.sprite == nil {
			continue
		}
		p.place(st)
	}
}

func (p *Pipeline) place(st *tileState) {
	st.sprite.X, st.sprite.Width = st.span.X, st.span.Width
	if p.opts.TrackType == TrackBasicMultipleBar {
		st.sprite.Y = st.batch.LowestY
		st.sprite.Height = p.trackHeight - st.batch.LowestY
		return
	}
	st.sprite.Y, st.sprite.Height = Reposition(p.shared, st.extent, p.trackHeight)
}

// Rerender replaces the options, drops every per-tile cache and rebuilds the
// visible tiles. Hidden tiles rebuild when they become visible again.
func (p *Pipeline) Rerender(opts Options) {
	scaling := p.opts.ValueScaling
	p.opts = opts.Clone()
	if p.opts.TrackType == "" {
		p.opts.TrackType = TrackStackedDelta
	}
	if p.warnedNegative || p.opts.ValueScaling == "" {
		p.opts.ValueScaling = scaling
	}
	p.palette = nil
	p.InvalidateAll()
	p.rebuildVisible()
	p.Rescale()
}

// SetDimensions changes the track height and rebuilds the geometry of every visible
// tile. Reshaped matrices and deltas are kept. Hidden tiles keep their old geometry
// until they are shown again, as does a visible tile whose rebuild fails.
func (p *Pipeline) SetDimensions(trackHeight float64) {
	p.trackHeight = trackHeight
	p.markStale()
	p.rebuildVisible()
	p.Rescale()
}

// Invalidate drops the derived caches of one tile, keeping its raw payload.
func (p *Pipeline) Invalidate(id TileID) {
	if st, ok := p.state(id); ok {
		st.reset()
	}
}

// InvalidateAll drops the derived caches of every loaded tile.
func (p *Pipeline) InvalidateAll() {
	for _, st := range p.arena {
		if st != nil {
			st.reset()
		}
	}
}

func (p *Pipeline) markStale() {
	for _, st := range p.arena {
		if st != nil {
			st.stale = true
		}
	}
}

func (p *Pipeline) rebuildVisible() {
	for _, id := range p.visible {
		st, ok := p.state(id)
		if !ok {
			continue
		}
		if err := p.build(id, st); err != nil {
			p.log.Warn("tile build failed", "tile", id, "err", err)
		}
	}
}

// Matrix returns the reshaped matrix of a tile, computing it on first use.
func (p *Pipeline) Matrix(id TileID) (Matrix, error) {
	st, ok := p.state(id)
	if !ok {
		return nil, &TileError{ID: id, Op: "reshape", Err: ErrTileNotFound}
	}
	if err := p.reshape(id, st); err != nil {
		return nil, err
	}
	return st.matrix, nil
}

// reshape fills the matrix cache. A cached matrix makes it a no-op.
func (p *Pipeline) reshape(id TileID, st *tileState) error {
	if st.matrix != nil {
		return nil
	}
	m, err := Reshape(st.data.Dense, st.data.Shape, p.opts.SelectRows)
	if err != nil {
		return &TileError{ID: id, Op: "reshape", Err: err}
	}
	if p.opts.ValueScaling == ScalingLinear && hasNegative(st.data.Dense) {
		p.opts.ValueScaling = ScalingExponential
		if !p.warnedNegative {
			p.warnedNegative = true
			p.log.Warn("negative values found, switching value scaling to exponential", "tile", id)
		}
	}
	st.matrix = m
	return nil
}

// build runs the full pipeline for one tile. On failure the tile's previous
// geometry stays in place.
func (p *Pipeline) build(id TileID, st *tileState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TileError{ID: id, Op: "geometry", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := p.reshape(id, st); err != nil {
		return err
	}
	pal, err := p.paletteFor(st.matrix.NumCategories())
	if err != nil {
		return &TileError{ID: id, Op: "colors", Err: err}
	}

	var (
		batch  *Batch
		extent Extent
	)
	switch p.opts.TrackType {
	case TrackBasicMultipleBar:
		extent = FindMaxAndMin(st.matrix)
		shared := p.shared
		if extent.Min+extent.Max > shared.Min+shared.Max {
			shared = extent
		}
		batch = buildBasic(st.matrix, shared, pal, p.opts, p.trackHeight, p.barWidth)
	default:
		if st.deltas == nil {
			st.sorted, st.deltas = TransformMatrix(st.matrix)
		}
		extent = FindMaxAndMin(st.deltas)
		batch = buildStacked(stackedInput{
			deltas:      st.deltas,
			sorted:      st.sorted,
			extent:      extent,
			palette:     pal,
			opts:        p.opts,
			trackHeight: p.trackHeight,
			barWidth:    p.barWidth,
		})
	}

	tex, err := p.backend.MakeTexture(batch)
	if err != nil {
		return &TileError{ID: id, Op: "texture", Err: err}
	}
	sprite := p.backend.MakeSprite(tex)

	st.dropGeometry()
	st.extent = extent
	st.batch = batch
	st.index = NewMouseoverIndex(batch)
	st.sprite = sprite
	st.stale = false
	p.place(st)
	return nil
}

func (p *Pipeline) paletteFor(numCategories int) (*palette, error) {
	if p.palette != nil && len(p.palette.colors) == numCategories {
		return p.palette, nil
	}
	pal, err := newPalette(p.opts, p.tileset, numCategories, p.backend.ColorToHex)
	if err != nil {
		return nil, err
	}
	p.palette = pal
	return pal, nil
}

func (p *Pipeline) built(id TileID, op string) (*tileState, error) {
	st, ok := p.state(id)
	if !ok {
		return nil, &TileError{ID: id, Op: op, Err: ErrTileNotFound}
	}
	if st.batch == nil {
		return nil, &TileError{ID: id, Op: op, Err: ErrNotBuilt}
	}
	return st, nil
}

// Geometry returns a tile's rectangle batch.
func (p *Pipeline) Geometry(id TileID) (*Batch, error) {
	st, err := p.built(id, "geometry")
	if err != nil {
		return nil, err
	}
	return st.batch, nil
}

// Extent returns a tile's own min/max.
func (p *Pipeline) Extent(id TileID) (Extent, error) {
	st, err := p.built(id, "extent")
	if err != nil {
		return Extent{}, err
	}
	return st.extent, nil
}

// Sprite returns a tile's current placement.
func (p *Pipeline) Sprite(id TileID) (*Sprite, error) {
	st, err := p.built(id, "sprite")
	if err != nil {
		return nil, err
	}
	return st.sprite, nil
}

// Lookup answers a mouseover query in texture coordinates. The bool is false when
// nothing is under the point.
func (p *Pipeline) Lookup(id TileID, column int, y float64) (Hit, bool, error) {
	st, err := p.built(id, "lookup")
	if err != nil {
		return Hit{}, false, err
	}
	rec, ok := st.index.Find(column, y)
	if !ok {
		return Hit{}, false, nil
	}

	hit := Hit{Column: column, Category: rec.Category, Color: rec.Color}
	if len(p.opts.SelectRows) > 0 {
		sel := p.opts.SelectRows[rec.Category]
		names := make([]string, len(sel.Indices))
		for i, idx := range sel.Indices {
			names[i] = p.tileset.rowName(idx)
		}
		hit.Label = strings.Join(names, ", ")
		hit.Value = st.matrix[column][rec.Category]
	} else {
		hit.Label = p.tileset.rowName(rec.Category)
		if st.deltas != nil {
			hit.Value = Accumulate(st.deltas[column], st.sorted[column], rec.Category)
		} else {
			hit.Value = st.matrix[column][rec.Category]
		}
	}
	hit.Text = toPrecision(hit.Value)
	return hit, true, nil
}

// LookupTrack answers a mouseover query given a y in track coordinates, undoing the
// sprite placement first.
func (p *Pipeline) LookupTrack(id TileID, column int, trackY float64) (Hit, bool, error) {
	st, err := p.built(id, "lookup")
	if err != nil {
		return Hit{}, false, err
	}
	dataY := (trackY-st.sprite.Y)/st.sprite.ScaleY() + st.batch.LowestY
	return p.Lookup(id, column, dataY)
}

// ExportRect is one rectangle of a static export.
type ExportRect struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Fill        string  `json:"fill"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"stroke_width,omitempty"`
	Opacity     float64 `json:"opacity"`
}

// ExportTile is one visible tile of a static export, with the sprite transform
// that places its rectangles on the track.
type ExportTile struct {
	ID     TileID       `json:"id"`
	X      float64      `json:"x"`
	Y      float64      `json:"y"`
	ScaleX float64      `json:"scale_x"`
	ScaleY float64      `json:"scale_y"`
	Rects  []ExportRect `json:"rects"`
}

// Export flattens the painted rectangles of every visible tile, shifted so each
// tile's lowest point sits at y=0.
func (p *Pipeline) Export() []ExportTile {
	out := make([]ExportTile, 0, len(p.visible))
	for _, id := range p.visible {
		st, ok := p.state(id)
		if !ok || st.batch == nil || st.sprite == nil {
			continue
		}
		et := ExportTile{
			ID:     id,
			X:      st.sprite.X,
			Y:      st.sprite.Y,
			ScaleX: st.sprite.ScaleX(),
			ScaleY: st.sprite.ScaleY(),
			Rects:  make([]ExportRect, 0, len(st.batch.Fills)),
		}
		for _, r := range st.batch.Fills {
			er := ExportRect{
				X:       r.X,
				Y:       r.Y - st.batch.LowestY,
				Width:   r.Width,
				Height:  r.Height,
				Fill:    r.Color,
				Stroke:  r.Color,
				Opacity: r.Opacity,
			}
			if st.batch.Border {
				er.Stroke = "black"
				er.StrokeWidth = 0.1
			}
			et.Rects = append(et.Rects, er)
		}
		out = append(out, et)
	}
	return out
}
