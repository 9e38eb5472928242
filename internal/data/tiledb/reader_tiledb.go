//go:build tiledb

package tiledb

import (
	"fmt"
	"math"
	"os"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

// Reader reads multivec tiles from TileDB dense arrays.
type Reader struct {
	root    string
	tileset deltabar.TilesetInfo
	ctx     *tiledb.Context
}

func NewReader(uri string) (*Reader, error) {
	root, err := ResolveRoot(uri)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(root); statErr != nil {
		return nil, fmt.Errorf("tiledb tileset not found at %s: %w", root, statErr)
	}
	info, err := loadTileset(root)
	if err != nil {
		return nil, err
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Reader{root: root, tileset: info, ctx: ctx}, nil
}

func (r *Reader) Supported() bool { return true }

func (r *Reader) Path() string { return r.root }

func (r *Reader) Tileset() deltabar.TilesetInfo { return r.tileset }

// ReadTile reads rows [pos*tile_size, (pos+1)*tile_size) of the zoom level's array,
// clipped at the non-empty domain. Column-major layout over (position, category)
// yields the category-major payload directly.
func (r *Reader) ReadTile(zoom, pos int) (deltabar.TileData, error) {
	if zoom < 0 || zoom > r.tileset.MaxZoom {
		return deltabar.TileData{}, fmt.Errorf("%w: invalid zoom level %d", deltabar.ErrTileNotFound, zoom)
	}

	uri := zoomURI(r.root, zoom)
	arr, err := tiledb.NewArray(r.ctx, uri)
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to open values array (%s): %w", uri, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to open values array for read: %w", err)
	}
	defer arr.Close()

	posDom, isEmpty, err := arr.NonEmptyDomainFromName(dimPosition)
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to get position domain: %w", err)
	}
	if isEmpty || posDom == nil {
		return deltabar.TileData{}, fmt.Errorf("%w: zoom %d is empty", deltabar.ErrTileNotFound, zoom)
	}
	_, maxPos, err := boundsMinMaxInt64(posDom.Bounds)
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to parse position domain bounds: %w", err)
	}
	catDom, _, err := arr.NonEmptyDomainFromName(dimCategory)
	if err != nil || catDom == nil {
		return deltabar.TileData{}, fmt.Errorf("failed to get category domain: %v", err)
	}
	_, maxCat, err := boundsMinMaxInt64(catDom.Bounds)
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to parse category domain bounds: %w", err)
	}

	start := int64(pos) * int64(r.tileset.TileSize)
	if pos < 0 || start > maxPos {
		return deltabar.TileData{}, fmt.Errorf("%w: tile %d.%d outside %d positions", deltabar.ErrTileNotFound, zoom, pos, maxPos+1)
	}
	end := min(start+int64(r.tileset.TileSize)-1, maxPos)
	rows := int(end - start + 1)
	nCategories := int(maxCat + 1)

	sub, err := arr.NewSubarray()
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName(dimPosition, tiledb.MakeRange[int64](start, end)); err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to add position range: %w", err)
	}
	if err := sub.AddRangeByName(dimCategory, tiledb.MakeRange[int64](0, maxCat)); err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to add category range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to set subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_COL_MAJOR); err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to set query layout: %w", err)
	}

	values := make([]float32, rows*nCategories)
	if _, err := q.SetDataBuffer(attrValue, values); err != nil {
		return deltabar.TileData{}, fmt.Errorf("failed to set buffer %s: %w", attrValue, err)
	}
	if err := q.Submit(); err != nil {
		return deltabar.TileData{}, fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return deltabar.TileData{}, fmt.Errorf("query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return deltabar.TileData{}, fmt.Errorf("unexpected query status: %v", status)
	}

	dense := make([]float64, len(values))
	for i, v := range values {
		dense[i] = float64(v)
	}
	return deltabar.TileData{
		Zoom:  zoom,
		Pos:   pos,
		Dense: dense,
		Shape: [2]int{nCategories, rows},
	}, nil
}

// Close releases the TileDB context.
func (r *Reader) Close() {
	if r.ctx != nil {
		r.ctx.Free()
	}
}

func boundsMinMaxInt64(bounds interface{}) (int64, int64, error) {
	switch v := bounds.(type) {
	case []int64:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []int32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint64:
		if len(v) >= 2 {
			if v[0] > math.MaxInt64 || v[1] > math.MaxInt64 {
				return 0, 0, fmt.Errorf("uint64 bounds exceed int64 range")
			}
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported bounds type for non-empty domain")
}
