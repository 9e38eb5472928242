//go:build !tiledb

package tiledb

import (
	"fmt"
	"os"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

// Reader is a stub when built without "-tags tiledb".
type Reader struct {
	root    string
	tileset deltabar.TilesetInfo
}

// NewReader creates a TileDB reader (stub). It still resolves the root and loads the
// tileset metadata, so config issues can be caught early, but ReadTile returns
// ErrUnsupported.
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
	return &Reader{root: root, tileset: info}, nil
}

func (r *Reader) Supported() bool { return false }

func (r *Reader) Path() string { return r.root }

func (r *Reader) Tileset() deltabar.TilesetInfo { return r.tileset }

func (r *Reader) ReadTile(zoom, pos int) (deltabar.TileData, error) {
	return deltabar.TileData{}, ErrUnsupported
}

func (r *Reader) Close() {}
