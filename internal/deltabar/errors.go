package deltabar

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch indicates a flat payload whose length disagrees with its declared shape.
	ErrShapeMismatch = errors.New("payload length does not match shape")

	// ErrSelection indicates a row selection that references a missing source category.
	ErrSelection = errors.New("invalid row selection")

	// ErrPaletteTooSmall indicates no color scale could cover every category.
	ErrPaletteTooSmall = errors.New("color scale shorter than number of categories")

	// ErrTileNotFound indicates the tile is not tracked by the pipeline.
	ErrTileNotFound = errors.New("tile not found")

	// ErrNotBuilt indicates the tile has no geometry yet.
	ErrNotBuilt = errors.New("tile geometry not built")
)

// TileError tags a failure with the tile and pipeline stage it came from.
type TileError struct {
	ID  TileID
	Op  string
	Err error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %s: %s: %v", e.ID, e.Op, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}
