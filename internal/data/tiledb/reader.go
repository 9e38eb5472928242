// Package tiledb provides read-only access to multivec tilesets stored as TileDB
// dense arrays.
//
// Layout:
//
//	<root>/metadata.json   tile_size, max_zoom, num_categories, row_infos
//	<root>/zoom_<z>        dense array, dims "position" x "category" (int64), attr "value" (float32)
package tiledb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

var (
	// ErrUnsupported indicates this binary was built without TileDB support.
	ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")
)

const (
	dimPosition = "position"
	dimCategory = "category"
	attrValue   = "value"
)

// ResolveRoot cleans a configured tiledb_uri and expands environment variables.
func ResolveRoot(uri string) (string, error) {
	p := strings.TrimSpace(uri)
	if p == "" {
		return "", errors.New("empty tiledb_uri")
	}
	p = os.ExpandEnv(p)
	return filepath.Clean(p), nil
}

func loadTileset(root string) (deltabar.TilesetInfo, error) {
	data, err := os.ReadFile(filepath.Join(root, "metadata.json"))
	if err != nil {
		return deltabar.TilesetInfo{}, fmt.Errorf("failed to read metadata.json: %w", err)
	}
	var info deltabar.TilesetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return deltabar.TilesetInfo{}, fmt.Errorf("failed to parse metadata.json: %w", err)
	}
	if info.TileSize <= 0 {
		return deltabar.TilesetInfo{}, fmt.Errorf("invalid tile_size: %d", info.TileSize)
	}
	if info.NumCategories == 0 {
		info.NumCategories = len(info.RowInfos)
	}
	return info, nil
}

func zoomURI(root string, zoom int) string {
	return filepath.Join(root, fmt.Sprintf("zoom_%d", zoom))
}
