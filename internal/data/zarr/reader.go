// Package zarr provides a reader for multivec tilesets stored as Zarr v3 arrays.
//
// Layout:
//
//	<root>/metadata.json           tile_size, max_zoom, num_categories, row_infos
//	<root>/zoom_<z>/values/        2-D array [positions, categories], float32 or float64
package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

// Reader provides access to multivec tiles.
type Reader struct {
	basePath string
	tileset  deltabar.TilesetInfo
	mu       sync.RWMutex
	decoder  *zstd.Decoder

	// Array metadata per zoom level, loaded on first use
	arrays map[int]*ZarrV3ArrayMeta
}

// ZarrV3ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ZarrV3ArrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue interface{} `json:"fill_value"`
	Codecs    []struct {
		Name          string                 `json:"name"`
		Configuration map[string]interface{} `json:"configuration"`
	} `json:"codecs"`
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`
}

// NewReader opens a multivec store rooted at basePath.
func NewReader(basePath string) (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	r := &Reader{
		basePath: basePath,
		decoder:  decoder,
		arrays:   make(map[int]*ZarrV3ArrayMeta),
	}

	if err := r.loadMetadata(); err != nil {
		decoder.Close()
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	return r, nil
}

// Tileset returns the tileset metadata.
func (r *Reader) Tileset() deltabar.TilesetInfo {
	return r.tileset
}

// Path returns the store root.
func (r *Reader) Path() string {
	return r.basePath
}

func (r *Reader) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(r.basePath, "metadata.json"))
	if err != nil {
		return fmt.Errorf("failed to read metadata.json: %w", err)
	}

	var info deltabar.TilesetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to parse metadata.json: %w", err)
	}
	if info.TileSize <= 0 {
		return fmt.Errorf("invalid tile_size: %d", info.TileSize)
	}
	if info.NumCategories == 0 {
		info.NumCategories = len(info.RowInfos)
	}

	r.tileset = info
	return nil
}

func (r *Reader) zoomMeta(zoom int) (*ZarrV3ArrayMeta, error) {
	r.mu.RLock()
	meta, ok := r.arrays[zoom]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	if zoom < 0 || zoom > r.tileset.MaxZoom {
		return nil, fmt.Errorf("%w: invalid zoom level %d", deltabar.ErrTileNotFound, zoom)
	}
	meta, err := r.loadArrayMeta(r.valuesPath(zoom))
	if err != nil {
		return nil, fmt.Errorf("failed to load zoom %d metadata: %w", zoom, err)
	}
	if len(meta.Shape) != 2 || len(meta.ChunkGrid.Configuration.ChunkShape) != 2 {
		return nil, fmt.Errorf("unexpected values shape at zoom %d: %v", zoom, meta.Shape)
	}
	if _, err := zarrDTypeSize(meta.DataType); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.arrays[zoom] = meta
	r.mu.Unlock()
	return meta, nil
}

func (r *Reader) valuesPath(zoom int) string {
	return filepath.Join(r.basePath, fmt.Sprintf("zoom_%d", zoom), "values")
}

// loadArrayMeta loads Zarr v3 array metadata.
func (r *Reader) loadArrayMeta(arrayPath string) (*ZarrV3ArrayMeta, error) {
	metaPath := filepath.Join(arrayPath, "zarr.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta ZarrV3ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// ReadTile returns the tile at (zoom, pos): rows [pos*tile_size, (pos+1)*tile_size)
// of the zoom level's values array, clipped at the array end, laid out category-major.
func (r *Reader) ReadTile(zoom, pos int) (deltabar.TileData, error) {
	meta, err := r.zoomMeta(zoom)
	if err != nil {
		return deltabar.TileData{}, err
	}

	nPositions, nCategories := meta.Shape[0], meta.Shape[1]
	start := pos * r.tileset.TileSize
	if pos < 0 || start >= nPositions {
		return deltabar.TileData{}, fmt.Errorf("%w: tile %d.%d outside %d positions", deltabar.ErrTileNotFound, zoom, pos, nPositions)
	}
	end := min(start+r.tileset.TileSize, nPositions)
	rows := end - start

	rowChunk := meta.ChunkGrid.Configuration.ChunkShape[0]
	colChunk := meta.ChunkGrid.Configuration.ChunkShape[1]
	if rowChunk <= 0 || colChunk <= 0 {
		return deltabar.TileData{}, fmt.Errorf("invalid values chunk shape: %v", meta.ChunkGrid.Configuration.ChunkShape)
	}
	elemSize, _ := zarrDTypeSize(meta.DataType)
	arrayPath := r.valuesPath(zoom)

	dense := make([]float64, nCategories*rows)
	for rc := start / rowChunk; rc <= (end-1)/rowChunk; rc++ {
		rowStart := rc * rowChunk
		rowLen := min(rowChunk, nPositions-rowStart)
		for cc := 0; cc < ceilDiv(nCategories, colChunk); cc++ {
			colStart := cc * colChunk
			colLen := min(colChunk, nCategories-colStart)

			chunkData, err := r.readChunkAt(arrayPath, meta, []int{rc, cc})
			if err != nil {
				return deltabar.TileData{}, fmt.Errorf("failed to load values chunk %d/%d: %w", rc, cc, err)
			}
			if len(chunkData) < rowLen*colLen*elemSize {
				return deltabar.TileData{}, fmt.Errorf("values chunk %d/%d too short: got %d bytes, expected %d", rc, cc, len(chunkData), rowLen*colLen*elemSize)
			}

			lo := max(start, rowStart)
			hi := min(end, rowStart+rowLen)
			for row := lo; row < hi; row++ {
				for c := 0; c < colLen; c++ {
					off := ((row-rowStart)*colLen + c) * elemSize
					dense[(colStart+c)*rows+(row-start)] = decodeValue(meta.DataType, chunkData[off:off+elemSize])
				}
			}
		}
	}

	return deltabar.TileData{
		Zoom:  zoom,
		Pos:   pos,
		Dense: dense,
		Shape: [2]int{nCategories, rows},
	}, nil
}

// readChunk reads and decompresses a chunk from Zarr v3 format.
func (r *Reader) readChunk(arrayPath string, chunkKey string) ([]byte, error) {
	// Zarr v3 stores chunks in c/ directory
	chunkPath := filepath.Join(arrayPath, "c", chunkKey)

	compressedData, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}

	decompressed, err := r.decoder.DecodeAll(compressedData, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}

	return decompressed, nil
}

func (r *Reader) encodeChunkKey(meta *ZarrV3ArrayMeta, chunkIndices []int) string {
	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, sep)
}

func (r *Reader) chunkShapeAt(meta *ZarrV3ArrayMeta, chunkIndices []int) ([]int, error) {
	if len(meta.Shape) != len(meta.ChunkGrid.Configuration.ChunkShape) {
		return nil, fmt.Errorf("invalid zarr metadata: shape dims (%d) != chunk dims (%d)", len(meta.Shape), len(meta.ChunkGrid.Configuration.ChunkShape))
	}
	if len(chunkIndices) != len(meta.Shape) {
		return nil, fmt.Errorf("invalid chunk indices: got %d dims, expected %d", len(chunkIndices), len(meta.Shape))
	}

	actual := make([]int, len(meta.Shape))
	for d := range meta.Shape {
		chunkLen := meta.ChunkGrid.Configuration.ChunkShape[d]
		start := chunkIndices[d] * chunkLen
		if start < 0 || start >= meta.Shape[d] {
			return nil, fmt.Errorf("chunk index out of range at dim %d: start=%d shape=%d", d, start, meta.Shape[d])
		}
		actual[d] = min(chunkLen, meta.Shape[d]-start)
	}
	return actual, nil
}

func (r *Reader) readChunkAt(arrayPath string, meta *ZarrV3ArrayMeta, chunkIndices []int) ([]byte, error) {
	data, err := r.readChunk(arrayPath, r.encodeChunkKey(meta, chunkIndices))
	if err == nil {
		return data, nil
	}

	// A chunk missing on disk is all fill value.
	if os.IsNotExist(err) {
		shape, shapeErr := r.chunkShapeAt(meta, chunkIndices)
		if shapeErr != nil {
			return nil, shapeErr
		}
		fill, fillErr := zarrFillValueBytes(meta)
		if fillErr != nil {
			return nil, fillErr
		}
		return repeatFillBytes(fill, shape[0]*shape[1]), nil
	}
	return nil, err
}

func zarrDTypeSize(dataType string) (int, error) {
	switch dataType {
	case "float32":
		return 4, nil
	case "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

func decodeValue(dataType string, b []byte) float64 {
	if dataType == "float64" {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

func zarrFillValueBytes(meta *ZarrV3ArrayMeta) ([]byte, error) {
	size, err := zarrDTypeSize(meta.DataType)
	if err != nil {
		return nil, err
	}

	// Default fill to 0 if unspecified.
	var v float64
	switch t := meta.FillValue.(type) {
	case nil:
		return make([]byte, size), nil
	case float64:
		v = t
	case string:
		// Zarr v3 spells non-finite fills as strings.
		switch t {
		case "NaN":
			v = math.NaN()
		case "Infinity":
			v = math.Inf(1)
		case "-Infinity":
			v = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill_value: %q", t)
		}
	default:
		return nil, fmt.Errorf("unsupported fill_value type for %s: %T", meta.DataType, meta.FillValue)
	}

	out := make([]byte, size)
	if size == 8 {
		binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	} else {
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(v)))
	}
	return out, nil
}

func repeatFillBytes(fill []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, len(fill)*n)
	for _, b := range fill {
		if b != 0 {
			for i := 0; i < n; i++ {
				copy(out[i*len(fill):], fill)
			}
			break
		}
	}
	return out
}

// Close releases resources.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
