package api

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/deltabar-tiles/server/internal/data/zarr"
	"github.com/deltabar-tiles/server/internal/deltabar"
	"github.com/deltabar-tiles/server/internal/service"
)

// localTestZarrPath writes a one-zoom, one-chunk multivec store of 6 positions x 3 categories.
func localTestZarrPath(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	mustWriteJSON(t, filepath.Join(root, "metadata.json"), map[string]any{
		"tile_size":      4,
		"max_zoom":       0,
		"num_categories": 3,
		"row_infos":      []string{"Active TSS", "Enhancer", "Quiescent"},
	})

	arrayPath := filepath.Join(root, "zoom_0", "values")
	mustWriteJSON(t, filepath.Join(arrayPath, "zarr.json"), map[string]any{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       []int{6, 3},
		"data_type":   "float32",
		"chunk_grid": map[string]any{
			"name":          "regular",
			"configuration": map[string]any{"chunk_shape": []int{6, 3}},
		},
		"chunk_key_encoding": map[string]any{
			"name":          "default",
			"configuration": map[string]any{"separator": "/"},
		},
		"fill_value": 0,
		"codecs":     []any{map[string]any{"name": "bytes"}, map[string]any{"name": "zstd"}},
	})

	raw := make([]byte, 0, 6*3*4)
	for p := 0; p < 6; p++ {
		for c := 0; c < 3; c++ {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(float32(p+c+1)))
		}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()

	chunkPath := filepath.Join(arrayPath, "c", "0", "0")
	if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(chunkPath, enc.EncodeAll(raw, nil), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func mustWriteJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestZarrViewEndpoint_NoListen(t *testing.T) {
	zarrReader, err := zarr.NewReader(localTestZarrPath(t))
	if err != nil {
		t.Fatalf("Failed to initialize Zarr reader: %v", err)
	}

	trackService, err := service.NewTrackService(service.TrackServiceConfig{
		TrackID:     "default",
		Source:      zarrReader,
		Options:     deltabar.DefaultOptions(),
		TrackHeight: 100,
	})
	if err != nil {
		t.Fatalf("Failed to create track service: %v", err)
	}
	defer trackService.Close()

	registry := NewTrackRegistry("default", []string{"default"}, "")
	registry.Register("default", trackService)

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
	})

	req := httptest.NewRequest(http.MethodGet, "/t/default/api/view?z=0&tiles=0,1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var view service.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(view.Tiles) != 2 {
		t.Fatalf("expected 2 tiles, got %+v (failures %+v)", view.Tiles, view.Failures)
	}
	// Every value is positive, so the shared scale has no negative headroom.
	if view.Shared.Min != 0 || view.Shared.Max <= 0 {
		t.Fatalf("unexpected shared extent %+v", view.Shared)
	}

	req = httptest.NewRequest(http.MethodGet, "/t/default/tiles/0/1/geometry", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var batch deltabar.Batch
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	// The second tile is clipped at the array end: positions 4 and 5.
	if batch.Columns != 2 || batch.Categories != 3 {
		t.Fatalf("unexpected batch shape %dx%d", batch.Columns, batch.Categories)
	}
}
