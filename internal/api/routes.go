// Package api provides HTTP handlers for the delta bar tile server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/deltabar-tiles/server/internal/deltabar"
	"github.com/deltabar-tiles/server/internal/service"
)

// maxViewTiles bounds the tiles a single view request may load.
const maxViewTiles = 64

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *TrackRegistry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/tracks", tracksHandler(cfg.Registry))

	// Track-scoped routes: /t/{track}/...
	r.Route("/t/{track}", func(r chi.Router) {
		r.Use(trackMiddleware(cfg.Registry))

		r.Get("/tiles/{z}/{pos}.png", textureHandler)
		r.Get("/tiles/{z}/{pos}/geometry", geometryHandler)
		r.Get("/tiles/{z}/{pos}/lookup", lookupHandler)
		r.Get("/export.svg", exportHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/tileset", tilesetHandler)
			r.Get("/options", optionsHandler)
			r.Put("/options", updateOptionsHandler)
			r.Delete("/options", resetOptionsHandler)
			r.Get("/view", viewHandler)
		})
	})

	return r
}

// Context key for track service
type ctxKey string

const trackServiceKey ctxKey = "trackService"

// trackMiddleware resolves the track from URL and injects its service into context.
func trackMiddleware(registry *TrackRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trackID := chi.URLParam(r, "track")
			svc := registry.Get(trackID)
			if svc == nil {
				http.Error(w, "track not found: "+trackID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), trackServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getTrackService(r *http.Request) *service.TrackService {
	if svc, ok := r.Context().Value(trackServiceKey).(*service.TrackService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deltabar.ErrTileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidOptions), errors.Is(err, deltabar.ErrSelection):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// tracksHandler returns the list of available tracks.
func tracksHandler(registry *TrackRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default": registry.DefaultTrackID(),
			"tracks":  registry.Tracks(),
			"title":   registry.Title(),
		})
	}
}

func tileIDParam(r *http.Request) (deltabar.TileID, error) {
	z, err := strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil || z < 0 {
		return deltabar.TileID{}, errors.New("invalid z")
	}
	pos, err := strconv.Atoi(chi.URLParam(r, "pos"))
	if err != nil || pos < 0 {
		return deltabar.TileID{}, errors.New("invalid pos")
	}
	return deltabar.TileID{Zoom: z, Pos: pos}, nil
}

func tilesetHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	writeJSON(w, svc.TilesetInfo())
}

type optionsResponse struct {
	Options  deltabar.Options `json:"options"`
	Revision int64            `json:"revision"`
}

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	opts, rev := svc.Options()
	writeJSON(w, optionsResponse{Options: opts, Revision: rev})
}

func updateOptionsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	opts := deltabar.DefaultOptions()
	if err := json.Unmarshal(body, &opts); err != nil {
		http.Error(w, "invalid options: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts, rev, err := svc.UpdateOptions(opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, optionsResponse{Options: opts, Revision: rev})
}

func resetOptionsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	opts, rev, err := svc.ResetOptions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, optionsResponse{Options: opts, Revision: rev})
}

// viewHandler sets the visible tiles: /api/view?z=3&tiles=4,5,6[&height=120]
func viewHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	query := r.URL.Query()

	z, err := strconv.Atoi(query.Get("z"))
	if err != nil {
		http.Error(w, "invalid z", http.StatusBadRequest)
		return
	}
	positions, err := parseCSVInts(query.Get("tiles"), maxViewTiles)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h := query.Get("height"); h != "" {
		height, err := strconv.ParseFloat(h, 64)
		if err != nil {
			http.Error(w, "invalid height", http.StatusBadRequest)
			return
		}
		if err := svc.SetTrackHeight(height); err != nil {
			writeError(w, err)
			return
		}
	}

	view, err := svc.View(z, positions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, view)
}

func textureHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	id, err := tileIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := svc.TexturePNG(id)
	if err != nil {
		// Return empty tile on error
		data, err = svc.EmptyTexture()
		if err != nil {
			writeError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func geometryHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	id, err := tileIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	batch, err := svc.Geometry(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, batch)
}

// lookupHandler answers a mouseover query. y is in texture coordinates unless
// space=track is given. No match answers 204.
func lookupHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	id, err := tileIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	col, err := strconv.Atoi(query.Get("col"))
	if err != nil {
		http.Error(w, "invalid col", http.StatusBadRequest)
		return
	}
	y, err := strconv.ParseFloat(query.Get("y"), 64)
	if err != nil {
		http.Error(w, "invalid y", http.StatusBadRequest)
		return
	}

	var (
		hit deltabar.Hit
		ok  bool
	)
	switch strings.ToLower(query.Get("space")) {
	case "", "texture":
		hit, ok, err = svc.Lookup(id, col, y)
	case "track":
		hit, ok, err = svc.LookupTrack(id, col, y)
	default:
		http.Error(w, "invalid space", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, hit)
}

func exportHandler(w http.ResponseWriter, r *http.Request) {
	svc := getTrackService(r)
	data, err := svc.ExportSVG()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", svc.ID()+".svg"))
	w.Write(data)
}

func parseCSVInts(s string, maxItems int) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if maxItems > 0 && len(out) >= maxItems {
			return nil, fmt.Errorf("too many tiles (max %d)", maxItems)
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, errors.New("invalid tile position: " + p)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("empty tiles list")
	}
	return out, nil
}
