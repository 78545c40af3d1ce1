package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gpsmap/internal/areas"
	"gpsmap/internal/geocode"
	"gpsmap/internal/tiles"
)

// Options collects the shared collaborators behind the HTTP surface. Every
// handler is independently idempotent and side-effect-scoped to its request;
// there is no session state.
type Options struct {
	Fixes     FixSource
	Tiles     *tiles.Cache
	Areas     *areas.Registry
	Geocoder  *geocode.Client
	Logs      *LogBuffer
	Broadcast *FixBroadcaster

	// StaticDir holds the map client assets served under /static/.
	StaticDir string
}

func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	start := time.Now().UTC()

	mux.HandleFunc("/location", locationHandler(opts.Fixes))

	mux.HandleFunc("/tiles/", tileHandler(opts.Tiles))

	if opts.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(opts.StaticDir))
		mux.Handle("/static/", http.StripPrefix("/static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent stale map-client assets during development.
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/api/geocode", geocodeHandler(opts.Geocoder))
	mux.HandleFunc("/api/list_areas", listAreasHandler(opts.Areas))
	mux.HandleFunc("/api/save_area", saveAreaHandler(opts.Areas))
	mux.HandleFunc("/api/delete_area", deleteAreaHandler(opts.Areas))
	mux.HandleFunc("/api/download_tiles", downloadTilesHandler(opts.Tiles))
	mux.HandleFunc("/api/clear_cache", clearCacheHandler(opts.Tiles))

	mux.HandleFunc("/api/status", statusHandler(opts.Fixes, start))

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}

	if opts.Broadcast != nil {
		mux.HandleFunc("/ws/location", opts.Broadcast.ServeWS)
	}

	mux.HandleFunc("/", indexHandler(opts.StaticDir))

	return mux
}

// Serve runs the HTTP service until ctx is cancelled, then drains in-flight
// handlers before releasing the listening socket.
func Serve(ctx context.Context, listenAddr string, opts Options) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// tileHandler serves /tiles/{z}/{x}/{y}.png straight from the cache
// directory. A zero-length placeholder means "fetch attempted, known absent"
// and is reported as 404 like a missing file.
func tileHandler(cache *tiles.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if cache == nil {
			writeError(w, http.StatusServiceUnavailable, "tile cache not available")
			return
		}

		z, x, y, ok := parseTilePath(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		path := cache.Path(z, x, y)
		st, err := os.Stat(path)
		if err != nil || st.IsDir() || st.Size() == 0 {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, path)
	}
}

func parseTilePath(p string) (z, x, y int, ok bool) {
	rest := strings.TrimPrefix(p, "/tiles/")
	rest = strings.TrimSuffix(rest, ".png")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if z, err = strconv.Atoi(parts[0]); err != nil || z < 0 {
		return 0, 0, 0, false
	}
	if x, err = strconv.Atoi(parts[1]); err != nil || x < 0 {
		return 0, 0, 0, false
	}
	if y, err = strconv.Atoi(parts[2]); err != nil || y < 0 {
		return 0, 0, 0, false
	}
	return z, x, y, true
}

func geocodeHandler(client *geocode.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if client == nil {
			writeError(w, http.StatusServiceUnavailable, "geocoder not available")
			return
		}

		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			q = strings.TrimSpace(r.URL.Query().Get("city"))
		}
		if q == "" {
			writeError(w, http.StatusBadRequest, "missing q")
			return
		}

		res, err := client.Search(r.Context(), q)
		if err != nil {
			if errors.Is(err, geocode.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeError(w, http.StatusBadGateway, "geocode failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type statusResponse struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	UptimeSec int64  `json:"uptime_sec"`

	Source    string `json:"source,omitempty"`
	LastError string `json:"last_error,omitempty"`

	Location LocationPayload `json:"location"`
}

func statusHandler(fixes FixSource, start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		now := time.Now().UTC()
		resp := statusResponse{
			Service:   "gpsmap",
			NowUTC:    now.Format(time.RFC3339Nano),
			UptimeSec: int64(now.Sub(start).Seconds()),
		}
		if fixes != nil {
			resp.Source = fixes.Source()
			resp.LastError = fixes.LastError()
			resp.Location = BuildLocation(fixes.Fix(), now)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func indexHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		if staticDir != "" {
			index := filepath.Join(staticDir, "index.html")
			if st, err := os.Stat(index); err == nil && !st.IsDir() {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, index)
				return
			}
		}

		// Fallback minimal page when no map client is installed.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gpsmap</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>gpsmap</h1>")
		_, _ = fmt.Fprintf(w, "<p>Map client assets are not installed. Use <a href=\"/location\">/location</a> or <a href=\"/api/status\">/api/status</a>.</p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	}
}
