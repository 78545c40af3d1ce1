package web

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"gpsmap/internal/areas"
	"gpsmap/internal/tiles"
)

type saveAreaRequest struct {
	Name  string    `json:"name"`
	Bbox  []float64 `json:"bbox"`
	Zooms []int     `json:"zooms"`
}

type deleteAreaRequest struct {
	Name string `json:"name"`
}

type downloadTilesRequest struct {
	Bbox  []float64 `json:"bbox"`
	Zooms []int     `json:"zooms"`
	Name  string    `json:"name"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func listAreasHandler(reg *areas.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if reg == nil {
			writeError(w, http.StatusServiceUnavailable, "area registry not available")
			return
		}
		list, err := reg.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load areas")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]areas.Area{"areas": list})
	}
}

func saveAreaHandler(reg *areas.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if reg == nil {
			writeError(w, http.StatusServiceUnavailable, "area registry not available")
			return
		}
		var req saveAreaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" || len(req.Bbox) != 4 || req.Zooms == nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if err := reg.Save(areas.Area{Name: req.Name, Bbox: req.Bbox, Zooms: req.Zooms}); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func deleteAreaHandler(reg *areas.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if reg == nil {
			writeError(w, http.StatusServiceUnavailable, "area registry not available")
			return
		}
		var req deleteAreaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "missing name")
			return
		}
		if err := reg.Delete(req.Name); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func downloadTilesHandler(cache *tiles.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if cache == nil {
			writeError(w, http.StatusServiceUnavailable, "tile cache not available")
			return
		}
		var req downloadTilesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Bbox) != 4 || len(req.Zooms) == 0 {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		bbox := [4]float64{req.Bbox[0], req.Bbox[1], req.Bbox[2], req.Bbox[3]}
		total, downloaded, err := cache.Ensure(r.Context(), bbox, req.Zooms)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Audit record; failures do not fail the download.
		if err := cache.AppendManifest(tiles.ManifestRecord{Name: req.Name, Bbox: req.Bbox, Zooms: req.Zooms}); err != nil {
			log.Warnf("manifest append failed: %v", err)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"total":      total,
			"downloaded": downloaded,
		})
	}
}

func clearCacheHandler(cache *tiles.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if cache == nil {
			writeError(w, http.StatusServiceUnavailable, "tile cache not available")
			return
		}
		if err := cache.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear cache")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
