package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"gpsmap/internal/areas"
	"gpsmap/internal/tiles"
)

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestAreaLifecycle(t *testing.T) {
	reg := areas.NewRegistry(filepath.Join(t.TempDir(), "saved_areas.json"))
	ts := httptest.NewServer(Handler(Options{Areas: reg}))
	defer ts.Close()

	// Save, then overwrite the same name with a different bbox.
	resp := postJSON(t, ts.URL+"/api/save_area", `{"name":"home","bbox":[0,0,1,1],"zooms":[10]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status=%d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/api/save_area", `{"name":"home","bbox":[2,2,3,3],"zooms":[11]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/api/list_areas")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed struct {
		Areas []areas.Area `json:"areas"`
	}
	decodeInto(t, listResp, &listed)
	if len(listed.Areas) != 1 {
		t.Fatalf("areas=%v want exactly one", listed.Areas)
	}
	if listed.Areas[0].Bbox[0] != 2 {
		t.Fatalf("bbox=%v want second save's bbox", listed.Areas[0].Bbox)
	}

	resp = postJSON(t, ts.URL+"/api/delete_area", `{"name":"home"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err = http.Get(ts.URL + "/api/list_areas")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	decodeInto(t, listResp, &listed)
	if len(listed.Areas) != 0 {
		t.Fatalf("areas=%v want empty", listed.Areas)
	}
}

func TestSaveArea_InvalidPayloads(t *testing.T) {
	reg := areas.NewRegistry(filepath.Join(t.TempDir(), "saved_areas.json"))
	ts := httptest.NewServer(Handler(Options{Areas: reg}))
	defer ts.Close()

	cases := []string{
		`{}`,
		`{"name":"","bbox":[0,0,1,1],"zooms":[10]}`,
		`{"name":"x","bbox":[0,0,1],"zooms":[10]}`,
		`{"name":"x","bbox":[0,0,1,1]}`,
		`not json`,
	}
	for _, body := range cases {
		resp := postJSON(t, ts.URL+"/api/save_area", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d want 400", body, resp.StatusCode)
		}
		var e map[string]string
		decodeInto(t, resp, &e)
		if e["error"] == "" {
			t.Fatalf("body %q: expected structured error", body)
		}
	}
}

func TestDeleteArea_MissingName(t *testing.T) {
	reg := areas.NewRegistry(filepath.Join(t.TempDir(), "saved_areas.json"))
	ts := httptest.NewServer(Handler(Options{Areas: reg}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/delete_area", `{}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
}

func TestDownloadTiles(t *testing.T) {
	var hits int64
	tileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		_, _ = w.Write([]byte("png"))
	}))
	defer tileServer.Close()

	cache := tiles.New(t.TempDir())
	cache.BaseURL = tileServer.URL
	cache.FetchDelay = 0

	ts := httptest.NewServer(Handler(Options{Tiles: cache}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/download_tiles",
		`{"bbox":[-73.58,45.49,-73.55,45.52],"zooms":[12],"name":"downtown"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var out struct {
		OK         bool `json:"ok"`
		Total      int  `json:"total"`
		Downloaded int  `json:"downloaded"`
	}
	decodeInto(t, resp, &out)
	if !out.OK || out.Total == 0 || out.Downloaded != out.Total {
		t.Fatalf("out=%+v", out)
	}

	// Repeat: everything cached, nothing downloaded.
	resp = postJSON(t, ts.URL+"/api/download_tiles",
		`{"bbox":[-73.58,45.49,-73.55,45.52],"zooms":[12]}`)
	var out2 struct {
		Total      int `json:"total"`
		Downloaded int `json:"downloaded"`
	}
	decodeInto(t, resp, &out2)
	if out2.Total != out.Total || out2.Downloaded != 0 {
		t.Fatalf("out2=%+v want total=%d downloaded=0", out2, out.Total)
	}

	// The download left an audit record.
	if _, err := os.Stat(filepath.Join(cache.Root, "manifest.log")); err != nil {
		t.Fatalf("manifest: %v", err)
	}
}

func TestDownloadTiles_InvalidPayloads(t *testing.T) {
	cache := tiles.New(t.TempDir())
	ts := httptest.NewServer(Handler(Options{Tiles: cache}))
	defer ts.Close()

	cases := []string{
		`{}`,
		`{"bbox":[-73.58,45.49,-73.55,45.52]}`,
		`{"bbox":[-73.58,45.49,-73.55,45.52],"zooms":[]}`,
		`{"bbox":[1,2],"zooms":[12]}`,
	}
	for _, body := range cases {
		resp := postJSON(t, ts.URL+"/api/download_tiles", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d want 400", body, resp.StatusCode)
		}
	}
}

func TestClearCache(t *testing.T) {
	cache := tiles.New(t.TempDir())
	path := cache.Path(10, 1, 2)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ts := httptest.NewServer(Handler(Options{Tiles: cache}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/clear_cache", ``)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("tile survived clear")
	}
}
