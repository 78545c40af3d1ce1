package tiles

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Package defaults follow the OSM tile usage policy: identify the client,
// keep request rates low, never hammer on failure.
const (
	DefaultBaseURL    = "https://tile.openstreetmap.org"
	DefaultUserAgent  = "L76X-Offgrid-Importer/1.0"
	defaultFetchDelay = 50 * time.Millisecond
	defaultErrorDelay = 200 * time.Millisecond
	fetchTimeout      = 15 * time.Second
)

// Cache is an on-disk store of raster map tiles keyed by zoom/x/y. Tiles are
// immutable once written and append-only until an explicit Clear.
//
// File operations are not globally locked: skip-if-exists plus atomic
// single-writer-per-path makes concurrent Ensure calls safe; a duplicate
// in-flight fetch simply overwrites with equivalent content.
type Cache struct {
	Root      string
	BaseURL   string
	UserAgent string

	// FetchDelay is the fixed pacing between fetch attempts; ErrorDelay is
	// the short backoff after a transport error.
	FetchDelay time.Duration
	ErrorDelay time.Duration

	Client *http.Client
}

func New(root string) *Cache {
	return &Cache{
		Root:       root,
		BaseURL:    DefaultBaseURL,
		UserAgent:  DefaultUserAgent,
		FetchDelay: defaultFetchDelay,
		ErrorDelay: defaultErrorDelay,
		Client:     &http.Client{Timeout: fetchTimeout},
	}
}

// Path returns the on-disk location for one tile.
func (c *Cache) Path(z, x, y int) string {
	return filepath.Join(c.Root, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+".png")
}

// TileXY projects a coordinate onto the slippy-map integer grid at a zoom.
func TileXY(latDeg, lonDeg float64, zoom int) (x, y int) {
	latRad := latDeg * math.Pi / 180.0
	n := math.Exp2(float64(zoom))
	x = int((lonDeg + 180.0) / 360.0 * n)
	y = int((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n)
	return x, y
}

// Ensure walks every tile covering bbox [minLon, minLat, maxLon, maxLat] at
// the requested zooms and fetches the ones not already on disk.
//
// Per tile: total is counted unconditionally; an existing file is skipped
// without a network call; a successful fetch is written atomically and
// counted in downloaded; a non-success response leaves a zero-length
// placeholder so the tile is never retried automatically; a transport error
// leaves the tile absent (eligible for a future Ensure) after a short
// backoff.
func (c *Cache) Ensure(ctx context.Context, bbox [4]float64, zooms []int) (total, downloaded int, err error) {
	minLon, minLat, maxLon, maxLat := bbox[0], bbox[1], bbox[2], bbox[3]
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return 0, 0, err
	}

	for _, z := range zooms {
		// The rectangle spans the tiles of the two opposite corners,
		// inclusive, regardless of corner order.
		x0, y0 := TileXY(maxLat, minLon, z)
		x1, y1 := TileXY(minLat, maxLon, z)
		xMin, xMax := minMax(x0, x1)
		yMin, yMax := minMax(y0, y1)

		for x := xMin; x <= xMax; x++ {
			for y := yMin; y <= yMax; y++ {
				if ctx.Err() != nil {
					return total, downloaded, ctx.Err()
				}
				total++

				path := c.Path(z, x, y)
				if _, statErr := os.Stat(path); statErr == nil {
					continue
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return total, downloaded, err
				}

				ok, fetchErr := c.fetchTile(ctx, z, x, y, path)
				if fetchErr != nil {
					// Transport error: skip the tile, retry on a later call.
					log.WithFields(log.Fields{"z": z, "x": x, "y": y}).
						Debugf("tile fetch failed: %v", fetchErr)
					sleepCtx(ctx, c.errorDelay())
					continue
				}
				if ok {
					downloaded++
				}
				sleepCtx(ctx, c.fetchDelay())
			}
		}
	}
	return total, downloaded, nil
}

// fetchTile returns (true, nil) when the tile was downloaded, (false, nil)
// when the server answered non-success and a placeholder was written, and an
// error only for transport failures.
func (c *Cache) fetchTile(ctx context.Context, z, x, y int, path string) (bool, error) {
	url := fmt.Sprintf("%s/%d/%d/%d.png", c.baseURL(), z, x, y)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.client().Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Zero-length sentinel: fetch attempted, do not retry automatically.
		if werr := writeFileAtomic(path, nil); werr != nil {
			return false, werr
		}
		return false, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if err := writeFileAtomic(path, body); err != nil {
		return false, err
	}
	return true, nil
}

// Clear bulk-removes all cached tiles. Bookkeeping files in the root
// (saved_areas.json, manifest.log) survive; only the numeric zoom
// directories go.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.Root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes via a temp file in the same directory so the rename
// is atomic and a crash never leaves a partial tile.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func minMax(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (c *Cache) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c *Cache) userAgent() string {
	if c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

func (c *Cache) client() *http.Client {
	if c.Client == nil {
		return &http.Client{Timeout: fetchTimeout}
	}
	return c.Client
}

func (c *Cache) fetchDelay() time.Duration {
	if c.FetchDelay < 0 {
		return 0
	}
	return c.FetchDelay
}

func (c *Cache) errorDelay() time.Duration {
	if c.ErrorDelay < 0 {
		return 0
	}
	return c.ErrorDelay
}
