package tiles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const manifestTimeLayout = "2006-01-02 15:04:05"

// ManifestRecord is one audit entry for a download operation. The log is
// write-only from this package's perspective; nothing reads it back.
type ManifestRecord struct {
	Time  string    `json:"time"`
	Name  string    `json:"name"`
	Bbox  []float64 `json:"bbox"`
	Zooms []int     `json:"zooms"`
}

// AppendManifest appends one newline-delimited JSON record to
// Root/manifest.log. The record time is stamped here when empty.
func (c *Cache) AppendManifest(rec ManifestRecord) error {
	if rec.Time == "" {
		rec.Time = time.Now().Format(manifestTimeLayout)
	}
	if rec.Name == "" {
		rec.Name = "bbox"
	}

	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(c.Root, "manifest.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}
