package areas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Area is a named rectangular region the user has chosen to pre-fetch.
// Bbox is [minLon, minLat, maxLon, maxLat] in decimal degrees.
type Area struct {
	Name      string    `json:"name"`
	Bbox      []float64 `json:"bbox"`
	Zooms     []int     `json:"zooms"`
	CreatedAt string    `json:"created_at,omitempty"`
	UpdatedAt string    `json:"updated_at,omitempty"`
}

// Registry persists areas as a flat JSON list, loaded fully on each access.
// Saves replace the whole file atomically; the last writer wins, which is
// acceptable for interactive single-operator usage.
type Registry struct {
	Path string

	// now is swappable for tests.
	now func() time.Time
}

func NewRegistry(path string) *Registry {
	return &Registry{Path: path, now: time.Now}
}

// List returns all saved areas. A missing file is an empty registry, not an
// error.
func (r *Registry) List() ([]Area, error) {
	return r.load()
}

// Save replaces the entry with the same name (keeping its created_at), or
// appends a new one.
func (r *Registry) Save(a Area) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return fmt.Errorf("area name is required")
	}

	list, err := r.load()
	if err != nil {
		return err
	}

	stamp := r.timeNow().Format(timeLayout)
	replaced := false
	for i := range list {
		if list[i].Name == a.Name {
			list[i].Bbox = a.Bbox
			list[i].Zooms = a.Zooms
			list[i].UpdatedAt = stamp
			replaced = true
		}
	}
	if !replaced {
		a.CreatedAt = stamp
		a.UpdatedAt = ""
		list = append(list, a)
	}
	return r.store(list)
}

// Delete removes every entry with the given name. Deleting an unknown name
// is not an error.
func (r *Registry) Delete(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("area name is required")
	}

	list, err := r.load()
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, a := range list {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	return r.store(kept)
}

// load accepts both the plain-list format and the historical
// {"areas": [...]} wrapper.
func (r *Registry) load() ([]Area, error) {
	b, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Area{}, nil
		}
		return nil, err
	}

	var list []Area
	if err := json.Unmarshal(b, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Areas []Area `json:"areas"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && wrapped.Areas != nil {
		return wrapped.Areas, nil
	}
	return nil, fmt.Errorf("areas file %s: unrecognized format", r.Path)
}

// store always writes the plain-list format, atomically.
func (r *Registry) store(list []Area) error {
	if list == nil {
		list = []Area{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(r.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.Path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
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
	return os.Rename(tmpPath, r.Path)
}

func (r *Registry) timeNow() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}
