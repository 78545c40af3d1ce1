package gps

import (
	"sync"
	"time"
)

// Fix is the aggregate receiver state: the most recently accepted fields from
// each sentence family.
type Fix struct {
	Lat float64
	Lon float64
	// HasPosition reports whether Lat/Lon have ever been set from a valid
	// sentence. Coordinates are only written in pairs.
	HasPosition bool

	SpeedKnots float64
	Timestamp  string
	Satellites int
	HDOP       float64

	// Valid is true once a sentence explicitly reporting an active/valid
	// status supplied both coordinates. A later invalid sentence never clears
	// it ("last known good" semantics); staleness is judged at read time.
	Valid bool

	UpdatedAt time.Time
}

// Age returns the time since the last merge, or a very large duration when
// nothing has ever been merged.
func (f Fix) Age(now time.Time) time.Duration {
	if f.UpdatedAt.IsZero() {
		return 1<<63 - 1
	}
	return now.Sub(f.UpdatedAt)
}

// Store is the single source of truth for "where are we now". One writer (the
// reader goroutine) and many readers (HTTP handlers) share it; the critical
// sections are plain field copies.
type Store struct {
	mu  sync.Mutex
	fix Fix
}

func NewStore() *Store {
	return &Store{}
}

// Merge folds one accepted sentence into the fix.
//
// Every accepted sentence stamps UpdatedAt, even when it does not carry a
// usable position: a quality-0 GGA still refreshes satellites/HDOP and the
// age. Coordinates and Valid=true are written only from a sentence whose own
// Valid flag is set, so stale-but-good coordinates survive signal loss.
func (s *Store) Merge(now time.Time, sent Sentence) {
	if s == nil || sent == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := sent.(type) {
	case *RMC:
		s.fix.SpeedKnots = v.SpeedKnots
		s.fix.Timestamp = v.Timestamp
		if v.Valid {
			s.fix.Lat = v.Lat
			s.fix.Lon = v.Lon
			s.fix.HasPosition = true
			s.fix.Valid = true
		}
	case *GGA:
		s.fix.Satellites = v.Satellites
		s.fix.HDOP = v.HDOP
		if v.Valid {
			s.fix.Lat = v.Lat
			s.fix.Lon = v.Lon
			s.fix.HasPosition = true
			s.fix.Valid = true
		}
	default:
		return
	}
	s.fix.UpdatedAt = now
}

// Snapshot returns a copy; callers never observe a partially-updated fix.
func (s *Store) Snapshot() Fix {
	if s == nil {
		return Fix{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix
}
