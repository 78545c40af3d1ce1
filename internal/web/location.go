package web

import (
	"net/http"
	"time"

	"gpsmap/internal/gps"
)

// staleAfter is the fix age beyond which /location reports valid=false even
// when the stored flag is still true.
const staleAfter = 10 * time.Second

const knotsToKmh = 1.852

// FixSource is the read side of the shared fix store.
type FixSource interface {
	Fix() gps.Fix
	Source() string
	LastError() string
}

// LocationPayload is the wire shape of /location and the websocket push.
type LocationPayload struct {
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	SpeedKnots float64  `json:"speed_knots"`
	SpeedKmh   float64  `json:"speed_kmh"`
	Timestamp  string   `json:"timestamp"`
	Valid      bool     `json:"valid"`
	UpdatedAt  float64  `json:"updated_at"`
}

// BuildLocation converts a fix snapshot into the wire payload, judging
// staleness against now.
func BuildLocation(fix gps.Fix, now time.Time) LocationPayload {
	out := LocationPayload{
		SpeedKnots: fix.SpeedKnots,
		SpeedKmh:   fix.SpeedKnots * knotsToKmh,
		Timestamp:  fix.Timestamp,
	}
	if fix.HasPosition {
		lat, lon := fix.Lat, fix.Lon
		out.Lat = &lat
		out.Lon = &lon
	}
	if !fix.UpdatedAt.IsZero() {
		out.UpdatedAt = float64(fix.UpdatedAt.UnixNano()) / float64(time.Second)
	}
	stale := fix.Age(now) > staleAfter
	out.Valid = fix.Valid && !stale && fix.HasPosition
	return out
}

func locationHandler(fixes FixSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if fixes == nil {
			writeError(w, http.StatusServiceUnavailable, "gps reader not available")
			return
		}
		writeJSON(w, http.StatusOK, BuildLocation(fixes.Fix(), time.Now()))
	}
}
