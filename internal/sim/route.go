package sim

import (
	"math"
	"time"
)

// Route generates a deterministic position along a small closed elliptical
// path around a fixed center. It stands in for a live receiver when no
// hardware is attached.
type Route struct {
	CenterLatDeg float64
	CenterLonDeg float64
	RadiusDeg    float64
	Period       time.Duration
	SpeedKnots   float64
}

// Defaults match the historical simulation: a slow loop over downtown
// Montreal with a ~1 minute period.
const (
	DefaultCenterLatDeg = 45.5017
	DefaultCenterLonDeg = -73.5673
	DefaultRadiusDeg    = 0.0005
	DefaultPeriod       = 63 * time.Second
	DefaultSpeedKnots   = 0.5
)

func (r Route) withDefaults() Route {
	if r.CenterLatDeg == 0 && r.CenterLonDeg == 0 {
		r.CenterLatDeg = DefaultCenterLatDeg
		r.CenterLonDeg = DefaultCenterLonDeg
	}
	if r.RadiusDeg <= 0 {
		r.RadiusDeg = DefaultRadiusDeg
	}
	if r.Period <= 0 {
		r.Period = DefaultPeriod
	}
	if r.SpeedKnots <= 0 {
		r.SpeedKnots = DefaultSpeedKnots
	}
	return r
}

// Position returns the simulated coordinates after the given elapsed time.
func (r Route) Position(elapsed time.Duration) (latDeg, lonDeg float64) {
	r = r.withDefaults()

	phase := 2 * math.Pi * float64(elapsed%r.Period) / float64(r.Period)
	latDeg = r.CenterLatDeg + r.RadiusDeg*math.Sin(phase)
	lonDeg = r.CenterLonDeg + r.RadiusDeg*math.Cos(phase)
	return latDeg, lonDeg
}

// Speed returns the constant reported ground speed in knots.
func (r Route) Speed() float64 {
	return r.withDefaults().SpeedKnots
}
