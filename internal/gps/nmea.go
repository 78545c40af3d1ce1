package gps

import (
	"strconv"
	"strings"
)

// Sentence is one accepted NMEA record. The concrete type is *RMC or *GGA.
//
// Parsers return nil (not an error) for unknown or malformed lines: noisy
// receiver streams are expected and skipping is the normal path.
type Sentence interface {
	sentence()
}

// RMC carries position, speed over ground and receiver time-of-day.
type RMC struct {
	Lat   float64
	Lon   float64
	LatOK bool
	LonOK bool

	SpeedKnots float64

	// Timestamp is the receiver-reported hhmmss.sss field, passed through opaquely.
	Timestamp string

	// Valid is true only when status is "A" and both coordinates decoded.
	Valid bool
}

func (*RMC) sentence() {}

// GGA carries fix quality, satellite count and HDOP.
type GGA struct {
	Lat   float64
	Lon   float64
	LatOK bool
	LonOK bool

	Quality    int
	Satellites int
	HDOP       float64

	// Valid is true only when quality > 0 and both coordinates decoded.
	Valid bool
}

func (*GGA) sentence() {}

// ParseSentence dispatches one line to the sentence parsers. Unknown or
// malformed lines yield nil.
func ParseSentence(line string) Sentence {
	line = strings.TrimSpace(line)
	if r := ParseRMC(line); r != nil {
		return r
	}
	if g := ParseGGA(line); g != nil {
		return g
	}
	return nil
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields:
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
func ParseRMC(line string) *RMC {
	f, ok := splitSentence(line, 12, "$GPRMC", "$GNRMC", "$GCRMC")
	if !ok {
		return nil
	}

	out := &RMC{Timestamp: f[1]}
	out.Lat, out.LatOK = nmeaToDecimal(f[3], f[4])
	out.Lon, out.LonOK = nmeaToDecimal(f[5], f[6])
	if gs, ok := parseFloat(f[7]); ok && gs >= 0 {
		out.SpeedKnots = gs
	}

	status := strings.ToUpper(strings.TrimSpace(f[2]))
	out.Valid = status == "A" && out.LatOK && out.LonOK
	return out
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
func ParseGGA(line string) *GGA {
	f, ok := splitSentence(line, 15, "$GPGGA", "$GNGGA")
	if !ok {
		return nil
	}

	out := &GGA{}
	out.Lat, out.LatOK = nmeaToDecimal(f[2], f[3])
	out.Lon, out.LonOK = nmeaToDecimal(f[4], f[5])
	if q, err := strconv.Atoi(strings.TrimSpace(f[6])); err == nil && q >= 0 {
		out.Quality = q
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil && sats >= 0 {
		out.Satellites = sats
	}
	if hdop, ok := parseFloat(f[8]); ok && hdop >= 0 {
		out.HDOP = hdop
	}

	out.Valid = out.Quality > 0 && out.LatOK && out.LonOK
	return out
}

// splitSentence gates on the talker prefix, strips any checksum suffix and
// enforces the per-sentence minimum field count.
func splitSentence(line string, minFields int, prefixes ...string) ([]string, bool) {
	line = strings.TrimSpace(line)
	matched := false
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, false
	}
	if star := strings.IndexByte(line, '*'); star != -1 {
		line = line[:star]
	}
	f := strings.Split(line, ",")
	if len(f) < minFields {
		return nil, false
	}
	return f, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// nmeaToDecimal converts NMEA ddmm.mmmm / dddmm.mmmm plus hemisphere into
// signed decimal degrees. Minutes always occupy the last two digits before
// the decimal point.
//
// Anything undecodable yields (0, false) rather than failing the sentence.
func nmeaToDecimal(coord string, hemi string) (float64, bool) {
	coord = strings.TrimSpace(coord)
	hemi = strings.ToUpper(strings.TrimSpace(hemi))
	if coord == "" || hemi == "" {
		return 0, false
	}

	dot := strings.IndexByte(coord, '.')
	if dot == -1 {
		return 0, false
	}
	if dot < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(coord[:dot-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(coord[dot-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
