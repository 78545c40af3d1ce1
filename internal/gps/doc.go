package gps

// Package gps ingests NMEA sentences from a serial GNSS receiver and keeps a
// single current fix.
//
// It is intentionally small and geared toward the gpsmap appliance:
// - Parse RMC for lat/lon/speed over ground/time-of-day
// - Parse GGA for fix quality, satellite count and HDOP
// - Merge both into a lock-guarded last-known-good fix for the web layer
