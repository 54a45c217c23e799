package geo

import (
	"time"

	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6371000.0

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * earthRadiusMeters
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineM(lat1, lng1, lat2, lng2) / 1000
}

// SpeedKmh converts a distance in meters over an elapsed duration to km/h.
// Returns 0 when elapsed is zero or negative.
func SpeedKmh(distanceM float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return distanceM / 1000 / elapsed.Hours()
}
