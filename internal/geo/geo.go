package geo

import (
	"math"

	"github.com/tidwall/geodesic"
)

const (
	D2R = math.Pi / 180.0
	R2D = 180.0 / math.Pi

	FtToM   = 0.3048
	MToFt   = 1 / FtToM
	KtToMps = 0.514444
)

// Inverse solves the geodesic between two points on WGS-84. It returns the
// initial course at point 1, the course from point 2 back to point 1, and the
// distance in meters. Courses are in [0, 360). Coincident points report
// zero for all three.
func Inverse(lat1, lon1, lat2, lon2 float64) (courseDeg, reverseDeg, distM float64) {
	if lat1 == lat2 && lon1 == lon2 {
		return 0, 0, 0
	}
	var azi1, azi2 float64
	geodesic.WGS84.Inverse(lat1, lon1, lat2, lon2, &distM, &azi1, &azi2)
	return Wrap360(azi1), Wrap360(azi2 + 180), distM
}

// Project moves distM meters from (lat, lon) along the initial course
// courseDeg on WGS-84.
func Project(lat, lon, courseDeg, distM float64) (lat2, lon2 float64) {
	if distM == 0 {
		return lat, lon
	}
	var azi2 float64
	geodesic.WGS84.Direct(lat, lon, courseDeg, distM, &lat2, &lon2, &azi2)
	return lat2, lon2
}

// Wrap360 maps an angle into [0, 360).
func Wrap360(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d -= 360
	}
	return d
}

// Wrap180 maps an angle into (-180, 180].
func Wrap180(deg float64) float64 {
	d := Wrap360(deg)
	if d > 180 {
		d -= 360
	}
	return d
}

// CartToPolar converts a local east/north offset into distance and bearing
// (degrees clockwise from north).
func CartToPolar(x, y float64) (dist, deg float64) {
	return math.Hypot(x, y), math.Atan2(x, y) * R2D
}

// PolarToCart is the inverse of CartToPolar.
func PolarToCart(deg, dist float64) (x, y float64) {
	s, c := math.Sincos(deg * D2R)
	return dist * s, dist * c
}
