// Package geo holds the small geodesy helpers shared by the in-memory
// nearby scan and the hazard index.
package geo

import "math"

const earthRadiusM = 6371000.0

// Haversine distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// DegreeSpan converts a radius in meters at the given latitude into
// approximate latitude/longitude degree spans. Good enough for
// bounding-box prefilters; exact distances go through Haversine.
func DegreeSpan(lat, radiusM float64) (dLat, dLng float64) {
	dLat = radiusM / 111320.0
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLng = radiusM / (111320.0 * cos)
	return dLat, dLng
}
