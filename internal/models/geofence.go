package models

import "math"

// Geofence is a circular bound on where scans may be submitted from.
type Geofence struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	RadiusM float64 `json:"radius_m"`
}

const earthRadiusM = 6371000.0

// Contains reports whether the coordinate falls inside the fence. Distance is
// great-circle (haversine); a point exactly on the radius counts as inside.
func (g Geofence) Contains(lat, lng float64) bool {
	return g.DistanceM(lat, lng) <= g.RadiusM
}

// DistanceM returns the distance in meters from the fence center.
func (g Geofence) DistanceM(lat, lng float64) float64 {
	lat1 := g.Lat * math.Pi / 180
	lat2 := lat * math.Pi / 180
	dLat := (lat - g.Lat) * math.Pi / 180
	dLng := (lng - g.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
