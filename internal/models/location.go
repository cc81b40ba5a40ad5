package models

import (
	"math"
	"time"
)

// LocationSample is one filtered courier position. OrderID is nil while the
// courier is idle.
type LocationSample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	OrderID    *int64    `json:"order_id,omitempty"`
}

const earthRadiusMeters = 6371000.0

// DistanceMeters is the haversine distance between two samples.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

func (s LocationSample) DistanceTo(o LocationSample) float64 {
	return DistanceMeters(s.Latitude, s.Longitude, o.Latitude, o.Longitude)
}

// Validate rejects coordinates outside WGS84 bounds and a missing capture time.
func (s LocationSample) Validate() bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return false
	}
	return !s.CapturedAt.IsZero()
}
