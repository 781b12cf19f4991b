// Package geofence decides whether a claimed position is close enough to a target.
package geofence

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinate lies on the globe.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) || math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// DistanceMeters returns the haversine great-circle distance between two coordinates.
func DistanceMeters(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	return geo.DistanceHaversine(a.point(), b.point())
}

// IsWithin reports whether claimed lies within radiusMeters of target, and always
// returns the measured distance so callers can tell players how far away they are.
func IsWithin(claimed, target Coordinate, radiusMeters float64) (bool, float64) {
	distance := DistanceMeters(claimed, target)
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return false, distance
	}
	return distance <= radiusMeters, distance
}

// Box is an axis-aligned lat/lon rectangle.
type Box struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
	// WrapsLongitude is set when the box crosses the antimeridian or covers a pole,
	// in which case longitude bounds must not be used as a filter.
	WrapsLongitude bool
}

// BoundAround returns a box that contains every point within radiusMeters of origin.
func BoundAround(origin Coordinate, radiusMeters float64) Box {
	bound := geo.NewBoundAroundPoint(origin.point(), radiusMeters)
	box := Box{
		MinLatitude:  math.Max(bound.Min.Lat(), -90),
		MaxLatitude:  math.Min(bound.Max.Lat(), 90),
		MinLongitude: bound.Min.Lon(),
		MaxLongitude: bound.Max.Lon(),
	}
	if box.MinLongitude > box.MaxLongitude || box.MinLongitude < -180 || box.MaxLongitude > 180 || bound.Min.Lat() <= -90 || bound.Max.Lat() >= 90 {
		box.WrapsLongitude = true
		box.MinLongitude = -180
		box.MaxLongitude = 180
	}
	return box
}
