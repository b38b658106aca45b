package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// MetersPerDegree is the length of one degree of latitude at the equator.
const MetersPerDegree = 111320.0

// Coordinate is a latitude/longitude pair in degrees.
// Two coordinates compare equal with == only when both floats are identical;
// use Near for "has the runner moved" checks.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// point converts to orb's lon/lat ordering
func (c Coordinate) point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// Near reports whether c is within meters of other.
func (c Coordinate) Near(other Coordinate, meters float64) bool {
	return Distance(c, other) <= meters
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(a.point(), b.point())
}

// Bearing returns the initial bearing from a to b in degrees, in [0, 360).
func Bearing(a, b Coordinate) float64 {
	bearing := math.Mod(orbgeo.Bearing(a.point(), b.point())+360, 360)
	if bearing >= 360 {
		bearing = 0
	}
	return bearing
}

// NormalizeAngle maps any angle in degrees to (-180, 180].
func NormalizeAngle(angle float64) float64 {
	normalized := math.Mod(angle, 360)
	if normalized > 180 {
		normalized -= 360
	} else if normalized <= -180 {
		normalized += 360
	}
	return normalized
}

// TurnAngle returns the signed turn from bearingIn to bearingOut.
// Positive values turn right, negative values turn left.
func TurnAngle(bearingIn, bearingOut float64) float64 {
	return NormalizeAngle(bearingOut - bearingIn)
}

// Offset moves center by the given latitude and longitude deltas in degrees.
// The longitude delta is stretched by 1/cos(lat) so that equal degree offsets
// cover roughly equal ground distance away from the equator.
func Offset(center Coordinate, dLat, dLng float64) Coordinate {
	return Coordinate{
		Lat: center.Lat + dLat,
		Lng: center.Lng + dLng/math.Cos(center.Lat*math.Pi/180),
	}
}

// Interpolate returns n evenly spaced points from a to b, both ends included.
func Interpolate(a, b Coordinate, n int) []Coordinate {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []Coordinate{a}
	}

	points := make([]Coordinate, n)
	points[n-1] = b
	for i := 0; i < n-1; i++ {
		t := float64(i) / float64(n-1)
		points[i] = Coordinate{
			Lat: a.Lat + (b.Lat-a.Lat)*t,
			Lng: a.Lng + (b.Lng-a.Lng)*t,
		}
	}
	return points
}

// PathLength sums the segment distances of path in meters.
func PathLength(path []Coordinate) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// Reverse reverses path in place.
func Reverse(path []Coordinate) {
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
}

// Clone returns a copy of path that shares no memory with it.
func Clone(path []Coordinate) []Coordinate {
	if path == nil {
		return nil
	}
	out := make([]Coordinate, len(path))
	copy(out, path)
	return out
}

// LineString converts path to orb's lon/lat line.
func LineString(path []Coordinate) orb.LineString {
	line := make(orb.LineString, len(path))
	for i, c := range path {
		line[i] = c.point()
	}
	return line
}

// FromLineString converts an orb line back to coordinates.
func FromLineString(line orb.LineString) []Coordinate {
	path := make([]Coordinate, len(line))
	for i, p := range line {
		path[i] = Coordinate{Lat: p.Lat(), Lng: p.Lon()}
	}
	return path
}
