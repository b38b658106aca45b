package planner

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"run-route/internal/geo"
)

const (
	MinWaypoints = 4
	MaxWaypoints = 12

	// MetersPerWaypoint is the ring length that earns one extra waypoint
	// beyond MinWaypoints.
	MetersPerWaypoint = 2000.0

	// variedJitterFraction bounds the Varied angle offset as a fraction of
	// half the angular spacing.
	variedJitterFraction = 0.5
)

// Accepted loop lengths in meters.
const (
	MinTargetDistance     = 1000.0
	MaxTargetDistance     = 50000.0
	DefaultTargetDistance = 5000.0
)

// ValidateTargetDistance rejects loop lengths outside
// [MinTargetDistance, MaxTargetDistance].
func ValidateTargetDistance(meters float64) error {
	if meters < MinTargetDistance || meters > MaxTargetDistance {
		return fmt.Errorf("%w: %.0f m is outside %.0f-%.0f m", ErrInvalidDistance, meters, MinTargetDistance, MaxTargetDistance)
	}
	return nil
}

// Generator places waypoints on a perturbed circle around a start point.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator uses rnd for all perturbations; pass a seeded source for
// repeatable rings.
func NewGenerator(rnd *rand.Rand) *Generator {
	return &Generator{rnd: rnd}
}

// WaypointCount returns how many non-anchor waypoints a ring gets.
func WaypointCount(targetDistance float64, strategy Strategy, override int) int {
	var n int
	if override > 0 {
		n = override
	} else {
		base := math.Max(MinWaypoints, targetDistance/MetersPerWaypoint)
		n = int(math.Round(base * strategy.WaypointMultiplier()))
	}
	return max(1, min(n, MaxWaypoints))
}

// RadiusDegrees is the nominal circle radius for targetDistance, in degrees.
func RadiusDegrees(targetDistance float64) float64 {
	return targetDistance / (2 * math.Pi) / geo.MetersPerDegree
}

// Generate returns a closed ring [center, w1..wn, center]. A non-positive
// distance yields [center, center].
func (g *Generator) Generate(center geo.Coordinate, targetDistance float64, strategy Strategy, override int) []geo.Coordinate {
	if targetDistance <= 0 {
		return []geo.Coordinate{center, center}
	}

	n := WaypointCount(targetDistance, strategy, override)
	radius := RadiusDegrees(targetDistance)
	spacing := 2 * math.Pi / float64(n)
	p := strategy.params()

	g.mu.Lock()
	defer g.mu.Unlock()

	ring := make([]geo.Coordinate, 0, n+2)
	ring = append(ring, center)
	for i := 0; i < n; i++ {
		angle := spacing * float64(i)
		if p.angleJitter {
			angle += g.uniform() * spacing / 2 * variedJitterFraction
		}
		r := radius * (1 + g.uniform()*p.radiusVariation)
		ring = append(ring, geo.Offset(center, r*math.Cos(angle), r*math.Sin(angle)))
	}
	return append(ring, center)
}

// uniform returns a value in [-1, 1).
func (g *Generator) uniform() float64 {
	return g.rnd.Float64()*2 - 1
}
