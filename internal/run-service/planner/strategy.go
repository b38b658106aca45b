package planner

import (
	"fmt"
	"strings"
)

// Strategy shapes the waypoint ring: how many points and how far each may
// stray from the circle.
type Strategy string

const (
	Balanced Strategy = "Balanced"
	Scenic   Strategy = "Scenic"
	Direct   Strategy = "Direct"
	Varied   Strategy = "Varied"
)

// Strategies lists every strategy in presentation order.
var Strategies = []Strategy{Balanced, Scenic, Direct, Varied}

type strategyParams struct {
	multiplier      float64
	radiusVariation float64
	angleJitter     bool
}

var strategyTable = map[Strategy]strategyParams{
	Balanced: {multiplier: 1.0, radiusVariation: 0.20},
	Scenic:   {multiplier: 1.5, radiusVariation: 0.30},
	Direct:   {multiplier: 0.75, radiusVariation: 0.10},
	Varied:   {multiplier: 1.25, radiusVariation: 0.35, angleJitter: true},
}

// ParseStrategy accepts a strategy name in any case.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// WaypointMultiplier scales the base waypoint count.
func (s Strategy) WaypointMultiplier() float64 {
	return s.params().multiplier
}

// RadiusVariation is the largest fractional radius perturbation.
func (s Strategy) RadiusVariation() float64 {
	return s.params().radiusVariation
}

func (s Strategy) params() strategyParams {
	if p, ok := strategyTable[s]; ok {
		return p
	}
	return strategyTable[Balanced]
}

// Complexity labels a route by its waypoint count.
func Complexity(waypointCount int) string {
	switch {
	case waypointCount <= 4:
		return "Simple"
	case waypointCount <= 7:
		return "Moderate"
	default:
		return "Complex"
	}
}
