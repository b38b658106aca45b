// Package analyzer computes turn, elevation, surface and difficulty
// statistics for a resolved route.
package analyzer

import (
	"math"
	"strings"
	"time"

	"run-route/internal/geo"
	"run-route/internal/run-service/directions"

	"gonum.org/v1/gonum/floats"
)

const (
	TurnSampleStride  = 20
	MinTurnAngle      = 30.0
	SharpTurnAngle    = 90.0
	ElevationStride   = 50
	BasePacePerKm     = 6 * time.Minute
	ClimbTimePerMeter = 500 * time.Millisecond
	TimePerTurn       = 2 * time.Second

	defaultRoadPercent    = 70.0
	defaultUnknownPercent = 30.0
)

type Difficulty string

const (
	Easy        Difficulty = "Easy"
	Moderate    Difficulty = "Moderate"
	Challenging Difficulty = "Challenging"
	Hard        Difficulty = "Hard"
)

// ElevationProvider returns the ground elevation in meters at a coordinate.
type ElevationProvider interface {
	Elevation(c geo.Coordinate) float64
}

// SimulatedElevation is a smooth synthetic terrain, not real topography.
type SimulatedElevation struct{}

func (SimulatedElevation) Elevation(c geo.Coordinate) float64 {
	return 100 + 20*math.Sin(c.Lat*1000) + 15*math.Cos(c.Lng*1000)
}

type ElevationPoint struct {
	DistanceKm float64 `json:"distance_km"`
	ElevationM float64 `json:"elevation_m"`
}

type Turns struct {
	Total int `json:"total"`
	Right int `json:"right"`
	Left  int `json:"left"`
	Sharp int `json:"sharp"`
}

type Surface struct {
	RoadPercent    float64 `json:"road_percent"`
	TrailPercent   float64 `json:"trail_percent"`
	UnknownPercent float64 `json:"unknown_percent"`
}

type RouteDetails struct {
	Turns            Turns            `json:"turns"`
	ElevationProfile []ElevationPoint `json:"elevation_profile"`
	ElevationGain    float64          `json:"elevation_gain_m"`
	ElevationLoss    float64          `json:"elevation_loss_m"`
	MaxElevation     float64          `json:"max_elevation_m"`
	MinElevation     float64          `json:"min_elevation_m"`
	AverageGrade     float64          `json:"average_grade_percent"`
	MaxGrade         float64          `json:"max_grade_percent"`
	Surface          Surface          `json:"surface"`
	DifficultyScore  int              `json:"difficulty_score"`
	Difficulty       Difficulty       `json:"difficulty"`
	EstimatedTime    time.Duration    `json:"estimated_time_ns"`
}

// Analyzer is stateless apart from its elevation source.
type Analyzer struct {
	elevation ElevationProvider
}

// New returns an Analyzer; a nil provider falls back to SimulatedElevation.
func New(elevation ElevationProvider) *Analyzer {
	if elevation == nil {
		elevation = SimulatedElevation{}
	}
	return &Analyzer{elevation: elevation}
}

// Analyze computes fresh details for path. targetDistance (meters) is only
// used to estimate time when path is empty.
func (a *Analyzer) Analyze(path []geo.Coordinate, steps []directions.Step, targetDistance float64) RouteDetails {
	var d RouteDetails
	d.Turns = CountTurns(path)
	a.elevationStats(path, &d)
	d.Surface = SurfaceBreakdown(steps)
	d.DifficultyScore = difficultyScore(d.ElevationGain, d.MaxGrade, d.Turns.Total)
	d.Difficulty = difficultyFor(d.DifficultyScore)

	distance := geo.PathLength(path)
	if len(path) == 0 {
		distance = targetDistance
	}
	d.EstimatedTime = EstimateTime(distance, d.ElevationGain, d.Turns.Total)
	return d
}

// CountTurns samples path every TurnSampleStride points and classifies the
// change of heading at each sample.
func CountTurns(path []geo.Coordinate) Turns {
	var t Turns
	for i := TurnSampleStride; i+TurnSampleStride < len(path); i += TurnSampleStride {
		in := geo.Bearing(path[i-TurnSampleStride], path[i])
		out := geo.Bearing(path[i], path[i+TurnSampleStride])
		angle := geo.TurnAngle(in, out)
		if math.Abs(angle) < MinTurnAngle {
			continue
		}
		t.Total++
		if angle > 0 {
			t.Right++
		} else {
			t.Left++
		}
		if math.Abs(angle) > SharpTurnAngle {
			t.Sharp++
		}
	}
	return t
}

func (a *Analyzer) elevationStats(path []geo.Coordinate, d *RouteDetails) {
	if len(path) == 0 {
		return
	}

	idx := sampleIndexes(len(path))
	cumulative := 0.0
	elevations := make([]float64, 0, len(idx))
	prevIdx := idx[0]
	sampled := 0.0

	for n, i := range idx {
		if n > 0 {
			cumulative += geo.PathLength(path[prevIdx : i+1])
		}
		e := a.elevation.Elevation(path[i])
		elevations = append(elevations, e)
		d.ElevationProfile = append(d.ElevationProfile, ElevationPoint{DistanceKm: cumulative / 1000, ElevationM: e})

		if n > 0 {
			delta := e - elevations[n-1]
			if delta > 0 {
				d.ElevationGain += delta
			} else {
				d.ElevationLoss -= delta
			}
			seg := cumulative - sampled
			if seg > 0 {
				d.MaxGrade = math.Max(d.MaxGrade, math.Abs(delta)/seg*100)
			}
			sampled = cumulative
		}
		prevIdx = i
	}

	d.MaxElevation = floats.Max(elevations)
	d.MinElevation = floats.Min(elevations)
	if cumulative > 0 {
		d.AverageGrade = (d.ElevationGain + d.ElevationLoss) / cumulative * 100
	}
}

// sampleIndexes returns every ElevationStride-th index plus the last one.
func sampleIndexes(n int) []int {
	idx := make([]int, 0, n/ElevationStride+2)
	for i := 0; i < n; i += ElevationStride {
		idx = append(idx, i)
	}
	if idx[len(idx)-1] != n-1 {
		idx = append(idx, n-1)
	}
	return idx
}

// SurfaceBreakdown classifies steps by keyword, weighted by step distance.
func SurfaceBreakdown(steps []directions.Step) Surface {
	var road, trail, unknown float64
	for _, s := range steps {
		text := strings.ToLower(s.Instruction)
		switch {
		case strings.Contains(text, "trail"), strings.Contains(text, "path"):
			trail += s.Distance
		case strings.Contains(text, "road"), strings.Contains(text, "street"), strings.Contains(text, "avenue"):
			road += s.Distance
		default:
			unknown += s.Distance
		}
	}

	total := floats.Sum([]float64{road, trail, unknown})
	if total <= 0 {
		return Surface{RoadPercent: defaultRoadPercent, UnknownPercent: defaultUnknownPercent}
	}
	return Surface{
		RoadPercent:    road / total * 100,
		TrailPercent:   trail / total * 100,
		UnknownPercent: unknown / total * 100,
	}
}

func difficultyScore(gain, maxGrade float64, turns int) int {
	score := 0
	switch {
	case gain > 200:
		score += 3
	case gain > 100:
		score += 2
	case gain > 50:
		score++
	}
	switch {
	case maxGrade > 15:
		score += 3
	case maxGrade > 10:
		score += 2
	case maxGrade > 5:
		score++
	}
	switch {
	case turns > 20:
		score += 2
	case turns > 10:
		score++
	}
	return score
}

func difficultyFor(score int) Difficulty {
	switch {
	case score <= 2:
		return Easy
	case score <= 4:
		return Moderate
	case score <= 6:
		return Challenging
	default:
		return Hard
	}
}

// EstimateTime applies the base pace plus climb and turn penalties.
func EstimateTime(distanceMeters, gain float64, turns int) time.Duration {
	base := time.Duration(distanceMeters / 1000 * float64(BasePacePerKm))
	climb := time.Duration(gain * float64(ClimbTimePerMeter))
	return base + climb + time.Duration(turns)*TimePerTurn
}
