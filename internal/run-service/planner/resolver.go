package planner

import (
	"context"
	"errors"
	"fmt"

	"run-route/internal/geo"
	"run-route/internal/run-service/directions"
	"run-route/pkg/logger"
)

const (
	// FallbackSegmentPoints is the number of interpolated points that stand in
	// for a segment the provider could not route.
	FallbackSegmentPoints = 6

	// MaxUnroutedDistance is the ring length above which a route with no
	// routed segment at all is rejected.
	MaxUnroutedDistance = 15000.0
)

// Status strings attached to degraded resolutions.
const (
	StatusPartialFallback = "Some segments use a simplified route"
	StatusTooManyFailures = "Could not find paths here. Using simplified route."
	StatusTooLong         = "Route too long for this area. Try a shorter distance."
	StatusSimplified      = "Using simplified route"
)

var (
	ErrTooFewWaypoints = errors.New("at least two waypoints are required")
	ErrRouteAborted    = errors.New("route resolution aborted")
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidDistance = errors.New("target distance out of range")
)

// Directions routes a single segment.
type Directions interface {
	Route(ctx context.Context, source, target geo.Coordinate) (directions.Leg, error)
}

// Resolution is a road-following path for a waypoint ring.
type Resolution struct {
	Path   []geo.Coordinate  `json:"path"`
	Steps  []directions.Step `json:"steps,omitempty"`
	Status string            `json:"status,omitempty"`
}

// Clone returns a deep copy.
func (r Resolution) Clone() Resolution {
	out := Resolution{Path: geo.Clone(r.Path), Status: r.Status}
	if r.Steps != nil {
		out.Steps = append([]directions.Step(nil), r.Steps...)
	}
	return out
}

// Resolver turns a waypoint ring into a road-following path one segment at a
// time, substituting straight lines for segments the provider cannot route.
type Resolver struct {
	directions Directions
	log        logger.Logger
}

func NewResolver(d Directions, log logger.Logger) *Resolver {
	return &Resolver{directions: d, log: log}
}

// Resolve routes every consecutive waypoint pair in order. More than a third
// of segments failing aborts the whole resolution. On abort the
// returned Resolution carries the status and an empty path, and the error
// wraps ErrRouteAborted. Cancellation returns the context's error.
func (r *Resolver) Resolve(ctx context.Context, waypoints []geo.Coordinate) (Resolution, error) {
	if len(waypoints) < 2 {
		return Resolution{}, ErrTooFewWaypoints
	}

	segments := len(waypoints) - 1
	var res Resolution
	failures, successes := 0, 0

	for i := 0; i < segments; i++ {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}

		from, to := waypoints[i], waypoints[i+1]
		leg, err := r.directions.Route(ctx, from, to)
		if err != nil && ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}

		if err != nil || len(leg.Path) == 0 {
			failures++
			r.log.WithFields(logger.LogFields{
				"segment":  i,
				"failures": failures,
			}).Debug("segment_fallback", fmt.Sprintf("segment %d uses interpolation: %v", i, err))

			if failures*3 > segments {
				return r.abort(waypoints, successes, failures, segments)
			}
			res.Path = appendSegment(res.Path, geo.Interpolate(from, to, FallbackSegmentPoints))
			res.Status = StatusPartialFallback
			continue
		}

		successes++
		res.Path = appendSegment(res.Path, leg.Path)
		res.Steps = append(res.Steps, leg.Steps...)
	}

	return res, nil
}

// abort explains why resolution gave up. A long ring that never produced a
// routed segment gets the shorter-distance advice.
func (r *Resolver) abort(waypoints []geo.Coordinate, successes, failures, segments int) (Resolution, error) {
	status := StatusTooManyFailures
	if successes == 0 && geo.PathLength(waypoints) > MaxUnroutedDistance {
		status = StatusTooLong
	}
	r.log.WithFields(logger.LogFields{
		"failures": failures,
		"segments": segments,
	}).Info("route_aborted", status)
	return Resolution{Status: status}, fmt.Errorf("%w: %d of %d segments failed", ErrRouteAborted, failures, segments)
}

// appendSegment joins seg onto path, dropping seg's first point when it
// repeats path's last one.
func appendSegment(path, seg []geo.Coordinate) []geo.Coordinate {
	if len(path) > 0 && len(seg) > 0 && path[len(path)-1] == seg[0] {
		seg = seg[1:]
	}
	return append(path, seg...)
}

// Interpolated builds a straight-line path through waypoints, used when the
// provider is unusable for the whole ring.
func Interpolated(waypoints []geo.Coordinate) []geo.Coordinate {
	var path []geo.Coordinate
	for i := 0; i+1 < len(waypoints); i++ {
		path = appendSegment(path, geo.Interpolate(waypoints[i], waypoints[i+1], FallbackSegmentPoints))
	}
	return path
}
