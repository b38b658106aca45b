package planner

import (
	"context"
	"errors"

	"run-route/internal/geo"
	"run-route/internal/run-service/directions"
	"run-route/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RouteOption is one candidate loop offered to the runner.
type RouteOption struct {
	ID                string            `json:"id"`
	Strategy          Strategy          `json:"strategy"`
	Waypoints         []geo.Coordinate  `json:"waypoints"`
	Path              []geo.Coordinate  `json:"path"`
	Steps             []directions.Step `json:"steps,omitempty"`
	Status            string            `json:"status,omitempty"`
	EstimatedDistance float64           `json:"estimated_distance_m"`
	WaypointCount     int               `json:"waypoint_count"`
	Complexity        string            `json:"complexity"`
}

// Resolution returns the option's path as a Resolution.
func (o RouteOption) Resolution() Resolution {
	return Resolution{Path: o.Path, Steps: o.Steps, Status: o.Status}.Clone()
}

// Engine builds one RouteOption per strategy concurrently.
type Engine struct {
	generator *Generator
	resolver  *Resolver
	log       logger.Logger
}

func NewEngine(g *Generator, r *Resolver, log logger.Logger) *Engine {
	return &Engine{generator: g, resolver: r, log: log}
}

// GenerateOptions returns options in Strategies order once every strategy has
// finished. Degenerate rings are left out.
func (e *Engine) GenerateOptions(ctx context.Context, start geo.Coordinate, targetDistance float64) ([]RouteOption, error) {
	if targetDistance <= 0 {
		return nil, ErrInvalidDistance
	}

	slots := make([]*RouteOption, len(Strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, strategy := range Strategies {
		g.Go(func() error {
			opt, err := e.buildOption(gctx, start, targetDistance, strategy)
			if err != nil {
				return err
			}
			slots[i] = opt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	options := make([]RouteOption, 0, len(slots))
	for _, opt := range slots {
		if opt != nil {
			options = append(options, *opt)
		}
	}
	return options, nil
}

// buildOption returns nil without error when the ring is degenerate. The only
// error it returns is cancellation.
func (e *Engine) buildOption(ctx context.Context, start geo.Coordinate, targetDistance float64, strategy Strategy) (*RouteOption, error) {
	waypoints := e.generator.Generate(start, targetDistance, strategy, 0)
	if len(waypoints) < 3 {
		return nil, nil
	}

	res, err := e.resolver.Resolve(ctx, waypoints)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		e.log.WithFields(logger.LogFields{"strategy": string(strategy)}).Debug("option_fallback", err.Error())
		res = Resolution{Path: Interpolated(waypoints), Status: StatusSimplified}
	}

	return &RouteOption{
		ID:                uuid.NewString(),
		Strategy:          strategy,
		Waypoints:         waypoints,
		Path:              res.Path,
		Steps:             res.Steps,
		Status:            res.Status,
		EstimatedDistance: geo.PathLength(res.Path),
		WaypointCount:     len(waypoints) - 2,
		Complexity:        Complexity(len(waypoints) - 2),
	}, nil
}
