package service

import (
	"context"
	"errors"
	"fmt"

	"run-route/internal/geo"
	"run-route/internal/run-service/analyzer"
	"run-route/internal/run-service/domain"
	"run-route/internal/run-service/export"
	"run-route/internal/run-service/planner"
	"run-route/pkg/logger"
)

// PlanRoute builds a Balanced loop of targetDistance meters around start
// and keeps refreshing it until the runner edits, selects or starts it.
func (s *RunService) PlanRoute(ctx context.Context, runnerID string, start geo.Coordinate, targetDistance float64) (planner.Snapshot, error) {
	if err := planner.ValidateTargetDistance(targetDistance); err != nil {
		return planner.Snapshot{}, err
	}
	rs, err := s.session(runnerID)
	if err != nil {
		return planner.Snapshot{}, err
	}
	if err := rs.ensureIdle(); err != nil {
		return planner.Snapshot{}, err
	}

	snap, err := rs.planner.Plan(ctx, start, targetDistance)
	if err = routeErr(err); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return snap, err
		}
		s.logger.WithFields(logger.LogFields{"runner_id": runnerID}).Error("plan_route_failed", err)
		return snap, fmt.Errorf("plan route: %w", err)
	}
	return snap, nil
}

// GenerateOptions builds one candidate per strategy and selects Balanced.
func (s *RunService) GenerateOptions(ctx context.Context, runnerID string, start geo.Coordinate, targetDistance float64) (planner.Snapshot, error) {
	if err := planner.ValidateTargetDistance(targetDistance); err != nil {
		return planner.Snapshot{}, err
	}
	rs, err := s.session(runnerID)
	if err != nil {
		return planner.Snapshot{}, err
	}
	if err := rs.ensureIdle(); err != nil {
		return planner.Snapshot{}, err
	}

	snap, err := rs.planner.GenerateOptions(ctx, start, targetDistance)
	if err = routeErr(err); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return snap, err
		}
		s.logger.WithFields(logger.LogFields{"runner_id": runnerID}).Error("generate_options_failed", err)
		return snap, fmt.Errorf("generate options: %w", err)
	}
	s.logger.WithFields(logger.LogFields{
		"runner_id": runnerID,
		"options":   len(snap.Options),
	}).Info("options_generated", "Route options generated")
	return snap, nil
}

// SelectOption activates a generated option.
func (s *RunService) SelectOption(ctx context.Context, runnerID, optionID string) (planner.Snapshot, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return planner.Snapshot{}, planner.ErrNoActiveRoute
	}
	if err := rs.ensureIdle(); err != nil {
		return planner.Snapshot{}, err
	}

	snap, err := rs.planner.SelectOption(optionID)
	if err != nil {
		return snap, routeErr(err)
	}

	var distance float64
	for _, opt := range snap.Options {
		if opt.ID == optionID {
			distance = opt.EstimatedDistance
			break
		}
	}
	s.publish(ctx, runnerID, domain.RouteSelectedEvent{
		RunnerID:   runnerID,
		OptionID:   optionID,
		Strategy:   string(snap.Strategy),
		DistanceM:  distance,
		SelectedAt: s.clock.Now(),
	})
	return snap, nil
}

// ToggleDirection reverses the active route.
func (s *RunService) ToggleDirection(runnerID string) (planner.Snapshot, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return planner.Snapshot{}, planner.ErrNoActiveRoute
	}
	if err := rs.ensureIdle(); err != nil {
		return planner.Snapshot{}, err
	}
	snap, err := rs.planner.ToggleDirection()
	return snap, routeErr(err)
}

// UpdateWaypoints re-resolves a manually edited ring.
func (s *RunService) UpdateWaypoints(ctx context.Context, runnerID string, waypoints []geo.Coordinate) (planner.Snapshot, error) {
	rs, err := s.session(runnerID)
	if err != nil {
		return planner.Snapshot{}, err
	}
	if err := rs.ensureIdle(); err != nil {
		return planner.Snapshot{}, err
	}

	snap, err := rs.planner.UpdateWaypoints(ctx, waypoints)
	if err = routeErr(err); err != nil {
		return snap, fmt.Errorf("update waypoints: %w", err)
	}
	return snap, nil
}

// ResizeRoute regenerates the active loop with count waypoints.
func (s *RunService) ResizeRoute(ctx context.Context, runnerID string, count int) (planner.Snapshot, error) {
	if count < 1 || count > planner.MaxWaypoints {
		return planner.Snapshot{}, fmt.Errorf("%w: %d is outside 1-%d", ErrInvalidWaypointCount, count, planner.MaxWaypoints)
	}
	rs, ok := s.existing(runnerID)
	if !ok {
		return planner.Snapshot{}, planner.ErrNoActiveRoute
	}
	if err := rs.ensureIdle(); err != nil {
		return planner.Snapshot{}, err
	}

	snap, err := rs.planner.Regenerate(ctx, count)
	if err = routeErr(err); err != nil {
		return snap, fmt.Errorf("resize route: %w", err)
	}
	return snap, nil
}

// CurrentRoute returns the runner's planning state.
func (s *RunService) CurrentRoute(runnerID string) (planner.Snapshot, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return planner.Snapshot{}, planner.ErrNoActiveRoute
	}
	return rs.planner.Snapshot(), nil
}

// RouteDetails analyses the active route.
func (s *RunService) RouteDetails(runnerID string) (analyzer.RouteDetails, error) {
	snap, err := s.activeRoute(runnerID)
	if err != nil {
		return analyzer.RouteDetails{}, err
	}
	return s.analyzer.Analyze(snap.Route.Path, snap.Route.Steps, snap.TargetDistance), nil
}

// RouteGPX exports the active route.
func (s *RunService) RouteGPX(runnerID string) ([]byte, error) {
	snap, err := s.activeRoute(runnerID)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%.1f km %s loop", snap.TargetDistance/1000, snap.Strategy)
	return export.GPX(name, snap.Waypoints, snap.Route.Path, s.elevation)
}

func (s *RunService) activeRoute(runnerID string) (planner.Snapshot, error) {
	snap, err := s.CurrentRoute(runnerID)
	if err != nil {
		return snap, err
	}
	if len(snap.Route.Path) == 0 {
		return snap, planner.ErrNoActiveRoute
	}
	return snap, nil
}

// ensureIdle keeps the route fixed while the runner follows it.
func (rs *runSession) ensureIdle() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.running {
		return ErrRunInProgress
	}
	return nil
}

// routeErr reports a route pinned by a starting run the same way as an edit
// attempted during the run.
func routeErr(err error) error {
	if errors.Is(err, planner.ErrRouteLocked) {
		return ErrRunInProgress
	}
	return err
}
