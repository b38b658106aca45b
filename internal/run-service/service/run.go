package service

import (
	"context"
	"errors"
	"fmt"

	"run-route/internal/run-service/companion"
	"run-route/internal/run-service/domain"
	"run-route/internal/run-service/export"
	"run-route/internal/run-service/interval"
	"run-route/internal/run-service/navigation"
	"run-route/internal/run-service/pace"
	"run-route/internal/run-service/planner"
	"run-route/internal/run-service/tracking"
	"run-route/pkg/logger"
)

// Goal is an optional pace target: cover DistanceKm in Minutes. The zero
// Goal disables coaching.
type Goal struct {
	DistanceKm float64 `json:"distance_km"`
	Minutes    float64 `json:"minutes"`
}

func (g Goal) isSet() bool {
	return g.DistanceKm != 0 || g.Minutes != 0
}

// RunStatus is the live view of a run. Accepted is false when the fix that
// produced it was discarded as invalid.
type RunStatus struct {
	Running        bool                `json:"running"`
	Accepted       bool                `json:"accepted"`
	Navigation     navigation.Progress `json:"navigation"`
	PaceStatus     pace.Status         `json:"pace_status"`
	TargetPace     float64             `json:"target_pace"`
	CurrentPace    float64             `json:"current_pace"`
	DistanceM      float64             `json:"distance_m"`
	ElapsedSeconds float64             `json:"elapsed_s"`
	Splits         []domain.Split      `json:"splits,omitempty"`
	Workout        *interval.State     `json:"workout,omitempty"`
}

// StartRun begins guidance along the active route and, when goal is set,
// pace coaching. Route refreshes stop for the duration of the run.
func (s *RunService) StartRun(ctx context.Context, runnerID string, goal Goal) (RunStatus, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return RunStatus{}, planner.ErrNoActiveRoute
	}

	rs.mu.Lock()
	if rs.running {
		rs.mu.Unlock()
		return RunStatus{}, ErrRunInProgress
	}
	// Pinning the route first means no planning call still in flight can
	// replace it under the navigator.
	snap := rs.planner.Freeze()
	fail := func(err error) (RunStatus, error) {
		rs.planner.Thaw()
		rs.mu.Unlock()
		return RunStatus{}, err
	}
	if len(snap.Waypoints) < 2 {
		return fail(planner.ErrNoActiveRoute)
	}
	if goal.isSet() {
		if err := rs.coach.SetGoal(goal.DistanceKm, goal.Minutes); err != nil {
			return fail(err)
		}
	} else {
		rs.coach.Reset()
	}
	if err := rs.navigator.Start(snap.Waypoints); err != nil {
		return fail(fmt.Errorf("start navigation: %w", err))
	}
	rs.tracker.Start()
	rs.announcer.Start(snap.TargetDistance)
	rs.running = true
	rs.goal = goal
	rs.lastPushed = nil
	rs.paceStatus = pace.OnPace
	status := rs.statusLocked()
	status.Accepted = true
	rs.mu.Unlock()

	s.logger.WithFields(logger.LogFields{
		"runner_id":   runnerID,
		"waypoints":   len(snap.Waypoints),
		"target_pace": status.TargetPace,
	}).Info("run_started", "Run started")

	s.publish(ctx, runnerID, domain.NavigationStartedEvent{
		RunnerID:      runnerID,
		WaypointCount: len(snap.Waypoints),
		TargetPace:    status.TargetPace,
		StartedAt:     rs.tracker.StartedAt(),
	})
	s.pushState(ctx, runnerID, status, goal)
	return status, nil
}

// RecordLocation feeds a GPS fix to the run: tracking, turn guidance and
// pace coaching. Invalid fixes are reported as not accepted.
func (s *RunService) RecordLocation(ctx context.Context, runnerID string, fix tracking.Fix) (RunStatus, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return RunStatus{}, ErrNoActiveRun
	}

	rs.mu.Lock()
	if !rs.running {
		rs.mu.Unlock()
		return RunStatus{}, ErrNoActiveRun
	}
	if fix.Time.IsZero() {
		fix.Time = s.clock.Now()
	}
	if !rs.tracker.Record(fix) {
		status := rs.statusLocked()
		rs.mu.Unlock()
		return status, nil
	}

	progress := rs.navigator.Update(fix.Coordinate)
	paceStatus := rs.coach.UpdatePace(rs.tracker.CurrentPace(), rs.tracker.Elapsed())
	paceChanged := paceStatus != rs.paceStatus
	rs.paceStatus = paceStatus
	rs.announcer.Update(rs.tracker.Distance(), rs.tracker.Elapsed(), rs.tracker.CurrentPace())

	push := rs.lastPushed == nil || tracking.Moved(*rs.lastPushed, fix.Coordinate)
	if push {
		c := fix.Coordinate
		rs.lastPushed = &c
	}
	goal := rs.goal
	status := rs.statusLocked()
	status.Accepted = true
	status.Navigation = progress
	rs.mu.Unlock()

	switch {
	case progress.JustArrived:
		s.logger.WithFields(logger.LogFields{"runner_id": runnerID}).Info("run_arrived", "Runner reached the destination")
		s.publish(ctx, runnerID, domain.NavigationArrivedEvent{
			RunnerID:  runnerID,
			DistanceM: status.DistanceM,
			ArrivedAt: s.clock.Now(),
		})
		s.haptic(ctx, runnerID, companion.HapticArrival)
	case progress.Instruction != "":
		s.haptic(ctx, runnerID, companion.HapticTurn)
	}
	if paceChanged && (paceStatus == pace.TooSlow || paceStatus == pace.TooFast) {
		s.haptic(ctx, runnerID, companion.HapticPace)
	}
	if push || progress.JustArrived {
		s.pushState(ctx, runnerID, status, goal)
	}
	return status, nil
}

// StopRun ends the run, stores it in history and returns the record.
func (s *RunService) StopRun(ctx context.Context, runnerID string) (*domain.RunRecord, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return nil, ErrNoActiveRun
	}

	rs.mu.Lock()
	if !rs.running {
		rs.mu.Unlock()
		return nil, ErrNoActiveRun
	}
	rs.workout.Stop()
	rs.navigator.Stop()
	rs.coach.Reset()
	rs.planner.Thaw()
	rs.running = false
	rs.paceStatus = pace.OnPace
	startedAt := rs.tracker.StartedAt()
	distance := rs.tracker.Distance()
	path := rs.tracker.Path()
	goal := rs.goal
	splits := rs.announcer.Finish(distance, rs.tracker.Elapsed())
	rs.mu.Unlock()

	snap := rs.planner.Snapshot()
	run, err := domain.NewRunRecord(runnerID, startedAt, s.clock.Now(), distance, snap.TargetDistance, string(snap.Strategy), path)
	if err != nil {
		return nil, err
	}
	run.Splits = splits

	log := s.logger.WithFields(logger.LogFields{
		"runner_id":  runnerID,
		"run_id":     run.ID,
		"distance_m": run.DistanceM,
	})
	if s.repo != nil {
		if err := s.repo.Save(ctx, run); err != nil {
			log.Error("save_run_failed", err)
			return run, fmt.Errorf("save run: %w", err)
		}
	}
	log.Info("run_completed", "Run stopped and recorded")

	s.publish(ctx, runnerID, domain.RunCompletedEvent{
		RunID:       run.ID,
		RunnerID:    runnerID,
		DistanceM:   run.DistanceM,
		Duration:    run.Duration,
		AveragePace: run.AveragePace,
		CompletedAt: run.EndedAt,
	})
	s.pushState(ctx, runnerID, RunStatus{
		DistanceM:      run.DistanceM,
		ElapsedSeconds: run.Duration.Seconds(),
		CurrentPace:    run.AveragePace,
		PaceStatus:     pace.OnPace,
	}, goal)
	return run, nil
}

// RunState reports the live run without changing it.
func (s *RunService) RunState(runnerID string) (RunStatus, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return RunStatus{}, ErrNoActiveRun
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.running {
		return RunStatus{}, ErrNoActiveRun
	}
	return rs.statusLocked(), nil
}

// RunGPX exports the fixes of the current run, or of the last one once
// stopped, as a timestamped GPX track.
func (s *RunService) RunGPX(runnerID string) ([]byte, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return nil, ErrNoActiveRun
	}
	fixes := rs.tracker.Fixes()
	if len(fixes) == 0 {
		return nil, ErrNoActiveRun
	}
	name := "Run " + rs.tracker.StartedAt().UTC().Format("2006-01-02 15:04")
	return export.Run(name, fixes)
}

// History lists the runner's recorded runs, newest first.
func (s *RunService) History(ctx context.Context, runnerID string, limit int) ([]*domain.RunRecord, error) {
	if s.repo == nil {
		return nil, nil
	}
	runs, err := s.repo.ListByRunner(ctx, runnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// HandleCompanionAction applies a command sent from the runner's watch.
func (s *RunService) HandleCompanionAction(ctx context.Context, action companion.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	switch action.Action {
	case companion.ActionStart:
		_, err := s.StartRun(ctx, action.RunnerID, Goal{})
		return err
	default:
		_, err := s.StopRun(ctx, action.RunnerID)
		return err
	}
}

func (rs *runSession) statusLocked() RunStatus {
	status := RunStatus{
		Running:        rs.running,
		Navigation:     rs.navigator.Snapshot(),
		PaceStatus:     rs.paceStatus,
		TargetPace:     rs.coach.TargetPace(),
		CurrentPace:    rs.tracker.CurrentPace(),
		DistanceM:      rs.tracker.Distance(),
		ElapsedSeconds: rs.tracker.Elapsed().Seconds(),
		Splits:         rs.announcer.Splits(),
	}
	if st, err := rs.workout.State(); err == nil {
		status.Workout = &st
	}
	return status
}

func (s *RunService) pushState(ctx context.Context, runnerID string, status RunStatus, goal Goal) {
	state := companion.RunState{
		RunnerID:       runnerID,
		IsRunning:      status.Running,
		Distance:       status.DistanceM,
		ElapsedSeconds: status.ElapsedSeconds,
		CurrentPace:    status.CurrentPace,
		PaceStatus:     string(status.PaceStatus),
		TargetDistance: goal.DistanceKm,
		TargetTime:     goal.Minutes,
		Timestamp:      s.clock.Now(),
	}
	s.companionError("companion_state_failed", runnerID, s.companion.SendRunState(ctx, state))
}

func (s *RunService) haptic(ctx context.Context, runnerID string, kind companion.Haptic) {
	s.companionError("companion_haptic_failed", runnerID, s.companion.SendHaptic(ctx, runnerID, kind))
}

// companionError logs a failed watch update. A closed channel just means no
// watch link is configured.
func (s *RunService) companionError(action, runnerID string, err error) {
	if err == nil || errors.Is(err, companion.ErrChannelClosed) {
		return
	}
	s.logger.WithFields(logger.LogFields{"runner_id": runnerID}).Error(action, err)
}
