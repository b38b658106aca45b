package service

import (
	"run-route/internal/run-service/interval"
	"run-route/pkg/logger"
)

// StartWorkout runs a structured workout alongside the active run,
// replacing any workout already going.
func (s *RunService) StartWorkout(runnerID string, spec interval.Spec) (interval.State, error) {
	phases, err := spec.Phases()
	if err != nil {
		return interval.State{}, err
	}
	rs, err := s.runningSession(runnerID)
	if err != nil {
		return interval.State{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.running {
		return interval.State{}, ErrNoActiveRun
	}
	if err := rs.workout.Start(phases); err != nil {
		return interval.State{}, err
	}

	s.logger.WithFields(logger.LogFields{
		"runner_id": runnerID,
		"preset":    spec.Preset,
		"phases":    len(phases),
	}).Info("workout_started", "Workout started")
	return rs.workout.State()
}

// ControlWorkout pauses, resumes, skips or stops the runner's workout.
// Stopping returns the zero State.
func (s *RunService) ControlWorkout(runnerID string, cmd interval.Command) (interval.State, error) {
	rs, err := s.runningSession(runnerID)
	if err != nil {
		return interval.State{}, err
	}
	if err := cmd.Apply(rs.workout); err != nil {
		return interval.State{}, err
	}

	s.logger.WithFields(logger.LogFields{
		"runner_id": runnerID,
		"command":   string(cmd),
	}).Debug("workout_command", "Workout command applied")
	if cmd == interval.CommandStop {
		return interval.State{}, nil
	}
	return rs.workout.State()
}

// WorkoutState reports the runner's workout.
func (s *RunService) WorkoutState(runnerID string) (interval.State, error) {
	rs, err := s.runningSession(runnerID)
	if err != nil {
		return interval.State{}, err
	}
	return rs.workout.State()
}

// SpeechDone tells the runner's voice output that the phone finished the
// current utterance. Unknown runners are ignored.
func (s *RunService) SpeechDone(runnerID string) {
	if rs, ok := s.existing(runnerID); ok {
		rs.voice.Finished()
	}
}

func (s *RunService) runningSession(runnerID string) (*runSession, error) {
	rs, ok := s.existing(runnerID)
	if !ok {
		return nil, ErrNoActiveRun
	}
	rs.mu.Lock()
	running := rs.running
	rs.mu.Unlock()
	if !running {
		return nil, ErrNoActiveRun
	}
	return rs, nil
}
