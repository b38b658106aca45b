// Package domain holds the run service's persistent entities, events and
// ports.
package domain

import (
	"errors"
	"time"

	"run-route/internal/geo"

	"github.com/google/uuid"
)

var (
	ErrInvalidRun  = errors.New("invalid run record")
	ErrRunNotFound = errors.New("run not found")
)

// RunRecord is a finished run as kept in history.
type RunRecord struct {
	ID              string           `json:"id"`
	RunnerID        string           `json:"runner_id"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	DistanceM       float64          `json:"distance_m"`
	Duration        time.Duration    `json:"duration"`
	AveragePace     float64          `json:"average_pace"`
	TargetDistanceM float64          `json:"target_distance_m"`
	Strategy        string           `json:"strategy,omitempty"`
	Path            []geo.Coordinate `json:"path"`
	Splits          []Split          `json:"splits"`
}

// Split is one announcement interval of a run. Pace is minutes per km.
type Split struct {
	DistanceM float64       `json:"distance_m"`
	Duration  time.Duration `json:"duration"`
	Pace      float64       `json:"pace"`
}

// NewRunRecord builds a record for a run that went from startedAt to
// endedAt. AveragePace is minutes per km, 0 when no distance was covered.
func NewRunRecord(runnerID string, startedAt, endedAt time.Time, distanceM, targetM float64, strategy string, path []geo.Coordinate) (*RunRecord, error) {
	if runnerID == "" || startedAt.IsZero() || endedAt.Before(startedAt) || distanceM < 0 {
		return nil, ErrInvalidRun
	}

	duration := endedAt.Sub(startedAt)
	var pace float64
	if distanceM > 0 {
		pace = duration.Minutes() / (distanceM / 1000)
	}

	return &RunRecord{
		ID:              uuid.NewString(),
		RunnerID:        runnerID,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DistanceM:       distanceM,
		Duration:        duration,
		AveragePace:     pace,
		TargetDistanceM: targetM,
		Strategy:        strategy,
		Path:            geo.Clone(path),
	}, nil
}
