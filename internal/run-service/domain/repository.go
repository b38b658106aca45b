package domain

import "context"

// RunRepository is the port for run history storage.
type RunRepository interface {
	// Save persists a finished run.
	Save(ctx context.Context, run *RunRecord) error

	// ListByRunner returns the runner's most recent runs, newest first.
	ListByRunner(ctx context.Context, runnerID string, limit int) ([]*RunRecord, error)
}

// EventPublisher is the port for announcing domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}
