package domain

import "time"

// DomainEvent is implemented by everything the run service announces.
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// RouteSelectedEvent is raised when a runner commits to a route option.
type RouteSelectedEvent struct {
	RunnerID   string
	OptionID   string
	Strategy   string
	DistanceM  float64
	SelectedAt time.Time
}

func (e RouteSelectedEvent) EventType() string {
	return "run.route.selected"
}

func (e RouteSelectedEvent) OccurredAt() time.Time {
	return e.SelectedAt
}

// NavigationStartedEvent is raised when guidance begins.
type NavigationStartedEvent struct {
	RunnerID      string
	WaypointCount int
	TargetPace    float64
	StartedAt     time.Time
}

func (e NavigationStartedEvent) EventType() string {
	return "run.navigation.started"
}

func (e NavigationStartedEvent) OccurredAt() time.Time {
	return e.StartedAt
}

// NavigationArrivedEvent is raised once the final waypoint is reached.
type NavigationArrivedEvent struct {
	RunnerID  string
	DistanceM float64
	ArrivedAt time.Time
}

func (e NavigationArrivedEvent) EventType() string {
	return "run.navigation.arrived"
}

func (e NavigationArrivedEvent) OccurredAt() time.Time {
	return e.ArrivedAt
}

// RunCompletedEvent is raised when a run is stopped and recorded.
type RunCompletedEvent struct {
	RunID       string
	RunnerID    string
	DistanceM   float64
	Duration    time.Duration
	AveragePace float64
	CompletedAt time.Time
}

func (e RunCompletedEvent) EventType() string {
	return "run.completed"
}

func (e RunCompletedEvent) OccurredAt() time.Time {
	return e.CompletedAt
}
