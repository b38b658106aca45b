// Package tracking accumulates a runner's GPS fixes into a path, distance
// and live pace.
package tracking

import (
	"sync"
	"time"

	"run-route/internal/geo"
	"run-route/pkg/clock"
)

const (
	// DistanceFilter is the smallest move (m) that counts as a location change.
	DistanceFilter = 10.0
	// MaxRealisticJump is the largest gap (m) between fixes still added to the
	// distance; bigger jumps are GPS glitches.
	MaxRealisticJump = 100.0
	// minPaceDistance is the distance (m) needed before pace is reported.
	minPaceDistance = 10.0
)

// Fix is one location reading. A negative HorizontalAccuracy marks it invalid.
type Fix struct {
	geo.Coordinate
	HorizontalAccuracy float64   `json:"accuracy"`
	Time               time.Time `json:"timestamp"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	clock clock.Clock

	mu        sync.Mutex
	startedAt time.Time
	fixes     []Fix
	path      []geo.Coordinate
	distance  float64
	last      *geo.Coordinate
}

func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{clock: clk}
}

// Start clears previous data and starts the run clock.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = t.clock.Now()
	t.fixes = nil
	t.path = nil
	t.distance = 0
	t.last = nil
}

// Record adds fix to the run and reports whether it was accepted.
func (t *Tracker) Record(fix Fix) bool {
	if fix.HorizontalAccuracy < 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixes = append(t.fixes, fix)
	t.path = append(t.path, fix.Coordinate)
	if t.last != nil {
		if d := geo.Distance(*t.last, fix.Coordinate); d < MaxRealisticJump {
			t.distance += d
		}
	}
	c := fix.Coordinate
	t.last = &c
	return true
}

// Distance returns meters covered.
func (t *Tracker) Distance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.distance
}

// Path returns the accepted locations.
func (t *Tracker) Path() []geo.Coordinate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return geo.Clone(t.path)
}

// Fixes returns a copy of the accepted fixes with their timestamps.
func (t *Tracker) Fixes() []Fix {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Fix(nil), t.fixes...)
}

// Last returns the latest accepted location.
func (t *Tracker) Last() (geo.Coordinate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return geo.Coordinate{}, false
	}
	return *t.last, true
}

func (t *Tracker) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Elapsed is the time since Start.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	return t.clock.Since(t.startedAt)
}

// CurrentPace is the average pace so far in minutes per km, or 0 before the
// runner has covered enough ground to measure it.
func (t *Tracker) CurrentPace() float64 {
	elapsed := t.Elapsed()
	distance := t.Distance()
	if distance < minPaceDistance || elapsed <= 0 {
		return 0
	}
	return elapsed.Minutes() / (distance / 1000)
}

// Moved reports whether next is far enough from prev to count as a new
// location. Raw GPS readings are never bit-identical, so this replaces
// exact coordinate equality.
func Moved(prev, next geo.Coordinate) bool {
	return !prev.Near(next, DistanceFilter)
}
