// Package pace compares live pace to a goal and decides when to coach.
package pace

import (
	"errors"
	"math"
	"sync"
	"time"

	"run-route/pkg/clock"
)

const (
	SlightThreshold   = 0.05
	ModerateThreshold = 0.15
	// CoachingTolerance is the deviation beyond which coaching is spoken.
	CoachingTolerance = 0.10

	GracePeriod            = 120 * time.Second
	MinTimeBetweenCoaching = 120 * time.Second
)

const (
	MessageTooSlow      = "You're running significantly slow. Try to pick up the pace to hit your goal."
	MessageSlightlySlow = "You're running a bit slow. Speed up slightly to stay on track."
	MessageTooFast      = "You're running significantly fast. Slow down to conserve energy."
	MessageSlightlyFast = "You're running a bit fast. You can slow down slightly."
)

var ErrInvalidGoal = errors.New("goal distance and time must be positive")

type Status string

const (
	TooSlow      Status = "too_slow"
	SlightlySlow Status = "slightly_slow"
	OnPace       Status = "on_pace"
	SlightlyFast Status = "slightly_fast"
	TooFast      Status = "too_fast"
)

var messages = map[Status]string{
	TooSlow:      MessageTooSlow,
	SlightlySlow: MessageSlightlySlow,
	TooFast:      MessageTooFast,
	SlightlyFast: MessageSlightlyFast,
}

// Speaker receives coaching messages.
type Speaker interface {
	Speak(text string)
}

// Coach holds one runner's pace goal.
type Coach struct {
	speaker Speaker
	clock   clock.Clock

	mu           sync.Mutex
	targetPace   float64
	lastCoaching time.Time
	status       Status
}

func NewCoach(speaker Speaker, clk clock.Clock) *Coach {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coach{speaker: speaker, clock: clk, status: OnPace}
}

// SetGoal arms coaching for covering distanceKm in minutes.
func (c *Coach) SetGoal(distanceKm, minutes float64) error {
	if distanceKm <= 0 || minutes <= 0 {
		return ErrInvalidGoal
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetPace = minutes / distanceKm
	c.lastCoaching = time.Time{}
	c.status = OnPace
	return nil
}

// TargetPace returns the goal in minutes per km, 0 when unarmed.
func (c *Coach) TargetPace() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetPace
}

// Reset disarms coaching.
func (c *Coach) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetPace = 0
	c.lastCoaching = time.Time{}
	c.status = OnPace
}

// UpdatePace classifies currentPace (min/km) and speaks a coaching message
// when the runner is well off pace, past the grace period, and has not been
// coached recently.
func (c *Coach) UpdatePace(currentPace float64, elapsed time.Duration) Status {
	c.mu.Lock()
	if c.targetPace <= 0 || currentPace <= 0 {
		c.status = OnPace
		c.mu.Unlock()
		return OnPace
	}

	diff := (currentPace - c.targetPace) / c.targetPace
	status := Classify(diff)
	c.status = status

	var message string
	if c.shouldCoachLocked(diff, elapsed) {
		if m, ok := messages[status]; ok {
			message = m
			c.lastCoaching = c.clock.Now()
		}
	}
	c.mu.Unlock()

	if message != "" {
		c.speaker.Speak(message)
	}
	return status
}

// Status returns the last computed status.
func (c *Coach) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coach) shouldCoachLocked(diff float64, elapsed time.Duration) bool {
	if elapsed <= GracePeriod {
		return false
	}
	if !c.lastCoaching.IsZero() && c.clock.Since(c.lastCoaching) < MinTimeBetweenCoaching {
		return false
	}
	return math.Abs(diff) > CoachingTolerance
}

// Classify maps a relative pace difference (positive is slower) to a Status.
func Classify(diff float64) Status {
	switch {
	case diff > ModerateThreshold:
		return TooSlow
	case diff > SlightThreshold:
		return SlightlySlow
	case diff < -ModerateThreshold:
		return TooFast
	case diff < -SlightThreshold:
		return SlightlyFast
	default:
		return OnPace
	}
}
