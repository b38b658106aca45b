// Package interval runs structured workouts: a fixed sequence of warm-up,
// work, rest and cool-down phases timed against the clock, with each phase
// announced as it starts.
package interval

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"run-route/pkg/clock"
)

var (
	ErrNoWorkout       = errors.New("no workout")
	ErrWorkoutFinished = errors.New("workout already finished")
	ErrInvalidWorkout  = errors.New("invalid workout")
	ErrUnknownPreset   = errors.New("unknown workout preset")
	ErrUnknownCommand  = errors.New("unknown workout command")
)

const MessageIntervalEnd = "Interval complete!"

// TickInterval is how often a running workout checks for a phase change.
const TickInterval = time.Second

type Kind string

const (
	Warmup   Kind = "warmup"
	Work     Kind = "work"
	Rest     Kind = "rest"
	Cooldown Kind = "cooldown"
)

// Name is the spoken name of the phase kind.
func (k Kind) Name() string {
	switch k {
	case Warmup:
		return "Warm Up"
	case Work:
		return "Work"
	case Rest:
		return "Rest"
	case Cooldown:
		return "Cool Down"
	default:
		return string(k)
	}
}

type Phase struct {
	Kind    Kind `json:"kind"`
	Seconds int  `json:"seconds"`
}

func (p Phase) Duration() time.Duration {
	return time.Duration(p.Seconds) * time.Second
}

// StartMessage announces the phase.
func (p Phase) StartMessage() string {
	return fmt.Sprintf("%s for %d seconds. Go!", p.Kind.Name(), p.Seconds)
}

// Speaker receives phase announcements.
type Speaker interface {
	Speak(text string)
}

// State is a point-in-time view of a workout.
type State struct {
	Running          bool    `json:"running"`
	Finished         bool    `json:"finished"`
	Phase            Kind    `json:"phase,omitempty"`
	PhaseName        string  `json:"phase_name,omitempty"`
	PhaseIndex       int     `json:"phase_index"`
	PhaseCount       int     `json:"phase_count"`
	RemainingSeconds float64 `json:"remaining_s"`
	Interval         int     `json:"interval"`
	TotalIntervals   int     `json:"total_intervals"`
	TotalSeconds     float64 `json:"total_s"`
}

// Timer drives one workout. Phases are timed by deadline rather than by
// counting ticks, so a late or dropped tick never stretches a phase.
type Timer struct {
	clock   clock.Clock
	speaker Speaker

	mu        sync.Mutex
	phases    []Phase
	index     int
	endsAt    time.Time
	remaining time.Duration
	running   bool
	finished  bool
	interval  int
	stopLoop  chan struct{}
}

func NewTimer(speaker Speaker, clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Timer{clock: clk, speaker: speaker}
}

// Start replaces any current workout with phases and begins the first one.
func (t *Timer) Start(phases []Phase) error {
	if err := Validate(phases); err != nil {
		return err
	}

	t.mu.Lock()
	t.stopLoopLocked()
	t.phases = append([]Phase(nil), phases...)
	t.index = 0
	t.interval = 0
	t.finished = false
	messages := t.startPhaseLocked(t.clock.Now())
	t.armLocked()
	t.mu.Unlock()

	t.say(messages)
	return nil
}

// Pause freezes the current phase's remaining time.
func (t *Timer) Pause() error {
	t.mu.Lock()
	messages, err := t.catchUpLocked(t.clock.Now())
	if err == nil && t.running {
		t.remaining = t.endsAt.Sub(t.clock.Now())
		t.running = false
		t.stopLoopLocked()
	}
	t.mu.Unlock()

	t.say(messages)
	return err
}

// Resume continues a paused phase where it stopped.
func (t *Timer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.activeLocked(); err != nil {
		return err
	}
	if t.running {
		return nil
	}
	t.endsAt = t.clock.Now().Add(t.remaining)
	t.running = true
	t.armLocked()
	return nil
}

// Skip ends the current phase and starts the next one at once.
func (t *Timer) Skip() error {
	t.mu.Lock()
	now := t.clock.Now()
	messages, err := t.catchUpLocked(now)
	if err == nil {
		messages = append(messages, t.advanceLocked(now)...)
		if !t.finished {
			t.armLocked()
		}
	}
	t.mu.Unlock()

	t.say(messages)
	return err
}

// Stop abandons the workout.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLoopLocked()
	t.phases = nil
	t.index = 0
	t.interval = 0
	t.running = false
	t.finished = false
	t.remaining = 0
}

// State reports the workout, bringing it up to date with the clock first.
// ErrNoWorkout means none was started.
func (t *Timer) State() (State, error) {
	t.mu.Lock()
	if len(t.phases) == 0 {
		t.mu.Unlock()
		return State{}, ErrNoWorkout
	}
	now := t.clock.Now()
	messages, _ := t.catchUpLocked(now)
	st := t.stateLocked(now)
	t.mu.Unlock()

	t.say(messages)
	return st, nil
}

func (t *Timer) stateLocked(now time.Time) State {
	st := State{
		Running:    t.running,
		Finished:   t.finished,
		PhaseIndex: t.index,
		PhaseCount: len(t.phases),
		Interval:   t.interval,
	}
	for _, p := range t.phases {
		st.TotalSeconds += float64(p.Seconds)
		if p.Kind == Work {
			st.TotalIntervals++
		}
	}
	if t.finished {
		return st
	}
	phase := t.phases[t.index]
	st.Phase = phase.Kind
	st.PhaseName = phase.Kind.Name()
	remaining := t.remaining
	if t.running {
		remaining = t.endsAt.Sub(now)
	}
	st.RemainingSeconds = max(remaining, 0).Seconds()
	return st
}

// activeLocked rejects calls with no workout or a finished one.
func (t *Timer) activeLocked() error {
	switch {
	case len(t.phases) == 0:
		return ErrNoWorkout
	case t.finished:
		return ErrWorkoutFinished
	default:
		return nil
	}
}

// catchUpLocked moves through every phase whose deadline has passed. Each
// phase starts when the previous one was due to end.
func (t *Timer) catchUpLocked(now time.Time) ([]string, error) {
	if err := t.activeLocked(); err != nil {
		return nil, err
	}
	var messages []string
	for t.running && !now.Before(t.endsAt) {
		messages = append(messages, t.advanceLocked(t.endsAt)...)
	}
	if t.finished {
		t.stopLoopLocked()
	}
	return messages, nil
}

// advanceLocked closes the current phase and starts the next at `at`.
func (t *Timer) advanceLocked(at time.Time) []string {
	var messages []string
	if t.phases[t.index].Kind == Work {
		messages = append(messages, MessageIntervalEnd)
	}
	t.index++
	return append(messages, t.startPhaseLocked(at)...)
}

func (t *Timer) startPhaseLocked(at time.Time) []string {
	if t.index >= len(t.phases) {
		t.index = len(t.phases)
		t.finished = true
		t.running = false
		t.remaining = 0
		t.stopLoopLocked()
		return nil
	}
	phase := t.phases[t.index]
	if phase.Kind == Work {
		t.interval++
	}
	t.endsAt = at.Add(phase.Duration())
	t.remaining = phase.Duration()
	t.running = true
	return []string{phase.StartMessage()}
}

// armLocked starts the tick loop unless it is already running.
func (t *Timer) armLocked() {
	if t.stopLoop != nil || !t.running {
		return
	}
	stop := make(chan struct{})
	t.stopLoop = stop
	ticker := t.clock.NewTicker(TickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				t.tick()
			}
		}
	}()
}

func (t *Timer) tick() {
	t.mu.Lock()
	messages, _ := t.catchUpLocked(t.clock.Now())
	t.mu.Unlock()
	t.say(messages)
}

func (t *Timer) stopLoopLocked() {
	if t.stopLoop != nil {
		close(t.stopLoop)
		t.stopLoop = nil
	}
}

func (t *Timer) say(messages []string) {
	for _, m := range messages {
		t.speaker.Speak(m)
	}
}
