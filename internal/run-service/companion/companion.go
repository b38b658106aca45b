// Package companion keeps a paired watch in sync with the run and relays its
// commands back.
package companion

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrChannelClosed = errors.New("companion channel is not open")
	ErrUnknownAction = errors.New("unknown companion action")
)

// RunState is the periodic update a watch renders.
type RunState struct {
	RunnerID       string    `json:"runner_id"`
	IsRunning      bool      `json:"is_running"`
	Distance       float64   `json:"distance_m"`
	ElapsedSeconds float64   `json:"elapsed_s"`
	CurrentPace    float64   `json:"current_pace"`
	PaceStatus     string    `json:"pace_status"`
	TargetDistance float64   `json:"target_distance_km"`
	TargetTime     float64   `json:"target_time_min"`
	Timestamp      time.Time `json:"timestamp"`
}

type Haptic string

const (
	HapticTurn    Haptic = "turn"
	HapticArrival Haptic = "arrival"
	HapticPace    Haptic = "pace"
)

type ActionKind string

const (
	ActionStart ActionKind = "start"
	ActionStop  ActionKind = "stop"
)

// Action is a command sent from the watch.
type Action struct {
	RunnerID string     `json:"runner_id"`
	Action   ActionKind `json:"action"`
}

// Validate checks the action names a known command.
func (a Action) Validate() error {
	switch a.Action {
	case ActionStart, ActionStop:
	default:
		return ErrUnknownAction
	}
	if a.RunnerID == "" {
		return errors.New("companion action without runner_id")
	}
	return nil
}

// ActionHandler reacts to watch commands.
type ActionHandler func(ctx context.Context, a Action) error

// Channel is the lifecycle-bound link to companion devices. Sends outside
// Open..Close fail with ErrChannelClosed.
type Channel interface {
	Open(ctx context.Context) error
	SendRunState(ctx context.Context, state RunState) error
	SendHaptic(ctx context.Context, runnerID string, kind Haptic) error
	Close() error
}

// lifecycle tracks open/closed state for Channel implementations.
type lifecycle struct {
	mu     sync.RWMutex
	open   bool
	closed bool
}

func (l *lifecycle) markOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.open = true
	return nil
}

func (l *lifecycle) markClosed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	l.closed = true
}

func (l *lifecycle) isOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.open
}

// NopChannel accepts and discards every message.
type NopChannel struct {
	lifecycle
}

func NewNopChannel() *NopChannel { return &NopChannel{} }

func (c *NopChannel) Open(context.Context) error { return c.markOpen() }

func (c *NopChannel) SendRunState(context.Context, RunState) error {
	if !c.isOpen() {
		return ErrChannelClosed
	}
	return nil
}

func (c *NopChannel) SendHaptic(context.Context, string, Haptic) error {
	if !c.isOpen() {
		return ErrChannelClosed
	}
	return nil
}

func (c *NopChannel) Close() error {
	c.markClosed()
	return nil
}
