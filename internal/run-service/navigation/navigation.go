// Package navigation guides a runner along a waypoint sequence with spoken
// turn instructions.
package navigation

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"run-route/internal/geo"
	"run-route/pkg/logger"
)

const (
	// WaypointReachedThreshold is how close (m) counts as reaching a waypoint.
	WaypointReachedThreshold = 20.0
	// InstructionDistance is how close (m) to a waypoint its instruction is given.
	InstructionDistance = 50.0
	// InstructionRepeatThreshold is how much closer (m) the runner must get
	// before an instruction for the same waypoint is repeated.
	InstructionRepeatThreshold = 30.0

	StraightAngleThreshold = 20.0
	SlightTurnThreshold    = 45.0
	SharpTurnThreshold     = 120.0
	// UTurnAngleThreshold is the margin from 180 degrees inside which a turn
	// is a U-turn.
	UTurnAngleThreshold = 30.0
)

const (
	MessageStarted = "Navigation started. Follow the route."
	MessageArrived = "You have reached your destination."
)

var ErrTooFewWaypoints = errors.New("navigation needs at least two waypoints")

type State string

const (
	Idle       State = "idle"
	Navigating State = "navigating"
	Arrived    State = "arrived"
)

// Speaker is the voice output the navigator drives.
type Speaker interface {
	Speak(text string)
	Stop()
}

// Progress is what the navigator reports after each update.
type Progress struct {
	State          State   `json:"state"`
	WaypointIndex  int     `json:"waypoint_index"`
	WaypointCount  int     `json:"waypoint_count"`
	DistanceToNext float64 `json:"distance_to_next_m"`
	// Instruction is the text spoken during this update, if any.
	Instruction string `json:"instruction,omitempty"`
	// JustArrived is true only on the update that reached the destination.
	JustArrived bool `json:"just_arrived,omitempty"`
}

type Navigator struct {
	speaker Speaker
	log     logger.Logger

	mu                      sync.Mutex
	state                   State
	waypoints               []geo.Coordinate
	index                   int
	instructionGiven        bool
	lastInstructionDistance float64
	distanceToNext          float64
}

func New(speaker Speaker, log logger.Logger) *Navigator {
	return &Navigator{speaker: speaker, log: log, state: Idle}
}

// Start begins guidance over waypoints, replacing any current session.
func (n *Navigator) Start(waypoints []geo.Coordinate) error {
	if len(waypoints) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewWaypoints, len(waypoints))
	}

	n.mu.Lock()
	n.waypoints = geo.Clone(waypoints)
	n.index = 0
	n.instructionGiven = false
	n.lastInstructionDistance = 0
	n.distanceToNext = 0
	n.state = Navigating
	n.mu.Unlock()

	n.log.WithFields(logger.LogFields{"waypoints": len(waypoints)}).Info("navigation_started", "Navigation started")
	n.speaker.Speak(MessageStarted)
	return nil
}

// Stop silences speech and returns to Idle.
func (n *Navigator) Stop() {
	n.mu.Lock()
	n.state = Idle
	n.waypoints = nil
	n.index = 0
	n.instructionGiven = false
	n.lastInstructionDistance = 0
	n.distanceToNext = 0
	n.mu.Unlock()

	n.speaker.Stop()
}

// Update advances guidance for a new location. Outside Navigating it only
// reports the current state.
func (n *Navigator) Update(location geo.Coordinate) Progress {
	n.mu.Lock()
	if n.state != Navigating {
		p := n.progressLocked()
		n.mu.Unlock()
		return p
	}

	var speech string
	justArrived := false
	distance := geo.Distance(location, n.waypoints[n.index])
	n.distanceToNext = distance

	switch {
	case distance < WaypointReachedThreshold:
		n.index++
		n.instructionGiven = false
		if n.index < len(n.waypoints) {
			speech = n.instructionLocked(location)
			n.distanceToNext = geo.Distance(location, n.waypoints[n.index])
		} else {
			speech = MessageArrived
			n.state = Arrived
			n.distanceToNext = 0
			justArrived = true
		}
	case distance < InstructionDistance &&
		(!n.instructionGiven || n.lastInstructionDistance-distance > InstructionRepeatThreshold):
		speech = n.instructionLocked(location)
		n.instructionGiven = true
		n.lastInstructionDistance = distance
	}

	p := n.progressLocked()
	p.Instruction = speech
	p.JustArrived = justArrived
	n.mu.Unlock()

	if speech != "" {
		n.speaker.Speak(speech)
	}
	if justArrived {
		n.log.Info("navigation_arrived", "Runner reached the destination")
	}
	return p
}

// Snapshot reports progress without changing state.
func (n *Navigator) Snapshot() Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progressLocked()
}

func (n *Navigator) progressLocked() Progress {
	return Progress{
		State:          n.state,
		WaypointIndex:  n.index,
		WaypointCount:  len(n.waypoints),
		DistanceToNext: n.distanceToNext,
	}
}

// instructionLocked describes the maneuver at waypoints[index].
func (n *Navigator) instructionLocked(location geo.Coordinate) string {
	next := n.waypoints[n.index]
	distanceText := FormatDistance(geo.Distance(location, next))

	if n.index == len(n.waypoints)-1 {
		return fmt.Sprintf("In %s, you will reach your destination.", distanceText)
	}

	following := n.waypoints[n.index+1]
	angle := geo.TurnAngle(geo.Bearing(location, next), geo.Bearing(next, following))
	return fmt.Sprintf("In %s, %s.", distanceText, Direction(angle))
}

// Direction names the maneuver for a signed turn angle in degrees.
func Direction(angle float64) string {
	abs := math.Abs(angle)
	switch {
	case abs < StraightAngleThreshold:
		return "continue straight"
	case abs > 180-UTurnAngleThreshold:
		return "make a U-turn"
	}

	side := "right"
	if angle < 0 {
		side = "left"
	}
	switch {
	case abs < SlightTurnThreshold:
		return "turn slightly " + side
	case abs < SharpTurnThreshold:
		return "turn " + side
	default:
		return "turn sharply " + side
	}
}

// FormatDistance renders meters the way instructions speak them.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d meters", int(meters))
	}
	return fmt.Sprintf("%.1f kilometers", meters/1000)
}
