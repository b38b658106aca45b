package planner

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"run-route/internal/geo"
	"run-route/internal/run-service/directions"
	"run-route/pkg/logger"
)

var errProvider = errors.New("provider unavailable")

// fakeDirections returns a three-point leg per segment. fail decides which
// calls (0-based, in call order) fail.
type fakeDirections struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) bool

	// when set, the first call blocks until its context ends and signals
	// started once it is waiting.
	blockFirst bool
	started    chan struct{}
}

func (f *fakeDirections) Route(ctx context.Context, from, to geo.Coordinate) (directions.Leg, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	block := f.blockFirst && call == 0
	f.mu.Unlock()

	if block {
		close(f.started)
		<-ctx.Done()
		return directions.Leg{}, ctx.Err()
	}
	if f.fail != nil && f.fail(call) {
		return directions.Leg{}, errProvider
	}
	mid := geo.Coordinate{Lat: (from.Lat + to.Lat) / 2, Lng: (from.Lng+to.Lng)/2 + 0.0001}
	return directions.Leg{
		Path:  []geo.Coordinate{from, mid, to},
		Steps: []directions.Step{{Instruction: "continue onto Riverside path", Distance: geo.Distance(from, to)}},
	}, nil
}

func (f *fakeDirections) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestGenerator(seed int64) *Generator {
	return NewGenerator(rand.New(rand.NewSource(seed)))
}

func newTestEngine(d Directions, seed int64) *Engine {
	return NewEngine(newTestGenerator(seed), NewResolver(d, logger.Nop()), logger.Nop())
}
