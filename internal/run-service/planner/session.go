package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"run-route/internal/geo"
	"run-route/pkg/clock"
	"run-route/pkg/logger"
)

// DefaultRefreshInterval is how often an active plan is regenerated from its
// anchor.
const DefaultRefreshInterval = 30 * time.Second

// MinEditableWaypoints is the shortest ring a manual edit may submit.
const MinEditableWaypoints = 3

var (
	ErrNoActiveRoute  = errors.New("no active route")
	ErrOptionNotFound = errors.New("route option not found")
	ErrSessionStopped = errors.New("planning session stopped")
	ErrRouteLocked    = errors.New("route is locked while it is being followed")
)

// Snapshot is a copy of a session's state, safe to hand to other goroutines.
type Snapshot struct {
	Anchor         *geo.Coordinate  `json:"anchor,omitempty"`
	TargetDistance float64          `json:"target_distance_m"`
	Strategy       Strategy         `json:"strategy"`
	Waypoints      []geo.Coordinate `json:"waypoints"`
	Route          Resolution       `json:"route"`
	Options        []RouteOption    `json:"options,omitempty"`
	SelectedID     string           `json:"selected_option_id,omitempty"`
	Loading        bool             `json:"loading"`
	Refreshing     bool             `json:"refreshing"`
	Locked         bool             `json:"locked"`
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Generator       *Generator
	Resolver        *Resolver
	Engine          *Engine
	Clock           clock.Clock
	RefreshInterval time.Duration
	Logger          logger.Logger
	// OnCommit, when set, is called after a new route becomes active.
	OnCommit func(Snapshot)
}

// Session owns one runner's active route. Every planning call supersedes the
// one in flight: the older call's context is cancelled and its result is
// never committed. The previous route stays visible until the new one lands.
type Session struct {
	generator       *Generator
	resolver        *Resolver
	engine          *Engine
	clock           clock.Clock
	refreshInterval time.Duration
	log             logger.Logger
	onCommit        func(Snapshot)

	mu         sync.Mutex
	anchor     *geo.Coordinate
	target     float64
	strategy   Strategy
	override   int
	waypoints  []geo.Coordinate
	route      Resolution
	options    []RouteOption
	selected   string
	loading    bool
	generation uint64
	cancel     context.CancelFunc
	stopLoop   chan struct{}
	stopped    bool
	frozen     bool
}

func NewSession(cfg SessionConfig) *Session {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Session{
		generator:       cfg.Generator,
		resolver:        cfg.Resolver,
		engine:          cfg.Engine,
		clock:           clk,
		refreshInterval: interval,
		log:             cfg.Logger,
		onCommit:        cfg.OnCommit,
		strategy:        Balanced,
	}
}

// Plan generates and resolves a Balanced loop around start, then keeps
// regenerating it from start every refresh interval until Stop, Freeze or
// a manual change. The anchor and target change only when the new loop
// commits.
func (s *Session) Plan(ctx context.Context, start geo.Coordinate, targetDistance float64) (Snapshot, error) {
	if targetDistance <= 0 {
		return Snapshot{}, ErrInvalidDistance
	}

	anchor := start
	return s.generateAndResolve(ctx, start, targetDistance, Balanced, 0, func() {
		s.anchor = &anchor
		s.target = targetDistance
		s.strategy = Balanced
		s.override = 0
		s.options = nil
		s.startRefreshLocked()
	})
}

// GenerateOptions builds one option per strategy and selects Balanced.
func (s *Session) GenerateOptions(ctx context.Context, start geo.Coordinate, targetDistance float64) (Snapshot, error) {
	if targetDistance <= 0 {
		return Snapshot{}, ErrInvalidDistance
	}

	cctx, gen, err := s.begin(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	options, err := s.engine.GenerateOptions(cctx, start, targetDistance)
	if err != nil {
		return s.abandon(gen, err)
	}

	if err := s.commit(gen, func() {
		s.stopRefreshLocked()
		anchor := start
		s.anchor = &anchor
		s.target = targetDistance
		s.override = 0
		s.options = options
		s.selected = ""
		for _, opt := range options {
			if opt.Strategy == Balanced {
				s.applyOption(opt)
				break
			}
		}
	}); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// SelectOption makes the option with id the active route.
func (s *Session) SelectOption(id string) (Snapshot, error) {
	s.mu.Lock()
	var found *RouteOption
	for i := range s.options {
		if s.options[i].ID == id {
			found = &s.options[i]
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrOptionNotFound, id)
	}
	if s.frozen {
		s.mu.Unlock()
		return Snapshot{}, ErrRouteLocked
	}
	s.stopRefreshLocked()
	s.applyOption(*found)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// applyOption must be called with mu held.
func (s *Session) applyOption(opt RouteOption) {
	s.selected = opt.ID
	s.strategy = opt.Strategy
	s.waypoints = geo.Clone(opt.Waypoints)
	s.route = opt.Resolution()
}

// ToggleDirection reverses the active route and waypoints. Applying it twice
// restores the original order.
func (s *Session) ToggleDirection() (Snapshot, error) {
	s.mu.Lock()
	if len(s.waypoints) == 0 {
		s.mu.Unlock()
		return Snapshot{}, ErrNoActiveRoute
	}
	if s.frozen {
		s.mu.Unlock()
		return Snapshot{}, ErrRouteLocked
	}
	s.stopRefreshLocked()
	geo.Reverse(s.waypoints)
	geo.Reverse(s.route.Path)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// UpdateWaypoints re-resolves a manually edited ring without regenerating it.
func (s *Session) UpdateWaypoints(ctx context.Context, waypoints []geo.Coordinate) (Snapshot, error) {
	if len(waypoints) < MinEditableWaypoints {
		return Snapshot{}, fmt.Errorf("%w: got %d, need %d", ErrTooFewWaypoints, len(waypoints), MinEditableWaypoints)
	}
	ring := geo.Clone(waypoints)

	cctx, gen, err := s.begin(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	res, err := s.resolve(cctx, ring)
	if err != nil {
		return s.abandon(gen, err)
	}
	if err := s.commit(gen, func() {
		s.stopRefreshLocked()
		s.waypoints = ring
		s.route = res
		s.selected = ""
	}); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// Regenerate resizes the loop to count waypoints around the anchor. Like any
// manual change it ends periodic refreshing.
func (s *Session) Regenerate(ctx context.Context, count int) (Snapshot, error) {
	s.mu.Lock()
	if s.anchor == nil {
		s.mu.Unlock()
		return Snapshot{}, ErrNoActiveRoute
	}
	anchor, target, strategy := *s.anchor, s.target, s.strategy
	s.mu.Unlock()

	return s.generateAndResolve(ctx, anchor, target, strategy, count, func() {
		s.stopRefreshLocked()
		s.override = count
	})
}

// generateAndResolve builds and resolves a ring. apply, when set, runs
// under the lock together with the commit.
func (s *Session) generateAndResolve(ctx context.Context, anchor geo.Coordinate, target float64, strategy Strategy, override int, apply func()) (Snapshot, error) {
	cctx, gen, err := s.begin(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	ring := s.generator.Generate(anchor, target, strategy, override)
	res, err := s.resolve(cctx, ring)
	if err != nil {
		return s.abandon(gen, err)
	}
	if err := s.commit(gen, func() {
		s.waypoints = ring
		s.route = res
		s.selected = ""
		if apply != nil {
			apply()
		}
	}); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// resolve falls back to a straight-line ring when the resolver gives up, so
// an aborted resolution still yields something to follow. The resolver's
// status explains why.
func (s *Session) resolve(ctx context.Context, ring []geo.Coordinate) (Resolution, error) {
	res, err := s.resolver.Resolve(ctx, ring)
	if errors.Is(err, ErrRouteAborted) {
		s.log.WithFields(logger.LogFields{"status": res.Status}).Debug("route_aborted", err.Error())
		return Resolution{Path: Interpolated(ring), Status: res.Status}, nil
	}
	return res, err
}

// begin supersedes any in-flight planning call and returns a context for the
// new one plus its generation.
func (s *Session) begin(ctx context.Context) (context.Context, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, 0, ErrSessionStopped
	}
	if s.frozen {
		return nil, 0, ErrRouteLocked
	}
	if s.cancel != nil {
		s.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	s.generation++
	s.cancel = cancel
	s.loading = true
	return cctx, s.generation, nil
}

// commit applies fn only when gen is still the latest planning call. A call
// overtaken by Freeze fails with ErrRouteLocked; one overtaken by a newer
// planning call is dropped quietly.
func (s *Session) commit(gen uint64, fn func()) error {
	s.mu.Lock()
	if gen != s.generation || s.stopped {
		frozen := s.frozen
		s.mu.Unlock()
		if frozen {
			return ErrRouteLocked
		}
		return nil
	}
	fn()
	s.loading = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// abandon handles a planning call that ended without a result. A superseded
// or cancelled call is not a failure: the caller gets the current state.
func (s *Session) abandon(gen uint64, err error) (Snapshot, error) {
	s.mu.Lock()
	locked := s.frozen && gen != s.generation
	if gen == s.generation {
		s.loading = false
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if locked {
		return snap, ErrRouteLocked
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.log.Debug("planning_superseded", "planning call abandoned")
		return snap, nil
	}
	return snap, err
}

func (s *Session) notify(snap Snapshot) {
	if s.onCommit != nil {
		s.onCommit(snap)
	}
}

// startRefreshLocked (re)arms the periodic regeneration loop.
func (s *Session) startRefreshLocked() {
	if s.stopped || s.frozen {
		return
	}
	s.stopRefreshLocked()
	stop := make(chan struct{})
	s.stopLoop = stop
	ticker := s.clock.NewTicker(s.refreshInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				s.refresh()
			}
		}
	}()
}

func (s *Session) refresh() {
	s.mu.Lock()
	if s.anchor == nil || s.stopped || s.frozen {
		s.mu.Unlock()
		return
	}
	anchor, target, strategy, override := *s.anchor, s.target, s.strategy, s.override
	s.mu.Unlock()

	_, err := s.generateAndResolve(context.Background(), anchor, target, strategy, override, nil)
	if err != nil && !errors.Is(err, ErrRouteLocked) {
		s.log.Error("route_refresh_failed", err)
	}
}

func (s *Session) stopRefreshLocked() {
	if s.stopLoop != nil {
		close(s.stopLoop)
		s.stopLoop = nil
	}
}

// Freeze pins the active route for a run: in-flight planning is cancelled,
// refreshing stops and planning calls fail with ErrRouteLocked until Thaw.
// It returns the route that was pinned.
func (s *Session) Freeze() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loading = false
	s.stopRefreshLocked()
	return s.snapshotLocked()
}

// Thaw lets planning calls change the route again. Refreshing stays off
// until the next Plan.
func (s *Session) Thaw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = false
}

// Stop cancels in-flight work and refreshes. The session cannot be reused.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopRefreshLocked()
	s.loading = false
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		TargetDistance: s.target,
		Strategy:       s.strategy,
		Waypoints:      geo.Clone(s.waypoints),
		Route:          s.route.Clone(),
		SelectedID:     s.selected,
		Loading:        s.loading,
		Refreshing:     s.stopLoop != nil,
		Locked:         s.frozen,
	}
	if s.anchor != nil {
		a := *s.anchor
		snap.Anchor = &a
	}
	if s.options != nil {
		snap.Options = make([]RouteOption, len(s.options))
		for i, opt := range s.options {
			opt.Waypoints = geo.Clone(opt.Waypoints)
			opt.Path = geo.Clone(opt.Path)
			snap.Options[i] = opt
		}
	}
	return snap
}
