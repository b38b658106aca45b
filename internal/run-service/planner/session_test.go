package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	"run-route/internal/geo"
	"run-route/pkg/clock"
	"run-route/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, d Directions, clk clock.Clock) *Session {
	t.Helper()
	gen := newTestGenerator(21)
	res := NewResolver(d, logger.Nop())
	s := NewSession(SessionConfig{
		Generator: gen,
		Resolver:  res,
		Engine:    NewEngine(gen, res, logger.Nop()),
		Clock:     clk,
		Logger:    logger.Nop(),
	})
	t.Cleanup(s.Stop)
	return s
}

func TestPlanCommitsBalancedLoop(t *testing.T) {
	s := newTestSession(t, &fakeDirections{}, clock.NewMock(time.Unix(0, 0)))

	snap, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)

	assert.Equal(t, Balanced, snap.Strategy)
	assert.Len(t, snap.Waypoints, 6)
	assert.NotEmpty(t, snap.Route.Path)
	assert.False(t, snap.Loading)
	assert.True(t, snap.Refreshing)
	require.NotNil(t, snap.Anchor)
	assert.Equal(t, park, *snap.Anchor)
}

func TestPlanRejectsBadDistance(t *testing.T) {
	s := newTestSession(t, &fakeDirections{}, clock.NewMock(time.Unix(0, 0)))
	_, err := s.Plan(context.Background(), park, -1)
	assert.ErrorIs(t, err, ErrInvalidDistance)
}

func TestPlanAbortedResolutionUsesStraightLines(t *testing.T) {
	s := newTestSession(t, &fakeDirections{fail: func(int) bool { return true }}, clock.NewMock(time.Unix(0, 0)))

	snap, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyFailures, snap.Route.Status)
	assert.Equal(t, Interpolated(snap.Waypoints), snap.Route.Path)
}

func TestToggleDirectionIsInvolution(t *testing.T) {
	s := newTestSession(t, &fakeDirections{}, clock.NewMock(time.Unix(0, 0)))
	_, err := s.ToggleDirection()
	assert.ErrorIs(t, err, ErrNoActiveRoute)

	original, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)

	once, err := s.ToggleDirection()
	require.NoError(t, err)
	assert.Equal(t, original.Waypoints[1], once.Waypoints[len(once.Waypoints)-2])
	assert.Equal(t, original.Route.Path[1], once.Route.Path[len(once.Route.Path)-2])

	twice, err := s.ToggleDirection()
	require.NoError(t, err)
	assert.Equal(t, original.Waypoints, twice.Waypoints)
	assert.Equal(t, original.Route.Path, twice.Route.Path)
}

func TestGenerateOptionsSelectsBalanced(t *testing.T) {
	s := newTestSession(t, &fakeDirections{}, clock.NewMock(time.Unix(0, 0)))

	snap, err := s.GenerateOptions(context.Background(), park, 6000)
	require.NoError(t, err)
	require.Len(t, snap.Options, 4)
	assert.Equal(t, snap.Options[0].ID, snap.SelectedID)
	assert.Equal(t, Balanced, snap.Strategy)
	assert.Equal(t, snap.Options[0].Waypoints, snap.Waypoints)

	scenic := snap.Options[1]
	selected, err := s.SelectOption(scenic.ID)
	require.NoError(t, err)
	assert.Equal(t, Scenic, selected.Strategy)
	assert.Equal(t, scenic.Waypoints, selected.Waypoints)
	assert.Equal(t, scenic.Path, selected.Route.Path)

	_, err = s.SelectOption("missing")
	assert.ErrorIs(t, err, ErrOptionNotFound)
}

func TestUpdateWaypointsAndRegenerate(t *testing.T) {
	d := &fakeDirections{}
	s := newTestSession(t, d, clock.NewMock(time.Unix(0, 0)))

	_, err := s.UpdateWaypoints(context.Background(), triangle[:2])
	assert.ErrorIs(t, err, ErrTooFewWaypoints)

	_, err = s.Regenerate(context.Background(), 6)
	assert.ErrorIs(t, err, ErrNoActiveRoute)

	_, err = s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)

	edited, err := s.UpdateWaypoints(context.Background(), triangle)
	require.NoError(t, err)
	assert.Equal(t, triangle, edited.Waypoints)
	assert.Len(t, edited.Route.Path, 7)
	assert.False(t, edited.Refreshing)

	resized, err := s.Regenerate(context.Background(), 9)
	require.NoError(t, err)
	assert.Len(t, resized.Waypoints, 9+2)
	assert.Equal(t, park, resized.Waypoints[0])
}

func TestRegenerateStopsRefresh(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	s := newTestSession(t, &fakeDirections{}, clk)

	planned, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)
	require.True(t, planned.Refreshing)

	resized, err := s.Regenerate(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, resized.Refreshing)

	clk.Advance(DefaultRefreshInterval)
	assert.Never(t, func() bool {
		return !assert.ObjectsAreEqual(resized.Waypoints, s.Snapshot().Waypoints)
	}, 100*time.Millisecond, 5*time.Millisecond, "a resized loop is not refreshed")
}

func TestNewerPlanSupersedesInFlight(t *testing.T) {
	d := &fakeDirections{blockFirst: true, started: make(chan struct{})}
	s := newTestSession(t, d, clock.NewMock(time.Unix(0, 0)))

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.Plan(context.Background(), geo.Coordinate{Lat: 1, Lng: 1}, 5000)
	}()

	<-d.started
	assert.True(t, s.Snapshot().Loading)

	second, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)
	wg.Wait()

	assert.NoError(t, firstErr)
	final := s.Snapshot()
	assert.Equal(t, second.Waypoints, final.Waypoints)
	assert.Equal(t, park, final.Waypoints[0])
	assert.False(t, final.Loading)
}

func TestSupersededPlanKeepsTarget(t *testing.T) {
	d := &fakeDirections{blockFirst: true, started: make(chan struct{})}
	s := newTestSession(t, d, clock.NewMock(time.Unix(0, 0)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Plan(context.Background(), geo.Coordinate{Lat: 1, Lng: 1}, 9000)
	}()
	<-d.started

	_, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)
	<-done

	final := s.Snapshot()
	assert.Equal(t, 5000.0, final.TargetDistance)
	require.NotNil(t, final.Anchor)
	assert.Equal(t, park, *final.Anchor)
}

func TestFreezePinsRoute(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	s := newTestSession(t, &fakeDirections{}, clk)
	ctx := context.Background()

	planned, err := s.GenerateOptions(ctx, park, 6000)
	require.NoError(t, err)

	frozen := s.Freeze()
	assert.True(t, frozen.Locked)
	assert.False(t, frozen.Refreshing)
	assert.Equal(t, planned.Waypoints, frozen.Waypoints)

	_, err = s.Plan(ctx, park, 8000)
	assert.ErrorIs(t, err, ErrRouteLocked)
	_, err = s.GenerateOptions(ctx, park, 8000)
	assert.ErrorIs(t, err, ErrRouteLocked)
	_, err = s.SelectOption(planned.Options[1].ID)
	assert.ErrorIs(t, err, ErrRouteLocked)
	_, err = s.ToggleDirection()
	assert.ErrorIs(t, err, ErrRouteLocked)
	_, err = s.UpdateWaypoints(ctx, triangle)
	assert.ErrorIs(t, err, ErrRouteLocked)
	_, err = s.Regenerate(ctx, 6)
	assert.ErrorIs(t, err, ErrRouteLocked)

	clk.Advance(DefaultRefreshInterval)
	assert.Equal(t, planned.Waypoints, s.Snapshot().Waypoints)
	assert.Equal(t, 6000.0, s.Snapshot().TargetDistance)

	s.Thaw()
	thawed := s.Snapshot()
	assert.False(t, thawed.Locked)
	assert.False(t, thawed.Refreshing, "refreshing resumes only with the next plan")

	replanned, err := s.Plan(ctx, park, 8000)
	require.NoError(t, err)
	assert.Equal(t, 8000.0, replanned.TargetDistance)
	assert.True(t, replanned.Refreshing)
}

func TestFreezeFailsInFlightPlan(t *testing.T) {
	d := &fakeDirections{blockFirst: true, started: make(chan struct{})}
	s := newTestSession(t, d, clock.NewMock(time.Unix(0, 0)))

	var planErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, planErr = s.Plan(context.Background(), park, 5000)
	}()
	<-d.started

	frozen := s.Freeze()
	assert.False(t, frozen.Loading)
	<-done

	assert.ErrorIs(t, planErr, ErrRouteLocked)
	final := s.Snapshot()
	assert.Nil(t, final.Anchor, "a plan that lost to Freeze leaves nothing behind")
	assert.Empty(t, final.Waypoints)
	assert.True(t, final.Locked)
}

func TestRefreshRegeneratesFromAnchor(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	var mu sync.Mutex
	commits := 0
	gen := newTestGenerator(9)
	res := NewResolver(&fakeDirections{}, logger.Nop())
	s := NewSession(SessionConfig{
		Generator: gen,
		Resolver:  res,
		Engine:    NewEngine(gen, res, logger.Nop()),
		Clock:     clk,
		Logger:    logger.Nop(),
		OnCommit: func(Snapshot) {
			mu.Lock()
			commits++
			mu.Unlock()
		},
	})
	defer s.Stop()

	first, err := s.Plan(context.Background(), park, 5000)
	require.NoError(t, err)

	clk.Advance(DefaultRefreshInterval)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return commits >= 2
	}, 2*time.Second, 5*time.Millisecond)

	refreshed := s.Snapshot()
	assert.Equal(t, park, refreshed.Waypoints[0])
	assert.NotEqual(t, first.Waypoints, refreshed.Waypoints)
}

func TestStoppedSessionRejectsWork(t *testing.T) {
	s := newTestSession(t, &fakeDirections{}, clock.NewMock(time.Unix(0, 0)))
	s.Stop()
	s.Stop()

	_, err := s.Plan(context.Background(), park, 5000)
	assert.ErrorIs(t, err, ErrSessionStopped)
	_, err = s.UpdateWaypoints(context.Background(), triangle)
	assert.ErrorIs(t, err, ErrSessionStopped)
}
