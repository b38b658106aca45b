package planner

import (
	"context"
	"testing"

	"run-route/internal/geo"
	"run-route/pkg/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square ring with three segments: 0->1->2->0 is closed by the last point.
var triangle = []geo.Coordinate{
	{Lat: 0, Lng: 0},
	{Lat: 0.005, Lng: 0},
	{Lat: 0.005, Lng: 0.005},
	{Lat: 0, Lng: 0},
}

func TestResolveAllSegmentsRouted(t *testing.T) {
	d := &fakeDirections{}
	res, err := NewResolver(d, logger.Nop()).Resolve(context.Background(), triangle)
	require.NoError(t, err)

	assert.Empty(t, res.Status)
	assert.Equal(t, 3, d.callCount())
	// 3 points per leg, joints shared: 3 + 2 + 2
	require.Len(t, res.Path, 7)
	assert.Equal(t, triangle[0], res.Path[0])
	assert.Equal(t, triangle[1], res.Path[2])
	assert.Equal(t, triangle[2], res.Path[4])
	assert.Equal(t, triangle[3], res.Path[6])
	assert.Len(t, res.Steps, 3)
}

func TestResolveMiddleSegmentFallsBack(t *testing.T) {
	d := &fakeDirections{fail: func(call int) bool { return call == 1 }}
	res, err := NewResolver(d, logger.Nop()).Resolve(context.Background(), triangle)
	require.NoError(t, err)

	assert.Equal(t, StatusPartialFallback, res.Status)
	assert.Len(t, res.Steps, 2)

	// leg 1 is path[0:3]; the interpolated segment starts at its last point
	interp := geo.Interpolate(triangle[1], triangle[2], FallbackSegmentPoints)
	require.Len(t, res.Path, 3+5+2)
	if diff := cmp.Diff(interp, res.Path[2:2+FallbackSegmentPoints]); diff != "" {
		t.Errorf("fallback segment mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, triangle[3], res.Path[len(res.Path)-1])
}

func TestResolveAbortsWhenTooManySegmentsFail(t *testing.T) {
	d := &fakeDirections{fail: func(call int) bool { return call >= 1 }}
	res, err := NewResolver(d, logger.Nop()).Resolve(context.Background(), triangle)

	assert.ErrorIs(t, err, ErrRouteAborted)
	assert.Empty(t, res.Path)
	assert.Equal(t, StatusTooManyFailures, res.Status)
	// gives up at the second failure without trying segment 3
	assert.Equal(t, 3, d.callCount())
}

func TestResolveLongUnroutableRing(t *testing.T) {
	ring := newTestGenerator(3).Generate(geo.Coordinate{Lat: 10, Lng: 10}, 20000, Balanced, 0)
	d := &fakeDirections{fail: func(int) bool { return true }}

	res, err := NewResolver(d, logger.Nop()).Resolve(context.Background(), ring)
	assert.ErrorIs(t, err, ErrRouteAborted)
	assert.Equal(t, StatusTooLong, res.Status)
	assert.Empty(t, res.Path)
}

func TestResolveCancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d := &fakeDirections{}
		res, err := NewResolver(d, logger.Nop()).Resolve(ctx, triangle)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, res.Path)
		assert.Empty(t, res.Status)
		assert.Zero(t, d.callCount())
	})

	t.Run("mid flight", func(t *testing.T) {
		d := &fakeDirections{blockFirst: true, started: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-d.started
			cancel()
		}()
		res, err := NewResolver(d, logger.Nop()).Resolve(ctx, triangle)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, res.Path)
		assert.Equal(t, 1, d.callCount())
	})
}

func TestResolveTooFewWaypoints(t *testing.T) {
	_, err := NewResolver(&fakeDirections{}, logger.Nop()).Resolve(context.Background(), triangle[:1])
	assert.ErrorIs(t, err, ErrTooFewWaypoints)
}

func TestInterpolated(t *testing.T) {
	path := Interpolated(triangle)
	assert.Len(t, path, 6+5+5)
	assert.Equal(t, triangle[0], path[0])
	assert.Equal(t, triangle[3], path[len(path)-1])
}
