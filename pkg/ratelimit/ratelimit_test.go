package ratelimit

import (
	"testing"
	"time"

	"run-route/pkg/clock"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC))
	l := New(clk, time.Second, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("runner-1"), "burst %d", i)
	}
	assert.False(t, l.Allow("runner-1"))
	assert.True(t, l.Allow("runner-2"), "keys are independent")

	clk.Advance(1500 * time.Millisecond)
	assert.True(t, l.Allow("runner-1"))
	assert.False(t, l.Allow("runner-1"))

	// The half second left over from the last refill still counts.
	clk.Advance(500 * time.Millisecond)
	assert.True(t, l.Allow("runner-1"))

	clk.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("runner-1"))
	}
	assert.False(t, l.Allow("runner-1"), "refill is capped at capacity")
}

func TestLimiterReset(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC))
	l := New(clk, time.Minute, 1)

	assert.True(t, l.Allow("runner-1"))
	assert.False(t, l.Allow("runner-1"))
	l.Reset("runner-1")
	assert.True(t, l.Allow("runner-1"))
}

func TestLimiterSweepsIdleKeys(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC))
	l := New(clk, time.Second, 2)

	l.Allow("runner-1")
	l.Allow("runner-2")
	assert.Equal(t, 2, l.Len())

	clk.Advance(staleAfter)
	l.Allow("runner-3")
	assert.Equal(t, 1, l.Len())
}
