// Package ratelimit throttles per-key event streams with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"run-route/pkg/clock"
)

// Idle buckets are dropped after staleAfter; the sweep runs at most once
// per sweepEvery, piggybacking on Allow.
const (
	staleAfter = 10 * time.Minute
	sweepEvery = 5 * time.Minute
)

// Limiter keeps one bucket per key. Each bucket holds up to capacity tokens
// and regains one every interval.
type Limiter struct {
	clock    clock.Clock
	interval time.Duration
	capacity int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

func New(clk clock.Clock, interval time.Duration, capacity int) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		clock:     clk,
		interval:  interval,
		capacity:  capacity,
		buckets:   make(map[string]*bucket),
		lastSweep: clk.Now(),
	}
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastFill: now}
		l.buckets[key] = b
	}

	if l.interval > 0 {
		if refill := int(now.Sub(b.lastFill) / l.interval); refill > 0 {
			b.tokens = min(b.tokens+refill, l.capacity)
			b.lastFill = b.lastFill.Add(time.Duration(refill) * l.interval)
		}
	} else {
		b.tokens = l.capacity
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// Reset refills key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) >= staleAfter {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
