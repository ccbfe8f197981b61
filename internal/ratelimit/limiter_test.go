package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(LimiterOption{Clock: clock.Now}), clock
}

func TestLimiterWindow(t *testing.T) {
	for name, testCase := range map[string]struct {
		class Class
		max   int
	}{
		"Signal":   {ClassSignal, 30},
		"Reaction": {ClassReaction, 5},
		"Chat":     {ClassChat, 2},
	} {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			limiter, clock := newTestLimiter()

			for i := 0; i < testCase.max; i++ {
				require.True(t, limiter.Allow("conn", testCase.class).Allowed, "event %d", i)
				clock.Advance(time.Millisecond)
			}

			decision := limiter.Allow("conn", testCase.class)
			assert.False(t, decision.Allowed)
			assert.Equal(t, time.Second-time.Duration(testCase.max)*time.Millisecond, decision.RetryAfter)

			clock.Advance(time.Second)
			assert.True(t, limiter.Allow("conn", testCase.class).Allowed)
		})
	}
}

func TestLimiterRejectionLeavesStateUnchanged(t *testing.T) {
	limiter, clock := newTestLimiter()

	require.True(t, limiter.Allow("conn", ClassChat).Allowed)
	require.True(t, limiter.Allow("conn", ClassChat).Allowed)
	for i := 0; i < 10; i++ {
		require.False(t, limiter.Allow("conn", ClassChat).Allowed)
	}

	clock.Advance(time.Second + time.Millisecond)
	assert.True(t, limiter.Allow("conn", ClassChat).Allowed)
	assert.True(t, limiter.Allow("conn", ClassChat).Allowed)
}

func TestLimiterIsolation(t *testing.T) {
	limiter, _ := newTestLimiter()

	require.True(t, limiter.Allow("a", ClassChat).Allowed)
	require.True(t, limiter.Allow("a", ClassChat).Allowed)
	require.False(t, limiter.Allow("a", ClassChat).Allowed)

	assert.True(t, limiter.Allow("b", ClassChat).Allowed, "connections do not share buckets")
	assert.True(t, limiter.Allow("a", ClassReaction).Allowed, "classes do not share buckets")
}

func TestLimiterUnknownClass(t *testing.T) {
	limiter, _ := newTestLimiter()
	for i := 0; i < 1000; i++ {
		require.True(t, limiter.Allow("conn", Class("hand")).Allowed)
	}
	assert.Empty(t, limiter.Buckets())
}

func TestLimiterRelease(t *testing.T) {
	limiter, _ := newTestLimiter()

	limiter.Allow("a", ClassSignal)
	limiter.Allow("a", ClassChat)
	limiter.Allow("b", ClassChat)
	require.Equal(t, map[string]int{"a": 2, "b": 1}, limiter.Buckets())

	limiter.Release("a")
	assert.Equal(t, map[string]int{"b": 1}, limiter.Buckets())

	limiter.Release("a")
	limiter.Release("b")
	assert.Empty(t, limiter.Buckets())
}
