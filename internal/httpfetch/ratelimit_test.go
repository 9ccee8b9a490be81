package httpfetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveRateLimiter_DisabledIsImmediate(t *testing.T) {
	l := NewAdaptiveRateLimiter(RateLimitConfig{})
	permit, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	permit.Release()
}

func TestAdaptiveRateLimiter_TripsCircuitAfterSustainedFailures(t *testing.T) {
	l := NewAdaptiveRateLimiter(RateLimitConfig{Enabled: true})
	for i := 0; i < 5; i++ {
		l.Feedback("bad.example", Feedback{StatusCode: 503})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, "bad.example")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestAdaptiveRateLimiter_RecoversViaHalfOpen(t *testing.T) {
	l := NewAdaptiveRateLimiter(RateLimitConfig{Enabled: true})
	state := l.stateFor("flaky.example")
	state.breaker = breakerState{state: circuitOpen, nextAttempt: time.Now().Add(-time.Millisecond)}

	permit, err := l.Acquire(context.Background(), "flaky.example")
	require.NoError(t, err)
	permit.Release()

	state.mu.Lock()
	got := state.breaker.state
	state.mu.Unlock()
	assert.Equal(t, circuitHalfOpen, got)
}

func TestAdaptiveRateLimiter_GoodFeedbackRaisesFillRate(t *testing.T) {
	l := NewAdaptiveRateLimiter(RateLimitConfig{Enabled: true})
	state := l.stateFor("ok.example")
	before := state.fillRate
	l.Feedback("ok.example", Feedback{StatusCode: 200})
	state.mu.Lock()
	after := state.fillRate
	state.mu.Unlock()
	assert.Greater(t, after, before)
}
