package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_CachesWithinTTL(t *testing.T) {
	var calls int
	p := ProbeFunc(func(ctx context.Context) ProbeResult {
		calls++
		return Healthy("unit")
	})
	ev := NewEvaluator(200*time.Millisecond, p)

	s1 := ev.Evaluate(context.Background())
	s2 := ev.Evaluate(context.Background())
	require.Equal(t, 1, calls, "second call within ttl should hit the cache")
	assert.Equal(t, StatusHealthy, s1.Overall)
	assert.Equal(t, StatusHealthy, s2.Overall)

	time.Sleep(220 * time.Millisecond)
	_ = ev.Evaluate(context.Background())
	assert.Equal(t, 2, calls, "call past ttl should re-run probes")
}

func TestEvaluator_RollsUpToDegraded(t *testing.T) {
	healthy := ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") })
	degraded := ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("b", "lag") })
	ev := NewEvaluator(0, healthy, degraded)

	s := ev.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, s.Overall)
}

func TestEvaluator_RollsUpToUnhealthy(t *testing.T) {
	healthy := ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") })
	unhealthy := ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("b", "down") })
	ev := NewEvaluator(0, healthy, unhealthy)

	s := ev.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, s.Overall)
}

func TestEvaluator_NoProbesIsUnknown(t *testing.T) {
	ev := NewEvaluator(0)
	s := ev.Evaluate(context.Background())
	assert.Equal(t, StatusUnknown, s.Overall)
}
