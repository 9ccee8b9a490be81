package httpfetch

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by RateLimiter.Acquire while a domain's
// circuit breaker is open.
var ErrCircuitOpen = errors.New("httpfetch: rate limit circuit open")

// RateLimitConfig tunes the adaptive per-domain limiter.
type RateLimitConfig struct {
	Enabled        bool
	Shards         int
	DomainStateTTL time.Duration
}

// Feedback reports the outcome of one completed request, used to adapt a
// domain's fill rate and circuit breaker state.
type Feedback struct {
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Permit is released once the caller has completed (or abandoned) the
// request it was acquired for.
type Permit interface{ Release() }

// RateLimiter paces outbound requests per domain and trips a circuit
// breaker under sustained failure, generalizing the retry policy's
// classifier-level breaker to the domain level.
type RateLimiter interface {
	Acquire(ctx context.Context, domain string) (Permit, error)
	Feedback(domain string, fb Feedback)
}

// AdaptiveRateLimiter is a sharded, fnv-hashed, token-bucket-per-domain
// limiter with a three-state circuit breaker per domain.
type AdaptiveRateLimiter struct {
	cfg    RateLimitConfig
	shards []*domainShard
	mask   uint64
}

type domainShard struct {
	mu      sync.RWMutex
	domains map[string]*domainState
}

// NewAdaptiveRateLimiter constructs a limiter; a Shards value that is not a
// positive power of two is replaced by 16, and DomainStateTTL defaults to 2
// minutes.
func NewAdaptiveRateLimiter(cfg RateLimitConfig) *AdaptiveRateLimiter {
	if cfg.Shards <= 0 || (cfg.Shards&(cfg.Shards-1)) != 0 {
		cfg.Shards = 16
	}
	if cfg.DomainStateTTL <= 0 {
		cfg.DomainStateTTL = 2 * time.Minute
	}
	shards := make([]*domainShard, cfg.Shards)
	for i := range shards {
		shards[i] = &domainShard{domains: make(map[string]*domainState)}
	}
	return &AdaptiveRateLimiter{cfg: cfg, shards: shards, mask: uint64(cfg.Shards - 1)}
}

func (l *AdaptiveRateLimiter) shardIndex(domain string) uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(domain))
	return uint64(h.Sum32()) & l.mask
}

func (l *AdaptiveRateLimiter) stateFor(domain string) *domainState {
	shard := l.shards[l.shardIndex(domain)]
	shard.mu.RLock()
	state := shard.domains[domain]
	shard.mu.RUnlock()
	if state != nil {
		return state
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if state = shard.domains[domain]; state == nil {
		state = newDomainState(time.Now())
		shard.domains[domain] = state
	}
	return state
}

// Acquire blocks until domain has token capacity or ctx is cancelled. While
// the domain's circuit is open it returns ErrCircuitOpen without waiting;
// once the open period has elapsed the circuit moves to half-open and the
// request is let through as a probe.
func (l *AdaptiveRateLimiter) Acquire(ctx context.Context, domain string) (Permit, error) {
	if !l.cfg.Enabled {
		return immediatePermit{}, nil
	}
	if domain == "" {
		return nil, errors.New("httpfetch: empty domain")
	}
	state := l.stateFor(domain)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		wait, err := state.planRequest(time.Now())
		if err != nil {
			return nil, err
		}
		if wait <= 0 {
			return immediatePermit{}, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Feedback adapts domain's fill rate and breaker state from a completed
// request's outcome.
func (l *AdaptiveRateLimiter) Feedback(domain string, fb Feedback) {
	if !l.cfg.Enabled || domain == "" {
		return
	}
	l.stateFor(domain).applyFeedback(fb, time.Now())
}

type immediatePermit struct{}

func (immediatePermit) Release() {}

const (
	circuitClosed = iota
	circuitOpen
	circuitHalfOpen
)

type breakerState struct {
	state       int
	nextAttempt time.Time
	failures    int
	successes   int
}

type domainState struct {
	mu           sync.Mutex
	lastActivity time.Time
	fillRate     float64
	breaker      breakerState
	tokens       float64
	lastRefill   time.Time
}

func newDomainState(now time.Time) *domainState {
	return &domainState{lastActivity: now, fillRate: 1, tokens: 1, lastRefill: now}
}

func (d *domainState) planRequest(now time.Time) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity = now

	if d.breaker.state == circuitOpen {
		if now.After(d.breaker.nextAttempt) {
			d.breaker.state = circuitHalfOpen
		} else {
			return 0, ErrCircuitOpen
		}
	}

	elapsed := now.Sub(d.lastRefill).Seconds()
	if elapsed > 0 {
		d.tokens += elapsed * d.fillRate
		if d.tokens > 10 {
			d.tokens = 10
		}
		d.lastRefill = now
	}
	if d.tokens >= 1 {
		d.tokens--
		return 0, nil
	}
	waitSeconds := (1 - d.tokens) / math.Max(d.fillRate, 0.1)
	return time.Duration(waitSeconds * float64(time.Second)), nil
}

func (d *domainState) applyFeedback(fb Feedback, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity = now

	if fb.Err != nil || fb.StatusCode >= 500 || fb.StatusCode == 429 {
		d.fillRate *= 0.8
		if d.fillRate < 0.1 {
			d.fillRate = 0.1
		}
		d.breaker.failures++
	} else {
		d.fillRate *= 1.05
		if d.fillRate > 5 {
			d.fillRate = 5
		}
		if d.breaker.state == circuitHalfOpen {
			d.breaker.successes++
		}
	}

	switch d.breaker.state {
	case circuitHalfOpen:
		if d.breaker.successes >= 3 {
			d.breaker = breakerState{state: circuitClosed}
		} else if d.breaker.failures > 0 {
			d.breaker = breakerState{state: circuitOpen, nextAttempt: now.Add(time.Second)}
		}
	case circuitClosed:
		if d.breaker.failures >= 5 {
			d.breaker = breakerState{state: circuitOpen, nextAttempt: now.Add(5 * time.Second)}
		}
	}
}
