package retrypolicy

import (
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// Breaker escalates repeated RateLimit classifications into a cooldown
// window during which callers should not even attempt the stage, rather
// than retrying it to exhaustion. It uses the same closed/open/half-open
// states as the httpfetch rate limiter's per-domain breaker, with its own
// thresholds: it opens for 10s after Table[ClassRateLimit].MaxAttempts
// failures without an intervening success, and a failed half-open probe
// reopens it for 5s. A single successful call closes it.
type Breaker struct {
	mu          sync.Mutex
	state       circuitState
	failures    int
	nextAttempt time.Time
}

// NewBreaker returns a Breaker starting in the closed (allow) state.
func NewBreaker() *Breaker {
	return &Breaker{state: circuitClosed}
}

// Allow reports whether a call should proceed. A half-open breaker allows
// exactly one probing call through.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == circuitHalfOpen {
		return false
	}
	if b.state == circuitOpen {
		if now.Before(b.nextAttempt) {
			return false
		}
		b.state = circuitHalfOpen
	}
	return true
}

// Record reports the outcome of a call admitted by Allow.
func (b *Breaker) Record(now time.Time, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.state = circuitClosed
		b.failures = 0
		b.nextAttempt = time.Time{}
		return
	}
	b.failures++
	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		b.nextAttempt = now.Add(5 * time.Second)
		return
	}
	if b.state == circuitClosed && b.failures >= Table[ClassRateLimit].MaxAttempts {
		b.state = circuitOpen
		b.nextAttempt = now.Add(10 * time.Second)
	}
}
