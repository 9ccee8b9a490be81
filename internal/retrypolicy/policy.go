// Package retrypolicy classifies stage failures into a fixed set of error
// classes and decides the retry/skip/abort disposition and backoff delay
// for each.
package retrypolicy

import (
	"math/rand"
	"sync"
	"time"
)

// ErrorClass is the closed taxonomy of classified failures.
type ErrorClass string

const (
	ClassNetwork        ErrorClass = "network"
	ClassTimeout        ErrorClass = "timeout"
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassParsing        ErrorClass = "parsing"
	ClassDatabase       ErrorClass = "database"
	ClassAuthentication ErrorClass = "authentication"
	ClassUnknown        ErrorClass = "unknown"
)

// Policy is the fixed retry strategy for one error class.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Retryable    bool
}

// Table is the spec's fixed class→policy mapping.
var Table = map[ErrorClass]Policy{
	ClassNetwork:        {MaxAttempts: 3, InitialDelay: 1000 * time.Millisecond, MaxDelay: 5000 * time.Millisecond, Multiplier: 2, Retryable: true},
	ClassTimeout:        {MaxAttempts: 3, InitialDelay: 1500 * time.Millisecond, MaxDelay: 6000 * time.Millisecond, Multiplier: 2.5, Retryable: true},
	ClassRateLimit:      {MaxAttempts: 5, InitialDelay: 2000 * time.Millisecond, MaxDelay: 10000 * time.Millisecond, Multiplier: 3, Retryable: true},
	ClassParsing:        {MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 2000 * time.Millisecond, Multiplier: 1.5, Retryable: true},
	ClassDatabase:       {MaxAttempts: 1, InitialDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 1, Retryable: false},
	ClassAuthentication: {MaxAttempts: 1, Retryable: false},
	ClassUnknown:        {MaxAttempts: 1, Retryable: false},
}

// Delay returns the backoff delay for the given 0-indexed attempt:
// min(initial * multiplier^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Jitterer draws a uniform random delay in [0, max), guarded by a mutex so
// one *rand.Rand can be shared across concurrently retrying stages.
type Jitterer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitterer seeds a jitterer from the given source time.
func NewJitterer(seed int64) *Jitterer {
	return &Jitterer{rnd: rand.New(rand.NewSource(seed))}
}

// Jitter returns a uniformly random duration in [0, max). max <= 0 returns 0.
func (j *Jitterer) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Float64() * float64(max))
}

// Classify maps an already-determined class to its Policy, defaulting to
// Unknown for an unrecognized class.
func Classify(class ErrorClass) Policy {
	if p, ok := Table[class]; ok {
		return p
	}
	return Table[ClassUnknown]
}
