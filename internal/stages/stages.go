// Package stages implements the five-stage crawl pipeline (S1 ListFetch..
// S5 Upsert) as a closed dispatch table over a shared per-item
// retry/concurrency executor, per §4.4/§9's guidance against virtual
// dispatch for a closed sum type: StageResult is one flat struct with a
// Kind discriminator, not an interface with five implementations.
package stages

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mattercertis/internal/retrypolicy"
	"mattercertis/models"
)

// Item is one unit of work handed to a stage: Key identifies it for
// event/error reporting (a physical page number or a product URL), In
// carries the stage-specific input payload.
type Item struct {
	Key string
	In  interface{}
}

// ItemResult is one item's successful output.
type ItemResult struct {
	Key string
	Out interface{}
}

// FailedItem is one item's terminal failure after retry exhaustion (or an
// immediately non-retryable classification).
type FailedItem struct {
	Key      string
	Err      error
	Class    retrypolicy.ErrorClass
	Attempts int
}

// ResultKind is the closed set of stage outcome variants.
type ResultKind string

const (
	KindSuccess          ResultKind = "success"
	KindPartialSuccess   ResultKind = "partial_success"
	KindRecoverableError ResultKind = "recoverable_error"
	KindFatalError       ResultKind = "fatal_error"
)

// StageResult is the flat, tagged-union outcome of one stage run over a
// batch of items.
type StageResult struct {
	Kind                  ResultKind
	StageID               models.StageID
	ProcessedItems        int
	DurationMs            int64
	CollectedData         []ItemResult
	SuccessItems          []ItemResult
	FailedItems           []FailedItem
	Err                   error
	Attempts              int
	SuggestedRetryDelayMs int64
	Context               string
}

// Config tunes the generic per-item executor.
type Config struct {
	Concurrency             int
	RetryTable              map[retrypolicy.ErrorClass]retrypolicy.Policy
	PartialSuccessThreshold float64
	Jitterer                *retrypolicy.Jitterer
}

// classify looks up class in c.RetryTable, falling back to ClassUnknown's
// policy for a class the table doesn't cover.
func (c Config) classify(class retrypolicy.ErrorClass) retrypolicy.Policy {
	if p, ok := c.RetryTable[class]; ok {
		return p
	}
	return c.RetryTable[retrypolicy.ClassUnknown]
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RetryTable == nil {
		c.RetryTable = retrypolicy.Table
	}
	if c.PartialSuccessThreshold <= 0 {
		c.PartialSuccessThreshold = 0.5
	}
	if c.Jitterer == nil {
		c.Jitterer = retrypolicy.NewJitterer(time.Now().UnixNano())
	}
	return c
}

// Work performs one item's attempt, returning its output, error
// classification, and error (nil error means success; class is ignored
// when err is nil).
type Work func(ctx context.Context, item Item) (out interface{}, class retrypolicy.ErrorClass, err error)

// abortClasses escalate the whole stage to FatalError rather than being
// absorbed into the success-ratio calculation: these are the classes §7
// says abort the session rather than recover at the stage level.
var abortClasses = map[retrypolicy.ErrorClass]bool{
	retrypolicy.ClassAuthentication: true,
}

// run drives items through work under cfg's concurrency cap, retrying each
// per its error classification's Policy, then folds the per-item outcomes
// into one StageResult.
func run(ctx context.Context, stageID models.StageID, items []Item, cfg Config, work Work) StageResult {
	cfg = cfg.withDefaults()
	start := time.Now()

	if len(items) == 0 {
		return StageResult{Kind: KindSuccess, StageID: stageID, DurationMs: time.Since(start).Milliseconds()}
	}

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes []ItemResult
	var failed []FailedItem
	var abortErr error

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item Item) {
			defer wg.Done()
			defer func() { <-sem }()

			out, class, attempts, err := attemptWithRetry(ctx, item, cfg, work)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, FailedItem{Key: item.Key, Err: err, Class: class, Attempts: attempts})
				if abortClasses[class] && abortErr == nil {
					abortErr = fmt.Errorf("item %s: %w", item.Key, err)
				}
				return
			}
			successes = append(successes, ItemResult{Key: item.Key, Out: out})
		}(item)
	}
	wg.Wait()

	durationMs := time.Since(start).Milliseconds()
	if abortErr != nil {
		return StageResult{Kind: KindFatalError, StageID: stageID, Err: abortErr, DurationMs: durationMs, FailedItems: failed, Context: "non-retryable classification escalated"}
	}

	if len(failed) == 0 {
		return StageResult{Kind: KindSuccess, StageID: stageID, ProcessedItems: len(successes), DurationMs: durationMs, CollectedData: successes}
	}

	ratio := float64(len(successes)) / float64(len(items))
	if ratio >= cfg.PartialSuccessThreshold {
		return StageResult{Kind: KindPartialSuccess, StageID: stageID, SuccessItems: successes, FailedItems: failed, ProcessedItems: len(successes), DurationMs: durationMs, CollectedData: successes}
	}

	return StageResult{
		Kind:                  KindRecoverableError,
		StageID:               stageID,
		FailedItems:           failed,
		DurationMs:            durationMs,
		Err:                   fmt.Errorf("stage %s: success ratio %.2f below partial_success_threshold %.2f", stageID, ratio, cfg.PartialSuccessThreshold),
		SuggestedRetryDelayMs: cfg.classify(failed[0].Class).InitialDelay.Milliseconds(),
	}
}

// attemptWithRetry retries work per its own classification's Policy until
// success, non-retryable classification, or MaxAttempts exhaustion.
func attemptWithRetry(ctx context.Context, item Item, cfg Config, work Work) (out interface{}, class retrypolicy.ErrorClass, attempts int, err error) {
	for {
		attempts++
		out, class, err = work(ctx, item)
		if err == nil {
			return out, class, attempts, nil
		}

		policy := cfg.classify(class)
		if !policy.Retryable || attempts >= policy.MaxAttempts {
			return nil, class, attempts, err
		}

		delay := policy.Delay(attempts-1) + cfg.Jitterer.Jitter(policy.Delay(attempts-1)/4)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, class, attempts, ctx.Err()
		case <-timer.C:
		}
	}
}
