// Package events implements the typed, sequenced, lossy progress and
// lifecycle event stream the actor hierarchy and validation pass publish
// to for UI/telemetry consumption.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mattercertis/internal/telemetry/metrics"
	"mattercertis/internal/telemetry/tracing"
)

// Category groups events by the subsystem that produced them.
type Category string

const (
	CategorySession    Category = "session"
	CategoryBatch      Category = "batch"
	CategoryStage      Category = "stage"
	CategoryProgress   Category = "progress"
	CategoryProduct    Category = "product_lifecycle"
	CategoryValidation Category = "validation"
	CategorySync       Category = "sync"
)

// Variant is the discriminator within a Category (spec §4.6's AppEvent
// variants, flattened into Category + Variant).
type Variant string

const (
	VariantSessionStarted   Variant = "session_started"
	VariantSessionPaused    Variant = "session_paused"
	VariantSessionResumed   Variant = "session_resumed"
	VariantSessionCompleted Variant = "session_completed"
	VariantSessionFailed    Variant = "session_failed"
	VariantSessionStopped   Variant = "session_stopped"

	VariantBatchStarted   Variant = "batch_started"
	VariantBatchCompleted Variant = "batch_completed"

	VariantStageStarted   Variant = "stage_started"
	VariantStageCompleted Variant = "stage_completed"

	VariantProgress Variant = "progress"

	VariantProductLifecycle Variant = "product_lifecycle"

	VariantValidationStarted     Variant = "validation_started"
	VariantValidationPageScanned Variant = "validation_page_scanned"
	VariantValidationDivergence  Variant = "validation_divergence"
	VariantValidationAnomaly     Variant = "validation_anomaly"
	VariantValidationCompleted   Variant = "validation_completed"

	VariantSyncStarted        Variant = "sync_started"
	VariantSyncPageStarted    Variant = "sync_page_started"
	VariantSyncUpsertProgress Variant = "sync_upsert_progress"
	VariantSyncPageCompleted  Variant = "sync_page_completed"
	VariantSyncWarning        Variant = "sync_warning"
	VariantSyncRetrying       Variant = "sync_retrying"
	VariantSyncCompleted      Variant = "sync_completed"
)

// Event is a flat, JSON-serializable tagged-union value.
type Event struct {
	Seq       uint64                 `json:"seq"`
	BackendTS time.Time              `json:"backend_ts"`
	SessionID string                 `json:"session_id,omitempty"`
	Category  Category               `json:"category"`
	Variant   Variant                `json:"variant"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Subscription is a lossy, bounded view into the Bus.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// Stats reports bus-wide and per-subscriber drop counters.
type Stats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus publishes Events to every live Subscription without blocking the
// producer longer than an immediate channel send.
type Bus interface {
	Publish(ev Event) error
	PublishCtx(ctx context.Context, ev Event) error
	Subscribe(buffer int) (Subscription, error)
	Unsubscribe(sub Subscription) error
	Stats() Stats
}

// NewBus constructs a Bus. provider may be nil to skip Prometheus
// instrumentation.
func NewBus(provider metrics.Provider) Bus {
	b := &eventBus{subs: make(map[int64]*subscriber), provider: provider}
	b.initMetrics()
	return b
}

// seq is the process-wide event sequence counter shared by every Bus. It
// starts at zero per process and is not persisted.
var seq atomic.Uint64

type eventBus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	provider   metrics.Provider
	mPublished metrics.Counter
	mDropped   metrics.Counter
}

func (b *eventBus) initMetrics() {
	if b.provider == nil {
		return
	}
	b.mPublished = b.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "mattercertis", Subsystem: "events", Name: "published_total", Help: "Total events published",
	}})
	b.mDropped = b.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "mattercertis", Subsystem: "events", Name: "dropped_total", Help: "Total events dropped due to backpressure", Labels: []string{"subscriber"},
	}})
}

func (b *eventBus) Publish(ev Event) error {
	if ev.Category == "" {
		return errors.New("event missing category")
	}
	if ev.BackendTS.IsZero() {
		ev.BackendTS = time.Now()
	}
	ev.Seq = seq.Add(1)

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if b.mPublished != nil {
		b.mPublished.Inc(1)
	}
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			if b.mDropped != nil {
				b.mDropped.Inc(1, s.idLabel)
			}
		}
	}
	return nil
}

func (b *eventBus) PublishCtx(ctx context.Context, ev Event) error {
	if ev.TraceID == "" && ev.SpanID == "" {
		if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" || spanID != "" {
			ev.TraceID, ev.SpanID = traceID, spanID
		}
	}
	return b.Publish(ev)
}

func (b *eventBus) Subscribe(buffer int) (Subscription, error) {
	if buffer <= 0 {
		buffer = 64
	}
	id := atomic.AddInt64(&b.nextID, 1)
	sub := &subscriber{id: id, ch: make(chan Event, buffer), bus: b, idLabel: formatID(id)}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub, nil
}

func (b *eventBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	id := sub.ID()
	b.mu.Lock()
	s := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if s != nil {
		close(s.ch)
	}
	return nil
}

func (b *eventBus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{Subscribers: int64(len(b.subs)), Published: b.published.Load(), Dropped: b.dropped.Load(), PerSubscriberDrops: make(map[int64]uint64)}
	for id, s := range b.subs {
		st.PerSubscriberDrops[id] = s.dropped.Load()
	}
	return st
}

type subscriber struct {
	id      int64
	ch      chan Event
	bus     *eventBus
	dropped atomic.Uint64
	idLabel string
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }
func (s *subscriber) Close() error    { return s.bus.Unsubscribe(s) }

func formatID(id int64) string {
	if id == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for id > 0 {
		i--
		digits[i] = byte('0' + (id % 10))
		id /= 10
	}
	return string(digits[i:])
}
