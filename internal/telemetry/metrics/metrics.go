// Package metrics defines the minimal dual-backend metrics provider
// contract shared by the event bus, health evaluator, and stage
// instrumentation, with Prometheus and OpenTelemetry implementations
// selected by configuration.
package metrics

import "context"

// Provider is the minimal metrics contract internal subsystems depend on.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	Health(ctx context.Context) error
}

type Counter interface{ Inc(delta float64, labels ...string) }
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}
type Histogram interface{ Observe(v float64, labels ...string) }
type Timer interface{ ObserveDuration(labels ...string) }

// CommonOpts names and labels a metric regardless of backend.
type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// Backend selects which concrete Provider the root facade constructs from
// its Options.MetricsBackend.
type Backend string

const (
	BackendNone       Backend = "none"
	BackendPrometheus Backend = "prometheus"
	BackendOTel       Backend = "otel"
)

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}
type noopTimer struct{}

// NewNoopProvider returns a Provider that discards every observation, used
// when telemetry is disabled or misconfigured.
func NewNoopProvider() Provider { return &noopProvider{} }

func (p *noopProvider) NewCounter(CounterOpts) Counter             { return noopCounter{} }
func (p *noopProvider) NewGauge(GaugeOpts) Gauge                   { return noopGauge{} }
func (p *noopProvider) NewHistogram(HistogramOpts) Histogram       { return noopHistogram{} }
func (p *noopProvider) NewTimer(HistogramOpts) func() Timer        { return func() Timer { return noopTimer{} } }
func (p *noopProvider) Health(context.Context) error               { return nil }
func (noopCounter) Inc(float64, ...string)                         {}
func (noopGauge) Set(float64, ...string)                           {}
func (noopGauge) Add(float64, ...string)                           {}
func (noopHistogram) Observe(float64, ...string)                   {}
func (noopTimer) ObserveDuration(...string)                        {}
