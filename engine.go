// Package mattercertis composes the coordination core into a single
// facade: load configuration, wire storage/transport/telemetry, and expose
// crawl/validate/status operations over the session registry. Grounded on
// engine.New's constructor-and-facade pattern (one struct holding every
// subsystem, built once from a Config and torn down with Close/Stop).
package mattercertis

import (
	"context"
	"fmt"
	"time"

	"mattercertis/config"
	"mattercertis/internal/actor"
	"mattercertis/internal/cache"
	"mattercertis/internal/events"
	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/internal/integration"
	"mattercertis/internal/planner"
	"mattercertis/internal/repository"
	"mattercertis/internal/retrypolicy"
	"mattercertis/internal/session"
	"mattercertis/internal/stages"
	"mattercertis/internal/storage/sqlite"
	"mattercertis/internal/telemetry/health"
	"mattercertis/internal/telemetry/metrics"
	"mattercertis/internal/telemetry/tracing"
	"mattercertis/internal/validation"
	"mattercertis/models"
)

// Options configures Engine construction. Zero-value fields fall back to
// sensible defaults (the SQLite file "mattercertis.db", a no-op metrics
// provider).
type Options struct {
	ConfigPath string
	DSN        string // sqlite DSN; defaults to "mattercertis.db"
	BaseURL    string // site catalogue root; required

	MetricsBackend metrics.Backend // defaults to BackendNone
	ServiceName    string          // defaults to "mattercertis"
	Environment    string          // defaults to "production"
}

// Engine is the assembled crawl/validate/status surface for one site.
type Engine struct {
	cfg     config.AppConfig
	watcher *config.Watcher

	repo    repository.Repository
	fetcher httpfetch.Fetcher
	cache   *cache.Cache
	bus     events.Bus
	health  *health.Evaluator
	tracer  *tracing.Tracer

	sessions *session.Manager

	extractor *extractor.Extractor
}

// New loads configuration, opens storage, and wires every subsystem
// together. Callers should defer Close.
func New(opts Options) (*Engine, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("mattercertis: BaseURL is required")
	}

	cfg := config.Defaults()
	var watcher *config.Watcher
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("mattercertis: load config: %w", err)
		}
		cfg = loaded
		watcher, err = config.NewWatcher(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("mattercertis: watch config: %w", err)
		}
	}

	dsn := opts.DSN
	if dsn == "" {
		dsn = "mattercertis.db"
	}
	repo, err := sqlite.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("mattercertis: open storage: %w", err)
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "mattercertis"
	}
	environment := opts.Environment
	if environment == "" {
		environment = "production"
	}
	tracer, _ := tracing.New(serviceName, environment)

	provider := resolveMetricsProvider(opts.MetricsBackend)
	bus := events.NewBus(provider)

	limiter := httpfetch.NewAdaptiveRateLimiter(httpfetch.RateLimitConfig{Enabled: true})
	fetcher, err := httpfetch.NewCollyFetcher(httpfetch.FetchPolicy{
		BaseURL:         opts.BaseURL,
		UserAgent:       "mattercertis/1.0",
		RequestDelay:    cfg.RequestDelay(),
		Timeout:         30 * time.Second,
		MaxRetries:      cfg.Advanced.RetryAttempts,
		RespectRobots:   true,
		FollowRedirects: true,
	}, limiter)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("mattercertis: create fetcher: %w", err)
	}

	ex := extractor.New(cfg.Advanced.ProductSelectors)

	c := cache.New(cache.Config{}, nil)

	ev := health.NewEvaluator(30*time.Second,
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if _, err := repo.Analyze(ctx); err != nil {
				return health.Unhealthy("repository", err.Error())
			}
			return health.Healthy("repository")
		}),
	)

	e := &Engine{
		cfg:       cfg,
		watcher:   watcher,
		repo:      repo,
		fetcher:   fetcher,
		cache:     c,
		bus:       bus,
		health:    ev,
		tracer:    tracer,
		extractor: ex,
		sessions:  session.New(repo),
	}

	if watcher != nil {
		if err := watcher.Start(context.Background(), e.onConfigChanged); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("mattercertis: start config watch: %w", err)
		}
	}

	return e, nil
}

func resolveMetricsProvider(backend metrics.Backend) metrics.Provider {
	switch backend {
	case metrics.BackendPrometheus:
		return metrics.NewPrometheusProvider(metrics.PrometheusOptions{})
	case metrics.BackendOTel:
		return metrics.NewOTelProvider(metrics.OTelOptions{})
	default:
		return metrics.NewNoopProvider()
	}
}

// onConfigChanged implements §4.2's invalidation rule: any config write
// drops the cached CalculatedRange so the next plan recomputes it under
// the new tunables, and rebuilds the extractor from the new selectors. The
// fetcher keeps the policy it was constructed with.
func (e *Engine) onConfigChanged(cfg config.AppConfig) {
	e.cfg = cfg
	e.cache.InvalidateCalculatedRange()
	e.extractor = extractor.New(cfg.Advanced.ProductSelectors)
}

func (e *Engine) stageConfig() stages.Config {
	return stages.Config{
		Concurrency:             e.cfg.User.MaxConcurrentRequests,
		RetryTable:              retrypolicy.Table,
		PartialSuccessThreshold: 0.5,
		Jitterer:                retrypolicy.NewJitterer(time.Now().UnixNano()),
	}
}

func (e *Engine) actorDeps() actor.Deps {
	adapter := integration.New(
		stages.Deps{Fetcher: e.fetcher, Extractor: e.extractor, Repository: e.repo},
		e.stageConfig(),
	)
	return actor.Deps{
		Fetcher:    e.fetcher,
		Extractor:  e.extractor,
		Repository: e.repo,
		Bus:        e.bus,
		Adapter:    adapter,
	}
}

func (e *Engine) actorConfig() actor.Config {
	return actor.Config{
		Planner: planner.Config{
			BatchSize:      e.cfg.User.Batch.BatchSize,
			Concurrency:    e.cfg.User.MaxConcurrentRequests,
			CrawlPageLimit: e.cfg.User.Crawling.PageRangeLimit,
			RetryMax:       e.cfg.Advanced.RetryAttempts,
		},
		StageTimeout:      30,
		ListConcurrency:   e.cfg.User.Crawling.Workers.ListPageMaxConcurrent,
		DetailConcurrency: e.cfg.User.Crawling.Workers.ProductDetailMaxConcurrent,
		StaleWindow:       5 * time.Minute,
	}
}

// StartCrawl launches a new session and returns its id immediately.
func (e *Engine) StartCrawl() (string, error) {
	return e.sessions.Start(e.actorDeps(), e.actorConfig())
}

// Pause, Resume, and Cancel forward control-channel commands to the named
// session.
func (e *Engine) Pause(ctx context.Context, sessionID string) error  { return e.sessions.Pause(ctx, sessionID) }
func (e *Engine) Resume(ctx context.Context, sessionID string) error { return e.sessions.Resume(ctx, sessionID) }
func (e *Engine) Cancel(ctx context.Context, sessionID string) error { return e.sessions.Cancel(ctx, sessionID) }

// SessionStatus returns the live snapshot for an active session, falling
// back to the persisted terminal result once the session has completed and
// been evicted from the registry.
func (e *Engine) SessionStatus(ctx context.Context, sessionID string) (*models.Session, error) {
	if snap, err := e.sessions.Get(sessionID); err == nil {
		return snap, nil
	}
	result, err := e.repo.CrawlingResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		SessionID:      result.SessionID,
		Status:         result.Status,
		Stage:          result.Stage,
		Counters:       result.Counters,
		StartedAt:      result.StartedAt,
		LastUpdatedAt:  result.CompletedAt,
		ConfigSnapshot: result.ConfigSnapshot,
		ErrorDetails:   result.ErrorDetails,
	}, nil
}

// ActiveSessions lists every session currently running.
func (e *Engine) ActiveSessions() []*models.Session { return e.sessions.List() }

// Validate runs the oldest-forward reconciliation pass synchronously and
// returns its report.
func (e *Engine) Validate(ctx context.Context, sessionID string) (*validation.Report, error) {
	return validation.Run(ctx, validation.Deps{
		Fetcher:    e.fetcher,
		Extractor:  e.extractor,
		Repository: e.repo,
		Bus:        e.bus,
	}, validation.Config{
		ValidationPageLimit: e.cfg.User.Crawling.ValidationPageLimit,
	}, sessionID)
}

// HealthSnapshot returns the cached rollup health status.
func (e *Engine) HealthSnapshot(ctx context.Context) health.Snapshot {
	return e.health.Evaluate(ctx)
}

// Close releases storage and watcher resources. Safe to call once.
func (e *Engine) Close() error {
	if e.watcher != nil {
		_ = e.watcher.Stop()
	}
	return e.repo.Close()
}
