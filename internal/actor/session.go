// Package actor implements spec §4.6's Session→Batch→Stage→Task
// supervision tree. A Session is one goroutine (grounded on
// engine/internal/pipeline/pipeline.go's tiered-WaitGroup worker pool and
// its ctx/cancel cooperative-cancellation idiom) that runs batches
// sequentially — preserving oldest-first progress — while each Stage call
// it issues through the Integration Adapter fans out across a batch's
// pages or a page's products internally via internal/stages' own
// semaphore-bounded executor. That collapses the spec's Batch/Stage/Task
// tiers into one governing goroutine plus the executor's own worker pool,
// rather than spawning a literal goroutine per tier: the concurrency
// guarantees (parallel within a batch, sequential across batches) fall out
// the same way either design gets there.
package actor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mattercertis/internal/coordinate"
	"mattercertis/internal/events"
	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/internal/integration"
	"mattercertis/internal/planner"
	"mattercertis/internal/repository"
	"mattercertis/internal/stages"
	"mattercertis/models"
)

// CommandKind is the closed set of control-channel commands a Session
// accepts (spec §4.6's Control channel command set, scoped to Session).
type CommandKind string

const (
	CommandPause  CommandKind = "pause"
	CommandResume CommandKind = "resume"
	CommandCancel CommandKind = "cancel"
)

// Command is one control-channel message.
type Command struct {
	Kind CommandKind
}

// Deps collects the collaborators a Session needs to probe the site, plan
// work, and run it through the five stages.
type Deps struct {
	Fetcher    httpfetch.Fetcher
	Extractor  *extractor.Extractor
	Repository repository.Repository
	Bus        events.Bus
	Adapter    *integration.Adapter
}

// Config tunes one Session run.
type Config struct {
	Planner        planner.Config
	StageTimeout   int // seconds, per ExecuteStage command
	ListConcurrency   int
	DetailConcurrency int
	// StaleWindow is spec §4.6's pause-duration threshold past which a
	// resumed session restarts its current batch from scratch rather than
	// trusting in-flight checkpoints.
	StaleWindow time.Duration
}

// Session is one live, cancellable crawl run.
type Session struct {
	id      string
	deps    Deps
	cfg     Config
	control chan Command

	mu           sync.Mutex
	state        *models.Session
	pausedAt     time.Time
	resumeGate   chan struct{} // non-nil while paused; closed on resume
	staleRestart bool          // set by endPause when the pause exceeded cfg.StaleWindow

	cancel context.CancelFunc
}

// New constructs a Session in SessionInitializing state. The control
// channel is bounded per spec §5's backpressure rule.
func New(deps Deps, cfg Config) *Session {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30
	}
	return &Session{
		id:      uuid.NewString(),
		deps:    deps,
		cfg:     cfg,
		control: make(chan Command, 100),
		state: &models.Session{
			Status: models.SessionInitializing,
			Stage:  models.StageProductList,
		},
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns a safe-to-read copy of the session's current state.
func (s *Session) Snapshot() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := *s.state
	snap.SessionID = s.id
	return snap.Clone()
}

// Pause, Resume, and Cancel enqueue control commands. They never block
// indefinitely: the control channel is bounded but Run drains it at every
// stage and batch checkpoint.
func (s *Session) Pause(ctx context.Context) error  { return s.send(ctx, Command{Kind: CommandPause}) }
func (s *Session) Resume(ctx context.Context) error { return s.send(ctx, Command{Kind: CommandResume}) }
func (s *Session) Cancel(ctx context.Context) error { return s.send(ctx, Command{Kind: CommandCancel}) }

func (s *Session) send(ctx context.Context, cmd Command) error {
	select {
	case s.control <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session to completion (or failure, or cancellation) and
// returns the terminal CrawlingResult. It owns its own cancellation scope:
// the caller's ctx is the session-wide watch token spec §5 describes.
func (s *Session) Run(parent context.Context) *models.CrawlingResult {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer cancel()

	s.mu.Lock()
	s.state.Status = models.SessionRunning
	s.state.StartedAt = time.Now()
	s.state.LastUpdatedAt = s.state.StartedAt
	s.mu.Unlock()
	s.emit(events.CategorySession, events.VariantSessionStarted, nil)

	detailsFetched := 0
	err := s.runPlan(ctx, &detailsFetched)

	completedAt := time.Now()
	switch {
	case errors.Is(err, errCancelled):
		s.setStatus(models.SessionStopped)
		s.emit(events.CategorySession, events.VariantSessionStopped, nil)
	case err != nil:
		s.mu.Lock()
		s.state.ErrorDetails = err.Error()
		s.mu.Unlock()
		s.setStatus(models.SessionFailed)
		s.emit(events.CategorySession, events.VariantSessionFailed, map[string]interface{}{"error": err.Error()})
	default:
		s.setStatus(models.SessionCompleted)
		s.emit(events.CategorySession, events.VariantSessionCompleted, nil)
	}

	return models.NewCrawlingResult(s.Snapshot(), completedAt, detailsFetched)
}

var errCancelled = fmt.Errorf("session cancelled")

// errRestartBatch signals that a resume followed a pause exceeding
// cfg.StaleWindow: the current batch's in-flight tasks are discarded and
// the batch is restarted from its first stage, per §4.6's pause/resume
// semantics.
var errRestartBatch = fmt.Errorf("session: pause exceeded stale window, restarting batch")

// runPlan probes the site, computes a plan, and runs its batches
// sequentially, oldest page range first.
func (s *Session) runPlan(ctx context.Context, detailsFetched *int) error {
	site, err := ProbeSiteStatus(ctx, s.deps.Fetcher, s.deps.Extractor)
	if err != nil {
		return fmt.Errorf("probe site: %w", err)
	}
	db, err := s.deps.Repository.Analyze(ctx)
	if err != nil {
		return fmt.Errorf("analyze store: %w", err)
	}

	plan, err := planner.Plan(s.cfg.Planner, site, db, time.Now())
	if err == models.ErrNoWork {
		return nil
	}
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	s.mu.Lock()
	s.state.Counters.TotalPages = site.TotalPages
	s.mu.Unlock()

	for i := 0; i < len(plan.Batches); {
		batch := plan.Batches[i]
		if err := s.checkpoint(ctx); err != nil {
			if errors.Is(err, errRestartBatch) {
				continue
			}
			return err
		}
		s.emit(events.CategoryBatch, events.VariantBatchStarted, map[string]interface{}{"pages": batch.Pages})
		if err := s.runBatch(ctx, batch, site, detailsFetched); err != nil {
			if errors.Is(err, errRestartBatch) {
				s.emit(events.CategoryBatch, events.VariantBatchStarted, map[string]interface{}{"pages": batch.Pages, "restarted": true})
				continue
			}
			return err
		}
		s.emit(events.CategoryBatch, events.VariantBatchCompleted, map[string]interface{}{"pages": batch.Pages})
		i++
	}
	return nil
}

// runBatch executes S1..S5 for one batch's pages, fanning out across pages
// and products within each stage call.
func (s *Session) runBatch(ctx context.Context, batch models.Batch, site models.SiteStatus, detailsFetched *int) error {
	listItems := make([]stages.Item, 0, len(batch.Pages))
	for _, page := range batch.Pages {
		listItems = append(listItems, stages.Item{Key: strconv.Itoa(page), In: page})
	}

	s1 := s.execute(ctx, models.StageListFetch, listItems, s.cfg.ListConcurrency)
	if err := s.abortOn(s1); err != nil {
		return err
	}
	s.recordFailures(s1)

	type pageFetch struct {
		page    int
		baseURL *url.URL
		content []byte
	}
	fetchedPages := make([]pageFetch, 0, len(s1.CollectedData))
	for _, r := range s1.CollectedData {
		page, _ := strconv.Atoi(r.Key)
		fr := r.Out.(*httpfetch.FetchResult)
		fetchedPages = append(fetchedPages, pageFetch{page: page, baseURL: fr.URL, content: fr.Content})
	}

	extractItems := make([]stages.Item, 0, len(fetchedPages))
	for _, fp := range fetchedPages {
		extractItems = append(extractItems, stages.Item{Key: strconv.Itoa(fp.page), In: stages.ListExtractInput{PageID: fp.page, Content: fp.content}})
	}
	s2 := s.execute(ctx, models.StageListExtract, extractItems, s.cfg.ListConcurrency)
	if err := s.abortOn(s2); err != nil {
		return err
	}
	s.recordFailures(s2)

	baseURLByPage := make(map[int]*url.URL, len(fetchedPages))
	for _, fp := range fetchedPages {
		baseURLByPage[fp.page] = fp.baseURL
	}

	products := make(map[string]*models.Product)
	var productURLs []string
	for _, r := range s2.CollectedData {
		out := r.Out.(stages.ListExtractOutput)
		for slot, card := range out.Cards {
			coord, err := coordinate.Calculate(site.TotalPages, site.ProductsOnLastPage, out.PageID, slot)
			if err != nil {
				continue
			}
			rawURL := resolveURL(baseURLByPage[out.PageID], card.URL)
			if rawURL == "" {
				continue
			}
			now := time.Now()
			products[rawURL] = &models.Product{
				URL:           rawURL,
				Manufacturer:  card.Manufacturer,
				Model:         card.Model,
				CertificateID: card.CertificateID,
				PageID:        coord.PageID,
				IndexInPage:   coord.IndexInPage,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			productURLs = append(productURLs, rawURL)
		}
	}

	s.mu.Lock()
	s.state.Counters.ProductsFound += len(productURLs)
	s.mu.Unlock()
	for _, url := range productURLs {
		s.emit(events.CategoryProduct, events.VariantProductLifecycle, map[string]interface{}{"url": url, "event": "discovered"})
	}

	detailItems := make([]stages.Item, 0, len(productURLs))
	for _, url := range productURLs {
		detailItems = append(detailItems, stages.Item{Key: url, In: url})
	}
	s3 := s.execute(ctx, models.StageDetailFetch, detailItems, s.cfg.DetailConcurrency)
	if err := s.abortOn(s3); err != nil {
		return err
	}
	s.recordFailures(s3)

	parseItems := make([]stages.Item, 0, len(s3.CollectedData))
	for _, r := range s3.CollectedData {
		fr := r.Out.(*httpfetch.FetchResult)
		parseItems = append(parseItems, stages.Item{Key: r.Key, In: stages.DetailParseInput{URL: r.Key, Content: fr.Content}})
	}
	s4 := s.execute(ctx, models.StageDetailParse, parseItems, s.cfg.DetailConcurrency)
	if err := s.abortOn(s4); err != nil {
		return err
	}
	s.recordFailures(s4)

	details := make(map[string]*models.ProductDetail, len(s4.CollectedData))
	for _, r := range s4.CollectedData {
		details[r.Key] = r.Out.(*models.ProductDetail)
	}

	upsertItems := make([]stages.Item, 0, len(products))
	for url, product := range products {
		upsertItems = append(upsertItems, stages.Item{Key: url, In: stages.UpsertInput{Product: product, Detail: details[url]}})
	}
	s5 := s.execute(ctx, models.StageUpsert, upsertItems, s.cfg.DetailConcurrency)
	if err := s.abortOn(s5); err != nil {
		return err
	}
	s.recordFailures(s5)

	s.mu.Lock()
	s.state.Counters.ProductsProcessed += s5.ProcessedItems
	*detailsFetched += len(details)
	s.mu.Unlock()

	return nil
}

// execute checkpoints for pause/cancel, then runs one stage through the
// Integration Adapter.
func (s *Session) execute(ctx context.Context, stageID models.StageID, items []stages.Item, concurrency int) stages.StageResult {
	if err := s.checkpoint(ctx); err != nil {
		return stages.StageResult{Kind: stages.KindFatalError, StageID: stageID, Err: err}
	}
	s.emit(events.CategoryStage, events.VariantStageStarted, map[string]interface{}{"stage": string(stageID), "items": len(items)})
	result := s.deps.Adapter.ExecuteStage(ctx, integration.ExecuteStageCommand{
		StageID:          stageID,
		Items:            items,
		ConcurrencyLimit: concurrency,
		TimeoutSecs:      s.cfg.StageTimeout,
	})
	s.emit(events.CategoryStage, events.VariantStageCompleted, map[string]interface{}{"stage": string(stageID), "kind": string(result.Kind)})
	return result
}

// abortOn returns a non-nil error when result is fatal or irrecoverable at
// the session level (Authentication/Configuration-class failures per §7).
func (s *Session) abortOn(result stages.StageResult) error {
	if result.Kind == stages.KindFatalError {
		return fmt.Errorf("stage %s: %w", result.StageID, result.Err)
	}
	return nil
}

// recordFailures tallies a stage's failed items into the session's error
// counter without aborting — these stages' failures are per-item, not
// batch-fatal (spec §7: Database errors escalate to the batch, not abort).
func (s *Session) recordFailures(result stages.StageResult) {
	if len(result.FailedItems) == 0 {
		return
	}
	s.mu.Lock()
	s.state.Counters.ErrorsCount += len(result.FailedItems)
	s.mu.Unlock()
	for _, f := range result.FailedItems {
		s.emit(events.CategoryProduct, events.VariantProductLifecycle, map[string]interface{}{"url": f.Key, "event": "failed", "error": f.Err.Error()})
	}
}

// checkpoint blocks while paused and returns errCancelled once the
// session-wide token fires, or errRestartBatch once, immediately after a
// resume whose pause exceeded cfg.StaleWindow. Called at every stage
// boundary, the per-item-level suspension point spec §4.6 calls for.
func (s *Session) checkpoint(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errCancelled
		case cmd := <-s.control:
			switch cmd.Kind {
			case CommandPause:
				s.beginPause()
			case CommandResume:
				s.endPause()
			case CommandCancel:
				s.cancel()
				return errCancelled
			}
			continue
		default:
		}

		s.mu.Lock()
		gate := s.resumeGate
		s.mu.Unlock()
		if gate == nil {
			if s.consumeStaleRestart() {
				return errRestartBatch
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return errCancelled
		case cmd := <-s.control:
			if cmd.Kind == CommandResume {
				s.endPause()
			} else if cmd.Kind == CommandCancel {
				s.cancel()
				return errCancelled
			}
		case <-gate:
		}
	}
}

func (s *Session) consumeStaleRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.staleRestart
	s.staleRestart = false
	return v
}

func (s *Session) beginPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumeGate != nil {
		return
	}
	s.resumeGate = make(chan struct{})
	s.pausedAt = time.Now()
	s.state.Status = models.SessionPaused
	s.state.LastUpdatedAt = time.Now()
}

func (s *Session) endPause() {
	s.mu.Lock()
	gate := s.resumeGate
	s.resumeGate = nil
	if s.cfg.StaleWindow > 0 && time.Since(s.pausedAt) > s.cfg.StaleWindow {
		s.staleRestart = true
	}
	s.state.Status = models.SessionRunning
	s.state.LastUpdatedAt = time.Now()
	s.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (s *Session) setStatus(status models.SessionStatus) {
	s.mu.Lock()
	s.state.Status = status
	s.state.LastUpdatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) emit(category events.Category, variant events.Variant, fields map[string]interface{}) {
	if s.deps.Bus == nil {
		return
	}
	_ = s.deps.Bus.Publish(events.Event{SessionID: s.id, Category: category, Variant: variant, Fields: fields})
}

// resolveURL resolves href against base, returning "" for an unresolvable
// or empty href.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() || base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
