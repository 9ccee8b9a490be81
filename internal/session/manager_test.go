package session

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/internal/actor"
	"mattercertis/internal/events"
	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/internal/integration"
	"mattercertis/internal/planner"
	"mattercertis/internal/repository"
	"mattercertis/internal/retrypolicy"
	"mattercertis/internal/stages"
	"mattercertis/models"
)

// emptySiteFetcher serves a single, empty listing page so a Session
// completes almost instantly, which is all this package's tests need.
type emptySiteFetcher struct{}

func (emptySiteFetcher) FetchListPage(context.Context, int) (*httpfetch.FetchResult, error) {
	u, _ := url.Parse("https://example.org/list?page=1")
	html := `<html><body><div class="pagination"><span class="last">1</span></div></body></html>`
	return &httpfetch.FetchResult{URL: u, Content: []byte(html), Status: 200}, nil
}
func (emptySiteFetcher) FetchDetail(context.Context, string) (*httpfetch.FetchResult, error) {
	return &httpfetch.FetchResult{Status: 200}, nil
}
func (emptySiteFetcher) Discover(context.Context, []byte, *url.URL) ([]*url.URL, error) {
	return nil, nil
}
func (emptySiteFetcher) Configure(httpfetch.FetchPolicy) error { return nil }
func (emptySiteFetcher) Stats() httpfetch.FetcherStats         { return httpfetch.FetcherStats{} }

var _ httpfetch.Fetcher = emptySiteFetcher{}

type memRepo struct {
	mu      sync.Mutex
	results []*models.CrawlingResult
}

func (r *memRepo) UpsertProduct(context.Context, *models.Product) error             { return nil }
func (r *memRepo) UpsertProductDetail(context.Context, *models.ProductDetail) error  { return nil }
func (r *memRepo) UpsertVendor(context.Context, string, time.Time) error             { return nil }
func (r *memRepo) ProductByCoordinate(context.Context, int, int) (*models.Product, error) {
	return nil, nil
}
func (r *memRepo) ProductsOnPage(context.Context, int) ([]*models.Product, error) { return nil, nil }
func (r *memRepo) ProductByURL(context.Context, string) (*models.Product, error)  { return nil, nil }
func (r *memRepo) Analyze(context.Context) (models.DatabaseAnalysis, error) {
	return models.DatabaseAnalysis{IsEmpty: true}, nil
}
func (r *memRepo) SaveCrawlingResult(_ context.Context, res *models.CrawlingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}
func (r *memRepo) CrawlingResult(context.Context, string) (*models.CrawlingResult, error) {
	return nil, models.ErrSessionNotFound
}
func (r *memRepo) Close() error { return nil }

func (r *memRepo) saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

var _ repository.Repository = (*memRepo)(nil)

func newDeps(repo *memRepo) actor.Deps {
	ex := extractor.New(extractor.DefaultSelectors())
	fetcher := emptySiteFetcher{}
	adapter := integration.New(
		stages.Deps{Fetcher: fetcher, Extractor: ex, Repository: repo},
		stages.Config{Concurrency: 2, PartialSuccessThreshold: 0.5, Jitterer: retrypolicy.NewJitterer(1), RetryTable: retrypolicy.Table},
	)
	return actor.Deps{Fetcher: fetcher, Extractor: ex, Repository: repo, Bus: events.NewBus(nil), Adapter: adapter}
}

func newCfg() actor.Config {
	return actor.Config{Planner: planner.Config{BatchSize: 10}, StageTimeout: 5, ListConcurrency: 2, DetailConcurrency: 2}
}

func TestManager_StartRunsToCompletionThenEvicts(t *testing.T) {
	repo := &memRepo{}
	m := New(repo)

	id, err := m.Start(newDeps(repo), newCfg())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.SessionID)

	require.Eventually(t, func() bool {
		_, err := m.Get(id)
		return err == models.ErrSessionNotFound
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 1, repo.saved())
}

func TestManager_OperationsOnUnknownSessionReturnNotFound(t *testing.T) {
	m := New(&memRepo{})
	ctx := context.Background()

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.ErrorIs(t, m.Pause(ctx, "missing"), models.ErrSessionNotFound)
	assert.ErrorIs(t, m.Resume(ctx, "missing"), models.ErrSessionNotFound)
	assert.ErrorIs(t, m.Cancel(ctx, "missing"), models.ErrSessionNotFound)
}

func TestManager_RegisterRejectsDuplicateID(t *testing.T) {
	repo := &memRepo{}
	m := New(repo)

	sess := actor.New(newDeps(repo), newCfg())
	e := &entry{sess: sess}
	e.snap.Store(sess.Snapshot())

	require.NoError(t, m.register(sess.ID(), e))
	err := m.register(sess.ID(), e)
	assert.ErrorIs(t, err, models.ErrSessionAlreadyRuns)
}

func TestManager_ListReturnsActiveSessions(t *testing.T) {
	repo := &memRepo{}
	m := New(repo)

	sess := actor.New(newDeps(repo), newCfg())
	e := &entry{sess: sess}
	e.snap.Store(sess.Snapshot())
	require.NoError(t, m.register(sess.ID(), e))

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID(), list[0].SessionID)
}
