package validation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/internal/coordinate"
	"mattercertis/internal/events"
	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/models"
)

func buildListingHTML(totalPages int, urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><div class="pagination"><span class="last">%d</span></div>`, totalPages)
	for i, u := range urls {
		fmt.Fprintf(&b, `<div class="product-card"><a class="product-link" href="%s">link</a><span class="manufacturer">Acme</span><span class="model">M%d</span><span class="certificate-id">C%d</span></div>`, u, i, i)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

type fakeFetcher struct {
	pages map[int]string
}

func (f *fakeFetcher) FetchListPage(_ context.Context, page int) (*httpfetch.FetchResult, error) {
	content, ok := f.pages[page]
	if !ok {
		return nil, fmt.Errorf("no fixture for page %d", page)
	}
	u, _ := url.Parse(fmt.Sprintf("https://example.org/list?page=%d", page))
	return &httpfetch.FetchResult{URL: u, Content: []byte(content), Status: 200}, nil
}
func (f *fakeFetcher) FetchDetail(context.Context, string) (*httpfetch.FetchResult, error) {
	return &httpfetch.FetchResult{Status: 200}, nil
}
func (f *fakeFetcher) Discover(context.Context, []byte, *url.URL) ([]*url.URL, error) {
	return nil, nil
}
func (f *fakeFetcher) Configure(httpfetch.FetchPolicy) error { return nil }
func (f *fakeFetcher) Stats() httpfetch.FetcherStats         { return httpfetch.FetcherStats{} }

var _ httpfetch.Fetcher = (*fakeFetcher)(nil)

type fakeRepo struct {
	products map[string]*models.Product
}

func newFakeRepo() *fakeRepo { return &fakeRepo{products: map[string]*models.Product{}} }

func (r *fakeRepo) UpsertProduct(_ context.Context, p *models.Product) error {
	r.products[p.URL] = p
	return nil
}
func (r *fakeRepo) UpsertProductDetail(context.Context, *models.ProductDetail) error { return nil }
func (r *fakeRepo) UpsertVendor(context.Context, string, time.Time) error            { return nil }
func (r *fakeRepo) ProductByCoordinate(context.Context, int, int) (*models.Product, error) {
	return nil, nil
}
func (r *fakeRepo) ProductsOnPage(context.Context, int) ([]*models.Product, error) { return nil, nil }
func (r *fakeRepo) ProductByURL(_ context.Context, u string) (*models.Product, error) {
	p, ok := r.products[u]
	if !ok {
		return nil, nil
	}
	return p, nil
}
func (r *fakeRepo) Analyze(context.Context) (models.DatabaseAnalysis, error) {
	return models.DatabaseAnalysis{TotalProducts: len(r.products), IsEmpty: len(r.products) == 0}, nil
}
func (r *fakeRepo) SaveCrawlingResult(context.Context, *models.CrawlingResult) error { return nil }
func (r *fakeRepo) CrawlingResult(context.Context, string) (*models.CrawlingResult, error) {
	return nil, models.ErrSessionNotFound
}
func (r *fakeRepo) Close() error { return nil }

// twoPageSite builds a T=2, L=2 fixture (14 products total: 12 on physical
// page 1, 2 on physical page 2, the oldest page) and returns the Fetcher
// plus the resolved absolute URL for every slot in oldest-to-newest scan
// order (page 2 first, then page 1).
func twoPageSite() (*fakeFetcher, []string) {
	page1 := make([]string, 12)
	for i := range page1 {
		page1[i] = fmt.Sprintf("/p/%d", i+1)
	}
	page2 := []string{"/p/13", "/p/14"}
	f := &fakeFetcher{pages: map[int]string{
		1: buildListingHTML(2, page1),
		2: buildListingHTML(2, page2),
	}}
	urls := make([]string, 0, 14)
	for _, u := range page2 {
		urls = append(urls, "https://example.org"+u)
	}
	for _, u := range page1 {
		urls = append(urls, "https://example.org"+u)
	}
	return f, urls
}

func populateMatchingRepo(t *testing.T, repo *fakeRepo, fetcher *fakeFetcher) {
	t.Helper()
	ex := extractor.New(extractor.DefaultSelectors())
	for _, page := range []int{1, 2} {
		fr, err := fetcher.FetchListPage(context.Background(), page)
		require.NoError(t, err)
		cards, err := ex.ExtractCards(fr.Content)
		require.NoError(t, err)
		for slot, card := range cards {
			coord, err := coordinate.Calculate(2, 2, page, slot)
			require.NoError(t, err)
			repo.UpsertProduct(context.Background(), &models.Product{
				URL: resolveURL(fr.URL, card.URL), PageID: coord.PageID, IndexInPage: coord.IndexInPage,
			})
		}
	}
}

func newDeps(fetcher httpfetch.Fetcher, repo *fakeRepo) Deps {
	return Deps{Fetcher: fetcher, Extractor: extractor.New(extractor.DefaultSelectors()), Repository: repo, Bus: events.NewBus(nil)}
}

func TestRun_FullyConsistentStoreHasNoDivergences(t *testing.T) {
	fetcher, _ := twoPageSite()
	repo := newFakeRepo()
	populateMatchingRepo(t, repo, fetcher)

	report, err := Run(context.Background(), newDeps(fetcher, repo), Config{}, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.PagesScanned)
	assert.Equal(t, 14, report.ProductsChecked)
	assert.Empty(t, report.Divergences)
	assert.Equal(t, 0, report.CrossPageDuplicateURLs)
}

func TestRun_EmptyStoreReportsAllMissing(t *testing.T) {
	fetcher, urls := twoPageSite()
	repo := newFakeRepo()

	report, err := Run(context.Background(), newDeps(fetcher, repo), Config{}, "sess-2")
	require.NoError(t, err)

	require.Len(t, report.Divergences, len(urls))
	for _, d := range report.Divergences {
		assert.Equal(t, DivergenceMissing, d.Kind)
	}
	assert.Equal(t, 0, report.ProductsChecked)
}

func TestRun_UniformShiftDetectedPerPage(t *testing.T) {
	fetcher, _ := twoPageSite()
	repo := newFakeRepo()
	populateMatchingRepo(t, repo, fetcher)

	// Shift the stored index_in_page of every page_id 1 row (the two newest
	// products, both on physical page 1) by +1 (mod N), simulating a uniform
	// off-by-one coordinate assignment bug.
	for u, p := range repo.products {
		if p.PageID == 0 {
			continue
		}
		p.IndexInPage = (p.IndexInPage + 1) % models.ProductsPerPage
		repo.products[u] = p
	}

	report, err := Run(context.Background(), newDeps(fetcher, repo), Config{}, "sess-3")
	require.NoError(t, err)

	require.NotEmpty(t, report.Divergences)
	for _, d := range report.Divergences {
		assert.Equal(t, DivergenceMismatch, d.Kind)
	}
	var sawShift bool
	for _, stat := range report.PerPage {
		if stat.MismatchShiftPattern != nil {
			sawShift = true
			assert.Equal(t, 1, *stat.MismatchShiftPattern)
		}
	}
	assert.True(t, sawShift, "expected at least one page to report a uniform shift pattern")
}

// sixPageSiteWithCrossPageDuplicate builds a T=6, L=12 fixture where every
// page's products are distinct except pages 5 and 6, which both list the
// same URL at slot 0 (a site inconsistency per spec.md §8 scenario 6).
func sixPageSiteWithCrossPageDuplicate() *fakeFetcher {
	pages := make(map[int]string, 6)
	for page := 1; page <= 6; page++ {
		urls := make([]string, 12)
		for slot := range urls {
			urls[slot] = fmt.Sprintf("/p%d-%d", page, slot)
		}
		if page == 5 || page == 6 {
			urls[0] = "/dup"
		}
		pages[page] = buildListingHTML(6, urls)
	}
	return &fakeFetcher{pages: pages}
}

func TestRun_CrossPageDuplicateDetectedAndDivergencePagesStraddle(t *testing.T) {
	fetcher := sixPageSiteWithCrossPageDuplicate()
	repo := newFakeRepo()
	ex := extractor.New(extractor.DefaultSelectors())

	// Populate every card's matching coordinate except the duplicated URL,
	// so it's the only source of divergence and the test isolates the
	// cross_page_duplicate mechanism from unrelated mismatches.
	for page := 1; page <= 6; page++ {
		fr, err := fetcher.FetchListPage(context.Background(), page)
		require.NoError(t, err)
		cards, err := ex.ExtractCards(fr.Content)
		require.NoError(t, err)
		for slot, card := range cards {
			u := resolveURL(fr.URL, card.URL)
			if u == "https://example.org/dup" {
				continue
			}
			coord, err := coordinate.Calculate(6, 12, page, slot)
			require.NoError(t, err)
			repo.UpsertProduct(context.Background(), &models.Product{
				URL: u, PageID: coord.PageID, IndexInPage: coord.IndexInPage,
			})
		}
	}

	report, err := Run(context.Background(), newDeps(fetcher, repo), Config{}, "sess-dup")
	require.NoError(t, err)

	assert.Equal(t, 1, report.CrossPageDuplicateURLs)
	require.Len(t, report.Divergences, 2)
	for _, d := range report.Divergences {
		assert.Equal(t, DivergenceMissing, d.Kind)
		assert.Equal(t, "https://example.org/dup", d.URL)
	}

	require.NotNil(t, report.HighestDivergencePage)
	require.NotNil(t, report.LowestDivergencePage)
	assert.Equal(t, 6, *report.HighestDivergencePage)
	assert.Equal(t, 5, *report.LowestDivergencePage)
}

func TestResolveWindow_ExplicitRangeSwapsInvertedBounds(t *testing.T) {
	start, end := resolveWindow(Config{Range: Range{StartOldest: 1, EndNewest: 5}}, 10, 0)
	assert.Equal(t, 5, start)
	assert.Equal(t, 1, end)
}

func TestResolveWindow_ExplicitRangeClampsToTotalPages(t *testing.T) {
	start, end := resolveWindow(Config{Range: Range{StartOldest: 50, EndNewest: 1}}, 10, 0)
	assert.Equal(t, 10, start)
	assert.Equal(t, 1, end)
}

func TestResolveWindow_DynamicDefaultSmallStoreScansEverything(t *testing.T) {
	start, end := resolveWindow(Config{}, 5, 60)
	assert.Equal(t, 5, start)
	assert.Equal(t, 1, end)
}

func TestResolveWindow_DynamicDefaultLargeStoreSamplesOldest30(t *testing.T) {
	start, end := resolveWindow(Config{}, 100, 5000)
	assert.Equal(t, 100, start)
	assert.Equal(t, 71, end)
}

func TestDetectPageAnomalies_DuplicateAndSparseAndOldestOverflow(t *testing.T) {
	dup := detectPageAnomalies(5, []string{"a", "a"}, false, 2)
	var codes []string
	for _, a := range dup {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, "duplicate_index")
	assert.Contains(t, codes, "sparse_page")

	overflow := detectPageAnomalies(5, []string{"a", "b", "c"}, true, 2)
	codes = nil
	for _, a := range overflow {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, "oldest_page_overflow")

	empty := detectPageAnomalies(5, nil, true, 2)
	require.Len(t, empty, 1)
	assert.Equal(t, "oldest_page_empty", empty[0].Code)
}
