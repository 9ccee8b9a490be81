package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/models"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUpsertProduct_InsertThenUpdate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	p := &models.Product{URL: "https://example.org/a", Manufacturer: "Acme", Model: "X1", PageID: 0, IndexInPage: 0, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, repo.UpsertProduct(ctx, p))

	p.Model = "X2"
	p.UpdatedAt = time.Now()
	require.NoError(t, repo.UpsertProduct(ctx, p))

	got, err := repo.ProductByURL(ctx, p.URL)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "X2", got.Model)
}

func TestProductByCoordinate_MissingReturnsNilNoError(t *testing.T) {
	repo := openTestRepo(t)
	got, err := repo.ProductByCoordinate(context.Background(), 5, 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAnalyze_EmptyStore(t *testing.T) {
	repo := openTestRepo(t)
	analysis, err := repo.Analyze(context.Background())
	require.NoError(t, err)
	assert.True(t, analysis.IsEmpty)
}

func TestAnalyze_ReflectsFrontier(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertProduct(ctx, &models.Product{URL: "u1", PageID: 0, IndexInPage: 0, CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	require.NoError(t, repo.UpsertProduct(ctx, &models.Product{URL: "u2", PageID: 2, IndexInPage: 5, CreatedAt: time.Now(), UpdatedAt: time.Now()}))

	analysis, err := repo.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.TotalProducts)
	assert.Equal(t, 2, analysis.MaxPageID)
	assert.Equal(t, 5, analysis.MaxIndexInPage)
	assert.False(t, analysis.IsEmpty)
}

func TestUpsertVendor_CountsOccurrences(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.UpsertVendor(ctx, "Acme", now))
	require.NoError(t, repo.UpsertVendor(ctx, "Acme", now.Add(time.Hour)))

	var v models.Vendor
	require.NoError(t, repo.db.First(&v, "name = ?", "Acme").Error)
	assert.Equal(t, 2, v.Count)
}

func TestSaveAndLoadCrawlingResult(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	res := &models.CrawlingResult{
		SessionID:            "sess-1",
		Status:                models.SessionCompleted,
		Stage:                 models.StageProductDetails,
		Counters:              models.Counters{ProductsFound: 10, ProductsProcessed: 10},
		StartedAt:             time.Now().Add(-time.Minute),
		CompletedAt:           time.Now(),
		ExecutionTimeSeconds:  60,
		DetailsFetched:        10,
	}
	require.NoError(t, repo.SaveCrawlingResult(ctx, res))

	got, err := repo.CrawlingResult(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, 10, got.Counters.ProductsFound)
}

func TestCrawlingResult_NotFound(t *testing.T) {
	repo := openTestRepo(t)
	_, err := repo.CrawlingResult(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
