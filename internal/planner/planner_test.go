package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/models"
)

func TestPlan_EmptyStore_FullCrawl(t *testing.T) {
	cfg := Config{BatchSize: 2, Concurrency: 4, CrawlPageLimit: 10}
	site := models.SiteStatus{TotalPages: 3, ProductsOnLastPage: 5}
	db := models.DatabaseAnalysis{IsEmpty: true}

	plan, err := Plan(cfg, site, db, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Batches)

	var allPages []int
	for _, b := range plan.Batches {
		allPages = append(allPages, b.Pages...)
	}
	assert.ElementsMatch(t, []int{3, 2, 1}, allPages)
}

func TestPlan_Idempotent(t *testing.T) {
	cfg := Config{BatchSize: 2, Concurrency: 4, CrawlPageLimit: 10}
	site := models.SiteStatus{TotalPages: 3, ProductsOnLastPage: 5}
	db := models.DatabaseAnalysis{IsEmpty: true}

	p1, err := Plan(cfg, site, db, time.Now())
	require.NoError(t, err)
	p2, err := Plan(cfg, site, db, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, p1.PlanHash, p2.PlanHash)
}

func TestCalculateRange_ResumeFromDB(t *testing.T) {
	cfg := Config{CrawlPageLimit: 10}
	site := models.SiteStatus{TotalPages: 3, ProductsOnLastPage: 5} // total = 29
	db := models.DatabaseAnalysis{MaxPageID: 0, MaxIndexInPage: 4}   // last saved reverse = 4

	r, err := CalculateRange(cfg, site, db, time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, r.EndPage, r.StartPage)
	assert.GreaterOrEqual(t, r.EndPage, 1)
}

func TestCalculateRange_NoWorkWhenCaughtUp(t *testing.T) {
	cfg := Config{CrawlPageLimit: 10}
	site := models.SiteStatus{TotalPages: 3, ProductsOnLastPage: 5} // total = 29, reverse max = 28
	db := models.DatabaseAnalysis{MaxPageID: 2, MaxIndexInPage: 11}

	_, err := CalculateRange(cfg, site, db, time.Now())
	assert.ErrorIs(t, err, models.ErrNoWork)
}

func TestCalculateRange_SpanCappedByPageLimit(t *testing.T) {
	cfg := Config{CrawlPageLimit: 5}
	site := models.SiteStatus{TotalPages: 50, ProductsOnLastPage: 12}
	db := models.DatabaseAnalysis{IsEmpty: true}

	r, err := CalculateRange(cfg, site, db, time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, r.StartPage-r.EndPage+1, cfg.CrawlPageLimit)
}

func TestPartition_OldestToNewestOrder(t *testing.T) {
	batches := Partition(1, 7, 3)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{7, 6, 5}, batches[0].Pages)
	assert.Equal(t, []int{4, 3, 2}, batches[1].Pages)
	assert.Equal(t, []int{1}, batches[2].Pages)
}
