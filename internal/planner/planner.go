// Package planner computes the next range of physical pages to crawl from
// a site snapshot and a database snapshot, and partitions that range into
// ordered batches.
package planner

import (
	"time"

	"mattercertis/models"
)

// Config is the subset of crawl configuration the planner consumes.
type Config struct {
	StartPage      int // explicit override; 0 means "not provided"
	EndPage        int // explicit override; 0 means "not provided"
	BatchSize      int
	Concurrency    int
	CrawlPageLimit int
	RetryMax       int
}

// Plan computes an ExecutionPlan from the current site and database
// snapshots under cfg. Returns models.ErrNoWork when the store has already
// caught up with the site.
func Plan(cfg Config, site models.SiteStatus, db models.DatabaseAnalysis, now time.Time) (*models.ExecutionPlan, error) {
	r, err := CalculateRange(cfg, site, db, now)
	if err != nil {
		return nil, err
	}
	batches := Partition(r.EndPage, r.StartPage, cfg.BatchSize)

	phases := make([]models.Phase, 0, len(batches)+1)
	for _, b := range batches {
		phases = append(phases, models.Phase{Kind: models.PhaseListPageCrawling, Pages: b.Pages})
	}

	return &models.ExecutionPlan{
		PlanHash: Hash(site.TotalPages, site.ProductsOnLastPage, r.StartPage, r.EndPage, cfg.BatchSize, cfg.Concurrency, cfg.RetryMax),
		Phases:   phases,
		Batches:  batches,
	}, nil
}

// CalculateRange implements spec §4.3's oldest-first resumption algorithm.
func CalculateRange(cfg Config, site models.SiteStatus, db models.DatabaseAnalysis, now time.Time) (models.CalculatedRange, error) {
	const n = models.ProductsPerPage
	t, l := site.TotalPages, site.ProductsOnLastPage

	if t <= 0 {
		return models.CalculatedRange{}, models.ErrEmptySite
	}

	limit := cfg.CrawlPageLimit
	if limit <= 0 {
		limit = t
	}

	var start, end int
	reason := models.ReasonResumeFromDB

	switch {
	case cfg.StartPage > 0 || cfg.EndPage > 0:
		start, end = cfg.StartPage, cfg.EndPage
		if start == 0 {
			start = t
		}
		if end == 0 {
			end = 1
		}
		if start < end {
			start, end = end, start
		}
		if start > t {
			start = t
		}
		if end < 1 {
			end = 1
		}
		if start-end+1 > limit {
			end = start - limit + 1
			if end < 1 {
				end = 1
			}
		}
		reason = models.ReasonExplicitOverride

	case db.IsEmpty:
		start = t
		end = start - limit + 1
		if end < 1 {
			end = 1
		}
		reason = models.ReasonEmptyStore

	default:
		lastSavedReverse := db.MaxPageID*n + db.MaxIndexInPage
		nextReverse := lastSavedReverse + 1
		totalItems := (t-1)*n + l
		if nextReverse >= totalItems {
			return models.CalculatedRange{}, models.ErrNoWork
		}
		forward := totalItems - 1 - nextReverse
		targetPhysical := forward/n + 1
		start = targetPhysical
		end = start - limit + 1
		if end < 1 {
			end = 1
		}
	}

	return models.CalculatedRange{
		StartPage:         start,
		EndPage:           end,
		TotalPagesInRange: start - end + 1,
		IsCompleteCrawl:   start == t && end == 1,
		CalculationReason: reason,
		ComputedAt:        now,
	}, nil
}

// Partition splits the inclusive physical-page range [end, start] into
// contiguous blocks of at most batchSize pages, traversed oldest (largest
// page number) to newest (smallest), descending within each block.
func Partition(end, start, batchSize int) []models.Batch {
	if batchSize <= 0 {
		batchSize = 1
	}
	if start < end {
		return nil
	}
	var batches []models.Batch
	for hi := start; hi >= end; hi -= batchSize {
		lo := hi - batchSize + 1
		if lo < end {
			lo = end
		}
		pages := make([]int, 0, hi-lo+1)
		for p := hi; p >= lo; p-- {
			pages = append(pages, p)
		}
		batches = append(batches, models.Batch{Pages: pages})
	}
	return batches
}
