package actor

import (
	"context"
	"fmt"
	"time"

	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/models"
)

// ProbeSiteStatus implements §4.7 steps 1-2's two-probe site snapshot: the
// newest page (1) for the total page count, the oldest page (T) for its
// item count.
func ProbeSiteStatus(ctx context.Context, fetcher httpfetch.Fetcher, ex *extractor.Extractor) (models.SiteStatus, error) {
	start := time.Now()

	newest, err := fetcher.FetchListPage(ctx, 1)
	if err != nil {
		return models.SiteStatus{Accessible: false, LastCheckTime: time.Now()}, fmt.Errorf("probe: fetch newest page: %w", err)
	}
	totalPages, err := ex.ExtractTotalPages(newest.Content)
	if err != nil {
		return models.SiteStatus{}, fmt.Errorf("probe: extract total pages: %w", err)
	}

	oldest, err := fetcher.FetchListPage(ctx, totalPages)
	if err != nil {
		return models.SiteStatus{}, fmt.Errorf("probe: fetch oldest page %d: %w", totalPages, err)
	}
	cards, err := ex.ExtractCards(oldest.Content)
	if err != nil {
		return models.SiteStatus{}, fmt.Errorf("probe: extract oldest page %d cards: %w", totalPages, err)
	}

	return models.SiteStatus{
		TotalPages:         totalPages,
		ProductsOnLastPage: len(cards),
		Accessible:         true,
		ResponseTimeMs:     time.Since(start).Milliseconds(),
		HealthScore:        1.0,
		EstimatedProducts:  models.ProductsPerPage*(totalPages-1) + len(cards),
		LastCheckTime:      time.Now(),
	}, nil
}
