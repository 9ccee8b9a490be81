package stages

import (
	"context"
	"fmt"

	"mattercertis/internal/httpfetch"
	"mattercertis/internal/retrypolicy"
	"mattercertis/models"
)

// DetailFetch runs S3: fetch each product detail page by URL (each Item.In
// is a string URL, Item.Key the same URL).
func DetailFetch(ctx context.Context, items []Item, cfg Config, fetcher httpfetch.Fetcher) StageResult {
	return run(ctx, models.StageDetailFetch, items, cfg, func(ctx context.Context, item Item) (interface{}, retrypolicy.ErrorClass, error) {
		rawURL, ok := item.In.(string)
		if !ok {
			return nil, retrypolicy.ClassUnknown, fmt.Errorf("detail_fetch: item %s: expected string URL, got %T", item.Key, item.In)
		}
		result, err := fetcher.FetchDetail(ctx, rawURL)
		if err != nil {
			return nil, classifyFetchErr(err), err
		}
		if result.Status >= 400 {
			class := classifyStatus(result.Status)
			return nil, class, fmt.Errorf("detail_fetch: %s: status %d", rawURL, result.Status)
		}
		return result, retrypolicy.ClassUnknown, nil
	})
}
