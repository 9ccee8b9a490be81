package stages

import (
	"context"
	"fmt"

	"mattercertis/internal/httpfetch"
	"mattercertis/internal/retrypolicy"
	"mattercertis/models"
)

// ListFetch runs S1: fetch each physical listing page in items (each
// Item.In is an int page number), returning *httpfetch.FetchResult per item.
func ListFetch(ctx context.Context, items []Item, cfg Config, fetcher httpfetch.Fetcher) StageResult {
	return run(ctx, models.StageListFetch, items, cfg, func(ctx context.Context, item Item) (interface{}, retrypolicy.ErrorClass, error) {
		page, ok := item.In.(int)
		if !ok {
			return nil, retrypolicy.ClassUnknown, fmt.Errorf("list_fetch: item %s: expected int page, got %T", item.Key, item.In)
		}
		result, err := fetcher.FetchListPage(ctx, page)
		if err != nil {
			return nil, classifyFetchErr(err), err
		}
		if result.Status >= 400 {
			class := classifyStatus(result.Status)
			return nil, class, fmt.Errorf("list_fetch: page %d: status %d", page, result.Status)
		}
		return result, retrypolicy.ClassUnknown, nil
	})
}
