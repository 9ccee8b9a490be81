package stages

import (
	"context"
	"fmt"

	"mattercertis/internal/extractor"
	"mattercertis/internal/retrypolicy"
	"mattercertis/models"
)

// ListExtractInput is one listing page's fetched body awaiting card
// extraction.
type ListExtractInput struct {
	PageID  int
	Content []byte
}

// ListExtractOutput is a listing page's extracted cards, still in rendered
// (slot) order.
type ListExtractOutput struct {
	PageID int
	Cards  []extractor.Card
}

// ListExtract runs S2: pull the ordered product cards out of each fetched
// listing page (each Item.In is a ListExtractInput).
func ListExtract(ctx context.Context, items []Item, cfg Config, ex *extractor.Extractor) StageResult {
	return run(ctx, models.StageListExtract, items, cfg, func(_ context.Context, item Item) (interface{}, retrypolicy.ErrorClass, error) {
		in, ok := item.In.(ListExtractInput)
		if !ok {
			return nil, retrypolicy.ClassUnknown, fmt.Errorf("list_extract: item %s: expected ListExtractInput, got %T", item.Key, item.In)
		}
		cards, err := ex.ExtractCards(in.Content)
		if err != nil {
			return nil, retrypolicy.ClassParsing, fmt.Errorf("list_extract: page %d: %w", in.PageID, err)
		}
		return ListExtractOutput{PageID: in.PageID, Cards: cards}, retrypolicy.ClassUnknown, nil
	})
}
