package stages

import (
	"context"
	"fmt"
	"time"

	"mattercertis/internal/repository"
	"mattercertis/internal/retrypolicy"
	"mattercertis/models"
)

// UpsertInput pairs a listing row with its (optional) detail row for one
// write. Detail is nil when only the listing row is known.
type UpsertInput struct {
	Product *models.Product
	Detail  *models.ProductDetail
}

// Upsert runs S5: persist one product (and, if present, its detail row and
// a vendor reference) per item. Database failures are non-retryable per
// retrypolicy.Table, matching SQLite's synchronous single-writer semantics:
// a failed write means the row is malformed, not transiently contended.
func Upsert(ctx context.Context, items []Item, cfg Config, repo repository.Repository) StageResult {
	return run(ctx, models.StageUpsert, items, cfg, func(ctx context.Context, item Item) (interface{}, retrypolicy.ErrorClass, error) {
		in, ok := item.In.(UpsertInput)
		if !ok {
			return nil, retrypolicy.ClassUnknown, fmt.Errorf("upsert: item %s: expected UpsertInput, got %T", item.Key, item.In)
		}
		if in.Product == nil {
			return nil, retrypolicy.ClassUnknown, fmt.Errorf("upsert: item %s: nil Product", item.Key)
		}

		if err := repo.UpsertProduct(ctx, in.Product); err != nil {
			return nil, retrypolicy.ClassDatabase, fmt.Errorf("upsert: product %s: %w", in.Product.URL, err)
		}
		if in.Product.Manufacturer != "" {
			if err := repo.UpsertVendor(ctx, in.Product.Manufacturer, time.Now()); err != nil {
				return nil, retrypolicy.ClassDatabase, fmt.Errorf("upsert: vendor %s: %w", in.Product.Manufacturer, err)
			}
		}
		if in.Detail != nil {
			if err := repo.UpsertProductDetail(ctx, in.Detail); err != nil {
				return nil, retrypolicy.ClassDatabase, fmt.Errorf("upsert: detail %s: %w", in.Detail.URL, err)
			}
		}
		return in.Product, retrypolicy.ClassUnknown, nil
	})
}
