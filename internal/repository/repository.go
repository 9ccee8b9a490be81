// Package repository defines the persistence boundary the crawl-coordination
// core depends on: product/detail CRUD, upsert, and the coordinate-frontier
// and quality aggregates the planner and validation pass read.
package repository

import (
	"context"
	"time"

	"mattercertis/models"
)

// Repository is the storage boundary for products, details, vendors, and
// session results. It exposes only raw aggregates (MaxPageID,
// MaxIndexInPage, TotalProducts) — range-calculation logic stays in
// internal/planner, never migrates into the storage layer.
type Repository interface {
	// UpsertProduct inserts or updates a listing row keyed by URL; the
	// (page_id, index_in_page) coordinate is a separate unique index.
	UpsertProduct(ctx context.Context, p *models.Product) error

	// UpsertProductDetail inserts or updates the detail row joined to p.URL.
	UpsertProductDetail(ctx context.Context, d *models.ProductDetail) error

	// UpsertVendor records or refreshes a manufacturer-name reference row.
	UpsertVendor(ctx context.Context, name string, seenAt time.Time) error

	// ProductByCoordinate looks up a listing row by its canonical coordinate.
	ProductByCoordinate(ctx context.Context, pageID, indexInPage int) (*models.Product, error)

	// ProductsOnPage returns every listing row with the given page_id,
	// ordered by index_in_page ascending.
	ProductsOnPage(ctx context.Context, pageID int) ([]*models.Product, error)

	// ProductByURL looks up a listing row by its primary key.
	ProductByURL(ctx context.Context, url string) (*models.Product, error)

	// Analyze computes the store's coordinate frontier and quality snapshot.
	Analyze(ctx context.Context) (models.DatabaseAnalysis, error)

	// SaveCrawlingResult persists a terminal session snapshot.
	SaveCrawlingResult(ctx context.Context, r *models.CrawlingResult) error

	// CrawlingResult looks up a previously saved session snapshot.
	CrawlingResult(ctx context.Context, sessionID string) (*models.CrawlingResult, error)

	// Close releases underlying storage resources.
	Close() error
}
