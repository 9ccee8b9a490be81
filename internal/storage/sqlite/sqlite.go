// Package sqlite is the production repository.Repository implementation,
// backed by gorm and a single SQLite file. Writes are serialized through a
// single mutex, the SQLite analogue of the teacher's resource manager
// checkpointing through one writer goroutine: SQLite itself only tolerates
// one writer transaction at a time.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mattercertis/internal/repository"
	"mattercertis/models"
)

// Repository implements repository.Repository on SQLite via gorm.
type Repository struct {
	db *gorm.DB
	mu sync.Mutex
}

var _ repository.Repository = (*Repository)(nil)

// Open connects to dsn (a file path, or ":memory:") and runs AutoMigrate.
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.ProductDetail{}, &models.Vendor{}, &crawlingResultRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: automigrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// crawlingResultRow is the persisted shape of models.CrawlingResult; gorm
// needs a table-tagged type distinct from the wire model.
type crawlingResultRow struct {
	SessionID            string `gorm:"primaryKey;column:session_id"`
	Status               string `gorm:"column:status"`
	Stage                string `gorm:"column:stage"`
	CurrentPage          int    `gorm:"column:current_page"`
	TotalPages           int    `gorm:"column:total_pages"`
	ProductsFound        int    `gorm:"column:products_found"`
	ProductsProcessed    int    `gorm:"column:products_processed"`
	ErrorsCount          int    `gorm:"column:errors_count"`
	DetailsFetched       int    `gorm:"column:details_fetched"`
	StartedAt            time.Time `gorm:"column:started_at"`
	CompletedAt          time.Time `gorm:"column:completed_at"`
	ExecutionTimeSeconds float64   `gorm:"column:execution_time_seconds"`
	ConfigSnapshot       []byte    `gorm:"column:config_snapshot"`
	ErrorDetails         string    `gorm:"column:error_details"`
}

func (crawlingResultRow) TableName() string { return "crawling_results" }

func (r *Repository) UpsertProduct(ctx context.Context, p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"manufacturer", "model", "certificate_id", "page_id", "index_in_page", "updated_at"}),
	}).Create(p).Error
}

func (r *Repository) UpsertProductDetail(ctx context.Context, d *models.ProductDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"device_type", "certification_id", "certification_date", "software_version",
			"hardware_version", "firmware_version", "vid", "pid", "family_id", "family_name",
			"specification_version", "transport_interface", "description", "program_type", "updated_at",
		}),
	}).Create(d).Error
}

func (r *Repository) UpsertVendor(ctx context.Context, name string, seenAt time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var v models.Vendor
	err := r.db.WithContext(ctx).First(&v, "name = ?", name).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(&models.Vendor{Name: name, FirstSeen: seenAt, LastSeen: seenAt, Count: 1}).Error
	case err != nil:
		return err
	default:
		return r.db.WithContext(ctx).Model(&v).Updates(map[string]any{"last_seen": seenAt, "count": v.Count + 1}).Error
	}
}

func (r *Repository) ProductByCoordinate(ctx context.Context, pageID, indexInPage int) (*models.Product, error) {
	var p models.Product
	err := r.db.WithContext(ctx).First(&p, "page_id = ? AND index_in_page = ?", pageID, indexInPage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ProductsOnPage(ctx context.Context, pageID int) ([]*models.Product, error) {
	var products []*models.Product
	err := r.db.WithContext(ctx).Where("page_id = ?", pageID).Order("index_in_page ASC").Find(&products).Error
	return products, err
}

func (r *Repository) ProductByURL(ctx context.Context, url string) (*models.Product, error) {
	var p models.Product
	err := r.db.WithContext(ctx).First(&p, "url = ?", url).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Analyze(ctx context.Context) (models.DatabaseAnalysis, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Product{}).Count(&count).Error; err != nil {
		return models.DatabaseAnalysis{}, err
	}
	if count == 0 {
		return models.DatabaseAnalysis{IsEmpty: true, AnalyzedAt: time.Now()}, nil
	}

	var top models.Product
	if err := r.db.WithContext(ctx).Order("page_id DESC, index_in_page DESC").First(&top).Error; err != nil {
		return models.DatabaseAnalysis{}, err
	}

	var detailCount int64
	if err := r.db.WithContext(ctx).Model(&models.ProductDetail{}).Count(&detailCount).Error; err != nil {
		return models.DatabaseAnalysis{}, err
	}

	quality := 1.0
	if count > 0 {
		quality = float64(detailCount) / float64(count)
	}

	return models.DatabaseAnalysis{
		TotalProducts:  int(count),
		MaxPageID:      top.PageID,
		MaxIndexInPage: top.IndexInPage,
		QualityScore:   quality,
		IsEmpty:        false,
		AnalyzedAt:     time.Now(),
	}, nil
}

func (r *Repository) SaveCrawlingResult(ctx context.Context, res *models.CrawlingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := crawlingResultRow{
		SessionID:            res.SessionID,
		Status:               string(res.Status),
		Stage:                string(res.Stage),
		CurrentPage:          res.Counters.CurrentPage,
		TotalPages:           res.Counters.TotalPages,
		ProductsFound:        res.Counters.ProductsFound,
		ProductsProcessed:    res.Counters.ProductsProcessed,
		ErrorsCount:          res.Counters.ErrorsCount,
		DetailsFetched:       res.DetailsFetched,
		StartedAt:            res.StartedAt,
		CompletedAt:          res.CompletedAt,
		ExecutionTimeSeconds: res.ExecutionTimeSeconds,
		ConfigSnapshot:       []byte(res.ConfigSnapshot),
		ErrorDetails:         res.ErrorDetails,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "stage", "current_page", "total_pages", "products_found", "products_processed", "errors_count", "details_fetched", "completed_at", "execution_time_seconds", "config_snapshot", "error_details"}),
	}).Create(&row).Error
}

func (r *Repository) CrawlingResult(ctx context.Context, sessionID string) (*models.CrawlingResult, error) {
	var row crawlingResultRow
	err := r.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.CrawlingResult{
		SessionID: row.SessionID,
		Status:    models.SessionStatus(row.Status),
		Stage:     models.SessionStage(row.Stage),
		Counters: models.Counters{
			CurrentPage:       row.CurrentPage,
			TotalPages:        row.TotalPages,
			ProductsFound:     row.ProductsFound,
			ProductsProcessed: row.ProductsProcessed,
			ErrorsCount:       row.ErrorsCount,
		},
		StartedAt:            row.StartedAt,
		CompletedAt:          row.CompletedAt,
		ExecutionTimeSeconds: row.ExecutionTimeSeconds,
		DetailsFetched:       row.DetailsFetched,
		ConfigSnapshot:       row.ConfigSnapshot,
		ErrorDetails:         row.ErrorDetails,
	}, nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
