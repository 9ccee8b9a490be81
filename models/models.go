// Package models holds the data types shared across the crawl-coordination
// core: listing and detail rows, site/db snapshots, the computed crawl
// range, execution plans, and session/result records.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// PRODUCTS_PER_PAGE (N) is the full-page item count on the source catalogue.
const ProductsPerPage = 12

// Product is a listing row, uniquely identified by its detail-page URL.
type Product struct {
	URL           string    `json:"url" gorm:"primaryKey"`
	Manufacturer  string    `json:"manufacturer"`
	Model         string    `json:"model"`
	CertificateID string    `json:"certificate_id"`
	PageID        int       `json:"page_id" gorm:"uniqueIndex:idx_page_coord"`
	IndexInPage   int       `json:"index_in_page" gorm:"uniqueIndex:idx_page_coord"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProductDetail is the 1:0..1 detail row joined to Product by URL.
type ProductDetail struct {
	URL                string    `json:"url" gorm:"primaryKey"`
	DeviceType         string    `json:"device_type"`
	CertificationID    string    `json:"certification_id"`
	CertificationDate  time.Time `json:"certification_date"`
	SoftwareVersion    string    `json:"software_version"`
	HardwareVersion    string    `json:"hardware_version"`
	FirmwareVersion    string    `json:"firmware_version"`
	VID                string    `json:"vid"`
	PID                string    `json:"pid"`
	FamilyID           string    `json:"family_id"`
	FamilyName         string    `json:"family_name"`
	SpecificationVer   string    `json:"specification_version"`
	TransportInterface string    `json:"transport_interface"`
	Description        string    `json:"description"`
	ProgramType        string    `json:"program_type"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Vendor is a normalized manufacturer-name reference table, populated from
// manufacturer names observed during upserts.
type Vendor struct {
	Name      string    `json:"name" gorm:"primaryKey"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
}

// SiteStatus is a snapshot of the live catalogue's pagination shape.
type SiteStatus struct {
	TotalPages        int       `json:"total_pages"`
	ProductsOnLastPage int      `json:"products_on_last_page"`
	Accessible        bool      `json:"accessible"`
	ResponseTimeMs    int64     `json:"response_time_ms"`
	HealthScore       float64   `json:"health_score"`
	EstimatedProducts int       `json:"estimated_products"`
	LastCheckTime     time.Time `json:"last_check_time"`
}

// DatabaseAnalysis is a snapshot of the local store's coordinate frontier.
type DatabaseAnalysis struct {
	TotalProducts  int       `json:"total_products"`
	MaxPageID      int       `json:"max_page_id"`
	MaxIndexInPage int       `json:"max_index_in_page"`
	QualityScore   float64   `json:"quality_score"`
	IsEmpty        bool      `json:"is_empty"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// CalculationReason documents why a CalculatedRange took the shape it did.
type CalculationReason string

const (
	ReasonEmptyStore        CalculationReason = "empty_store"
	ReasonResumeFromDB      CalculationReason = "resume_from_db"
	ReasonExplicitOverride  CalculationReason = "explicit_override"
	ReasonNoWork            CalculationReason = "no_work"
)

// CalculatedRange is the planner's computed physical-page window.
// Invariant: StartPage >= EndPage >= 1.
type CalculatedRange struct {
	StartPage        int               `json:"start_page"`
	EndPage          int               `json:"end_page"`
	TotalPagesInRange int              `json:"total_pages_in_range"`
	IsCompleteCrawl  bool              `json:"is_complete_crawl"`
	CalculationReason CalculationReason `json:"calculation_reason"`
	ComputedAt       time.Time         `json:"computed_at"`
}

// PhaseKind is the closed set of execution-plan phase kinds.
type PhaseKind string

const (
	PhaseListPageCrawling PhaseKind = "list_page_crawling"
	PhaseProductDetails   PhaseKind = "product_details"
	PhaseValidation       PhaseKind = "validation"
	PhaseSave             PhaseKind = "save"
)

// Phase is one step of an ExecutionPlan.
type Phase struct {
	Kind  PhaseKind `json:"kind"`
	Pages []int     `json:"pages,omitempty"`
}

// Batch is a contiguous block of physical pages to be processed together,
// oldest-first within the plan's traversal order.
type Batch struct {
	Pages []int `json:"pages"`
}

// ExecutionPlan is a content-addressed, ordered sequence of phases.
type ExecutionPlan struct {
	PlanHash string  `json:"plan_hash"`
	Phases   []Phase `json:"phases"`
	Batches  []Batch `json:"batches"`
}

// SessionStatus is the lifecycle state of a crawl Session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionRunning      SessionStatus = "running"
	SessionPaused       SessionStatus = "paused"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
	SessionStopped      SessionStatus = "stopped"
)

// SessionStage names which phase of work a running Session is in.
type SessionStage string

const (
	StageProductList    SessionStage = "product_list"
	StageProductDetails SessionStage = "product_details"
	StageMatterDetails  SessionStage = "matter_details"
)

// Counters tracks progress numbers mutated only by the owning Session actor.
type Counters struct {
	CurrentPage        int `json:"current_page"`
	TotalPages         int `json:"total_pages"`
	ProductsFound      int `json:"products_found"`
	ProductsProcessed  int `json:"products_processed"`
	ErrorsCount        int `json:"errors_count"`
}

// Session is the live, mutable state of one crawl run. Created by the
// Session actor on StartCrawling; mutated only by that actor; moved into a
// CrawlingResult on terminal state.
type Session struct {
	SessionID           string          `json:"session_id"`
	Status              SessionStatus   `json:"status"`
	Stage               SessionStage    `json:"stage"`
	Counters            Counters        `json:"counters"`
	StartedAt           time.Time       `json:"started_at"`
	LastUpdatedAt       time.Time       `json:"last_updated_at"`
	EstimatedCompletion time.Time       `json:"estimated_completion,omitempty"`
	ConfigSnapshot      json.RawMessage `json:"config_snapshot,omitempty"`
	ErrorDetails        string          `json:"error_details,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to readers outside the
// owning actor's goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.ConfigSnapshot != nil {
		cp.ConfigSnapshot = append(json.RawMessage(nil), s.ConfigSnapshot...)
	}
	return &cp
}

// CrawlingResult is an immutable Session snapshot at termination.
type CrawlingResult struct {
	SessionID            string          `json:"session_id"`
	Status               SessionStatus   `json:"status"`
	Stage                SessionStage    `json:"stage"`
	Counters             Counters        `json:"counters"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          time.Time       `json:"completed_at"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds"`
	DetailsFetched       int             `json:"details_fetched"`
	ConfigSnapshot       json.RawMessage `json:"config_snapshot,omitempty"`
	ErrorDetails         string          `json:"error_details,omitempty"`
}

// NewCrawlingResult snapshots a terminal Session into an immutable result.
func NewCrawlingResult(s *Session, completedAt time.Time, detailsFetched int) *CrawlingResult {
	return &CrawlingResult{
		SessionID:            s.SessionID,
		Status:               s.Status,
		Stage:                s.Stage,
		Counters:             s.Counters,
		StartedAt:            s.StartedAt,
		CompletedAt:          completedAt,
		ExecutionTimeSeconds: completedAt.Sub(s.StartedAt).Seconds(),
		DetailsFetched:       detailsFetched,
		ConfigSnapshot:       s.ConfigSnapshot,
		ErrorDetails:         s.ErrorDetails,
	}
}

// Domain-specific sentinel errors.
var (
	ErrSiteUnreachable    = errors.New("site is not accessible")
	ErrNoWork             = errors.New("no work: store already caught up with site")
	ErrInvalidCoordinate  = errors.New("invalid physical_page/slot for current site snapshot")
	ErrEmptySite          = errors.New("site reports zero total pages")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionAlreadyRuns = errors.New("a session with this id is already running")
	ErrPlanExhausted      = errors.New("execution plan has no remaining phases")
)

// StageID is the closed set of pipeline stage identifiers (§4.4/§9: a
// closed sum type dispatched by value, not by interface).
type StageID string

const (
	StageListFetch    StageID = "list_fetch"
	StageListExtract  StageID = "list_extract"
	StageDetailFetch  StageID = "detail_fetch"
	StageDetailParse  StageID = "detail_parse"
	StageUpsert       StageID = "upsert"
)

// CrawlError pairs a stage identifier with the underlying cause.
type CrawlError struct {
	URL   string
	Stage StageID
	Err   error
}

func (e *CrawlError) Error() string { return e.Err.Error() }
func (e *CrawlError) Unwrap() error { return e.Err }

// NewCrawlError constructs a CrawlError.
func NewCrawlError(url string, stage StageID, err error) *CrawlError {
	return &CrawlError{URL: url, Stage: stage, Err: err}
}
