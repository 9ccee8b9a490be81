// Package cache holds the shared, TTL-bounded analyses the planner and
// validation pass reuse within freshness windows: the latest SiteStatus,
// DatabaseAnalysis, and CalculatedRange, plus a plan-hash keyed LRU of
// recent ExecutionPlans.
package cache

import (
	"container/list"
	"sync"
	"time"

	"mattercertis/models"
)

// Default TTLs per spec §4.2.
const (
	DefaultSiteStatusTTL       = 5 * time.Minute
	DefaultDatabaseAnalysisTTL = 2 * time.Minute
	DefaultCalculatedRangeTTL  = 3 * time.Minute
	planCacheCapacity          = 5
)

// Config controls the cache's TTLs and plan LRU capacity.
type Config struct {
	SiteStatusTTL       time.Duration
	DatabaseAnalysisTTL time.Duration
	CalculatedRangeTTL  time.Duration
	PlanCapacity        int
}

func (c Config) withDefaults() Config {
	if c.SiteStatusTTL <= 0 {
		c.SiteStatusTTL = DefaultSiteStatusTTL
	}
	if c.DatabaseAnalysisTTL <= 0 {
		c.DatabaseAnalysisTTL = DefaultDatabaseAnalysisTTL
	}
	if c.CalculatedRangeTTL <= 0 {
		c.CalculatedRangeTTL = DefaultCalculatedRangeTTL
	}
	if c.PlanCapacity <= 0 {
		c.PlanCapacity = planCacheCapacity
	}
	return c
}

type siteSlot struct {
	mu    sync.RWMutex
	value models.SiteStatus
	set   bool
}

type dbSlot struct {
	mu    sync.RWMutex
	value models.DatabaseAnalysis
	set   bool
}

type rangeSlot struct {
	mu    sync.RWMutex
	value models.CalculatedRange
	set   bool
}

type planEntry struct {
	hash string
	plan *models.ExecutionPlan
}

// Mirror is an optional external persistence hook for Set calls, so
// freshness can survive a process restart (see redis_mirror.go).
type Mirror interface {
	SaveSiteStatus(models.SiteStatus, time.Duration)
	SaveDatabaseAnalysis(models.DatabaseAnalysis, time.Duration)
	SaveCalculatedRange(models.CalculatedRange, time.Duration)
	LoadSiteStatus() (models.SiteStatus, bool)
	LoadDatabaseAnalysis() (models.DatabaseAnalysis, bool)
	LoadCalculatedRange() (models.CalculatedRange, bool)
}

// Cache is the mutex-guarded shared state described by spec §4.2: three
// TTL slots plus a plan-hash keyed LRU, modeled on the teacher's
// resources.Manager (per-slot lock + container/list LRU).
type Cache struct {
	cfg Config

	site   siteSlot
	db     dbSlot
	rng    rangeSlot

	planMu    sync.Mutex
	planLRU   *list.List
	planIndex map[string]*list.Element

	mirror Mirror
}

// New constructs a Cache. mirror may be nil for a pure in-process cache.
func New(cfg Config, mirror Mirror) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:       cfg,
		planLRU:   list.New(),
		planIndex: make(map[string]*list.Element),
		mirror:    mirror,
	}
}

// GetSiteStatus returns the cached snapshot if present and fresh as of now.
func (c *Cache) GetSiteStatus(now time.Time) (models.SiteStatus, bool) {
	c.site.mu.RLock()
	v, ok := c.site.value, c.site.set
	c.site.mu.RUnlock()
	if ok && fresh(v.LastCheckTime, now, c.cfg.SiteStatusTTL) {
		return v, true
	}
	if c.mirror != nil {
		if mv, ok := c.mirror.LoadSiteStatus(); ok && fresh(mv.LastCheckTime, now, c.cfg.SiteStatusTTL) {
			c.SetSiteStatus(mv)
			return mv, true
		}
	}
	return models.SiteStatus{}, false
}

// SetSiteStatus replaces the cached SiteStatus.
func (c *Cache) SetSiteStatus(v models.SiteStatus) {
	c.site.mu.Lock()
	c.site.value, c.site.set = v, true
	c.site.mu.Unlock()
	if c.mirror != nil {
		c.mirror.SaveSiteStatus(v, c.cfg.SiteStatusTTL)
	}
}

// GetDatabaseAnalysis returns the cached snapshot if present and fresh.
func (c *Cache) GetDatabaseAnalysis(now time.Time) (models.DatabaseAnalysis, bool) {
	c.db.mu.RLock()
	v, ok := c.db.value, c.db.set
	c.db.mu.RUnlock()
	if ok && fresh(v.AnalyzedAt, now, c.cfg.DatabaseAnalysisTTL) {
		return v, true
	}
	if c.mirror != nil {
		if mv, ok := c.mirror.LoadDatabaseAnalysis(); ok && fresh(mv.AnalyzedAt, now, c.cfg.DatabaseAnalysisTTL) {
			c.SetDatabaseAnalysis(mv)
			return mv, true
		}
	}
	return models.DatabaseAnalysis{}, false
}

// SetDatabaseAnalysis replaces the cached DatabaseAnalysis. Does not
// invalidate CalculatedRange (§4.2: writing SiteStatus/DatabaseAnalysis
// does not invalidate the other slots).
func (c *Cache) SetDatabaseAnalysis(v models.DatabaseAnalysis) {
	c.db.mu.Lock()
	c.db.value, c.db.set = v, true
	c.db.mu.Unlock()
	if c.mirror != nil {
		c.mirror.SaveDatabaseAnalysis(v, c.cfg.DatabaseAnalysisTTL)
	}
}

// GetCalculatedRange returns the cached range if present and fresh.
func (c *Cache) GetCalculatedRange(now time.Time) (models.CalculatedRange, bool) {
	c.rng.mu.RLock()
	v, ok := c.rng.value, c.rng.set
	c.rng.mu.RUnlock()
	if ok && fresh(v.ComputedAt, now, c.cfg.CalculatedRangeTTL) {
		return v, true
	}
	if c.mirror != nil {
		if mv, ok := c.mirror.LoadCalculatedRange(); ok && fresh(mv.ComputedAt, now, c.cfg.CalculatedRangeTTL) {
			c.SetCalculatedRange(mv)
			return mv, true
		}
	}
	return models.CalculatedRange{}, false
}

// SetCalculatedRange replaces the cached CalculatedRange.
func (c *Cache) SetCalculatedRange(v models.CalculatedRange) {
	c.rng.mu.Lock()
	c.rng.value, c.rng.set = v, true
	c.rng.mu.Unlock()
	if c.mirror != nil {
		c.mirror.SaveCalculatedRange(v, c.cfg.CalculatedRangeTTL)
	}
}

// InvalidateCalculatedRange clears the range slot. Called when the config
// that feeds the planner changes (§4.2's invalidation rule).
func (c *Cache) InvalidateCalculatedRange() {
	c.rng.mu.Lock()
	c.rng.value, c.rng.set = models.CalculatedRange{}, false
	c.rng.mu.Unlock()
}

// GetPlan returns a cached ExecutionPlan by hash, promoting it to
// most-recently-used.
func (c *Cache) GetPlan(hash string) (*models.ExecutionPlan, bool) {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	el, ok := c.planIndex[hash]
	if !ok {
		return nil, false
	}
	c.planLRU.MoveToFront(el)
	return el.Value.(*planEntry).plan, true
}

// PutPlan inserts or refreshes a plan in the LRU, evicting the
// least-recently-used entry once over capacity.
func (c *Cache) PutPlan(plan *models.ExecutionPlan) {
	if plan == nil || plan.PlanHash == "" {
		return
	}
	c.planMu.Lock()
	defer c.planMu.Unlock()
	if el, ok := c.planIndex[plan.PlanHash]; ok {
		el.Value.(*planEntry).plan = plan
		c.planLRU.MoveToFront(el)
		return
	}
	el := c.planLRU.PushFront(&planEntry{hash: plan.PlanHash, plan: plan})
	c.planIndex[plan.PlanHash] = el
	for c.planLRU.Len() > c.cfg.PlanCapacity {
		back := c.planLRU.Back()
		if back == nil {
			break
		}
		delete(c.planIndex, back.Value.(*planEntry).hash)
		c.planLRU.Remove(back)
	}
}

// fresh reports whether analyzedAt (wall-clock UTC) is still within ttl of
// now. Using wall-clock rather than a monotonic reading is what lets
// freshness survive a process restart once snapshots are persisted
// (§4.2's freshness policy).
func fresh(analyzedAt, now time.Time, ttl time.Duration) bool {
	if analyzedAt.IsZero() {
		return false
	}
	return now.Sub(analyzedAt) <= ttl
}
