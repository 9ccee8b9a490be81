package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mattercertis/models"
)

const (
	redisKeySiteStatus       = "mattercertis:cache:site_status"
	redisKeyDatabaseAnalysis = "mattercertis:cache:database_analysis"
	redisKeyCalculatedRange  = "mattercertis:cache:calculated_range"
)

// RedisMirror mirrors cache Set calls into Redis with an EXPIRE matching
// the slot's TTL, so the next process can recover a still-fresh snapshot
// instead of recomputing it from scratch. Grounded on the side-by-side
// gorm+go-redis usage in the animehot scheduler package; here Redis plays
// a purely optional persistence role behind the Mirror interface rather
// than a queue.
type RedisMirror struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisMirror wraps an existing *redis.Client. ctx bounds every Redis
// call issued by the mirror; callers typically pass context.Background().
func NewRedisMirror(ctx context.Context, client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client, ctx: ctx}
}

func (m *RedisMirror) save(key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = m.client.Set(m.ctx, key, data, ttl).Err()
}

func (m *RedisMirror) load(key string, dst any) bool {
	data, err := m.client.Get(m.ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false
	}
	return true
}

func (m *RedisMirror) SaveSiteStatus(v models.SiteStatus, ttl time.Duration) {
	m.save(redisKeySiteStatus, v, ttl)
}

func (m *RedisMirror) SaveDatabaseAnalysis(v models.DatabaseAnalysis, ttl time.Duration) {
	m.save(redisKeyDatabaseAnalysis, v, ttl)
}

func (m *RedisMirror) SaveCalculatedRange(v models.CalculatedRange, ttl time.Duration) {
	m.save(redisKeyCalculatedRange, v, ttl)
}

func (m *RedisMirror) LoadSiteStatus() (models.SiteStatus, bool) {
	var v models.SiteStatus
	ok := m.load(redisKeySiteStatus, &v)
	return v, ok
}

func (m *RedisMirror) LoadDatabaseAnalysis() (models.DatabaseAnalysis, bool) {
	var v models.DatabaseAnalysis
	ok := m.load(redisKeyDatabaseAnalysis, &v)
	return v, ok
}

func (m *RedisMirror) LoadCalculatedRange() (models.CalculatedRange, bool) {
	var v models.CalculatedRange
	ok := m.load(redisKeyCalculatedRange, &v)
	return v, ok
}
