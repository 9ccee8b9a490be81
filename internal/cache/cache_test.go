package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/models"
)

func TestCache_SiteStatus_FreshnessWindow(t *testing.T) {
	c := New(Config{SiteStatusTTL: time.Minute}, nil)
	now := time.Now()
	c.SetSiteStatus(models.SiteStatus{TotalPages: 3, LastCheckTime: now})

	v, ok := c.GetSiteStatus(now.Add(30 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 3, v.TotalPages)

	_, ok = c.GetSiteStatus(now.Add(2 * time.Minute))
	assert.False(t, ok, "expired entry must not be returned")
}

func TestCache_MissingSlot(t *testing.T) {
	c := New(Config{}, nil)
	_, ok := c.GetDatabaseAnalysis(time.Now())
	assert.False(t, ok)
}

func TestCache_SettingOneSlotDoesNotInvalidateAnother(t *testing.T) {
	c := New(Config{}, nil)
	now := time.Now()
	c.SetCalculatedRange(models.CalculatedRange{StartPage: 5, EndPage: 1, ComputedAt: now})
	c.SetSiteStatus(models.SiteStatus{TotalPages: 5, LastCheckTime: now})

	r, ok := c.GetCalculatedRange(now)
	require.True(t, ok)
	assert.Equal(t, 5, r.StartPage)
}

func TestCache_InvalidateCalculatedRange(t *testing.T) {
	c := New(Config{}, nil)
	now := time.Now()
	c.SetCalculatedRange(models.CalculatedRange{StartPage: 5, EndPage: 1, ComputedAt: now})
	c.InvalidateCalculatedRange()

	_, ok := c.GetCalculatedRange(now)
	assert.False(t, ok)
}

func TestCache_PlanLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{PlanCapacity: 2}, nil)
	c.PutPlan(&models.ExecutionPlan{PlanHash: "a"})
	c.PutPlan(&models.ExecutionPlan{PlanHash: "b"})
	_, _ = c.GetPlan("a") // touch a, making b the LRU victim
	c.PutPlan(&models.ExecutionPlan{PlanHash: "c"})

	_, ok := c.GetPlan("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.GetPlan("a")
	assert.True(t, ok)
	_, ok = c.GetPlan("c")
	assert.True(t, ok)
}
