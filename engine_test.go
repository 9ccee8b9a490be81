package mattercertis

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/config"
	"mattercertis/models"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{DSN: filepath.Join(t.TempDir(), "db.sqlite")})
	assert.Error(t, err)
}

func TestNew_OpensStorageAndClosesCleanly(t *testing.T) {
	eng, err := New(Options{
		BaseURL: "https://example.org/products",
		DSN:     filepath.Join(t.TempDir(), "db.sqlite"),
	})
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	assert.Empty(t, eng.ActiveSessions())
}

func TestEngine_OnConfigChangedInvalidatesCalculatedRangeAndSelectors(t *testing.T) {
	eng, err := New(Options{
		BaseURL: "https://example.org/products",
		DSN:     filepath.Join(t.TempDir(), "db.sqlite"),
	})
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	eng.cache.SetCalculatedRange(models.CalculatedRange{StartPage: 5, EndPage: 1, ComputedAt: time.Now()})
	_, ok := eng.cache.GetCalculatedRange(time.Now())
	require.True(t, ok)

	updated := config.Defaults()
	updated.Advanced.ProductSelectors.Card.Card = ".changed-card"
	eng.onConfigChanged(updated)

	_, ok = eng.cache.GetCalculatedRange(time.Now())
	assert.False(t, ok, "config change must invalidate the CalculatedRange cache slot")
	assert.Equal(t, ".changed-card", eng.cfg.Advanced.ProductSelectors.Card.Card)
}

func TestEngine_SessionStatusFallsBackToPersistedResult(t *testing.T) {
	eng, err := New(Options{
		BaseURL: "https://example.org/products",
		DSN:     filepath.Join(t.TempDir(), "db.sqlite"),
	})
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	ctx := t.Context()
	result := models.NewCrawlingResult(&models.Session{
		SessionID: "archived-session",
		Status:    models.SessionCompleted,
	}, time.Now(), 3)
	require.NoError(t, eng.repo.SaveCrawlingResult(ctx, result))

	snap, err := eng.SessionStatus(ctx, "archived-session")
	require.NoError(t, err)
	assert.Equal(t, "archived-session", snap.SessionID)
	assert.Equal(t, models.SessionCompleted, snap.Status)
}
