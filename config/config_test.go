package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_ParsesRecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
user:
  max_pages: 10
  request_delay_ms: 750
  max_concurrent_requests: 8
  crawling:
    page_range_limit: 25
    product_list_retry_count: 4
    product_detail_retry_count: 2
    workers:
      list_page_max_concurrent: 3
      product_detail_max_concurrent: 6
      user_agent_sync: false
    validation_page_limit: 40
  batch:
    batch_size: 50
advanced:
  last_page_search_start: 20
  max_search_attempts: 7
  retry_attempts: 5
  retry_delay_ms: 2000
app_managed:
  last_known_max_page: 12
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.User.MaxPages)
	assert.Equal(t, 750, cfg.User.RequestDelayMs)
	assert.Equal(t, 8, cfg.User.MaxConcurrentRequests)
	assert.Equal(t, 25, cfg.User.Crawling.PageRangeLimit)
	assert.Equal(t, 4, cfg.User.Crawling.ProductListRetryCount)
	assert.Equal(t, 3, cfg.User.Crawling.Workers.ListPageMaxConcurrent)
	assert.False(t, cfg.User.Crawling.Workers.UserAgentSync)
	assert.Equal(t, 40, cfg.User.Crawling.ValidationPageLimit)
	assert.Equal(t, 50, cfg.User.Batch.BatchSize)
	assert.Equal(t, 20, cfg.Advanced.LastPageSearchStart)
	assert.Equal(t, 7, cfg.Advanced.MaxSearchAttempts)
	assert.Equal(t, 12, cfg.AppManaged.LastKnownMaxPage)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 750*time.Millisecond, cfg.RequestDelay())
	assert.Equal(t, 2000*time.Millisecond, cfg.RetryDelay())
}

func TestChecksum_ChangesWithContent(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.User.MaxPages = 99

	assert.Equal(t, a.Checksum(), Defaults().Checksum())
	assert.NotEqual(t, a.Checksum(), b.Checksum())
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.AppManaged.LastKnownMaxPage = 42

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.AppManaged.LastKnownMaxPage)
}

func TestWatcher_StartDeliversOnChangeAfterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, Defaults()))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan AppConfig, 1)
	require.NoError(t, w.Start(ctx, func(c AppConfig) { changed <- c }))

	updated := Defaults()
	updated.User.MaxPages = 55
	require.NoError(t, Save(path, updated))

	select {
	case c := <-changed:
		assert.Equal(t, 55, c.User.MaxPages)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config change notification")
	}

	assert.Equal(t, 55, w.Current().User.MaxPages)
}

func TestWatcher_RewriteWithSameContentDoesNotNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Defaults()
	require.NoError(t, Save(path, cfg))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan AppConfig, 1)
	require.NoError(t, w.Start(ctx, func(c AppConfig) { changed <- c }))

	require.NoError(t, Save(path, cfg)) // identical content

	select {
	case <-changed:
		t.Fatal("unexpected change notification for identical content")
	case <-time.After(300 * time.Millisecond):
	}
}
