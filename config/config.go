// Package config loads and hot-reloads the YAML configuration that drives
// every tunable named in the user/advanced/app_managed/logging sections:
// crawl pacing, concurrency caps, retry and batch sizing, the oldest-page
// validation window, and the product-card selectors an individual site
// needs. Grounded on engine/internal/runtime/runtime.go's
// RuntimeConfigManager/HotReloadSystem pair — the same read/validate/save
// cycle backed by gopkg.in/yaml.v3, the same SHA-256 checksum for
// change-detection, and the same fsnotify-driven watch loop, narrowed here
// to a single file (no config-version history or A/B testing, neither of
// which this system has a use for).
package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"mattercertis/internal/extractor"
)

// WorkersConfig is user.crawling.workers.
type WorkersConfig struct {
	ListPageMaxConcurrent     int  `yaml:"list_page_max_concurrent"`
	ProductDetailMaxConcurrent int  `yaml:"product_detail_max_concurrent"`
	UserAgentSync             bool `yaml:"user_agent_sync"`
}

// CrawlingConfig is user.crawling.
type CrawlingConfig struct {
	PageRangeLimit            int           `yaml:"page_range_limit"`
	ProductListRetryCount     int           `yaml:"product_list_retry_count"`
	ProductDetailRetryCount   int           `yaml:"product_detail_retry_count"`
	Workers                   WorkersConfig `yaml:"workers"`
	ValidationPageLimit       int           `yaml:"validation_page_limit"`
}

// BatchConfig is user.batch.
type BatchConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// UserConfig is the user.* section: everything an operator is expected to
// tune per site.
type UserConfig struct {
	MaxPages              int            `yaml:"max_pages"`
	RequestDelayMs        int            `yaml:"request_delay_ms"`
	MaxConcurrentRequests int            `yaml:"max_concurrent_requests"`
	Crawling              CrawlingConfig `yaml:"crawling"`
	Batch                 BatchConfig    `yaml:"batch"`
}

// AdvancedConfig is advanced.*: knobs a reviewer changes rarely, if ever.
type AdvancedConfig struct {
	LastPageSearchStart int                 `yaml:"last_page_search_start"`
	MaxSearchAttempts   int                 `yaml:"max_search_attempts"`
	RetryAttempts       int                 `yaml:"retry_attempts"`
	RetryDelayMs        int                 `yaml:"retry_delay_ms"`
	ProductSelectors    extractor.Selectors `yaml:"product_selectors"`
}

// AppManagedConfig is app_managed.*: fields the application itself writes
// back, not the operator.
type AppManagedConfig struct {
	LastKnownMaxPage int `yaml:"last_known_max_page"`
}

// LoggingConfig is logging.*.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`   // empty means stderr
}

// AppConfig is the full recognized configuration tree.
type AppConfig struct {
	User       UserConfig       `yaml:"user"`
	Advanced   AdvancedConfig   `yaml:"advanced"`
	AppManaged AppManagedConfig `yaml:"app_managed"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Defaults returns the configuration a freshly initialized site uses before
// any YAML file is written.
func Defaults() AppConfig {
	return AppConfig{
		User: UserConfig{
			MaxPages:              0, // 0 means unbounded
			RequestDelayMs:        500,
			MaxConcurrentRequests: 4,
			Crawling: CrawlingConfig{
				PageRangeLimit:          50,
				ProductListRetryCount:   3,
				ProductDetailRetryCount: 3,
				Workers: WorkersConfig{
					ListPageMaxConcurrent:      2,
					ProductDetailMaxConcurrent: 4,
					UserAgentSync:              true,
				},
				ValidationPageLimit: 30,
			},
			Batch: BatchConfig{BatchSize: 100},
		},
		Advanced: AdvancedConfig{
			LastPageSearchStart: 10,
			MaxSearchAttempts:   5,
			RetryAttempts:       3,
			RetryDelayMs:        1000,
			ProductSelectors:    extractor.DefaultSelectors(),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Checksum returns a SHA-256 digest of cfg's YAML encoding, used to detect
// whether a reload actually changed anything.
func (c AppConfig) Checksum() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Load reads and parses the YAML file at path. A missing file is not an
// error: Load returns Defaults so a first run can proceed without operator
// setup.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back to path as YAML, creating the parent directory if
// needed. Used by app_managed.* writers (e.g. recording the last known max
// page after a successful probe).
func Save(path string, cfg AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// InvalidationHook is called whenever a Watcher loads a changed configuration,
// so the caller can drop any cache slot keyed on config (e.g. the planner's
// CalculatedRange, per §4.2's invalidation rule: any config write
// invalidates it).
type InvalidationHook func(AppConfig)

// Watcher hot-reloads a single config file, grounded on
// HotReloadSystem's fsnotify-driven watch loop, reduced to the one file
// this system ever watches.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	current  AppConfig
	checksum string
}

// NewWatcher loads path's current configuration and prepares a Watcher,
// without starting the watch goroutine yet (call Start for that).
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	return &Watcher{path: path, watcher: fw, current: cfg, checksum: cfg.Checksum()}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() AppConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start watches the config file's directory (fsnotify doesn't reliably
// deliver events for a watch on the file itself across editors that
// write-then-rename) and invokes onChange whenever the file's content
// actually differs from what's currently loaded. Start returns once the
// watch is established; the watch loop runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, onChange InvalidationHook) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch dir %s: %w", dir, err)
	}
	go w.loop(ctx, onChange)
	return nil
}

func (w *Watcher) loop(ctx context.Context, onChange InvalidationHook) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload(onChange)
		case <-w.watcher.Errors:
			// Best-effort: a watch error doesn't invalidate the last good
			// config, it just means the next edit might be missed.
		}
	}
}

func (w *Watcher) reload(onChange InvalidationHook) {
	cfg, err := Load(w.path)
	if err != nil {
		return
	}
	sum := cfg.Checksum()

	w.mu.Lock()
	unchanged := sum == w.checksum
	if !unchanged {
		w.current = cfg
		w.checksum = sum
	}
	w.mu.Unlock()

	if !unchanged && onChange != nil {
		onChange(cfg)
	}
}

// Stop tears down the underlying file watcher. Safe to call once the watch
// loop has already exited via context cancellation.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// RequestDelay is user.request_delay_ms as a time.Duration.
func (c AppConfig) RequestDelay() time.Duration {
	return time.Duration(c.User.RequestDelayMs) * time.Millisecond
}

// RetryDelay is advanced.retry_delay_ms as a time.Duration.
func (c AppConfig) RetryDelay() time.Duration {
	return time.Duration(c.Advanced.RetryDelayMs) * time.Millisecond
}
