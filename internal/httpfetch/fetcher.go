// Package httpfetch fetches listing pages and product detail pages over
// HTTP, honoring robots.txt and a per-policy domain allowlist. It backs the
// S1 (ListFetch) and S3 (DetailFetch) stage executors.
package httpfetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FetchResult is the outcome of one page fetch.
type FetchResult struct {
	URL      *url.URL
	Content  []byte
	Headers  map[string]string
	Status   int
	Links    []*url.URL
	Metadata map[string]interface{}
}

// FetchPolicy configures a Fetcher's behavior and the site's URL shape.
type FetchPolicy struct {
	// BaseURL is the catalogue root, e.g. "https://example.org/products".
	BaseURL string
	// ListPageParam is the query parameter carrying the 1-indexed physical
	// page number, e.g. "page". Defaults to "page" when empty.
	ListPageParam string

	UserAgent       string
	RequestDelay    time.Duration
	Timeout         time.Duration
	MaxRetries      int
	RespectRobots   bool
	FollowRedirects bool
	AllowedDomains  []string
}

// ListPageURL builds the URL for physical page (1-indexed).
func (p FetchPolicy) ListPageURL(page int) (string, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", p.BaseURL, err)
	}
	param := p.ListPageParam
	if param == "" {
		param = "page"
	}
	q := base.Query()
	q.Set(param, strconv.Itoa(page))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// FetcherStats reports cumulative fetch counters.
type FetcherStats struct {
	RequestsCompleted int64
	RequestsFailed    int64
	LinksDiscovered   int64
	BytesDownloaded   int64
	AverageLatency    time.Duration
}

// Fetcher abstracts retrieval of listing and detail pages plus link
// discovery within fetched HTML.
type Fetcher interface {
	// FetchListPage retrieves the physical listing page.
	FetchListPage(ctx context.Context, page int) (*FetchResult, error)

	// FetchDetail retrieves a product detail page by its absolute URL.
	FetchDetail(ctx context.Context, rawURL string) (*FetchResult, error)

	// Discover extracts outbound links from HTML content.
	Discover(ctx context.Context, content []byte, baseURL *url.URL) ([]*url.URL, error)

	// Configure applies a new policy without losing accumulated Stats.
	Configure(policy FetchPolicy) error

	// Stats returns current fetch statistics.
	Stats() FetcherStats
}

func validateFetchPolicy(policy FetchPolicy) error {
	if policy.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", policy.Timeout)
	}
	if policy.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", policy.MaxRetries)
	}
	if policy.RequestDelay < 0 {
		return fmt.Errorf("request delay must be non-negative, got %v", policy.RequestDelay)
	}
	if strings.TrimSpace(policy.BaseURL) == "" {
		return fmt.Errorf("base URL required")
	}
	return nil
}
