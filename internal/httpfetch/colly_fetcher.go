package httpfetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/debug"
)

// CollyFetcher implements Fetcher on top of gocolly/colly.
type CollyFetcher struct {
	collector *colly.Collector
	policy    FetchPolicy
	robots    *robotsCache
	limiter   *AdaptiveRateLimiter
	stats     fetcherStats
}

// fetcherStats holds atomic counters for thread-safe statistics.
type fetcherStats struct {
	requestsCompleted int64
	requestsFailed    int64
	linksDiscovered   int64
	bytesDownloaded   int64
	totalLatency      int64 // nanoseconds
}

// NewCollyFetcher constructs a colly-based Fetcher for the given policy.
// limiter may be nil to disable adaptive per-domain pacing beyond colly's
// own static LimitRule.
func NewCollyFetcher(policy FetchPolicy, limiter *AdaptiveRateLimiter) (*CollyFetcher, error) {
	if err := validateFetchPolicy(policy); err != nil {
		return nil, fmt.Errorf("invalid fetch policy: %w", err)
	}

	c := colly.NewCollector(colly.Debugger(&debug.LogDebugger{}))
	if policy.Timeout > 0 {
		c.SetRequestTimeout(policy.Timeout)
	}
	if policy.UserAgent != "" {
		c.UserAgent = policy.UserAgent
	}
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: policy.RequestDelay}); err != nil {
		return nil, fmt.Errorf("failed to set rate limit: %w", err)
	}

	f := &CollyFetcher{collector: c, policy: policy, robots: newRobotsCache(), limiter: limiter}
	f.setupCallbacks()
	return f, nil
}

func (f *CollyFetcher) setupCallbacks() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start_time", time.Now())
	})
	f.collector.OnResponse(func(r *colly.Response) {
		atomic.AddInt64(&f.stats.requestsCompleted, 1)
		atomic.AddInt64(&f.stats.bytesDownloaded, int64(len(r.Body)))
		if startTime, ok := r.Ctx.GetAny("start_time").(time.Time); ok {
			atomic.AddInt64(&f.stats.totalLatency, int64(time.Since(startTime)))
		}
	})
	f.collector.OnError(func(r *colly.Response, err error) {
		atomic.AddInt64(&f.stats.requestsFailed, 1)
	})
}

// FetchListPage retrieves the physical listing page.
func (f *CollyFetcher) FetchListPage(ctx context.Context, page int) (*FetchResult, error) {
	rawURL, err := f.policy.ListPageURL(page)
	if err != nil {
		return nil, err
	}
	return f.fetch(ctx, rawURL)
}

// FetchDetail retrieves a product detail page by URL.
func (f *CollyFetcher) FetchDetail(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.fetch(ctx, rawURL)
}

func (f *CollyFetcher) fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if !f.isAllowedURL(u) {
		return nil, fmt.Errorf("URL not in allowed domains: %s", u.String())
	}
	if !f.allowedByRobots(u) {
		return nil, fmt.Errorf("URL disallowed by robots.txt: %s", u.String())
	}

	if f.limiter != nil {
		permit, err := f.limiter.Acquire(ctx, u.Hostname())
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		defer permit.Release()
	}

	start := time.Now()
	result := &FetchResult{URL: u, Headers: make(map[string]string), Metadata: make(map[string]interface{})}

	f.collector.OnHTML("html", func(e *colly.HTMLElement) {
		result.Content = e.Response.Body
		result.Status = e.Response.StatusCode
		if e.Response.Headers != nil {
			for key, values := range *e.Response.Headers {
				if len(values) > 0 {
					result.Headers[key] = values[0]
				}
			}
		}
		if title := e.ChildText("title"); title != "" {
			result.Metadata["title"] = title
		}
		e.ForEach("meta[name='description']", func(_ int, meta *colly.HTMLElement) {
			if desc := meta.Attr("content"); desc != "" {
				result.Metadata["description"] = desc
			}
		})
		if links, err := f.Discover(context.Background(), result.Content, u); err == nil {
			result.Links = links
		}
	})

	err = f.collector.Visit(rawURL)
	if f.limiter != nil {
		f.limiter.Feedback(u.Hostname(), Feedback{StatusCode: result.Status, Latency: time.Since(start), Err: err})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", rawURL, err)
	}
	return result, nil
}

// Discover extracts outbound links from HTML content.
func (f *CollyFetcher) Discover(ctx context.Context, content []byte, baseURL *url.URL) ([]*url.URL, error) {
	if len(content) == 0 {
		return []*url.URL{}, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}
		if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
			return
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !linkURL.IsAbs() {
			linkURL = baseURL.ResolveReference(linkURL)
		}
		if f.isAllowedURL(linkURL) {
			links = append(links, linkURL)
			atomic.AddInt64(&f.stats.linksDiscovered, 1)
		}
	})
	return links, nil
}

// Configure applies a new policy, preserving accumulated Stats.
func (f *CollyFetcher) Configure(policy FetchPolicy) error {
	if err := validateFetchPolicy(policy); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	f.policy = policy
	if policy.Timeout > 0 {
		f.collector.SetRequestTimeout(policy.Timeout)
	}
	if policy.UserAgent != "" {
		f.collector.UserAgent = policy.UserAgent
	}
	if err := f.collector.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: policy.RequestDelay}); err != nil {
		return fmt.Errorf("failed to update rate limit: %w", err)
	}
	return nil
}

// Stats returns current fetch statistics.
func (f *CollyFetcher) Stats() FetcherStats {
	completed := atomic.LoadInt64(&f.stats.requestsCompleted)
	failed := atomic.LoadInt64(&f.stats.requestsFailed)
	links := atomic.LoadInt64(&f.stats.linksDiscovered)
	bytes := atomic.LoadInt64(&f.stats.bytesDownloaded)
	totalLatency := atomic.LoadInt64(&f.stats.totalLatency)

	var avgLatency time.Duration
	if completed > 0 {
		avgLatency = time.Duration(totalLatency / completed)
	}
	return FetcherStats{
		RequestsCompleted: completed,
		RequestsFailed:    failed,
		LinksDiscovered:   links,
		BytesDownloaded:   bytes,
		AverageLatency:    avgLatency,
	}
}

func (f *CollyFetcher) isAllowedURL(u *url.URL) bool {
	if len(f.policy.AllowedDomains) == 0 {
		return true
	}
	hostname := u.Hostname()
	for _, allowed := range f.policy.AllowedDomains {
		if hostname == allowed || strings.HasSuffix(hostname, "."+allowed) {
			return true
		}
	}
	return false
}
