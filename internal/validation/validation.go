// Package validation implements §4.7's oldest-forward reconciliation pass:
// an independent, read-only audit that the store's (page_id, index_in_page)
// for every product still matches what internal/coordinate would assign
// under the site's current SiteStatus. Grounded on
// src-tauri/src/commands/validation_commands.rs's start_validation: same
// two-probe window resolution, same oldest-to-newest page walk, same
// per-page anomaly and shift-pattern detection, translated from its
// ad hoc Vec<DivergenceSample>/PerPageStat bookkeeping into typed Go values.
package validation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mattercertis/internal/coordinate"
	"mattercertis/internal/events"
	"mattercertis/internal/extractor"
	"mattercertis/internal/httpfetch"
	"mattercertis/internal/repository"
	"mattercertis/models"
)

// DivergenceKind classifies why a product's stored coordinate disagrees
// with the one the calculator assigns today.
type DivergenceKind string

const (
	DivergenceMissing DivergenceKind = "missing"
	DivergenceMismatch DivergenceKind = "coord_mismatch"
	DivergenceGap      DivergenceKind = "gap"
)

// Divergence is one product (or inter-page gap) whose expected and stored
// coordinates disagree.
type Divergence struct {
	URL                 string
	PhysicalPage        int
	Kind                DivergenceKind
	ExpectedPageID      int
	ExpectedIndexInPage int
	DBPageID            *int
	DBIndexInPage       *int
	Detail              string
}

// Anomaly is a per-page structural oddity unrelated to a specific stored
// coordinate (duplicate slot, sparse page, fetch/parse failure, ...).
type Anomaly struct {
	PhysicalPage int
	Code         string
	Detail       string
}

// GapRange is an unassigned span of absolute (oldest-origin) offsets
// between two consecutively scanned pages.
type GapRange struct {
	StartOffset int
	EndOffset   int
	Size        int
}

// PageStat summarizes one scanned physical page.
type PageStat struct {
	PhysicalPage        int
	ProductsFound       int
	Divergences         int
	Anomalies           int
	MismatchShiftPattern *int // non-nil when every coord_mismatch on the page shares db_index - expected_index
	MismatchMissing     int
	MismatchCoord       int
}

// Report is the full result of a validation pass.
type Report struct {
	PagesScanned               int
	PagesAttempted             int
	ProductsChecked            int
	Divergences                []Divergence
	Anomalies                  []Anomaly
	PerPage                    []PageStat
	HighestDivergencePage      *int
	LowestDivergencePage       *int
	GapRanges                  []GapRange
	CrossPageDuplicateURLs     int
	TotalPagesSite             int
	ItemsOnLastPage            int
	ResolvedStartOldest        int
	ResolvedEndNewest          int
	Duration                   time.Duration
}

// Range resolves the explicit-override vs dynamic-default scan window,
// mirroring CalculateRange's branching but for the read-only validation
// scan rather than the crawl planner.
type Range struct {
	StartOldest int // 0 means unset
	EndNewest   int // 0 means unset
	ScanPages   int // 0 means "use dynamic default"
}

// Config configures one validation pass.
type Config struct {
	Range                Range
	ValidationPageLimit  int // 0 means unlimited
}

// resolveWindow implements spec §4.7 step 3: explicit range (clamped,
// swapped if inverted) or a dynamic default starting at T and scanning
// backward, both capped by ValidationPageLimit.
func resolveWindow(cfg Config, totalPages int, storeSize int) (startOldest, endNewest int) {
	limit := cfg.ValidationPageLimit

	if cfg.Range.StartOldest > 0 || cfg.Range.EndNewest > 0 {
		start := cfg.Range.StartOldest
		end := cfg.Range.EndNewest
		if start == 0 {
			start = totalPages
		}
		if end == 0 {
			end = 1
		}
		if start > totalPages {
			start = totalPages
		}
		if end > start {
			start, end = end, start
		}
		if limit > 0 {
			span := start - end + 1
			if span > limit {
				end = start - limit + 1
				if end < 1 {
					end = 1
				}
			}
		}
		return start, end
	}

	pagesToScan := cfg.Range.ScanPages
	if pagesToScan <= 0 {
		pagesToScan = dynamicDefaultScanPages(storeSize, totalPages)
	}
	if limit > 0 && pagesToScan > limit {
		pagesToScan = limit
	}
	if pagesToScan > totalPages {
		pagesToScan = totalPages
	}
	if pagesToScan < 1 {
		pagesToScan = 1
	}

	startOldest = totalPages
	if pagesToScan >= totalPages {
		endNewest = 1
	} else {
		endNewest = totalPages - pagesToScan + 1
	}
	return startOldest, endNewest
}

// dynamicDefaultScanPages is the default scan span: every site page for a
// small store (at most 360 products), 30 pages for a larger one.
// resolveWindow counts the span back from the oldest page T, so a large
// store's default window is the 30 oldest pages.
func dynamicDefaultScanPages(storeSize, totalPages int) int {
	if storeSize <= 360 {
		return totalPages
	}
	return 30
}

// Deps are the validation pass's read-only collaborators.
type Deps struct {
	Fetcher    httpfetch.Fetcher
	Extractor  *extractor.Extractor
	Repository repository.Repository
	Bus        events.Bus
}

// Run executes the full oldest-forward reconciliation pass and returns its
// report. sessionID tags every emitted event; it need not correspond to an
// actor.Session.
func Run(ctx context.Context, deps Deps, cfg Config, sessionID string) (*Report, error) {
	start := time.Now()

	newest, err := deps.Fetcher.FetchListPage(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("validation: fetch newest page: %w", err)
	}
	totalPages, err := deps.Extractor.ExtractTotalPages(newest.Content)
	if err != nil || totalPages <= 0 {
		totalPages = 1
	}

	oldestContent := newest.Content
	oldestBase := newest.URL
	if totalPages > 1 {
		oldest, err := deps.Fetcher.FetchListPage(ctx, totalPages)
		if err != nil {
			return nil, fmt.Errorf("validation: fetch oldest page %d: %w", totalPages, err)
		}
		oldestContent, oldestBase = oldest.Content, oldest.URL
	}
	oldestCards, err := deps.Extractor.ExtractCards(oldestContent)
	if err != nil && err != extractor.ErrNoCards {
		return nil, fmt.Errorf("validation: extract oldest page %d: %w", totalPages, err)
	}
	itemsOnLastPage := len(oldestCards)
	if itemsOnLastPage == 0 {
		itemsOnLastPage = 1 // coordinate.Calculate requires lastPageCount in [1,N]
	}

	storeSize := 0
	if analysis, err := deps.Repository.Analyze(ctx); err == nil {
		storeSize = analysis.TotalProducts
	}
	startOldest, endNewest := resolveWindow(cfg, totalPages, storeSize)

	r := &Report{
		TotalPagesSite:      totalPages,
		ItemsOnLastPage:     itemsOnLastPage,
		ResolvedStartOldest: startOldest,
		ResolvedEndNewest:   endNewest,
	}

	emit(deps.Bus, sessionID, events.VariantValidationStarted, map[string]interface{}{
		"scan_pages": startOldest - endNewest + 1, "total_pages_site": totalPages,
	})

	seenURLs := make(map[string]struct{})
	var lastEndOffset *int

	for physicalPage := startOldest; physicalPage >= endNewest; physicalPage-- {
		r.PagesAttempted++

		var content []byte
		var base *url.URL
		switch physicalPage {
		case totalPages:
			content, base = oldestContent, oldestBase
		case 1:
			content, base = newest.Content, newest.URL
		default:
			fr, err := deps.Fetcher.FetchListPage(ctx, physicalPage)
			if err != nil {
				r.addAnomaly(deps.Bus, sessionID, physicalPage, "page_fetch_failed", err.Error())
				continue
			}
			content, base = fr.Content, fr.URL
		}

		cards, err := deps.Extractor.ExtractCards(content)
		if err != nil {
			if err == extractor.ErrNoCards {
				cards = nil
			} else {
				r.addAnomaly(deps.Bus, sessionID, physicalPage, "page_parse_failed", err.Error())
				continue
			}
		}

		isOldest := physicalPage == totalPages
		stat, newEndOffset := r.scanPage(ctx, deps, sessionID, physicalPage, cards, base, isOldest, itemsOnLastPage, totalPages, seenURLs, lastEndOffset)
		r.PerPage = append(r.PerPage, stat)
		if newEndOffset != nil {
			lastEndOffset = newEndOffset
		}
		r.PagesScanned++
	}

	r.Duration = time.Since(start)
	emit(deps.Bus, sessionID, events.VariantValidationCompleted, map[string]interface{}{
		"pages_scanned": r.PagesScanned, "products_checked": r.ProductsChecked,
		"divergences": len(r.Divergences), "anomalies": len(r.Anomalies),
		"duration_ms": r.Duration.Milliseconds(),
	})
	return r, nil
}

// scanPage walks one physical page's cards, classifying each against the
// store and detecting per-page anomalies and the inter-page gap since the
// previous scanned page.
func (r *Report) scanPage(ctx context.Context, deps Deps, sessionID string, physicalPage int, cards []extractor.Card, base *url.URL, isOldest bool, itemsOnLastPage, totalPages int, seenURLs map[string]struct{}, lastEndOffset *int) (PageStat, *int) {
	stat := PageStat{PhysicalPage: physicalPage, ProductsFound: len(cards)}

	urls := make([]string, len(cards))
	for i, c := range cards {
		urls[i] = resolveURL(base, c.URL)
	}
	for _, a := range detectPageAnomalies(physicalPage, urls, isOldest, itemsOnLastPage) {
		stat.Anomalies++
		r.Anomalies = append(r.Anomalies, a)
		emit(deps.Bus, sessionID, events.VariantValidationAnomaly, map[string]interface{}{
			"physical_page": physicalPage, "code": a.Code, "detail": a.Detail,
		})
	}

	var minOffset, maxOffset *int
	var shiftValues []int
	for slot, productURL := range urls {
		if productURL == "" {
			continue
		}
		coord, err := coordinate.Calculate(totalPages, itemsOnLastPage, physicalPage, slot)
		if err != nil {
			continue
		}
		offset := coordinate.ReverseIndex(coord)
		minOffset = minInt(minOffset, offset)
		maxOffset = maxInt(maxOffset, offset)

		if _, dup := seenURLs[productURL]; dup {
			r.CrossPageDuplicateURLs++
			stat.Anomalies++
			r.Anomalies = append(r.Anomalies, Anomaly{PhysicalPage: physicalPage, Code: "cross_page_duplicate", Detail: fmt.Sprintf("url=%s duplicate across pages", productURL)})
			emit(deps.Bus, sessionID, events.VariantValidationAnomaly, map[string]interface{}{
				"physical_page": physicalPage, "code": "cross_page_duplicate", "url": productURL,
			})
		}
		seenURLs[productURL] = struct{}{}

		stored, err := deps.Repository.ProductByURL(ctx, productURL)
		if err != nil || stored == nil {
			stat.Divergences++
			stat.MismatchMissing++
			d := Divergence{URL: productURL, PhysicalPage: physicalPage, Kind: DivergenceMissing, ExpectedPageID: coord.PageID, ExpectedIndexInPage: coord.IndexInPage, Detail: "missing in store"}
			r.Divergences = append(r.Divergences, d)
			r.trackDivergencePage(physicalPage)
			emit(deps.Bus, sessionID, events.VariantValidationDivergence, map[string]interface{}{
				"physical_page": physicalPage, "kind": string(DivergenceMissing), "url": productURL,
			})
			continue
		}

		if stored.PageID == coord.PageID && stored.IndexInPage == coord.IndexInPage {
			r.ProductsChecked++
			continue
		}

		stat.Divergences++
		stat.MismatchCoord++
		dbPageID, dbIndex := stored.PageID, stored.IndexInPage
		shiftValues = append(shiftValues, dbIndex-coord.IndexInPage)
		d := Divergence{
			URL: productURL, PhysicalPage: physicalPage, Kind: DivergenceMismatch,
			ExpectedPageID: coord.PageID, ExpectedIndexInPage: coord.IndexInPage,
			DBPageID: &dbPageID, DBIndexInPage: &dbIndex,
			Detail: fmt.Sprintf("db=(%d,%d) expected=(%d,%d)", dbPageID, dbIndex, coord.PageID, coord.IndexInPage),
		}
		r.Divergences = append(r.Divergences, d)
		r.trackDivergencePage(physicalPage)
		emit(deps.Bus, sessionID, events.VariantValidationDivergence, map[string]interface{}{
			"physical_page": physicalPage, "kind": string(DivergenceMismatch), "url": productURL,
		})
	}

	if len(shiftValues) > 0 {
		allSame := true
		for _, v := range shiftValues {
			if v != shiftValues[0] {
				allSame = false
				break
			}
		}
		if allSame {
			shift := shiftValues[0]
			stat.MismatchShiftPattern = &shift
		}
	}

	emit(deps.Bus, sessionID, events.VariantValidationPageScanned, map[string]interface{}{
		"physical_page": physicalPage, "products_found": len(cards),
	})

	if minOffset != nil && lastEndOffset != nil && *minOffset > *lastEndOffset+1 {
		gap := GapRange{StartOffset: *lastEndOffset + 1, EndOffset: *minOffset - 1, Size: *minOffset - *lastEndOffset - 1}
		r.GapRanges = append(r.GapRanges, gap)
		emit(deps.Bus, sessionID, events.VariantValidationDivergence, map[string]interface{}{
			"physical_page": physicalPage, "kind": string(DivergenceGap),
			"start_offset": gap.StartOffset, "end_offset": gap.EndOffset,
		})
	}
	if maxOffset != nil {
		lastEndOffset = maxOffset
	}

	return stat, lastEndOffset
}

func (r *Report) trackDivergencePage(physicalPage int) {
	if r.HighestDivergencePage == nil || physicalPage > *r.HighestDivergencePage {
		p := physicalPage
		r.HighestDivergencePage = &p
	}
	if r.LowestDivergencePage == nil || physicalPage < *r.LowestDivergencePage {
		p := physicalPage
		r.LowestDivergencePage = &p
	}
}

func (r *Report) addAnomaly(bus events.Bus, sessionID string, physicalPage int, code, detail string) {
	r.Anomalies = append(r.Anomalies, Anomaly{PhysicalPage: physicalPage, Code: code, Detail: detail})
	emit(bus, sessionID, events.VariantValidationAnomaly, map[string]interface{}{
		"physical_page": physicalPage, "code": code, "detail": detail,
	})
}

// detectPageAnomalies implements spec §4.7 step 4d's structural checks:
// duplicate slot within a page, a non-oldest page short of a full page, and
// the oldest page overflowing or emptying out.
func detectPageAnomalies(physicalPage int, urls []string, isOldest bool, itemsOnLastPage int) []Anomaly {
	var anomalies []Anomaly

	counts := make(map[string]int, len(urls))
	for _, u := range urls {
		if u != "" {
			counts[u]++
		}
	}
	for u, c := range counts {
		if c > 1 {
			anomalies = append(anomalies, Anomaly{PhysicalPage: physicalPage, Code: "duplicate_index", Detail: fmt.Sprintf("url=%s count=%d", u, c)})
		}
	}

	if !isOldest && len(urls) < models.ProductsPerPage {
		anomalies = append(anomalies, Anomaly{PhysicalPage: physicalPage, Code: "sparse_page", Detail: fmt.Sprintf("found=%d expected=%d", len(urls), models.ProductsPerPage)})
	}

	if isOldest {
		if len(urls) > itemsOnLastPage {
			anomalies = append(anomalies, Anomaly{PhysicalPage: physicalPage, Code: "oldest_page_overflow", Detail: fmt.Sprintf("items=%d expected=%d", len(urls), itemsOnLastPage)})
		}
		if len(urls) == 0 {
			anomalies = append(anomalies, Anomaly{PhysicalPage: physicalPage, Code: "oldest_page_empty", Detail: "zero products on oldest page"})
		}
	}

	return anomalies
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() || base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func emit(bus events.Bus, sessionID string, variant events.Variant, fields map[string]interface{}) {
	if bus == nil {
		return
	}
	_ = bus.Publish(events.Event{SessionID: sessionID, Category: events.CategoryValidation, Variant: variant, Fields: fields})
}

func minInt(cur *int, v int) *int {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func maxInt(cur *int, v int) *int {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}
