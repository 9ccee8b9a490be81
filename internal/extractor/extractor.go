// Package extractor turns fetched listing/detail HTML into Product and
// ProductDetail rows via CSS-selector field extraction (§6's HTML
// contract), converting the detail description to Markdown.
package extractor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// CardSelectors locates each product card on a listing page and the fields
// within it. Cards are read top-to-bottom as rendered (newest first).
type CardSelectors struct {
	Card          string
	Link          string
	Manufacturer  string
	Model         string
	CertificateID string
}

// DetailSelectors locates the label/value table and free-text description
// block on a detail page.
type DetailSelectors struct {
	Row         string
	Label       string
	Value       string
	Description string
}

// PaginationSelectors locates the total-page-count anchor on a listing page.
type PaginationSelectors struct {
	TotalPages string
}

// Selectors is the full set consumed by an Extractor, populated from
// advanced.product_selectors.
type Selectors struct {
	Card       CardSelectors
	Detail     DetailSelectors
	Pagination PaginationSelectors
}

// DefaultSelectors matches a conventional card-grid / definition-table
// markup shape; real sites override via configuration.
func DefaultSelectors() Selectors {
	return Selectors{
		Card: CardSelectors{
			Card:          ".product-card",
			Link:          "a.product-link",
			Manufacturer:  ".manufacturer",
			Model:         ".model",
			CertificateID: ".certificate-id",
		},
		Detail: DetailSelectors{
			Row:         "table.spec-table tr",
			Label:       "th, td.label",
			Value:       "td.value",
			Description: ".product-description",
		},
		Pagination: PaginationSelectors{TotalPages: ".pagination .last"},
	}
}

// Card is one extracted listing-page row, still in rendered (slot) order —
// coordinate assignment happens in internal/coordinate, not here.
type Card struct {
	URL           string
	Manufacturer  string
	Model         string
	CertificateID string
}

// ErrNoCards is returned when a listing page's card selector matches
// nothing.
var ErrNoCards = fmt.Errorf("extractor: no product cards matched")

// Extractor extracts Cards, ProductDetail fields, and pagination metadata
// from fetched HTML using a configured Selectors set.
type Extractor struct {
	selectors Selectors
	md        *markdownConverter
}

// New constructs an Extractor over the given selectors.
func New(selectors Selectors) *Extractor {
	return &Extractor{selectors: selectors, md: newMarkdownConverter()}
}

// ExtractCards returns every card on a listing page in rendered order.
func (e *Extractor) ExtractCards(content []byte) ([]Card, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("extractor: parse listing page: %w", err)
	}

	sel := e.selectors.Card
	nodes := doc.Find(sel.Card)
	if nodes.Length() == 0 {
		return nil, ErrNoCards
	}

	cards := make([]Card, 0, nodes.Length())
	nodes.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Find(sel.Link).Attr("href")
		cards = append(cards, Card{
			URL:           strings.TrimSpace(href),
			Manufacturer:  strings.TrimSpace(s.Find(sel.Manufacturer).First().Text()),
			Model:         strings.TrimSpace(s.Find(sel.Model).First().Text()),
			CertificateID: strings.TrimSpace(s.Find(sel.CertificateID).First().Text()),
		})
	})
	return cards, nil
}

// ExtractTotalPages reads the site's total page count from a pagination
// anchor's text.
func (e *Extractor) ExtractTotalPages(content []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return 0, fmt.Errorf("extractor: parse listing page: %w", err)
	}
	text := strings.TrimSpace(doc.Find(e.selectors.Pagination.TotalPages).First().Text())
	if text == "" {
		return 0, fmt.Errorf("extractor: no pagination anchor matched %q", e.selectors.Pagination.TotalPages)
	}
	n, err := strconv.Atoi(onlyDigits(text))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("extractor: pagination anchor text %q is not a positive page count", text)
	}
	return n, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetailFields is the raw field set extracted from a detail page's
// label/value table plus its description block, before time parsing.
type DetailFields struct {
	DeviceType         string
	CertificationID    string
	CertificationDate  string
	SoftwareVersion    string
	HardwareVersion    string
	FirmwareVersion    string
	VID                string
	PID                string
	FamilyID           string
	FamilyName         string
	SpecificationVer   string
	TransportInterface string
	ProgramType        string
	DescriptionHTML    string
}

// labelAliases maps normalized table-row labels to the DetailFields setter
// they populate. Several label spellings are accepted per field since
// source sites are not under our control.
var labelAliases = map[string]func(*DetailFields, string){
	"device type":           func(d *DetailFields, v string) { d.DeviceType = v },
	"certification id":      func(d *DetailFields, v string) { d.CertificationID = v },
	"certificate id":        func(d *DetailFields, v string) { d.CertificationID = v },
	"certification date":    func(d *DetailFields, v string) { d.CertificationDate = v },
	"software version":      func(d *DetailFields, v string) { d.SoftwareVersion = v },
	"hardware version":      func(d *DetailFields, v string) { d.HardwareVersion = v },
	"firmware version":      func(d *DetailFields, v string) { d.FirmwareVersion = v },
	"vendor id":             func(d *DetailFields, v string) { d.VID = v },
	"vendor id (vid)":       func(d *DetailFields, v string) { d.VID = v },
	"vid":                   func(d *DetailFields, v string) { d.VID = v },
	"product id":            func(d *DetailFields, v string) { d.PID = v },
	"product id (pid)":      func(d *DetailFields, v string) { d.PID = v },
	"pid":                   func(d *DetailFields, v string) { d.PID = v },
	"family id":             func(d *DetailFields, v string) { d.FamilyID = v },
	"family name":           func(d *DetailFields, v string) { d.FamilyName = v },
	"specification version": func(d *DetailFields, v string) { d.SpecificationVer = v },
	"transport interface":   func(d *DetailFields, v string) { d.TransportInterface = v },
	"program type":          func(d *DetailFields, v string) { d.ProgramType = v },
}

// ExtractDetailFields reads the label/value table and description block off
// a detail page.
func (e *Extractor) ExtractDetailFields(content []byte) (*DetailFields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("extractor: parse detail page: %w", err)
	}

	sel := e.selectors.Detail
	fields := &DetailFields{}
	doc.Find(sel.Row).Each(func(_ int, row *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(row.Find(sel.Label).First().Text()))
		label = strings.TrimSuffix(label, ":")
		value := strings.TrimSpace(row.Find(sel.Value).First().Text())
		if label == "" || value == "" {
			return
		}
		if setter, ok := labelAliases[label]; ok {
			setter(fields, value)
		}
	})

	if desc := doc.Find(sel.Description).First(); desc.Length() > 0 {
		if html, err := desc.Html(); err == nil {
			fields.DescriptionHTML = html
		}
	}
	return fields, nil
}

// ParseCertificationDate attempts several common date layouts, returning
// the zero time if none match (a malformed date does not fail extraction).
func ParseCertificationDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339, "2006-01-02", "January 2, 2006", "Jan 2, 2006", "01/02/2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DescriptionMarkdown converts a description field's raw HTML to Markdown.
func (e *Extractor) DescriptionMarkdown(html string) (string, error) {
	return e.md.Convert(html)
}
