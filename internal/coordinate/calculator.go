// Package coordinate converts between the live site's rendering order and
// the store's oldest-origin canonical coordinate.
package coordinate

import (
	"errors"
	"fmt"

	"mattercertis/models"
)

// ErrEmptySite is returned when a calculation is attempted against a site
// reporting zero total items.
var ErrEmptySite = errors.New("coordinate: site reports zero items")

// ErrInvalidSlot is returned when physicalPage/slot fall outside the
// rendered item count implied by totalPages/lastPageCount.
var ErrInvalidSlot = errors.New("coordinate: slot out of range for physical page")

// Coordinate is an oldest-origin canonical position: page_id 0 is the
// oldest page, index_in_page 0 is the oldest item on it.
type Coordinate struct {
	PageID      int
	IndexInPage int
}

// Calculate maps (physicalPage, slot) as rendered on the live, newest-first
// site into the oldest-origin (page_id, index_in_page) coordinate.
//
// physicalPage is 1-indexed from the newest page. slot is 0-indexed
// top-to-bottom as rendered on that page. totalPages (T) and
// lastPageCount (L, the item count on the oldest page, physical page T)
// describe the site snapshot being used for the conversion.
func Calculate(totalPages, lastPageCount, physicalPage, slot int) (Coordinate, error) {
	const n = models.ProductsPerPage
	if totalPages <= 0 {
		return Coordinate{}, ErrEmptySite
	}
	if lastPageCount < 1 || lastPageCount > n {
		return Coordinate{}, fmt.Errorf("coordinate: lastPageCount %d out of range [1,%d]", lastPageCount, n)
	}
	if physicalPage < 1 || physicalPage > totalPages {
		return Coordinate{}, fmt.Errorf("%w: physicalPage=%d totalPages=%d", ErrInvalidSlot, physicalPage, totalPages)
	}
	limit := n
	if physicalPage == totalPages {
		limit = lastPageCount
	}
	if slot < 0 || slot >= limit {
		return Coordinate{}, fmt.Errorf("%w: slot=%d limit=%d", ErrInvalidSlot, slot, limit)
	}

	total := (totalPages-1)*n + lastPageCount
	forward := (physicalPage-1)*n + slot
	reverse := total - 1 - forward

	return Coordinate{PageID: reverse / n, IndexInPage: reverse % n}, nil
}

// Total returns the absolute item count implied by a (totalPages,
// lastPageCount) site snapshot.
func Total(totalPages, lastPageCount int) int {
	if totalPages <= 0 {
		return 0
	}
	return (totalPages-1)*models.ProductsPerPage + lastPageCount
}

// ReverseIndex returns the monotone oldest-to-newest absolute index for a
// coordinate: page_id*N + index_in_page.
func ReverseIndex(c Coordinate) int {
	return c.PageID*models.ProductsPerPage + c.IndexInPage
}
