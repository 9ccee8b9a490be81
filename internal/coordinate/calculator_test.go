package coordinate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattercertis/models"
)

func TestCalculate_Boundaries(t *testing.T) {
	// calc(T,L,T,L-1) = (0,0): the single oldest rendered item is origin.
	c, err := Calculate(3, 5, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, Coordinate{PageID: 0, IndexInPage: 0}, c)

	// calc(T,L,1,0) = the newest item has the largest reverse coordinate.
	total := Total(3, 5)
	c, err = Calculate(3, 5, 1, 0)
	require.NoError(t, err)
	wantReverse := total - 1
	assert.Equal(t, wantReverse/models.ProductsPerPage, c.PageID)
	assert.Equal(t, wantReverse%models.ProductsPerPage, c.IndexInPage)
}

func TestCalculate_Bijection(t *testing.T) {
	const T, L = 3, 5
	total := Total(T, L)
	seen := make(map[int]bool, total)
	for page := 1; page <= T; page++ {
		limit := models.ProductsPerPage
		if page == T {
			limit = L
		}
		for slot := 0; slot < limit; slot++ {
			c, err := Calculate(T, L, page, slot)
			require.NoError(t, err)
			idx := ReverseIndex(c)
			require.False(t, seen[idx], "duplicate reverse index %d", idx)
			seen[idx] = true
			require.Less(t, idx, total)
		}
	}
	assert.Len(t, seen, total)
}

func TestCalculate_EmptySite(t *testing.T) {
	_, err := Calculate(0, 0, 1, 0)
	assert.ErrorIs(t, err, ErrEmptySite)
}

func TestCalculate_InvalidSlot(t *testing.T) {
	_, err := Calculate(3, 5, 3, 5) // oldest page only has L=5 items (slots 0..4)
	assert.ErrorIs(t, err, ErrInvalidSlot)

	_, err = Calculate(3, 5, 4, 0) // physicalPage beyond totalPages
	assert.ErrorIs(t, err, ErrInvalidSlot)
}
