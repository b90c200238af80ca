// Package calculator holds the ledger's pure arithmetic: balance movement
// for a transfer and page windows over an account's history.
package calculator

import "fmt"

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Page describes one window of a newest-first listing.
type Page struct {
	CurrentPage int
	Limit       int
	Offset      int
	TotalPages  int
	TotalItems  int
	HasNextPage bool
	HasPrevPage bool
}

// ValidatePaging checks page and limit as supplied by a caller.
func ValidatePaging(page, limit int) error {
	if page < 1 {
		return fmt.Errorf("page must be at least 1, got %d", page)
	}
	if limit < 1 || limit > MaxLimit {
		return fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, limit)
	}
	return nil
}

// Paginate computes the window for page over total items, limit per page.
// A page past the end yields an empty window with HasNextPage false.
func Paginate(page, limit, total int) (Page, error) {
	if err := ValidatePaging(page, limit); err != nil {
		return Page{}, err
	}
	if total < 0 {
		total = 0
	}

	totalPages := (total + limit - 1) / limit

	return Page{
		CurrentPage: page,
		Limit:       limit,
		Offset:      (page - 1) * limit,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}, nil
}
