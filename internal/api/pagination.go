package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPage    = 1
	defaultPerPage = 20
	maxPerPage     = 100
)

// PaginationParams holds parsed pagination query parameters.
type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and page_size (per_page is accepted too).
// Defaults: page=1, page_size=20, capped at 100. Invalid values fall back
// to the defaults.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	p := PaginationParams{Page: defaultPage, PerPage: defaultPerPage}

	if n, ok := positiveInt(q.Get("page")); ok {
		p.Page = n
	}
	size := q.Get("page_size")
	if size == "" {
		size = q.Get("per_page")
	}
	if n, ok := positiveInt(size); ok {
		p.PerPage = min(n, maxPerPage)
	}
	return p
}

func positiveInt(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n > 0
}

// Offset returns the database offset for the current page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages returns the number of pages needed for total items.
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// Page is the list envelope of paginated endpoints.
type Page[T any] struct {
	Results    []T   `json:"results"`
	Count      int64 `json:"count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPage wraps one page of results.
func NewPage[T any](p PaginationParams, results []T, total int64) Page[T] {
	if results == nil {
		results = []T{}
	}
	return Page[T]{
		Results:    results,
		Count:      total,
		Page:       p.Page,
		PageSize:   p.PerPage,
		TotalPages: p.TotalPages(total),
	}
}
