package httpserver

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// OffsetParams is the parsed offset/limit pair used by the admin listing
// endpoints (keys, logs).
type OffsetParams struct {
	Offset int
	Limit  int
}

// ParseOffsetParams reads "offset" and "limit" query parameters, applying
// the default and maximum page size when absent or out of range.
func ParseOffsetParams(r *http.Request) OffsetParams {
	p := OffsetParams{Offset: 0, Limit: defaultPageLimit}

	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}

	return p
}

// OffsetPage is the generic envelope for an offset-paginated listing.
type OffsetPage[T any] struct {
	Items  []T `json:"items"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// NewOffsetPage builds an OffsetPage from a page of items, the params that
// produced it, and the total row count.
func NewOffsetPage[T any](items []T, params OffsetParams, total int) OffsetPage[T] {
	return OffsetPage[T]{
		Items:  items,
		Offset: params.Offset,
		Limit:  params.Limit,
		Total:  total,
	}
}
