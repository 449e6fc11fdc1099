// Package listutil pages and filters record lists for the request inboxes.
package listutil

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultPerPage is the page size when the request names none.
const DefaultPerPage = 20

// PerPageOptions are the allowed page sizes.
var PerPageOptions = []int{10, 20, 50, 100}

// Params is a parsed list request. Paged is false when the request asked for
// neither a page nor a page size, in which case the whole list is returned.
type Params struct {
	Page    int
	PerPage int
	Paged   bool
	Status  string
}

// PageInfo describes the page that was returned.
type PageInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ParseParams reads page, per_page and status from q.
// POST: Page >= 1; PerPage is one of PerPageOptions; Status is upper case
func ParseParams(q url.Values) Params {
	p := Params{Page: 1, PerPage: DefaultPerPage}
	if v := q.Get("page"); v != "" {
		p.Paged = true
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			p.Page = n
		}
	}
	if v := q.Get("per_page"); v != "" {
		p.Paged = true
		if n, err := strconv.Atoi(v); err == nil && isValidPerPage(n) {
			p.PerPage = n
		}
	}
	p.Status = strings.ToUpper(strings.TrimSpace(q.Get("status")))
	return p
}

// Filter keeps the items whose status equals want. An empty want keeps all.
func Filter[T any](items []T, want string, status func(T) string) []T {
	if want == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		if status(it) == want {
			out = append(out, it)
		}
	}
	return out
}

// Paginate returns one page of items.
// POST: info.Page is clamped to [1, TotalPages]
func Paginate[T any](items []T, p Params) ([]T, PageInfo) {
	info := NewPageInfo(p.Page, p.PerPage, len(items))
	start := (info.Page - 1) * info.PerPage
	end := start + info.PerPage
	if end > len(items) {
		end = len(items)
	}
	if start > end {
		start = end
	}
	return items[start:end], info
}

// NewPageInfo computes pagination metadata.
// PRE: total >= 0
func NewPageInfo(page, perPage, total int) PageInfo {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	return PageInfo{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

func isValidPerPage(n int) bool {
	for _, opt := range PerPageOptions {
		if n == opt {
			return true
		}
	}
	return false
}
