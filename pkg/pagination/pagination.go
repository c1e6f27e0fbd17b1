package pagination

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
)

const (
	// DefaultPageSize is used when the client does not ask for a size
	DefaultPageSize = 15
	// MaxPageSize caps page[size]
	MaxPageSize = 100
)

// Pagination describes the page that was returned
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrev     bool  `json:"has_prev"`
}

// PaginationParams represents input parameters for pagination
type PaginationParams struct {
	Page    int `form:"page[number]" json:"page"`
	PerPage int `form:"page[size]" json:"per_page"`
}

// DefaultPagination returns default pagination values
func DefaultPagination() *PaginationParams {
	return &PaginationParams{
		Page:    1,
		PerPage: DefaultPageSize,
	}
}

// FromQuery reads page[number] and page[size]; malformed values fall back to defaults
func FromQuery(q url.Values) *PaginationParams {
	p := DefaultPagination()
	if n, err := strconv.Atoi(q.Get("page[number]")); err == nil {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("page[size]")); err == nil {
		p.PerPage = n
	}
	p.Validate()
	return p
}

// Validate ensures pagination parameters are within valid ranges
func (p *PaginationParams) Validate() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPageSize
	}
	if p.PerPage > MaxPageSize {
		p.PerPage = MaxPageSize
	}
}

// Offset calculates the offset for SQL queries
func (p *PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// NewPagination creates a new Pagination response
func NewPagination(page, perPage int, total int64) *Pagination {
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))

	return &Pagination{
		CurrentPage: page,
		PerPage:     perPage,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// Links builds JSON:API pagination links relative to base
func (p *Pagination) Links(base string) map[string]string {
	link := func(page int) string {
		return fmt.Sprintf("%s?page[number]=%d&page[size]=%d", base, page, p.PerPage)
	}
	links := map[string]string{
		"self":  link(p.CurrentPage),
		"first": link(1),
	}
	if p.TotalPages > 0 {
		links["last"] = link(p.TotalPages)
	}
	if p.HasPrev {
		links["prev"] = link(p.CurrentPage - 1)
	}
	if p.HasNext {
		links["next"] = link(p.CurrentPage + 1)
	}
	return links
}

// PaginatedResult represents a paginated result with items and pagination info
type PaginatedResult[T any] struct {
	Items      []T         `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// NewPaginatedResult creates a new paginated result
func NewPaginatedResult[T any](items []T, pagination *Pagination) *PaginatedResult[T] {
	return &PaginatedResult[T]{
		Items:      items,
		Pagination: pagination,
	}
}
