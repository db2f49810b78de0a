package pagination

import "strings"

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Request is the offset pagination query accepted by list endpoints.
type Request struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	Search    string `form:"search"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}

// SortSpec whitelists sortable fields, mapping API names to columns.
type SortSpec struct {
	Columns      map[string]string
	DefaultField string
	DefaultOrder string
}

// Query is a normalized Request, safe to hand to the database layer.
type Query struct {
	Page     int
	PageSize int
	Search   string
	SortBy   string
	OrderBy  string
}

func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

func (r Request) Normalize(spec SortSpec) Query {
	page := r.Page
	if page < 1 {
		page = 1
	}
	size := r.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	field := strings.ToLower(strings.TrimSpace(r.SortBy))
	column, ok := spec.Columns[field]
	if !ok {
		field = spec.DefaultField
		column = spec.Columns[field]
	}

	order := strings.ToLower(strings.TrimSpace(r.SortOrder))
	if order != SortAsc && order != SortDesc {
		order = spec.DefaultOrder
	}
	if order != SortAsc && order != SortDesc {
		order = SortAsc
	}

	orderBy := ""
	if column != "" {
		orderBy = column + " " + order
	}

	return Query{
		Page:     page,
		PageSize: size,
		Search:   strings.TrimSpace(r.Search),
		SortBy:   field,
		OrderBy:  orderBy,
	}
}

type Page[T any] struct {
	Items     []T   `json:"items"`
	Total     int64 `json:"total"`
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	PageCount int   `json:"page_count"`
}

func NewPage[T any](items []T, total int64, q Query) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:     items,
		Total:     total,
		Page:      q.Page,
		PageSize:  q.PageSize,
		PageCount: PageCount(total, q.PageSize),
	}
}

func PageCount(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// LikeEscape is the escape character LikePattern uses; pair it with ESCAPE '!'.
const LikeEscape = "!"

// LikePattern escapes s for a case-insensitive LIKE match on lowered columns.
func LikePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
	return "%" + s + "%"
}
