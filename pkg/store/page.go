package store

// Page is one page of a listing in the envelope the task API returns.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// Paginate returns page number page (from 1) of rows, limit rows per page.
// Page and limit are clamped to at least 1. A page past the end has no
// items but still reports the total.
func Paginate[T any](rows []T, page, limit int) Page[T] {
	page, limit = max(page, 1), max(limit, 1)
	total := len(rows)
	lo := min((page-1)*limit, total)
	hi := min(lo+limit, total)
	return Page[T]{
		Items:   append([]T{}, rows[lo:hi]...),
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasNext: hi < total,
		HasPrev: page > 1,
	}
}
