package domain

// DefaultPageSize is the catalog page size when none is specified.
const DefaultPageSize = 20

// MaxPageSize is the maximum page size accepted by the remote API.
const MaxPageSize = 100

// PageRequest holds skip/limit pagination parameters for list operations.
type PageRequest struct {
	Page     int // zero-based
	PageSize int
}

// Offset returns the number of items to skip.
func (p PageRequest) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return p.Page * p.Limit()
}

// Limit returns the effective page size, clamped to [1, MaxPageSize].
func (p PageRequest) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}
