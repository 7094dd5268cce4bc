package client

import (
	"context"

	"libraai/internal/domain"
)

// maxPages bounds FetchAllPages against a server that never returns a short page.
const maxPages = 1000

// FetchAllPages calls fetch with successive skip/limit pages until a page
// comes back shorter than the page size.
func FetchAllPages[T any](ctx context.Context, pageSize int, fetch func(context.Context, domain.PageRequest) ([]T, error)) ([]T, error) {
	var all []T
	for page := 0; page < maxPages; page++ {
		req := domain.PageRequest{Page: page, PageSize: pageSize}
		items, err := fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < req.Limit() {
			break
		}
	}
	return all, nil
}

// AllBooks walks the whole catalog listing matching q.
func (c *Client) AllBooks(ctx context.Context, q domain.BookQuery) ([]domain.Book, error) {
	return FetchAllPages(ctx, domain.MaxPageSize, func(ctx context.Context, p domain.PageRequest) ([]domain.Book, error) {
		q.Page = p
		return c.ListBooks(ctx, q)
	})
}
