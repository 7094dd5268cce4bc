package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"libraai/internal/domain"
)

// ListBooks returns one page of the catalog.
func (c *Client) ListBooks(ctx context.Context, q domain.BookQuery) ([]domain.Book, error) {
	var out []domain.Book
	if err := c.DoJSON(ctx, http.MethodGet, "/books/", q.Values(), nil, &out); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return out, nil
}

// GetBook returns a single catalog item.
func (c *Client) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	var out domain.Book
	if err := c.DoJSON(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return &out, nil
}

// Categories returns the distinct catalog categories.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var out struct {
		Categories []string `json:"categories"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/books/categories/list", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out.Categories, nil
}

// CreateBook adds a catalog item (administrative).
func (c *Client) CreateBook(ctx context.Context, in domain.BookInput) (*domain.Book, error) {
	var out domain.Book
	if err := c.DoJSON(ctx, http.MethodPost, "/books/", nil, in, &out); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	return &out, nil
}

// UpdateBook replaces a catalog item's fields (administrative).
func (c *Client) UpdateBook(ctx context.Context, id string, in domain.BookInput) (*domain.Book, error) {
	var out domain.Book
	if err := c.DoJSON(ctx, http.MethodPut, "/books/"+url.PathEscape(id), nil, in, &out); err != nil {
		return nil, fmt.Errorf("update book %s: %w", id, err)
	}
	return &out, nil
}

// CreateBookWithCover adds a catalog item together with its cover image
// (administrative).
func (c *Client) CreateBookWithCover(ctx context.Context, in domain.BookInput, cover domain.Cover) (*domain.Book, error) {
	var out domain.Book
	err := c.UploadForm(ctx, http.MethodPost, "/books/upload", in.FormValues(), "cover_image", cover.Filename, bytes.NewReader(cover.Data), &out)
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	return &out, nil
}

// UpdateBookWithCover replaces a catalog item's fields and its cover image
// (administrative).
func (c *Client) UpdateBookWithCover(ctx context.Context, id string, in domain.BookInput, cover domain.Cover) (*domain.Book, error) {
	var out domain.Book
	err := c.UploadForm(ctx, http.MethodPut, "/books/"+url.PathEscape(id)+"/upload", in.FormValues(), "cover_image", cover.Filename, bytes.NewReader(cover.Data), &out)
	if err != nil {
		return nil, fmt.Errorf("update book %s: %w", id, err)
	}
	return &out, nil
}

// DeleteBook removes a catalog item (administrative).
func (c *Client) DeleteBook(ctx context.Context, id string) error {
	if err := c.DoJSON(ctx, http.MethodDelete, "/books/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete book %s: %w", id, err)
	}
	return nil
}

// ReportProblem files a problem report against a catalog item.
func (c *Client) ReportProblem(ctx context.Context, bookID string, report domain.ProblemReport) (string, error) {
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	body := map[string]any{"problem": report}
	if err := c.DoJSON(ctx, http.MethodPost, "/books/report-problem/"+url.PathEscape(bookID), nil, body, &out); err != nil {
		return "", fmt.Errorf("report problem: %w", err)
	}
	return out.Message, nil
}

// AddFavorite marks a catalog item as a favorite of the current principal.
func (c *Client) AddFavorite(ctx context.Context, bookID string) error {
	if err := c.DoJSON(ctx, http.MethodPost, "/users/favorites/add/"+url.PathEscape(bookID), nil, nil, nil); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unmarks a favorite.
func (c *Client) RemoveFavorite(ctx context.Context, bookID string) error {
	if err := c.DoJSON(ctx, http.MethodPost, "/users/favorites/remove/"+url.PathEscape(bookID), nil, nil, nil); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// Favorites lists the current principal's favorite catalog items.
func (c *Client) Favorites(ctx context.Context) ([]domain.Book, error) {
	var out []domain.Book
	if err := c.DoJSON(ctx, http.MethodGet, "/users/favorites", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return out, nil
}
