package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"libraai/internal/domain"
)

// Borrow creates a loan for a catalog item.
func (c *Client) Borrow(ctx context.Context, bookID string) (*domain.Loan, error) {
	var out domain.Loan
	if err := c.DoJSON(ctx, http.MethodPost, "/borrowings/borrow", nil, map[string]string{"book_id": bookID}, &out); err != nil {
		return nil, fmt.Errorf("borrow: %w", err)
	}
	return &out, nil
}

// Return closes a loan and reports the finalized fine.
func (c *Client) Return(ctx context.Context, loanID string) (*domain.ReturnResult, error) {
	var out domain.ReturnResult
	if err := c.DoJSON(ctx, http.MethodPost, "/borrowings/return/"+url.PathEscape(loanID), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("return: %w", err)
	}
	return &out, nil
}

// Renew extends a loan's due date.
func (c *Client) Renew(ctx context.Context, loanID string) (*domain.RenewResult, error) {
	var out domain.RenewResult
	if err := c.DoJSON(ctx, http.MethodPost, "/borrowings/renew/"+url.PathEscape(loanID), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("renew: %w", err)
	}
	return &out, nil
}

// Reserve queues a claim on a catalog item with no available copy.
func (c *Client) Reserve(ctx context.Context, bookID string) (*domain.Reservation, error) {
	var out domain.Reservation
	if err := c.DoJSON(ctx, http.MethodPost, "/borrowings/reserve", nil, map[string]string{"book_id": bookID}, &out); err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	return &out, nil
}

// MyLoans lists the current principal's loans, optionally filtered by status.
func (c *Client) MyLoans(ctx context.Context, status domain.LoanStatus) ([]domain.Loan, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	var out []domain.Loan
	if err := c.DoJSON(ctx, http.MethodGet, "/borrowings/my-borrowings", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return out, nil
}

// MyReservations lists the current principal's reservations.
func (c *Client) MyReservations(ctx context.Context) ([]domain.Reservation, error) {
	var out []domain.Reservation
	if err := c.DoJSON(ctx, http.MethodGet, "/borrowings/my-reservations", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}
