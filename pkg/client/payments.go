package client

import (
	"context"
	"fmt"
	"net/http"

	"libraai/internal/domain"
)

// CreatePayment requests a payment intent; the user must authorize it at the
// returned approval URL.
func (c *Client) CreatePayment(ctx context.Context, amount float64, description string) (*domain.PaymentIntent, error) {
	var out domain.PaymentIntent
	body := map[string]any{"amount": amount, "description": description}
	if err := c.DoJSON(ctx, http.MethodPost, "/payments/create", nil, body, &out); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return &out, nil
}

// ExecutePayment finalizes an authorized payment using the correlation ids
// the payment processor redirected back with.
func (c *Client) ExecutePayment(ctx context.Context, paymentID, payerID string) (*domain.PaymentReceipt, error) {
	var out domain.PaymentReceipt
	body := map[string]string{"payment_id": paymentID, "payer_id": payerID}
	if err := c.DoJSON(ctx, http.MethodPost, "/payments/execute", nil, body, &out); err != nil {
		return nil, fmt.Errorf("execute payment: %w", err)
	}
	return &out, nil
}

// PaymentHistory lists the current principal's payments.
func (c *Client) PaymentHistory(ctx context.Context) ([]domain.Payment, error) {
	var out struct {
		Payments []domain.Payment `json:"payments"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/payments/history", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("payment history: %w", err)
	}
	return out.Payments, nil
}

// Balance returns the current principal's outstanding fine.
func (c *Client) Balance(ctx context.Context) (*domain.Balance, error) {
	var out domain.Balance
	if err := c.DoJSON(ctx, http.MethodGet, "/payments/balance", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &out, nil
}

// OverdueLoans lists the current principal's overdue loans with their fines.
func (c *Client) OverdueLoans(ctx context.Context) ([]domain.OverdueLoan, error) {
	var out struct {
		Overdue []domain.OverdueLoan `json:"overdue_borrowings"`
		Total   int                  `json:"total_count"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/payments/overdue-borrowings", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}
	return out.Overdue, nil
}

// UpdateAllFines recomputes fines for every overdue loan (administrative).
func (c *Client) UpdateAllFines(ctx context.Context) (*domain.FineUpdate, error) {
	var out domain.FineUpdate
	if err := c.DoJSON(ctx, http.MethodPost, "/payments/update-fines", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("update fines: %w", err)
	}
	return &out, nil
}
