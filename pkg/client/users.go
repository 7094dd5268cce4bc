package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"libraai/internal/domain"
)

// ListUsers returns one page of accounts (administrative).
func (c *Client) ListUsers(ctx context.Context, search string, page domain.PageRequest) ([]domain.AdminUser, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(page.Offset()))
	q.Set("limit", strconv.Itoa(page.Limit()))
	if search != "" {
		q.Set("search", search)
	}
	var out []domain.AdminUser
	if err := c.DoJSON(ctx, http.MethodGet, "/users/", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// GetUser returns a single account (administrative).
func (c *Client) GetUser(ctx context.Context, id string) (*domain.AdminUser, error) {
	var out domain.AdminUser
	if err := c.DoJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &out, nil
}

// CreateUser creates an account (administrative).
func (c *Client) CreateUser(ctx context.Context, in domain.UserInput) (*domain.AdminUser, error) {
	var out domain.AdminUser
	if err := c.DoJSON(ctx, http.MethodPost, "/users/", nil, in, &out); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &out, nil
}

// UpdateUser changes an account (administrative).
func (c *Client) UpdateUser(ctx context.Context, id string, in domain.UserInput) (*domain.AdminUser, error) {
	var out domain.AdminUser
	if err := c.DoJSON(ctx, http.MethodPut, "/users/"+url.PathEscape(id), nil, in, &out); err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	return &out, nil
}

// DeleteUser removes an account (administrative).
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	if err := c.DoJSON(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

// DashboardStats returns the administrative console summary.
func (c *Client) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	var out domain.DashboardStats
	if err := c.DoJSON(ctx, http.MethodGet, "/stats/admin-dashboard", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return &out, nil
}
