package client

import (
	"context"
	"fmt"
	"net/http"

	"libraai/internal/domain"
)

// Login exchanges credentials for a bearer token and principal.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	var out domain.LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.DoJSON(ctx, http.MethodPost, "/auth/login", nil, body, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &out, nil
}

// Register creates an account. It does not sign the account in.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Principal, error) {
	var out domain.Principal
	if err := c.DoJSON(ctx, http.MethodPost, "/auth/register", nil, req, &out); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &out, nil
}

// VerifyToken asks the identity service whether token is still valid. The
// token is sent explicitly rather than taken from the token source.
func (c *Client) VerifyToken(ctx context.Context, token string) (*domain.TokenCheck, error) {
	resp, err := c.DoWithToken(ctx, token, http.MethodGet, "/auth/verify-token", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	var out domain.TokenCheck
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return &out, nil
}

// Me returns the principal the current token belongs to.
func (c *Client) Me(ctx context.Context) (*domain.Principal, error) {
	var out domain.Principal
	if err := c.DoJSON(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return &out, nil
}

// ForgotPassword requests a password-reset email.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, "/auth/forgot-password", nil, map[string]string{"email": email}, &out); err != nil {
		return "", fmt.Errorf("forgot password: %w", err)
	}
	return out.Message, nil
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, resetToken, newPassword string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	body := map[string]string{"token": resetToken, "new_password": newPassword}
	if err := c.DoJSON(ctx, http.MethodPost, "/auth/reset-password", nil, body, &out); err != nil {
		return "", fmt.Errorf("reset password: %w", err)
	}
	return out.Message, nil
}

// Ping checks that the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.DoJSON(ctx, http.MethodGet, "/auth/ping", nil, nil, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
