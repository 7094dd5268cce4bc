package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Principal is the signed-in actor as reported by the identity service.
type Principal struct {
	ID            string    `json:"id" yaml:"id"`
	Username      string    `json:"username" yaml:"username"`
	Email         string    `json:"email" yaml:"email"`
	FullName      string    `json:"full_name" yaml:"full_name"`
	IsActive      bool      `json:"is_active" yaml:"is_active"`
	IsAdmin       bool      `json:"is_admin" yaml:"is_admin"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	BorrowedBooks []string  `json:"borrowed_books,omitempty" yaml:"borrowed_books,omitempty"`
	FavoriteBooks []string  `json:"favorite_books,omitempty" yaml:"favorite_books,omitempty"`
	FineAmount    float64   `json:"fine_amount" yaml:"fine_amount"`
}

// DisplayName returns the full name, falling back to the username.
func (p *Principal) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// LoginResult is the identity service response to a successful login.
type LoginResult struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        *Principal `json:"user"`
}

// TokenCheck is the identity service response to a token verification.
type TokenCheck struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
}

// RegisterRequest holds the fields needed to create an account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Validate checks that the request is well-formed.
func (r *RegisterRequest) Validate() error {
	var fields []FieldError
	if strings.TrimSpace(r.Username) == "" {
		fields = append(fields, FieldError{Field: "username", Message: "is required"})
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		fields = append(fields, FieldError{Field: "email", Message: "must be a valid address"})
	}
	if len(r.Password) < 6 {
		fields = append(fields, FieldError{Field: "password", Message: "must be at least 6 characters"})
	}
	if strings.TrimSpace(r.FullName) == "" {
		fields = append(fields, FieldError{Field: "full_name", Message: "is required"})
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid registration", Fields: fields}
	}
	return nil
}

// UserInput holds administrative create/update fields for an account.
type UserInput struct {
	Username *string  `json:"username,omitempty"`
	Email    *string  `json:"email,omitempty"`
	FullName *string  `json:"full_name,omitempty"`
	Password *string  `json:"password,omitempty"`
	IsActive *bool    `json:"is_active,omitempty"`
	IsAdmin  *bool    `json:"is_admin,omitempty"`
	Fine     *float64 `json:"fine_amount,omitempty"`
}
