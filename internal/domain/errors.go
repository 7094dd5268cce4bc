// Package domain defines core types and errors for the LibraAI client.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError indicates that no response was received from the remote API
// (connection refused, DNS failure, timeout).
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnauthorizedError indicates the remote API rejected the credentials or token.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError indicates invalid input, optionally with field-level detail.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// BusinessRuleError indicates the remote API (or a local pre-check mirroring
// it) refused an operation, e.g. borrowing with no copies left.
type BusinessRuleError struct {
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

// ErrTransport creates a TransportError wrapping cause.
func ErrTransport(cause error, format string, args ...interface{}) *TransportError {
	return &TransportError{Message: fmt.Sprintf(format, args...), Err: cause}
}

// ErrUnauthorized creates an UnauthorizedError with a formatted message.
func ErrUnauthorized(format string, args ...interface{}) *UnauthorizedError {
	return &UnauthorizedError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrBusinessRule creates a BusinessRuleError with a formatted message.
func ErrBusinessRule(format string, args ...interface{}) *BusinessRuleError {
	return &BusinessRuleError{Message: fmt.Sprintf(format, args...)}
}

// IsUnauthorized reports whether err is, or wraps, an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// UserMessage returns the message to show a user for err. Messages that came
// from the remote API (or a local rule check) are returned verbatim; anything
// else yields fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var (
		unauth   *UnauthorizedError
		notFound *NotFoundError
		denied   *AccessDeniedError
		invalid  *ValidationError
		rule     *BusinessRuleError
		carrier  interface{ UserMessage() string }
	)
	switch {
	case errors.As(err, &rule):
		return nonEmpty(rule.Message, fallback)
	case errors.As(err, &invalid):
		return nonEmpty(invalid.Error(), fallback)
	case errors.As(err, &notFound):
		return nonEmpty(notFound.Message, fallback)
	case errors.As(err, &denied):
		return nonEmpty(denied.Message, fallback)
	case errors.As(err, &unauth):
		return nonEmpty(unauth.Message, fallback)
	case errors.As(err, &carrier):
		return nonEmpty(carrier.UserMessage(), fallback)
	}
	return fallback
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
