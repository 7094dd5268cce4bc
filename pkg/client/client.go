// Package client is the HTTP adapter for the LibraAI API. It injects bearer
// credentials, enforces a request timeout, classifies failures into the
// domain error taxonomy, and exposes typed wrappers for every endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"libraai/internal/domain"
)

// DefaultTimeout is the fixed per-request timeout.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response that does not map onto a more specific
// domain error.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// UserMessage exposes the collaborator's message for user-visible notices.
func (e *APIError) UserMessage() string { return e.Message }

// Client issues authenticated requests against the LibraAI API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	tokenSource    func() string
	onUnauthorized func(token string)
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

// WithTokenSource sets the function consulted for a bearer token on every request.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.tokenSource = fn }
}

// WithUnauthorizedHandler registers fn to be called whenever any request is
// answered with 401. fn receives the token that request carried.
func WithUnauthorizedHandler(fn func(token string)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithRateLimit throttles outgoing requests with a token bucket.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.HTTPClient.Transport = newRateLimitTransport(c.HTTPClient.Transport, rps, burst)
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the underlying http.Client with a copy of hc, so
// later options never change the caller's client. The request-id transport
// is still installed on top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.HTTPClient = &cp
		}
	}
}

// NewClient creates a Client for baseURL with the default timeout.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.HTTPClient
	hc.Transport = newRequestIDTransport(hc.Transport)
	c.HTTPClient = &hc
	return c
}

// SetTokenSource replaces the token source after construction.
func (c *Client) SetTokenSource(fn func() string) { c.tokenSource = fn }

// SetUnauthorizedHandler replaces the 401 handler after construction.
func (c *Client) SetUnauthorizedHandler(fn func(token string)) { c.onUnauthorized = fn }

func (c *Client) token() string {
	if c.tokenSource == nil {
		return ""
	}
	return c.tokenSource()
}

// Do sends a request. body, when non-nil, is encoded as JSON. Transport
// failures (including timeouts) are returned as *domain.TransportError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, reader, contentType, c.token())
}

// DoWithToken is Do with an explicit bearer token instead of the token source.
func (c *Client) DoWithToken(ctx context.Context, token, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, reader, contentType, token)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType, token string) (*http.Response, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return nil, domain.ErrTransport(err, "execute request %s %s", method, path)
	}
	c.logger.Debug("request complete",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(requestIDHeader),
		"duration", time.Since(start),
	)

	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized(token)
	}
	return resp, nil
}

// DoJSON sends a request, checks the status, and decodes the response body
// into out (skipped when out is nil or the response has no content).
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	resp, err := c.Do(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// Upload sends r as a multipart/form-data file field and decodes the response.
func (c *Client) Upload(ctx context.Context, path, field, filename string, r io.Reader, out any) error {
	return c.UploadForm(ctx, http.MethodPost, path, nil, field, filename, r, out)
}

// UploadForm sends fields plus an optional file part (skipped when r is nil)
// as multipart/form-data and decodes the response.
func (c *Client) UploadForm(ctx context.Context, method, path string, fields url.Values, field, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range fields[k] {
			if err := mw.WriteField(k, v); err != nil {
				return fmt.Errorf("write form field %s: %w", k, err)
			}
		}
	}
	if r != nil {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, r); err != nil {
			return fmt.Errorf("copy upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	resp, err := c.send(ctx, method, path, nil, &buf, mw.FormDataContentType(), c.token())
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if err := CheckError(resp); err != nil {
		return err
	}
	data, err := ReadBody(resp)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// errorBody covers the error shapes the API produces: FastAPI's
// {"detail": "..."} or {"detail": [{loc, msg}]}, and {"code", "message"}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
}

type validationItem struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// CheckError returns nil for 2xx responses. Otherwise it consumes the body
// and returns a classified error.
func CheckError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := ReadBody(resp)

	message, fields := parseErrorBody(data)
	code := resp.StatusCode

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized("%s", orDefault(message, "authentication required"))
	case http.StatusForbidden:
		return domain.ErrAccessDenied("%s", orDefault(message, "access denied"))
	case http.StatusNotFound:
		return domain.ErrNotFound("%s", orDefault(message, "not found"))
	case http.StatusUnprocessableEntity:
		return &domain.ValidationError{Message: orDefault(message, "validation failed"), Fields: fields}
	case http.StatusBadRequest, http.StatusConflict:
		if message != "" {
			return domain.ErrBusinessRule("%s", message)
		}
	}

	if message == "" {
		message = string(data)
	}
	return &APIError{HTTPStatus: resp.StatusCode, Code: code, Message: message}
}

func parseErrorBody(data []byte) (string, []domain.FieldError) {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data)), nil
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s, nil
		}
		var items []validationItem
		if err := json.Unmarshal(body.Detail, &items); err == nil {
			fields := make([]domain.FieldError, 0, len(items))
			for _, it := range items {
				fields = append(fields, domain.FieldError{Field: fieldFromLoc(it.Loc), Message: it.Msg})
			}
			return "validation failed", fields
		}
	}
	return body.Message, nil
}

// fieldFromLoc turns ["body", "title"] into "title".
func fieldFromLoc(loc []any) string {
	parts := make([]string, 0, len(loc))
	for i, p := range loc {
		s := fmt.Sprint(p)
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatus == status
}
