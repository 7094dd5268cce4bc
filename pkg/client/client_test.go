package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraai/internal/domain"
)

// === NewClient ===

func TestNewClient_TrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:8000/")
	assert.Equal(t, "http://localhost:8000", c.BaseURL)
}

func TestNewClient_SetsTimeout(t *testing.T) {
	c := NewClient("http://localhost:8000")
	require.NotNil(t, c.HTTPClient)
	assert.Equal(t, 10*time.Second, c.HTTPClient.Timeout)
}

func TestNewClient_WithTimeout(t *testing.T) {
	c := NewClient("http://localhost:8000", WithTimeout(2*time.Second))
	assert.Equal(t, 2*time.Second, c.HTTPClient.Timeout)
}

func TestNewClient_DoesNotMutateSuppliedHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := NewClient("http://localhost:8000", WithHTTPClient(hc))
	assert.Nil(t, hc.Transport)
	assert.NotNil(t, c.HTTPClient.Transport)

	c = NewClient("http://localhost:8000", WithHTTPClient(hc), WithTimeout(3*time.Second), WithRateLimit(5, 1))
	assert.Equal(t, time.Second, hc.Timeout, "options after WithHTTPClient leave the caller's client alone")
	assert.Nil(t, hc.Transport)
	assert.Equal(t, 3*time.Second, c.HTTPClient.Timeout)
}

// === Client.Do ===

func TestDo_URLAndQuery(t *testing.T) {
	var gotPath, gotRawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRawQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	q := url.Values{}
	q.Set("skip", "20")
	q.Set("limit", "10")

	resp, err := c.Do(context.Background(), http.MethodGet, "/books/", q, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/books/", gotPath)
	parsed, err := url.ParseQuery(gotRawQuery)
	require.NoError(t, err)
	assert.Equal(t, "20", parsed.Get("skip"))
	assert.Equal(t, "10", parsed.Get("limit"))
}

func TestDo_Headers(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		body      any
		wantAuth  string
		wantCType string
	}{
		{name: "anonymous without body", wantAuth: "", wantCType: ""},
		{name: "bearer token", token: "tok-1", wantAuth: "Bearer tok-1"},
		{name: "json body", body: map[string]string{"book_id": "b1"}, wantCType: "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth, gotCType, gotAccept string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				gotCType = r.Header.Get("Content-Type")
				gotAccept = r.Header.Get("Accept")
				w.WriteHeader(http.StatusOK)
			}))
			t.Cleanup(srv.Close)

			c := NewClient(srv.URL, WithTokenSource(func() string { return tt.token }))
			resp, err := c.Do(context.Background(), http.MethodPost, "/x", nil, tt.body)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.wantAuth, gotAuth)
			assert.Equal(t, tt.wantCType, gotCType)
			assert.Equal(t, "application/json", gotAccept)
		})
	}
}

func TestDo_JSONBody(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	resp, err := c.Do(context.Background(), http.MethodPost, "/borrowings/borrow", nil, map[string]string{"book_id": "b1"})
	require.NoError(t, err)
	resp.Body.Close()

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &parsed))
	assert.Equal(t, "b1", parsed["book_id"])
}

func TestDo_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewClient(addr)
	_, err := c.Do(context.Background(), http.MethodGet, "/books/", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute request")
	assert.True(t, domain.IsTransport(err))
}

func TestDo_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.Do(context.Background(), http.MethodGet, "/slow", nil, nil)
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
}

func TestDo_UnauthorizedHookReceivesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var got []string
	c := NewClient(srv.URL,
		WithTokenSource(func() string { return "stale" }),
		WithUnauthorizedHandler(func(token string) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, token)
		}),
	)

	err := c.DoJSON(context.Background(), http.MethodGet, "/books/", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, domain.IsUnauthorized(err))
	assert.Equal(t, "Could not validate credentials", err.Error())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stale"}, got)
}

func TestDoWithToken_OverridesTokenSource(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, WithTokenSource(func() string { return "ambient" }))
	resp, err := c.DoWithToken(context.Background(), "explicit", http.MethodGet, "/auth/verify-token", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer explicit", gotAuth)
}

// === CheckError ===

func TestCheckError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
		wantMsg string
	}{
		{
			name:   "2xx is nil",
			status: http.StatusOK,
			body:   `{}`,
			check:  func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:    "401 unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"detail":"Incorrect email or password"}`,
			check:   func(t *testing.T, err error) { assert.True(t, domain.IsUnauthorized(err)) },
			wantMsg: "Incorrect email or password",
		},
		{
			name:   "403 access denied",
			status: http.StatusForbidden,
			body:   `{"detail":"Not enough permissions"}`,
			check: func(t *testing.T, err error) {
				var target *domain.AccessDeniedError
				assert.ErrorAs(t, err, &target)
			},
			wantMsg: "Not enough permissions",
		},
		{
			name:   "404 not found",
			status: http.StatusNotFound,
			body:   `{"detail":"Book not found"}`,
			check: func(t *testing.T, err error) {
				var target *domain.NotFoundError
				assert.ErrorAs(t, err, &target)
			},
			wantMsg: "Book not found",
		},
		{
			name:   "400 business rule",
			status: http.StatusBadRequest,
			body:   `{"detail":"No copies available"}`,
			check: func(t *testing.T, err error) {
				var target *domain.BusinessRuleError
				assert.ErrorAs(t, err, &target)
			},
			wantMsg: "No copies available",
		},
		{
			name:   "422 field errors",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":[{"loc":["body","isbn"],"msg":"field required","type":"value_error.missing"}]}`,
			check: func(t *testing.T, err error) {
				var target *domain.ValidationError
				require.ErrorAs(t, err, &target)
				require.Len(t, target.Fields, 1)
				assert.Equal(t, "isbn", target.Fields[0].Field)
			},
			wantMsg: "validation failed (isbn: field required)",
		},
		{
			name:   "500 api error",
			status: http.StatusInternalServerError,
			body:   `{"code":500,"message":"boom"}`,
			check: func(t *testing.T, err error) {
				var target *APIError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, 500, target.HTTPStatus)
			},
			wantMsg: "API error (HTTP 500): boom",
		},
		{
			name:   "non-json body",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				assert.True(t, IsStatus(err, http.StatusBadGateway))
			},
			wantMsg: "API error (HTTP 502): upstream down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			err := CheckError(resp)
			tt.check(t, err)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
		})
	}
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestReadBody_ClosesBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("hello")}
	data, err := ReadBody(&http.Response{Body: body})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, body.closed)
}

func TestUserMessage_APIError(t *testing.T) {
	err := &APIError{HTTPStatus: 500, Message: "Internal error"}
	assert.Equal(t, "Internal error", domain.UserMessage(err, "fallback"))
	assert.Equal(t, "fallback", domain.UserMessage(errors.New("x"), "fallback"))
}

// === typed wrappers ===

func TestListBooks(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]domain.Book{{ID: "b1", Title: "Dune", AvailableCopies: 1, TotalCopies: 2}})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	books, err := c.ListBooks(context.Background(), domain.BookQuery{Search: " dune ", Page: domain.PageRequest{Page: 1}})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, "dune", gotQuery.Get("search"))
	assert.Equal(t, "20", gotQuery.Get("skip"))
	assert.Equal(t, "20", gotQuery.Get("limit"))
}

func TestUploadDocument_Multipart(t *testing.T) {
	var gotName, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotName = hdr.Filename
		gotContent = string(data)
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","chunks_count":3,"characters_count":11}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	res, err := c.UploadDocument(context.Background(), "notes.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", gotName)
	assert.Equal(t, "hello world", gotContent)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 11, res.Characters)
}

func TestUpdateBookWithCover_Multipart(t *testing.T) {
	var (
		gotMethod, gotPath string
		gotFields          map[string]string
		gotCover           string
		gotFilename        string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, hdr, err := r.FormFile("cover_image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotFilename, gotCover = hdr.Filename, string(data)
		_, _ = w.Write([]byte(`{"id":"b1","title":"Dune","cover_image":"/static/images/b1.png"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	in := domain.BookInput{Title: "Dune", Author: "Frank Herbert", ISBN: "1", Category: "Fiction", PublicationYear: 1965, TotalCopies: 2}
	b, err := c.UpdateBookWithCover(context.Background(), "b1", in, domain.Cover{Filename: "dune.png", Data: []byte("png-bytes")})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/books/b1/upload", gotPath)
	assert.Equal(t, map[string]string{
		"title":            "Dune",
		"author":           "Frank Herbert",
		"isbn":             "1",
		"category":         "Fiction",
		"publication_year": "1965",
		"total_copies":     "2",
	}, gotFields)
	assert.Equal(t, "dune.png", gotFilename)
	assert.Equal(t, "png-bytes", gotCover)
	assert.Equal(t, "/static/images/b1.png", b.CoverImage)
}

func TestVerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"valid":true,"user_id":"u1"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	check, err := c.VerifyToken(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.Equal(t, "u1", check.UserID)

	_, err = c.VerifyToken(context.Background(), "bad")
	assert.True(t, domain.IsUnauthorized(err))
}

// === FetchAllPages ===

func TestFetchAllPages(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		wantCalls int
	}{
		{name: "single short page", total: 3, pageSize: 10, wantCalls: 1},
		{name: "exact multiple needs a trailing empty page", total: 20, pageSize: 10, wantCalls: 3},
		{name: "several pages", total: 25, pageSize: 10, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			items, err := FetchAllPages(context.Background(), tt.pageSize, func(_ context.Context, p domain.PageRequest) ([]int, error) {
				calls++
				var out []int
				for i := p.Offset(); i < p.Offset()+p.Limit() && i < tt.total; i++ {
					out = append(out, i)
				}
				return out, nil
			})
			require.NoError(t, err)
			assert.Len(t, items, tt.total)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestFetchAllPages_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := FetchAllPages(context.Background(), 10, func(context.Context, domain.PageRequest) ([]int, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
