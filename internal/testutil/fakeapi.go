// Package testutil provides an in-memory LibraAI API for tests across the
// codebase, in the spirit of net/http/httptest.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"libraai/internal/domain"
)

// Fault is a canned error response injected ahead of the real handler.
type Fault struct {
	Status int
	Detail string
	// Drop closes the connection without a response.
	Drop bool
}

type fakeUser struct {
	domain.Principal
	password string
}

type paymentRecord struct {
	domain.Payment
	userID string
}

type ctxUserKey struct{}

// FakeAPI serves the LibraAI HTTP contract from memory. Business rules
// follow the real services closely enough for client-side tests.
type FakeAPI struct {
	URL string

	srv *httptest.Server

	mu           sync.Mutex
	now          func() time.Time
	seq          int
	users        map[string]*fakeUser
	tokens       map[string]string
	books        map[string]*domain.Book
	bookOrder    []string
	covers       map[string][]byte
	loans        map[string]*domain.Loan
	loanOrder    []string
	reservations []domain.Reservation
	favorites    map[string][]string
	payments     map[string]*paymentRecord
	paymentOrder []string
	documents    []domain.Document
	healthy      bool
	calls        map[string]int
	faults       map[string][]Fault
	hook         func(r *http.Request)
}

// NewFakeAPI starts a FakeAPI that is shut down when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		now:       time.Now,
		users:     make(map[string]*fakeUser),
		tokens:    make(map[string]string),
		books:     make(map[string]*domain.Book),
		covers:    make(map[string][]byte),
		loans:     make(map[string]*domain.Loan),
		favorites: make(map[string][]string),
		payments:  make(map[string]*paymentRecord),
		healthy:   true,
		calls:     make(map[string]int),
		faults:    make(map[string][]Fault),
	}
	f.srv = httptest.NewServer(f.routes())
	f.URL = f.srv.URL
	t.Cleanup(f.srv.Close)
	return f
}

func (f *FakeAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(f.intercept)

	r.Post("/auth/login", f.login)
	r.Post("/auth/register", f.register)
	r.Post("/auth/forgot-password", f.forgotPassword)
	r.Post("/auth/reset-password", f.resetPassword)
	r.Get("/auth/ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	})
	r.Get("/books/", f.listBooks)
	r.Get("/books/categories/list", f.categories)
	r.Get("/books/{book_id}", f.getBook)
	r.Get("/chat/health", f.health)

	r.Group(func(r chi.Router) {
		r.Use(f.authenticate)

		r.Get("/auth/verify-token", f.verifyToken)
		r.Get("/auth/me", f.me)
		r.Post("/books/report-problem/{book_id}", f.reportProblem)

		r.Post("/borrowings/borrow", f.borrow)
		r.Post("/borrowings/return/{borrowing_id}", f.returnLoan)
		r.Post("/borrowings/renew/{borrowing_id}", f.renew)
		r.Post("/borrowings/reserve", f.reserve)
		r.Get("/borrowings/my-borrowings", f.myLoans)
		r.Get("/borrowings/my-reservations", f.myReservations)

		r.Get("/users/favorites", f.listFavorites)
		r.Post("/users/favorites/add/{book_id}", f.addFavorite)
		r.Post("/users/favorites/remove/{book_id}", f.removeFavorite)

		r.Post("/payments/create", f.createPayment)
		r.Post("/payments/execute", f.executePayment)
		r.Get("/payments/history", f.paymentHistory)
		r.Get("/payments/balance", f.balance)
		r.Get("/payments/overdue-borrowings", f.overdue)

		r.Post("/chat/upload", f.upload)
		r.Post("/chat/ask", f.ask)
		r.Get("/chat/documents", f.listDocuments)

		r.Group(func(r chi.Router) {
			r.Use(f.requireAdmin)
			r.Post("/books/", f.createBook)
			r.Post("/books/upload", f.createBookWithCover)
			r.Put("/books/{book_id}", f.updateBook)
			r.Put("/books/{book_id}/upload", f.updateBookWithCover)
			r.Delete("/books/{book_id}", f.deleteBook)
			r.Get("/users/", f.listUsers)
			r.Post("/users/", f.createUser)
			r.Get("/users/{user_id}", f.getUser)
			r.Put("/users/{user_id}", f.updateUser)
			r.Delete("/users/{user_id}", f.deleteUser)
			r.Post("/payments/update-fines", f.updateFines)
			r.Get("/stats/admin-dashboard", f.dashboard)
		})
	})
	return r
}

// === Test controls ===

// SetClock replaces time.Now for due dates and fines.
func (f *FakeAPI) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// SetHealthy sets what /chat/health reports.
func (f *FakeAPI) SetHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

// OnRequest registers fn to run before every request is handled.
func (f *FakeAPI) OnRequest(fn func(r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// FailNext makes the next request for method and path return fault instead
// of reaching the handler.
func (f *FakeAPI) FailNext(method, path string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.faults[key] = append(f.faults[key], fault)
}

// Calls returns how many requests reached the route registered as pattern,
// e.g. Calls("GET", "/books/{book_id}"). A trailing slash is ignored.
func (f *FakeAPI) Calls(method, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[callKey(method, pattern)]
}

// callKey drops the trailing slash chi leaves off some route patterns.
func callKey(method, pattern string) string {
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return method + " " + pattern
}

// TotalCalls returns the number of requests received.
func (f *FakeAPI) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// AddUser creates an account and returns it.
func (f *FakeAPI) AddUser(username, email, password string, admin bool) domain.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &fakeUser{
		Principal: domain.Principal{
			ID:        f.nextID("u"),
			Username:  username,
			Email:     email,
			FullName:  username,
			IsActive:  true,
			IsAdmin:   admin,
			CreatedAt: f.now().UTC(),
		},
		password: password,
	}
	f.users[u.ID] = u
	return u.Principal
}

// IssueToken returns a bearer token for the user.
func (f *FakeAPI) IssueToken(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueTokenLocked(userID)
}

func (f *FakeAPI) issueTokenLocked(userID string) string {
	tok := "tok-" + f.nextID("")
	f.tokens[tok] = userID
	return tok
}

// RevokeToken makes every later request with token fail with 401.
func (f *FakeAPI) RevokeToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

// SetFine overwrites a user's outstanding fine.
func (f *FakeAPI) SetFine(userID string, amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.FineAmount = amount
	}
}

// User returns a copy of the stored account.
func (f *FakeAPI) User(id string) (domain.Principal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.Principal{}, false
	}
	return u.Principal, true
}

// AddBook stores b, assigning an id when it has none.
func (f *FakeAPI) AddBook(b domain.Book) domain.Book {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == "" {
		b.ID = f.nextID("b")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = f.now().UTC()
	}
	if b.Language == "" {
		b.Language = "English"
	}
	f.books[b.ID] = &b
	f.bookOrder = append(f.bookOrder, b.ID)
	return b
}

// Book returns a copy of the stored book.
func (f *FakeAPI) Book(id string) (domain.Book, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return domain.Book{}, false
	}
	return *b, true
}

// AddLoan stores l, assigning an id when it has none.
func (f *FakeAPI) AddLoan(l domain.Loan) domain.Loan {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.ID == "" {
		l.ID = f.nextID("l")
	}
	if l.MaxRenewals == 0 {
		l.MaxRenewals = 2
	}
	if l.Status == "" {
		l.Status = domain.LoanActive
	}
	f.loans[l.ID] = &l
	f.loanOrder = append(f.loanOrder, l.ID)
	return l
}

// Loan returns a copy of the stored loan.
func (f *FakeAPI) Loan(id string) (domain.Loan, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[id]
	if !ok {
		return domain.Loan{}, false
	}
	return *l, true
}

func (f *FakeAPI) nextID(prefix string) string {
	f.seq++
	return prefix + strconv.Itoa(f.seq)
}

// === Middleware ===

func (f *FakeAPI) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		hook := f.hook
		key := r.Method + " " + r.URL.Path
		var fault *Fault
		if q := f.faults[key]; len(q) > 0 {
			fault = &q[0]
			f.faults[key] = q[1:]
		}
		f.mu.Unlock()

		if hook != nil {
			hook(r)
		}
		if fault != nil {
			if fault.Drop {
				if hj, ok := w.(http.Hijacker); ok {
					conn, _, err := hj.Hijack()
					if err == nil {
						_ = conn.Close()
						return
					}
				}
			}
			writeDetail(w, fault.Status, fault.Detail)
			return
		}

		next.ServeHTTP(w, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		f.mu.Lock()
		f.calls[callKey(r.Method, pattern)]++
		f.mu.Unlock()
	})
}

func (f *FakeAPI) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		uid, ok := f.tokens[tok]
		f.mu.Unlock()
		if tok == "" || !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, uid)))
	})
}

func (f *FakeAPI) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		u := f.users[userID(r)]
		admin := u != nil && u.IsAdmin
		f.mu.Unlock()
		if !admin {
			writeDetail(w, http.StatusForbidden, "Not enough permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body"}, "msg": "invalid JSON body", "type": "value_error"}},
		})
		return false
	}
	return true
}

func missingFields(w http.ResponseWriter, fields ...string) {
	items := make([]map[string]any, 0, len(fields))
	for _, name := range fields {
		items = append(items, map[string]any{"loc": []string{"body", name}, "msg": "field required", "type": "value_error.missing"})
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": items})
}

func daysLate(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due).Hours() / 24)
}

// === Auth ===

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == in.Email && u.password == in.Password {
			if !u.IsActive {
				writeDetail(w, http.StatusBadRequest, "Inactive user")
				return
			}
			tok := f.issueTokenLocked(u.ID)
			p := u.Principal
			writeJSON(w, http.StatusOK, domain.LoginResult{AccessToken: tok, TokenType: "bearer", User: &p})
			return
		}
	}
	writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
}

func (f *FakeAPI) register(w http.ResponseWriter, r *http.Request) {
	var in domain.RegisterRequest
	if !decode(w, r, &in) {
		return
	}
	var missing []string
	if in.Username == "" {
		missing = append(missing, "username")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		missingFields(w, missing...)
		return
	}
	f.mu.Lock()
	for _, u := range f.users {
		if u.Email == in.Email {
			f.mu.Unlock()
			writeDetail(w, http.StatusBadRequest, "Email already registered")
			return
		}
		if u.Username == in.Username {
			f.mu.Unlock()
			writeDetail(w, http.StatusBadRequest, "Username already taken")
			return
		}
	}
	f.mu.Unlock()
	p := f.AddUser(in.Username, in.Email, in.Password, false)
	f.mu.Lock()
	f.users[p.ID].FullName = in.FullName
	p = f.users[p.ID].Principal
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, p)
}

func (f *FakeAPI) verifyToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.TokenCheck{Valid: true, UserID: userID(r)})
}

func (f *FakeAPI) me(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.users[userID(r)].Principal)
}

func (f *FakeAPI) forgotPassword(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "If the email exists, a reset link has been sent"})
}

func (f *FakeAPI) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Token != "reset-ok" {
		writeDetail(w, http.StatusBadRequest, "Invalid or expired reset token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// === Catalog ===

func (f *FakeAPI) listBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	category := q.Get("category")
	author := strings.ToLower(q.Get("author"))
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = domain.DefaultPageSize
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.Book
	for _, id := range f.bookOrder {
		b, ok := f.books[id]
		if !ok {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(b.Title), search) && !strings.Contains(strings.ToLower(b.Author), search) {
			continue
		}
		if category != "" && b.Category != category {
			continue
		}
		if author != "" && !strings.Contains(strings.ToLower(b.Author), author) {
			continue
		}
		matched = append(matched, *b)
	}
	if skip > len(matched) {
		skip = len(matched)
	}
	end := min(skip+limit, len(matched))
	page := matched[skip:end]
	if page == nil {
		page = []domain.Book{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (f *FakeAPI) categories(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cats []string
	for _, b := range f.books {
		if b.Category != "" && !slices.Contains(cats, b.Category) {
			cats = append(cats, b.Category)
		}
	}
	slices.Sort(cats)
	writeJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

func (f *FakeAPI) getBook(w http.ResponseWriter, r *http.Request) {
	b, ok := f.Book(chi.URLParam(r, "book_id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func bookFromInput(b *domain.Book, in domain.BookInput) {
	b.Title = in.Title
	b.Author = in.Author
	b.ISBN = in.ISBN
	b.Description = in.Description
	b.Category = in.Category
	b.PublicationYear = in.PublicationYear
	b.Publisher = in.Publisher
	b.Pages = in.Pages
	if in.Language != "" {
		b.Language = in.Language
	}
	b.TotalCopies = in.TotalCopies
	if in.AvailableCopies != nil {
		b.AvailableCopies = *in.AvailableCopies
	} else {
		b.AvailableCopies = in.TotalCopies
	}
}

// Cover returns the cover image last uploaded for a book.
func (f *FakeAPI) Cover(bookID string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.covers[bookID]
	return data, ok
}

// bookForm reads the multipart fields of the cover upload endpoints. The
// cover part is optional.
func bookForm(w http.ResponseWriter, r *http.Request) (domain.BookInput, *domain.Cover, bool) {
	var in domain.BookInput
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart body")
		return in, nil, false
	}
	var missing []string
	for _, name := range []string{"title", "author", "isbn", "category", "publication_year", "total_copies"} {
		if r.FormValue(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		missingFields(w, missing...)
		return in, nil, false
	}
	in.Title = r.FormValue("title")
	in.Author = r.FormValue("author")
	in.ISBN = r.FormValue("isbn")
	in.Category = r.FormValue("category")
	in.Description = r.FormValue("description")
	in.Publisher = r.FormValue("publisher")
	in.Language = r.FormValue("language")
	in.PublicationYear, _ = strconv.Atoi(r.FormValue("publication_year"))
	in.Pages, _ = strconv.Atoi(r.FormValue("pages"))
	in.TotalCopies, _ = strconv.Atoi(r.FormValue("total_copies"))

	file, header, err := r.FormFile("cover_image")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, true
	}
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid cover image")
		return in, nil, false
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid cover image")
		return in, nil, false
	}
	return in, &domain.Cover{Filename: header.Filename, Data: data}, true
}

func (f *FakeAPI) storeCoverLocked(b *domain.Book, cover *domain.Cover) {
	if cover == nil {
		return
	}
	f.covers[b.ID] = cover.Data
	b.CoverImage = "/static/images/" + b.ID + strings.ToLower(filepath.Ext(cover.Filename))
}

func (f *FakeAPI) createBookWithCover(w http.ResponseWriter, r *http.Request) {
	in, cover, ok := bookForm(w, r)
	if !ok {
		return
	}
	if in.TotalCopies < 1 {
		in.TotalCopies = 1
	}
	in.AvailableCopies = nil

	f.mu.Lock()
	for _, b := range f.books {
		if b.ISBN == in.ISBN {
			f.mu.Unlock()
			writeDetail(w, http.StatusBadRequest, "Book with this ISBN already exists")
			return
		}
	}
	f.mu.Unlock()

	var b domain.Book
	bookFromInput(&b, in)
	b = f.AddBook(b)

	f.mu.Lock()
	stored := f.books[b.ID]
	f.storeCoverLocked(stored, cover)
	out := *stored
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (f *FakeAPI) updateBookWithCover(w http.ResponseWriter, r *http.Request) {
	in, cover, ok := bookForm(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, found := f.books[chi.URLParam(r, "book_id")]
	if !found {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	available := max(b.AvailableCopies+in.TotalCopies-b.TotalCopies, 0)
	in.AvailableCopies = &available
	bookFromInput(b, in)
	f.storeCoverLocked(b, cover)
	writeJSON(w, http.StatusOK, *b)
}

func (f *FakeAPI) createBook(w http.ResponseWriter, r *http.Request) {
	var in domain.BookInput
	if !decode(w, r, &in) {
		return
	}
	var missing []string
	if in.Title == "" {
		missing = append(missing, "title")
	}
	if in.Author == "" {
		missing = append(missing, "author")
	}
	if in.ISBN == "" {
		missing = append(missing, "isbn")
	}
	if len(missing) > 0 {
		missingFields(w, missing...)
		return
	}
	var b domain.Book
	bookFromInput(&b, in)
	writeJSON(w, http.StatusCreated, f.AddBook(b))
}

func (f *FakeAPI) updateBook(w http.ResponseWriter, r *http.Request) {
	var in domain.BookInput
	if !decode(w, r, &in) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[chi.URLParam(r, "book_id")]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	bookFromInput(b, in)
	writeJSON(w, http.StatusOK, *b)
}

func (f *FakeAPI) deleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "book_id")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	delete(f.books, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeAPI) reportProblem(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.Book(chi.URLParam(r, "book_id")); !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Problem reported successfully"})
}

// === Loans ===

func (f *FakeAPI) borrow(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BookID string `json:"book_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[in.BookID]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	if b.AvailableCopies <= 0 {
		writeDetail(w, http.StatusBadRequest, "Book not available for borrowing")
		return
	}
	for _, l := range f.loans {
		if l.UserID == uid && l.BookID == in.BookID && l.Status != domain.LoanReturned {
			writeDetail(w, http.StatusBadRequest, "You have already borrowed this book")
			return
		}
	}
	now := f.now().UTC()
	l := &domain.Loan{
		ID:          f.nextID("l"),
		UserID:      uid,
		BookID:      in.BookID,
		BorrowedAt:  now,
		DueDate:     now.Add(14 * 24 * time.Hour),
		Status:      domain.LoanActive,
		MaxRenewals: 2,
	}
	f.loans[l.ID] = l
	f.loanOrder = append(f.loanOrder, l.ID)
	b.AvailableCopies--
	writeJSON(w, http.StatusOK, *l)
}

func (f *FakeAPI) ownedLoan(w http.ResponseWriter, r *http.Request, action string) *domain.Loan {
	l, ok := f.loans[chi.URLParam(r, "borrowing_id")]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Borrowing not found")
		return nil
	}
	if l.UserID != userID(r) {
		writeDetail(w, http.StatusForbidden, "Not authorized to "+action+" this borrowing")
		return nil
	}
	return l
}

func (f *FakeAPI) returnLoan(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.ownedLoan(w, r, "return")
	if l == nil {
		return
	}
	if l.Status == domain.LoanReturned {
		writeDetail(w, http.StatusBadRequest, "Book already returned")
		return
	}
	now := f.now().UTC()
	fine := float64(daysLate(l.DueDate, now))
	l.Status = domain.LoanReturned
	l.ReturnedAt = &now
	l.FineAmount = fine
	if b, ok := f.books[l.BookID]; ok {
		b.AvailableCopies++
	}
	if u, ok := f.users[l.UserID]; ok {
		u.FineAmount += fine
	}
	writeJSON(w, http.StatusOK, domain.ReturnResult{Message: "Book returned successfully", FineAmount: fine, ReturnedAt: now})
}

func (f *FakeAPI) renew(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.ownedLoan(w, r, "renew")
	if l == nil {
		return
	}
	if l.Status != domain.LoanActive {
		writeDetail(w, http.StatusBadRequest, "Can only renew active borrowings")
		return
	}
	if l.RenewalCount >= l.MaxRenewals {
		writeDetail(w, http.StatusBadRequest, "Maximum renewals reached")
		return
	}
	l.DueDate = l.DueDate.Add(14 * 24 * time.Hour)
	l.RenewalCount++
	updated := *l
	writeJSON(w, http.StatusOK, domain.RenewResult{
		Message:           "Borrowing renewed successfully",
		NewDueDate:        l.DueDate,
		RenewalsRemaining: l.MaxRenewals - l.RenewalCount,
		Updated:           &updated,
	})
}

func (f *FakeAPI) reserve(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BookID string `json:"book_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[in.BookID]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	for _, res := range f.reservations {
		if res.UserID == uid && res.BookID == in.BookID && res.Status == domain.ReservationPending {
			writeDetail(w, http.StatusBadRequest, "You already have a pending reservation for this book")
			return
		}
	}
	now := f.now().UTC()
	res := domain.Reservation{
		ID:         f.nextID("r"),
		UserID:     uid,
		BookID:     in.BookID,
		ReservedAt: now,
		ExpiresAt:  now.Add(7 * 24 * time.Hour),
		Status:     domain.ReservationPending,
		BookInfo:   &domain.BookInfo{ID: b.ID, Title: b.Title, Author: b.Author},
	}
	f.reservations = append(f.reservations, res)
	writeJSON(w, http.StatusOK, res)
}

func (f *FakeAPI) myLoans(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	status := domain.LoanStatus(r.URL.Query().Get("status"))
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Loan{}
	for _, id := range f.loanOrder {
		l := f.loans[id]
		if l.UserID != uid || (status != "" && l.Status != status) {
			continue
		}
		out = append(out, *l)
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) myReservations(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Reservation{}
	for _, res := range f.reservations {
		if res.UserID == uid {
			out = append(out, res)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// === Favorites ===

func (f *FakeAPI) listFavorites(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Book{}
	for _, id := range f.favorites[userID(r)] {
		if b, ok := f.books[id]; ok {
			out = append(out, *b)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) addFavorite(w http.ResponseWriter, r *http.Request) {
	uid, bookID := userID(r), chi.URLParam(r, "book_id")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[bookID]; !ok {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	if slices.Contains(f.favorites[uid], bookID) {
		writeDetail(w, http.StatusBadRequest, "Book already in favorites")
		return
	}
	f.favorites[uid] = append(f.favorites[uid], bookID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Book added to favorites"})
}

func (f *FakeAPI) removeFavorite(w http.ResponseWriter, r *http.Request) {
	uid, bookID := userID(r), chi.URLParam(r, "book_id")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favorites[uid] = slices.DeleteFunc(f.favorites[uid], func(id string) bool { return id == bookID })
	writeJSON(w, http.StatusOK, map[string]string{"message": "Book removed from favorites"})
}

// === Users ===

func (f *FakeAPI) adminView(u *fakeUser) domain.AdminUser {
	active := 0
	for _, l := range f.loans {
		if l.UserID == u.ID && l.Status != domain.LoanReturned {
			active++
		}
	}
	return domain.AdminUser{Principal: u.Principal, ActiveLoans: active}
}

func (f *FakeAPI) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = domain.DefaultPageSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := []domain.AdminUser{}
	for _, id := range ids {
		u := f.users[id]
		hay := strings.ToLower(u.Username + " " + u.Email + " " + u.FullName)
		if search != "" && !strings.Contains(hay, search) {
			continue
		}
		out = append(out, f.adminView(u))
	}
	if skip > len(out) {
		skip = len(out)
	}
	writeJSON(w, http.StatusOK, out[skip:min(skip+limit, len(out))])
}

func (f *FakeAPI) getUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[chi.URLParam(r, "user_id")]
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, f.adminView(u))
}

func applyUserInput(u *fakeUser, in domain.UserInput) {
	if in.Username != nil {
		u.Username = *in.Username
	}
	if in.Email != nil {
		u.Email = *in.Email
	}
	if in.FullName != nil {
		u.FullName = *in.FullName
	}
	if in.Password != nil {
		u.password = *in.Password
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if in.IsAdmin != nil {
		u.IsAdmin = *in.IsAdmin
	}
	if in.Fine != nil {
		u.FineAmount = *in.Fine
	}
}

func (f *FakeAPI) createUser(w http.ResponseWriter, r *http.Request) {
	var in domain.UserInput
	if !decode(w, r, &in) {
		return
	}
	if in.Username == nil || in.Email == nil || in.Password == nil {
		missingFields(w, "username", "email", "password")
		return
	}
	p := f.AddUser(*in.Username, *in.Email, *in.Password, false)
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[p.ID]
	applyUserInput(u, in)
	writeJSON(w, http.StatusCreated, f.adminView(u))
}

func (f *FakeAPI) updateUser(w http.ResponseWriter, r *http.Request) {
	var in domain.UserInput
	if !decode(w, r, &in) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[chi.URLParam(r, "user_id")]
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	applyUserInput(u, in)
	writeJSON(w, http.StatusOK, f.adminView(u))
}

func (f *FakeAPI) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "user_id")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	if id == userID(r) {
		writeDetail(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}
	delete(f.users, id)
	for tok, uid := range f.tokens {
		if uid == id {
			delete(f.tokens, tok)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Payments ===

func (f *FakeAPI) createPayment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if !decode(w, r, &in) {
		return
	}
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	fine := f.users[uid].FineAmount
	switch {
	case in.Amount <= 0:
		writeDetail(w, http.StatusBadRequest, "Payment amount must be greater than 0")
		return
	case fine <= 0:
		writeDetail(w, http.StatusBadRequest, "No fines to pay")
		return
	case in.Amount > fine:
		writeDetail(w, http.StatusBadRequest, "Payment amount exceeds fine amount")
		return
	}
	pid := "PAYID-" + f.nextID("")
	f.payments[pid] = &paymentRecord{
		Payment: domain.Payment{
			ID:          f.nextID("p"),
			PaymentID:   pid,
			Amount:      in.Amount,
			Currency:    "EUR",
			Description: in.Description,
			Status:      domain.PaymentCreated,
			CreatedAt:   f.now().UTC(),
		},
		userID: uid,
	}
	f.paymentOrder = append(f.paymentOrder, pid)
	writeJSON(w, http.StatusOK, domain.PaymentIntent{
		Success:     true,
		PaymentID:   pid,
		ApprovalURL: f.URL + "/approve?paymentId=" + pid,
		Message:     "Payment created successfully",
	})
}

func (f *FakeAPI) executePayment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PaymentID string `json:"payment_id"`
		PayerID   string `json:"payer_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[in.PaymentID]
	if !ok || p.userID != userID(r) {
		writeDetail(w, http.StatusNotFound, "Payment not found")
		return
	}
	if p.Status == domain.PaymentCompleted {
		writeDetail(w, http.StatusBadRequest, "Payment already completed")
		return
	}
	now := f.now().UTC()
	p.Status = domain.PaymentCompleted
	p.PayerID = in.PayerID
	p.CompletedAt = &now
	u := f.users[p.userID]
	u.FineAmount = math.Max(0, u.FineAmount-p.Amount)
	writeJSON(w, http.StatusOK, domain.PaymentReceipt{
		Success:    true,
		Message:    "Payment completed successfully",
		AmountPaid: p.Amount,
		PaymentID:  p.PaymentID,
	})
}

func (f *FakeAPI) paymentHistory(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Payment{}
	for _, pid := range f.paymentOrder {
		if p := f.payments[pid]; p.userID == uid {
			out = append(out, p.Payment)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

func (f *FakeAPI) balance(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.Balance{UserID: uid, FineAmount: f.users[uid].FineAmount, Currency: "EUR"})
}

func (f *FakeAPI) overdue(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	out := []domain.OverdueLoan{}
	for _, id := range f.loanOrder {
		l := f.loans[id]
		if l.UserID != uid || l.Status == domain.LoanReturned || !now.After(l.DueDate) {
			continue
		}
		days := daysLate(l.DueDate, now)
		o := domain.OverdueLoan{
			ID:          l.ID,
			BookID:      l.BookID,
			BorrowedAt:  l.BorrowedAt,
			DueDate:     l.DueDate,
			DaysOverdue: days,
			FineAmount:  float64(days),
		}
		if b, ok := f.books[l.BookID]; ok {
			o.BookTitle, o.BookAuthor = b.Title, b.Author
		}
		out = append(out, o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"overdue_borrowings": out, "total_count": len(out)})
}

func (f *FakeAPI) updateFines(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	updated := 0
	added := 0.0
	for _, l := range f.loans {
		if l.Status == domain.LoanReturned || !now.After(l.DueDate) {
			continue
		}
		fine := float64(daysLate(l.DueDate, now))
		if fine > l.FineAmount {
			added += fine - l.FineAmount
			if u, ok := f.users[l.UserID]; ok {
				u.FineAmount += fine - l.FineAmount
			}
			l.FineAmount = fine
		}
		l.Status = domain.LoanOverdue
		updated++
	}
	writeJSON(w, http.StatusOK, domain.FineUpdate{
		Success:          true,
		UpdatedBorrowing: updated,
		TotalFinesAdded:  added,
		Message:          fmt.Sprintf("%d borrowings updated", updated),
	})
}

// === Assistant ===

func (f *FakeAPI) health(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	healthy := f.healthy
	f.mu.Unlock()
	if !healthy {
		writeJSON(w, http.StatusOK, domain.AssistantHealth{Status: "unhealthy", LLM: "unreachable", VectorDB: "connected", Message: "language model unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, domain.AssistantHealth{Status: "healthy", LLM: "connected", VectorDB: "connected"})
}

func (f *FakeAPI) upload(w http.ResponseWriter, r *http.Request) {
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close() //nolint:errcheck
	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if ext != ".pdf" && ext != ".txt" {
		writeDetail(w, http.StatusBadRequest, "Only PDF and text files are allowed")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not read file")
		return
	}
	if len(data) > 10<<20 {
		writeDetail(w, http.StatusBadRequest, "File size exceeds 10MB limit")
		return
	}
	chunks := (len(data) + 499) / 500
	f.mu.Lock()
	f.documents = append(f.documents, domain.Document{Filename: hdr.Filename, Chunks: chunks, UploadedAt: f.now().UTC()})
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.UploadResult{
		Success:    true,
		Message:    "Document processed successfully",
		Chunks:     chunks,
		Characters: len(data),
	})
}

func (f *FakeAPI) ask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Question string `json:"question"`
	}
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Question) == "" {
		writeDetail(w, http.StatusBadRequest, "Question cannot be empty")
		return
	}
	f.mu.Lock()
	healthy := f.healthy
	docs := slices.Clone(f.documents)
	f.mu.Unlock()
	if !healthy {
		writeDetail(w, http.StatusInternalServerError, "Error generating response: language model unreachable")
		return
	}
	sources := []domain.Citation{}
	if len(docs) > 0 {
		sources = append(sources, domain.Citation{Filename: docs[0].Filename, ChunkIndex: 0})
	}
	writeJSON(w, http.StatusOK, domain.Answer{
		Success:  true,
		Answer:   "You asked: " + in.Question,
		Sources:  sources,
		Question: in.Question,
	})
}

func (f *FakeAPI) listDocuments(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.documents)
	if out == nil {
		out = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// === Stats ===

func (f *FakeAPI) dashboard(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := domain.DashboardStats{UsersCount: len(f.users), BooksCount: len(f.books)}
	borrowed := map[string]int{}
	byCategory := map[string]int{}
	for _, l := range f.loans {
		switch l.Status {
		case domain.LoanActive:
			stats.ActiveBorrowingsCount++
		case domain.LoanOverdue:
			stats.OverdueBorrowings++
		}
		borrowed[l.BookID]++
	}
	for _, b := range f.books {
		byCategory[b.Category]++
	}
	for id, n := range borrowed {
		title := ""
		if b, ok := f.books[id]; ok {
			title = b.Title
		}
		stats.MostBorrowedBooks = append(stats.MostBorrowedBooks, domain.CountByLabel{ID: id, Title: title, Count: n})
	}
	slices.SortFunc(stats.MostBorrowedBooks, func(a, b domain.CountByLabel) int { return b.Count - a.Count })
	for c, n := range byCategory {
		stats.BooksByCategory = append(stats.BooksByCategory, domain.CountByLabel{Category: c, Count: n})
	}
	slices.SortFunc(stats.BooksByCategory, func(a, b domain.CountByLabel) int { return strings.Compare(a.Category, b.Category) })
	writeJSON(w, http.StatusOK, stats)
}
