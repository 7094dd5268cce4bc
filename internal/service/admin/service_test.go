package admin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraai/internal/cache"
	"libraai/internal/domain"
	"libraai/internal/mutation"
	"libraai/internal/testutil"
	"libraai/pkg/client"
)

type fixture struct {
	api   *testutil.FakeAPI
	svc   *Service
	cache *cache.Cache
	me    domain.Principal
}

func newFixture(t *testing.T, admin bool) *fixture {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	me := api.AddUser("root", "root@example.com", "secret1", admin)
	token := api.IssueToken(me.ID)
	c := client.NewClient(api.URL, client.WithTokenSource(func() string { return token }))
	ch := cache.New()
	exec := mutation.NewExecutor(ch, mutation.PolicyQueue, nil)
	svc := NewService(c, ch, exec, func() *domain.Principal { return &me }, nil)
	return &fixture{api: api, svc: svc, cache: ch, me: me}
}

func ptr[T any](v T) *T { return &v }

func validBook() domain.BookInput {
	return domain.BookInput{Title: "Dune", Author: "Frank Herbert", ISBN: "9780441013593", Category: "Fiction", TotalCopies: 3}
}

func validCover() domain.Cover {
	return domain.Cover{Filename: "dune.png", Data: []byte("png-bytes")}
}

func TestNonAdminRejectedLocally(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ops := map[string]func() error{
		"create book": func() error { _, err := f.svc.CreateBook(ctx, validBook()); return err },
		"update book": func() error { _, err := f.svc.UpdateBook(ctx, "b1", validBook()); return err },
		"delete book": func() error { return f.svc.DeleteBook(ctx, "b1") },
		"create book with cover": func() error {
			_, err := f.svc.CreateBookWithCover(ctx, validBook(), validCover())
			return err
		},
		"update book with cover": func() error {
			_, err := f.svc.UpdateBookWithCover(ctx, "b1", validBook(), validCover())
			return err
		},
		"list users":  func() error { _, err := f.svc.ListUsers(ctx, "", domain.PageRequest{}); return err },
		"get user":    func() error { _, err := f.svc.GetUser(ctx, "u1"); return err },
		"delete user": func() error { return f.svc.DeleteUser(ctx, "u9") },
		"stats":       func() error { _, err := f.svc.DashboardStats(ctx); return err },
		"fines":       func() error { _, err := f.svc.UpdateAllFines(ctx); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			var denied *domain.AccessDeniedError
			require.ErrorAs(t, op(), &denied)
			assert.Equal(t, "Admin access required", denied.Message)
		})
	}
	assert.Zero(t, f.api.TotalCalls())
}

func TestAnonymousRejected(t *testing.T) {
	f := newFixture(t, true)
	svc := NewService(nil, f.cache, nil, func() *domain.Principal { return nil }, nil)
	_, err := svc.DashboardStats(context.Background())
	assert.True(t, domain.IsUnauthorized(err))
}

func TestCreateBook(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.cache.Set("books?limit=20&skip=0", []domain.Book{})

	b, err := f.svc.CreateBook(ctx, validBook())
	require.NoError(t, err)
	assert.Equal(t, 3, b.AvailableCopies)

	_, ok := f.cache.Peek("books?limit=20&skip=0")
	assert.False(t, ok, "catalog listings are invalidated")
}

func TestCreateBook_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    domain.BookInput
		field string
	}{
		{"missing title", domain.BookInput{Author: "A", ISBN: "1", TotalCopies: 1}, "title"},
		{"negative total", domain.BookInput{Title: "T", Author: "A", ISBN: "1", TotalCopies: -1}, "total_copies"},
		{"available over total", domain.BookInput{Title: "T", Author: "A", ISBN: "1", TotalCopies: 1, AvailableCopies: ptr(2)}, "available_copies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			_, err := f.svc.CreateBook(context.Background(), tt.in)
			var invalid *domain.ValidationError
			require.ErrorAs(t, err, &invalid)
			require.NotEmpty(t, invalid.Fields)
			assert.Equal(t, tt.field, invalid.Fields[0].Field)
			assert.Zero(t, f.api.TotalCalls())
		})
	}
}

func TestUpdateAndDeleteBook(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	book := f.api.AddBook(domain.Book{Title: "Old", Author: "A", ISBN: "1", TotalCopies: 1, AvailableCopies: 1})

	in := validBook()
	in.AvailableCopies = ptr(1)
	updated, err := f.svc.UpdateBook(ctx, book.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Dune", updated.Title)
	assert.Equal(t, 1, updated.AvailableCopies)

	require.NoError(t, f.svc.DeleteBook(ctx, book.ID))
	_, ok := f.api.Book(book.ID)
	assert.False(t, ok)

	err = f.svc.DeleteBook(ctx, book.ID)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreateBookWithCover(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.cache.Set("books?limit=20&skip=0", []domain.Book{})

	b, err := f.svc.CreateBookWithCover(ctx, validBook(), validCover())
	require.NoError(t, err)
	assert.Equal(t, 3, b.AvailableCopies)
	assert.Equal(t, "/static/images/"+b.ID+".png", b.CoverImage)

	data, ok := f.api.Cover(b.ID)
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, 1, f.api.Calls(http.MethodPost, "/books/upload"))

	_, ok = f.cache.Peek("books?limit=20&skip=0")
	assert.False(t, ok, "catalog listings are invalidated")

	_, err = f.svc.CreateBookWithCover(ctx, validBook(), validCover())
	var rule *domain.BusinessRuleError
	require.ErrorAs(t, err, &rule)
	assert.Equal(t, "Book with this ISBN already exists", rule.Message)
}

func TestBookWithCover_RejectedBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		in    domain.BookInput
		cover domain.Cover
		field string
	}{
		{"not an image", validBook(), domain.Cover{Filename: "dune.txt", Data: []byte("x")}, "cover_image"},
		{"empty image", validBook(), domain.Cover{Filename: "dune.png"}, "cover_image"},
		{"missing title", domain.BookInput{Author: "A", ISBN: "1", TotalCopies: 1}, validCover(), "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			var invalid *domain.ValidationError

			_, err := f.svc.CreateBookWithCover(ctx, tt.in, tt.cover)
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Fields[0].Field)

			_, err = f.svc.UpdateBookWithCover(ctx, "b1", tt.in, tt.cover)
			require.ErrorAs(t, err, &invalid)
			assert.Zero(t, f.api.TotalCalls())
		})
	}
}

func TestUpdateBookWithCover(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	book := f.api.AddBook(domain.Book{Title: "Old", Author: "A", ISBN: "1", Category: "Fiction", TotalCopies: 2, AvailableCopies: 1})
	f.cache.Set("books/"+book.ID, book)

	in := validBook()
	in.TotalCopies = 4
	updated, err := f.svc.UpdateBookWithCover(ctx, book.ID, in, domain.Cover{Filename: "new.JPG", Data: []byte("jpg")})
	require.NoError(t, err)
	assert.Equal(t, "Dune", updated.Title)
	assert.Equal(t, 4, updated.TotalCopies)
	assert.Equal(t, 3, updated.AvailableCopies, "copies out on loan are kept")
	assert.Equal(t, "/static/images/"+book.ID+".jpg", updated.CoverImage)

	_, ok := f.cache.Peek("books/" + book.ID)
	assert.False(t, ok)

	_, err = f.svc.UpdateBookWithCover(ctx, "missing", validBook(), validCover())
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUsers(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.api.AddUser("alice", "alice@example.com", "secret1", false)

	users, err := f.svc.ListUsers(ctx, "", domain.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	_, err = f.svc.ListUsers(ctx, "", domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.Calls(http.MethodGet, "/users/"))

	created, err := f.svc.CreateUser(ctx, domain.UserInput{
		Username: ptr("carol"),
		Email:    ptr("carol@example.com"),
		Password: ptr("secret1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "carol", created.Username)

	users, err = f.svc.ListUsers(ctx, "", domain.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, users, 3)

	found, err := f.svc.ListUsers(ctx, "carol", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, found, 1)

	updated, err := f.svc.UpdateUser(ctx, created.ID, domain.UserInput{Fine: ptr(2.5)})
	require.NoError(t, err)
	assert.Equal(t, 2.5, updated.FineAmount)

	require.NoError(t, f.svc.DeleteUser(ctx, created.ID))
	_, ok := f.api.User(created.ID)
	assert.False(t, ok)
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.CreateUser(context.Background(), domain.UserInput{Username: ptr("x"), Password: ptr("123")})
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Fields, 2)
	assert.Zero(t, f.api.TotalCalls())
}

func TestDeleteSelfRejected(t *testing.T) {
	f := newFixture(t, true)
	err := f.svc.DeleteUser(context.Background(), f.me.ID)
	assert.Equal(t, "Cannot delete your own account", domain.UserMessage(err, ""))
	assert.Zero(t, f.api.TotalCalls())
}

func TestUpdateAllFines(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	reader := f.api.AddUser("dave", "dave@example.com", "secret1", false)
	f.api.AddLoan(domain.Loan{UserID: reader.ID, BookID: "b0", DueDate: time.Now().Add(-2*24*time.Hour - time.Hour)})
	f.cache.Set(cache.KeyBalance, &domain.Balance{})
	f.cache.Set("loans/mine", []domain.Loan{})

	res, err := f.svc.UpdateAllFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedBorrowing)
	assert.Equal(t, 2.0, res.TotalFinesAdded)

	for _, key := range []string{cache.KeyBalance, "loans/mine"} {
		_, ok := f.cache.Peek(key)
		assert.False(t, ok, key)
	}
	u, _ := f.api.User(reader.ID)
	assert.Equal(t, 2.0, u.FineAmount)
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t, true)
	f.api.AddBook(domain.Book{Title: "A", Category: "Fiction"})
	f.api.AddBook(domain.Book{Title: "B", Category: "Science"})

	stats, err := f.svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.BooksCount)
	assert.Equal(t, 1, stats.UsersCount)
	assert.Len(t, stats.BooksByCategory, 2)
}

func TestUsersKey(t *testing.T) {
	assert.Equal(t, "users?limit=20&skip=0", UsersKey("", domain.PageRequest{}))
	assert.Equal(t, "users?limit=10&search=bob&skip=20", UsersKey(" bob ", domain.PageRequest{Page: 2, PageSize: 10}))
}
