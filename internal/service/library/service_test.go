package library

import (
	"context"
	"net/http"
	"strings"
	"sync"
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
	api    *testutil.FakeAPI
	svc    *Service
	cache  *cache.Cache
	user   domain.Principal
	client *client.Client
}

func newFixture(t *testing.T, opts ...cache.Option) *fixture {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	user := api.AddUser("alice", "alice@example.com", "secret1", false)
	token := api.IssueToken(user.ID)
	c := client.NewClient(api.URL, client.WithTokenSource(func() string { return token }))
	ch := cache.New(opts...)
	exec := mutation.NewExecutor(ch, mutation.PolicyQueue, nil)
	return &fixture{api: api, svc: NewService(c, ch, exec, nil), cache: ch, user: user, client: c}
}

func TestBorrow_LastCopy(t *testing.T) {
	f := newFixture(t)
	book := f.api.AddBook(domain.Book{Title: "Dune", Author: "Frank Herbert", ISBN: "9780441013593", TotalCopies: 1, AvailableCopies: 1})
	ctx := context.Background()

	before, err := f.svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, before.AvailableCopies)

	loan, err := f.svc.Borrow(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanActive, loan.Status)
	assert.Equal(t, book.ID, loan.BookID)

	after, err := f.svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.AvailableCopies)
	assert.Equal(t, 2, f.api.Calls(http.MethodGet, "/books/{book_id}"), "book is re-fetched after the borrow")

	_, err = f.svc.Borrow(ctx, book.ID)
	var rule *domain.BusinessRuleError
	require.ErrorAs(t, err, &rule)
	assert.Equal(t, "Book not available for borrowing", domain.UserMessage(err, "Borrow failed"))
}

func TestRenew_AtMaximumIsRejectedLocally(t *testing.T) {
	f := newFixture(t)
	book := f.api.AddBook(domain.Book{Title: "Emma", TotalCopies: 1})
	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	loan := f.api.AddLoan(domain.Loan{UserID: f.user.ID, BookID: book.ID, DueDate: due, RenewalCount: 2, MaxRenewals: 2})
	ctx := context.Background()

	_, err := f.svc.MyLoans(ctx, "")
	require.NoError(t, err)

	_, err = f.svc.Renew(ctx, loan.ID)
	var rule *domain.BusinessRuleError
	require.ErrorAs(t, err, &rule)
	assert.Equal(t, "Maximum renewals reached", rule.Message)
	assert.Zero(t, f.api.Calls(http.MethodPost, "/borrowings/renew/{borrowing_id}"))

	stored, _ := f.api.Loan(loan.ID)
	assert.True(t, stored.DueDate.Equal(due), "due date unchanged")
}

func TestRenew_OverdueIsRejectedLocally(t *testing.T) {
	f := newFixture(t)
	loan := f.api.AddLoan(domain.Loan{UserID: f.user.ID, BookID: "b0", DueDate: time.Now().Add(-time.Hour)})
	_, err := f.svc.MyLoans(context.Background(), "")
	require.NoError(t, err)

	_, err = f.svc.Renew(context.Background(), loan.ID)
	assert.Equal(t, "Overdue borrowings cannot be renewed", domain.UserMessage(err, ""))
	assert.Zero(t, f.api.Calls(http.MethodPost, "/borrowings/renew/{borrowing_id}"))
}

func TestRenew_OptimisticThenReconciled(t *testing.T) {
	f := newFixture(t)
	due := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	loan := f.api.AddLoan(domain.Loan{UserID: f.user.ID, BookID: "b0", DueDate: due, MaxRenewals: 2})
	ctx := context.Background()

	_, err := f.svc.MyLoans(ctx, "")
	require.NoError(t, err)

	var mu sync.Mutex
	var countDuringRequest int
	f.api.OnRequest(func(r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/borrowings/renew/") {
			return
		}
		v, ok := f.cache.Peek(LoansKey(""))
		if !ok {
			return
		}
		mu.Lock()
		countDuringRequest = v.([]domain.Loan)[0].RenewalCount
		mu.Unlock()
	})

	res, err := f.svc.Renew(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RenewalsRemaining)

	mu.Lock()
	assert.Equal(t, 1, countDuringRequest, "patched counter is visible while the request is in flight")
	mu.Unlock()

	_, cached := f.cache.Peek(LoansKey(""))
	assert.False(t, cached, "loan lists are invalidated after success")

	loans, err := f.svc.MyLoans(ctx, "")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, 1, loans[0].RenewalCount)
	assert.True(t, loans[0].DueDate.Equal(due.Add(14*24*time.Hour)))
}

func TestRenew_FailureRollsBack(t *testing.T) {
	f := newFixture(t)
	loan := f.api.AddLoan(domain.Loan{UserID: f.user.ID, BookID: "b0", DueDate: time.Now().Add(72 * time.Hour), MaxRenewals: 2})
	ctx := context.Background()

	_, err := f.svc.MyLoans(ctx, domain.LoanActive)
	require.NoError(t, err)
	_, err = f.svc.MyLoans(ctx, "")
	require.NoError(t, err)
	before := []cache.Snapshot{f.cache.Snapshot(LoansKey("")), f.cache.Snapshot(LoansKey(domain.LoanActive))}

	f.api.FailNext(http.MethodPost, "/borrowings/renew/"+loan.ID, testutil.Fault{Status: http.StatusInternalServerError, Detail: "database unavailable"})
	_, err = f.svc.Renew(ctx, loan.ID)
	require.Error(t, err)

	after := []cache.Snapshot{f.cache.Snapshot(LoansKey("")), f.cache.Snapshot(LoansKey(domain.LoanActive))}
	assert.Equal(t, before, after)
}

func TestListBooks_CachedAndDeduplicated(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"Dune", "Emma", "Ulysses"} {
		f.api.AddBook(domain.Book{Title: title, Author: "A", Category: "Fiction", TotalCopies: 1, AvailableCopies: 1})
	}
	q := domain.BookQuery{Category: "Fiction"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			books, err := f.svc.ListBooks(context.Background(), q)
			assert.NoError(t, err)
			assert.Len(t, books, 3)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.api.Calls(http.MethodGet, "/books/"))

	_, err := f.svc.ListBooks(context.Background(), domain.BookQuery{Search: "dune"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.api.Calls(http.MethodGet, "/books/"), "different filters use a different key")
}

func TestListBooks_ServesStaleOnFailure(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, cache.WithClock(clock), cache.WithRefreshAfter(0))
	f.api.AddBook(domain.Book{Title: "Dune", TotalCopies: 1, AvailableCopies: 1})

	_, err := f.svc.ListBooks(context.Background(), domain.BookQuery{})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()
	f.api.FailNext(http.MethodGet, "/books/", testutil.Fault{Status: http.StatusServiceUnavailable, Detail: "maintenance"})

	books, err := f.svc.ListBooks(context.Background(), domain.BookQuery{})
	var stale *cache.StaleError
	require.ErrorAs(t, err, &stale)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
}

func TestReturn_InvalidatesBalance(t *testing.T) {
	f := newFixture(t)
	book := f.api.AddBook(domain.Book{Title: "Emma", TotalCopies: 1, AvailableCopies: 0})
	loan := f.api.AddLoan(domain.Loan{UserID: f.user.ID, BookID: book.ID, DueDate: time.Now().Add(-3*24*time.Hour - time.Hour)})
	f.cache.Set(cache.KeyBalance, &domain.Balance{FineAmount: 0})

	res, err := f.svc.Return(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.FineAmount)

	_, ok := f.cache.Peek(cache.KeyBalance)
	assert.False(t, ok)
	u, _ := f.api.User(f.user.ID)
	assert.Equal(t, 3.0, u.FineAmount)
	b, _ := f.api.Book(book.ID)
	assert.Equal(t, 1, b.AvailableCopies)
}

func TestReserve(t *testing.T) {
	f := newFixture(t)
	book := f.api.AddBook(domain.Book{Title: "Emma", TotalCopies: 1, AvailableCopies: 0})
	ctx := context.Background()

	list, err := f.svc.MyReservations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	res, err := f.svc.Reserve(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, res.Status)

	list, err = f.svc.MyReservations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Emma", list[0].BookInfo.Title)

	_, err = f.svc.Reserve(ctx, book.ID)
	assert.Equal(t, "You already have a pending reservation for this book", domain.UserMessage(err, ""))
}

func TestLoanBooks(t *testing.T) {
	f := newFixture(t)
	a := f.api.AddBook(domain.Book{Title: "A"})
	b := f.api.AddBook(domain.Book{Title: "B"})
	loans := []domain.Loan{{BookID: a.ID}, {BookID: b.ID}, {BookID: a.ID}, {BookID: "missing"}}

	books, err := f.svc.LoanBooks(context.Background(), loans)
	require.NoError(t, err)
	assert.Len(t, books, 2)
	assert.Equal(t, "B", books[b.ID].Title)
	assert.Equal(t, 3, f.api.Calls(http.MethodGet, "/books/{book_id}"))
}

func TestFavorites(t *testing.T) {
	f := newFixture(t)
	book := f.api.AddBook(domain.Book{Title: "Dune"})
	ctx := context.Background()

	require.NoError(t, f.svc.AddFavorite(ctx, book.ID))
	favs, err := f.svc.Favorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)

	t.Run("failed removal restores the list", func(t *testing.T) {
		before := f.cache.Snapshot(cache.KeyFavorites)
		f.api.FailNext(http.MethodPost, "/users/favorites/remove/"+book.ID, testutil.Fault{Status: http.StatusBadGateway, Detail: "upstream"})
		require.Error(t, f.svc.RemoveFavorite(ctx, book.ID))
		assert.Equal(t, before, f.cache.Snapshot(cache.KeyFavorites))
	})

	t.Run("removal", func(t *testing.T) {
		require.NoError(t, f.svc.RemoveFavorite(ctx, book.ID))
		favs, err := f.svc.Favorites(ctx)
		require.NoError(t, err)
		assert.Empty(t, favs)
	})
}

func TestReportProblem(t *testing.T) {
	f := newFixture(t)
	book := f.api.AddBook(domain.Book{Title: "Dune"})

	_, err := f.svc.ReportProblem(context.Background(), book.ID, "   ")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)

	msg, err := f.svc.ReportProblem(context.Background(), book.ID, "Page 42 is missing")
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
}

func TestUnauthorizedSurfaces(t *testing.T) {
	f := newFixture(t)
	f.api.FailNext(http.MethodGet, "/borrowings/my-borrowings", testutil.Fault{Status: http.StatusUnauthorized, Detail: "Token expired"})

	_, err := f.svc.MyLoans(context.Background(), "")
	assert.True(t, domain.IsUnauthorized(err))
}
