// Package library implements catalog browsing and the borrowing workflow on
// top of the resource cache and the mutation executor.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"libraai/internal/cache"
	"libraai/internal/domain"
	"libraai/internal/mutation"
)

// API is the subset of the remote API the library service uses.
type API interface {
	ListBooks(ctx context.Context, q domain.BookQuery) ([]domain.Book, error)
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	Categories(ctx context.Context) ([]string, error)
	ReportProblem(ctx context.Context, bookID string, report domain.ProblemReport) (string, error)
	Borrow(ctx context.Context, bookID string) (*domain.Loan, error)
	Return(ctx context.Context, loanID string) (*domain.ReturnResult, error)
	Renew(ctx context.Context, loanID string) (*domain.RenewResult, error)
	Reserve(ctx context.Context, bookID string) (*domain.Reservation, error)
	MyLoans(ctx context.Context, status domain.LoanStatus) ([]domain.Loan, error)
	MyReservations(ctx context.Context) ([]domain.Reservation, error)
	Favorites(ctx context.Context) ([]domain.Book, error)
	AddFavorite(ctx context.Context, bookID string) error
	RemoveFavorite(ctx context.Context, bookID string) error
}

// Cache keys.
const (
	keyCategories   = "books/categories"
	keyLoansMine    = "loans/mine"
	keyReservations = "reservations/mine"
)

// BooksKey is the cache key of one catalog listing page.
func BooksKey(q domain.BookQuery) string { return cache.Key(cache.PrefixBooks, q.Values()) }

// BookKey is the cache key of one catalog item.
func BookKey(id string) string { return "books/" + id }

// LoansKey is the cache key of the principal's loans with the given status filter.
func LoansKey(status domain.LoanStatus) string {
	if status == "" {
		return keyLoansMine
	}
	return cache.Key(keyLoansMine, url.Values{"status": {string(status)}})
}

func loanLockKey(id string) string { return "loan/" + id }

// Service provides the reader-facing library operations. Reads go through
// the cache; every write goes through the executor.
type Service struct {
	api    API
	cache  *cache.Cache
	exec   *mutation.Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a library Service.
func NewService(api API, c *cache.Cache, exec *mutation.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, cache: c, exec: exec, logger: logger, now: time.Now}
}

// === Catalog ===

// ListBooks returns one page of the catalog. A *cache.StaleError may
// accompany a usable result.
func (s *Service) ListBooks(ctx context.Context, q domain.BookQuery) ([]domain.Book, error) {
	return cache.Get(ctx, s.cache, BooksKey(q), func(ctx context.Context) ([]domain.Book, error) {
		return s.api.ListBooks(ctx, q)
	})
}

// GetBook returns one catalog item.
func (s *Service) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrValidation("book id is required")
	}
	return cache.Get(ctx, s.cache, BookKey(id), func(ctx context.Context) (*domain.Book, error) {
		return s.api.GetBook(ctx, id)
	})
}

// Categories returns the catalog categories.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return cache.Get(ctx, s.cache, keyCategories, s.api.Categories)
}

// ReportProblem files a problem report against a catalog item.
func (s *Service) ReportProblem(ctx context.Context, bookID, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", &domain.ValidationError{
			Message: "invalid problem report",
			Fields:  []domain.FieldError{{Field: "description", Message: "is required"}},
		}
	}
	return s.api.ReportProblem(ctx, bookID, domain.ProblemReport{Description: description})
}

// === Loans ===

// MyLoans returns the principal's loans, optionally filtered by status.
func (s *Service) MyLoans(ctx context.Context, status domain.LoanStatus) ([]domain.Loan, error) {
	return cache.Get(ctx, s.cache, LoansKey(status), func(ctx context.Context) ([]domain.Loan, error) {
		return s.api.MyLoans(ctx, status)
	})
}

// MyReservations returns the principal's reservations.
func (s *Service) MyReservations(ctx context.Context) ([]domain.Reservation, error) {
	return cache.Get(ctx, s.cache, keyReservations, s.api.MyReservations)
}

// Borrow creates a loan. Availability is always re-fetched afterwards.
func (s *Service) Borrow(ctx context.Context, bookID string) (*domain.Loan, error) {
	loan, err := mutation.Run[*domain.Loan](ctx, s.exec, mutation.Mutation{
		Name:       "borrow",
		Keys:       []string{BookKey(bookID)},
		Invalidate: []string{cache.PrefixBooks, cache.PrefixLoans},
		Do: func(ctx context.Context) (any, error) {
			return s.api.Borrow(ctx, bookID)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book borrowed", "book_id", bookID, "loan_id", loan.ID, "due", loan.DueDate)
	return loan, nil
}

// Return closes a loan. The outstanding fine may change, so balance and
// principal are re-fetched as well.
func (s *Service) Return(ctx context.Context, loanID string) (*domain.ReturnResult, error) {
	res, err := mutation.Run[*domain.ReturnResult](ctx, s.exec, mutation.Mutation{
		Name:       "return",
		Keys:       []string{loanLockKey(loanID)},
		Invalidate: []string{cache.PrefixLoans, cache.PrefixBooks, cache.KeyBalance, cache.KeyMe},
		Do: func(ctx context.Context) (any, error) {
			return s.api.Return(ctx, loanID)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book returned", "loan_id", loanID, "fine", res.FineAmount)
	return res, nil
}

// Renew extends a loan. When the loan is known locally the renewal rules are
// checked first, so a renewal that the server would refuse is never sent.
// Cached loan lists show the incremented counter while the request is in
// flight.
func (s *Service) Renew(ctx context.Context, loanID string) (*domain.RenewResult, error) {
	if loan, ok := s.cachedLoan(loanID); ok {
		if err := loan.CheckRenewable(s.now()); err != nil {
			return nil, err
		}
	}

	var patches []mutation.Patch
	for _, key := range s.cache.Keys(keyLoansMine) {
		patches = append(patches, mutation.Patch{Key: key, Apply: s.renewPatch(loanID)})
	}

	res, err := mutation.Run[*domain.RenewResult](ctx, s.exec, mutation.Mutation{
		Name:       "renew",
		Keys:       []string{loanLockKey(loanID)},
		Optimistic: patches,
		Invalidate: []string{cache.PrefixLoans},
		Do: func(ctx context.Context) (any, error) {
			return s.api.Renew(ctx, loanID)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("loan renewed", "loan_id", loanID, "due", res.NewDueDate, "remaining", res.RenewalsRemaining)
	return res, nil
}

func (s *Service) renewPatch(loanID string) func(any) (any, error) {
	return func(old any) (any, error) {
		loans, ok := old.([]domain.Loan)
		if !ok {
			return nil, fmt.Errorf("unexpected cached loans %T", old)
		}
		next := slices.Clone(loans)
		for i := range next {
			if next[i].ID != loanID {
				continue
			}
			if err := next[i].CheckRenewable(s.now()); err != nil {
				return nil, err
			}
			next[i].RenewalCount++
		}
		return next, nil
	}
}

// cachedLoan looks the loan up in any cached loan list.
func (s *Service) cachedLoan(loanID string) (domain.Loan, bool) {
	for _, key := range s.cache.Keys(keyLoansMine) {
		v, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		loans, _ := v.([]domain.Loan)
		for _, l := range loans {
			if l.ID == loanID {
				return l, true
			}
		}
	}
	return domain.Loan{}, false
}

// Reserve queues a claim on a catalog item with no copy available.
func (s *Service) Reserve(ctx context.Context, bookID string) (*domain.Reservation, error) {
	res, err := mutation.Run[*domain.Reservation](ctx, s.exec, mutation.Mutation{
		Name:       "reserve",
		Keys:       []string{BookKey(bookID)},
		Invalidate: []string{cache.PrefixReservations},
		Do: func(ctx context.Context) (any, error) {
			return s.api.Reserve(ctx, bookID)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book reserved", "book_id", bookID, "expires", res.ExpiresAt)
	return res, nil
}

// LoanBooks resolves the catalog items behind loans, at most four requests
// at a time. Items that no longer exist are left out.
func (s *Service) LoanBooks(ctx context.Context, loans []domain.Loan) (map[string]domain.Book, error) {
	ids := make([]string, 0, len(loans))
	for _, l := range loans {
		if !slices.Contains(ids, l.BookID) {
			ids = append(ids, l.BookID)
		}
	}

	var mu sync.Mutex
	out := make(map[string]domain.Book, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			b, err := s.GetBook(gctx, id)
			var notFound *domain.NotFoundError
			var stale *cache.StaleError
			switch {
			case errors.As(err, &notFound):
				return nil
			case err != nil && !errors.As(err, &stale):
				return err
			}
			mu.Lock()
			out[id] = *b
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve loan books: %w", err)
	}
	return out, nil
}

// === Favorites ===

// Favorites returns the principal's favorite catalog items.
func (s *Service) Favorites(ctx context.Context) ([]domain.Book, error) {
	return cache.Get(ctx, s.cache, cache.KeyFavorites, s.api.Favorites)
}

// AddFavorite marks a catalog item as a favorite.
func (s *Service) AddFavorite(ctx context.Context, bookID string) error {
	_, err := s.exec.Execute(ctx, mutation.Mutation{
		Name:       "add favorite",
		Keys:       []string{cache.KeyFavorites},
		Invalidate: []string{cache.KeyFavorites, cache.KeyMe},
		Do: func(ctx context.Context) (any, error) {
			return nil, s.api.AddFavorite(ctx, bookID)
		},
	})
	return err
}

// RemoveFavorite unmarks a favorite. The cached favorites list drops the
// item immediately and gets it back if the request fails.
func (s *Service) RemoveFavorite(ctx context.Context, bookID string) error {
	_, err := s.exec.Execute(ctx, mutation.Mutation{
		Name: "remove favorite",
		Optimistic: []mutation.Patch{{
			Key: cache.KeyFavorites,
			Apply: func(old any) (any, error) {
				books, ok := old.([]domain.Book)
				if !ok {
					return nil, fmt.Errorf("unexpected cached favorites %T", old)
				}
				return slices.DeleteFunc(slices.Clone(books), func(b domain.Book) bool { return b.ID == bookID }), nil
			},
		}},
		Keys:       []string{cache.KeyFavorites},
		Invalidate: []string{cache.KeyMe},
		Do: func(ctx context.Context) (any, error) {
			return nil, s.api.RemoveFavorite(ctx, bookID)
		},
	})
	return err
}
