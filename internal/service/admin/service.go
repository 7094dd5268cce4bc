// Package admin implements the administrative console: catalog and account
// maintenance, the dashboard and fine recomputation.
package admin

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"libraai/internal/cache"
	"libraai/internal/domain"
	"libraai/internal/mutation"
)

// API is the subset of the remote API the admin service uses.
type API interface {
	CreateBook(ctx context.Context, in domain.BookInput) (*domain.Book, error)
	UpdateBook(ctx context.Context, id string, in domain.BookInput) (*domain.Book, error)
	CreateBookWithCover(ctx context.Context, in domain.BookInput, cover domain.Cover) (*domain.Book, error)
	UpdateBookWithCover(ctx context.Context, id string, in domain.BookInput, cover domain.Cover) (*domain.Book, error)
	DeleteBook(ctx context.Context, id string) error
	ListUsers(ctx context.Context, search string, page domain.PageRequest) ([]domain.AdminUser, error)
	GetUser(ctx context.Context, id string) (*domain.AdminUser, error)
	CreateUser(ctx context.Context, in domain.UserInput) (*domain.AdminUser, error)
	UpdateUser(ctx context.Context, id string, in domain.UserInput) (*domain.AdminUser, error)
	DeleteUser(ctx context.Context, id string) error
	DashboardStats(ctx context.Context) (*domain.DashboardStats, error)
	UpdateAllFines(ctx context.Context) (*domain.FineUpdate, error)
}

const keyStats = "stats/admin-dashboard"

// UsersKey is the cache key of one page of the account listing.
func UsersKey(search string, page domain.PageRequest) string {
	v := url.Values{}
	if s := strings.TrimSpace(search); s != "" {
		v.Set("search", s)
	}
	v.Set("skip", strconv.Itoa(page.Offset()))
	v.Set("limit", strconv.Itoa(page.Limit()))
	return cache.Key(cache.PrefixUsers, v)
}

// UserKey is the cache key of one account.
func UserKey(id string) string { return "users/" + id }

// Service provides administrative operations. Every operation first checks
// that the signed-in principal is an administrator.
type Service struct {
	api       API
	cache     *cache.Cache
	exec      *mutation.Executor
	principal func() *domain.Principal
	logger    *slog.Logger
}

// NewService creates an admin Service. principal reports the signed-in
// principal, or nil.
func NewService(api API, c *cache.Cache, exec *mutation.Executor, principal func() *domain.Principal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, cache: c, exec: exec, principal: principal, logger: logger}
}

func (s *Service) requireAdmin() error {
	p := s.principal()
	if p == nil {
		return domain.ErrUnauthorized("not signed in")
	}
	if !p.IsAdmin {
		return domain.ErrAccessDenied("Admin access required")
	}
	return nil
}

// === Catalog ===

// CreateBook adds a catalog item.
func (s *Service) CreateBook(ctx context.Context, in domain.BookInput) (*domain.Book, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	b, err := mutation.Run[*domain.Book](ctx, s.exec, mutation.Mutation{
		Name:       "create book",
		Invalidate: []string{cache.PrefixBooks, keyStats},
		Do: func(ctx context.Context) (any, error) {
			return s.api.CreateBook(ctx, in)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book created", "book_id", b.ID, "title", b.Title)
	return b, nil
}

// UpdateBook replaces a catalog item's fields.
func (s *Service) UpdateBook(ctx context.Context, id string, in domain.BookInput) (*domain.Book, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	b, err := mutation.Run[*domain.Book](ctx, s.exec, mutation.Mutation{
		Name:       "update book",
		Keys:       []string{"books/" + id},
		Invalidate: []string{cache.PrefixBooks},
		Do: func(ctx context.Context) (any, error) {
			return s.api.UpdateBook(ctx, id, in)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book updated", "book_id", id)
	return b, nil
}

// CreateBookWithCover adds a catalog item and uploads its cover image in the
// same request.
func (s *Service) CreateBookWithCover(ctx context.Context, in domain.BookInput, cover domain.Cover) (*domain.Book, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := cover.Validate(); err != nil {
		return nil, err
	}
	b, err := mutation.Run[*domain.Book](ctx, s.exec, mutation.Mutation{
		Name:       "create book with cover",
		Invalidate: []string{cache.PrefixBooks, keyStats},
		Do: func(ctx context.Context) (any, error) {
			return s.api.CreateBookWithCover(ctx, in, cover)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book created", "book_id", b.ID, "title", b.Title, "cover", cover.Filename)
	return b, nil
}

// UpdateBookWithCover replaces a catalog item's fields and its cover image.
// The server adjusts available copies by the change in total copies.
func (s *Service) UpdateBookWithCover(ctx context.Context, id string, in domain.BookInput, cover domain.Cover) (*domain.Book, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := cover.Validate(); err != nil {
		return nil, err
	}
	b, err := mutation.Run[*domain.Book](ctx, s.exec, mutation.Mutation{
		Name:       "update book with cover",
		Keys:       []string{"books/" + id},
		Invalidate: []string{cache.PrefixBooks},
		Do: func(ctx context.Context) (any, error) {
			return s.api.UpdateBookWithCover(ctx, id, in, cover)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book updated", "book_id", id, "cover", cover.Filename)
	return b, nil
}

// DeleteBook removes a catalog item.
func (s *Service) DeleteBook(ctx context.Context, id string) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	_, err := s.exec.Execute(ctx, mutation.Mutation{
		Name:       "delete book",
		Keys:       []string{"books/" + id},
		Invalidate: []string{cache.PrefixBooks, keyStats},
		Do: func(ctx context.Context) (any, error) {
			return nil, s.api.DeleteBook(ctx, id)
		},
	})
	if err != nil {
		return err
	}
	s.logger.Info("book deleted", "book_id", id)
	return nil
}

// === Accounts ===

// ListUsers returns one page of accounts matching search.
func (s *Service) ListUsers(ctx context.Context, search string, page domain.PageRequest) ([]domain.AdminUser, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	return cache.Get(ctx, s.cache, UsersKey(search, page), func(ctx context.Context) ([]domain.AdminUser, error) {
		return s.api.ListUsers(ctx, search, page)
	})
}

// GetUser returns one account.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.AdminUser, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	return cache.Get(ctx, s.cache, UserKey(id), func(ctx context.Context) (*domain.AdminUser, error) {
		return s.api.GetUser(ctx, id)
	})
}

// CreateUser creates an account.
func (s *Service) CreateUser(ctx context.Context, in domain.UserInput) (*domain.AdminUser, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	var fields []domain.FieldError
	if in.Username == nil || strings.TrimSpace(*in.Username) == "" {
		fields = append(fields, domain.FieldError{Field: "username", Message: "is required"})
	}
	if in.Email == nil || strings.TrimSpace(*in.Email) == "" {
		fields = append(fields, domain.FieldError{Field: "email", Message: "is required"})
	}
	if in.Password == nil || len(*in.Password) < 6 {
		fields = append(fields, domain.FieldError{Field: "password", Message: "must be at least 6 characters"})
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Message: "invalid user", Fields: fields}
	}
	u, err := mutation.Run[*domain.AdminUser](ctx, s.exec, mutation.Mutation{
		Name:       "create user",
		Invalidate: []string{cache.PrefixUsers, keyStats},
		Do: func(ctx context.Context) (any, error) {
			return s.api.CreateUser(ctx, in)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// UpdateUser changes the fields set in in.
func (s *Service) UpdateUser(ctx context.Context, id string, in domain.UserInput) (*domain.AdminUser, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	if in.Fine != nil && *in.Fine < 0 {
		return nil, &domain.ValidationError{
			Message: "invalid user",
			Fields:  []domain.FieldError{{Field: "fine_amount", Message: "must be >= 0"}},
		}
	}
	invalidate := []string{cache.PrefixUsers}
	if p := s.principal(); p != nil && p.ID == id {
		invalidate = append(invalidate, cache.KeyMe)
	}
	return mutation.Run[*domain.AdminUser](ctx, s.exec, mutation.Mutation{
		Name:       "update user",
		Keys:       []string{UserKey(id)},
		Invalidate: invalidate,
		Do: func(ctx context.Context) (any, error) {
			return s.api.UpdateUser(ctx, id, in)
		},
	})
}

// DeleteUser removes an account. Administrators cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if p := s.principal(); p != nil && p.ID == id {
		return domain.ErrBusinessRule("Cannot delete your own account")
	}
	_, err := s.exec.Execute(ctx, mutation.Mutation{
		Name:       "delete user",
		Keys:       []string{UserKey(id)},
		Invalidate: []string{cache.PrefixUsers, keyStats},
		Do: func(ctx context.Context) (any, error) {
			return nil, s.api.DeleteUser(ctx, id)
		},
	})
	if err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

// === Dashboard ===

// DashboardStats returns the console summary.
func (s *Service) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	return cache.Get(ctx, s.cache, keyStats, s.api.DashboardStats)
}

// UpdateAllFines recomputes fines for every overdue loan.
func (s *Service) UpdateAllFines(ctx context.Context) (*domain.FineUpdate, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	res, err := mutation.Run[*domain.FineUpdate](ctx, s.exec, mutation.Mutation{
		Name:       "update fines",
		Invalidate: []string{cache.PrefixLoans, cache.PrefixPayments, cache.PrefixUsers, cache.KeyMe, keyStats},
		Do: func(ctx context.Context) (any, error) {
			return s.api.UpdateAllFines(ctx)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("fines updated", "loans", res.UpdatedBorrowing, "added", res.TotalFinesAdded)
	return res, nil
}
