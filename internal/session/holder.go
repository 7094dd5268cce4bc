// Package session holds the signed-in principal. It is the single source of
// truth for who is authenticated, persists the session through a Store, and
// drops it whenever the remote API rejects the current token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"libraai/internal/domain"
)

// Status is the holder's state machine position.
type Status int

const (
	Anonymous Status = iota
	Authenticated
)

func (s Status) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// State is a point-in-time view of the holder.
type State struct {
	Status    Status
	Principal *domain.Principal
}

// Identity is the identity collaborator the holder talks to.
type Identity interface {
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.Principal, error)
	VerifyToken(ctx context.Context, token string) (*domain.TokenCheck, error)
	Me(ctx context.Context) (*domain.Principal, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) (string, error)
}

// Holder is safe for concurrent use. Remote calls are never made while the
// internal lock is held, so the client's unauthorized hook may call back into
// the holder at any time.
type Holder struct {
	identity Identity
	store    Store
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	token     string
	principal *domain.Principal
	subs      map[int]func(State)
	nextSub   int
}

// Option configures a Holder.
type Option func(*Holder)

// WithLogger sets the holder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Holder) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(h *Holder) { h.now = now }
}

// New creates an Anonymous holder. Call Restore to pick up a persisted session.
func New(identity Identity, store Store, opts ...Option) *Holder {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	h := &Holder{
		identity: identity,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		subs:     make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Token returns the current bearer token, or "" when anonymous.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// State returns the current state.
func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateLocked()
}

func (h *Holder) stateLocked() State {
	if h.token == "" {
		return State{Status: Anonymous}
	}
	return State{Status: Authenticated, Principal: h.principal}
}

// Principal returns the signed-in principal, or nil.
func (h *Holder) Principal() *domain.Principal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.principal
}

// Subscribe registers fn to be called after every state change. The returned
// function removes the subscription.
func (h *Holder) Subscribe(fn func(State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *Holder) notify(s State) {
	h.mu.RLock()
	subs := make([]func(State), 0, len(h.subs))
	for i := 0; i < h.nextSub; i++ {
		if fn, ok := h.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Restore reconstructs the session from the store. A record whose JWT has
// expired is dropped without a network call. Otherwise the token is verified
// remotely: a rejection drops the session, while a transport failure keeps
// the persisted identity and returns the error.
func (h *Holder) Restore(ctx context.Context) error {
	rec, err := h.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if rec == nil || rec.Token == "" {
		h.set("", nil)
		return nil
	}
	if tokenExpired(rec.Token, h.now()) {
		h.logger.Info("stored session expired")
		h.clear()
		return nil
	}

	h.set(rec.Token, rec.Principal)

	check, err := h.identity.VerifyToken(ctx, rec.Token)
	switch {
	case err != nil && domain.IsUnauthorized(err):
		h.logger.Info("stored session rejected")
		h.clearIfCurrent(rec.Token)
		return nil
	case err != nil:
		h.logger.Warn("could not verify stored session", "error", err)
		return fmt.Errorf("verify session: %w", err)
	case !check.Valid:
		h.logger.Info("stored session rejected")
		h.clearIfCurrent(rec.Token)
		return nil
	}
	return nil
}

// Login exchanges credentials for a token and persists the session. On
// failure the holder is left unchanged and the collaborator's reason is
// returned.
func (h *Holder) Login(ctx context.Context, email, password string) (*domain.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.ErrValidation("email and password are required")
	}
	res, err := h.identity.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("login: response carried no access token")
	}

	principal := res.User
	h.set(res.AccessToken, principal)
	if principal == nil {
		p, err := h.identity.Me(ctx)
		if err != nil {
			h.clearIfCurrent(res.AccessToken)
			return nil, err
		}
		principal = p
		h.set(res.AccessToken, principal)
	}
	h.persist(Record{Token: res.AccessToken, Principal: principal})
	h.logger.Info("signed in", "user", principal.Username)
	return principal, nil
}

// Register creates an account. The caller still has to log in.
func (h *Holder) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Principal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return h.identity.Register(ctx, req)
}

// Logout drops the session.
func (h *Holder) Logout() {
	h.clear()
}

// HandleUnauthorized drops the session when token is still the current one.
// Late 401s carrying a token that has since been replaced are ignored.
func (h *Holder) HandleUnauthorized(token string) {
	if token == "" {
		return
	}
	if h.clearIfCurrent(token) {
		h.logger.Info("session rejected by server")
	}
}

// Refresh re-reads the principal (for example after a payment changed the
// outstanding fine).
func (h *Holder) Refresh(ctx context.Context) (*domain.Principal, error) {
	token := h.Token()
	if token == "" {
		return nil, domain.ErrUnauthorized("not signed in")
	}
	p, err := h.identity.Me(ctx)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.token != token {
		h.mu.Unlock()
		return p, nil
	}
	h.principal = p
	s := h.stateLocked()
	h.mu.Unlock()
	h.persist(Record{Token: token, Principal: p})
	h.notify(s)
	return p, nil
}

// ForgotPassword requests a reset email.
func (h *Holder) ForgotPassword(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", domain.ErrValidation("email is required")
	}
	return h.identity.ForgotPassword(ctx, strings.TrimSpace(email))
}

// ResetPassword sets a new password using a reset token.
func (h *Holder) ResetPassword(ctx context.Context, resetToken, newPassword string) (string, error) {
	if resetToken == "" {
		return "", domain.ErrValidation("reset token is required")
	}
	if len(newPassword) < 6 {
		return "", &domain.ValidationError{
			Message: "invalid password",
			Fields:  []domain.FieldError{{Field: "new_password", Message: "must be at least 6 characters"}},
		}
	}
	return h.identity.ResetPassword(ctx, resetToken, newPassword)
}

func (h *Holder) set(token string, p *domain.Principal) {
	h.mu.Lock()
	h.token = token
	h.principal = p
	s := h.stateLocked()
	h.mu.Unlock()
	h.notify(s)
}

func (h *Holder) clear() {
	if err := h.store.Clear(); err != nil {
		h.logger.Warn("clear persisted session", "error", err)
	}
	h.set("", nil)
}

func (h *Holder) clearIfCurrent(token string) bool {
	h.mu.Lock()
	if h.token != token {
		h.mu.Unlock()
		return false
	}
	h.token = ""
	h.principal = nil
	h.mu.Unlock()
	if err := h.store.Clear(); err != nil {
		h.logger.Warn("clear persisted session", "error", err)
	}
	h.notify(State{Status: Anonymous})
	return true
}

func (h *Holder) persist(r Record) {
	if err := h.store.Save(r); err != nil {
		h.logger.Warn("persist session", "error", err)
	}
}

// tokenExpired reads the exp claim without verifying the signature. Tokens
// that are not JWTs, or carry no exp, are left for the server to judge.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
