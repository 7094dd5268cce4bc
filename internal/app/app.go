// Package app provides application-level wiring and dependency injection
// for the LibraAI client.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"libraai/internal/assistant"
	"libraai/internal/cache"
	"libraai/internal/config"
	"libraai/internal/mutation"
	"libraai/internal/service/admin"
	"libraai/internal/service/library"
	"libraai/internal/service/payment"
	"libraai/internal/session"
	"libraai/pkg/client"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Store  session.Store // nil keeps the session in memory only
	Logger *slog.Logger
	// HTTPClient overrides the transport (tests); optional.
	HTTPClient *http.Client
}

// Services groups the domain services the CLI commands use.
type Services struct {
	Library *library.Service
	Payment *payment.Service
	Admin   *admin.Service
}

// App holds the fully-wired client: transport, session, cache, executor and
// services. There is no package-level state; every surface shares one App.
type App struct {
	Services Services
	Client   *client.Client
	Session  *session.Holder
	Cache    *cache.Cache
	Executor *mutation.Executor

	cfg         *config.Config
	logger      *slog.Logger
	unsubscribe func()

	mu       sync.Mutex
	lastUser string
}

// New wires the client, session holder, cache, executor and services.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := mutation.ParsePolicy(cfg.MutationPolicy)
	if err != nil {
		return nil, fmt.Errorf("mutation policy: %w", err)
	}

	// === Transport ===
	opts := []client.Option{
		client.WithTimeout(cfg.Timeout),
		client.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		client.WithLogger(logger.With("component", "client")),
	}
	if deps.HTTPClient != nil {
		opts = append([]client.Option{client.WithHTTPClient(deps.HTTPClient)}, opts...)
	}
	c := client.NewClient(cfg.Host, opts...)

	// === Session ===
	holder := session.New(c, deps.Store, session.WithLogger(logger.With("component", "session")))
	c.SetTokenSource(holder.Token)
	c.SetUnauthorizedHandler(holder.HandleUnauthorized)

	// === Cache + executor ===
	rc := cache.New(
		cache.WithTTL(cfg.CacheTTL),
		cache.WithRefreshAfter(cfg.RefreshAfter),
		cache.WithLogger(logger.With("component", "cache")),
	)
	exec := mutation.NewExecutor(rc, policy, logger.With("component", "mutation"))

	a := &App{
		Client:   c,
		Session:  holder,
		Cache:    rc,
		Executor: exec,
		cfg:      cfg,
		logger:   logger,
		Services: Services{
			Library: library.NewService(c, rc, exec, logger.With("component", "library")),
			Payment: payment.NewService(c, rc, exec, logger.With("component", "payment")),
			Admin:   admin.NewService(c, rc, exec, holder.Principal, logger.With("component", "admin")),
		},
	}
	a.unsubscribe = holder.Subscribe(a.onSessionChange)
	return a, nil
}

// onSessionChange drops every cached resource when the principal goes away
// or changes, so one user's data is never shown to another.
func (a *App) onSessionChange(s session.State) {
	id := ""
	if s.Status == session.Authenticated && s.Principal != nil {
		id = s.Principal.ID
	}
	a.mu.Lock()
	changed := id != a.lastUser
	a.lastUser = id
	a.mu.Unlock()

	if s.Status == session.Anonymous || changed {
		n := a.Cache.Invalidate("")
		a.logger.Debug("cache cleared", "status", s.Status.String(), "entries", n)
	}
}

// NewAssistant creates an assistant session polling at the configured
// interval. The caller owns it and must Close it.
func (a *App) NewAssistant(opts ...assistant.Option) *assistant.Session {
	base := []assistant.Option{
		assistant.WithPollInterval(a.cfg.AssistantPoll),
		assistant.WithLogger(a.logger.With("component", "assistant")),
	}
	return assistant.New(a.Client, append(base, opts...)...)
}

// NewCallbackListener creates a payment callback listener on the configured
// address.
func (a *App) NewCallbackListener() *payment.CallbackListener {
	return payment.NewCallbackListener(a.cfg.CallbackAddr, a.logger.With("component", "payment-callback"))
}

// Close detaches the app from the session holder.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}
