package app

import (
	"context"
	"errors"

	"libraai/internal/domain"
	"libraai/internal/session"
)

// Restore picks up the persisted session. A session that cannot be checked
// because the API is unreachable is kept, and the failure is only logged.
func (a *App) Restore(ctx context.Context) session.State {
	if err := a.Session.Restore(ctx); err != nil {
		var transport *domain.TransportError
		if errors.As(err, &transport) {
			a.logger.Warn("could not verify saved session, keeping it", "error", err)
		} else {
			a.logger.Warn("restore session", "error", err)
		}
	}
	s := a.Session.State()
	if s.Principal != nil {
		a.logger.Debug("session restored", "user", s.Principal.Username)
	}
	return s
}
