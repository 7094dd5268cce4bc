// Package assistant manages one question/answer conversation with the
// document assistant and tracks whether the assistant service is up.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"libraai/internal/domain"
)

// DefaultPollInterval matches the liveness refresh of the web widget.
const DefaultPollInterval = 30 * time.Second

// Apology is the synthetic reply appended when a question could not be answered.
const Apology = "Sorry, I can't answer right now. Please try again."

// Rejections that leave the transcript unchanged.
var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrPending       = errors.New("a question is already waiting for an answer")
	ErrUnavailable   = errors.New("assistant is offline")
	ErrClosed        = errors.New("assistant session closed")
)

// Service is the assistant collaborator.
type Service interface {
	Ask(ctx context.Context, question string) (*domain.Answer, error)
	AssistantHealth(ctx context.Context) (*domain.AssistantHealth, error)
	UploadDocument(ctx context.Context, filename string, r io.Reader) (*domain.UploadResult, error)
	Documents(ctx context.Context) ([]domain.Document, error)
}

// Session is safe for concurrent use.
type Session struct {
	svc      Service
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	greeting string
	onChange func()

	mu         sync.Mutex
	transcript []domain.Turn
	pending    bool
	status     domain.ServiceStatus
	epoch      uint64

	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithPollInterval sets the liveness check interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithGreeting seeds the transcript with an assistant welcome turn.
func WithGreeting(text string) Option {
	return func(s *Session) { s.greeting = text }
}

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithOnChange registers fn to be called after the transcript, pending flag,
// or service status changes.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// New creates a session with unknown service status.
func New(svc Service, opts ...Option) *Session {
	s := &Session{
		svc:      svc,
		logger:   slog.Default(),
		interval: DefaultPollInterval,
		now:      time.Now,
		status:   domain.StatusUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.greeting != "" {
		s.transcript = append(s.transcript, domain.Turn{
			ID:        domain.NewID(),
			Speaker:   domain.SpeakerAssistant,
			Text:      s.greeting,
			Synthetic: true,
			At:        s.now(),
		})
	}
	return s
}

// Transcript returns a copy of the turns so far.
func (s *Session) Transcript() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Pending reports whether a question is waiting for its answer.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Status returns the last observed service status.
func (s *Session) Status() domain.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Poll queries the liveness endpoint once and records the result. Failures
// only mark the service unhealthy.
func (s *Session) Poll(ctx context.Context) domain.ServiceStatus {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	status := domain.StatusUnhealthy
	health, err := s.svc.AssistantHealth(ctx)
	switch {
	case err != nil:
		s.logger.Debug("assistant health check failed", "error", err)
	case health.Status == string(domain.StatusHealthy):
		status = domain.StatusHealthy
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return status
	}
	prev := s.status
	s.status = status
	s.mu.Unlock()
	if prev != status {
		s.logger.Info("assistant status changed", "from", prev, "to", status)
		s.changed()
	}
	return status
}

// Start polls once immediately and then on every interval until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c := cron.New()
	s.cron = c
	s.cancel = cancel
	s.mu.Unlock()

	s.Poll(ctx)

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() { s.Poll(ctx) }); err != nil {
		s.Stop()
		return fmt.Errorf("schedule health poll: %w", err)
	}
	c.Start()
	s.logger.Debug("assistant poller started", "interval", s.interval)
	return nil
}

// Stop ends polling and waits for a running poll to finish.
func (s *Session) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Debug("assistant poller stopped")
}

// Close stops polling and discards any answer still in flight.
func (s *Session) Close() {
	s.Stop()
	s.mu.Lock()
	s.epoch++
	s.pending = false
	s.mu.Unlock()
}

// Ask sends a question. It is refused without touching the transcript when
// the question is blank, another question is pending, or the service is not
// healthy. Otherwise the user turn is appended at once and the reply turn
// after the collaborator answers. A failed call appends an apology and
// returns it together with the error.
func (s *Session) Ask(ctx context.Context, utterance string) (*domain.Turn, error) {
	question := strings.TrimSpace(utterance)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	s.mu.Lock()
	switch {
	case s.pending:
		s.mu.Unlock()
		return nil, ErrPending
	case s.status != domain.StatusHealthy:
		s.mu.Unlock()
		return nil, ErrUnavailable
	}
	s.transcript = append(s.transcript, domain.Turn{
		ID:      domain.NewID(),
		Speaker: domain.SpeakerUser,
		Text:    question,
		At:      s.now(),
	})
	s.pending = true
	epoch := s.epoch
	s.mu.Unlock()
	s.changed()

	answer, err := s.svc.Ask(ctx, question)
	if err == nil && !answer.Success {
		err = errors.New("assistant could not answer")
	}

	reply := domain.Turn{ID: domain.NewID(), Speaker: domain.SpeakerAssistant, At: s.now()}
	if err != nil {
		reply.Text = Apology
		reply.Synthetic = true
	} else {
		reply.Text = answer.Answer
		reply.Sources = answer.Sources
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding answer for closed session")
		return nil, ErrClosed
	}
	s.transcript = append(s.transcript, reply)
	s.pending = false
	s.mu.Unlock()
	s.changed()

	if err != nil {
		s.logger.Warn("assistant question failed", "error", err)
		return &reply, fmt.Errorf("ask: %w", err)
	}
	return &reply, nil
}

// Documents lists the documents the assistant can draw on.
func (s *Session) Documents(ctx context.Context) ([]domain.Document, error) {
	return s.svc.Documents(ctx)
}
