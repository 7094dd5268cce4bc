// Package payment implements fine payment through the external processor's
// three-step flow: request an intent, let the user authorize it, execute it.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"libraai/internal/cache"
	"libraai/internal/domain"
	"libraai/internal/mutation"
)

// DefaultDescription is sent when a payment is created without one.
const DefaultDescription = "Library fine payment"

// API is the subset of the remote API the payment service uses.
type API interface {
	CreatePayment(ctx context.Context, amount float64, description string) (*domain.PaymentIntent, error)
	ExecutePayment(ctx context.Context, paymentID, payerID string) (*domain.PaymentReceipt, error)
	PaymentHistory(ctx context.Context) ([]domain.Payment, error)
	Balance(ctx context.Context) (*domain.Balance, error)
	OverdueLoans(ctx context.Context) ([]domain.OverdueLoan, error)
}

const (
	keyHistory = "payments/history"
	keyOverdue = "payments/overdue"
	// keyLock serializes payment writes for the principal.
	keyLock = "payments/write"
)

// Service provides balance, history and the payment flow.
type Service struct {
	api    API
	cache  *cache.Cache
	exec   *mutation.Executor
	logger *slog.Logger
}

// NewService creates a payment Service.
func NewService(api API, c *cache.Cache, exec *mutation.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, cache: c, exec: exec, logger: logger}
}

// Balance returns the outstanding fine.
func (s *Service) Balance(ctx context.Context) (*domain.Balance, error) {
	return cache.Get(ctx, s.cache, cache.KeyBalance, s.api.Balance)
}

// History lists past payment attempts.
func (s *Service) History(ctx context.Context) ([]domain.Payment, error) {
	return cache.Get(ctx, s.cache, keyHistory, s.api.PaymentHistory)
}

// Overdue lists overdue loans with their accrued fines.
func (s *Service) Overdue(ctx context.Context) ([]domain.OverdueLoan, error) {
	return cache.Get(ctx, s.cache, keyOverdue, s.api.OverdueLoans)
}

// CreateIntent requests a payment intent for amount. The amount is checked
// against the outstanding fine first; an amount the processor would refuse
// is never sent.
func (s *Service) CreateIntent(ctx context.Context, amount float64, description string) (*domain.PaymentIntent, error) {
	bal, err := s.Balance(ctx)
	var stale *cache.StaleError
	if err != nil && (bal == nil || !errors.As(err, &stale)) {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if err := domain.ValidatePaymentAmount(amount, bal.FineAmount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		description = DefaultDescription
	}

	intent, err := mutation.Run[*domain.PaymentIntent](ctx, s.exec, mutation.Mutation{
		Name:       "create payment",
		Keys:       []string{keyLock},
		Invalidate: []string{keyHistory},
		Do: func(ctx context.Context) (any, error) {
			return s.api.CreatePayment(ctx, amount, description)
		},
	})
	if err != nil {
		return nil, err
	}
	if !intent.Success || intent.ApprovalURL == "" {
		return nil, domain.ErrBusinessRule("%s", orDefault(intent.Message, "payment could not be created"))
	}
	s.logger.Info("payment created", "payment_id", intent.PaymentID, "amount", amount)
	return intent, nil
}

// Execute finalizes an authorized payment. Balance, principal and loans are
// re-fetched afterwards.
func (s *Service) Execute(ctx context.Context, paymentID, payerID string) (*domain.PaymentReceipt, error) {
	var fields []domain.FieldError
	if paymentID == "" {
		fields = append(fields, domain.FieldError{Field: "payment_id", Message: "is required"})
	}
	if payerID == "" {
		fields = append(fields, domain.FieldError{Field: "payer_id", Message: "is required"})
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Message: "invalid payment callback", Fields: fields}
	}

	receipt, err := mutation.Run[*domain.PaymentReceipt](ctx, s.exec, mutation.Mutation{
		Name:       "execute payment",
		Keys:       []string{keyLock},
		Invalidate: []string{cache.PrefixPayments, cache.KeyMe, cache.PrefixLoans},
		Do: func(ctx context.Context) (any, error) {
			return s.api.ExecutePayment(ctx, paymentID, payerID)
		},
	})
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return nil, domain.ErrBusinessRule("%s", orDefault(receipt.Message, "payment failed"))
	}
	s.logger.Info("payment executed", "payment_id", paymentID, "amount", receipt.AmountPaid)
	return receipt, nil
}

// Pay runs the whole flow: it creates an intent, hands the approval URL to
// authorize, waits for the processor to redirect to listener and executes
// the payment.
func (s *Service) Pay(ctx context.Context, amount float64, description string, listener *CallbackListener, authorize func(approvalURL string) error) (*domain.PaymentReceipt, error) {
	intent, err := s.CreateIntent(ctx, amount, description)
	if err != nil {
		return nil, err
	}
	if err := authorize(intent.ApprovalURL); err != nil {
		return nil, fmt.Errorf("authorize payment: %w", err)
	}
	cb, err := listener.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if cb.PaymentID != intent.PaymentID {
		return nil, domain.ErrBusinessRule("callback for payment %s does not match %s", cb.PaymentID, intent.PaymentID)
	}
	return s.Execute(ctx, cb.PaymentID, cb.PayerID)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
