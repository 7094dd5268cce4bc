package domain

import "time"

// PaymentStatus is the lifecycle state of a payment attempt.
type PaymentStatus string

// Payment statuses as reported by the payment service.
const (
	PaymentCreated   PaymentStatus = "created"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one attempt to clear part of a principal's fine.
type Payment struct {
	ID          string        `json:"id,omitempty"`
	PaymentID   string        `json:"payment_id"`
	Amount      float64       `json:"amount"`
	Currency    string        `json:"currency,omitempty"`
	Description string        `json:"description,omitempty"`
	Status      PaymentStatus `json:"status"`
	PayerID     string        `json:"payer_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Balance is the principal's outstanding fine.
type Balance struct {
	UserID     string  `json:"user_id"`
	FineAmount float64 `json:"fine_amount"`
	Currency   string  `json:"currency"`
}

// PaymentIntent is the payment service response to a payment creation: the
// user must authorize it at ApprovalURL before it can be executed.
type PaymentIntent struct {
	Success     bool   `json:"success"`
	PaymentID   string `json:"payment_id"`
	ApprovalURL string `json:"approval_url"`
	Message     string `json:"message"`
}

// PaymentReceipt is the payment service response to an execution.
type PaymentReceipt struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	AmountPaid float64 `json:"amount_paid"`
	PaymentID  string  `json:"payment_id"`
}

// OverdueLoan is an overdue borrowing with its accrued fine.
type OverdueLoan struct {
	ID          string    `json:"id"`
	BookID      string    `json:"book_id"`
	BookTitle   string    `json:"book_title"`
	BookAuthor  string    `json:"book_author"`
	BorrowedAt  time.Time `json:"borrowed_at"`
	DueDate     time.Time `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
	FineAmount  float64   `json:"fine_amount"`
}

// FineUpdate is the result of an administrative fine recomputation.
type FineUpdate struct {
	Success          bool    `json:"success"`
	UpdatedBorrowing int     `json:"updated_borrowings"`
	TotalFinesAdded  float64 `json:"total_fines_added"`
	Message          string  `json:"message"`
}

// ValidatePaymentAmount checks a requested amount against the outstanding
// fine before any payment intent is requested.
func ValidatePaymentAmount(amount, outstanding float64) error {
	if outstanding <= 0 {
		return ErrBusinessRule("No fines to pay")
	}
	if amount <= 0 {
		return &ValidationError{
			Message: "invalid payment amount",
			Fields:  []FieldError{{Field: "amount", Message: "must be greater than 0"}},
		}
	}
	if amount > outstanding {
		return &ValidationError{
			Message: "invalid payment amount",
			Fields:  []FieldError{{Field: "amount", Message: "exceeds the outstanding fine"}},
		}
	}
	return nil
}
