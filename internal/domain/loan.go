package domain

import "time"

// LoanStatus is the lifecycle state of a borrowing.
type LoanStatus string

// Loan statuses as reported by the loan service.
const (
	LoanActive   LoanStatus = "active"
	LoanOverdue  LoanStatus = "overdue"
	LoanReturned LoanStatus = "returned"
)

// Loan links a principal and a catalog item.
type Loan struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	BookID       string     `json:"book_id"`
	BorrowedAt   time.Time  `json:"borrowed_at"`
	DueDate      time.Time  `json:"due_date"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`
	Status       LoanStatus `json:"status"`
	FineAmount   float64    `json:"fine_amount"`
	RenewalCount int        `json:"renewal_count"`
	MaxRenewals  int        `json:"max_renewals"`
}

// RenewalsRemaining returns how many more times the loan may be renewed.
func (l *Loan) RenewalsRemaining() int {
	if n := l.MaxRenewals - l.RenewalCount; n > 0 {
		return n
	}
	return 0
}

// CheckRenewable mirrors the loan service's renewal rules so a doomed request
// is refused before it is sent.
func (l *Loan) CheckRenewable(now time.Time) error {
	switch {
	case l.Status == LoanReturned:
		return ErrBusinessRule("Can only renew active borrowings")
	case l.Status == LoanOverdue || (!l.DueDate.IsZero() && now.After(l.DueDate)):
		return ErrBusinessRule("Overdue borrowings cannot be renewed")
	case l.RenewalCount >= l.MaxRenewals:
		return ErrBusinessRule("Maximum renewals reached")
	}
	return nil
}

// ReturnResult is the loan service response to a return.
type ReturnResult struct {
	Message    string    `json:"message"`
	FineAmount float64   `json:"fine_amount"`
	ReturnedAt time.Time `json:"returned_at"`
}

// RenewResult is the loan service response to a renewal.
type RenewResult struct {
	Message           string    `json:"message"`
	NewDueDate        time.Time `json:"new_due_date"`
	RenewalsRemaining int       `json:"renewals_remaining"`
	Updated           *Loan     `json:"updated_borrowing,omitempty"`
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

// Reservation statuses as reported by the loan service.
const (
	ReservationPending   ReservationStatus = "pending"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// BookInfo is the short book summary embedded in a reservation.
type BookInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author,omitempty"`
	CoverImage string `json:"cover_image,omitempty"`
}

// Reservation is a queued claim on a catalog item with no available copy.
type Reservation struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	BookID     string            `json:"book_id"`
	ReservedAt time.Time         `json:"reserved_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Status     ReservationStatus `json:"status"`
	Notified   bool              `json:"notified"`
	BookInfo   *BookInfo         `json:"book_info,omitempty"`
}
