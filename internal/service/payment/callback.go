package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

// ErrPaymentCancelled is returned by Wait when the user cancelled at the
// payment processor.
var ErrPaymentCancelled = errors.New("payment cancelled")

// Callback carries the correlation ids the processor redirects back with.
type Callback struct {
	PaymentID string
	PayerID   string
	Cancelled bool
}

// CallbackListener is a local HTTP endpoint the payment processor redirects
// the browser to once the user has authorized or cancelled a payment.
type CallbackListener struct {
	addr   string
	logger *slog.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server

	results chan Callback
}

// NewCallbackListener creates a listener for addr (host:port; port 0 picks a
// free one). Nothing is bound until Start.
func NewCallbackListener(addr string, logger *slog.Logger) *CallbackListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackListener{addr: addr, logger: logger, results: make(chan Callback, 1)}
}

// Handler returns the callback routes.
func (l *CallbackListener) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/payment/success", l.success)
	r.Get("/payment/cancel", l.cancel)
	return r
}

// Start binds the listener and serves in the background.
func (l *CallbackListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen for payment callback: %w", err)
	}
	srv := &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.ln, l.srv = ln, srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Warn("payment callback listener stopped", "error", err)
		}
	}()
	l.logger.Debug("payment callback listener started", "addr", ln.Addr().String())
	return nil
}

// URL returns the base URL of the started listener.
func (l *CallbackListener) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return "http://" + l.ln.Addr().String()
}

// SuccessURL is where the processor should send an authorized payment.
func (l *CallbackListener) SuccessURL() string { return l.URL() + "/payment/success" }

// CancelURL is where the processor should send a cancelled payment.
func (l *CallbackListener) CancelURL() string { return l.URL() + "/payment/cancel" }

// Wait blocks until the processor redirects back or ctx is done.
func (l *CallbackListener) Wait(ctx context.Context) (Callback, error) {
	select {
	case cb := <-l.results:
		if cb.Cancelled {
			return cb, ErrPaymentCancelled
		}
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}

// Close shuts the listener down.
func (l *CallbackListener) Close(ctx context.Context) error {
	l.mu.Lock()
	srv := l.srv
	l.srv, l.ln = nil, nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (l *CallbackListener) success(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := Callback{PaymentID: q.Get("paymentId"), PayerID: q.Get("PayerID")}
	if cb.PaymentID == "" || cb.PayerID == "" {
		writePage(w, http.StatusBadRequest, "Payment error", "The payment processor did not return a payment and payer id.")
		return
	}
	if !l.deliver(cb) {
		writePage(w, http.StatusConflict, "Payment already received", "This payment was already handed to the client.")
		return
	}
	writePage(w, http.StatusOK, "Payment authorized", "You can close this window and return to the terminal.")
}

func (l *CallbackListener) cancel(w http.ResponseWriter, r *http.Request) {
	l.deliver(Callback{PaymentID: r.URL.Query().Get("paymentId"), Cancelled: true})
	writePage(w, http.StatusOK, "Payment cancelled", "No money was taken. You can close this window.")
}

// deliver hands cb to Wait. Only the first callback is kept.
func (l *CallbackListener) deliver(cb Callback) bool {
	select {
	case l.results <- cb:
		l.logger.Info("payment callback received", "payment_id", cb.PaymentID, "cancelled", cb.Cancelled)
		return true
	default:
		return false
	}
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = h.HTML(
		h.Lang("en"),
		h.Head(
			h.Meta(h.Charset("utf-8")),
			h.TitleEl(g.Text(title+" | LibraAI")),
		),
		h.Body(h.H1(g.Text(title)), h.P(g.Text(message))),
	).Render(w)
}
