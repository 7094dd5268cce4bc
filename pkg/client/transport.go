package client

import (
	"net/http"

	"golang.org/x/time/rate"

	"libraai/internal/domain"
)

const requestIDHeader = "X-Request-ID"

// requestIDTransport tags every outgoing request with an X-Request-ID. An id
// stored in the request context is reused; otherwise a new one is generated.
type requestIDTransport struct {
	next http.RoundTripper
}

func newRequestIDTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &requestIDTransport{next: next}
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(requestIDHeader) != "" {
		return t.next.RoundTrip(req)
	}
	id := domain.RequestIDFromContext(req.Context())
	if id == "" {
		id = domain.NewID()
	}
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	req.Header.Set(requestIDHeader, id)
	return t.next.RoundTrip(req)
}

// rateLimitTransport blocks until the token bucket admits the request or the
// request context is done.
type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func newRateLimitTransport(next http.RoundTripper, rps float64, burst int) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitTransport{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
