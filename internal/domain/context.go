package domain

import "context"

type requestIDKey struct{}

// WithRequestID stores a request correlation id in the context. Outgoing API
// calls made with this context reuse it as their X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext extracts the request id from the context.
// Returns an empty string if no request id is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
