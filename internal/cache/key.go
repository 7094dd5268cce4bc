package cache

import (
	"context"
	"fmt"
	"net/url"
)

// Key builds a cache key from a resource path and its query parameters.
// Parameters are sorted so equal queries share a key.
func Key(resource string, params url.Values) string {
	if len(params) == 0 {
		return resource
	}
	return resource + "?" + params.Encode()
}

// Get is GetOrFetch with a typed loader and result.
func Get[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache key %q holds %T", key, v)
	}
	return t, err
}

// Key prefixes shared by the services that read and invalidate them.
const (
	PrefixBooks        = "books"
	PrefixLoans        = "loans"
	PrefixReservations = "reservations"
	PrefixPayments     = "payments"
	PrefixUsers        = "users"
	KeyFavorites       = "favorites"
	KeyBalance         = "payments/balance"
	KeyMe              = "auth/me"
)
