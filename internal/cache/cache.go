// Package cache is the process-wide replica of server-owned resources. It
// serves fresh values directly, de-duplicates concurrent fetches for the same
// key, refreshes ageing values in the background, and keeps serving the last
// good value when a fetch fails.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default freshness windows.
const (
	DefaultTTL          = 5 * time.Minute
	DefaultRefreshAfter = 30 * time.Second
)

// Loader fetches the current value for a key from the remote collaborator.
type Loader func(ctx context.Context) (any, error)

// StaleError is returned together with a previously cached value when a
// re-fetch failed. The value is still usable.
type StaleError struct {
	Key       string
	FetchedAt time.Time
	Err       error
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("serving stale %q: %v", e.Key, e.Err)
}

func (e *StaleError) Unwrap() error { return e.Err }

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	gens       map[string]uint64
	refreshing map[string]bool
	group      singleflight.Group
	// epoch counts full clears. Snapshots from an earlier epoch are not restored.
	epoch uint64

	ttl          time.Duration
	refreshAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a fetched value is considered fresh.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithRefreshAfter sets the age after which a fresh value triggers a
// background refresh. Zero disables background refresh.
func WithRefreshAfter(d time.Duration) Option {
	return func(c *Cache) { c.refreshAfter = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for background refresh diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:      make(map[string]*entry),
		gens:         make(map[string]uint64),
		refreshing:   make(map[string]bool),
		ttl:          DefaultTTL,
		refreshAfter: DefaultRefreshAfter,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the value cached under key, calling load when there is
// no fresh value. Concurrent callers for the same key share one load. The
// load itself is not cancelled when ctx is; ctx only bounds this caller's
// wait.
//
// When load fails and an expired value is still held, that value is returned
// together with a *StaleError.
func (c *Cache) GetOrFetch(ctx context.Context, key string, load Loader) (any, error) {
	c.mu.Lock()
	now := c.now()
	gen := c.gens[key]
	if _, ok := c.gens[key]; !ok {
		c.gens[key] = 0
	}
	e := c.entries[key]
	if e != nil {
		age := now.Sub(e.fetchedAt)
		if age < c.ttl {
			if c.refreshAfter > 0 && age >= c.refreshAfter && !c.refreshing[key] {
				c.refreshing[key] = true
				c.mu.Unlock()
				c.refresh(ctx, key, gen, load)
				return e.value, nil
			}
			c.mu.Unlock()
			return e.value, nil
		}
	}
	c.mu.Unlock()

	ch := c.group.DoChan(flightKey(key, gen), func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, gen, load)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			if e != nil {
				return e.value, &StaleError{Key: key, FetchedAt: e.fetchedAt, Err: res.Err}
			}
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) refresh(ctx context.Context, key string, gen uint64, load Loader) {
	ch := c.group.DoChan(flightKey(key, gen), func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, gen, load)
	})
	go func() {
		res := <-ch
		c.mu.Lock()
		delete(c.refreshing, key)
		c.mu.Unlock()
		if res.Err != nil {
			c.logger.Debug("background refresh failed", "key", key, "error", res.Err)
		}
	}()
}

// load runs the loader and stores the result unless the key's generation
// moved while it was in flight.
func (c *Cache) load(ctx context.Context, key string, gen uint64, load Loader) (any, error) {
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		c.logger.Debug("discarding superseded fetch", "key", key, "generation", gen)
		return v, nil
	}
	c.entries[key] = &entry{value: v, fetchedAt: c.now()}
	return v, nil
}

func flightKey(key string, gen uint64) string {
	return key + "#" + strconv.FormatUint(gen, 10)
}

// Invalidate drops every entry whose key starts with prefix and supersedes
// fetches in flight for those keys. An empty prefix clears the cache.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefix == "" {
		c.epoch++
	}
	for k := range c.gens {
		if strings.HasPrefix(k, prefix) {
			c.gens[k]++
		}
	}
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Peek returns the cached value for key regardless of age.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Keys returns the cached keys that start with prefix.
func (c *Cache) Keys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Set stores v under key as if it had just been fetched. Fetches in flight
// for key are superseded.
func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	c.entries[key] = &entry{value: v, fetchedAt: c.now()}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot captures the exact state of one key, including its absence.
type Snapshot struct {
	Key       string
	Present   bool
	Value     any
	FetchedAt time.Time

	epoch uint64
}

// Snapshot returns the current state of key.
func (c *Cache) Snapshot(key string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Key: key, epoch: c.epoch}
	if e, ok := c.entries[key]; ok {
		s.Present = true
		s.Value = e.value
		s.FetchedAt = e.fetchedAt
	}
	return s
}

// Restore puts key back into the state captured by s. Fetches in flight for
// the key are superseded. A snapshot taken before the cache was last cleared
// is ignored.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.epoch != c.epoch {
		return
	}
	c.gens[s.Key]++
	if !s.Present {
		delete(c.entries, s.Key)
		return
	}
	c.entries[s.Key] = &entry{value: s.Value, fetchedAt: s.FetchedAt}
}
