// Package mutation applies create/update/delete operations against the remote
// API and reconciles the resource cache around them: optimistic patches are
// applied up front and rolled back exactly on failure, and affected keys are
// invalidated on success.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"libraai/internal/cache"
	"libraai/internal/domain"
)

// ErrMutationInFlight is returned under PolicyReject when another mutation
// holds one of the keys.
var ErrMutationInFlight = errors.New("another change to this item is still in progress")

// Policy decides what happens when a mutation targets a key that another
// mutation has not finished with.
type Policy int

const (
	// PolicyQueue waits for the earlier mutation to resolve.
	PolicyQueue Policy = iota
	// PolicyReject fails fast with ErrMutationInFlight.
	PolicyReject
)

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "queue":
		return PolicyQueue, nil
	case "reject":
		return PolicyReject, nil
	}
	return PolicyQueue, fmt.Errorf("unknown mutation policy %q (want queue or reject)", s)
}

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "queue"
}

// State is the lifecycle of one mutation attempt.
type State int

const (
	Pending State = iota
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "pending"
	}
}

// Patch rewrites one cached value optimistically. Apply receives the value
// currently cached under Key and returns its replacement; it must not modify
// old in place.
type Patch struct {
	Key   string
	Apply func(old any) (any, error)
}

// Mutation describes a single remote write.
type Mutation struct {
	Name string
	// Keys are held exclusively for the duration of the mutation in addition
	// to every patched key.
	Keys       []string
	Optimistic []Patch
	// Invalidate lists key prefixes dropped after a successful write.
	Invalidate []string
	Do         func(ctx context.Context) (any, error)
}

// Attempt records one execution of a Mutation.
type Attempt struct {
	ID        string
	Name      string
	State     State
	Snapshots []cache.Snapshot
	Value     any
	Err       error
	Started   time.Time
	Finished  time.Time
}

// Executor runs mutations against a shared cache.
type Executor struct {
	cache  *cache.Cache
	policy Policy
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewExecutor creates an Executor. A nil logger uses slog.Default.
func NewExecutor(c *cache.Cache, policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cache:  c,
		policy: policy,
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}
}

// Execute runs m and returns the resolved attempt. The returned error is the
// remote failure (after rollback), a patch failure, ErrMutationInFlight, or
// the context error while queued.
func (e *Executor) Execute(ctx context.Context, m Mutation) (*Attempt, error) {
	keys := lockKeys(m)
	release, err := e.acquire(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	a := &Attempt{ID: domain.NewID(), Name: m.Name, State: Pending, Started: time.Now()}

	for _, p := range m.Optimistic {
		snap := e.cache.Snapshot(p.Key)
		if !snap.Present {
			continue
		}
		next, err := p.Apply(snap.Value)
		if err != nil {
			e.rollback(a)
			a.Err = fmt.Errorf("%s: patch %s: %w", m.Name, p.Key, err)
			return a, a.Err
		}
		a.Snapshots = append(a.Snapshots, snap)
		e.cache.Set(p.Key, next)
	}

	v, err := m.Do(ctx)
	if err != nil {
		e.rollback(a)
		a.Err = err
		e.logger.Info("mutation rolled back", "mutation", m.Name, "attempt", a.ID, "error", err)
		return a, err
	}

	for _, s := range a.Snapshots {
		e.cache.Invalidate(s.Key)
	}
	for _, prefix := range m.Invalidate {
		e.cache.Invalidate(prefix)
	}
	a.Value = v
	a.State = Committed
	a.Finished = time.Now()
	e.logger.Debug("mutation committed", "mutation", m.Name, "attempt", a.ID, "invalidated", m.Invalidate)
	return a, nil
}

// rollback restores snapshots newest first so every key ends at the value it
// had before the attempt.
func (e *Executor) rollback(a *Attempt) {
	for i := len(a.Snapshots) - 1; i >= 0; i-- {
		e.cache.Restore(a.Snapshots[i])
	}
	a.State = RolledBack
	a.Finished = time.Now()
}

func lockKeys(m Mutation) []string {
	keys := slices.Clone(m.Keys)
	for _, p := range m.Optimistic {
		keys = append(keys, p.Key)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func (e *Executor) lockFor(key string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		e.locks[key] = ch
	}
	return ch
}

// acquire takes every key lock in sorted order so two mutations over
// overlapping key sets cannot deadlock.
func (e *Executor) acquire(ctx context.Context, keys []string) (func(), error) {
	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, k := range keys {
		ch := e.lockFor(k)
		if e.policy == PolicyReject {
			select {
			case ch <- struct{}{}:
				held = append(held, ch)
			default:
				release()
				return nil, ErrMutationInFlight
			}
			continue
		}
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// Run executes m and returns its typed result.
func Run[T any](ctx context.Context, e *Executor, m Mutation) (T, error) {
	var zero T
	a, err := e.Execute(ctx, m)
	if err != nil {
		return zero, err
	}
	if a.Value == nil {
		return zero, nil
	}
	v, ok := a.Value.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result %T", m.Name, a.Value)
	}
	return v, nil
}
