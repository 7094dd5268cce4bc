package session

import (
	"sync"

	"libraai/internal/domain"
)

// Record is the persisted session: the bearer token and a snapshot of the
// principal it belongs to.
type Record struct {
	Token     string            `json:"token" yaml:"token"`
	Principal *domain.Principal `json:"user" yaml:"user"`
}

// Store persists the session record across process restarts. Load returns
// (nil, nil) when nothing is stored.
type Store interface {
	Load() (*Record, error)
	Save(Record) error
	Clear() error
}

// MemoryStore keeps the record in memory.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemoryStore creates a MemoryStore, optionally pre-seeded.
func NewMemoryStore(initial *Record) *MemoryStore {
	s := &MemoryStore{}
	if initial != nil {
		cp := *initial
		s.rec = &cp
	}
	return s
}

func (s *MemoryStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	cp := *s.rec
	return &cp, nil
}

func (s *MemoryStore) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &r
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}
