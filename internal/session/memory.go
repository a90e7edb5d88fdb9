package session

import (
	"context"
	"sync"
	"time"

	"github.com/containerd/errdefs"
)

// MemoryStore is an in-memory Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Put inserts or overwrites an entry with expiry now+ttl.
func (s *MemoryStore) Put(_ context.Context, token, cookie string, ttl time.Duration) error {
	if token == "" {
		return errdefs.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = Entry{
		Token:     token,
		Cookie:    cookie,
		ExpiresAt: s.now().Add(ttl),
	}
	return nil
}

// Get returns the replay cookie for a live token.
// An expired-but-unswept entry behaves identically to a missing one.
func (s *MemoryStore) Get(_ context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[token]
	if !ok || !entry.ExpiresAt.After(s.now()) {
		return "", errdefs.ErrNotFound
	}
	return entry.Cookie, nil
}

// Delete removes an entry if present.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
	return nil
}

// Sweep removes all expired entries.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries, expired or not. Used by tests and the
// sweep worker's logging.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
