package memory

import (
	"context"
	"sync"

	"icrc7-ledger/internal/storage"
)

// ReplayStore is an in-memory implementation of storage.ReplayStore.
type ReplayStore struct {
	mu   sync.RWMutex
	seen map[string]uint64 // dedupe key -> accepted_at (unix ns)
}

// NewReplayStore creates a new in-memory replay store.
func NewReplayStore() *ReplayStore {
	return &ReplayStore{seen: make(map[string]uint64)}
}

// Seen reports whether key was already recorded.
func (s *ReplayStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.seen[key]
	return exists, nil
}

// Record stores key with its acceptance time.
func (s *ReplayStore) Record(_ context.Context, key string, acceptedAt uint64) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.seen[key] = acceptedAt
	return nil
}

// Prune drops keys accepted before cutoff.
func (s *ReplayStore) Prune(_ context.Context, cutoff uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, at := range s.seen {
		if at < cutoff {
			delete(s.seen, key)
		}
	}
	return nil
}

// Len returns the number of tracked keys. Test helper.
func (s *ReplayStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.seen)
}

var _ storage.ReplayStore = (*ReplayStore)(nil)
