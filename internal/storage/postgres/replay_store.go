package postgres

import (
	"context"
	"fmt"

	"icrc7-ledger/internal/storage"
)

// ReplayStore implements storage.ReplayStore using PostgreSQL. Duplicate
// detection rides on the primary key constraint of transfer_dedupe.
type ReplayStore struct {
	pool *Pool
}

// NewReplayStore creates a new ReplayStore.
func NewReplayStore(pool *Pool) *ReplayStore {
	return &ReplayStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReplayStore = (*ReplayStore)(nil)

// Seen reports whether key was already recorded.
func (s *ReplayStore) Seen(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transfer_dedupe WHERE dedupe_id = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dedupe key: %w", err)
	}
	return exists, nil
}

// Record stores key with its acceptance time. Returns ErrDuplicateKey if
// the key is already present.
func (s *ReplayStore) Record(ctx context.Context, key string, acceptedAt uint64) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfer_dedupe (dedupe_id, accepted_at) VALUES ($1, $2)`,
		key, int64(acceptedAt))
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("record dedupe key: %w", err)
	}
	return nil
}

// Prune drops keys accepted before cutoff.
func (s *ReplayStore) Prune(ctx context.Context, cutoff uint64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM transfer_dedupe WHERE accepted_at < $1`, int64(cutoff))
	if err != nil {
		return fmt.Errorf("prune dedupe keys: %w", err)
	}
	return nil
}
