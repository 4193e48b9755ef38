package memory

import (
	"context"
	"sync"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

// TransactionLogStore is an in-memory implementation of
// storage.TransactionLogStore. Entries are append-only.
type TransactionLogStore struct {
	mu      sync.RWMutex
	entries []domain.Transaction
}

// NewTransactionLogStore creates a new in-memory transaction log store.
func NewTransactionLogStore() *TransactionLogStore {
	return &TransactionLogStore{}
}

// Append stores tx and returns its log index.
func (s *TransactionLogStore) Append(_ context.Context, tx *domain.Transaction) (uint64, error) {
	if tx == nil || tx.Op == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *tx
	entry.Index = uint64(len(s.entries))
	if entry.Memo != nil {
		entry.Memo = append([]byte(nil), tx.Memo...)
	}
	s.entries = append(s.entries, entry)
	return entry.Index, nil
}

// GetByTokenID retrieves all transactions for a token id, ordered by
// log index ASC.
func (s *TransactionLogStore) GetByTokenID(_ context.Context, tokenID uint64) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*domain.Transaction
	for i := range s.entries {
		if s.entries[i].TokenID == tokenID {
			entry := s.entries[i]
			res = append(res, &entry)
		}
	}
	return res, nil
}

// GetByTimeRange retrieves transactions within [start, end] inclusive,
// ordered by log index ASC.
func (s *TransactionLogStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*domain.Transaction
	for i := range s.entries {
		if s.entries[i].Timestamp >= start && s.entries[i].Timestamp <= end {
			entry := s.entries[i]
			res = append(res, &entry)
		}
	}
	return res, nil
}

// Len returns the number of log entries.
func (s *TransactionLogStore) Len(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.entries)), nil
}

var _ storage.TransactionLogStore = (*TransactionLogStore)(nil)
