package memory

import (
	"context"
	"sync"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

// RegistryStore is an in-memory implementation of storage.RegistryStore.
// Token ids start at 1 and are assigned sequentially, so the sorted id
// slice doubles as the pagination index.
type RegistryStore struct {
	mu      sync.RWMutex
	records map[uint64]*domain.TokenRecord // keyed by token_id
	ids     []uint64                       // ascending token ids
	nextID  uint64
}

// NewRegistryStore creates a new in-memory registry store.
func NewRegistryStore() *RegistryStore {
	return &RegistryStore{
		records: make(map[uint64]*domain.TokenRecord),
		nextID:  1,
	}
}

// Insert stores a new record and assigns the next token id.
func (s *RegistryStore) Insert(_ context.Context, rec *domain.TokenRecord) (uint64, error) {
	if rec == nil || rec.Token.Name == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	stored.TokenID = s.nextID
	if stored.ClassID == 0 {
		stored.ClassID = stored.TokenID
	}
	s.records[stored.TokenID] = stored
	s.ids = append(s.ids, stored.TokenID)
	s.nextID++
	return stored.TokenID, nil
}

// Get retrieves a record copy. Returns ErrNotFound if not exists.
func (s *RegistryStore) Get(_ context.Context, tokenID uint64) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[tokenID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

// OwnerOf returns the current owner, nil for unminted or burned tokens.
func (s *RegistryStore) OwnerOf(_ context.Context, tokenID uint64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[tokenID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if rec.Owner == nil {
		return nil, nil
	}
	owner := *rec.Owner
	if owner.Subaccount != nil {
		sub := *owner.Subaccount
		owner.Subaccount = &sub
	}
	return &owner, nil
}

// SetOwner replaces the owner of tokenID. A nil owner is a logical burn.
func (s *RegistryStore) SetOwner(_ context.Context, tokenID uint64, owner *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[tokenID]
	if !exists {
		return storage.ErrNotFound
	}
	if owner == nil {
		rec.Owner = nil
		return nil
	}
	canonical := owner.Canonical()
	rec.Owner = &canonical
	return nil
}

// UpdateClass rewrites the metadata and supply cap of every record of the
// class.
func (s *RegistryStore) UpdateClass(_ context.Context, classID uint64, token domain.Token, supplyCap *uint64) error {
	if token.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[classID]; !exists {
		return storage.ErrNotFound
	}

	for _, rec := range s.records {
		if rec.ClassID != classID {
			continue
		}
		rec.Token = token
		if rec.Token.Description != nil {
			desc := *token.Description
			rec.Token.Description = &desc
		}
		if supplyCap != nil {
			c := *supplyCap
			rec.SupplyCap = &c
		} else {
			rec.SupplyCap = nil
		}
	}
	return nil
}

// Tokens returns ascending token ids starting at the first id >= start.
func (s *RegistryStore) Tokens(_ context.Context, start uint64, limit int) ([]uint64, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]uint64, 0, limit)
	for _, id := range s.ids {
		if id < start {
			continue
		}
		res = append(res, id)
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

// TokensOf returns ascending token ids owned by account, starting at the
// first id >= start.
func (s *RegistryStore) TokensOf(_ context.Context, account domain.Account, start uint64, limit int) ([]uint64, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]uint64, 0, limit)
	for _, id := range s.ids {
		if id < start {
			continue
		}
		rec := s.records[id]
		if rec.Owner == nil || !rec.Owner.Equal(account) {
			continue
		}
		res = append(res, id)
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

// BalanceOf counts tokens currently owned by account.
func (s *RegistryStore) BalanceOf(_ context.Context, account domain.Account) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for _, rec := range s.records {
		if rec.Owner != nil && rec.Owner.Equal(account) {
			n++
		}
	}
	return n, nil
}

// MintedCount counts records of the class with a non-nil owner.
func (s *RegistryStore) MintedCount(_ context.Context, classID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for _, rec := range s.records {
		if rec.ClassID == classID && rec.Owner != nil {
			n++
		}
	}
	return n, nil
}

// TotalSupply counts records with a non-nil owner.
func (s *RegistryStore) TotalSupply(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for _, rec := range s.records {
		if rec.Owner != nil {
			n++
		}
	}
	return n, nil
}

// Count returns the total number of records, minted or not.
func (s *RegistryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.records)), nil
}

var _ storage.RegistryStore = (*RegistryStore)(nil)
