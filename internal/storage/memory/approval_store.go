package memory

import (
	"context"
	"sort"
	"sync"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

// ApprovalStore is an in-memory implementation of storage.ApprovalStore.
// Expired approvals are kept until revoked or cleared; reads filter on
// expiry themselves.
type ApprovalStore struct {
	mu         sync.RWMutex
	token      map[uint64]map[string]domain.Approval // token_id -> spender key
	collection map[string]map[string]domain.Approval // owner key -> spender key
}

// NewApprovalStore creates a new in-memory approval store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{
		token:      make(map[uint64]map[string]domain.Approval),
		collection: make(map[string]map[string]domain.Approval),
	}
}

var _ storage.ApprovalStore = (*ApprovalStore)(nil)

// PutTokenApproval stores or replaces a token-level approval.
func (s *ApprovalStore) PutTokenApproval(_ context.Context, tokenID uint64, approval domain.Approval) error {
	if !approval.Spender.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grants, exists := s.token[tokenID]
	if !exists {
		grants = make(map[string]domain.Approval)
		s.token[tokenID] = grants
	}
	grants[approval.Spender.Key()] = cloneApproval(approval)
	return nil
}

// PutCollectionApproval stores or replaces a collection-level approval.
func (s *ApprovalStore) PutCollectionApproval(_ context.Context, owner domain.Principal, approval domain.Approval) error {
	if !owner.Valid() || !approval.Spender.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grants, exists := s.collection[owner.Key()]
	if !exists {
		grants = make(map[string]domain.Approval)
		s.collection[owner.Key()] = grants
	}
	grants[approval.Spender.Key()] = cloneApproval(approval)
	return nil
}

// RevokeTokenApproval removes matching approvals on the token.
func (s *ApprovalStore) RevokeTokenApproval(_ context.Context, tokenID uint64, spender *domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants := s.token[tokenID]
	if len(grants) == 0 {
		return storage.ErrNotFound
	}
	if spender == nil {
		delete(s.token, tokenID)
		return nil
	}
	if _, exists := grants[spender.Key()]; !exists {
		return storage.ErrNotFound
	}
	delete(grants, spender.Key())
	return nil
}

// RevokeCollectionApproval removes matching collection grants of owner.
func (s *ApprovalStore) RevokeCollectionApproval(_ context.Context, owner domain.Principal, spender *domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants := s.collection[owner.Key()]
	if len(grants) == 0 {
		return storage.ErrNotFound
	}
	if spender == nil {
		delete(s.collection, owner.Key())
		return nil
	}
	if _, exists := grants[spender.Key()]; !exists {
		return storage.ErrNotFound
	}
	delete(grants, spender.Key())
	return nil
}

// IsApprovedToken reports whether spender holds an unexpired approval on
// the token.
func (s *ApprovalStore) IsApprovedToken(_ context.Context, tokenID uint64, spender domain.Principal, nowNs uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	approval, exists := s.token[tokenID][spender.Key()]
	return exists && approval.Active(nowNs), nil
}

// IsApprovedCollection reports whether spender holds an unexpired
// collection approval from owner.
func (s *ApprovalStore) IsApprovedCollection(_ context.Context, owner, spender domain.Principal, nowNs uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	approval, exists := s.collection[owner.Key()][spender.Key()]
	return exists && approval.Active(nowNs), nil
}

// TokenApprovals lists the approvals on a token, ordered by spender.
func (s *ApprovalStore) TokenApprovals(_ context.Context, tokenID uint64) ([]domain.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedApprovals(s.token[tokenID]), nil
}

// CollectionApprovals lists owner's collection grants, ordered by spender.
func (s *ApprovalStore) CollectionApprovals(_ context.Context, owner domain.Principal) ([]domain.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedApprovals(s.collection[owner.Key()]), nil
}

// CountTokenApprovals returns the number of approvals on a token.
func (s *ApprovalStore) CountTokenApprovals(_ context.Context, tokenID uint64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.token[tokenID]), nil
}

// CountCollectionApprovals returns the number of grants made by owner.
func (s *ApprovalStore) CountCollectionApprovals(_ context.Context, owner domain.Principal) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collection[owner.Key()]), nil
}

// ClearTokenApprovals drops every approval on a token.
func (s *ApprovalStore) ClearTokenApprovals(_ context.Context, tokenID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.token, tokenID)
	return nil
}

func cloneApproval(a domain.Approval) domain.Approval {
	a.Spender = append(domain.Principal(nil), a.Spender...)
	return a
}

func sortedApprovals(grants map[string]domain.Approval) []domain.Approval {
	if len(grants) == 0 {
		return nil
	}
	keys := make([]string, 0, len(grants))
	for key := range grants {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	res := make([]domain.Approval, 0, len(keys))
	for _, key := range keys {
		res = append(res, cloneApproval(grants[key]))
	}
	return res
}
