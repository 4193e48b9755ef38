package storage

import (
	"context"

	"icrc7-ledger/internal/domain"
)

// RegistryStore owns the durable mapping from token id to token record and
// current owner. Token ids are assigned by the store and are unique and
// monotonically increasing across its lifetime. Records are never deleted.
type RegistryStore interface {
	// Insert stores a new record and assigns its token id. A zero ClassID
	// is replaced with the assigned id (class anchor). Returns the id.
	Insert(ctx context.Context, rec *domain.TokenRecord) (uint64, error)

	// Get retrieves a record copy by token id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, tokenID uint64) (*domain.TokenRecord, error)

	// OwnerOf returns the current owner, or nil for an unminted or burned
	// token. Returns ErrNotFound for an unknown id.
	OwnerOf(ctx context.Context, tokenID uint64) (*domain.Account, error)

	// SetOwner replaces the owner. A nil owner is a logical burn.
	// Returns ErrNotFound for an unknown id.
	SetOwner(ctx context.Context, tokenID uint64, owner *domain.Account) error

	// UpdateClass replaces the descriptive metadata and supply cap of every
	// record of the class. Returns ErrNotFound for an unknown class id.
	UpdateClass(ctx context.Context, classID uint64, token domain.Token, supplyCap *uint64) error

	// Tokens returns token ids in ascending order beginning at the first
	// id >= start, at most limit entries.
	Tokens(ctx context.Context, start uint64, limit int) ([]uint64, error)

	// TokensOf is Tokens filtered to ids currently owned by account.
	TokensOf(ctx context.Context, account domain.Account, start uint64, limit int) ([]uint64, error)

	// BalanceOf returns the number of tokens currently owned by account.
	BalanceOf(ctx context.Context, account domain.Account) (uint64, error)

	// MintedCount returns the number of records of the class with a
	// non-nil owner.
	MintedCount(ctx context.Context, classID uint64) (uint64, error)

	// TotalSupply returns the count of records with a non-nil owner.
	TotalSupply(ctx context.Context) (uint64, error)

	// Count returns the total number of records, minted or not.
	Count(ctx context.Context) (uint64, error)
}

// ApprovalStore owns the durable approval grants of the icrc37 surface.
// Token approvals are keyed by (token id, spender principal); collection
// approvals by (grantor principal, spender principal). Re-approving the
// same spender replaces the grant.
type ApprovalStore interface {
	// PutTokenApproval stores or replaces a token-level approval.
	PutTokenApproval(ctx context.Context, tokenID uint64, approval domain.Approval) error

	// PutCollectionApproval stores or replaces a collection-level approval
	// granted by owner.
	PutCollectionApproval(ctx context.Context, owner domain.Principal, approval domain.Approval) error

	// RevokeTokenApproval removes the approval of spender on the token; a
	// nil spender removes all of them. Returns ErrNotFound when nothing
	// matched.
	RevokeTokenApproval(ctx context.Context, tokenID uint64, spender *domain.Principal) error

	// RevokeCollectionApproval removes the collection approval owner
	// granted to spender; a nil spender removes all of owner's grants.
	// Returns ErrNotFound when nothing matched.
	RevokeCollectionApproval(ctx context.Context, owner domain.Principal, spender *domain.Principal) error

	// IsApprovedToken reports whether spender holds an unexpired approval
	// on the token.
	IsApprovedToken(ctx context.Context, tokenID uint64, spender domain.Principal, nowNs uint64) (bool, error)

	// IsApprovedCollection reports whether spender holds an unexpired
	// collection approval from owner.
	IsApprovedCollection(ctx context.Context, owner, spender domain.Principal, nowNs uint64) (bool, error)

	// TokenApprovals lists the approvals on a token, ordered by spender.
	TokenApprovals(ctx context.Context, tokenID uint64) ([]domain.Approval, error)

	// CollectionApprovals lists owner's collection grants, ordered by
	// spender.
	CollectionApprovals(ctx context.Context, owner domain.Principal) ([]domain.Approval, error)

	// CountTokenApprovals returns the number of approvals on a token.
	CountTokenApprovals(ctx context.Context, tokenID uint64) (int, error)

	// CountCollectionApprovals returns the number of collection grants
	// made by owner.
	CountCollectionApprovals(ctx context.Context, owner domain.Principal) (int, error)

	// ClearTokenApprovals drops every approval on a token. Transfers and
	// burns call this; absence of approvals is not an error.
	ClearTokenApprovals(ctx context.Context, tokenID uint64) error
}

// ReplayStore tracks transfer deduplication keys already accepted within
// the replay window.
type ReplayStore interface {
	// Seen reports whether the key was already recorded.
	Seen(ctx context.Context, key string) (bool, error)

	// Record stores the key with its acceptance time (Unix nanoseconds).
	// Returns ErrDuplicateKey if the key is already present.
	Record(ctx context.Context, key string, acceptedAt uint64) error

	// Prune drops keys accepted before cutoff (Unix nanoseconds).
	Prune(ctx context.Context, cutoff uint64) error
}

// TransactionLogStore is the append-only ledger history used for audit,
// analytics and the live feed.
type TransactionLogStore interface {
	// Append stores a transaction and returns its log index.
	Append(ctx context.Context, tx *domain.Transaction) (uint64, error)

	// GetByTokenID retrieves all transactions touching a token id,
	// ordered by log index ASC.
	GetByTokenID(ctx context.Context, tokenID uint64) ([]*domain.Transaction, error)

	// GetByTimeRange retrieves transactions with timestamp within
	// [start, end] (inclusive, Unix seconds), ordered by log index ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Transaction, error)

	// Len returns the number of entries in the log.
	Len(ctx context.Context) (uint64, error)
}
