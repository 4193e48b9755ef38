package postgres

import (
	"context"
	"fmt"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

// ApprovalStore implements storage.ApprovalStore using PostgreSQL.
// Spenders and grantors are stored as raw principal bytes; expiry 0 marks
// an approval without expiry.
type ApprovalStore struct {
	pool *Pool
}

// NewApprovalStore creates a new ApprovalStore.
func NewApprovalStore(pool *Pool) *ApprovalStore {
	return &ApprovalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ApprovalStore = (*ApprovalStore)(nil)

// PutTokenApproval stores or replaces a token-level approval.
func (s *ApprovalStore) PutTokenApproval(ctx context.Context, tokenID uint64, approval domain.Approval) error {
	if !approval.Spender.Valid() {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_approvals (token_id, spender, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_id, spender)
		DO UPDATE SET expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`, int64(tokenID), []byte(approval.Spender), int64(approval.ExpiresAt), approval.CreatedAt)
	if err != nil {
		return fmt.Errorf("put token approval: %w", err)
	}
	return nil
}

// PutCollectionApproval stores or replaces a collection-level approval.
func (s *ApprovalStore) PutCollectionApproval(ctx context.Context, owner domain.Principal, approval domain.Approval) error {
	if !owner.Valid() || !approval.Spender.Valid() {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO collection_approvals (owner_principal, spender, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_principal, spender)
		DO UPDATE SET expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`, []byte(owner), []byte(approval.Spender), int64(approval.ExpiresAt), approval.CreatedAt)
	if err != nil {
		return fmt.Errorf("put collection approval: %w", err)
	}
	return nil
}

// RevokeTokenApproval removes matching approvals on the token.
func (s *ApprovalStore) RevokeTokenApproval(ctx context.Context, tokenID uint64, spender *domain.Principal) error {
	query := `DELETE FROM token_approvals WHERE token_id = $1`
	args := []any{int64(tokenID)}
	if spender != nil {
		query += ` AND spender = $2`
		args = append(args, []byte(*spender))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("revoke token approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RevokeCollectionApproval removes matching collection grants of owner.
func (s *ApprovalStore) RevokeCollectionApproval(ctx context.Context, owner domain.Principal, spender *domain.Principal) error {
	query := `DELETE FROM collection_approvals WHERE owner_principal = $1`
	args := []any{[]byte(owner)}
	if spender != nil {
		query += ` AND spender = $2`
		args = append(args, []byte(*spender))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("revoke collection approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IsApprovedToken reports whether spender holds an unexpired approval on
// the token.
func (s *ApprovalStore) IsApprovedToken(ctx context.Context, tokenID uint64, spender domain.Principal, nowNs uint64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM token_approvals
			WHERE token_id = $1 AND spender = $2
			  AND (expires_at = 0 OR expires_at > $3)
		)
	`, int64(tokenID), []byte(spender), int64(nowNs)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check token approval: %w", err)
	}
	return exists, nil
}

// IsApprovedCollection reports whether spender holds an unexpired
// collection approval from owner.
func (s *ApprovalStore) IsApprovedCollection(ctx context.Context, owner, spender domain.Principal, nowNs uint64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM collection_approvals
			WHERE owner_principal = $1 AND spender = $2
			  AND (expires_at = 0 OR expires_at > $3)
		)
	`, []byte(owner), []byte(spender), int64(nowNs)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection approval: %w", err)
	}
	return exists, nil
}

// TokenApprovals lists the approvals on a token, ordered by spender.
func (s *ApprovalStore) TokenApprovals(ctx context.Context, tokenID uint64) ([]domain.Approval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT spender, expires_at, created_at
		FROM token_approvals
		WHERE token_id = $1
		ORDER BY spender ASC
	`, int64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("list token approvals: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// CollectionApprovals lists owner's collection grants, ordered by spender.
func (s *ApprovalStore) CollectionApprovals(ctx context.Context, owner domain.Principal) ([]domain.Approval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT spender, expires_at, created_at
		FROM collection_approvals
		WHERE owner_principal = $1
		ORDER BY spender ASC
	`, []byte(owner))
	if err != nil {
		return nil, fmt.Errorf("list collection approvals: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// CountTokenApprovals returns the number of approvals on a token.
func (s *ApprovalStore) CountTokenApprovals(ctx context.Context, tokenID uint64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM token_approvals WHERE token_id = $1`, int64(tokenID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count token approvals: %w", err)
	}
	return n, nil
}

// CountCollectionApprovals returns the number of grants made by owner.
func (s *ApprovalStore) CountCollectionApprovals(ctx context.Context, owner domain.Principal) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM collection_approvals WHERE owner_principal = $1`, []byte(owner)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count collection approvals: %w", err)
	}
	return n, nil
}

// ClearTokenApprovals drops every approval on a token.
func (s *ApprovalStore) ClearTokenApprovals(ctx context.Context, tokenID uint64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM token_approvals WHERE token_id = $1`, int64(tokenID))
	if err != nil {
		return fmt.Errorf("clear token approvals: %w", err)
	}
	return nil
}

type approvalRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanApprovals(rows approvalRows) ([]domain.Approval, error) {
	var res []domain.Approval
	for rows.Next() {
		var (
			spender   []byte
			expiresAt int64
			createdAt int64
		)
		if err := rows.Scan(&spender, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		res = append(res, domain.Approval{
			Spender:   domain.Principal(spender),
			ExpiresAt: uint64(expiresAt),
			CreatedAt: createdAt,
		})
	}
	return res, rows.Err()
}
