package postgres

import (
	"context"
	"fmt"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

// RegistryStore implements storage.RegistryStore using PostgreSQL.
// The owner columns are stored in canonical form: a non-null principal
// always has its 32-byte subaccount materialized, so equality is plain
// byte comparison in SQL.
type RegistryStore struct {
	pool *Pool
}

// NewRegistryStore creates a new RegistryStore.
func NewRegistryStore(pool *Pool) *RegistryStore {
	return &RegistryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RegistryStore = (*RegistryStore)(nil)

// Insert stores a new record and returns the assigned token id. A zero
// ClassID is replaced with the assigned id.
func (s *RegistryStore) Insert(ctx context.Context, rec *domain.TokenRecord) (uint64, error) {
	if rec == nil || rec.Token.Name == "" {
		return 0, storage.ErrInvalidInput
	}

	ownerPrincipal, ownerSubaccount := ownerColumns(rec.Owner)

	query := `
		INSERT INTO tokens (
			class_id, name, description, owner_principal, owner_subaccount,
			supply_cap, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING token_id
	`

	var tokenID int64
	err := s.pool.QueryRow(ctx, query,
		int64(rec.ClassID),
		rec.Token.Name,
		rec.Token.Description,
		ownerPrincipal,
		ownerSubaccount,
		supplyCapColumn(rec.SupplyCap),
		rec.CreatedAt,
		rec.UpdatedAt,
	).Scan(&tokenID)
	if err != nil {
		return 0, fmt.Errorf("insert token record: %w", err)
	}

	if rec.ClassID == 0 {
		_, err = s.pool.Exec(ctx,
			`UPDATE tokens SET class_id = token_id WHERE token_id = $1`, tokenID)
		if err != nil {
			return 0, fmt.Errorf("anchor class id: %w", err)
		}
	}

	return uint64(tokenID), nil
}

// Get retrieves a record by token id. Returns ErrNotFound if not exists.
func (s *RegistryStore) Get(ctx context.Context, tokenID uint64) (*domain.TokenRecord, error) {
	query := `
		SELECT token_id, class_id, name, description, owner_principal,
		       owner_subaccount, supply_cap, created_at, updated_at
		FROM tokens
		WHERE token_id = $1
	`

	row := s.pool.QueryRow(ctx, query, int64(tokenID))
	rec, err := scanTokenRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token record: %w", err)
	}
	return rec, nil
}

// OwnerOf returns the current owner, nil for unminted or burned tokens.
func (s *RegistryStore) OwnerOf(ctx context.Context, tokenID uint64) (*domain.Account, error) {
	query := `
		SELECT owner_principal, owner_subaccount
		FROM tokens
		WHERE token_id = $1
	`

	var principal, subaccount []byte
	err := s.pool.QueryRow(ctx, query, int64(tokenID)).Scan(&principal, &subaccount)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token owner: %w", err)
	}
	return ownerFromColumns(principal, subaccount)
}

// SetOwner replaces the owner. A nil owner is a logical burn.
func (s *RegistryStore) SetOwner(ctx context.Context, tokenID uint64, owner *domain.Account) error {
	ownerPrincipal, ownerSubaccount := ownerColumns(owner)

	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens
		SET owner_principal = $2, owner_subaccount = $3
		WHERE token_id = $1
	`, int64(tokenID), ownerPrincipal, ownerSubaccount)
	if err != nil {
		return fmt.Errorf("set token owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateClass rewrites metadata and supply cap on every record of the class.
func (s *RegistryStore) UpdateClass(ctx context.Context, classID uint64, token domain.Token, supplyCap *uint64) error {
	if token.Name == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens
		SET name = $2, description = $3, supply_cap = $4
		WHERE class_id = $1
	`, int64(classID), token.Name, token.Description, supplyCapColumn(supplyCap))
	if err != nil {
		return fmt.Errorf("update token class: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Tokens returns ascending token ids starting at the first id >= start.
func (s *RegistryStore) Tokens(ctx context.Context, start uint64, limit int) ([]uint64, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT token_id FROM tokens
		WHERE token_id >= $1
		ORDER BY token_id ASC
		LIMIT $2
	`, int64(start), limit)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	return scanTokenIDs(rows)
}

// TokensOf returns ascending token ids owned by account.
func (s *RegistryStore) TokensOf(ctx context.Context, account domain.Account, start uint64, limit int) ([]uint64, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	principal, subaccount := accountColumns(account)
	rows, err := s.pool.Query(ctx, `
		SELECT token_id FROM tokens
		WHERE token_id >= $1 AND owner_principal = $2 AND owner_subaccount = $3
		ORDER BY token_id ASC
		LIMIT $4
	`, int64(start), principal, subaccount, limit)
	if err != nil {
		return nil, fmt.Errorf("list tokens of account: %w", err)
	}
	defer rows.Close()

	return scanTokenIDs(rows)
}

// BalanceOf counts tokens currently owned by account.
func (s *RegistryStore) BalanceOf(ctx context.Context, account domain.Account) (uint64, error) {
	principal, subaccount := accountColumns(account)

	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tokens
		WHERE owner_principal = $1 AND owner_subaccount = $2
	`, principal, subaccount).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count balance: %w", err)
	}
	return uint64(n), nil
}

// MintedCount counts records of the class with an owner.
func (s *RegistryStore) MintedCount(ctx context.Context, classID uint64) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tokens
		WHERE class_id = $1 AND owner_principal IS NOT NULL
	`, int64(classID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count minted: %w", err)
	}
	return uint64(n), nil
}

// TotalSupply counts records with an owner.
func (s *RegistryStore) TotalSupply(ctx context.Context) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tokens WHERE owner_principal IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count total supply: %w", err)
	}
	return uint64(n), nil
}

// Count returns the total number of records.
func (s *RegistryStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return uint64(n), nil
}

// ownerColumns converts an optional owner to its canonical column pair.
func ownerColumns(owner *domain.Account) ([]byte, []byte) {
	if owner == nil {
		return nil, nil
	}
	return accountColumns(*owner)
}

// accountColumns converts an account to its canonical column pair.
func accountColumns(account domain.Account) ([]byte, []byte) {
	c := account.Canonical()
	return []byte(c.Owner), c.Subaccount[:]
}

// ownerFromColumns rebuilds the optional owner from its column pair.
func ownerFromColumns(principal, subaccount []byte) (*domain.Account, error) {
	if principal == nil {
		return nil, nil
	}
	sub, err := domain.SubaccountFromBytes(subaccount)
	if err != nil {
		return nil, fmt.Errorf("decode owner subaccount: %w", err)
	}
	return &domain.Account{Owner: domain.Principal(principal), Subaccount: sub}, nil
}

func supplyCapColumn(cap *uint64) *int64 {
	if cap == nil {
		return nil
	}
	v := int64(*cap)
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTokenRecord scans a single row into a TokenRecord.
func scanTokenRecord(row rowScanner) (*domain.TokenRecord, error) {
	var (
		tokenID, classID     int64
		name                 string
		description          *string
		principal, subBytes  []byte
		supplyCap            *int64
		createdAt, updatedAt int64
	)

	err := row.Scan(&tokenID, &classID, &name, &description,
		&principal, &subBytes, &supplyCap, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	owner, err := ownerFromColumns(principal, subBytes)
	if err != nil {
		return nil, err
	}

	rec := &domain.TokenRecord{
		TokenID:   uint64(tokenID),
		ClassID:   uint64(classID),
		Token:     domain.Token{Name: name, Description: description},
		Owner:     owner,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if supplyCap != nil {
		c := uint64(*supplyCap)
		rec.SupplyCap = &c
	}
	return rec, nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTokenIDs(rows rowsScanner) ([]uint64, error) {
	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan token id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token ids: %w", err)
	}
	return ids, nil
}
