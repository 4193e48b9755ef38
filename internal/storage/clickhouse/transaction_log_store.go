package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

// TransactionLogStore implements storage.TransactionLogStore using
// ClickHouse. The log index counter lives in the store and is seeded from
// MAX(idx) on first append; the engine's single-writer lock guarantees no
// competing appender.
type TransactionLogStore struct {
	conn *Conn

	mu      sync.Mutex
	nextIdx uint64
	seeded  bool
}

// NewTransactionLogStore creates a new TransactionLogStore.
func NewTransactionLogStore(conn *Conn) *TransactionLogStore {
	return &TransactionLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TransactionLogStore = (*TransactionLogStore)(nil)

// Append stores tx and returns its log index.
func (s *TransactionLogStore) Append(ctx context.Context, tx *domain.Transaction) (uint64, error) {
	if tx == nil || tx.Op == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.seed(ctx); err != nil {
		return 0, err
	}

	idx := s.nextIdx
	err := s.conn.Exec(ctx, `
		INSERT INTO ledger_transactions (
			idx, ts, op, token_id, from_account, to_account, memo
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, idx, tx.Timestamp, tx.Op, tx.TokenID,
		accountColumn(tx.From), accountColumn(tx.To), string(tx.Memo))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	s.nextIdx++
	return idx, nil
}

// GetByTokenID retrieves all transactions for a token id, ordered by
// log index ASC.
func (s *TransactionLogStore) GetByTokenID(ctx context.Context, tokenID uint64) ([]*domain.Transaction, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT idx, ts, op, token_id, from_account, to_account, memo
		FROM ledger_transactions
		WHERE token_id = $1
		ORDER BY idx ASC
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query transactions by token: %w", err)
	}
	defer rows.Close()

	var res []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tx)
	}
	return res, rows.Err()
}

// GetByTimeRange retrieves transactions within [start, end] inclusive,
// ordered by log index ASC.
func (s *TransactionLogStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Transaction, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT idx, ts, op, token_id, from_account, to_account, memo
		FROM ledger_transactions
		WHERE ts >= $1 AND ts <= $2
		ORDER BY idx ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query transactions by time: %w", err)
	}
	defer rows.Close()

	var res []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tx)
	}
	return res, rows.Err()
}

// Len returns the number of log entries.
func (s *TransactionLogStore) Len(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// seed initializes the index counter from the table contents.
func (s *TransactionLogStore) seed(ctx context.Context) error {
	if s.seeded {
		return nil
	}

	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&count)
	if err != nil {
		return fmt.Errorf("seed transaction index: %w", err)
	}
	s.nextIdx = count
	s.seeded = true
	return nil
}

type chRowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row chRowScanner) (*domain.Transaction, error) {
	var (
		tx       domain.Transaction
		from, to string
		memo     string
	)

	err := row.Scan(&tx.Index, &tx.Timestamp, &tx.Op, &tx.TokenID, &from, &to, &memo)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if tx.From, err = accountFromColumn(from); err != nil {
		return nil, err
	}
	if tx.To, err = accountFromColumn(to); err != nil {
		return nil, err
	}
	if memo != "" {
		tx.Memo = []byte(memo)
	}
	return &tx, nil
}

// accountColumn renders an optional account as its string form; empty for
// absent accounts.
func accountColumn(account *domain.Account) string {
	if account == nil {
		return ""
	}
	return account.String()
}

func accountFromColumn(text string) (*domain.Account, error) {
	if text == "" {
		return nil, nil
	}
	account, err := parseAccountText(text)
	if err != nil {
		return nil, fmt.Errorf("decode account column: %w", err)
	}
	return account, nil
}

// parseAccountText reverses domain.Account.String: base58 principal with
// an optional ".hexsubaccount" suffix.
func parseAccountText(text string) (*domain.Account, error) {
	principalText := text
	var subText string
	if i := strings.IndexByte(text, '.'); i >= 0 {
		principalText, subText = text[:i], text[i+1:]
	}

	principal, err := domain.ParsePrincipal(principalText)
	if err != nil {
		return nil, err
	}
	account := domain.Account{Owner: principal}
	if subText != "" {
		sub, err := domain.ParseSubaccount(subText)
		if err != nil {
			return nil, err
		}
		account.Subaccount = sub
	}
	return &account, nil
}
