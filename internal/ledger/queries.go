package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/observability"
	"icrc7-ledger/internal/storage"
)

// Collection returns a snapshot of the collection state.
func (e *Engine) Collection() domain.Collection {
	e.colMu.RLock()
	defer e.colMu.RUnlock()
	return e.collection
}

// CollectionMetadata returns the metadata map of the collection, including
// the current total supply.
func (e *Engine) CollectionMetadata(ctx context.Context) (map[string]string, error) {
	supply, err := e.registry.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("collection metadata: %w", err)
	}
	e.colMu.RLock()
	defer e.colMu.RUnlock()
	return e.collection.Metadata(supply), nil
}

// OwnerOf returns the owner of each token id, in order. Unknown, unminted
// and burned ids yield a nil entry.
func (e *Engine) OwnerOf(ctx context.Context, tokenIDs []uint64) ([]*domain.Account, error) {
	defer e.timeQuery("owner_of", e.now())
	if err := e.checkQueryBatch(len(tokenIDs)); err != nil {
		return nil, err
	}

	owners := make([]*domain.Account, len(tokenIDs))
	for i, id := range tokenIDs {
		owner, err := e.registry.OwnerOf(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("owner of %d: %w", id, err)
		}
		owners[i] = owner
	}
	return owners, nil
}

// BalanceOf returns the number of tokens held by each account, in order.
func (e *Engine) BalanceOf(ctx context.Context, accounts []domain.Account) ([]uint64, error) {
	defer e.timeQuery("balance_of", e.now())
	if err := e.checkQueryBatch(len(accounts)); err != nil {
		return nil, err
	}

	balances := make([]uint64, len(accounts))
	for i, account := range accounts {
		balance, err := e.registry.BalanceOf(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", account, err)
		}
		balances[i] = balance
	}
	return balances, nil
}

// Tokens pages over all token ids in ascending order. A nil start begins
// at the lowest id; start is inclusive. A nil take uses the default page
// size, and take is clamped to the configured maximum.
func (e *Engine) Tokens(ctx context.Context, start *uint64, take *int) ([]uint64, error) {
	defer e.timeQuery("tokens", e.now())
	from, limit := e.pageArgs(start, take)
	ids, err := e.registry.Tokens(ctx, from, limit)
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}
	return ids, nil
}

// TokensOf pages over the token ids owned by account, ascending.
func (e *Engine) TokensOf(ctx context.Context, account domain.Account, start *uint64, take *int) ([]uint64, error) {
	defer e.timeQuery("tokens_of", e.now())
	from, limit := e.pageArgs(start, take)
	ids, err := e.registry.TokensOf(ctx, account, from, limit)
	if err != nil {
		return nil, fmt.Errorf("tokens of %s: %w", account, err)
	}
	return ids, nil
}

// TokenMetadata returns the metadata map of each token id, in order.
// Unknown ids yield a nil entry.
func (e *Engine) TokenMetadata(ctx context.Context, tokenIDs []uint64) ([]map[string]string, error) {
	defer e.timeQuery("token_metadata", e.now())
	if err := e.checkQueryBatch(len(tokenIDs)); err != nil {
		return nil, err
	}

	metadata := make([]map[string]string, len(tokenIDs))
	for i, id := range tokenIDs {
		rec, err := e.registry.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("token metadata %d: %w", id, err)
		}
		metadata[i] = rec.Metadata()
	}
	return metadata, nil
}

// TotalSupply returns the number of currently owned (minted, not burned)
// tokens.
func (e *Engine) TotalSupply(ctx context.Context) (uint64, error) {
	supply, err := e.registry.TotalSupply(ctx)
	if err != nil {
		return 0, fmt.Errorf("total supply: %w", err)
	}
	return supply, nil
}

// TransactionsByToken returns the full history of one token id.
func (e *Engine) TransactionsByToken(ctx context.Context, tokenID uint64) ([]*domain.Transaction, error) {
	defer e.timeQuery("transactions_by_token", e.now())
	txs, err := e.txlog.GetByTokenID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("transactions by token %d: %w", tokenID, err)
	}
	return txs, nil
}

// TransactionsByTimeRange returns all transactions with a timestamp in
// [start, end], inclusive, Unix seconds.
func (e *Engine) TransactionsByTimeRange(ctx context.Context, start, end int64) ([]*domain.Transaction, error) {
	defer e.timeQuery("transactions_by_time_range", e.now())
	txs, err := e.txlog.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("transactions by time range: %w", err)
	}
	return txs, nil
}

// pageArgs resolves optional pagination arguments against the settings.
func (e *Engine) pageArgs(start *uint64, take *int) (uint64, int) {
	settings := e.Settings()
	var from uint64
	if start != nil {
		from = *start
	}
	return from, settings.TakeValue(take)
}

// checkQueryBatch bounds a query batch. Empty batches are allowed and
// produce empty results; only mutations reject them.
func (e *Engine) checkQueryBatch(n int) error {
	if n > e.Settings().MaxQueryBatchSize {
		return ErrExceedsMaxQueryBatchSize
	}
	return nil
}

func (e *Engine) timeQuery(name string, started time.Time) {
	observability.RecordQuery(name, e.now().Sub(started).Seconds(), nil)
}
