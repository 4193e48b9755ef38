package ledger

import (
	"context"
	"fmt"
	"time"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/idhash"
	"icrc7-ledger/internal/storage"
)

// ReplayGuard tracks recently accepted transfer requests so retried
// submissions are rejected without double-executing. A request without
// CreatedAtTime skips deduplication entirely; the caller accepts the risk.
type ReplayGuard struct {
	store  storage.ReplayStore
	window uint64 // tx_window, ns
	drift  uint64 // permitted_drift, ns
	now    func() time.Time
}

// NewReplayGuard creates a guard over store with the given window and
// drift in nanoseconds.
func NewReplayGuard(store storage.ReplayStore, window, drift uint64, now func() time.Time) *ReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{store: store, window: window, drift: drift, now: now}
}

// Check validates the request's timestamp against the replay window and
// rejects duplicates. It does not record the request; Commit does, after
// the transfer applied.
func (g *ReplayGuard) Check(ctx context.Context, caller domain.Principal, req domain.TransferRequest) *domain.TransferError {
	if req.CreatedAtTime == nil {
		return nil
	}
	if terr := g.CheckTimestamp(req.CreatedAtTime); terr != nil {
		return terr
	}

	key := idhash.ComputeTransferDedupeID(caller, req.TokenID, *req.CreatedAtTime, req.Memo)
	seen, err := g.store.Seen(ctx, key)
	if err != nil {
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("replay check failed: %v", err))
	}
	if seen {
		return domain.NewTransferError(domain.CodeDuplicate, "duplicate transfer request")
	}
	return nil
}

// CheckTimestamp validates an optional created_at time against the
// window and drift without consulting the dedupe store. Approvals use it
// directly; they are window-checked but not deduplicated.
func (g *ReplayGuard) CheckTimestamp(createdAtTime *uint64) *domain.TransferError {
	if createdAtTime == nil {
		return nil
	}

	created := *createdAtTime
	now := uint64(g.now().UnixNano())

	if created < g.oldestAcceptable(now) {
		return domain.NewTransferError(domain.CodeTooOld,
			fmt.Sprintf("created_at_time %d is outside the transaction window", created))
	}
	if created > now+g.drift {
		return domain.NewTransferError(domain.CodeCreatedInFuture,
			fmt.Sprintf("created_at_time %d is ahead of ledger time %d", created, now))
	}
	return nil
}

// Commit records the accepted request and evicts entries that aged out of
// the window.
func (g *ReplayGuard) Commit(ctx context.Context, caller domain.Principal, req domain.TransferRequest) error {
	if req.CreatedAtTime == nil {
		return nil
	}

	now := uint64(g.now().UnixNano())
	if err := g.store.Prune(ctx, g.oldestAcceptable(now)); err != nil {
		return fmt.Errorf("prune replay window: %w", err)
	}

	key := idhash.ComputeTransferDedupeID(caller, req.TokenID, *req.CreatedAtTime, req.Memo)
	if err := g.store.Record(ctx, key, *req.CreatedAtTime); err != nil {
		return fmt.Errorf("record replay key: %w", err)
	}
	return nil
}

// oldestAcceptable returns the lower bound of admissible created_at times.
func (g *ReplayGuard) oldestAcceptable(now uint64) uint64 {
	bound := g.window + g.drift
	if now <= bound {
		return 0
	}
	return now - bound
}
