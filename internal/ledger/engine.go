package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/idhash"
	"icrc7-ledger/internal/observability"
	"icrc7-ledger/internal/storage"
)

// Engine orchestrates minting and batch transfers on top of the registry
// store and the replay guard. All mutating operations are serialized by a
// single mutex: once a mutation starts applying it runs to completion (or
// full rollback in atomic mode) before the next one is observed. Reads go
// straight to the stores and never see a half-applied mutation.
type Engine struct {
	registry  storage.RegistryStore
	txlog     storage.TransactionLogStore
	approvals storage.ApprovalStore
	guard     *ReplayGuard

	// mu serializes mutations.
	mu sync.Mutex

	// colMu guards the collection state, which reads touch concurrently.
	colMu      sync.RWMutex
	collection domain.Collection

	publish func(domain.Transaction)
	logger  *log.Logger
	now     func() time.Time
}

// Config wires an Engine.
type Config struct {
	Registry   storage.RegistryStore
	TxLog      storage.TransactionLogStore
	Replay     storage.ReplayStore
	Approvals  storage.ApprovalStore
	Collection domain.Collection

	// Publish, if set, receives every committed transaction.
	Publish func(domain.Transaction)
	Logger  *log.Logger
	Now     func() time.Time
}

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[ledger] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	settings := cfg.Collection.Settings
	return &Engine{
		registry:   cfg.Registry,
		txlog:      cfg.TxLog,
		approvals:  cfg.Approvals,
		guard:      NewReplayGuard(cfg.Replay, settings.TxWindow, settings.PermittedDrift, now),
		collection: cfg.Collection,
		publish:    cfg.Publish,
		logger:     logger,
		now:        now,
	}
}

// Settings returns a copy of the current ledger settings.
func (e *Engine) Settings() domain.Settings {
	e.colMu.RLock()
	defer e.colMu.RUnlock()
	return e.collection.Settings
}

// CreateToken registers a new token class and returns its token id. The
// record has no owner until minted.
func (e *Engine) CreateToken(ctx context.Context, caller domain.Principal, token domain.Token, supplyCap *uint64) (uint64, error) {
	if err := e.requireManager(caller); err != nil {
		return 0, err
	}
	if token.Name == "" {
		return 0, fmt.Errorf("%w: token name required", storage.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if capErr := e.checkCapacity(ctx); capErr != nil {
		return 0, capErr
	}

	nowSec := e.now().Unix()
	id, err := e.registry.Insert(ctx, &domain.TokenRecord{
		Token:     token,
		SupplyCap: supplyCap,
		CreatedAt: nowSec,
		UpdatedAt: nowSec,
	})
	if err != nil {
		return 0, fmt.Errorf("create token: %w", err)
	}

	observability.RecordTokenCreated()
	e.logger.Printf("created token %d (%s)", id, token.Name)
	return id, nil
}

// UpdateToken replaces the descriptive metadata of a token class. The
// supply cap may only be lowered, and never below the minted count. A nil
// supplyCap keeps the current cap.
func (e *Engine) UpdateToken(ctx context.Context, caller domain.Principal, tokenID uint64, token domain.Token, supplyCap *uint64) error {
	if err := e.requireManager(caller); err != nil {
		return err
	}
	if token.Name == "" {
		return fmt.Errorf("%w: token name required", storage.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.registry.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update token: %w", err)
	}

	newCap := rec.SupplyCap
	if supplyCap != nil {
		if rec.SupplyCap != nil && *supplyCap > *rec.SupplyCap {
			return ErrSupplyCapIncrease
		}
		minted, err := e.registry.MintedCount(ctx, rec.ClassID)
		if err != nil {
			return fmt.Errorf("update token: %w", err)
		}
		if *supplyCap < minted {
			return ErrSupplyCapDecreaseBelowMinted
		}
		newCap = supplyCap
	}

	if err := e.registry.UpdateClass(ctx, rec.ClassID, token, newCap); err != nil {
		return fmt.Errorf("update token: %w", err)
	}

	e.append(ctx, domain.UpdateTransaction(e.now().Unix(), tokenID, caller))
	return nil
}

// Mint assigns ownership of the token class to each holder in order. The
// first mint takes the class anchor record; subsequent mints create
// sibling records with fresh ids. Once the minted count reaches the class
// supply cap, that holder and all subsequent ones receive
// SUPPLY_CAP_REACHED with no state change. Mint is not replay-guarded.
func (e *Engine) Mint(ctx context.Context, caller domain.Principal, tokenID uint64, holders []domain.Account) ([]domain.TransferResult, error) {
	if err := e.requireMinter(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(holders) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(holders) > settings.MaxUpdateBatchSize {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	anchor, err := e.registry.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mint: %w", err)
	}

	minted, err := e.registry.MintedCount(ctx, anchor.ClassID)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}

	nowSec := e.now().Unix()
	results := make([]domain.TransferResult, len(holders))
	anchorOpen := anchor.Owner == nil && minted == 0

	for i, holder := range holders {
		if anchor.SupplyCap != nil && minted >= *anchor.SupplyCap {
			capErr := domain.NewTransferError(domain.CodeSupplyCapReached,
				fmt.Sprintf("supply cap %d reached for class %d", *anchor.SupplyCap, anchor.ClassID))
			for j := i; j < len(holders); j++ {
				results[j] = domain.Failed(capErr)
			}
			break
		}

		owner := holder.Canonical()
		var mintedID uint64
		if anchorOpen {
			if err := e.registry.SetOwner(ctx, anchor.TokenID, &owner); err != nil {
				return nil, fmt.Errorf("mint anchor: %w", err)
			}
			mintedID = anchor.TokenID
			anchorOpen = false
		} else {
			sibling := &domain.TokenRecord{
				ClassID:   anchor.ClassID,
				Token:     anchor.Token,
				Owner:     &owner,
				SupplyCap: anchor.SupplyCap,
				CreatedAt: nowSec,
				UpdatedAt: nowSec,
			}
			mintedID, err = e.registry.Insert(ctx, sibling)
			if err != nil {
				return nil, fmt.Errorf("mint sibling: %w", err)
			}
		}

		tx := domain.MintTransaction(nowSec, mintedID, caller, owner)
		if idx, err := e.txlog.Append(ctx, &tx); err == nil {
			tx.Index = idx
		} else {
			// The log is the audit trail; stop the batch when it fails.
			logErr := domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("transaction log append failed: %v", err))
			for j := i; j < len(holders); j++ {
				results[j] = domain.Failed(logErr)
			}
			return results, nil
		}
		e.broadcast(tx)

		results[i] = domain.Ok(mintedID)
		minted++
		observability.RecordMint()
	}

	return results, nil
}

// Transfer executes a batch of ownership changes, one result per request
// in request order. With atomic batch transfers enabled a single failing
// item aborts the whole batch.
func (e *Engine) Transfer(ctx context.Context, caller domain.Principal, requests []domain.TransferRequest) ([]domain.TransferResult, error) {
	if err := e.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(requests) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(requests) > settings.MaxUpdateBatchSize {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var results []domain.TransferResult
	if settings.AtomicBatchTransfers && len(requests) > 1 {
		results = e.transferAtomic(ctx, caller, requests, settings)
	} else {
		results = e.transferSequential(ctx, caller, requests, settings)
	}

	for _, res := range results {
		observability.RecordTransferResult(resultCode(res))
	}
	return results, nil
}

// transferSequential commits or fails each item independently.
func (e *Engine) transferSequential(ctx context.Context, caller domain.Principal, requests []domain.TransferRequest, settings domain.Settings) []domain.TransferResult {
	results := make([]domain.TransferResult, len(requests))
	for i, req := range requests {
		if terr := e.checkTransfer(ctx, caller, req, settings); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}
		terr, fatal := e.applyTransfer(ctx, caller, req)
		if terr != nil {
			results[i] = domain.Failed(terr)
			if fatal {
				for j := i + 1; j < len(requests); j++ {
					results[j] = domain.Failed(terr)
				}
				return results
			}
			continue
		}
		results[i] = domain.Ok(req.TokenID)
	}
	return results
}

// transferAtomic validates every item before touching state. On any
// failure nothing commits: failing items carry their own reason, items
// that would have succeeded carry ABORTED.
func (e *Engine) transferAtomic(ctx context.Context, caller domain.Principal, requests []domain.TransferRequest, settings domain.Settings) []domain.TransferResult {
	results := make([]domain.TransferResult, len(requests))

	// The replay store only learns a dedupe key on commit, so the dry-run
	// has to catch the same tuple appearing twice within this batch.
	seen := make(map[string]bool, len(requests))

	failed := false
	for i, req := range requests {
		if terr := e.checkTransfer(ctx, caller, req, settings); terr != nil {
			results[i] = domain.Failed(terr)
			failed = true
			continue
		}
		if req.CreatedAtTime != nil {
			key := idhash.ComputeTransferDedupeID(caller, req.TokenID, *req.CreatedAtTime, req.Memo)
			if seen[key] {
				results[i] = domain.Failed(domain.NewTransferError(domain.CodeDuplicate,
					"duplicate transfer request"))
				failed = true
				continue
			}
			seen[key] = true
		}
	}
	if failed {
		aborted := domain.NewTransferError(domain.CodeAborted, "batch aborted by sibling failure")
		for i := range results {
			if results[i].Err == nil {
				results[i] = domain.Failed(aborted)
			}
		}
		return results
	}

	for i, req := range requests {
		terr, fatal := e.applyTransfer(ctx, caller, req)
		if terr != nil {
			// Validation already passed; only a storage fault lands here.
			results[i] = domain.Failed(terr)
			if fatal {
				for j := i + 1; j < len(requests); j++ {
					results[j] = domain.Failed(terr)
				}
				return results
			}
			continue
		}
		results[i] = domain.Ok(req.TokenID)
	}
	return results
}

// checkTransfer validates one request without mutating state.
func (e *Engine) checkTransfer(ctx context.Context, caller domain.Principal, req domain.TransferRequest, settings domain.Settings) *domain.TransferError {
	if len(req.Memo) > settings.MaxMemoSize {
		return domain.NewTransferError(domain.CodeMemoTooLarge,
			fmt.Sprintf("memo is %d bytes, limit %d", len(req.Memo), settings.MaxMemoSize))
	}
	if !req.To.Valid() {
		return domain.NewTransferError(domain.CodeGenericBatchError, "invalid recipient account")
	}

	// Timestamp and dedup checks come before ownership so a retried
	// transfer reports DUPLICATE rather than UNAUTHORIZED after the
	// original already moved the token.
	if terr := e.guard.Check(ctx, caller, req); terr != nil {
		return terr
	}

	owner, err := e.registry.OwnerOf(ctx, req.TokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewTransferError(domain.CodeNonExistingTokenID,
				fmt.Sprintf("token %d does not exist", req.TokenID))
		}
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("owner lookup failed: %v", err))
	}
	// Ownership is authorized at the principal level; a principal controls
	// all of its subaccounts.
	if owner == nil || !owner.Owner.Equal(caller) {
		return domain.NewTransferError(domain.CodeUnauthorized,
			fmt.Sprintf("caller does not own token %d", req.TokenID))
	}
	return nil
}

// applyTransfer mutates ownership for one validated request. The bool
// return marks storage faults that must stop the remainder of the batch.
func (e *Engine) applyTransfer(ctx context.Context, caller domain.Principal, req domain.TransferRequest) (*domain.TransferError, bool) {
	from, err := e.registry.OwnerOf(ctx, req.TokenID)
	if err != nil || from == nil {
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("owner lookup failed: %v", err)), true
	}

	to := req.To.Canonical()
	if err := e.registry.SetOwner(ctx, req.TokenID, &to); err != nil {
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("set owner failed: %v", err)), true
	}
	e.clearApprovals(ctx, req.TokenID)

	if err := e.guard.Commit(ctx, caller, req); err != nil {
		e.logger.Printf("replay guard commit failed for token %d: %v", req.TokenID, err)
	}

	tx := domain.TransferTransaction(e.now().Unix(), req.TokenID, *from, to, req.Memo)
	idx, err := e.txlog.Append(ctx, &tx)
	if err != nil {
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("transaction log append failed: %v", err)), true
	}
	tx.Index = idx
	e.broadcast(tx)
	return nil, false
}

// Burn logically burns each token the caller owns: the record stays, the
// owner becomes nil. One result per id in order.
func (e *Engine) Burn(ctx context.Context, caller domain.Principal, tokenIDs []uint64) ([]domain.TransferResult, error) {
	if err := e.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(tokenIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(tokenIDs) > settings.MaxUpdateBatchSize {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nowSec := e.now().Unix()
	results := make([]domain.TransferResult, len(tokenIDs))
	for i, id := range tokenIDs {
		owner, err := e.registry.OwnerOf(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				results[i] = domain.Failed(domain.NewTransferError(domain.CodeNonExistingTokenID,
					fmt.Sprintf("token %d does not exist", id)))
				continue
			}
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("owner lookup failed: %v", err)))
			continue
		}
		if owner == nil || !owner.Owner.Equal(caller) {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeUnauthorized,
				fmt.Sprintf("caller does not own token %d", id)))
			continue
		}

		if err := e.registry.SetOwner(ctx, id, nil); err != nil {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("burn failed: %v", err)))
			continue
		}
		e.clearApprovals(ctx, id)

		tx := domain.BurnTransaction(nowSec, id, *owner)
		if idx, err := e.txlog.Append(ctx, &tx); err == nil {
			tx.Index = idx
		} else {
			logErr := domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("transaction log append failed: %v", err))
			for j := i; j < len(tokenIDs); j++ {
				results[j] = domain.Failed(logErr)
			}
			return results, nil
		}
		e.broadcast(tx)

		results[i] = domain.Ok(id)
		observability.RecordBurn()
	}
	return results, nil
}

// SetMinters replaces the minter set.
func (e *Engine) SetMinters(_ context.Context, caller domain.Principal, minters []domain.Principal) error {
	return e.setRole(caller, func(c *domain.Collection) { c.Minters = minters })
}

// SetManagers replaces the manager set.
func (e *Engine) SetManagers(_ context.Context, caller domain.Principal, managers []domain.Principal) error {
	return e.setRole(caller, func(c *domain.Collection) { c.Managers = managers })
}

func (e *Engine) setRole(caller domain.Principal, apply func(*domain.Collection)) error {
	e.colMu.Lock()
	defer e.colMu.Unlock()

	if !e.collection.IsController(caller) {
		return ErrNotController
	}
	apply(&e.collection)
	e.collection.UpdatedAt = e.now().Unix()
	return nil
}

// UpdateCollectionArg carries optional collection-level updates; nil
// fields are left unchanged.
type UpdateCollectionArg struct {
	Name                 *string
	Description          *string
	Logo                 *string
	SupplyCap            *uint64
	AtomicBatchTransfers *bool
	MaxQueryBatchSize    *int
	MaxUpdateBatchSize   *int
	DefaultTakeValue     *int
	MaxTakeValue         *int
	MaxMemoSize          *int
}

// UpdateCollection applies manager-supplied collection updates. The
// collection supply cap may only be lowered.
func (e *Engine) UpdateCollection(_ context.Context, caller domain.Principal, arg UpdateCollectionArg) error {
	e.colMu.Lock()
	defer e.colMu.Unlock()

	if !e.collection.IsManager(caller) {
		return ErrNotManager
	}
	if arg.SupplyCap != nil && e.collection.SupplyCap != nil && *arg.SupplyCap > *e.collection.SupplyCap {
		return ErrSupplyCapIncrease
	}

	c := &e.collection
	if arg.Name != nil {
		c.Name = *arg.Name
	}
	if arg.Description != nil {
		c.Description = arg.Description
	}
	if arg.Logo != nil {
		c.Logo = arg.Logo
	}
	if arg.SupplyCap != nil {
		c.SupplyCap = arg.SupplyCap
	}
	if arg.AtomicBatchTransfers != nil {
		c.Settings.AtomicBatchTransfers = *arg.AtomicBatchTransfers
	}
	if arg.MaxQueryBatchSize != nil {
		c.Settings.MaxQueryBatchSize = *arg.MaxQueryBatchSize
	}
	if arg.MaxUpdateBatchSize != nil {
		c.Settings.MaxUpdateBatchSize = *arg.MaxUpdateBatchSize
	}
	if arg.DefaultTakeValue != nil {
		c.Settings.DefaultTakeValue = *arg.DefaultTakeValue
	}
	if arg.MaxTakeValue != nil {
		c.Settings.MaxTakeValue = *arg.MaxTakeValue
	}
	if arg.MaxMemoSize != nil {
		c.Settings.MaxMemoSize = *arg.MaxMemoSize
	}
	c.UpdatedAt = e.now().Unix()
	return nil
}

// checkCapacity enforces the collection-wide token count limit.
func (e *Engine) checkCapacity(ctx context.Context) error {
	e.colMu.RLock()
	cap := e.collection.SupplyCap
	e.colMu.RUnlock()
	if cap == nil {
		return nil
	}

	count, err := e.registry.Count(ctx)
	if err != nil {
		return fmt.Errorf("count tokens: %w", err)
	}
	if count >= *cap {
		return ErrCapacityExceeded
	}
	return nil
}

func (e *Engine) requireAuthenticated(caller domain.Principal) error {
	if !caller.Valid() || caller.IsAnonymous() {
		return ErrAnonymousCaller
	}
	return nil
}

func (e *Engine) requireMinter(caller domain.Principal) error {
	if err := e.requireAuthenticated(caller); err != nil {
		return err
	}
	e.colMu.RLock()
	defer e.colMu.RUnlock()
	if !e.collection.IsMinter(caller) {
		return ErrNotMinter
	}
	return nil
}

func (e *Engine) requireManager(caller domain.Principal) error {
	if err := e.requireAuthenticated(caller); err != nil {
		return err
	}
	e.colMu.RLock()
	defer e.colMu.RUnlock()
	if !e.collection.IsManager(caller) {
		return ErrNotManager
	}
	return nil
}

// clearApprovals drops token-level approvals after an ownership change;
// failures are logged, the ownership change already committed.
func (e *Engine) clearApprovals(ctx context.Context, tokenID uint64) {
	if e.approvals == nil {
		return
	}
	if err := e.approvals.ClearTokenApprovals(ctx, tokenID); err != nil {
		e.logger.Printf("clear approvals failed for token %d: %v", tokenID, err)
	}
}

// append writes a transaction to the log and broadcasts it; failures are
// logged and do not fail the surrounding call.
func (e *Engine) append(ctx context.Context, tx domain.Transaction) {
	idx, err := e.txlog.Append(ctx, &tx)
	if err != nil {
		e.logger.Printf("transaction log append failed (%s token %d): %v", tx.Op, tx.TokenID, err)
		return
	}
	tx.Index = idx
	e.broadcast(tx)
}

func (e *Engine) broadcast(tx domain.Transaction) {
	observability.RecordTransactionLogged(tx.Op)
	if e.publish != nil {
		e.publish(tx)
	}
}

func resultCode(res domain.TransferResult) string {
	if res.Err == nil {
		return "ok"
	}
	return string(res.Err.Code)
}
