package ledger

import (
	"context"
	"errors"
	"fmt"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/idhash"
	"icrc7-ledger/internal/observability"
	"icrc7-ledger/internal/storage"
)

// ApproveTokens grants per-token transfer rights to the named spenders,
// one result per argument in order. The caller must own each token.
// Approvals are window-checked but not deduplicated; re-approving a
// spender replaces the grant.
func (e *Engine) ApproveTokens(ctx context.Context, caller domain.Principal, args []domain.ApproveTokenArg) ([]domain.TransferResult, error) {
	if err := e.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(args) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(args) > settings.MaxUpdateBatchSize {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nowSec := e.now().Unix()
	results := make([]domain.TransferResult, len(args))
	for i, arg := range args {
		if terr := e.checkApprovalInfo(caller, arg.ApprovalInfo, settings); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}
		if terr := e.checkTokenOwnership(ctx, caller, arg.TokenID); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}

		count, err := e.approvals.CountTokenApprovals(ctx, arg.TokenID)
		if err != nil {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("count approvals failed: %v", err)))
			continue
		}
		if count >= settings.MaxApprovalsPerTokenOrCollection {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				"exceeds the maximum number of approvals"))
			continue
		}

		if err := e.approvals.PutTokenApproval(ctx, arg.TokenID, approvalOf(arg.ApprovalInfo, nowSec)); err != nil {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("store approval failed: %v", err)))
			continue
		}

		tx := domain.ApproveTransaction(nowSec, arg.TokenID, caller, arg.ApprovalInfo.Spender.Owner, arg.ApprovalInfo.Memo)
		if idx, err := e.txlog.Append(ctx, &tx); err == nil {
			tx.Index = idx
		} else {
			logErr := domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("transaction log append failed: %v", err))
			for j := i; j < len(args); j++ {
				results[j] = domain.Failed(logErr)
			}
			return results, nil
		}
		e.broadcast(tx)

		results[i] = domain.Ok(arg.TokenID)
	}
	return results, nil
}

// ApproveCollection grants collection-wide transfer rights over every
// token the caller owns now or later, one result per argument in order.
func (e *Engine) ApproveCollection(ctx context.Context, caller domain.Principal, args []domain.ApprovalInfo) ([]domain.TransferResult, error) {
	if err := e.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(args) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(args) > settings.MaxUpdateBatchSize {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nowSec := e.now().Unix()
	results := make([]domain.TransferResult, len(args))
	for i, info := range args {
		if terr := e.checkApprovalInfo(caller, info, settings); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}

		count, err := e.approvals.CountCollectionApprovals(ctx, caller)
		if err != nil {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("count approvals failed: %v", err)))
			continue
		}
		if count >= settings.MaxApprovalsPerTokenOrCollection {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				"exceeds the maximum number of approvals"))
			continue
		}

		if err := e.approvals.PutCollectionApproval(ctx, caller, approvalOf(info, nowSec)); err != nil {
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("store approval failed: %v", err)))
			continue
		}

		tx := domain.ApproveCollectionTransaction(nowSec, caller, info.Spender.Owner, info.Memo)
		if idx, err := e.txlog.Append(ctx, &tx); err == nil {
			tx.Index = idx
		} else {
			logErr := domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("transaction log append failed: %v", err))
			for j := i; j < len(args); j++ {
				results[j] = domain.Failed(logErr)
			}
			return results, nil
		}
		e.broadcast(tx)

		results[i] = domain.Ok(0)
	}
	return results, nil
}

// RevokeTokenApprovals withdraws token-level grants the caller made. A
// nil spender in an argument revokes every approval on that token.
func (e *Engine) RevokeTokenApprovals(ctx context.Context, caller domain.Principal, args []domain.RevokeTokenApprovalArg) ([]domain.TransferResult, error) {
	if err := e.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(args) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(args) > settings.MaxRevokeApprovals {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nowSec := e.now().Unix()
	results := make([]domain.TransferResult, len(args))
	for i, arg := range args {
		if terr := e.checkRevokeArg(arg.Memo, arg.CreatedAtTime, settings); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}
		if terr := e.checkTokenOwnership(ctx, caller, arg.TokenID); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}

		spender := spenderPrincipal(arg.Spender)
		if err := e.approvals.RevokeTokenApproval(ctx, arg.TokenID, spender); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				results[i] = domain.Failed(domain.NewTransferError(domain.CodeApprovalNotFound,
					fmt.Sprintf("no matching approval on token %d", arg.TokenID)))
				continue
			}
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("revoke approval failed: %v", err)))
			continue
		}

		tx := domain.RevokeTransaction(nowSec, arg.TokenID, caller, spender, arg.Memo)
		if idx, err := e.txlog.Append(ctx, &tx); err == nil {
			tx.Index = idx
		} else {
			logErr := domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("transaction log append failed: %v", err))
			for j := i; j < len(args); j++ {
				results[j] = domain.Failed(logErr)
			}
			return results, nil
		}
		e.broadcast(tx)

		results[i] = domain.Ok(arg.TokenID)
	}
	return results, nil
}

// RevokeCollectionApprovals withdraws collection-level grants the caller
// made. A nil spender in an argument revokes all of them.
func (e *Engine) RevokeCollectionApprovals(ctx context.Context, caller domain.Principal, args []domain.RevokeCollectionApprovalArg) ([]domain.TransferResult, error) {
	if err := e.requireAuthenticated(caller); err != nil {
		return nil, err
	}
	settings := e.Settings()
	if len(args) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(args) > settings.MaxRevokeApprovals {
		return nil, ErrExceedsMaxUpdateBatchSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nowSec := e.now().Unix()
	results := make([]domain.TransferResult, len(args))
	for i, arg := range args {
		if terr := e.checkRevokeArg(arg.Memo, arg.CreatedAtTime, settings); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}

		spender := spenderPrincipal(arg.Spender)
		if err := e.approvals.RevokeCollectionApproval(ctx, caller, spender); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				results[i] = domain.Failed(domain.NewTransferError(domain.CodeApprovalNotFound,
					"no matching collection approval"))
				continue
			}
			results[i] = domain.Failed(domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("revoke approval failed: %v", err)))
			continue
		}

		tx := domain.RevokeCollectionTransaction(nowSec, caller, spender, arg.Memo)
		if idx, err := e.txlog.Append(ctx, &tx); err == nil {
			tx.Index = idx
		} else {
			logErr := domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("transaction log append failed: %v", err))
			for j := i; j < len(args); j++ {
				results[j] = domain.Failed(logErr)
			}
			return results, nil
		}
		e.broadcast(tx)

		results[i] = domain.Ok(0)
	}
	return results, nil
}

// TransferFrom executes a batch of approval-spending ownership changes:
// the caller moves tokens out of accounts that granted it a token-level
// or collection-level approval. Batch semantics mirror Transfer,
// including atomic mode and replay deduplication.
func (e *Engine) TransferFrom(ctx context.Context, caller domain.Principal, requests []domain.TransferFromRequest) ([]domain.TransferResult, error) {
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
		results = e.transferFromAtomic(ctx, caller, requests, settings)
	} else {
		results = e.transferFromSequential(ctx, caller, requests, settings)
	}

	for _, res := range results {
		observability.RecordTransferResult(resultCode(res))
	}
	return results, nil
}

func (e *Engine) transferFromSequential(ctx context.Context, caller domain.Principal, requests []domain.TransferFromRequest, settings domain.Settings) []domain.TransferResult {
	results := make([]domain.TransferResult, len(requests))
	for i, req := range requests {
		if terr := e.checkTransferFrom(ctx, caller, req, settings); terr != nil {
			results[i] = domain.Failed(terr)
			continue
		}
		terr, fatal := e.applyTransferFrom(ctx, caller, req)
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

func (e *Engine) transferFromAtomic(ctx context.Context, caller domain.Principal, requests []domain.TransferFromRequest, settings domain.Settings) []domain.TransferResult {
	results := make([]domain.TransferResult, len(requests))

	seen := make(map[string]bool, len(requests))
	failed := false
	for i, req := range requests {
		if terr := e.checkTransferFrom(ctx, caller, req, settings); terr != nil {
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
		terr, fatal := e.applyTransferFrom(ctx, caller, req)
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

// checkTransferFrom validates one request without mutating state.
func (e *Engine) checkTransferFrom(ctx context.Context, caller domain.Principal, req domain.TransferFromRequest, settings domain.Settings) *domain.TransferError {
	if len(req.Memo) > settings.MaxMemoSize {
		return domain.NewTransferError(domain.CodeMemoTooLarge,
			fmt.Sprintf("memo is %d bytes, limit %d", len(req.Memo), settings.MaxMemoSize))
	}
	if !req.From.Valid() || !req.To.Valid() {
		return domain.NewTransferError(domain.CodeGenericBatchError, "invalid account")
	}

	if terr := e.guard.Check(ctx, caller, dedupeRequest(req)); terr != nil {
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
	if owner == nil || !owner.Owner.Equal(req.From.Owner) {
		return domain.NewTransferError(domain.CodeUnauthorized,
			fmt.Sprintf("source account does not own token %d", req.TokenID))
	}

	nowNs := uint64(e.now().UnixNano())
	approved, err := e.approvals.IsApprovedCollection(ctx, req.From.Owner, caller, nowNs)
	if err != nil {
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("approval check failed: %v", err))
	}
	if !approved {
		approved, err = e.approvals.IsApprovedToken(ctx, req.TokenID, caller, nowNs)
		if err != nil {
			return domain.NewTransferError(domain.CodeGenericBatchError,
				fmt.Sprintf("approval check failed: %v", err))
		}
	}
	if !approved {
		return domain.NewTransferError(domain.CodeUnauthorized,
			fmt.Sprintf("caller holds no approval for token %d", req.TokenID))
	}
	return nil
}

// applyTransferFrom mutates ownership for one validated request. The bool
// return marks storage faults that must stop the remainder of the batch.
func (e *Engine) applyTransferFrom(ctx context.Context, caller domain.Principal, req domain.TransferFromRequest) (*domain.TransferError, bool) {
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

	if err := e.guard.Commit(ctx, caller, dedupeRequest(req)); err != nil {
		e.logger.Printf("replay guard commit failed for token %d: %v", req.TokenID, err)
	}

	tx := domain.TransferFromTransaction(e.now().Unix(), req.TokenID, *from, to, req.Memo)
	idx, err := e.txlog.Append(ctx, &tx)
	if err != nil {
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("transaction log append failed: %v", err)), true
	}
	tx.Index = idx
	e.broadcast(tx)
	return nil, false
}

// IsApproved answers, for each argument, whether the spender holds an
// unexpired grant from owner covering the token.
func (e *Engine) IsApproved(ctx context.Context, owner domain.Principal, args []domain.IsApprovedArg) ([]bool, error) {
	defer e.timeQuery("is_approved", e.now())
	if err := e.checkQueryBatch(len(args)); err != nil {
		return nil, err
	}

	res := make([]bool, len(args))
	if !owner.Valid() || owner.IsAnonymous() {
		return res, nil
	}

	nowNs := uint64(e.now().UnixNano())
	for i, arg := range args {
		ok, err := e.approvals.IsApprovedCollection(ctx, owner, arg.Spender.Owner, nowNs)
		if err != nil {
			return nil, fmt.Errorf("is approved: %w", err)
		}
		if !ok {
			ok, err = e.approvals.IsApprovedToken(ctx, arg.TokenID, arg.Spender.Owner, nowNs)
			if err != nil {
				return nil, fmt.Errorf("is approved: %w", err)
			}
		}
		res[i] = ok
	}
	return res, nil
}

// TokenApprovals lists the live grants on one token, ordered by spender.
// Unknown and unowned tokens yield an empty list.
func (e *Engine) TokenApprovals(ctx context.Context, tokenID uint64) ([]domain.TokenApproval, error) {
	defer e.timeQuery("token_approvals", e.now())

	owner, err := e.registry.OwnerOf(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("token approvals: %w", err)
	}
	if owner == nil {
		return nil, nil
	}

	grants, err := e.approvals.TokenApprovals(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("token approvals: %w", err)
	}
	res := make([]domain.TokenApproval, 0, len(grants))
	for _, grant := range grants {
		res = append(res, domain.TokenApproval{TokenID: tokenID, Approval: grant})
	}
	return res, nil
}

// CollectionApprovals lists the collection-level grants made by owner,
// ordered by spender.
func (e *Engine) CollectionApprovals(ctx context.Context, owner domain.Principal) ([]domain.Approval, error) {
	defer e.timeQuery("collection_approvals", e.now())

	grants, err := e.approvals.CollectionApprovals(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("collection approvals: %w", err)
	}
	return grants, nil
}

// checkApprovalInfo validates a grant argument without mutating state.
func (e *Engine) checkApprovalInfo(caller domain.Principal, info domain.ApprovalInfo, settings domain.Settings) *domain.TransferError {
	if len(info.Memo) > settings.MaxMemoSize {
		return domain.NewTransferError(domain.CodeMemoTooLarge,
			fmt.Sprintf("memo is %d bytes, limit %d", len(info.Memo), settings.MaxMemoSize))
	}
	spender := info.Spender.Owner
	if !spender.Valid() || spender.IsAnonymous() || spender.Equal(caller) {
		return domain.NewTransferError(domain.CodeInvalidSpender, "invalid spender account")
	}
	if info.ExpiresAt != nil && *info.ExpiresAt <= uint64(e.now().UnixNano()) {
		return domain.NewTransferError(domain.CodeGenericBatchError, "expires_at is already in the past")
	}
	return e.guard.CheckTimestamp(info.CreatedAtTime)
}

// checkRevokeArg validates a revocation argument.
func (e *Engine) checkRevokeArg(memo []byte, createdAtTime *uint64, settings domain.Settings) *domain.TransferError {
	if len(memo) > settings.MaxMemoSize {
		return domain.NewTransferError(domain.CodeMemoTooLarge,
			fmt.Sprintf("memo is %d bytes, limit %d", len(memo), settings.MaxMemoSize))
	}
	return e.guard.CheckTimestamp(createdAtTime)
}

// checkTokenOwnership requires caller to currently own the token.
func (e *Engine) checkTokenOwnership(ctx context.Context, caller domain.Principal, tokenID uint64) *domain.TransferError {
	owner, err := e.registry.OwnerOf(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewTransferError(domain.CodeNonExistingTokenID,
				fmt.Sprintf("token %d does not exist", tokenID))
		}
		return domain.NewTransferError(domain.CodeGenericBatchError,
			fmt.Sprintf("owner lookup failed: %v", err))
	}
	if owner == nil || !owner.Owner.Equal(caller) {
		return domain.NewTransferError(domain.CodeUnauthorized,
			fmt.Sprintf("caller does not own token %d", tokenID))
	}
	return nil
}

func approvalOf(info domain.ApprovalInfo, nowSec int64) domain.Approval {
	approval := domain.Approval{Spender: info.Spender.Owner, CreatedAt: nowSec}
	if info.ExpiresAt != nil {
		approval.ExpiresAt = *info.ExpiresAt
	}
	return approval
}

func spenderPrincipal(spender *domain.Account) *domain.Principal {
	if spender == nil {
		return nil
	}
	p := spender.Owner
	return &p
}

// dedupeRequest maps a transfer_from request onto the shape the replay
// guard dedupes on.
func dedupeRequest(req domain.TransferFromRequest) domain.TransferRequest {
	return domain.TransferRequest{
		To:            req.To,
		TokenID:       req.TokenID,
		Memo:          req.Memo,
		CreatedAtTime: req.CreatedAtTime,
	}
}
