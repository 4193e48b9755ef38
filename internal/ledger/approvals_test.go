package ledger

import (
	"context"
	"errors"
	"testing"

	"icrc7-ledger/internal/domain"
)

var carol = ledgerPrincipal(0x0C)

func approveArg(tokenID uint64, spender domain.Principal) domain.ApproveTokenArg {
	return domain.ApproveTokenArg{
		TokenID:      tokenID,
		ApprovalInfo: domain.ApprovalInfo{Spender: domain.NewAccount(spender)},
	}
}

func transferFromReq(from, to domain.Principal, tokenID uint64) domain.TransferFromRequest {
	return domain.TransferFromRequest{
		From:    domain.NewAccount(from),
		To:      domain.NewAccount(to),
		TokenID: tokenID,
	}
}

func TestApproveTokensOwnerOnly(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	// Bob does not own the token.
	results, err := f.engine.ApproveTokens(context.Background(), bob, []domain.ApproveTokenArg{approveArg(id, carol)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", results[0])
	}

	results, err = f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, bob)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("owner approval should succeed, got %v", results[0].Err)
	}

	approved, err := f.engine.IsApproved(context.Background(), alice,
		[]domain.IsApprovedArg{{Spender: domain.NewAccount(bob), TokenID: id}})
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if !approved[0] {
		t.Fatal("bob should be approved on the token")
	}
}

func TestApproveTokensRejectsSelfAndAnonymous(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	for _, spender := range []domain.Principal{alice, domain.Anonymous} {
		results, err := f.engine.ApproveTokens(context.Background(), alice,
			[]domain.ApproveTokenArg{approveArg(id, spender)})
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if results[0].Err == nil || results[0].Err.Code != domain.CodeInvalidSpender {
			t.Fatalf("expected INVALID_SPENDER for %s, got %+v", spender, results[0])
		}
	}
}

func TestApproveUnknownToken(t *testing.T) {
	f := newTestEngine(nil)

	results, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(9999, bob)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeNonExistingTokenID {
		t.Fatalf("expected NON_EXISTING_TOKEN_ID, got %+v", results[0])
	}
}

func TestTransferFromSpendsTokenApproval(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	// Without an approval bob cannot move alice's token.
	results, err := f.engine.TransferFrom(context.Background(), bob,
		[]domain.TransferFromRequest{transferFromReq(alice, carol, id)})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", results[0])
	}

	if _, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, bob)}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	results, err = f.engine.TransferFrom(context.Background(), bob,
		[]domain.TransferFromRequest{transferFromReq(alice, carol, id)})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("approved transfer should succeed, got %v", results[0].Err)
	}

	owner, err := f.registry.OwnerOf(context.Background(), id)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if !owner.Owner.Equal(carol) {
		t.Fatalf("token should belong to carol, owner is %s", owner)
	}

	// The spent approval is gone; a second attempt fails.
	retry, err := f.engine.TransferFrom(context.Background(), bob,
		[]domain.TransferFromRequest{transferFromReq(carol, alice, id)})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if retry[0].Err == nil || retry[0].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED after approval cleared, got %+v", retry[0])
	}
}

func TestTransferFromSourceMustOwn(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	if _, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, bob)}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// From names carol, who does not own the token.
	results, err := f.engine.TransferFrom(context.Background(), bob,
		[]domain.TransferFromRequest{transferFromReq(carol, bob, id)})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", results[0])
	}
}

func TestCollectionApprovalCoversAllTokens(t *testing.T) {
	f := newTestEngine(nil)
	id1 := mintOne(t, f, alice)
	id2 := mintOne(t, f, alice)

	results, err := f.engine.ApproveCollection(context.Background(), alice,
		[]domain.ApprovalInfo{{Spender: domain.NewAccount(bob)}})
	if err != nil {
		t.Fatalf("approve collection: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("collection approval should succeed, got %v", results[0].Err)
	}

	moved, err := f.engine.TransferFrom(context.Background(), bob, []domain.TransferFromRequest{
		transferFromReq(alice, carol, id1),
		transferFromReq(alice, carol, id2),
	})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	for i, res := range moved {
		if !res.OK() {
			t.Fatalf("item %d should succeed, got %v", i, res.Err)
		}
	}

	// The collection grant does not extend to carol's new holdings.
	back, err := f.engine.TransferFrom(context.Background(), bob,
		[]domain.TransferFromRequest{transferFromReq(carol, alice, id1)})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if back[0].Err == nil || back[0].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", back[0])
	}
}

func TestApprovalExpiry(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	expires := uint64(engineNow.UnixNano()) // not in the future
	results, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{{
		TokenID:      id,
		ApprovalInfo: domain.ApprovalInfo{Spender: domain.NewAccount(bob), ExpiresAt: &expires},
	}})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeGenericBatchError {
		t.Fatalf("expected rejection of past expiry, got %+v", results[0])
	}

	future := uint64(engineNow.UnixNano()) + 1
	results, err = f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{{
		TokenID:      id,
		ApprovalInfo: domain.ApprovalInfo{Spender: domain.NewAccount(bob), ExpiresAt: &future},
	}})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("future expiry should be accepted, got %v", results[0].Err)
	}

	// The engine clock is fixed at engineNow; one nanosecond later the
	// grant reads as expired straight from the store.
	ok, err := f.approvals.IsApprovedToken(context.Background(), id, bob, future)
	if err != nil {
		t.Fatalf("is approved: %v", err)
	}
	if ok {
		t.Fatal("grant should be expired at its expiry instant")
	}
}

func TestRevokeTokenApproval(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	if _, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, bob)}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	spender := domain.NewAccount(bob)
	results, err := f.engine.RevokeTokenApprovals(context.Background(), alice,
		[]domain.RevokeTokenApprovalArg{{TokenID: id, Spender: &spender}})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("revoke should succeed, got %v", results[0].Err)
	}

	// Revoking again finds nothing.
	results, err = f.engine.RevokeTokenApprovals(context.Background(), alice,
		[]domain.RevokeTokenApprovalArg{{TokenID: id, Spender: &spender}})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeApprovalNotFound {
		t.Fatalf("expected APPROVAL_DOES_NOT_EXIST, got %+v", results[0])
	}
}

func TestRevokeCollectionApproval(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	if _, err := f.engine.ApproveCollection(context.Background(), alice,
		[]domain.ApprovalInfo{{Spender: domain.NewAccount(bob)}}); err != nil {
		t.Fatalf("approve collection: %v", err)
	}

	results, err := f.engine.RevokeCollectionApprovals(context.Background(), alice,
		[]domain.RevokeCollectionApprovalArg{{}})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("revoke should succeed, got %v", results[0].Err)
	}

	moved, err := f.engine.TransferFrom(context.Background(), bob,
		[]domain.TransferFromRequest{transferFromReq(alice, carol, id)})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if moved[0].Err == nil || moved[0].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED after revocation, got %+v", moved[0])
	}
}

func TestTransferClearsTokenApprovals(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	if _, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, carol)}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// An ordinary owner transfer also voids the token's grants.
	results, err := f.engine.Transfer(context.Background(), alice,
		[]domain.TransferRequest{transferReq(bob, id)})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("transfer should succeed, got %v", results[0].Err)
	}

	grants, err := f.engine.TokenApprovals(context.Background(), id)
	if err != nil {
		t.Fatalf("token approvals: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected no surviving grants, got %v", grants)
	}
}

func TestApprovalBatchLimits(t *testing.T) {
	f := newTestEngine(func(c *domain.Collection) {
		c.Settings.MaxUpdateBatchSize = 2
		c.Settings.MaxRevokeApprovals = 1
	})

	if _, err := f.engine.ApproveTokens(context.Background(), alice, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	args := []domain.ApproveTokenArg{approveArg(1, bob), approveArg(2, bob), approveArg(3, bob)}
	if _, err := f.engine.ApproveTokens(context.Background(), alice, args); !errors.Is(err, ErrExceedsMaxUpdateBatchSize) {
		t.Fatalf("expected ErrExceedsMaxUpdateBatchSize, got %v", err)
	}

	revokes := []domain.RevokeTokenApprovalArg{{TokenID: 1}, {TokenID: 2}}
	if _, err := f.engine.RevokeTokenApprovals(context.Background(), alice, revokes); !errors.Is(err, ErrExceedsMaxUpdateBatchSize) {
		t.Fatalf("expected revoke batch rejection, got %v", err)
	}
}

func TestApproveTokensCap(t *testing.T) {
	f := newTestEngine(func(c *domain.Collection) { c.Settings.MaxApprovalsPerTokenOrCollection = 1 })
	id := mintOne(t, f, alice)

	first, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, bob)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !first[0].OK() {
		t.Fatalf("first approval should succeed, got %v", first[0].Err)
	}

	second, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, carol)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if second[0].Err == nil || second[0].Err.Code != domain.CodeGenericBatchError {
		t.Fatalf("expected approval cap rejection, got %+v", second[0])
	}
}

func TestTransferFromAtomicAbortsOnUnauthorized(t *testing.T) {
	f := newTestEngine(func(c *domain.Collection) { c.Settings.AtomicBatchTransfers = true })
	id1 := mintOne(t, f, alice)
	id2 := mintOne(t, f, alice)

	// Only id1 carries an approval for bob.
	if _, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id1, bob)}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	results, err := f.engine.TransferFrom(context.Background(), bob, []domain.TransferFromRequest{
		transferFromReq(alice, carol, id1),
		transferFromReq(alice, carol, id2),
	})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if results[0].Err == nil || results[0].Err.Code != domain.CodeAborted {
		t.Fatalf("expected ABORTED, got %+v", results[0])
	}
	if results[1].Err == nil || results[1].Err.Code != domain.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", results[1])
	}

	owner, _ := f.registry.OwnerOf(context.Background(), id1)
	if !owner.Owner.Equal(alice) {
		t.Fatalf("aborted batch must not move tokens, owner is %s", owner)
	}
}

func TestTransferFromDuplicateWithinWindow(t *testing.T) {
	f := newTestEngine(nil)
	id1 := mintOne(t, f, alice)
	id2 := mintOne(t, f, alice)

	if _, err := f.engine.ApproveCollection(context.Background(), alice,
		[]domain.ApprovalInfo{{Spender: domain.NewAccount(bob)}}); err != nil {
		t.Fatalf("approve collection: %v", err)
	}

	created := uint64(engineNow.UnixNano())
	req := transferFromReq(alice, carol, id1)
	req.CreatedAtTime = &created

	results, err := f.engine.TransferFrom(context.Background(), bob, []domain.TransferFromRequest{req})
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if !results[0].OK() {
		t.Fatalf("first submission should succeed, got %v", results[0].Err)
	}

	retry, err := f.engine.TransferFrom(context.Background(), bob, []domain.TransferFromRequest{req})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry[0].Err == nil || retry[0].Err.Code != domain.CodeDuplicate {
		t.Fatalf("expected DUPLICATE, got %+v", retry[0])
	}

	// A different token id at the same timestamp is a distinct transfer.
	other := transferFromReq(alice, carol, id2)
	other.CreatedAtTime = &created
	second, err := f.engine.TransferFrom(context.Background(), bob, []domain.TransferFromRequest{other})
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if !second[0].OK() {
		t.Fatalf("distinct transfer should succeed, got %v", second[0].Err)
	}
}

func TestTokenApprovalsListing(t *testing.T) {
	f := newTestEngine(nil)
	id := mintOne(t, f, alice)

	for _, spender := range []domain.Principal{carol, bob} {
		if _, err := f.engine.ApproveTokens(context.Background(), alice, []domain.ApproveTokenArg{approveArg(id, spender)}); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	grants, err := f.engine.TokenApprovals(context.Background(), id)
	if err != nil {
		t.Fatalf("token approvals: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}
	for _, grant := range grants {
		if grant.TokenID != id {
			t.Fatalf("grant carries wrong token id %d", grant.TokenID)
		}
	}

	// Unknown tokens yield an empty list, not an error.
	none, err := f.engine.TokenApprovals(context.Background(), 9999)
	if err != nil {
		t.Fatalf("token approvals: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no grants, got %v", none)
	}
}
