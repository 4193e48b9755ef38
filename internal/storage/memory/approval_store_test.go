package memory

import (
	"context"
	"errors"
	"testing"

	"icrc7-ledger/internal/domain"
	"icrc7-ledger/internal/storage"
)

func tokenApproval(spender domain.Principal, expiresAt uint64) domain.Approval {
	return domain.Approval{Spender: spender, ExpiresAt: expiresAt, CreatedAt: 1000}
}

func TestApprovalStore_TokenApprovalLifecycle(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()
	spender := testPrincipal(0xAA)

	ok, err := store.IsApprovedToken(ctx, 1, spender, 500)
	if err != nil {
		t.Fatalf("IsApprovedToken failed: %v", err)
	}
	if ok {
		t.Error("no approval recorded yet")
	}

	if err := store.PutTokenApproval(ctx, 1, tokenApproval(spender, 0)); err != nil {
		t.Fatalf("PutTokenApproval failed: %v", err)
	}

	ok, _ = store.IsApprovedToken(ctx, 1, spender, 500)
	if !ok {
		t.Error("approval without expiry should be active")
	}

	// Another token id is untouched.
	ok, _ = store.IsApprovedToken(ctx, 2, spender, 500)
	if ok {
		t.Error("approval must not leak across token ids")
	}

	if err := store.RevokeTokenApproval(ctx, 1, &spender); err != nil {
		t.Fatalf("RevokeTokenApproval failed: %v", err)
	}
	ok, _ = store.IsApprovedToken(ctx, 1, spender, 500)
	if ok {
		t.Error("revoked approval should be gone")
	}
}

func TestApprovalStore_Expiry(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()
	spender := testPrincipal(0xAA)

	if err := store.PutTokenApproval(ctx, 1, tokenApproval(spender, 1000)); err != nil {
		t.Fatalf("PutTokenApproval failed: %v", err)
	}

	if ok, _ := store.IsApprovedToken(ctx, 1, spender, 999); !ok {
		t.Error("approval should be active before expiry")
	}
	if ok, _ := store.IsApprovedToken(ctx, 1, spender, 1000); ok {
		t.Error("approval should be inactive at expiry")
	}
}

func TestApprovalStore_ReapproveReplaces(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()
	spender := testPrincipal(0xAA)

	if err := store.PutTokenApproval(ctx, 1, tokenApproval(spender, 1000)); err != nil {
		t.Fatalf("PutTokenApproval failed: %v", err)
	}
	if err := store.PutTokenApproval(ctx, 1, tokenApproval(spender, 0)); err != nil {
		t.Fatalf("PutTokenApproval failed: %v", err)
	}

	n, err := store.CountTokenApprovals(ctx, 1)
	if err != nil {
		t.Fatalf("CountTokenApprovals failed: %v", err)
	}
	if n != 1 {
		t.Errorf("re-approval should replace, count is %d", n)
	}
	if ok, _ := store.IsApprovedToken(ctx, 1, spender, 5000); !ok {
		t.Error("replacement approval should apply")
	}
}

func TestApprovalStore_RevokeAllSpenders(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()

	for b := byte(1); b <= 3; b++ {
		if err := store.PutTokenApproval(ctx, 1, tokenApproval(testPrincipal(b), 0)); err != nil {
			t.Fatalf("PutTokenApproval failed: %v", err)
		}
	}

	if err := store.RevokeTokenApproval(ctx, 1, nil); err != nil {
		t.Fatalf("RevokeTokenApproval failed: %v", err)
	}
	if n, _ := store.CountTokenApprovals(ctx, 1); n != 0 {
		t.Errorf("expected no approvals left, got %d", n)
	}

	if err := store.RevokeTokenApproval(ctx, 1, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApprovalStore_CollectionApprovals(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()
	owner := testPrincipal(0x01)
	spender := testPrincipal(0xAA)

	if err := store.PutCollectionApproval(ctx, owner, tokenApproval(spender, 0)); err != nil {
		t.Fatalf("PutCollectionApproval failed: %v", err)
	}

	if ok, _ := store.IsApprovedCollection(ctx, owner, spender, 500); !ok {
		t.Error("collection approval should be active")
	}
	// A different grantor's holdings are untouched.
	if ok, _ := store.IsApprovedCollection(ctx, testPrincipal(0x02), spender, 500); ok {
		t.Error("collection approval must not leak across owners")
	}

	grants, err := store.CollectionApprovals(ctx, owner)
	if err != nil {
		t.Fatalf("CollectionApprovals failed: %v", err)
	}
	if len(grants) != 1 || !grants[0].Spender.Equal(spender) {
		t.Fatalf("unexpected grants %v", grants)
	}

	if err := store.RevokeCollectionApproval(ctx, owner, &spender); err != nil {
		t.Fatalf("RevokeCollectionApproval failed: %v", err)
	}
	if err := store.RevokeCollectionApproval(ctx, owner, &spender); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApprovalStore_ClearTokenApprovals(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()

	if err := store.PutTokenApproval(ctx, 1, tokenApproval(testPrincipal(0xAA), 0)); err != nil {
		t.Fatalf("PutTokenApproval failed: %v", err)
	}
	if err := store.ClearTokenApprovals(ctx, 1); err != nil {
		t.Fatalf("ClearTokenApprovals failed: %v", err)
	}
	if n, _ := store.CountTokenApprovals(ctx, 1); n != 0 {
		t.Errorf("expected no approvals left, got %d", n)
	}

	// Clearing an untouched token is not an error.
	if err := store.ClearTokenApprovals(ctx, 99); err != nil {
		t.Errorf("clear of empty token failed: %v", err)
	}
}

func TestApprovalStore_ListOrderedBySpender(t *testing.T) {
	store := NewApprovalStore()
	ctx := context.Background()

	for _, b := range []byte{0x03, 0x01, 0x02} {
		if err := store.PutTokenApproval(ctx, 1, tokenApproval(testPrincipal(b), 0)); err != nil {
			t.Fatalf("PutTokenApproval failed: %v", err)
		}
	}

	grants, err := store.TokenApprovals(ctx, 1)
	if err != nil {
		t.Fatalf("TokenApprovals failed: %v", err)
	}
	if len(grants) != 3 {
		t.Fatalf("expected 3 grants, got %d", len(grants))
	}
	for i, b := range []byte{0x01, 0x02, 0x03} {
		if !grants[i].Spender.Equal(testPrincipal(b)) {
			t.Errorf("grant %d out of order: %v", i, grants[i].Spender)
		}
	}
}
