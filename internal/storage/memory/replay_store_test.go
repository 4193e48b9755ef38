package memory

import (
	"context"
	"errors"
	"testing"

	"icrc7-ledger/internal/storage"
)

func TestReplayStore_RecordAndSeen(t *testing.T) {
	store := NewReplayStore()
	ctx := context.Background()

	seen, err := store.Seen(ctx, "key1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if seen {
		t.Error("key should not be seen before Record")
	}

	if err := store.Record(ctx, "key1", 1000); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	seen, err = store.Seen(ctx, "key1")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !seen {
		t.Error("key should be seen after Record")
	}
}

func TestReplayStore_DuplicateKey(t *testing.T) {
	store := NewReplayStore()
	ctx := context.Background()

	if err := store.Record(ctx, "key1", 1000); err != nil {
		t.Fatalf("First record failed: %v", err)
	}

	err := store.Record(ctx, "key1", 2000)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestReplayStore_InvalidInput(t *testing.T) {
	store := NewReplayStore()

	err := store.Record(context.Background(), "", 1000)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty key, got %v", err)
	}
}

func TestReplayStore_Prune(t *testing.T) {
	store := NewReplayStore()
	ctx := context.Background()

	if err := store.Record(ctx, "old", 1000); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, "fresh", 5000); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := store.Prune(ctx, 3000); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	seen, _ := store.Seen(ctx, "old")
	if seen {
		t.Error("pruned key should not be seen")
	}
	seen, _ = store.Seen(ctx, "fresh")
	if !seen {
		t.Error("fresh key should survive pruning")
	}
	if store.Len() != 1 {
		t.Errorf("Len mismatch: got %d, want 1", store.Len())
	}

	// A pruned key may be recorded again.
	if err := store.Record(ctx, "old", 6000); err != nil {
		t.Errorf("Record after prune failed: %v", err)
	}
}
