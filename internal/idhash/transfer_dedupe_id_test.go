package idhash

import (
	"testing"

	"icrc7-ledger/internal/domain"
)

func TestComputeTransferDedupeID(t *testing.T) {
	caller := domain.Principal{0x01, 0x02}

	id := ComputeTransferDedupeID(caller, 7, 1700000000000000000, []byte("m"))
	if len(id) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(id))
	}

	// Deterministic.
	if again := ComputeTransferDedupeID(caller, 7, 1700000000000000000, []byte("m")); again != id {
		t.Fatal("same inputs must produce the same id")
	}

	// Each input participates in the hash.
	variants := []string{
		ComputeTransferDedupeID(domain.Principal{0x01, 0x03}, 7, 1700000000000000000, []byte("m")),
		ComputeTransferDedupeID(caller, 8, 1700000000000000000, []byte("m")),
		ComputeTransferDedupeID(caller, 7, 1700000000000000001, []byte("m")),
		ComputeTransferDedupeID(caller, 7, 1700000000000000000, []byte("n")),
		ComputeTransferDedupeID(caller, 7, 1700000000000000000, nil),
	}
	seen := map[string]bool{id: true}
	for i, v := range variants {
		if seen[v] {
			t.Fatalf("variant %d collided", i)
		}
		seen[v] = true
	}
}

func TestComputeTransferDedupeIDFieldBoundaries(t *testing.T) {
	// Two distinct tuples whose fields concatenate to the same byte
	// stream when naively joined with separators. Length prefixes must
	// keep them apart.
	a := ComputeTransferDedupeID(domain.Principal("A|77"), 9, 5, []byte("m"))
	b := ComputeTransferDedupeID(domain.Principal("A"), 77, 9, []byte("5|m"))
	if a == b {
		t.Fatal("distinct tuples must not share a dedupe id")
	}

	// An empty memo and a nil memo are the same field.
	if ComputeTransferDedupeID(domain.Principal{0x01}, 1, 1, nil) !=
		ComputeTransferDedupeID(domain.Principal{0x01}, 1, 1, []byte{}) {
		t.Fatal("nil and empty memo must hash alike")
	}
}
