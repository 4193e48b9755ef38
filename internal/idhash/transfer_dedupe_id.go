package idhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"icrc7-ledger/internal/domain"
)

// ComputeTransferDedupeID computes the deterministic replay-deduplication
// key for a transfer attempt using SHA256. Variable-length fields are
// length-prefixed so field contents can never alias across a field
// boundary.
// Returns hex-encoded hash (64 characters).
func ComputeTransferDedupeID(
	caller domain.Principal,
	tokenID uint64,
	createdAtTime uint64,
	memo []byte,
) string {
	h := sha256.New()
	writeField(h, caller)
	writeUint64(h, tokenID)
	writeUint64(h, createdAtTime)
	writeField(h, memo)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, b []byte) {
	writeUint64(h, uint64(len(b)))
	h.Write(b)
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
