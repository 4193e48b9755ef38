package domain

// TransferRequest is one entry of an icrc7_transfer batch. Ephemeral; not
// persisted beyond the replay window.
type TransferRequest struct {
	To            Account
	TokenID       uint64
	Memo          []byte  // optional, bounded by Settings.MaxMemoSize
	CreatedAtTime *uint64 // optional, Unix nanoseconds
}

// TransferResult is the per-item outcome of a transfer, mint or burn batch.
// Exactly one of Err == nil (success) or Err != nil (typed failure) holds.
type TransferResult struct {
	TokenID uint64
	Err     *TransferError
}

// Ok builds a successful result carrying the affected token id.
func Ok(tokenID uint64) TransferResult {
	return TransferResult{TokenID: tokenID}
}

// Failed builds a failed result.
func Failed(err *TransferError) TransferResult {
	return TransferResult{Err: err}
}

// OK reports whether the item committed.
func (r TransferResult) OK() bool {
	return r.Err == nil
}
