package domain

// Approval grants a spender the right to move tokens on the grantor's
// behalf, either for one token or for the grantor's whole collection
// holdings. Approvals are keyed by spender principal; re-approving the
// same spender replaces the grant.
type Approval struct {
	Spender   Principal
	ExpiresAt uint64 // Unix nanoseconds; 0 means no expiry
	CreatedAt int64  // Unix seconds
}

// Active reports whether the approval is usable at nowNs.
func (a Approval) Active(nowNs uint64) bool {
	return a.ExpiresAt == 0 || a.ExpiresAt > nowNs
}

// ApprovalInfo is the caller-supplied grant shared by token and
// collection approvals.
type ApprovalInfo struct {
	Spender       Account
	ExpiresAt     *uint64 // optional, Unix nanoseconds
	CreatedAtTime *uint64 // optional, Unix nanoseconds
	Memo          []byte
}

// ApproveTokenArg is one entry of an icrc37_approve_tokens batch.
type ApproveTokenArg struct {
	TokenID      uint64
	ApprovalInfo ApprovalInfo
}

// RevokeTokenApprovalArg is one entry of an
// icrc37_revoke_token_approvals batch. A nil Spender revokes every
// approval on the token.
type RevokeTokenApprovalArg struct {
	TokenID       uint64
	Spender       *Account
	Memo          []byte
	CreatedAtTime *uint64
}

// RevokeCollectionApprovalArg is one entry of an
// icrc37_revoke_collection_approvals batch. A nil Spender revokes every
// collection approval of the caller.
type RevokeCollectionApprovalArg struct {
	Spender       *Account
	Memo          []byte
	CreatedAtTime *uint64
}

// TransferFromRequest is one entry of an icrc37_transfer_from batch: the
// caller spends an approval to move TokenID from From to To.
type TransferFromRequest struct {
	From          Account
	To            Account
	TokenID       uint64
	Memo          []byte
	CreatedAtTime *uint64
}

// IsApprovedArg is one entry of an icrc37_is_approved query batch; the
// caller is the grantor being asked about.
type IsApprovedArg struct {
	Spender Account
	TokenID uint64
}

// TokenApproval pairs an approval with the token it applies to.
type TokenApproval struct {
	TokenID  uint64
	Approval Approval
}
