package domain

// Transaction log operation codes, one per committed mutation kind.
const (
	OpMint              = "7mint"
	OpTransfer          = "7xfer"
	OpBurn              = "7burn"
	OpUpdate            = "7update"
	OpApprove           = "37appr"
	OpApproveCollection = "37appr_coll"
	OpRevoke            = "37revoke"
	OpRevokeCollection  = "37revoke_coll"
	OpTransferFrom      = "37xfer"
)

// Transaction is one committed entry of the append-only ledger history.
// Entries are written for audit and analytics; the registry itself never
// reads them back.
type Transaction struct {
	Index     uint64 // assigned by the log store on append
	Timestamp int64  // Unix seconds
	Op        string
	TokenID   uint64
	From      *Account
	To        *Account
	Memo      []byte
}

// MintTransaction records a mint of tokenID to holder.
func MintTransaction(nowSec int64, tokenID uint64, minter Principal, holder Account) Transaction {
	from := NewAccount(minter)
	return Transaction{
		Timestamp: nowSec,
		Op:        OpMint,
		TokenID:   tokenID,
		From:      &from,
		To:        &holder,
	}
}

// TransferTransaction records an ownership change of tokenID.
func TransferTransaction(nowSec int64, tokenID uint64, from, to Account, memo []byte) Transaction {
	return Transaction{
		Timestamp: nowSec,
		Op:        OpTransfer,
		TokenID:   tokenID,
		From:      &from,
		To:        &to,
		Memo:      memo,
	}
}

// BurnTransaction records a logical burn of tokenID.
func BurnTransaction(nowSec int64, tokenID uint64, from Account) Transaction {
	return Transaction{
		Timestamp: nowSec,
		Op:        OpBurn,
		TokenID:   tokenID,
		From:      &from,
	}
}

// ApproveTransaction records a token-level approval granted by owner to
// spender.
func ApproveTransaction(nowSec int64, tokenID uint64, owner, spender Principal, memo []byte) Transaction {
	from := NewAccount(owner)
	to := NewAccount(spender)
	return Transaction{
		Timestamp: nowSec,
		Op:        OpApprove,
		TokenID:   tokenID,
		From:      &from,
		To:        &to,
		Memo:      memo,
	}
}

// ApproveCollectionTransaction records a collection-level approval.
func ApproveCollectionTransaction(nowSec int64, owner, spender Principal, memo []byte) Transaction {
	from := NewAccount(owner)
	to := NewAccount(spender)
	return Transaction{
		Timestamp: nowSec,
		Op:        OpApproveCollection,
		From:      &from,
		To:        &to,
		Memo:      memo,
	}
}

// RevokeTransaction records a token-level approval revocation. A nil
// spender revoked every approval on the token.
func RevokeTransaction(nowSec int64, tokenID uint64, owner Principal, spender *Principal, memo []byte) Transaction {
	from := NewAccount(owner)
	tx := Transaction{
		Timestamp: nowSec,
		Op:        OpRevoke,
		TokenID:   tokenID,
		From:      &from,
		Memo:      memo,
	}
	if spender != nil {
		to := NewAccount(*spender)
		tx.To = &to
	}
	return tx
}

// RevokeCollectionTransaction records a collection-level approval
// revocation.
func RevokeCollectionTransaction(nowSec int64, owner Principal, spender *Principal, memo []byte) Transaction {
	from := NewAccount(owner)
	tx := Transaction{
		Timestamp: nowSec,
		Op:        OpRevokeCollection,
		From:      &from,
		Memo:      memo,
	}
	if spender != nil {
		to := NewAccount(*spender)
		tx.To = &to
	}
	return tx
}

// TransferFromTransaction records an approval-spending ownership change.
func TransferFromTransaction(nowSec int64, tokenID uint64, from, to Account, memo []byte) Transaction {
	return Transaction{
		Timestamp: nowSec,
		Op:        OpTransferFrom,
		TokenID:   tokenID,
		From:      &from,
		To:        &to,
		Memo:      memo,
	}
}

// UpdateTransaction records a metadata update of tokenID by a manager.
func UpdateTransaction(nowSec int64, tokenID uint64, manager Principal) Transaction {
	from := NewAccount(manager)
	return Transaction{
		Timestamp: nowSec,
		Op:        OpUpdate,
		TokenID:   tokenID,
		From:      &from,
	}
}
