package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// SubaccountLen is the fixed length of a subaccount discriminator.
const SubaccountLen = 32

// DefaultSubaccount is the canonical value of an absent subaccount.
// An account with Subaccount == nil and one with the all-zero subaccount
// are the same account.
var DefaultSubaccount [SubaccountLen]byte

// Account identifies a token holder: a principal plus an optional
// subaccount discriminator. Immutable value type.
type Account struct {
	Owner      Principal
	Subaccount *[SubaccountLen]byte
}

// NewAccount builds an account with the default subaccount.
func NewAccount(owner Principal) Account {
	return Account{Owner: owner}
}

// Canonical returns the account with an absent subaccount replaced by the
// default subaccount. Equality and map keys are computed on the canonical
// form so two encodings of "no subaccount" compare equal.
func (a Account) Canonical() Account {
	if a.Subaccount != nil {
		return a
	}
	sub := DefaultSubaccount
	return Account{Owner: a.Owner, Subaccount: &sub}
}

// Equal reports whether two accounts identify the same holder.
func (a Account) Equal(other Account) bool {
	if !a.Owner.Equal(other.Owner) {
		return false
	}
	as, bs := a.Canonical().Subaccount, other.Canonical().Subaccount
	return *as == *bs
}

// Key returns a deterministic map key for the canonical account.
func (a Account) Key() string {
	c := a.Canonical()
	return c.Owner.Key() + "/" + string(c.Subaccount[:])
}

// String renders the account for logs. The subaccount is omitted when it
// is the default.
func (a Account) String() string {
	if a.Subaccount == nil || *a.Subaccount == DefaultSubaccount {
		return a.Owner.String()
	}
	return fmt.Sprintf("%s.%s", a.Owner, hex.EncodeToString(a.Subaccount[:]))
}

// Valid reports whether the account's owner principal is well-formed.
func (a Account) Valid() bool {
	return a.Owner.Valid()
}

// ParseSubaccount decodes a hex subaccount string of exactly 32 bytes.
func ParseSubaccount(text string) (*[SubaccountLen]byte, error) {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode subaccount: %w", err)
	}
	if len(raw) != SubaccountLen {
		return nil, fmt.Errorf("subaccount must be %d bytes, got %d", SubaccountLen, len(raw))
	}
	var sub [SubaccountLen]byte
	copy(sub[:], raw)
	return &sub, nil
}

// SubaccountFromBytes converts a raw byte slice to a subaccount pointer.
// Nil and all-zero inputs yield nil (the default subaccount).
func SubaccountFromBytes(raw []byte) (*[SubaccountLen]byte, error) {
	if raw == nil {
		return nil, nil
	}
	if len(raw) != SubaccountLen {
		return nil, fmt.Errorf("subaccount must be %d bytes, got %d", SubaccountLen, len(raw))
	}
	if bytes.Equal(raw, DefaultSubaccount[:]) {
		return nil, nil
	}
	var sub [SubaccountLen]byte
	copy(sub[:], raw)
	return &sub, nil
}
