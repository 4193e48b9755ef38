package domain

// Token holds the descriptive metadata of a token class. Replaced only by
// an explicit update operation.
type Token struct {
	Name        string
	Description *string
}

// TokenRecord is the registry's authoritative row for one token.
//
// create_token stores the class anchor record: TokenID == ClassID and a nil
// owner until the first mint assigns one. Further mints of the same class
// create sibling records with fresh TokenIDs sharing ClassID, Token and
// SupplyCap. Records are never deleted; a burn resets Owner to nil.
type TokenRecord struct {
	TokenID   uint64
	ClassID   uint64
	Token     Token
	Owner     *Account
	SupplyCap *uint64
	CreatedAt int64 // Unix seconds
	UpdatedAt int64 // Unix seconds
}

// Minted reports whether the record currently has an owner.
func (r *TokenRecord) Minted() bool {
	return r.Owner != nil
}

// Clone returns a deep copy so store callers never share mutable state
// with the registry.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Token.Description != nil {
		desc := *r.Token.Description
		out.Token.Description = &desc
	}
	if r.Owner != nil {
		owner := Account{Owner: append(Principal(nil), r.Owner.Owner...)}
		if r.Owner.Subaccount != nil {
			sub := *r.Owner.Subaccount
			owner.Subaccount = &sub
		}
		out.Owner = &owner
	}
	if r.SupplyCap != nil {
		c := *r.SupplyCap
		out.SupplyCap = &c
	}
	return &out
}

// Metadata flattens the record's descriptive fields into the key/value
// shape served by icrc7_token_metadata.
func (r *TokenRecord) Metadata() map[string]string {
	res := map[string]string{
		"icrc7:name": r.Token.Name,
	}
	if r.Token.Description != nil {
		res["icrc7:description"] = *r.Token.Description
	}
	return res
}
