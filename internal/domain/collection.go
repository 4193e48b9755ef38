package domain

import "strconv"

// Settings are the per-ledger tunables exposed through the icrc7_*
// configuration getters. TxWindow and PermittedDrift are nanoseconds to
// match TransferRequest.CreatedAtTime.
type Settings struct {
	MaxQueryBatchSize    int
	MaxUpdateBatchSize   int
	DefaultTakeValue     int
	MaxTakeValue         int
	MaxMemoSize          int
	AtomicBatchTransfers bool
	TxWindow             uint64
	PermittedDrift       uint64

	// Approval limits: how many live approvals one token or one grantor's
	// collection may carry, and how many revocations one batch may name.
	MaxApprovalsPerTokenOrCollection int
	MaxRevokeApprovals               int
}

// DefaultSettings returns the ledger defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxQueryBatchSize:    100,
		MaxUpdateBatchSize:   20,
		DefaultTakeValue:     10,
		MaxTakeValue:         100,
		MaxMemoSize:          32,
		AtomicBatchTransfers: false,
		TxWindow:             uint64(24 * 60 * 60 * 1_000_000_000), // 24h
		PermittedDrift:       uint64(2 * 60 * 1_000_000_000),       // 2m

		MaxApprovalsPerTokenOrCollection: 100,
		MaxRevokeApprovals:               20,
	}
}

// TakeValue resolves an optional take parameter against the default and
// the hard cap.
func (s Settings) TakeValue(take *int) int {
	if take == nil || *take <= 0 {
		return s.DefaultTakeValue
	}
	if *take > s.MaxTakeValue {
		return s.MaxTakeValue
	}
	return *take
}

// Collection is the ledger-wide descriptive state: identity, the optional
// global token count cap, and the principal sets allowed to mint and
// manage.
type Collection struct {
	Symbol      string
	Name        string
	Description *string
	Logo        *string

	// SupplyCap bounds the total number of token records the registry may
	// ever hold. Nil means unbounded.
	SupplyCap *uint64

	CreatedAt int64 // Unix seconds
	UpdatedAt int64 // Unix seconds

	Minters     []Principal
	Managers    []Principal
	Controllers []Principal

	Settings Settings
}

// IsMinter reports whether p may mint tokens.
func (c *Collection) IsMinter(p Principal) bool {
	return containsPrincipal(c.Minters, p)
}

// IsManager reports whether p may create and update tokens.
func (c *Collection) IsManager(p Principal) bool {
	return containsPrincipal(c.Managers, p)
}

// IsController reports whether p may change the minter and manager sets.
func (c *Collection) IsController(p Principal) bool {
	return containsPrincipal(c.Controllers, p)
}

// Metadata flattens the collection identity into the icrc7 key/value shape.
func (c *Collection) Metadata(totalSupply uint64) map[string]string {
	res := map[string]string{
		"icrc7:symbol":       c.Symbol,
		"icrc7:name":         c.Name,
		"icrc7:total_supply": strconv.FormatUint(totalSupply, 10),
	}
	if c.Description != nil {
		res["icrc7:description"] = *c.Description
	}
	if c.Logo != nil {
		res["icrc7:logo"] = *c.Logo
	}
	if c.SupplyCap != nil {
		res["icrc7:supply_cap"] = strconv.FormatUint(*c.SupplyCap, 10)
	}
	return res
}

func containsPrincipal(set []Principal, p Principal) bool {
	for _, member := range set {
		if member.Equal(p) {
			return true
		}
	}
	return false
}
