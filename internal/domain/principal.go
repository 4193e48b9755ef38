package domain

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Principal length limits. Principals are opaque byte identities attached
// by the authentication layer; the ledger never inspects their structure
// beyond these checks.
const (
	MinPrincipalLen = 1
	MaxPrincipalLen = 29
)

// Tag byte appended to principals derived from a public key.
const selfAuthenticatingTag = 0x02

// Anonymous is the well-known anonymous principal. Mutating operations
// reject it.
var Anonymous = Principal{0x04}

// Principal is an opaque, externally-authenticated caller identity.
// The text form is base58 (Bitcoin alphabet).
type Principal []byte

// ParsePrincipal decodes a base58 principal string.
func ParsePrincipal(text string) (Principal, error) {
	raw, err := base58.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	if len(raw) < MinPrincipalLen || len(raw) > MaxPrincipalLen {
		return nil, fmt.Errorf("principal length %d out of range [%d, %d]",
			len(raw), MinPrincipalLen, MaxPrincipalLen)
	}
	return Principal(raw), nil
}

// PrincipalFromPublicKey derives a self-authenticating principal from a
// 32-byte Ed25519 public key. The key must decode to a valid point on the
// edwards25519 curve.
func PrincipalFromPublicKey(pub []byte) (Principal, error) {
	if len(pub) != 32 {
		return nil, fmt.Errorf("public key must be 32 bytes, got %d", len(pub))
	}
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return nil, fmt.Errorf("public key is not a valid edwards25519 point: %w", err)
	}

	sum := sha256.Sum256(pub)
	p := make(Principal, 0, 29)
	p = append(p, sum[:28]...)
	p = append(p, selfAuthenticatingTag)
	return p, nil
}

// String returns the base58 text form.
func (p Principal) String() string {
	return base58.Encode(p)
}

// Equal reports whether two principals are byte-identical.
func (p Principal) Equal(other Principal) bool {
	return bytes.Equal(p, other)
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return p.Equal(Anonymous)
}

// Valid reports whether p has an acceptable length.
func (p Principal) Valid() bool {
	return len(p) >= MinPrincipalLen && len(p) <= MaxPrincipalLen
}

// Key returns a deterministic map key for p.
func (p Principal) Key() string {
	return string(p)
}

// MarshalText encodes p as base58 for JSON and log output.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a base58 principal.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
