package domain

import (
	"strings"
	"testing"
)

func TestAccountDefaultSubaccountEquality(t *testing.T) {
	owner := Principal{0x0A, 0x0B}
	implicit := NewAccount(owner)
	zero := [SubaccountLen]byte{}
	explicit := Account{Owner: owner, Subaccount: &zero}

	if !implicit.Equal(explicit) {
		t.Fatal("nil and all-zero subaccounts must identify the same account")
	}
	if implicit.Key() != explicit.Key() {
		t.Fatal("canonical keys must match")
	}

	sub := [SubaccountLen]byte{0: 0x01}
	other := Account{Owner: owner, Subaccount: &sub}
	if implicit.Equal(other) {
		t.Fatal("distinct subaccounts must not compare equal")
	}
}

func TestAccountEqualDifferentOwners(t *testing.T) {
	a := NewAccount(Principal{0x0A})
	b := NewAccount(Principal{0x0B})
	if a.Equal(b) {
		t.Fatal("different owners must not compare equal")
	}
}

func TestAccountString(t *testing.T) {
	owner := Principal{0x0A, 0x0B}

	if got := NewAccount(owner).String(); got != owner.String() {
		t.Fatalf("default subaccount should be omitted, got %q", got)
	}

	sub := [SubaccountLen]byte{31: 0x07}
	withSub := Account{Owner: owner, Subaccount: &sub}
	got := withSub.String()
	if !strings.HasPrefix(got, owner.String()+".") {
		t.Fatalf("expected owner.subaccount form, got %q", got)
	}
}

func TestParseSubaccount(t *testing.T) {
	text := strings.Repeat("00", SubaccountLen-1) + "07"
	sub, err := ParseSubaccount(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub[SubaccountLen-1] != 0x07 {
		t.Fatalf("unexpected subaccount %v", sub)
	}

	if _, err := ParseSubaccount("0707"); err == nil {
		t.Fatal("expected error for short subaccount")
	}
	if _, err := ParseSubaccount("zz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}

func TestSubaccountFromBytes(t *testing.T) {
	sub, err := SubaccountFromBytes(nil)
	if err != nil || sub != nil {
		t.Fatalf("nil input should yield nil, got %v, %v", sub, err)
	}

	sub, err = SubaccountFromBytes(make([]byte, SubaccountLen))
	if err != nil || sub != nil {
		t.Fatalf("all-zero input should yield nil, got %v, %v", sub, err)
	}

	raw := make([]byte, SubaccountLen)
	raw[0] = 0x01
	sub, err = SubaccountFromBytes(raw)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if sub == nil || sub[0] != 0x01 {
		t.Fatalf("unexpected subaccount %v", sub)
	}

	if _, err := SubaccountFromBytes(make([]byte, 5)); err == nil {
		t.Fatal("expected error for wrong length")
	}
}
