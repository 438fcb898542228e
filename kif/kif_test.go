//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package kif

import (
	"testing"
)

func TestCapRngDesc(t *testing.T) {
	crd := CapRngDesc{
		Type:  CapObj,
		Start: 42,
		Count: 3,
	}
	parsed := ParseCRD(crd.Raw())
	if parsed != crd {
		t.Errorf("parsed=%v, expected %v", parsed, crd)
	}

	crd.Type = CapMap
	parsed = ParseCRD(crd.Raw())
	if parsed.Type != CapMap {
		t.Errorf("type=%v, expected CapMap", parsed.Type)
	}
}

func TestExchangeArgs(t *testing.T) {
	var xa ExchangeArgs
	xa.Push(1)
	xa.Push(2)

	v, err := xa.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("v=%v, expected 1", v)
	}
	v, err = xa.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("v=%v, expected 2", v)
	}
	_, err = xa.Pop()
	if err == nil {
		t.Error("Pop of empty args succeeded")
	}
}

func TestPermString(t *testing.T) {
	if PermRW.String() != "rw" {
		t.Errorf("PermRW=%q", PermRW.String())
	}
	if PermRWX.String() != "rwx" {
		t.Errorf("PermRWX=%q", PermRWX.String())
	}
}
