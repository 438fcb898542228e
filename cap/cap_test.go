//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package cap

import (
	"testing"

	"github.com/markkurossi/tilert/kif"
)

func TestSelSpace(t *testing.T) {
	ss := NewSelSpace(8)

	if ss.Next() != 8 {
		t.Errorf("Next=%v, expected 8", ss.Next())
	}
	a := ss.Alloc()
	b := ss.Alloc()
	if a != 8 || b != 9 {
		t.Errorf("Alloc=%v,%v, expected 8,9", a, b)
	}

	// Selectors are never reused.
	r := ss.AllocN(4)
	if r != 10 {
		t.Errorf("AllocN=%v, expected 10", r)
	}
	if ss.Next() != 14 {
		t.Errorf("Next=%v, expected 14", ss.Next())
	}
}

func TestCapabilityFlags(t *testing.T) {
	c := New(kif.Sel(8), KeepCap)
	if c.Sel() != 8 {
		t.Errorf("Sel=%v", c.Sel())
	}
	if c.Flags()&KeepCap == 0 {
		t.Error("KeepCap not set")
	}
	c.SetFlags(0)
	if c.Flags() != 0 {
		t.Errorf("Flags=%v", c.Flags())
	}
}
