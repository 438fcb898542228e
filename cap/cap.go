//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package cap implements the capability selector space and the
// user-level capability handle.
package cap

import (
	"fmt"
	"sync"

	"github.com/markkurossi/tilert/kif"
)

// Flags define capability handle flags.
type Flags uint32

// Capability flags.
const (
	// KeepCap prevents revocation of the capability when the handle
	// is released.
	KeepCap Flags = 1 << iota
)

// Revoker revokes capability ranges. It is implemented by the system
// call connection.
type Revoker interface {
	Revoke(crd kif.CapRngDesc, own bool) error
}

// Capability is a handle for one capability selector. Unless KeepCap
// is set, releasing the handle revokes the capability.
type Capability struct {
	sel   kif.Sel
	flags Flags
}

// New creates a capability handle for the selector.
func New(sel kif.Sel, flags Flags) Capability {
	return Capability{
		sel:   sel,
		flags: flags,
	}
}

// Sel returns the capability selector.
func (c Capability) Sel() kif.Sel {
	return c.sel
}

// Flags returns the capability flags.
func (c Capability) Flags() Flags {
	return c.flags
}

// SetFlags sets the capability flags.
func (c *Capability) SetFlags(flags Flags) {
	c.flags = flags
}

// Release revokes the capability unless KeepCap is set. Revocation
// errors are ignored; the selector may already be gone.
func (c *Capability) Release(rv Revoker) {
	if c.flags&KeepCap != 0 || c.sel == kif.InvalidSel {
		return
	}
	rv.Revoke(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: c.sel,
		Count: 1,
	}, true)
	c.sel = kif.InvalidSel
}

func (c Capability) String() string {
	return fmt.Sprintf("cap[sel=%d flags=%d]", c.sel, c.flags)
}

// SelSpace allocates capability selectors. Allocation is monotonic:
// selectors are never reused within the activity lifetime.
type SelSpace struct {
	m    sync.Mutex
	next kif.Sel
}

// NewSelSpace creates a selector space starting at first.
func NewSelSpace(first kif.Sel) *SelSpace {
	return &SelSpace{
		next: first,
	}
}

// Alloc allocates one selector.
func (ss *SelSpace) Alloc() kif.Sel {
	return ss.AllocN(1)
}

// AllocN allocates n contiguous selectors and returns the first one.
func (ss *SelSpace) AllocN(n uint64) kif.Sel {
	ss.m.Lock()
	defer ss.m.Unlock()

	sel := ss.next
	ss.next += kif.Sel(n)
	return sel
}

// Next returns the next selector that Alloc would return. Child
// activities must be synchronized to this high-water mark so they
// never observe an unknown selector.
func (ss *SelSpace) Next() kif.Sel {
	ss.m.Lock()
	defer ss.m.Unlock()

	return ss.next
}
