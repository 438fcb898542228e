//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"github.com/markkurossi/tilert/cap"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// MGate is a memory gate: byte-granular access to a memory region
// checked against the gate's permissions. Transfers cross page
// boundaries in page-sized chunks.
type MGate struct {
	Gate
	size tcu.GlobOff
	perm kif.Perm
}

// BindMGate creates a memory gate handle for an existing capability,
// such as one allocated through the resource manager.
func BindMGate(c *Com, sel kif.Sel, size tcu.GlobOff,
	perm kif.Perm) *MGate {

	return &MGate{
		Gate: Gate{
			c:    c,
			cap:  cap.New(sel, cap.KeepCap),
			kind: gateMem,
		},
		size: size,
		perm: perm,
	}
}

// Derive creates a memory gate for a sub-region with narrowed
// permissions.
func (mg *MGate) Derive(off, size tcu.GlobOff, perm kif.Perm) (
	*MGate, error) {

	sel := mg.c.sels.Alloc()
	err := mg.c.sysc.DeriveMem(sel, mg.cap.Sel(), off, size, perm)
	if err != nil {
		return nil, err
	}
	return &MGate{
		Gate: Gate{
			c:    mg.c,
			cap:  cap.New(sel, 0),
			kind: gateMem,
		},
		size: size,
		perm: perm,
	}, nil
}

// Size returns the size of the region.
func (mg *MGate) Size() tcu.GlobOff {
	return mg.size
}

// Perm returns the permissions of the gate.
func (mg *MGate) Perm() kif.Perm {
	return mg.perm
}

// Read reads len(p) bytes from the region at off.
func (mg *MGate) Read(p []byte, off tcu.GlobOff) error {
	err := mg.activate(0)
	if err != nil {
		return err
	}
	return mg.c.tc.Read(mg.ep.id, p, off)
}

// Write writes len(p) bytes to the region at off.
func (mg *MGate) Write(p []byte, off tcu.GlobOff) error {
	err := mg.activate(0)
	if err != nil {
		return err
	}
	return mg.c.tc.Write(mg.ep.id, p, off)
}

// Release deactivates the gate and drops its capability.
func (mg *MGate) Release() {
	mg.release()
}
