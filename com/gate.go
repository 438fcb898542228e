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

type gateKind int

// Gate kinds.
const (
	gateSend gateKind = iota
	gateRecv
	gateMem
)

// Gate is the common part of send, receive, and memory gates: a
// capability handle plus the endpoint the gate is currently bound to,
// nil while the gate is deactivated.
type Gate struct {
	c    *Com
	cap  cap.Capability
	kind gateKind
	ep   *Ep
}

// Sel returns the capability selector of the gate.
func (g *Gate) Sel() kif.Sel {
	return g.cap.Sel()
}

// EpID returns the endpoint the gate is bound to.
func (g *Gate) EpID() (tcu.EpID, bool) {
	if g.ep == nil {
		return 0, false
	}
	return g.ep.id, true
}

// activate binds the gate to an endpoint slot. Already bound gates
// keep their slot.
func (g *Gate) activate(rbufOff uint32) error {
	if g.ep != nil {
		return nil
	}
	return g.c.eps.acquire(g, rbufOff)
}

// deactivate unbinds the gate from its endpoint slot.
func (g *Gate) deactivate() {
	if g.ep == nil {
		return
	}
	g.c.eps.release(g.ep)
	g.ep = nil
}

// release deactivates the gate and drops the capability unless it is
// marked KeepCap.
func (g *Gate) release() {
	g.deactivate()
	g.cap.Release(g.c.sysc)
}
