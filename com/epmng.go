//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"sync"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// EpMng multiplexes the gates of the activity onto the tile's user
// endpoint slots. Slots are allocated from the kernel lazily; when
// all slots are bound a victim gate is evicted with a rotating
// cursor. Receive gates and send gates with messages in flight are
// never evicted: an evicted send gate would lose the credits that are
// still on their way back.
type EpMng struct {
	c       *Com
	m       sync.Mutex
	eps     []*Ep
	firstEp tcu.EpID
	total   int
	pos     int
}

func newEpMng(c *Com, firstEp tcu.EpID, total int) *EpMng {
	return &EpMng{
		c:       c,
		firstEp: firstEp,
		total:   total,
	}
}

// acquire binds the gate to an endpoint slot.
func (em *EpMng) acquire(g *Gate, rbufOff uint32) error {
	em.m.Lock()
	defer em.m.Unlock()

	ep, err := em.alloc(g.kind == gateRecv)
	if err != nil {
		return err
	}
	err = em.c.sysc.Activate(ep.sel, g.cap.Sel(), rbufOff)
	if err != nil {
		ep.reserved = false
		return err
	}
	ep.gate = g
	g.ep = ep
	return nil
}

// Reserve pins a free endpoint slot so the multiplexer never evicts
// it. The caller binds and frees the slot itself.
func (em *EpMng) Reserve() (*Ep, error) {
	em.m.Lock()
	defer em.m.Unlock()

	return em.alloc(true)
}

// release returns the endpoint slot to the multiplexer.
func (em *EpMng) release(ep *Ep) {
	em.m.Lock()
	defer em.m.Unlock()

	ep.gate = nil
	ep.reserved = false
}

func (em *EpMng) alloc(pin bool) (*Ep, error) {
	for _, ep := range em.eps {
		if ep.gate == nil && !ep.reserved {
			ep.reserved = pin
			return ep, nil
		}
	}
	if int(em.firstEp)+len(em.eps) < em.total {
		sel := em.c.sels.Alloc()
		id, err := em.c.sysc.AllocEP(sel, tcu.InvalidEp)
		if err == nil {
			ep := &Ep{
				id:       id,
				sel:      sel,
				reserved: pin,
			}
			em.eps = append(em.eps, ep)
			return ep, nil
		}
		if err != tcu.NoSpace {
			return nil, err
		}
	}
	ep, err := em.evict()
	if err != nil {
		return nil, err
	}
	ep.reserved = pin
	return ep, nil
}

// evict unbinds an idle gate, scanning from the rotating cursor so
// eviction pressure spreads over the slots.
func (em *EpMng) evict() (*Ep, error) {
	n := len(em.eps)
	for i := 0; i < n; i++ {
		ep := em.eps[(em.pos+i)%n]
		if ep.gate == nil || ep.reserved || !em.evictable(ep) {
			continue
		}
		err := em.c.sysc.Activate(ep.sel, kif.InvalidSel, 0)
		if err != nil {
			return nil, err
		}
		em.pos = (em.pos + i + 1) % n
		ep.gate.ep = nil
		ep.gate = nil
		return ep, nil
	}
	return nil, tcu.NoSpace
}

func (em *EpMng) evictable(ep *Ep) bool {
	switch ep.gate.kind {
	case gateSend:
		// All credits at home means no replies outstanding.
		credits, err := em.c.tc.Credits(ep.id)
		if err != nil {
			return false
		}
		max, err := em.c.tc.MaxCredits(ep.id)
		if err != nil {
			return false
		}
		return credits == max

	case gateMem:
		return true
	}
	return false
}
