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

// RGate is a receive gate: a message buffer of 1<<order bytes divided
// into slots of 1<<slotOrder bytes. The gate is created as a bare
// capability; the buffer is attached when the gate is activated on an
// endpoint, lazily on first use.
type RGate struct {
	Gate
	order     uint32
	slotOrder uint32
	rbufOff   uint32
	std       bool
}

// RGateArgs define the receive gate creation arguments.
type RGateArgs struct {
	Order     uint32
	SlotOrder uint32
	Sel       kif.Sel
	Flags     cap.Flags
}

// NewRGate creates a receive gate capability. An InvalidSel selector
// allocates a fresh one.
func NewRGate(c *Com, args RGateArgs) (*RGate, error) {
	sel := args.Sel
	if sel == kif.InvalidSel {
		sel = c.sels.Alloc()
	}
	slotOrder := args.SlotOrder
	if slotOrder == 0 {
		slotOrder = args.Order
	}
	err := c.sysc.CreateRGate(sel, args.Order, slotOrder)
	if err != nil {
		return nil, err
	}
	return &RGate{
		Gate: Gate{
			c:    c,
			cap:  cap.New(sel, args.Flags),
			kind: gateRecv,
		},
		order:     args.Order,
		slotOrder: slotOrder,
	}, nil
}

// BindRGate creates a receive gate handle for an existing capability,
// querying the buffer layout from the kernel.
func BindRGate(c *Com, sel kif.Sel) (*RGate, error) {
	order, slotOrder, err := c.sysc.RGateBuffer(sel)
	if err != nil {
		return nil, err
	}
	return &RGate{
		Gate: Gate{
			c:    c,
			cap:  cap.New(sel, cap.KeepCap),
			kind: gateRecv,
		},
		order:     order,
		slotOrder: slotOrder,
	}, nil
}

// StdRGate creates the handle for a standard receive gate that is
// pre-bound to its endpoint: the system call reply, upcall, and
// default buffers.
func StdRGate(c *Com, ep tcu.EpID, order uint32) *RGate {
	return &RGate{
		Gate: Gate{
			c:    c,
			cap:  cap.New(kif.InvalidSel, cap.KeepCap),
			kind: gateRecv,
			ep: &Ep{
				id:       ep,
				sel:      kif.InvalidSel,
				reserved: true,
			},
		},
		order:     order,
		slotOrder: order,
		std:       true,
	}
}

// Order returns the buffer order of the gate.
func (rg *RGate) Order() uint32 {
	return rg.order
}

// SlotOrder returns the slot order of the gate.
func (rg *RGate) SlotOrder() uint32 {
	return rg.slotOrder
}

// Activate attaches the gate to an endpoint and a receive buffer
// area. Activating an already active gate is a no-op.
func (rg *RGate) Activate() error {
	if rg.ep != nil {
		return nil
	}
	off, err := rg.c.rbufs.Alloc(uint32(1) << rg.order)
	if err != nil {
		return err
	}
	err = rg.activate(off)
	if err != nil {
		rg.c.rbufs.Free(off, uint32(1)<<rg.order)
		return err
	}
	rg.rbufOff = off
	return nil
}

// Deactivate detaches the gate from its endpoint and frees the
// buffer area. Unread messages are lost.
func (rg *RGate) Deactivate() {
	if rg.ep == nil || rg.std {
		return
	}
	rg.c.sysc.Activate(rg.ep.sel, kif.InvalidSel, 0)
	rg.deactivate()
	rg.c.rbufs.Free(rg.rbufOff, uint32(1)<<rg.order)
}

// Fetch returns the next unread message or nil. The message data
// aliases the receive buffer slot until the message is acknowledged.
func (rg *RGate) Fetch() *tcu.Message {
	if rg.ep == nil {
		err := rg.Activate()
		if err != nil {
			return nil
		}
	}
	off, ok := rg.c.tc.FetchMsg(rg.ep.id)
	if !ok {
		return nil
	}
	mem := rg.c.tc.RbufSpace()
	hdr := tcu.ParseHeader(mem[off:])
	return &tcu.Message{
		Header: hdr,
		Data: mem[off+tcu.HeaderSize : off+tcu.HeaderSize+
			uint32(hdr.Length)],
		Off: off,
	}
}

// Receive blocks until a message arrives. It returns EPInvalid when
// the gate's endpoint is invalidated while waiting, which happens
// when the gate capability is revoked. A non-nil sg names the send
// gate the caller expects the message through: its endpoint turning
// invalid fails the receive the same way, so a caller is not left
// waiting for a reply that can no longer come.
func (rg *RGate) Receive(sg *SGate) (*tcu.Message, error) {
	err := rg.Activate()
	if err != nil {
		return nil, err
	}
	for {
		msg := rg.Fetch()
		if msg != nil {
			return msg, nil
		}
		if !rg.c.tc.IsValid(rg.ep.id) {
			return nil, tcu.EPInvalid
		}
		if sg != nil && sg.ep != nil && !rg.c.tc.IsValid(sg.ep.id) {
			return nil, tcu.EPInvalid
		}
		err = rg.c.tc.WaitForMsg(rg.ep.id, 0)
		if err != nil {
			return nil, err
		}
		if rg.c.tc.HasEvents() {
			rg.c.tc.FetchEvents()
		}
	}
}

// Ack releases the message slot.
func (rg *RGate) Ack(msg *tcu.Message) error {
	if rg.ep == nil {
		return tcu.NoREP
	}
	return rg.c.tc.AckMsg(rg.ep.id, msg.Off)
}

// Reply sends the reply to the message's sender and releases the
// slot.
func (rg *RGate) Reply(reply []byte, msg *tcu.Message) error {
	if rg.ep == nil {
		return tcu.NoREP
	}
	return rg.c.tc.ReplyAligned(rg.ep.id, reply, msg.Off)
}

// HasMsgs returns true if the gate has unread messages.
func (rg *RGate) HasMsgs() bool {
	if rg.ep == nil {
		return false
	}
	return rg.c.tc.HasMsgs(rg.ep.id)
}

// DropMsgsWith releases all unread messages carrying the label. Used
// when a sender is disconnected to purge its leftovers.
func (rg *RGate) DropMsgsWith(label tcu.Label) {
	if rg.ep == nil {
		return
	}
	rg.c.tc.DropMsgsWith(rg.ep.id, label)
}

// Release deactivates the gate and drops its capability.
func (rg *RGate) Release() {
	rg.Deactivate()
	if !rg.std {
		rg.cap.Release(rg.c.sysc)
	}
}
