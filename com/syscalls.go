//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// Syscalls is the system call channel of an activity. Calls go out on
// the standard send endpoint and their replies arrive on the standard
// reply buffer; the channel has one credit so calls are serialized by
// the transport itself.
type Syscalls struct {
	tc tcu.Transport
}

// NewSyscalls creates the system call channel on the transport.
func NewSyscalls(tc tcu.Transport) *Syscalls {
	return &Syscalls{
		tc: tc,
	}
}

// call sends the request and blocks for the kernel's reply. The reply
// payload is copied out of the receive buffer before the slot is
// acknowledged.
func (sc *Syscalls) call(msg []byte) (*tcu.Source, error) {
	err := sc.tc.SendAligned(tcu.SyscSep, msg, 0, tcu.SyscRep)
	if err != nil {
		return nil, err
	}
	for {
		off, ok := sc.tc.FetchMsg(tcu.SyscRep)
		if ok {
			mem := sc.tc.RbufSpace()
			hdr := tcu.ParseHeader(mem[off:])
			data := make([]byte, hdr.Length)
			copy(data, mem[off+tcu.HeaderSize:])
			sc.tc.AckMsg(tcu.SyscRep, off)

			src := tcu.NewSource(data)
			word, err := src.U64()
			if err != nil {
				return nil, err
			}
			if !tcu.Code(word).OK() {
				return nil, tcu.Code(word)
			}
			return src, nil
		}
		err = sc.tc.WaitForMsg(tcu.SyscRep, 0)
		if err != nil {
			return nil, err
		}
	}
}

// CreateSrv creates a service capability for the activated receive
// gate and names it.
func (sc *Syscalls) CreateSrv(sel, rgate kif.Sel, name string) error {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysCreateSrv))
	sink.PutU64(uint64(sel))
	sink.PutU64(uint64(rgate))
	sink.PutStr(name)
	_, err := sc.call(sink.Bytes())
	return err
}

// CreateSess creates a session object for the service.
func (sc *Syscalls) CreateSess(sel, srv kif.Sel, ident uint64,
	autoClose bool) error {

	ac := uint64(0)
	if autoClose {
		ac = 1
	}
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysCreateSess))
	sink.PutU64(uint64(sel))
	sink.PutU64(uint64(srv))
	sink.PutU64(ident)
	sink.PutU64(ac)
	_, err := sc.call(sink.Bytes())
	return err
}

// CreateSGate creates a send capability for the receive gate with the
// given label and credit budget.
func (sc *Syscalls) CreateSGate(sel, rgate kif.Sel, label tcu.Label,
	credits uint32) error {

	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysCreateSGate))
	sink.PutU64(uint64(sel))
	sink.PutU64(uint64(rgate))
	sink.PutU64(uint64(label))
	sink.PutU64(uint64(credits))
	_, err := sc.call(sink.Bytes())
	return err
}

// CreateRGate creates a receive gate capability with a buffer of
// 1<<order bytes in slots of 1<<slotOrder bytes.
func (sc *Syscalls) CreateRGate(sel kif.Sel, order, slotOrder uint32) error {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysCreateRGate))
	sink.PutU64(uint64(sel))
	sink.PutU64(uint64(order))
	sink.PutU64(uint64(slotOrder))
	_, err := sc.call(sink.Bytes())
	return err
}

// CreateSem creates a semaphore capability with the initial count.
func (sc *Syscalls) CreateSem(sel kif.Sel, value uint32) error {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysCreateSem))
	sink.PutU64(uint64(sel))
	sink.PutU64(uint64(value))
	_, err := sc.call(sink.Bytes())
	return err
}

// AllocEP allocates an endpoint slot. An InvalidEp argument picks any
// free slot; the chosen slot is returned.
func (sc *Syscalls) AllocEP(sel kif.Sel, ep tcu.EpID) (tcu.EpID, error) {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysAllocEP))
	sink.PutU64(uint64(sel))
	sink.PutU64(uint64(ep))
	src, err := sc.call(sink.Bytes())
	if err != nil {
		return 0, err
	}
	word, err := src.U64()
	if err != nil {
		return 0, err
	}
	return tcu.EpID(word), nil
}

// DeriveMem derives a sub-region memory capability with narrowed
// permissions.
func (sc *Syscalls) DeriveMem(dst, src kif.Sel, off, size tcu.GlobOff,
	perm kif.Perm) error {

	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysDeriveMem))
	sink.PutU64(uint64(dst))
	sink.PutU64(uint64(src))
	sink.PutU64(uint64(off))
	sink.PutU64(uint64(size))
	sink.PutU64(uint64(perm))
	_, err := sc.call(sink.Bytes())
	return err
}

// Activate binds the gate capability to the endpoint. For receive
// gates rbufOff names the buffer location within the receive buffer
// window. An InvalidSel gate frees the endpoint.
func (sc *Syscalls) Activate(ep, gate kif.Sel, rbufOff uint32) error {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysActivate))
	sink.PutU64(uint64(ep))
	sink.PutU64(uint64(gate))
	sink.PutU64(uint64(rbufOff))
	_, err := sc.call(sink.Bytes())
	return err
}

// SemUp increments the semaphore.
func (sc *Syscalls) SemUp(sel kif.Sel) error {
	return sc.semCtrl(sel, 0)
}

// SemDown decrements the semaphore, blocking until the count is
// positive.
func (sc *Syscalls) SemDown(sel kif.Sel) error {
	return sc.semCtrl(sel, 1)
}

func (sc *Syscalls) semCtrl(sel kif.Sel, dir uint64) error {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysSemCtrl))
	sink.PutU64(uint64(sel))
	sink.PutU64(dir)
	_, err := sc.call(sink.Bytes())
	return err
}

// ExchangeSess delegates or obtains capabilities over the session.
// The returned argument words are the service's answer.
func (sc *Syscalls) ExchangeSess(sess kif.Sel, crd kif.CapRngDesc,
	args *kif.ExchangeArgs, obtain bool) (*kif.ExchangeArgs, error) {

	ob := uint64(0)
	if obtain {
		ob = 1
	}
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysExchangeSess))
	sink.PutU64(ob)
	sink.PutU64(uint64(sess))
	sink.PutU64(crd.Raw())
	if args != nil {
		sink.PutU64(args.Count)
		for i := uint64(0); i < args.Count; i++ {
			sink.PutU64(args.Words[i])
		}
	} else {
		sink.PutU64(0)
	}
	src, err := sc.call(sink.Bytes())
	if err != nil {
		return nil, err
	}
	var reply kif.ExchangeArgs
	count, err := src.U64()
	if err != nil {
		// The service answered without argument words.
		return &reply, nil
	}
	if count > kif.MaxExchangeArgs {
		return nil, tcu.InvArgs
	}
	for i := uint64(0); i < count; i++ {
		word, err := src.U64()
		if err != nil {
			return nil, err
		}
		reply.Push(word)
	}
	return &reply, nil
}

// Revoke drops the capability range, recursively revoking all
// capabilities derived from it. It implements cap.Revoker.
func (sc *Syscalls) Revoke(crd kif.CapRngDesc, own bool) error {
	ow := uint64(0)
	if own {
		ow = 1
	}
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysRevoke))
	sink.PutU64(crd.Raw())
	sink.PutU64(ow)
	_, err := sc.call(sink.Bytes())
	return err
}

// RGateBuffer queries the buffer layout of a receive gate capability.
func (sc *Syscalls) RGateBuffer(sel kif.Sel) (order, slotOrder uint32,
	err error) {

	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysRGateBuffer))
	sink.PutU64(uint64(sel))
	src, err := sc.call(sink.Bytes())
	if err != nil {
		return 0, 0, err
	}
	o, err := src.U64()
	if err != nil {
		return 0, 0, err
	}
	so, err := src.U64()
	if err != nil {
		return 0, 0, err
	}
	return uint32(o), uint32(so), nil
}

// Noop performs an empty system call round-trip.
func (sc *Syscalls) Noop() error {
	sink := tcu.NewSink(nil)
	sink.PutU64(uint64(kif.SysNoop))
	_, err := sc.call(sink.Bytes())
	return err
}
