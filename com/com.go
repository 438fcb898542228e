//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package com implements the communication layer of an activity: the
// gate abstractions for sending, receiving, and memory access, the
// endpoint multiplexer that maps an unbounded number of gates onto
// the fixed endpoint slots, and the system call channel to the
// kernel.
package com

import (
	"github.com/markkurossi/tilert/cap"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// Params define the communication layer parameters of an activity.
// The values come from the activity's environment.
type Params struct {
	Transport tcu.Transport
	Mux       tcu.TileMux
	FirstSel  kif.Sel
	FirstEp   tcu.EpID
	TotalEps  int
	RbufOff   uint32
	RbufSize  uint32
}

// Com is the communication state of one activity.
type Com struct {
	tc    tcu.Transport
	mux   tcu.TileMux
	sysc  *Syscalls
	sels  *cap.SelSpace
	eps   *EpMng
	rbufs *RbufSpace
}

// New creates the communication layer on the transport.
func New(params *Params) *Com {
	c := &Com{
		tc:   params.Transport,
		mux:  params.Mux,
		sysc: NewSyscalls(params.Transport),
		sels: cap.NewSelSpace(params.FirstSel),
	}
	c.eps = newEpMng(c, params.FirstEp, params.TotalEps)
	c.rbufs = NewRbufSpace(params.RbufOff, params.RbufSize)
	return c
}

// Transport returns the transport of the activity's tile.
func (c *Com) Transport() tcu.Transport {
	return c.tc
}

// Mux returns the tile multiplexer interface.
func (c *Com) Mux() tcu.TileMux {
	return c.mux
}

// Syscalls returns the system call channel.
func (c *Com) Syscalls() *Syscalls {
	return c.sysc
}

// Sels returns the selector space of the activity.
func (c *Com) Sels() *cap.SelSpace {
	return c.sels
}

// Rbufs returns the receive buffer space of the tile.
func (c *Com) Rbufs() *RbufSpace {
	return c.rbufs
}
