//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package server implements the service side of sessions: the server
// registration, the control channel the kernel drives session
// lifecycle and capability exchanges over, and the request handler
// dispatching client messages by opcode.
package server

import (
	"github.com/markkurossi/tilert/cap"
	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/session"
	"github.com/markkurossi/tilert/tcu"
)

// SessID identifies a session within its server.
type SessID uint64

// Handler is the service-specific part of a server: session lifecycle
// and capability exchanges.
type Handler interface {
	// Open creates a session for a new client and returns the
	// selector of its session capability.
	Open(srv *Server, args *kif.ExchangeArgs) (kif.Sel, error)

	// Obtain hands capabilities from the service to the client.
	Obtain(srv *Server, sid SessID, xchg *CapExchange) error

	// Delegate receives capabilities from the client.
	Delegate(srv *Server, sid SessID, xchg *CapExchange) error

	// Close destroys the session.
	Close(srv *Server, sid SessID)
}

// Params define the server creation parameters.
type Params struct {
	Name      string
	Handler   Handler
	BufOrder  uint32
	SlotOrder uint32
}

// Control channel buffer defaults.
const (
	DefaultBufOrder  = 11
	DefaultSlotOrder = 8
)

// Server is a registered service.
type Server struct {
	c     *com.Com
	rm    *session.ResMng
	name  string
	rgate *com.RGate
	srv   cap.Capability
	hdl   Handler
}

// New creates the server: a control receive gate, the service
// capability, and the registration with the resource manager.
func New(c *com.Com, rm *session.ResMng, params *Params) (
	*Server, error) {

	bufOrder := params.BufOrder
	if bufOrder == 0 {
		bufOrder = DefaultBufOrder
	}
	slotOrder := params.SlotOrder
	if slotOrder == 0 {
		slotOrder = DefaultSlotOrder
	}
	rgate, err := com.NewRGate(c, com.RGateArgs{
		Order:     bufOrder,
		SlotOrder: slotOrder,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		return nil, err
	}
	err = rgate.Activate()
	if err != nil {
		rgate.Release()
		return nil, err
	}
	sel := c.Sels().Alloc()
	err = c.Syscalls().CreateSrv(sel, rgate.Sel(), params.Name)
	if err != nil {
		rgate.Release()
		return nil, err
	}
	srv := &Server{
		c:     c,
		rm:    rm,
		name:  params.Name,
		rgate: rgate,
		srv:   cap.New(sel, 0),
		hdl:   params.Handler,
	}
	err = rm.RegServ(sel)
	if err != nil {
		srv.Shutdown()
		return nil, err
	}
	return srv, nil
}

// Com returns the communication layer of the server's activity.
func (srv *Server) Com() *com.Com {
	return srv.c
}

// Sel returns the service capability selector.
func (srv *Server) Sel() kif.Sel {
	return srv.srv.Sel()
}

// CreateSession creates a session capability carrying the session id.
func (srv *Server) CreateSession(sid SessID, autoClose bool) (
	kif.Sel, error) {

	sel := srv.c.Sels().Alloc()
	err := srv.c.Syscalls().CreateSess(sel, srv.srv.Sel(), uint64(sid),
		autoClose)
	if err != nil {
		return kif.InvalidSel, err
	}
	return sel, nil
}

// AddToLoop registers the control channel with the work loop.
func (srv *Server) AddToLoop(wl *com.WorkLoop) error {
	return wl.Add(srv.rgate, srv.handleCtrl, true)
}

// Shutdown withdraws the service and drops its capabilities.
func (srv *Server) Shutdown() {
	srv.rm.UnregServ(srv.srv.Sel())
	srv.srv.Release(srv.c.Syscalls())
	srv.rgate.Release()
}

// handleCtrl serves one kernel control message: {op, ident, argCount,
// args...}, replied with {err, data, argCount, args...} where data is
// the session selector for open and the capability range for obtain
// and delegate.
func (srv *Server) handleCtrl(msg *tcu.Message) {
	is := com.NewIStream(srv.rgate, msg)
	op, err := is.U64()
	if err != nil {
		is.ReplyError(tcu.InvArgs)
		return
	}
	ident, err := is.U64()
	if err != nil {
		is.ReplyError(tcu.InvArgs)
		return
	}
	var args kif.ExchangeArgs
	count, err := is.U64()
	if err != nil || count > kif.MaxExchangeArgs {
		is.ReplyError(tcu.InvArgs)
		return
	}
	for i := uint64(0); i < count; i++ {
		word, err := is.U64()
		if err != nil {
			is.ReplyError(tcu.InvArgs)
			return
		}
		args.Push(word)
	}

	var data uint64
	var out *kif.ExchangeArgs

	switch kif.Service(op) {
	case kif.ServiceOpen:
		var sel kif.Sel
		sel, err = srv.hdl.Open(srv, &args)
		data = uint64(sel)

	case kif.ServiceObtain:
		xchg := NewCapExchange(&args)
		err = srv.hdl.Obtain(srv, SessID(ident), xchg)
		data = xchg.crd.Raw()
		out = &xchg.out

	case kif.ServiceDelegate:
		xchg := NewCapExchange(&args)
		err = srv.hdl.Delegate(srv, SessID(ident), xchg)
		data = xchg.crd.Raw()
		out = &xchg.out

	case kif.ServiceClose:
		srv.hdl.Close(srv, SessID(ident))

	case kif.ServiceShutdown:

	default:
		err = tcu.InvArgs
	}

	os := com.NewOStream()
	os.PutU64(uint64(tcu.ErrorCode(err)))
	os.PutU64(data)
	if out != nil {
		os.PutU64(out.Count)
		for i := uint64(0); i < out.Count; i++ {
			os.PutU64(out.Words[i])
		}
	} else {
		os.PutU64(0)
	}
	is.Reply(os)
}
