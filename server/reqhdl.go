//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package server

import (
	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/tcu"
)

// RequestFunc serves one client request. A non-nil error is sent back
// as the reply's error word; otherwise the handler replies itself.
type RequestFunc func(is *com.IStream) error

// RequestHandler dispatches client messages by their leading opcode
// word. Unknown opcodes are answered with InvArgs so a client never
// blocks on a request the service does not understand.
type RequestHandler struct {
	handlers map[uint64]RequestFunc
}

// NewRequestHandler creates an empty request handler.
func NewRequestHandler() *RequestHandler {
	return &RequestHandler{
		handlers: make(map[uint64]RequestFunc),
	}
}

// Register installs the handler for the opcode.
func (rh *RequestHandler) Register(op uint64, fn RequestFunc) {
	rh.handlers[op] = fn
}

// AddToLoop registers the receive gate with the work loop, serving
// its messages through the handler table.
func (rh *RequestHandler) AddToLoop(wl *com.WorkLoop,
	rg *com.RGate) error {

	return wl.Add(rg, func(msg *tcu.Message) {
		rh.handle(rg, msg)
	}, true)
}

func (rh *RequestHandler) handle(rg *com.RGate, msg *tcu.Message) {
	is := com.NewIStream(rg, msg)
	op, err := is.U64()
	if err != nil {
		is.ReplyError(tcu.InvArgs)
		return
	}
	fn, ok := rh.handlers[op]
	if !ok {
		is.ReplyError(tcu.InvArgs)
		return
	}
	err = fn(is)
	if err != nil {
		is.ReplyError(tcu.ErrorCode(err))
	}
}
