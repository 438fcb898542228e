//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package server

import (
	"github.com/markkurossi/tilert/kif"
)

// CapExchange carries one capability exchange between a client and
// the service: the client's argument words in, the service's answer
// words and capability range out.
type CapExchange struct {
	in  *kif.ExchangeArgs
	out kif.ExchangeArgs
	crd kif.CapRngDesc
}

// NewCapExchange creates an exchange over the client's arguments.
func NewCapExchange(in *kif.ExchangeArgs) *CapExchange {
	return &CapExchange{
		in: in,
	}
}

// In returns the client's argument words.
func (xc *CapExchange) In() *kif.ExchangeArgs {
	return xc.in
}

// PushOut appends an answer word.
func (xc *CapExchange) PushOut(word uint64) {
	xc.out.Push(word)
}

// SetCaps names the capability range the service takes part in the
// exchange with.
func (xc *CapExchange) SetCaps(crd kif.CapRngDesc) {
	xc.crd = crd
}

// Caps returns the capability range of the exchange.
func (xc *CapExchange) Caps() kif.CapRngDesc {
	return xc.crd
}
