//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"fmt"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// Ep is one user endpoint slot of the tile. Slots are allocated from
// the kernel on demand and recycled between gates by the endpoint
// multiplexer.
type Ep struct {
	id       tcu.EpID
	sel      kif.Sel
	gate     *Gate
	reserved bool
}

// ID returns the endpoint slot number.
func (ep *Ep) ID() tcu.EpID {
	return ep.id
}

// Sel returns the selector of the endpoint capability.
func (ep *Ep) Sel() kif.Sel {
	return ep.sel
}

func (ep *Ep) String() string {
	state := "free"
	if ep.reserved {
		state = "reserved"
	} else if ep.gate != nil {
		state = "bound"
	}
	return fmt.Sprintf("ep[%d %s]", ep.id, state)
}
