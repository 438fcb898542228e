//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"sync"

	"github.com/markkurossi/tilert/tcu"
)

type rbufArea struct {
	off  uint32
	size uint32
}

// RbufSpace manages the user area of the tile's receive buffer
// window. Freed areas are merged with their neighbors so the space
// does not fragment over gate churn.
type RbufSpace struct {
	m    sync.Mutex
	free []rbufArea
}

// NewRbufSpace creates a receive buffer space covering size bytes
// starting at off.
func NewRbufSpace(off, size uint32) *RbufSpace {
	return &RbufSpace{
		free: []rbufArea{{
			off:  off,
			size: size,
		}},
	}
}

// Alloc allocates size bytes, first fit.
func (rs *RbufSpace) Alloc(size uint32) (uint32, error) {
	rs.m.Lock()
	defer rs.m.Unlock()

	for i := range rs.free {
		area := &rs.free[i]
		if area.size < size {
			continue
		}
		off := area.off
		area.off += size
		area.size -= size
		if area.size == 0 {
			rs.free = append(rs.free[:i], rs.free[i+1:]...)
		}
		return off, nil
	}
	return 0, tcu.NoSpace
}

// Free returns the area to the space, merging it with adjacent free
// areas.
func (rs *RbufSpace) Free(off, size uint32) {
	rs.m.Lock()
	defer rs.m.Unlock()

	idx := len(rs.free)
	for i := range rs.free {
		if rs.free[i].off > off {
			idx = i
			break
		}
	}
	rs.free = append(rs.free, rbufArea{})
	copy(rs.free[idx+1:], rs.free[idx:])
	rs.free[idx] = rbufArea{
		off:  off,
		size: size,
	}

	// Merge with the successor, then the predecessor.
	if idx+1 < len(rs.free) &&
		rs.free[idx].off+rs.free[idx].size == rs.free[idx+1].off {
		rs.free[idx].size += rs.free[idx+1].size
		rs.free = append(rs.free[:idx+1], rs.free[idx+2:]...)
	}
	if idx > 0 &&
		rs.free[idx-1].off+rs.free[idx-1].size == rs.free[idx].off {
		rs.free[idx-1].size += rs.free[idx].size
		rs.free = append(rs.free[:idx], rs.free[idx+1:]...)
	}
}
