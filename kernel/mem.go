//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"sync"

	"github.com/markkurossi/tilert/tcu"
)

// MemObj is a kernel-owned memory region. Memory gates reference a
// MemObj with an offset, size, and permission mask; derived gates
// share the backing bytes of their parent.
type MemObj struct {
	m   sync.Mutex
	buf []byte
}

func newMemObj(size tcu.GlobOff) *MemObj {
	return &MemObj{
		buf: make([]byte, size),
	}
}

// Size returns the size of the region in bytes.
func (mo *MemObj) Size() tcu.GlobOff {
	return tcu.GlobOff(len(mo.buf))
}

func (mo *MemObj) read(dst []byte, off tcu.GlobOff) {
	mo.m.Lock()
	defer mo.m.Unlock()

	copy(dst, mo.buf[off:])
}

func (mo *MemObj) write(src []byte, off tcu.GlobOff) {
	mo.m.Lock()
	defer mo.m.Unlock()

	copy(mo.buf[off:], src)
}
