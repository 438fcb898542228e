//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

//go:build linux

package kernel

import (
	"golang.org/x/sys/unix"
)

// allocRbufMem maps the tile's receive buffer window as an anonymous
// page-aligned region so that slot offsets translate directly to page
// offsets.
func allocRbufMem(size int) []byte {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return make([]byte, size)
	}
	return mem
}
