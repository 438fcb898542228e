//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

//go:build !linux

package kernel

func allocRbufMem(size int) []byte {
	return make([]byte, size)
}
