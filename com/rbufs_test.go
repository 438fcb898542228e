//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"testing"
)

func TestRbufAlloc(t *testing.T) {
	rs := NewRbufSpace(1024, 4096)

	a, err := rs.Alloc(1024)
	if err != nil {
		t.Fatal(err)
	}
	if a != 1024 {
		t.Errorf("a=%v, expected 1024", a)
	}
	b, err := rs.Alloc(2048)
	if err != nil {
		t.Fatal(err)
	}
	if b != 2048 {
		t.Errorf("b=%v, expected 2048", b)
	}
	_, err = rs.Alloc(2048)
	if err == nil {
		t.Error("over-allocation succeeded")
	}
}

func TestRbufCoalesce(t *testing.T) {
	rs := NewRbufSpace(0, 4096)

	a, _ := rs.Alloc(1024)
	b, _ := rs.Alloc(1024)
	c, _ := rs.Alloc(1024)

	// Free the middle, then its neighbors: the space must coalesce
	// back into one area that can serve a full-size allocation.
	rs.Free(b, 1024)
	rs.Free(a, 1024)
	rs.Free(c, 1024)

	off, err := rs.Alloc(4096)
	if err != nil {
		t.Fatal(err)
	}
	if off != 0 {
		t.Errorf("off=%v, expected 0", off)
	}
}

func TestRbufFirstFit(t *testing.T) {
	rs := NewRbufSpace(0, 4096)

	a, _ := rs.Alloc(512)
	rs.Alloc(512)
	rs.Free(a, 512)

	// The freed hole is the first fit for a small allocation.
	off, err := rs.Alloc(256)
	if err != nil {
		t.Fatal(err)
	}
	if off != 0 {
		t.Errorf("off=%v, expected 0", off)
	}
}
