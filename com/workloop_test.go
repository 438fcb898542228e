//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com_test

import (
	"testing"

	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
	"github.com/markkurossi/tilert/thread"
)

func newLoopGate(t *testing.T, c *com.Com) (*com.RGate, *com.SGate) {
	rg, err := com.NewRGate(c, com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	sg, err := com.NewSGate(c, com.SGateArgs{
		RGate: rg,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rg, sg
}

func TestWorkLoopStop(t *testing.T) {
	c := newTestCom(t, 16)
	rg, sg := newLoopGate(t, c)

	wl := com.NewWorkLoop(c)
	var count int
	err := wl.Add(rg, func(msg *tcu.Message) {
		count++
		rg.Ack(msg)
		wl.Stop()
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	err = sg.TrySend([]byte{42}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// With only permanent items left, Stop ends the loop after the
	// dispatch round.
	wl.Run()
	if count != 1 {
		t.Errorf("count=%v, expected 1", count)
	}
}

func TestWorkLoopRemove(t *testing.T) {
	c := newTestCom(t, 16)
	rg1, sg1 := newLoopGate(t, c)
	rg2, sg2 := newLoopGate(t, c)

	wl := com.NewWorkLoop(c)
	var served int
	err := wl.Add(rg1, func(msg *tcu.Message) {
		served++
		rg1.Ack(msg)
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	var removed bool
	err = wl.Add(rg2, func(msg *tcu.Message) {
		rg2.Ack(msg)
		wl.Remove(rg2)
		removed = true
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	err = sg1.TrySend([]byte{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = sg2.TrySend([]byte{2}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Stop does not end the loop while the non-permanent item is
	// registered: its pending message is still served, and the loop
	// exits once the handler removes the item.
	wl.Stop()
	wl.Run()
	if served != 1 {
		t.Errorf("served=%v, expected 1", served)
	}
	if !removed {
		t.Error("non-permanent item was not served")
	}
}

func TestWorkLoopYield(t *testing.T) {
	c := newTestCom(t, 16)
	rg, sg := newLoopGate(t, c)

	mgr := thread.NewManager()
	wl := com.NewWorkLoop(c)
	wl.SetThreads(mgr)

	var ran bool
	mgr.Spawn(func() {
		ran = true
	})
	err := wl.Add(rg, func(msg *tcu.Message) {
		rg.Ack(msg)
		wl.Stop()
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	err = sg.TrySend([]byte{1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The dispatch round yields to the ready user thread before the
	// loop exits.
	wl.Run()
	if !ran {
		t.Error("ready thread did not run")
	}
}
