//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"sync/atomic"
	"time"

	"github.com/markkurossi/tilert/tcu"
	"github.com/markkurossi/tilert/thread"
)

// WorkLoop multiplexes the receive gates of an activity: it fetches
// unread messages and dispatches them to the registered handlers,
// waiting on the transport when all gates are idle. The loop runs
// until stop is requested and only permanent items remain.
type WorkLoop struct {
	c       *Com
	tm      *thread.Manager
	items   []workItem
	stopped atomic.Bool
}

type workItem struct {
	rg        *RGate
	fn        func(*tcu.Message)
	permanent bool
}

// NewWorkLoop creates a work loop on the communication layer.
func NewWorkLoop(c *Com) *WorkLoop {
	return &WorkLoop{
		c: c,
	}
}

// SetThreads attaches the activity's thread manager. The loop then
// yields to ready user threads once per dispatch round.
func (wl *WorkLoop) SetThreads(tm *thread.Manager) {
	wl.tm = tm
}

// Add registers a handler for the receive gate, activating the gate.
// A permanent item does not keep the loop alive once Stop has been
// called; a non-permanent item does until it is removed.
func (wl *WorkLoop) Add(rg *RGate, fn func(*tcu.Message),
	permanent bool) error {

	err := rg.Activate()
	if err != nil {
		return err
	}
	wl.items = append(wl.items, workItem{
		rg:        rg,
		fn:        fn,
		permanent: permanent,
	})
	return nil
}

// Remove drops the gate's work item, compacting the item list. A
// handler may remove its own item.
func (wl *WorkLoop) Remove(rg *RGate) {
	for i, item := range wl.items {
		if item.rg == rg {
			wl.items = append(wl.items[:i], wl.items[i+1:]...)
			return
		}
	}
}

// Stop makes Run return once only permanent items remain.
func (wl *WorkLoop) Stop() {
	wl.stopped.Store(true)
}

// Run dispatches messages in rounds: wait for the transport when
// nothing is pending, serve every item in registration order, and
// yield to the user threads.
func (wl *WorkLoop) Run() {
	for {
		if !wl.c.tc.HasEvents() {
			wl.c.tc.WaitForAny(10 * time.Millisecond)
		}
		wl.c.tc.FetchEvents()
		for i := 0; i < len(wl.items); i++ {
			item := wl.items[i]
			for {
				msg := item.rg.Fetch()
				if msg == nil {
					break
				}
				item.fn(msg)
			}
		}
		if wl.tm != nil {
			wl.tm.TryYield()
		}
		if wl.stopped.Load() && !wl.pending() {
			return
		}
	}
}

// pending reports whether a non-permanent item is still registered.
func (wl *WorkLoop) pending() bool {
	for _, item := range wl.items {
		if !item.permanent {
			return true
		}
	}
	return false
}
