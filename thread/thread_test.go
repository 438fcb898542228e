//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package thread

import (
	"bytes"
	"testing"
)

func TestZeroEvent(t *testing.T) {
	mgr := NewManager()
	if mgr.Count() != 1 {
		t.Fatalf("Count=%v, expected 1", mgr.Count())
	}
	// Alone, the manager must never hand out a blockable event.
	ev := mgr.AllocEvent()
	if ev != 0 {
		t.Errorf("AllocEvent=%v, expected 0", ev)
	}
	msg := mgr.WaitFor(ev)
	if msg != nil {
		t.Errorf("WaitFor(0)=%v", msg)
	}
}

func TestNotify(t *testing.T) {
	mgr := NewManager()
	done := make(chan []byte, 1)

	var ev Event
	mgr.Spawn(func() {
		done <- mgr.WaitFor(ev)
	})
	ev = mgr.AllocEvent()
	if ev == 0 {
		t.Fatal("AllocEvent=0 with two threads")
	}

	// First yield runs the thread into its wait, second resumes it
	// with the notified message.
	mgr.TryYield()
	mgr.Notify(ev, []byte("hi"))
	mgr.TryYield()

	msg := <-done
	if !bytes.Equal(msg, []byte("hi")) {
		t.Errorf("msg=%q, expected hi", msg)
	}
}

func TestWaitWithoutReady(t *testing.T) {
	mgr := NewManager()
	mgr.Spawn(func() {})
	// Allocate while a second thread is alive so the token is
	// non-zero, then let the spawned thread run to completion.
	ev := mgr.AllocEvent()
	if ev == 0 {
		t.Fatal("AllocEvent=0 with two threads")
	}
	mgr.TryYield()

	// No ready thread is left: the wait can never be answered and
	// must panic instead of pretending an empty message arrived.
	defer func() {
		if recover() == nil {
			t.Error("WaitFor returned with no runnable thread")
		}
	}()
	mgr.WaitFor(ev)
}

func TestStop(t *testing.T) {
	mgr := NewManager()
	done := make(chan []byte, 1)

	mgr.Spawn(func() {
		done <- mgr.WaitFor(mgr.AllocEvent())
	})
	mgr.TryYield()

	mgr.Stop()
	mgr.TryYield()
	msg := <-done
	if msg != nil {
		t.Errorf("msg=%v, expected nil", msg)
	}
}
