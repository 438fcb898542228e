//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/kernel"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// newTestCom boots a system with one activity and builds its
// communication layer with the given endpoint budget.
func newTestCom(t *testing.T, totalEps int) *com.Com {
	sys := kernel.New(nil)
	t.Cleanup(sys.Close)

	info, err := sys.AddActivity("test")
	if err != nil {
		t.Fatal(err)
	}
	return com.New(&com.Params{
		Transport: info.Unit,
		Mux:       info.Unit,
		FirstSel:  info.FirstFreeSel,
		FirstEp:   info.FirstUserEp,
		TotalEps:  totalEps,
		RbufOff:   info.RbufUserOff,
		RbufSize: uint32(kernel.DefaultRbufSpaceSize) -
			info.RbufUserOff,
	})
}

func TestCallReply(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
	sg, err := com.NewSGate(c, com.SGateArgs{
		RGate:   rg,
		Label:   7,
		Credits: 1,
		Sel:     kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := com.NewRGate(c, com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}

	// The responder does transport operations only; system calls
	// stay on the test goroutine.
	go func() {
		for {
			msg, err := rg.Receive(nil)
			if err != nil {
				return
			}
			if len(msg.Data) == 0 {
				rg.Ack(msg)
				return
			}
			if msg.Header.Label != 7 {
				rg.Ack(msg)
				continue
			}
			rg.Reply(msg.Data, msg)
		}
	}()

	msg, err := sg.Call([]byte{0xde, 0xad, 0xbe, 0xef}, reply)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(msg.Data, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("reply=%x", msg.Data)
	}
	reply.Ack(msg)

	// The reply returned the credit.
	credits, err := sg.Credits()
	if err != nil {
		t.Fatal(err)
	}
	if credits != 1 {
		t.Errorf("credits=%v, expected 1", credits)
	}

	// Stop the responder.
	err = sg.Send(nil, reply)
	if err != nil {
		t.Fatal(err)
	}
}

func TestTrySendNoCredits(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
	sg, err := com.NewSGate(c, com.SGateArgs{
		RGate:   rg,
		Credits: 2,
		Sel:     kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = sg.TrySend([]byte{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = sg.TrySend([]byte{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = sg.TrySend([]byte{1}, nil)
	if err != tcu.NoCredits {
		t.Fatalf("err=%v, expected NoCredits", err)
	}

	// Serving one message returns one credit.
	msg := rg.Fetch()
	if msg == nil {
		t.Fatal("no message")
	}
	err = rg.Ack(msg)
	if err != nil {
		t.Fatal(err)
	}
	err = sg.TrySend([]byte{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestEpEviction(t *testing.T) {
	// Far more gates than endpoint slots: sends must multiplex the
	// gates over the slots by evicting idle ones. A gate with a
	// missing credit is never evicted, so every message is served
	// before the next gate sends.
	c := newTestCom(t, 32)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}

	var gates []*com.SGate
	for i := 0; i < 200; i++ {
		sg, err := com.NewSGate(c, com.SGateArgs{
			RGate:   rg,
			Label:   tcu.Label(i),
			Credits: 1,
			Sel:     kif.InvalidSel,
		})
		if err != nil {
			t.Fatal(err)
		}
		gates = append(gates, sg)
	}

	for round := 0; round < 2; round++ {
		for i, sg := range gates {
			err = sg.TrySend([]byte{byte(i)}, nil)
			if err != nil {
				t.Fatalf("gate %d round %d: %v", i, round, err)
			}
			msg := rg.Fetch()
			if msg == nil {
				t.Fatalf("gate %d round %d: no message", i, round)
			}
			if msg.Header.Label != tcu.Label(i) {
				t.Errorf("label=%v, expected %v",
					msg.Header.Label, i)
			}
			rg.Ack(msg)
		}
	}
}

func TestCallRevokedRGate(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
	sg, err := com.NewSGate(c, com.SGateArgs{
		RGate:   rg,
		Credits: 1,
		Sel:     kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := com.NewRGate(c, com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = reply.Activate()
	if err != nil {
		t.Fatal(err)
	}
	// Pre-activate the send gate so the call below needs no system
	// calls; those stay on the test goroutine.
	_, err = sg.Credits()
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sg.Call([]byte{1}, reply)
		done <- err
	}()

	// Nobody answers the call. Revoking the receive gate revokes the
	// derived send gate with it: the caller's wait must fail instead
	// of hanging on a reply that can no longer come.
	time.Sleep(10 * time.Millisecond)
	err = c.Syscalls().Revoke(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: rg.Sel(),
		Count: 1,
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	err = <-done
	if err != tcu.EPInvalid {
		t.Errorf("err=%v, expected EPInvalid", err)
	}
}

func TestSendWaitsForCredit(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
	sg, err := com.NewSGate(c, com.SGateArgs{
		RGate:   rg,
		Credits: 1,
		Sel:     kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = sg.TrySend([]byte{1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Serve the first message from another goroutine; the ack
	// returns the credit and wakes the blocked send.
	go func() {
		time.Sleep(10 * time.Millisecond)
		msg := rg.Fetch()
		if msg != nil {
			rg.Ack(msg)
		}
	}()

	err = sg.Send([]byte{2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := rg.Fetch()
	if msg == nil {
		t.Fatal("no message")
	}
	if !bytes.Equal(msg.Data, []byte{2}) {
		t.Errorf("data=%x", msg.Data)
	}
	rg.Ack(msg)
}

func TestRevokeWhileReceiving(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := rg.Receive(nil)
		done <- err
	}()

	// Let the receiver block, then pull the gate out from under
	// it: the receive must fail instead of hanging.
	time.Sleep(10 * time.Millisecond)
	err = c.Syscalls().Revoke(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: rg.Sel(),
		Count: 1,
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	err = <-done
	if err != tcu.EPInvalid {
		t.Errorf("err=%v, expected EPInvalid", err)
	}
}

func TestRGateDeactivate(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
	ep, ok := rg.EpID()
	if !ok {
		t.Fatal("no endpoint after activate")
	}
	if !c.Transport().IsValid(ep) {
		t.Error("endpoint invalid after activate")
	}

	rg.Deactivate()
	if _, ok := rg.EpID(); ok {
		t.Error("endpoint still bound after deactivate")
	}

	// The buffer area was freed: a fresh activation succeeds.
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
}

func TestSemaphore(t *testing.T) {
	c := newTestCom(t, 16)

	sel := c.Sels().Alloc()
	err := c.Syscalls().CreateSem(sel, 1)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Syscalls().SemDown(sel)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Syscalls().SemUp(sel)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Syscalls().SemDown(sel)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRevoke(t *testing.T) {
	c := newTestCom(t, 16)

	rg, err := com.NewRGate(c, com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rg.Activate()
	if err != nil {
		t.Fatal(err)
	}
	ep, _ := rg.EpID()

	err = c.Syscalls().Revoke(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: rg.Sel(),
		Count: 1,
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	// Revocation invalidates the bound endpoint.
	if c.Transport().IsValid(ep) {
		t.Error("endpoint valid after revoke")
	}
}
