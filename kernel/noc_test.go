//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"bytes"
	"testing"
	"time"

	"github.com/markkurossi/mpc/p2p"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// testFabric creates two linked systems with one raw unit each.
func testFabric(t *testing.T) (*Unit, *Unit) {
	sysA := New(&Params{TileBase: 0})
	t.Cleanup(sysA.Close)
	sysB := New(&Params{TileBase: 100})
	t.Cleanup(sysB.Close)

	a := newUnit(sysA, 50, 1)
	sysA.m.Lock()
	sysA.units[50] = a
	sysA.m.Unlock()

	b := newUnit(sysB, 150, 1)
	sysB.m.Lock()
	sysB.units[150] = b
	sysB.m.Unlock()

	connA, connB := p2p.Pipe()
	key := bytes.Repeat([]byte{42}, 32)

	_, err := sysA.NewLink(connA, key, []tcu.TileID{150})
	if err != nil {
		t.Fatal(err)
	}
	_, err = sysB.NewLink(connB, key, []tcu.TileID{50})
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

func TestLinkSendReply(t *testing.T) {
	a, b := testFabric(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 150, 4, 0x11, 1, 1, 8)
	a.configRecv(5, 0, 9, 9)

	err := a.SendAligned(4, []byte("over the wire"), 0x22, 5)
	if err != nil {
		t.Fatal(err)
	}
	credits, _ := a.Credits(4)
	if credits != 0 {
		t.Errorf("credits=%v, expected 0", credits)
	}

	off, ok := b.FetchMsg(4)
	if !ok {
		t.Fatal("no message")
	}
	hdr := tcu.ParseHeader(b.RbufSpace()[off:])
	if hdr.Label != 0x11 || hdr.SenderTile != 50 {
		t.Errorf("hdr=%v", hdr)
	}
	data := b.RbufSpace()[off+tcu.HeaderSize : off+tcu.HeaderSize+
		uint32(hdr.Length)]
	if !bytes.Equal(data, []byte("over the wire")) {
		t.Errorf("data=%q", data)
	}

	err = b.ReplyAligned(4, []byte("ack"), off)
	if err != nil {
		t.Fatal(err)
	}

	err = a.WaitForMsg(5, 0)
	if err != nil {
		t.Fatal(err)
	}
	roff, ok := a.FetchMsg(5)
	if !ok {
		t.Fatal("no reply")
	}
	rhdr := tcu.ParseHeader(a.RbufSpace()[roff:])
	if rhdr.Label != 0x22 {
		t.Errorf("reply label=%x", rhdr.Label)
	}

	// The credit-return frame trails the reply frame.
	for i := 0; ; i++ {
		credits, _ = a.Credits(4)
		if credits == 1 {
			break
		}
		if i > 1000 {
			t.Fatalf("credits=%v, expected 1", credits)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLinkRemoteErrors(t *testing.T) {
	a, b := testFabric(t)

	// A single-slot remote receive buffer: the second send must
	// see the same error code as a local one.
	b.configRecv(4, 0, 8, 8)
	a.configSend(4, 150, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 8)

	err := a.SendAligned(4, []byte("one"), 0, tcu.NoReplies)
	if err != nil {
		t.Fatal(err)
	}
	err = a.SendAligned(4, []byte("two"), 0, tcu.NoReplies)
	if err != tcu.RecvNoSpace {
		t.Fatalf("err=%v, expected RecvNoSpace", err)
	}

	// Sending to a tile nobody routes reports a NoC timeout.
	a.configSend(5, 199, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 8)
	err = a.SendAligned(5, []byte("nowhere"), 0, tcu.NoReplies)
	if err != tcu.TimeoutNoC {
		t.Fatalf("err=%v, expected TimeoutNoC", err)
	}
}
