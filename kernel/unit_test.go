//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"bytes"
	"testing"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// testPair creates a system with two raw transfer units wired to the
// fabric, bypassing the capability layer.
func testPair(t *testing.T) (*System, *Unit, *Unit) {
	sys := New(nil)
	t.Cleanup(sys.Close)

	a := newUnit(sys, 40, 1)
	b := newUnit(sys, 41, 2)
	sys.m.Lock()
	sys.units[40] = a
	sys.units[41] = b
	sys.m.Unlock()

	return sys, a, b
}

func TestSendReplyAck(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 41, 4, 0x11, 2, 2, 8)
	a.configRecv(5, 0, 9, 9)

	err := a.SendAligned(4, []byte("ping"), 0x22, 5)
	if err != nil {
		t.Fatal(err)
	}
	credits, err := a.Credits(4)
	if err != nil {
		t.Fatal(err)
	}
	if credits != 1 {
		t.Errorf("credits=%v, expected 1", credits)
	}

	off, ok := b.FetchMsg(4)
	if !ok {
		t.Fatal("no message")
	}
	hdr := tcu.ParseHeader(b.RbufSpace()[off:])
	if hdr.Label != 0x11 {
		t.Errorf("label=%x, expected 0x11", hdr.Label)
	}
	if hdr.SenderTile != 40 || hdr.ReplyEP != 5 {
		t.Errorf("hdr=%v", hdr)
	}
	data := b.RbufSpace()[off+tcu.HeaderSize : off+tcu.HeaderSize+
		uint32(hdr.Length)]
	if !bytes.Equal(data, []byte("ping")) {
		t.Errorf("data=%q", data)
	}

	err = b.ReplyAligned(4, []byte("pong"), off)
	if err != nil {
		t.Fatal(err)
	}

	// Replying returns the credit.
	credits, _ = a.Credits(4)
	if credits != 2 {
		t.Errorf("credits=%v, expected 2", credits)
	}

	roff, ok := a.FetchMsg(5)
	if !ok {
		t.Fatal("no reply")
	}
	rhdr := tcu.ParseHeader(a.RbufSpace()[roff:])
	if rhdr.Label != 0x22 {
		t.Errorf("reply label=%x, expected 0x22", rhdr.Label)
	}
	if rhdr.ReplyEP != tcu.NoReplies {
		t.Errorf("reply ReplyEP=%v", rhdr.ReplyEP)
	}
	err = a.AckMsg(5, roff)
	if err != nil {
		t.Fatal(err)
	}
}

func TestNoCredits(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 41, 4, 0, 1, 1, 8)

	err := a.SendAligned(4, []byte("one"), 0, tcu.NoReplies)
	if err != nil {
		t.Fatal(err)
	}
	err = a.SendAligned(4, []byte("two"), 0, tcu.NoReplies)
	if err != tcu.NoCredits {
		t.Fatalf("err=%v, expected NoCredits", err)
	}

	// Acking the message returns the credit and the send goes
	// through again.
	off, ok := b.FetchMsg(4)
	if !ok {
		t.Fatal("no message")
	}
	err = b.AckMsg(4, off)
	if err != nil {
		t.Fatal(err)
	}
	err = a.SendAligned(4, []byte("two"), 0, tcu.NoReplies)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRecvNoSpace(t *testing.T) {
	_, a, b := testPair(t)

	// A single-slot receive buffer.
	b.configRecv(4, 0, 8, 8)
	a.configSend(4, 41, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 8)

	err := a.SendAligned(4, []byte("one"), 0, tcu.NoReplies)
	if err != nil {
		t.Fatal(err)
	}
	err = a.SendAligned(4, []byte("two"), 0, tcu.NoReplies)
	if err != tcu.RecvNoSpace {
		t.Fatalf("err=%v, expected RecvNoSpace", err)
	}
}

func TestSendInvMsgSize(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 41, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 8)

	msg := make([]byte, (1<<8)-tcu.HeaderSize+1)
	err := a.SendAligned(4, msg, 0, tcu.NoReplies)
	if err != tcu.SendInvMsgSize {
		t.Fatalf("err=%v, expected SendInvMsgSize", err)
	}
}

func TestMaxMsgSize(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 10)
	a.configSend(4, 41, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 10)

	msg := bytes.Repeat([]byte{0x7e}, tcu.MaxMsgSize)
	err := a.SendAligned(4, msg, 0, tcu.NoReplies)
	if err != nil {
		t.Fatal(err)
	}
	off, ok := b.FetchMsg(4)
	if !ok {
		t.Fatal("no message")
	}
	hdr := tcu.ParseHeader(b.RbufSpace()[off:])
	if int(hdr.Length) != tcu.MaxMsgSize {
		t.Errorf("length=%v", hdr.Length)
	}

	err = a.SendAligned(4, append(msg, 0), 0, tcu.NoReplies)
	if err != tcu.SendInvMsgSize {
		t.Fatalf("err=%v, expected SendInvMsgSize", err)
	}
}

func TestTranslationFault(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 41, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 8)

	a.InjectXlateFault(1)
	err := a.SendAligned(4, []byte("retry"), 0, tcu.NoReplies)
	if err != nil {
		t.Fatal(err)
	}
	if a.XlateCalls() != 1 {
		t.Errorf("XlateCalls=%v, expected 1", a.XlateCalls())
	}

	// The command was retried, not repeated: exactly one delivery.
	if _, ok := b.FetchMsg(4); !ok {
		t.Fatal("no message")
	}
	if _, ok := b.FetchMsg(4); ok {
		t.Error("duplicate message")
	}
}

func TestDropMsgsWith(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 41, 4, 7, kif.UnlimCredits, kif.UnlimCredits, 8)
	a.configSend(5, 41, 4, 9, kif.UnlimCredits, kif.UnlimCredits, 8)

	a.SendAligned(4, []byte("a"), 0, tcu.NoReplies)
	a.SendAligned(5, []byte("b"), 0, tcu.NoReplies)
	a.SendAligned(4, []byte("c"), 0, tcu.NoReplies)

	b.DropMsgsWith(4, 7)

	off, ok := b.FetchMsg(4)
	if !ok {
		t.Fatal("no message")
	}
	hdr := tcu.ParseHeader(b.RbufSpace()[off:])
	if hdr.Label != 9 {
		t.Errorf("label=%v, expected 9", hdr.Label)
	}
	if _, ok := b.FetchMsg(4); ok {
		t.Error("dropped message fetched")
	}
}

func TestMemTransfer(t *testing.T) {
	sys, a, _ := testPair(t)

	mem, err := sys.allocMem(16384)
	if err != nil {
		t.Fatal(err)
	}
	a.configMem(4, mem, 0, 16384, kif.PermRW)

	// A transfer crossing page boundaries.
	src := make([]byte, 7000)
	for i := range src {
		src[i] = 0x5a
	}
	err = a.Write(4, src, 500)
	if err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, 7000)
	err = a.Read(4, dst, 500)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("read back differs")
	}

	var edge [4]byte
	err = a.Read(4, edge[:], 496)
	if err != nil {
		t.Fatal(err)
	}
	if edge[0] != 0 || edge[3] != 0 {
		t.Errorf("edge=%x", edge)
	}

	err = a.Read(4, dst, 16384-100)
	if err != tcu.OutOfBounds {
		t.Errorf("err=%v, expected OutOfBounds", err)
	}
}

func TestWaitForMsg(t *testing.T) {
	_, a, b := testPair(t)

	b.configRecv(4, 0, 11, 8)
	a.configSend(4, 41, 4, 0, kif.UnlimCredits, kif.UnlimCredits, 8)

	go func() {
		a.SendAligned(4, []byte("wake"), 0, tcu.NoReplies)
	}()

	err := b.WaitForMsg(4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.FetchMsg(4); !ok {
		t.Fatal("no message after wait")
	}
}
