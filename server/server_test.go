//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package server_test

import (
	"bytes"
	"testing"

	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/env"
	"github.com/markkurossi/tilert/kernel"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/server"
	"github.com/markkurossi/tilert/tcu"
	"github.com/markkurossi/tilert/tiles"
)

const opEcho = 1

func newActivity(t *testing.T, sys *kernel.System,
	name string) *tiles.OwnActivity {

	info, err := sys.AddActivity(name)
	if err != nil {
		t.Fatal(err)
	}
	return tiles.New(&tiles.Params{
		Transport: info.Unit,
		Mux:       info.Unit,
		Env: &env.Data{
			TileID:   uint64(info.TileID),
			FirstSel: uint64(info.FirstFreeSel),
			ActID:    uint64(info.ActID),
			RmngSel:  uint64(info.ResmngSel),
		},
		RbufOff: info.RbufUserOff,
		RbufSize: uint32(kernel.DefaultRbufSpaceSize) -
			info.RbufUserOff,
	})
}

type testSession struct {
	sgate *com.SGate
}

type testHandler struct {
	rgate    *com.RGate
	sessions *server.SessionContainer
	closed   chan server.SessID
}

func (h *testHandler) Open(srv *server.Server, args *kif.ExchangeArgs) (
	kif.Sel, error) {

	sid, err := h.sessions.Add(&testSession{})
	if err != nil {
		return kif.InvalidSel, err
	}
	sel, err := srv.CreateSession(sid, true)
	if err != nil {
		h.sessions.Remove(sid)
		return kif.InvalidSel, err
	}
	return sel, nil
}

func (h *testHandler) Obtain(srv *server.Server, sid server.SessID,
	xchg *server.CapExchange) error {

	s, ok := h.sessions.Get(sid)
	if !ok {
		return tcu.NotFound
	}
	sg, err := com.NewSGate(srv.Com(), com.SGateArgs{
		RGate:   h.rgate,
		Label:   tcu.Label(sid),
		Credits: 1,
		Sel:     kif.InvalidSel,
	})
	if err != nil {
		return err
	}
	s.(*testSession).sgate = sg
	xchg.SetCaps(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: sg.Sel(),
		Count: 1,
	})
	return nil
}

func (h *testHandler) Delegate(srv *server.Server, sid server.SessID,
	xchg *server.CapExchange) error {

	return tcu.NotSup
}

func (h *testHandler) Close(srv *server.Server, sid server.SessID) {
	h.sessions.Remove(sid)
	select {
	case h.closed <- sid:
	default:
	}
}

// startEcho sets up an echo service on the activity and runs its work
// loop. The returned stop function joins the loop.
func startEcho(t *testing.T, act *tiles.OwnActivity) (
	*testHandler, func()) {

	rgate, err := com.NewRGate(act.Com(), com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}
	hdl := &testHandler{
		rgate:    rgate,
		sessions: server.NewSessionContainer(4),
		closed:   make(chan server.SessID, 4),
	}
	srv, err := server.New(act.Com(), act.ResMng(), &server.Params{
		Name:    "echo",
		Handler: hdl,
	})
	if err != nil {
		t.Fatal(err)
	}

	wl := com.NewWorkLoop(act.Com())
	err = srv.AddToLoop(wl)
	if err != nil {
		t.Fatal(err)
	}

	rh := server.NewRequestHandler()
	rh.Register(opEcho, func(is *com.IStream) error {
		data, err := is.Str()
		if err != nil {
			return err
		}
		os := com.NewOStream()
		os.PutU64(uint64(tcu.None))
		os.PutStr(data)
		return is.Reply(os)
	})
	err = rh.AddToLoop(wl, rgate)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wl.Run()
	}()
	return hdl, func() {
		wl.Stop()
		<-done
		srv.Shutdown()
	}
}

func TestEchoService(t *testing.T) {
	sys := kernel.New(nil)
	t.Cleanup(sys.Close)

	srvAct := newActivity(t, sys, "echosrv")
	cliAct := newActivity(t, sys, "echocli")

	hdl, stop := startEcho(t, srvAct)
	defer stop()

	sess, err := cliAct.OpenSession("echo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hdl.sessions.Count() != 1 {
		t.Errorf("sessions=%v, expected 1", hdl.sessions.Count())
	}

	sg, err := sess.ObtainSGate(nil)
	if err != nil {
		t.Fatal(err)
	}

	reply, err := com.NewRGate(cliAct.Com(), com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		os := com.NewOStream()
		os.PutU64(opEcho)
		os.PutStr("ping")

		msg, err := sg.Call(os.Bytes(), reply)
		if err != nil {
			t.Fatal(err)
		}
		is := com.NewIStream(reply, msg)
		code, err := is.U64()
		if err != nil {
			t.Fatal(err)
		}
		if !tcu.Code(code).OK() {
			t.Fatalf("echo failed: %v", tcu.Code(code))
		}
		data, err := is.Str()
		if err != nil {
			t.Fatal(err)
		}
		if data != "ping" {
			t.Errorf("data=%q", data)
		}
		is.Ack()
	}

	// The service rejects delegations.
	_, err = sess.Delegate(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: sg.Sel(),
		Count: 1,
	}, nil)
	if err != tcu.NotSup {
		t.Errorf("Delegate err=%v, expected NotSup", err)
	}

	err = sess.Close()
	if err != nil {
		t.Fatal(err)
	}
	sid := <-hdl.closed
	if sid != 0 {
		t.Errorf("closed sid=%v, expected 0", sid)
	}
	if hdl.sessions.Count() != 0 {
		t.Errorf("sessions=%v, expected 0", hdl.sessions.Count())
	}
}

func TestAllocMem(t *testing.T) {
	sys := kernel.New(nil)
	t.Cleanup(sys.Close)

	act := newActivity(t, sys, "mem")

	mg, err := act.AllocMem(16384, kif.PermRW)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]byte, 7000)
	for i := range src {
		src[i] = 0x5a
	}
	err = mg.Write(src, 500)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 7000)
	err = mg.Read(dst, 500)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("read back differs")
	}

	// Derivation narrows: a read-only window rejects writes and
	// derivation cannot widen permissions back.
	ro, err := mg.Derive(1000, 2000, kif.PermR)
	if err != nil {
		t.Fatal(err)
	}
	err = ro.Write([]byte{1}, 0)
	if err != tcu.NoPerm {
		t.Errorf("err=%v, expected NoPerm", err)
	}
	var b [1]byte
	err = ro.Read(b[:], 0)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x5a {
		t.Errorf("b=%x", b[0])
	}
	_, err = ro.Derive(0, 100, kif.PermRW)
	if err != tcu.NoPerm {
		t.Errorf("widening Derive err=%v, expected NoPerm", err)
	}
	_, err = ro.Derive(1000, 2000, kif.PermR)
	if err != tcu.InvArgs {
		t.Errorf("out of range Derive err=%v, expected InvArgs", err)
	}
}

func TestSharedSemaphore(t *testing.T) {
	sys := kernel.New(nil)
	t.Cleanup(sys.Close)

	a := newActivity(t, sys, "sem-a")
	b := newActivity(t, sys, "sem-b")

	aSel := a.Com().Sels().Alloc()
	err := a.ResMng().UseSem(aSel, "barrier")
	if err != nil {
		t.Fatal(err)
	}
	bSel := b.Com().Sels().Alloc()
	err = b.ResMng().UseSem(bSel, "barrier")
	if err != nil {
		t.Fatal(err)
	}

	// The down blocks in the kernel until the other activity posts
	// the semaphore.
	done := make(chan error, 1)
	go func() {
		done <- a.Com().Syscalls().SemDown(aSel)
	}()

	err = b.Com().Syscalls().SemUp(bSel)
	if err != nil {
		t.Fatal(err)
	}
	err = <-done
	if err != nil {
		t.Fatal(err)
	}
}
