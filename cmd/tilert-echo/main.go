//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Command tilert-echo boots a two-tile system and runs an echo
// service on one tile and a client on the other. The client opens a
// session with the service, obtains a send gate, and echoes messages
// over it.
package main

import (
	"flag"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/env"
	"github.com/markkurossi/tilert/kernel"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/server"
	"github.com/markkurossi/tilert/tcu"
	"github.com/markkurossi/tilert/tiles"
)

const opEcho = 1

func main() {
	ktrace := flag.Bool("ktrace", false, "kernel trace")
	hex := flag.Bool("hex", false, "hex dump traced messages")
	count := flag.Int("n", 4, "number of echo calls")
	flag.Parse()

	log.SetFlags(0)

	sys := kernel.New(&kernel.Params{
		Trace:    *ktrace,
		TraceHex: *hex,
	})
	defer sys.Close()

	// Each activity is booted on the goroutine that runs it so its
	// thread manager schedules the right goroutine.
	wlCh := make(chan *com.WorkLoop, 1)

	var g errgroup.Group
	g.Go(func() error {
		srvAct, err := boot(sys, "echosrv")
		if err != nil {
			return err
		}
		wl := com.NewWorkLoop(srvAct.Com())
		wl.SetThreads(srvAct.Threads())
		wlCh <- wl
		return serve(srvAct, wl)
	})
	g.Go(func() error {
		wl := <-wlCh
		defer wl.Stop()

		cliAct, err := boot(sys, "echocli")
		if err != nil {
			return err
		}
		return client(cliAct, *count)
	})
	err := g.Wait()
	if err != nil {
		log.Fatal(err)
	}
}

// boot creates an activity and builds its runtime state.
func boot(sys *kernel.System, name string) (*tiles.OwnActivity, error) {
	info, err := sys.AddActivity(name)
	if err != nil {
		return nil, err
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
		RbufOff:  info.RbufUserOff,
		RbufSize: uint32(kernel.DefaultRbufSpaceSize) - info.RbufUserOff,
	}), nil
}

// echoSession is the per-client state of the echo service.
type echoSession struct {
	sgate *com.SGate
}

// echoHandler implements the echo service.
type echoHandler struct {
	act      *tiles.OwnActivity
	rgate    *com.RGate
	sessions *server.SessionContainer
}

func (h *echoHandler) Open(srv *server.Server, args *kif.ExchangeArgs) (
	kif.Sel, error) {

	sid, err := h.sessions.Add(&echoSession{})
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

func (h *echoHandler) Obtain(srv *server.Server, sid server.SessID,
	xchg *server.CapExchange) error {

	s, ok := h.sessions.Get(sid)
	if !ok {
		return tcu.NotFound
	}
	sess := s.(*echoSession)
	sg, err := com.NewSGate(srv.Com(), com.SGateArgs{
		RGate:   h.rgate,
		Label:   tcu.Label(sid),
		Credits: 1,
		Sel:     kif.InvalidSel,
	})
	if err != nil {
		return err
	}
	sess.sgate = sg
	xchg.SetCaps(kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: sg.Sel(),
		Count: 1,
	})
	return nil
}

func (h *echoHandler) Delegate(srv *server.Server, sid server.SessID,
	xchg *server.CapExchange) error {

	return tcu.NotSup
}

func (h *echoHandler) Close(srv *server.Server, sid server.SessID) {
	s, ok := h.sessions.Get(sid)
	if !ok {
		return
	}
	sess := s.(*echoSession)
	h.rgate.DropMsgsWith(tcu.Label(sid))
	if sess.sgate != nil {
		sess.sgate.Release()
	}
	h.sessions.Remove(sid)
}

// serve runs the echo service until the work loop is stopped.
func serve(act *tiles.OwnActivity, wl *com.WorkLoop) error {
	rgate, err := com.NewRGate(act.Com(), com.RGateArgs{
		Order:     11,
		SlotOrder: 8,
		Sel:       kif.InvalidSel,
	})
	if err != nil {
		return err
	}
	hdl := &echoHandler{
		act:      act,
		rgate:    rgate,
		sessions: server.NewSessionContainer(16),
	}
	srv, err := server.New(act.Com(), act.ResMng(), &server.Params{
		Name:    "echo",
		Handler: hdl,
	})
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	err = srv.AddToLoop(wl)
	if err != nil {
		return err
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
		return err
	}

	wl.Run()
	return nil
}

// client opens an echo session and round-trips count messages.
func client(act *tiles.OwnActivity, count int) error {
	sess, err := act.OpenSession("echo", nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	sg, err := sess.ObtainSGate(nil)
	if err != nil {
		return err
	}
	defer sg.Release()

	reply, err := com.NewRGate(act.Com(), com.RGateArgs{
		Order: 9,
		Sel:   kif.InvalidSel,
	})
	if err != nil {
		return err
	}
	defer reply.Release()

	for i := 0; i < count; i++ {
		os := com.NewOStream()
		os.PutU64(opEcho)
		os.PutStr(fmt.Sprintf("hello %d", i))

		msg, err := sg.Call(os.Bytes(), reply)
		if err != nil {
			return err
		}
		is := com.NewIStream(reply, msg)
		code, err := is.U64()
		if err != nil {
			return err
		}
		if !tcu.Code(code).OK() {
			is.Ack()
			return tcu.Code(code)
		}
		data, err := is.Str()
		if err != nil {
			is.Ack()
			return err
		}
		fmt.Printf("echo: %s\n", data)
		is.Ack()
	}
	return nil
}
