//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package session implements the client side of services: the
// resource manager connection every activity starts with and sessions
// opened through it, including capability delegation and obtaining.
package session

import (
	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// ResMng is the connection to the resource manager. Requests go out
// on the resource manager send gate from the activity's environment;
// replies arrive on the default receive gate.
type ResMng struct {
	c     *com.Com
	sg    *com.SGate
	reply *com.RGate
}

// NewResMng creates the resource manager connection on the send gate
// capability sel, using reply as the reply gate.
func NewResMng(c *com.Com, sel kif.Sel, reply *com.RGate) *ResMng {
	return &ResMng{
		c:     c,
		sg:    com.BindSGate(c, sel),
		reply: reply,
	}
}

// call sends the request and blocks for the reply. The reply payload
// is copied out before the slot is released.
func (rm *ResMng) call(os *com.OStream) (*tcu.Source, error) {
	msg, err := rm.sg.Call(os.Bytes(), rm.reply)
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), msg.Data...)
	rm.reply.Ack(msg)

	src := tcu.NewSource(data)
	word, err := src.U64()
	if err != nil {
		return nil, err
	}
	if !tcu.Code(word).OK() {
		return nil, tcu.Code(word)
	}
	return src, nil
}

// RegServ publishes the service capability under its name.
func (rm *ResMng) RegServ(srv kif.Sel) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngRegServ))
	os.PutU64(uint64(srv))
	_, err := rm.call(os)
	return err
}

// UnregServ withdraws the service.
func (rm *ResMng) UnregServ(srv kif.Sel) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngUnregServ))
	os.PutU64(uint64(srv))
	_, err := rm.call(os)
	return err
}

// OpenSess opens a session with the named service. The session
// capability appears at dst when the service accepts.
func (rm *ResMng) OpenSess(dst kif.Sel, name string,
	args *kif.ExchangeArgs) error {

	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngOpenSess))
	os.PutU64(uint64(dst))
	os.PutStr(name)
	if args != nil {
		os.PutU64(args.Count)
		for i := uint64(0); i < args.Count; i++ {
			os.PutU64(args.Words[i])
		}
	} else {
		os.PutU64(0)
	}
	_, err := rm.call(os)
	return err
}

// CloseSess closes the session at sel.
func (rm *ResMng) CloseSess(sel kif.Sel) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngCloseSess))
	os.PutU64(uint64(sel))
	_, err := rm.call(os)
	return err
}

// AllocMem allocates a memory region and places the memory
// capability at sel.
func (rm *ResMng) AllocMem(sel kif.Sel, size tcu.GlobOff,
	perm kif.Perm) error {

	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngAllocMem))
	os.PutU64(uint64(sel))
	os.PutU64(uint64(size))
	os.PutU64(uint64(perm))
	_, err := rm.call(os)
	return err
}

// FreeMem frees the memory region at sel.
func (rm *ResMng) FreeMem(sel kif.Sel) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngFreeMem))
	os.PutU64(uint64(sel))
	_, err := rm.call(os)
	return err
}

// AddChild registers a child activity.
func (rm *ResMng) AddChild(act kif.Sel, name string) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngAddChild))
	os.PutU64(uint64(act))
	os.PutStr(name)
	_, err := rm.call(os)
	return err
}

// RemChild unregisters a child activity.
func (rm *ResMng) RemChild(act kif.Sel) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngRemChild))
	os.PutU64(uint64(act))
	_, err := rm.call(os)
	return err
}

// AllocTile requests a tile. The in-process resource manager has no
// spare tiles to hand out.
func (rm *ResMng) AllocTile(sel kif.Sel) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngAllocTile))
	os.PutU64(uint64(sel))
	_, err := rm.call(os)
	return err
}

// UseSem attaches the named global semaphore at sel, creating it on
// first use.
func (rm *ResMng) UseSem(sel kif.Sel, name string) error {
	os := com.NewOStream()
	os.PutU64(uint64(kif.ResmngUseSem))
	os.PutU64(uint64(sel))
	os.PutStr(name)
	_, err := rm.call(os)
	return err
}
