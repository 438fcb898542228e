//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package tiles implements the activity runtime: the owned state a
// running activity builds from its environment block instead of
// process globals. It bundles the communication layer, the standard
// receive gates, the resource manager connection, the thread manager,
// and the environment variables.
package tiles

import (
	"time"

	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/env"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/session"
	"github.com/markkurossi/tilert/tcu"
	"github.com/markkurossi/tilert/thread"
)

// Params define the activity startup parameters: the tile's transport
// and multiplexer plus the environment block the activity was started
// with.
type Params struct {
	Transport tcu.Transport
	Mux       tcu.TileMux
	Env       *env.Data
	Environ   []string
	RbufOff   uint32
	RbufSize  uint32
}

// OwnActivity is the running activity.
type OwnActivity struct {
	c      *com.Com
	env    *env.Data
	vars   *env.Vars
	tmgr   *thread.Manager
	rmng   *session.ResMng
	def    *com.RGate
	upcall *com.RGate
}

// New builds the activity state from the environment.
func New(params *Params) *OwnActivity {
	c := com.New(&com.Params{
		Transport: params.Transport,
		Mux:       params.Mux,
		FirstSel:  kif.Sel(params.Env.FirstSel),
		FirstEp: tcu.EpID(params.Env.FirstStdEP) +
			tcu.FirstUserEp,
		TotalEps: tcu.TotalEps,
		RbufOff:  params.RbufOff,
		RbufSize: params.RbufSize,
	})
	def := com.StdRGate(c, tcu.DefRep, tcu.DefRbufOrd)
	act := &OwnActivity{
		c:      c,
		env:    params.Env,
		vars:   env.NewVars(params.Environ),
		tmgr:   thread.NewManager(),
		rmng:   session.NewResMng(c, kif.Sel(params.Env.RmngSel), def),
		def:    def,
		upcall: com.StdRGate(c, tcu.UpcallRep, tcu.UpcallRbufOrd),
	}
	return act
}

// Com returns the communication layer.
func (act *OwnActivity) Com() *com.Com {
	return act.c
}

// Env returns the environment block.
func (act *OwnActivity) Env() *env.Data {
	return act.env
}

// Vars returns the environment variables.
func (act *OwnActivity) Vars() *env.Vars {
	return act.vars
}

// Threads returns the cooperative thread manager.
func (act *OwnActivity) Threads() *thread.Manager {
	return act.tmgr
}

// ResMng returns the resource manager connection.
func (act *OwnActivity) ResMng() *session.ResMng {
	return act.rmng
}

// DefRGate returns the default receive gate.
func (act *OwnActivity) DefRGate() *com.RGate {
	return act.def
}

// UpcallRGate returns the kernel upcall receive gate.
func (act *OwnActivity) UpcallRGate() *com.RGate {
	return act.upcall
}

// OpenSession opens a session with the named service.
func (act *OwnActivity) OpenSession(name string,
	args *kif.ExchangeArgs) (*session.ClientSession, error) {

	return session.Open(act.c, act.rmng, name, args)
}

// AllocMem allocates a memory region through the resource manager and
// returns a memory gate for it.
func (act *OwnActivity) AllocMem(size tcu.GlobOff, perm kif.Perm) (
	*com.MGate, error) {

	sel := act.c.Sels().Alloc()
	err := act.rmng.AllocMem(sel, size, perm)
	if err != nil {
		return nil, err
	}
	return com.BindMGate(act.c, sel, size, perm), nil
}

// SleepFor suspends the tile for the duration.
func (act *OwnActivity) SleepFor(d time.Duration) {
	act.c.Mux().Wait(tcu.InvalidEp, 0, uint64(d.Nanoseconds()))
}

// Exit reports the activity's exit code to the tile multiplexer.
func (act *OwnActivity) Exit(code int) {
	act.c.Mux().Exit(code)
}
