//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package kernel implements the system side of the runtime: a
// software transfer unit per tile, the fabric connecting the tiles,
// per-activity capability tables, the system call handler, and the
// resource manager. It exists so activities built on the com layer
// have a live counterpart to talk to, both inside one process and
// across a NoC link between processes.
package kernel

import (
	"sync"
	"time"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// Kernel endpoint slots on tile 0.
const (
	kSyscEp   tcu.EpID = 4
	kResmngEp tcu.EpID = 5
	kSrvRep   tcu.EpID = 6

	kFirstSendEp tcu.EpID = 8

	kSlotOrder = 9
)

// UserRbufOff is the offset of the user receive buffer space within
// the tile's receive buffer window. The standard receive buffers
// occupy the space below.
const UserRbufOff = 2048

// ActivityInfo describes a newly created activity: its transport and
// the environment values the user-space runtime needs.
type ActivityInfo struct {
	Unit         *Unit
	TileID       tcu.TileID
	ActID        tcu.ActID
	FirstFreeSel kif.Sel
	FirstUserEp  tcu.EpID
	RbufUserOff  uint32
	ResmngSel    kif.Sel
}

// pendingExchange is a client request parked while the kernel waits
// for the service to answer on the control channel. The client's
// message slot stays occupied; the reply is sent on completion.
type pendingExchange struct {
	act     *actState
	srv     *srvObj
	rep     tcu.EpID
	msgOff  uint32
	op      kif.Service
	crd     kif.CapRngDesc
	openSel kif.Sel
}

// System is an in-process tile fabric together with its kernel: the
// kernel tile runs the system call handler and the resource manager,
// user tiles host one activity each.
type System struct {
	params Params

	m           sync.Mutex
	units       map[tcu.TileID]*Unit
	acts        map[tcu.ActID]*actState
	nextTile    tcu.TileID
	nextAct     tcu.ActID
	memUsed     int
	services    map[string]*srvObj
	sems        map[string]*semObj
	pending     map[uint64]*pendingExchange
	nextPending uint64
	kSendEps    map[epLoc]tcu.EpID
	nextKSep    tcu.EpID
	bound       map[epLoc]*capEntry
	resmngRG    *rgateObj
	links       []*Link
	route       map[tcu.TileID]*Link

	kern *Unit
	stop chan struct{}
	done chan struct{}
}

// New creates a new system and starts its kernel.
func New(params *Params) *System {
	sys := &System{
		units: make(map[tcu.TileID]*Unit),
		acts:  make(map[tcu.ActID]*actState),
		services: make(map[string]*srvObj),
		sems:     make(map[string]*semObj),
		pending:  make(map[uint64]*pendingExchange),
		kSendEps: make(map[epLoc]tcu.EpID),
		nextKSep: kFirstSendEp,
		bound:    make(map[epLoc]*capEntry),
		route:    make(map[tcu.TileID]*Link),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if params != nil {
		sys.params = *params
	}
	sys.params.setDefaults()

	base := tcu.TileID(sys.params.TileBase)
	sys.nextTile = base + 1
	sys.nextAct = 1

	sys.kern = newUnit(sys, base, 0)
	sys.units[base] = sys.kern

	// Kernel receive buffers: system calls, resource manager
	// requests, and service control replies.
	syscOrd := uint32(log2ceil(sys.params.MaxActs) + kSlotOrder)
	sys.kern.configRecv(kSyscEp, 0, syscOrd, kSlotOrder)
	sys.kern.configRecv(kResmngEp, uint32(1)<<syscOrd, syscOrd, kSlotOrder)
	sys.kern.configRecv(kSrvRep, uint32(2)<<syscOrd, 12, kSlotOrder)

	sys.resmngRG = &rgateObj{
		order:     uint32(syscOrd),
		slotOrder: kSlotOrder,
		loc:       epLoc{tile: base, ep: kResmngEp},
		activated: true,
	}

	go sys.run()

	return sys
}

func log2ceil(v int) int {
	n := 0
	for 1<<n < v {
		n++
	}
	return n
}

// Close stops the kernel and shuts down the NoC links.
func (sys *System) Close() {
	close(sys.stop)
	sys.kern.m.Lock()
	sys.kern.wakeup()
	sys.kern.m.Unlock()
	<-sys.done

	sys.m.Lock()
	links := sys.links
	sys.links = nil
	sys.m.Unlock()
	for _, link := range links {
		link.Close()
	}
}

// AddActivity creates a new activity on a fresh tile.
func (sys *System) AddActivity(name string) (*ActivityInfo, error) {
	sys.m.Lock()
	defer sys.m.Unlock()

	if len(sys.acts) >= sys.params.MaxActs {
		return nil, tcu.NoFreeTile
	}
	tile := sys.nextTile
	sys.nextTile++
	id := sys.nextAct
	sys.nextAct++

	unit := newUnit(sys, tile, id)
	sys.units[tile] = unit

	act := &actState{
		id:      id,
		tile:    tile,
		name:    name,
		unit:    unit,
		caps:    make(map[kif.Sel]*capEntry),
		epsUsed: make([]bool, sys.params.TotalEps),
	}
	for i := 0; i < int(tcu.FirstUserEp); i++ {
		act.epsUsed[i] = true
	}
	sys.acts[id] = act

	// Standard endpoints: system call channel and the standard
	// receive buffers.
	unit.configSend(tcu.SyscSep, sys.kern.tile, kSyscEp, tcu.Label(id),
		1, 1, kSlotOrder)
	unit.configRecv(tcu.SyscRep, 0, tcu.SyscRbufOrd, tcu.SyscRbufOrd)
	unit.configRecv(tcu.UpcallRep, 1<<tcu.SyscRbufOrd,
		tcu.UpcallRbufOrd, tcu.UpcallRbufOrd)
	unit.configRecv(tcu.DefRep,
		(1<<tcu.SyscRbufOrd)+(1<<tcu.UpcallRbufOrd),
		tcu.DefRbufOrd, tcu.DefRbufOrd)

	// Base capabilities.
	act.insert(&capEntry{kind: capActivity, sel: kif.SelAct})
	act.insert(&capEntry{kind: capTile, sel: kif.SelTile})
	act.insert(&capEntry{kind: capKMem, sel: kif.SelKMem})
	act.insert(&capEntry{
		kind: capSGate,
		sel:  kif.SelResmngSG,
		obj: &sgateObj{
			rgate:   sys.resmngRG,
			label:   tcu.Label(id),
			credits: 1,
			budget:  1,
		},
	})

	return &ActivityInfo{
		Unit:         unit,
		TileID:       tile,
		ActID:        id,
		FirstFreeSel: kif.FirstFreeSel,
		FirstUserEp:  tcu.FirstUserEp,
		RbufUserOff:  UserRbufOff,
		ResmngSel:    kif.SelResmngSG,
	}, nil
}

// RemoveActivity revokes all capabilities of the activity and
// invalidates its endpoints.
func (sys *System) RemoveActivity(id tcu.ActID) {
	sys.m.Lock()
	defer sys.m.Unlock()

	act, ok := sys.acts[id]
	if !ok {
		return
	}
	for _, entry := range act.caps {
		if entry.parent == nil {
			sys.revokeEntry(entry, true)
		}
	}
	delete(sys.acts, id)
	delete(sys.units, act.tile)
}

func (sys *System) unit(tile tcu.TileID) *Unit {
	sys.m.Lock()
	defer sys.m.Unlock()

	return sys.units[tile]
}

// deliver routes a message to the receive endpoint of its target
// tile, possibly across a NoC link.
func (sys *System) deliver(tile tcu.TileID, ep tcu.EpID, hdr tcu.Header,
	data []byte, orig origin) error {

	unit := sys.unit(tile)
	if unit == nil {
		return sys.deliverRemote(tile, ep, hdr, data, orig)
	}
	return unit.deliver(ep, hdr, data, orig)
}

// returnCredit restores one credit to the bounded send endpoint a
// message originated from.
func (sys *System) returnCredit(orig origin) {
	if !orig.bounded {
		return
	}
	if sys.unit(orig.tile) == nil {
		sys.creditRemote(orig)
		return
	}
	sys.applyCredit(orig)
}

// allocMem allocates a kernel memory region within the quota.
func (sys *System) allocMem(size tcu.GlobOff) (*MemObj, error) {
	sys.m.Lock()
	defer sys.m.Unlock()

	if sys.memUsed+int(size) > sys.params.MemQuota {
		return nil, tcu.OutOfMem
	}
	sys.memUsed += int(size)
	return newMemObj(size), nil
}

// kernSendEp returns a kernel send endpoint configured for the given
// receive gate location, creating one on first use.
func (sys *System) kernSendEp(loc epLoc, slotOrder uint32) (tcu.EpID, error) {
	sys.m.Lock()
	defer sys.m.Unlock()

	ep, ok := sys.kSendEps[loc]
	if ok {
		return ep, nil
	}
	if int(sys.nextKSep) >= sys.params.TotalEps {
		return 0, tcu.NoSpace
	}
	ep = sys.nextKSep
	sys.nextKSep++
	sys.kSendEps[loc] = ep
	sys.kern.configSend(ep, loc.tile, loc.ep, 0, kif.UnlimCredits,
		kif.UnlimCredits, slotOrder)
	return ep, nil
}

// run is the kernel loop: it serves system calls, resource manager
// requests, and service control replies.
func (sys *System) run() {
	defer close(sys.done)

	for {
		select {
		case <-sys.stop:
			return
		default:
		}
		sys.kern.WaitForAny(10 * time.Millisecond)
		sys.kern.FetchEvents()

		for {
			off, ok := sys.kern.FetchMsg(kSyscEp)
			if !ok {
				break
			}
			sys.handleSyscall(off)
		}
		for {
			off, ok := sys.kern.FetchMsg(kResmngEp)
			if !ok {
				break
			}
			sys.handleResmng(off)
		}
		for {
			off, ok := sys.kern.FetchMsg(kSrvRep)
			if !ok {
				break
			}
			sys.handleServiceReply(off)
		}
	}
}

func (sys *System) kernMsg(ep tcu.EpID, off uint32) (tcu.Header, *tcu.Source) {
	mem := sys.kern.RbufSpace()
	hdr := tcu.ParseHeader(mem[off:])
	data := mem[off+tcu.HeaderSize : off+tcu.HeaderSize+uint32(hdr.Length)]
	return hdr, tcu.NewSource(data)
}

func (sys *System) act(id tcu.ActID) *actState {
	sys.m.Lock()
	defer sys.m.Unlock()

	return sys.acts[id]
}
