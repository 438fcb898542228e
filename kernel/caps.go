//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"fmt"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

type capKind int

// Capability kinds.
const (
	capActivity capKind = iota
	capTile
	capKMem
	capEP
	capSGate
	capRGate
	capMGate
	capSrv
	capSess
	capSem
)

var capKindNames = map[capKind]string{
	capActivity: "act",
	capTile:     "tile",
	capKMem:     "kmem",
	capEP:       "ep",
	capSGate:    "sgate",
	capRGate:    "rgate",
	capMGate:    "mgate",
	capSrv:      "srv",
	capSess:     "sess",
	capSem:      "sem",
}

func (kind capKind) String() string {
	name, ok := capKindNames[kind]
	if ok {
		return name
	}
	return fmt.Sprintf("{capKind %d}", int(kind))
}

// epLoc names one endpoint slot in the system.
type epLoc struct {
	tile tcu.TileID
	ep   tcu.EpID
}

// capEntry is one slot in an activity's capability table. Entries
// form a derivation tree: revocation is recursive over children.
type capEntry struct {
	kind     capKind
	sel      kif.Sel
	owner    *actState
	parent   *capEntry
	children []*capEntry
	obj      any
	bound    *epLoc
}

type rgateObj struct {
	order     uint32
	slotOrder uint32
	loc       epLoc
	activated bool
}

type sgateObj struct {
	rgate   *rgateObj
	label   tcu.Label
	credits uint32
	budget  uint32
}

type mgateObj struct {
	mem  *MemObj
	off  tcu.GlobOff
	size tcu.GlobOff
	perm kif.Perm
}

type epObj struct {
	ep tcu.EpID
}

type srvObj struct {
	name  string
	owner *actState
	rgate *rgateObj
}

type sessObj struct {
	srv       *srvObj
	ident     uint64
	autoClose bool
}

// semObj is a counting semaphore. Down operations that cannot
// proceed park the message offset of the system call; the reply is
// sent when a matching up arrives.
type semObj struct {
	count   uint32
	waiters []uint32
}

// actState is the kernel-side bookkeeping of one activity.
type actState struct {
	id      tcu.ActID
	tile    tcu.TileID
	name    string
	unit    *Unit
	caps    map[kif.Sel]*capEntry
	epsUsed []bool
}

func (act *actState) insert(entry *capEntry) error {
	_, ok := act.caps[entry.sel]
	if ok {
		return tcu.Exists
	}
	entry.owner = act
	act.caps[entry.sel] = entry
	if entry.parent != nil {
		entry.parent.children = append(entry.parent.children, entry)
	}
	return nil
}

func (act *actState) get(sel kif.Sel, kind capKind) (*capEntry, error) {
	entry, ok := act.caps[sel]
	if !ok {
		return nil, tcu.NotFound
	}
	if entry.kind != kind {
		return nil, tcu.InvArgs
	}
	return entry, nil
}

// allocEp reserves an endpoint slot for the activity. If ep is
// InvalidEp, any free user slot is chosen.
func (act *actState) allocEp(ep tcu.EpID) (tcu.EpID, error) {
	if ep != tcu.InvalidEp {
		if int(ep) >= len(act.epsUsed) || ep < tcu.FirstUserEp {
			return 0, tcu.InvArgs
		}
		if act.epsUsed[ep] {
			return 0, tcu.Exists
		}
		act.epsUsed[ep] = true
		return ep, nil
	}
	for i := int(tcu.FirstUserEp); i < len(act.epsUsed); i++ {
		if !act.epsUsed[i] {
			act.epsUsed[i] = true
			return tcu.EpID(i), nil
		}
	}
	return 0, tcu.NoSpace
}

// revokeEntry removes the entry and, recursively, all capabilities
// derived from it. Bound endpoints are invalidated on their units.
func (sys *System) revokeEntry(entry *capEntry, own bool) {
	for len(entry.children) > 0 {
		child := entry.children[len(entry.children)-1]
		sys.revokeEntry(child, true)
	}
	if !own {
		return
	}
	if entry.bound != nil {
		unit := sys.units[entry.bound.tile]
		if unit != nil {
			credits, bounded := unit.invalidate(entry.bound.ep, true)
			sg, ok := entry.obj.(*sgateObj)
			if ok && bounded {
				sg.credits = credits
			}
		}
		delete(sys.bound, *entry.bound)
		entry.bound = nil
	}
	if entry.kind == capRGate {
		rg := entry.obj.(*rgateObj)
		rg.activated = false
	}
	if entry.parent != nil {
		siblings := entry.parent.children
		for i, c := range siblings {
			if c == entry {
				entry.parent.children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		entry.parent = nil
	}
	delete(entry.owner.caps, entry.sel)
}
