//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// handleSyscall serves one system call message. The first payload
// word is the opcode, the reply carries an error word followed by the
// result words. Calls that must wait for another party keep the
// message slot occupied and reply when the condition resolves.
func (sys *System) handleSyscall(off uint32) {
	mem := sys.kern.RbufSpace()
	hdr := tcu.ParseHeader(mem[off:])
	data := mem[off+tcu.HeaderSize : off+tcu.HeaderSize+uint32(hdr.Length)]
	src := tcu.NewSource(data)

	act := sys.act(tcu.ActID(hdr.Label))
	if act == nil {
		sys.kreply(off, tcu.ActivityGone, nil)
		return
	}
	opWord, err := src.U64()
	if err != nil {
		sys.kreply(off, err, nil)
		return
	}
	call := kif.Syscall(opWord)
	if len(data) > 8 {
		sys.ktraceCall(act, call, data[8:])
	} else {
		sys.ktraceCall(act, call, nil)
	}

	var results []uint64
	done := true

	switch call {
	case kif.SysCreateSrv:
		err = sys.sysCreateSrv(act, src)
	case kif.SysCreateSess:
		err = sys.sysCreateSess(act, src)
	case kif.SysCreateSGate:
		err = sys.sysCreateSGate(act, src)
	case kif.SysCreateRGate:
		err = sys.sysCreateRGate(act, src)
	case kif.SysCreateSem:
		err = sys.sysCreateSem(act, src)
	case kif.SysAllocEP:
		results, err = sys.sysAllocEP(act, src)
	case kif.SysDeriveMem:
		err = sys.sysDeriveMem(act, src)
	case kif.SysActivate:
		err = sys.sysActivate(act, src)
	case kif.SysSemCtrl:
		done, err = sys.sysSemCtrl(act, src, off)
	case kif.SysExchangeSess:
		done, err = sys.sysExchangeSess(act, src, off)
	case kif.SysRevoke:
		err = sys.sysRevoke(act, src)
	case kif.SysRGateBuffer:
		results, err = sys.sysRGateBuffer(act, src)
	case kif.SysNoop:

	case kif.SysCreateMGate, kif.SysExchange:
		err = tcu.NotSup

	default:
		err = tcu.InvArgs
	}
	if !done && err == nil {
		return
	}
	sys.ktraceRet(act, call, err, results)
	sys.kreply(off, err, results)
}

// kreply sends the system call reply: an error word followed by the
// result words. Replying frees the message slot and returns the
// caller's system call credit.
func (sys *System) kreply(off uint32, err error, results []uint64) {
	sys.kreplyEp(kSyscEp, off, err, results)
}

func (sys *System) kreplyEp(ep tcu.EpID, off uint32, err error,
	results []uint64) {

	sink := tcu.NewSink(make([]byte, 0, 8*(1+len(results))))
	sink.PutU64(uint64(tcu.ErrorCode(err)))
	for _, v := range results {
		sink.PutU64(v)
	}
	sys.kern.ReplyAligned(ep, sink.Bytes(), off)
}

// create_srv: {sel, rgateSel, name}. The receive gate must be
// activated; it is where the kernel sends session control messages.
func (sys *System) sysCreateSrv(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}
	rgateSel, err := src.U64()
	if err != nil {
		return err
	}
	name, err := src.Str()
	if err != nil {
		return err
	}
	if len(name) == 0 {
		return tcu.InvArgs
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	rgEntry, err := act.get(kif.Sel(rgateSel), capRGate)
	if err != nil {
		return err
	}
	rg := rgEntry.obj.(*rgateObj)
	if !rg.activated {
		return tcu.InvArgs
	}
	return act.insert(&capEntry{
		kind: capSrv,
		sel:  kif.Sel(sel),
		obj: &srvObj{
			name:  name,
			owner: act,
			rgate: rg,
		},
	})
}

// create_sess: {sel, srvSel, ident, autoClose}. The service creates
// the session object; the capability is handed to the client in the
// open reply.
func (sys *System) sysCreateSess(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}
	srvSel, err := src.U64()
	if err != nil {
		return err
	}
	ident, err := src.U64()
	if err != nil {
		return err
	}
	autoClose, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	srvEntry, err := act.get(kif.Sel(srvSel), capSrv)
	if err != nil {
		return err
	}
	srv := srvEntry.obj.(*srvObj)
	return act.insert(&capEntry{
		kind:   capSess,
		sel:    kif.Sel(sel),
		parent: srvEntry,
		obj: &sessObj{
			srv:       srv,
			ident:     ident,
			autoClose: autoClose != 0,
		},
	})
}

// create_sgate: {sel, rgateSel, label, credits}. The send capability
// is derived from the receive gate so that revoking the gate revokes
// all senders.
func (sys *System) sysCreateSGate(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}
	rgateSel, err := src.U64()
	if err != nil {
		return err
	}
	label, err := src.U64()
	if err != nil {
		return err
	}
	credits, err := src.U64()
	if err != nil {
		return err
	}
	if credits > uint64(kif.UnlimCredits) {
		return tcu.InvArgs
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	rgEntry, err := act.get(kif.Sel(rgateSel), capRGate)
	if err != nil {
		return err
	}
	rg := rgEntry.obj.(*rgateObj)
	return act.insert(&capEntry{
		kind:   capSGate,
		sel:    kif.Sel(sel),
		parent: rgEntry,
		obj: &sgateObj{
			rgate:   rg,
			label:   tcu.Label(label),
			credits: uint32(credits),
			budget:  uint32(credits),
		},
	})
}

// create_rgate: {sel, order, slotOrder}. The buffer layout is fixed
// at creation time; the buffer itself is attached on activate.
func (sys *System) sysCreateRGate(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}
	order, err := src.U64()
	if err != nil {
		return err
	}
	slotOrder, err := src.U64()
	if err != nil {
		return err
	}
	if slotOrder < 5 || order < slotOrder || order > 20 ||
		order-slotOrder > 15 {
		return tcu.InvArgs
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	return act.insert(&capEntry{
		kind: capRGate,
		sel:  kif.Sel(sel),
		obj: &rgateObj{
			order:     uint32(order),
			slotOrder: uint32(slotOrder),
		},
	})
}

// create_sem: {sel, value}.
func (sys *System) sysCreateSem(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}
	value, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	return act.insert(&capEntry{
		kind: capSem,
		sel:  kif.Sel(sel),
		obj: &semObj{
			count: uint32(value),
		},
	})
}

// alloc_ep: {sel, ep} -> {ep}. An InvalidEp argument picks any free
// user slot.
func (sys *System) sysAllocEP(act *actState, src *tcu.Source) (
	[]uint64, error) {

	sel, err := src.U64()
	if err != nil {
		return nil, err
	}
	epArg, err := src.U64()
	if err != nil {
		return nil, err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	ep, err := act.allocEp(tcu.EpID(epArg))
	if err != nil {
		return nil, err
	}
	err = act.insert(&capEntry{
		kind: capEP,
		sel:  kif.Sel(sel),
		obj: &epObj{
			ep: ep,
		},
	})
	if err != nil {
		act.epsUsed[ep] = false
		return nil, err
	}
	return []uint64{uint64(ep)}, nil
}

// derive_mem: {dstSel, srcSel, off, size, perm}. The derived region
// must lie within the source and may only narrow the permissions.
func (sys *System) sysDeriveMem(act *actState, src *tcu.Source) error {
	dstSel, err := src.U64()
	if err != nil {
		return err
	}
	srcSel, err := src.U64()
	if err != nil {
		return err
	}
	off, err := src.U64()
	if err != nil {
		return err
	}
	size, err := src.U64()
	if err != nil {
		return err
	}
	perm, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	srcEntry, err := act.get(kif.Sel(srcSel), capMGate)
	if err != nil {
		return err
	}
	mg := srcEntry.obj.(*mgateObj)
	if size == 0 || tcu.GlobOff(off)+tcu.GlobOff(size) > mg.size {
		return tcu.InvArgs
	}
	if kif.Perm(perm)&^mg.perm != 0 {
		return tcu.NoPerm
	}
	return act.insert(&capEntry{
		kind:   capMGate,
		sel:    kif.Sel(dstSel),
		parent: srcEntry,
		obj: &mgateObj{
			mem:  mg.mem,
			off:  mg.off + tcu.GlobOff(off),
			size: tcu.GlobOff(size),
			perm: kif.Perm(perm),
		},
	})
}

// activate: {epSel, gateSel, rbufOff}. Binds the gate capability to
// the endpoint slot, replacing any previous binding. An InvalidSel
// gate just frees the slot.
func (sys *System) sysActivate(act *actState, src *tcu.Source) error {
	epSel, err := src.U64()
	if err != nil {
		return err
	}
	gateSel, err := src.U64()
	if err != nil {
		return err
	}
	rbufOff, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	epEntry, err := act.get(kif.Sel(epSel), capEP)
	if err != nil {
		return err
	}
	ep := epEntry.obj.(*epObj).ep
	loc := epLoc{
		tile: act.tile,
		ep:   ep,
	}
	prev, ok := sys.bound[loc]
	if ok {
		credits, bounded := act.unit.invalidate(ep, false)
		sg, isSG := prev.obj.(*sgateObj)
		if isSG && bounded {
			sg.credits = credits
		}
		if prev.kind == capRGate {
			prev.obj.(*rgateObj).activated = false
		}
		prev.bound = nil
		delete(sys.bound, loc)
	}
	if kif.Sel(gateSel) == kif.InvalidSel {
		return nil
	}

	entry, ok := act.caps[kif.Sel(gateSel)]
	if !ok {
		return tcu.NotFound
	}
	if entry.bound != nil {
		return tcu.Exists
	}
	switch entry.kind {
	case capSGate:
		sg := entry.obj.(*sgateObj)
		if !sg.rgate.activated {
			return tcu.RecvGone
		}
		credits := sg.credits
		if sg.budget == kif.UnlimCredits {
			credits = kif.UnlimCredits
		}
		act.unit.configSend(ep, sg.rgate.loc.tile, sg.rgate.loc.ep,
			sg.label, credits, sg.budget, sg.rgate.slotOrder)

	case capRGate:
		rg := entry.obj.(*rgateObj)
		if rg.activated {
			return tcu.Exists
		}
		if rbufOff < UserRbufOff ||
			rbufOff+uint64(1)<<rg.order > uint64(sys.params.RbufSpaceSize) {
			return tcu.InvArgs
		}
		act.unit.configRecv(ep, uint32(rbufOff), rg.order, rg.slotOrder)
		rg.loc = loc
		rg.activated = true

	case capMGate:
		mg := entry.obj.(*mgateObj)
		act.unit.configMem(ep, mg.mem, mg.off, mg.size, mg.perm)

	default:
		return tcu.InvArgs
	}
	entry.bound = &epLoc{
		tile: loc.tile,
		ep:   loc.ep,
	}
	sys.bound[loc] = entry
	return nil
}

// sem_ctrl: {sel, op} with op 0 for up and 1 for down. A down on a
// zero count parks the caller until a matching up arrives.
func (sys *System) sysSemCtrl(act *actState, src *tcu.Source,
	off uint32) (bool, error) {

	sel, err := src.U64()
	if err != nil {
		return true, err
	}
	dir, err := src.U64()
	if err != nil {
		return true, err
	}

	sys.m.Lock()
	entry, err := act.get(kif.Sel(sel), capSem)
	if err != nil {
		sys.m.Unlock()
		return true, err
	}
	sem := entry.obj.(*semObj)

	switch dir {
	case 0:
		if len(sem.waiters) > 0 {
			waiter := sem.waiters[0]
			sem.waiters = sem.waiters[1:]
			sys.m.Unlock()
			sys.kreply(waiter, nil, nil)
			return true, nil
		}
		sem.count++
		sys.m.Unlock()
		return true, nil

	case 1:
		if sem.count > 0 {
			sem.count--
			sys.m.Unlock()
			return true, nil
		}
		sem.waiters = append(sem.waiters, off)
		sys.m.Unlock()
		return false, nil

	default:
		sys.m.Unlock()
		return true, tcu.InvArgs
	}
}

// exchange_sess: {obtain, sessSel, crd, argCount, args...}. The
// request is forwarded to the session's service; the reply is sent
// when the service answers on the control channel.
func (sys *System) sysExchangeSess(act *actState, src *tcu.Source,
	off uint32) (bool, error) {

	obtain, err := src.U64()
	if err != nil {
		return true, err
	}
	sessSel, err := src.U64()
	if err != nil {
		return true, err
	}
	crdRaw, err := src.U64()
	if err != nil {
		return true, err
	}
	var xargs kif.ExchangeArgs
	count, err := src.U64()
	if err != nil {
		return true, err
	}
	if count > kif.MaxExchangeArgs {
		return true, tcu.InvArgs
	}
	for i := uint64(0); i < count; i++ {
		word, err := src.U64()
		if err != nil {
			return true, err
		}
		xargs.Push(word)
	}
	crd := kif.ParseCRD(crdRaw)
	if crd.Count == 0 {
		return true, tcu.InvArgs
	}

	sys.m.Lock()
	entry, err := act.get(kif.Sel(sessSel), capSess)
	if err != nil {
		sys.m.Unlock()
		return true, err
	}
	sess := entry.obj.(*sessObj)
	srv := sess.srv
	if !srv.rgate.activated {
		sys.m.Unlock()
		return true, tcu.RecvGone
	}
	loc := srv.rgate.loc
	slotOrder := srv.rgate.slotOrder

	op := kif.ServiceDelegate
	if obtain != 0 {
		op = kif.ServiceObtain
	}
	pid := sys.nextPending
	sys.nextPending++
	sys.pending[pid] = &pendingExchange{
		act:    act,
		srv:    srv,
		rep:    kSyscEp,
		msgOff: off,
		op:     op,
		crd:    crd,
	}
	ident := sess.ident
	sys.m.Unlock()

	sys.ktraceService(srv, op, ident)

	sep, err := sys.kernSendEp(loc, slotOrder)
	if err == nil {
		sink := tcu.NewSink(make([]byte, 0, 8*(3+kif.MaxExchangeArgs)))
		sink.PutU64(uint64(op))
		sink.PutU64(ident)
		sink.PutU64(xargs.Count)
		for i := uint64(0); i < xargs.Count; i++ {
			sink.PutU64(xargs.Words[i])
		}
		err = sys.kern.SendAligned(sep, sink.Bytes(), tcu.Label(pid),
			kSrvRep)
	}
	if err != nil {
		sys.m.Lock()
		delete(sys.pending, pid)
		sys.m.Unlock()
		return true, err
	}
	return false, nil
}

// revoke: {crd, own}. Reserved selectors are not revocable.
func (sys *System) sysRevoke(act *actState, src *tcu.Source) error {
	crdRaw, err := src.U64()
	if err != nil {
		return err
	}
	own, err := src.U64()
	if err != nil {
		return err
	}
	crd := kif.ParseCRD(crdRaw)
	if crd.Type != kif.CapObj {
		return tcu.NotSup
	}
	if crd.Start < kif.FirstFreeSel {
		return tcu.NotRevocable
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	for i := uint64(0); i < crd.Count; i++ {
		entry, ok := act.caps[crd.Start+kif.Sel(i)]
		if !ok {
			continue
		}
		sys.revokeEntry(entry, own != 0)
	}
	return nil
}

// rgate_buffer: {sel} -> {order, slotOrder}.
func (sys *System) sysRGateBuffer(act *actState, src *tcu.Source) (
	[]uint64, error) {

	sel, err := src.U64()
	if err != nil {
		return nil, err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	entry, err := act.get(kif.Sel(sel), capRGate)
	if err != nil {
		return nil, err
	}
	rg := entry.obj.(*rgateObj)
	return []uint64{uint64(rg.order), uint64(rg.slotOrder)}, nil
}
