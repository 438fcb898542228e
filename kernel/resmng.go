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

// handleResmng serves one resource manager request. The wire format
// mirrors the system call channel: an opcode word followed by the
// argument words, replied with an error word and the results.
func (sys *System) handleResmng(off uint32) {
	mem := sys.kern.RbufSpace()
	hdr := tcu.ParseHeader(mem[off:])
	data := mem[off+tcu.HeaderSize : off+tcu.HeaderSize+uint32(hdr.Length)]
	src := tcu.NewSource(data)

	act := sys.act(tcu.ActID(hdr.Label))
	if act == nil {
		sys.kreplyEp(kResmngEp, off, tcu.ActivityGone, nil)
		return
	}
	opWord, err := src.U64()
	if err != nil {
		sys.kreplyEp(kResmngEp, off, err, nil)
		return
	}
	op := kif.Resmng(opWord)

	done := true
	switch op {
	case kif.ResmngRegServ:
		err = sys.rmRegServ(act, src)
	case kif.ResmngUnregServ:
		err = sys.rmUnregServ(act, src)
	case kif.ResmngOpenSess:
		done, err = sys.rmOpenSess(act, src, off)
	case kif.ResmngCloseSess:
		done, err = sys.rmCloseSess(act, src, off)
	case kif.ResmngAllocMem:
		err = sys.rmAllocMem(act, src)
	case kif.ResmngFreeMem:
		err = sys.rmFreeMem(act, src)
	case kif.ResmngUseSem:
		err = sys.rmUseSem(act, src)

	case kif.ResmngAllocTile:
		err = tcu.NoFreeTile
	case kif.ResmngFreeTile, kif.ResmngAddChild, kif.ResmngRemChild:

	case kif.ResmngUseRGate, kif.ResmngUseSGate, kif.ResmngUseMod:
		err = tcu.NotSup

	default:
		err = tcu.InvArgs
	}
	if !done && err == nil {
		return
	}
	sys.ktraceResmng(act, op, err)
	sys.kreplyEp(kResmngEp, off, err, nil)
}

// reg_serv: {sel}. Publishes the service capability under its name so
// clients can open sessions against it.
func (sys *System) rmRegServ(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	entry, err := act.get(kif.Sel(sel), capSrv)
	if err != nil {
		return err
	}
	srv := entry.obj.(*srvObj)
	_, ok := sys.services[srv.name]
	if ok {
		return tcu.Exists
	}
	sys.services[srv.name] = srv
	return nil
}

// unreg_serv: {sel}.
func (sys *System) rmUnregServ(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	entry, err := act.get(kif.Sel(sel), capSrv)
	if err != nil {
		return err
	}
	srv := entry.obj.(*srvObj)
	if sys.services[srv.name] != srv {
		return tcu.NotFound
	}
	delete(sys.services, srv.name)
	return nil
}

// open_sess: {dstSel, name, argCount, args...}. The open request is
// forwarded to the service; the session capability the service
// creates is handed to the client when the service answers.
func (sys *System) rmOpenSess(act *actState, src *tcu.Source,
	off uint32) (bool, error) {

	dstSel, err := src.U64()
	if err != nil {
		return true, err
	}
	name, err := src.Str()
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

	sys.m.Lock()
	srv, ok := sys.services[name]
	if !ok {
		sys.m.Unlock()
		return true, tcu.NotFound
	}
	if !srv.rgate.activated {
		sys.m.Unlock()
		return true, tcu.RecvGone
	}
	loc := srv.rgate.loc
	slotOrder := srv.rgate.slotOrder

	pid := sys.nextPending
	sys.nextPending++
	sys.pending[pid] = &pendingExchange{
		act:     act,
		srv:     srv,
		rep:     kResmngEp,
		msgOff:  off,
		op:      kif.ServiceOpen,
		openSel: kif.Sel(dstSel),
	}
	sys.m.Unlock()

	sys.ktraceService(srv, kif.ServiceOpen, 0)

	err = sys.serviceCtrl(loc, slotOrder, kif.ServiceOpen, 0, &xargs,
		pid)
	if err != nil {
		sys.m.Lock()
		delete(sys.pending, pid)
		sys.m.Unlock()
		return true, err
	}
	return false, nil
}

// close_sess: {sel}. The service is notified; the client's session
// capability is revoked when it acknowledges.
func (sys *System) rmCloseSess(act *actState, src *tcu.Source,
	off uint32) (bool, error) {

	sel, err := src.U64()
	if err != nil {
		return true, err
	}

	sys.m.Lock()
	entry, err := act.get(kif.Sel(sel), capSess)
	if err != nil {
		sys.m.Unlock()
		return true, err
	}
	sess := entry.obj.(*sessObj)
	srv := sess.srv
	if !srv.rgate.activated {
		// The service is gone; drop the capability locally.
		sys.revokeEntry(entry, true)
		sys.m.Unlock()
		return true, nil
	}
	loc := srv.rgate.loc
	slotOrder := srv.rgate.slotOrder

	pid := sys.nextPending
	sys.nextPending++
	sys.pending[pid] = &pendingExchange{
		act:     act,
		srv:     srv,
		rep:     kResmngEp,
		msgOff:  off,
		op:      kif.ServiceClose,
		openSel: kif.Sel(sel),
	}
	ident := sess.ident
	sys.m.Unlock()

	sys.ktraceService(srv, kif.ServiceClose, ident)

	err = sys.serviceCtrl(loc, slotOrder, kif.ServiceClose, ident, nil,
		pid)
	if err != nil {
		sys.m.Lock()
		delete(sys.pending, pid)
		sys.m.Unlock()
		return true, err
	}
	return false, nil
}

// alloc_mem: {sel, size, perm}. Allocates a memory region within the
// kernel quota and inserts a memory capability for it.
func (sys *System) rmAllocMem(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
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
	if size == 0 || kif.Perm(perm)&^kif.PermRWX != 0 {
		return tcu.InvArgs
	}

	mem, err := sys.allocMem(tcu.GlobOff(size))
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	err = act.insert(&capEntry{
		kind: capMGate,
		sel:  kif.Sel(sel),
		obj: &mgateObj{
			mem:  mem,
			size: tcu.GlobOff(size),
			perm: kif.Perm(perm),
		},
	})
	if err != nil {
		sys.memUsed -= int(size)
		return err
	}
	return nil
}

// free_mem: {sel}. Only root allocations return quota; derived
// regions just lose the capability.
func (sys *System) rmFreeMem(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
	if err != nil {
		return err
	}

	sys.m.Lock()
	defer sys.m.Unlock()

	entry, err := act.get(kif.Sel(sel), capMGate)
	if err != nil {
		return err
	}
	mg := entry.obj.(*mgateObj)
	if entry.parent == nil {
		sys.memUsed -= int(mg.size)
	}
	sys.revokeEntry(entry, true)
	return nil
}

// use_sem: {sel, name}. Attaches the named global semaphore, creating
// it on first use. Activities sharing the name share the semaphore.
func (sys *System) rmUseSem(act *actState, src *tcu.Source) error {
	sel, err := src.U64()
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

	sem, ok := sys.sems[name]
	if !ok {
		sem = &semObj{}
		sys.sems[name] = sem
	}
	return act.insert(&capEntry{
		kind: capSem,
		sel:  kif.Sel(sel),
		obj:  sem,
	})
}

// serviceCtrl sends a control message to the service's receive gate.
// The pending id travels as the reply label so the answer on the
// control reply endpoint finds its request.
func (sys *System) serviceCtrl(loc epLoc, slotOrder uint32,
	op kif.Service, ident uint64, xargs *kif.ExchangeArgs,
	pid uint64) error {

	sep, err := sys.kernSendEp(loc, slotOrder)
	if err != nil {
		return err
	}
	sink := tcu.NewSink(make([]byte, 0, 8*(3+kif.MaxExchangeArgs)))
	sink.PutU64(uint64(op))
	sink.PutU64(ident)
	if xargs != nil {
		sink.PutU64(xargs.Count)
		for i := uint64(0); i < xargs.Count; i++ {
			sink.PutU64(xargs.Words[i])
		}
	} else {
		sink.PutU64(0)
	}
	return sys.kern.SendAligned(sep, sink.Bytes(), tcu.Label(pid),
		kSrvRep)
}

// handleServiceReply completes a parked client request when the
// service answers a control message. The reply payload is {err, data,
// argCount, args...} where data is the session selector for open and
// the capability range for obtain and delegate.
func (sys *System) handleServiceReply(off uint32) {
	mem := sys.kern.RbufSpace()
	hdr := tcu.ParseHeader(mem[off:])
	data := mem[off+tcu.HeaderSize : off+tcu.HeaderSize+uint32(hdr.Length)]
	src := tcu.NewSource(data)
	sys.kern.AckMsg(kSrvRep, off)

	sys.m.Lock()
	pend, ok := sys.pending[uint64(hdr.Label)]
	if ok {
		delete(sys.pending, uint64(hdr.Label))
	}
	sys.m.Unlock()
	if !ok {
		return
	}

	errWord, err := src.U64()
	if err == nil && errWord != 0 {
		err = tcu.Code(errWord)
	}
	var dataWord uint64
	if err == nil {
		dataWord, err = src.U64()
	}
	var results []uint64
	if err == nil {
		results, err = sys.completeExchange(pend, dataWord, src)
	}
	sys.kreplyEp(pend.rep, pend.msgOff, err, results)
}

// completeExchange applies the capability transfer of a finished
// service exchange and builds the client's result words.
func (sys *System) completeExchange(pend *pendingExchange,
	dataWord uint64, src *tcu.Source) ([]uint64, error) {

	sys.m.Lock()
	defer sys.m.Unlock()

	switch pend.op {
	case kif.ServiceOpen:
		entry, err := pend.srv.owner.get(kif.Sel(dataWord), capSess)
		if err != nil {
			return nil, err
		}
		return nil, sys.cloneEntry(entry, pend.act, pend.openSel)

	case kif.ServiceClose:
		entry, err := pend.act.get(pend.openSel, capSess)
		if err == nil {
			sys.revokeEntry(entry, true)
		}
		return nil, nil

	case kif.ServiceObtain, kif.ServiceDelegate:
		srvCrd := kif.ParseCRD(dataWord)
		count := pend.crd.Count
		if srvCrd.Count < count {
			count = srvCrd.Count
		}
		for i := uint64(0); i < count; i++ {
			var err error
			if pend.op == kif.ServiceObtain {
				entry, ok := pend.srv.owner.caps[srvCrd.Start+kif.Sel(i)]
				if !ok {
					return nil, tcu.NotFound
				}
				err = sys.cloneEntry(entry, pend.act,
					pend.crd.Start+kif.Sel(i))
			} else {
				entry, ok := pend.act.caps[pend.crd.Start+kif.Sel(i)]
				if !ok {
					return nil, tcu.NotFound
				}
				err = sys.cloneEntry(entry, pend.srv.owner,
					srvCrd.Start+kif.Sel(i))
			}
			if err != nil {
				return nil, err
			}
		}
		count, err := src.U64()
		if err != nil || count > kif.MaxExchangeArgs {
			// No argument words in the reply.
			return []uint64{0}, nil
		}
		results := make([]uint64, 0, 1+count)
		results = append(results, count)
		for i := uint64(0); i < count; i++ {
			word, err := src.U64()
			if err != nil {
				return nil, err
			}
			results = append(results, word)
		}
		return results, nil
	}
	return nil, tcu.InvArgs
}

// cloneEntry inserts a copy of the capability into the target
// activity's table. The clone shares the object and is a child of the
// source for revocation.
func (sys *System) cloneEntry(src *capEntry, dst *actState,
	sel kif.Sel) error {

	return dst.insert(&capEntry{
		kind:   src.kind,
		sel:    sel,
		parent: src,
		obj:    src.obj,
	})
}
