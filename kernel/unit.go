//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"sync"
	"time"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

type epKind int

// Endpoint slot states.
const (
	epInvalid epKind = iota
	epSend
	epRecv
	epMem
)

type slotState int

// Receive buffer slot states.
const (
	slotFree slotState = iota
	slotUnread
	slotOccupied
)

// origin identifies the send endpoint a message was sent through, for
// returning the credit on ack or reply.
type origin struct {
	tile    tcu.TileID
	ep      tcu.EpID
	bounded bool
}

type recvSlot struct {
	state slotState
	hdr   tcu.Header
	orig  origin
}

type epState struct {
	kind epKind

	// Send endpoint.
	tgtTile    tcu.TileID
	tgtEp      tcu.EpID
	label      tcu.Label
	credits    uint32
	maxCredits uint32
	msgOrder   uint32

	// Receive endpoint.
	bufOff    uint32
	order     uint32
	slotOrder uint32
	slots     []recvSlot
	unread    []int
	wpos      int

	// Memory endpoint.
	mem     *MemObj
	memOff  tcu.GlobOff
	memSize tcu.GlobOff
	perm    kif.Perm
}

// Unit is the software transfer unit of one tile. It implements both
// the transport commands and the tilemux calls of its tile.
type Unit struct {
	sys  *System
	tile tcu.TileID
	act  tcu.ActID

	m            sync.Mutex
	eps          []epState
	mem          []byte
	events       uint64
	wake         chan struct{}
	xlatePending int
	xlateCalls   int
	exitCode     int
	exited       bool
}

var (
	_ tcu.Transport = &Unit{}
	_ tcu.TileMux   = &Unit{}
)

func newUnit(sys *System, tile tcu.TileID, act tcu.ActID) *Unit {
	return &Unit{
		sys:  sys,
		tile: tile,
		act:  act,
		eps:  make([]epState, sys.params.TotalEps),
		mem:  allocRbufMem(sys.params.RbufSpaceSize),
		wake: make(chan struct{}),
	}
}

// TileID implements tcu.Transport.TileID.
func (u *Unit) TileID() tcu.TileID {
	return u.tile
}

// RbufSpace implements tcu.Transport.RbufSpace.
func (u *Unit) RbufSpace() []byte {
	return u.mem
}

// wakeup wakes every waiter so each rechecks its wait condition. The
// unit lock must be held.
func (u *Unit) wakeup() {
	close(u.wake)
	u.wake = make(chan struct{})
}

func (u *Unit) ep(ep tcu.EpID) *epState {
	if int(ep) >= len(u.eps) {
		return nil
	}
	return &u.eps[ep]
}

// SendAligned implements tcu.Transport.SendAligned. Translation
// faults are resolved via the tilemux and the command is retried.
func (u *Unit) SendAligned(ep tcu.EpID, msg []byte, rlabel tcu.Label,
	replyEp tcu.EpID) error {

	for {
		err := u.sendOnce(ep, msg, rlabel, replyEp)
		if err == tcu.TranslationFault {
			u.TranslationFault(0, uint32(kif.PermR))
			continue
		}
		return err
	}
}

func (u *Unit) sendOnce(ep tcu.EpID, msg []byte, rlabel tcu.Label,
	replyEp tcu.EpID) error {

	u.m.Lock()
	if u.xlatePending > 0 {
		u.m.Unlock()
		return tcu.TranslationFault
	}
	s := u.ep(ep)
	if s == nil || s.kind != epSend {
		u.m.Unlock()
		return tcu.NoSEP
	}
	if len(msg) > tcu.MaxMsgSize ||
		tcu.HeaderSize+len(msg) > 1<<s.msgOrder {
		u.m.Unlock()
		return tcu.SendInvMsgSize
	}
	bounded := s.maxCredits != kif.UnlimCredits
	if bounded {
		if s.credits == 0 {
			u.m.Unlock()
			return tcu.NoCredits
		}
		s.credits--
	}
	hdr := tcu.Header{
		Length:     uint16(len(msg)),
		SenderTile: u.tile,
		SenderAct:  u.act,
		ReplyEP:    replyEp,
		ReplyLabel: rlabel,
		Label:      s.label,
	}
	tgtTile, tgtEp := s.tgtTile, s.tgtEp
	u.m.Unlock()

	err := u.sys.deliver(tgtTile, tgtEp, hdr, msg, origin{
		tile:    u.tile,
		ep:      ep,
		bounded: bounded,
	})
	if err != nil && bounded {
		// The NoC nacked the message; the credit is not consumed.
		u.m.Lock()
		s := u.ep(ep)
		if s.kind == epSend && s.credits < s.maxCredits {
			s.credits++
			u.wakeup()
		}
		u.m.Unlock()
	}
	return err
}

// ReplyAligned implements tcu.Transport.ReplyAligned. Replying
// implicitly acknowledges the message slot.
func (u *Unit) ReplyAligned(ep tcu.EpID, reply []byte, msgOff uint32) error {
	for {
		err := u.replyOnce(ep, reply, msgOff)
		if err == tcu.TranslationFault {
			u.TranslationFault(0, uint32(kif.PermR))
			continue
		}
		return err
	}
}

func (u *Unit) replyOnce(ep tcu.EpID, reply []byte, msgOff uint32) error {
	u.m.Lock()
	if u.xlatePending > 0 {
		u.m.Unlock()
		return tcu.TranslationFault
	}
	s := u.ep(ep)
	if s == nil || s.kind != epRecv {
		u.m.Unlock()
		return tcu.NoREP
	}
	idx, err := s.slotIndex(msgOff)
	if err != nil {
		u.m.Unlock()
		return err
	}
	slot := &s.slots[idx]
	if slot.state != slotOccupied {
		u.m.Unlock()
		return tcu.InvMsgOff
	}
	if slot.hdr.ReplyEP == tcu.NoReplies {
		u.m.Unlock()
		return tcu.RepliesDisabled
	}
	hdr := tcu.Header{
		Length:     uint16(len(reply)),
		SenderTile: u.tile,
		SenderAct:  u.act,
		ReplyEP:    tcu.NoReplies,
		Label:      slot.hdr.ReplyLabel,
	}
	tgtTile, tgtEp := slot.hdr.SenderTile, slot.hdr.ReplyEP
	orig := slot.orig
	u.m.Unlock()

	err = u.sys.deliver(tgtTile, tgtEp, hdr, reply, origin{
		tile: u.tile,
		ep:   ep,
	})
	if err != nil {
		return err
	}

	u.m.Lock()
	slot.state = slotFree
	u.m.Unlock()
	u.sys.returnCredit(orig)
	return nil
}

func (s *epState) slotIndex(msgOff uint32) (int, error) {
	if msgOff < s.bufOff {
		return 0, tcu.InvMsgOff
	}
	idx := int((msgOff - s.bufOff) >> s.slotOrder)
	if idx >= len(s.slots) {
		return 0, tcu.InvMsgOff
	}
	return idx, nil
}

// deliver places a message into the receive buffer of ep. Called via
// the fabric with the sending side's identity in hdr.
func (u *Unit) deliver(ep tcu.EpID, hdr tcu.Header, data []byte,
	orig origin) error {

	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	if s == nil || s.kind != epRecv {
		return tcu.RecvGone
	}
	if tcu.HeaderSize+len(data) > 1<<s.slotOrder {
		return tcu.SendInvMsgSize
	}

	// Next free slot in round-robin order from the write cursor.
	idx := -1
	for i := 0; i < len(s.slots); i++ {
		j := (s.wpos + i) % len(s.slots)
		if s.slots[j].state == slotFree {
			idx = j
			break
		}
	}
	if idx < 0 {
		return tcu.RecvNoSpace
	}
	s.wpos = (idx + 1) % len(s.slots)

	off := s.bufOff + uint32(idx)<<s.slotOrder
	tcu.PutHeader(u.mem[off:], &hdr)
	copy(u.mem[off+tcu.HeaderSize:], data)

	s.slots[idx] = recvSlot{
		state: slotUnread,
		hdr:   hdr,
		orig:  orig,
	}
	s.unread = append(s.unread, idx)
	u.events |= tcu.EventMsgRecv
	u.wakeup()

	return nil
}

// FetchMsg implements tcu.Transport.FetchMsg.
func (u *Unit) FetchMsg(ep tcu.EpID) (uint32, bool) {
	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	if s == nil || s.kind != epRecv || len(s.unread) == 0 {
		return 0, false
	}
	idx := s.unread[0]
	s.unread = s.unread[1:]
	s.slots[idx].state = slotOccupied

	return s.bufOff + uint32(idx)<<s.slotOrder, true
}

// AckMsg implements tcu.Transport.AckMsg.
func (u *Unit) AckMsg(ep tcu.EpID, msgOff uint32) error {
	u.m.Lock()
	s := u.ep(ep)
	if s == nil || s.kind != epRecv {
		u.m.Unlock()
		return tcu.NoREP
	}
	idx, err := s.slotIndex(msgOff)
	if err != nil {
		u.m.Unlock()
		return err
	}
	slot := &s.slots[idx]
	if slot.state == slotFree {
		u.m.Unlock()
		return tcu.InvMsgOff
	}
	if slot.state == slotUnread {
		for i, ui := range s.unread {
			if ui == idx {
				s.unread = append(s.unread[:i], s.unread[i+1:]...)
				break
			}
		}
	}
	orig := slot.orig
	slot.state = slotFree
	u.m.Unlock()

	u.sys.returnCredit(orig)
	return nil
}

// HasMsgs implements tcu.Transport.HasMsgs.
func (u *Unit) HasMsgs(ep tcu.EpID) bool {
	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	return s != nil && s.kind == epRecv && len(s.unread) > 0
}

// Credits implements tcu.Transport.Credits.
func (u *Unit) Credits(ep tcu.EpID) (uint32, error) {
	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	if s == nil || s.kind != epSend {
		return 0, tcu.NoSEP
	}
	return s.credits, nil
}

// MaxCredits implements tcu.Transport.MaxCredits.
func (u *Unit) MaxCredits(ep tcu.EpID) (uint32, error) {
	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	if s == nil || s.kind != epSend {
		return 0, tcu.NoSEP
	}
	return s.maxCredits, nil
}

// IsValid implements tcu.Transport.IsValid.
func (u *Unit) IsValid(ep tcu.EpID) bool {
	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	return s != nil && s.kind != epInvalid
}

// DropMsgsWith implements tcu.Transport.DropMsgsWith.
func (u *Unit) DropMsgsWith(ep tcu.EpID, label tcu.Label) {
	u.m.Lock()
	s := u.ep(ep)
	if s == nil || s.kind != epRecv {
		u.m.Unlock()
		return
	}
	var origs []origin
	var unread []int
	for _, idx := range s.unread {
		if s.slots[idx].hdr.Label == label {
			origs = append(origs, s.slots[idx].orig)
			s.slots[idx].state = slotFree
		} else {
			unread = append(unread, idx)
		}
	}
	s.unread = unread
	u.m.Unlock()

	for _, orig := range origs {
		u.sys.returnCredit(orig)
	}
}

// Read implements tcu.Transport.Read. The transfer is chunked at
// page boundaries; translation faults are resolved and the chunk
// retried.
func (u *Unit) Read(ep tcu.EpID, dst []byte, off tcu.GlobOff) error {
	return u.memXfer(ep, dst, off, false)
}

// Write implements tcu.Transport.Write.
func (u *Unit) Write(ep tcu.EpID, src []byte, off tcu.GlobOff) error {
	return u.memXfer(ep, src, off, true)
}

func (u *Unit) memXfer(ep tcu.EpID, buf []byte, off tcu.GlobOff,
	write bool) error {

	pos := 0
	for pos < len(buf) {
		n := len(buf) - pos
		max := tcu.PageSize - int(off+tcu.GlobOff(pos))&tcu.PageMask
		if n > max {
			n = max
		}
		err := u.memChunk(ep, buf[pos:pos+n], off+tcu.GlobOff(pos), write)
		if err == tcu.TranslationFault {
			u.TranslationFault(uint64(off)+uint64(pos), uint32(kif.PermRW))
			continue
		}
		if err != nil {
			return err
		}
		pos += n
	}
	return nil
}

func (u *Unit) memChunk(ep tcu.EpID, buf []byte, off tcu.GlobOff,
	write bool) error {

	u.m.Lock()
	if u.xlatePending > 0 {
		u.m.Unlock()
		return tcu.TranslationFault
	}
	s := u.ep(ep)
	if s == nil || s.kind != epMem {
		u.m.Unlock()
		return tcu.NoMEP
	}
	need := kif.PermR
	if write {
		need = kif.PermW
	}
	if s.perm&need == 0 {
		u.m.Unlock()
		return tcu.NoPerm
	}
	if off+tcu.GlobOff(len(buf)) > s.memSize {
		u.m.Unlock()
		return tcu.OutOfBounds
	}
	mem := s.mem
	base := s.memOff + off
	u.m.Unlock()

	if write {
		mem.write(buf, base)
	} else {
		mem.read(buf, base)
	}
	return nil
}

// WaitForMsg implements tcu.Transport.WaitForMsg.
func (u *Unit) WaitForMsg(ep tcu.EpID, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		u.m.Lock()
		s := u.ep(ep)
		ready := u.events&tcu.EventEpInvalid != 0 ||
			(s != nil && s.kind == epRecv && len(s.unread) > 0)
		wake := u.wake
		u.m.Unlock()
		if ready {
			return nil
		}
		select {
		case <-wake:
		case <-timer:
			return tcu.Timeout
		}
	}
}

// WaitForCredits implements tcu.Transport.WaitForCredits. It returns
// NoSEP when the endpoint is invalidated while waiting.
func (u *Unit) WaitForCredits(ep tcu.EpID, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		u.m.Lock()
		s := u.ep(ep)
		if s == nil || s.kind != epSend {
			u.m.Unlock()
			return tcu.NoSEP
		}
		ready := s.maxCredits == kif.UnlimCredits || s.credits > 0
		wake := u.wake
		u.m.Unlock()
		if ready {
			return nil
		}
		select {
		case <-wake:
		case <-timer:
			return tcu.Timeout
		}
	}
}

// WaitForAny implements tcu.Transport.WaitForAny.
func (u *Unit) WaitForAny(timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		u.m.Lock()
		ready := u.events != 0
		if !ready {
			for i := range u.eps {
				if u.eps[i].kind == epRecv && len(u.eps[i].unread) > 0 {
					ready = true
					break
				}
			}
		}
		wake := u.wake
		u.m.Unlock()
		if ready {
			return nil
		}
		select {
		case <-wake:
		case <-timer:
			return tcu.Timeout
		}
	}
}

// FetchEvents implements tcu.Transport.FetchEvents.
func (u *Unit) FetchEvents() uint64 {
	u.m.Lock()
	defer u.m.Unlock()

	events := u.events
	u.events = 0
	return events
}

// HasEvents implements tcu.Transport.HasEvents.
func (u *Unit) HasEvents() bool {
	u.m.Lock()
	defer u.m.Unlock()

	if u.events != 0 {
		return true
	}
	for i := range u.eps {
		if u.eps[i].kind == epRecv && len(u.eps[i].unread) > 0 {
			return true
		}
	}
	return false
}

// Endpoint configuration, used by the kernel when activating
// capabilities.

func (u *Unit) configSend(ep tcu.EpID, tgtTile tcu.TileID, tgtEp tcu.EpID,
	label tcu.Label, credits, maxCredits uint32, msgOrder uint32) {

	u.m.Lock()
	defer u.m.Unlock()

	u.eps[ep] = epState{
		kind:       epSend,
		tgtTile:    tgtTile,
		tgtEp:      tgtEp,
		label:      label,
		credits:    credits,
		maxCredits: maxCredits,
		msgOrder:   msgOrder,
	}
}

func (u *Unit) configRecv(ep tcu.EpID, bufOff uint32, order, slotOrder uint32) {
	u.m.Lock()
	defer u.m.Unlock()

	u.eps[ep] = epState{
		kind:      epRecv,
		bufOff:    bufOff,
		order:     order,
		slotOrder: slotOrder,
		slots:     make([]recvSlot, 1<<(order-slotOrder)),
	}
}

func (u *Unit) configMem(ep tcu.EpID, mem *MemObj, off, size tcu.GlobOff,
	perm kif.Perm) {

	u.m.Lock()
	defer u.m.Unlock()

	u.eps[ep] = epState{
		kind:    epMem,
		mem:     mem,
		memOff:  off,
		memSize: size,
		perm:    perm,
	}
}

// invalidate resets the endpoint slot. For a bounded send endpoint
// it returns the remaining credits so the kernel can preserve the
// in-flight credit state in the capability.
func (u *Unit) invalidate(ep tcu.EpID, notify bool) (uint32, bool) {
	u.m.Lock()
	defer u.m.Unlock()

	s := u.ep(ep)
	if s == nil {
		return 0, false
	}
	var credits uint32
	var bounded bool
	if s.kind == epSend && s.maxCredits != kif.UnlimCredits {
		credits = s.credits
		bounded = true
	}
	u.eps[ep] = epState{}
	if notify {
		u.events |= tcu.EventEpInvalid
		u.wakeup()
	}
	return credits, bounded
}

// Tilemux ABI.

// Wait implements the tilemux Wait call.
func (u *Unit) Wait(ep tcu.EpID, irq int, nanos uint64) error {
	timeout := time.Duration(nanos)
	if ep == tcu.InvalidEp {
		if timeout == 0 {
			return tcu.InvArgs
		}
		time.Sleep(timeout)
		return nil
	}
	return u.WaitForMsg(ep, timeout)
}

// Exit implements the tilemux Exit call.
func (u *Unit) Exit(code int) {
	u.m.Lock()
	defer u.m.Unlock()

	u.exitCode = code
	u.exited = true
}

// Yield implements the tilemux Yield call.
func (u *Unit) Yield() {
}

// Map implements the tilemux Map call.
func (u *Unit) Map(virt uint64, phys tcu.GlobOff, pages int,
	perm uint32) error {

	return nil
}

// RegIrq implements the tilemux RegIrq call.
func (u *Unit) RegIrq(irq int) error {
	return tcu.NotSup
}

// TranslationFault implements the tilemux TranslationFault call: it
// installs the missing mapping so the faulted command can be retried.
func (u *Unit) TranslationFault(virt uint64, perm uint32) error {
	u.m.Lock()
	defer u.m.Unlock()

	if u.xlatePending > 0 {
		u.xlatePending--
	}
	u.xlateCalls++
	return nil
}

// FlushInvalidate implements the tilemux FlushInvalidate call.
func (u *Unit) FlushInvalidate() error {
	return nil
}

// Noop implements the tilemux Noop call.
func (u *Unit) Noop() error {
	return nil
}

// InjectXlateFault arms the next n commands to report a translation
// fault before completing.
func (u *Unit) InjectXlateFault(n int) {
	u.m.Lock()
	defer u.m.Unlock()

	u.xlatePending = n
}

// XlateCalls returns the number of translation-fault tilemux calls
// the unit has made.
func (u *Unit) XlateCalls() int {
	u.m.Lock()
	defer u.m.Unlock()

	return u.xlateCalls
}
