//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package tcu defines the interface to the tile-local transfer unit
// (TCU): endpoint and label types, the hardware message header, the
// error-code taxonomy, and the abstract Transport that the
// communication layer is built on.
package tcu

import (
	"encoding/binary"
	"time"
)

var bo = binary.LittleEndian

// EpID identifies one hardware endpoint slot on the local tile.
type EpID uint16

// Label is an opaque 64-bit value attached to messages by the sending
// endpoint configuration.
type Label uint64

// TileID identifies a tile in the system.
type TileID uint16

// ActID identifies an activity on a tile.
type ActID uint16

// GlobOff is an offset into a global memory region.
type GlobOff uint64

// Hardware limits and reserved endpoint slots.
const (
	// TotalEps is the number of endpoint slots per tile.
	TotalEps = 128

	// SyscSep is the send endpoint for system calls.
	SyscSep EpID = 0
	// SyscRep is the receive endpoint for system call replies.
	SyscRep EpID = 1
	// UpcallRep is the receive endpoint for kernel upcalls.
	UpcallRep EpID = 2
	// DefRep is the default receive endpoint.
	DefRep EpID = 3
	// FirstUserEp is the first endpoint available to user gates.
	FirstUserEp EpID = 4

	// InvalidEp marks a non-existing endpoint.
	InvalidEp EpID = 0xffff
	// NoReplies is used as the reply endpoint if no reply is expected.
	NoReplies EpID = 0xfffe

	// PageSize is the size of a memory page in bytes.
	PageSize = 4096
	// PageMask is the offset mask within a page.
	PageMask = PageSize - 1

	// MaxMsgSize is the maximum message payload size in bytes.
	MaxMsgSize = 512
	// MsgAlign is the payload alignment in the receive buffer.
	MsgAlign = 8
)

// Receive buffer sizes of the standard receive endpoints, as powers
// of two.
const (
	SyscRbufOrd   = 9
	UpcallRbufOrd = 9
	DefRbufOrd    = 8
)

// Event bits returned by Transport.FetchEvents.
const (
	// EventMsgRecv signals that a message arrived at some endpoint.
	EventMsgRecv uint64 = 1 << iota
	// EventEpInvalid signals that an endpoint was invalidated remotely.
	EventEpInvalid
)

// Header is the hardware-provided header preceding every message in a
// receive buffer. The wire layout is position-stable: length (u16),
// sender tile (u16), sender activity (u16), reply endpoint (u16),
// reply label (u64), label (u64). The payload follows 8-byte aligned.
type Header struct {
	Length     uint16
	SenderTile TileID
	SenderAct  ActID
	ReplyEP    EpID
	ReplyLabel Label
	Label      Label
}

// HeaderSize is the size of the marshalled message header in bytes.
const HeaderSize = 24

// PutHeader marshals the header into b.
func PutHeader(b []byte, hdr *Header) {
	bo.PutUint16(b[0:], hdr.Length)
	bo.PutUint16(b[2:], uint16(hdr.SenderTile))
	bo.PutUint16(b[4:], uint16(hdr.SenderAct))
	bo.PutUint16(b[6:], uint16(hdr.ReplyEP))
	bo.PutUint64(b[8:], uint64(hdr.ReplyLabel))
	bo.PutUint64(b[16:], uint64(hdr.Label))
}

// ParseHeader unmarshals the header from b.
func ParseHeader(b []byte) Header {
	return Header{
		Length:     bo.Uint16(b[0:]),
		SenderTile: TileID(bo.Uint16(b[2:])),
		SenderAct:  ActID(bo.Uint16(b[4:])),
		ReplyEP:    EpID(bo.Uint16(b[6:])),
		ReplyLabel: Label(bo.Uint64(b[8:])),
		Label:      Label(bo.Uint64(b[16:])),
	}
}

// Message is a fetched message: the parsed header, the payload bytes
// in the receive buffer, and the slot offset needed for ack and
// reply.
type Message struct {
	Header Header
	Data   []byte
	Off    uint32
}

// Transport is the abstract driver for the TCU command interface. All
// operations are synchronous: they submit a command and poll its
// completion. Translation faults are resolved internally via the
// tilemux and the command is retried.
type Transport interface {
	// SendAligned sends msg via the send endpoint ep. The receiver
	// can reply with label rlabel to the reply endpoint replyEp,
	// NoReplies if no reply is expected.
	SendAligned(ep EpID, msg []byte, rlabel Label, replyEp EpID) error

	// ReplyAligned replies to the message at offset msgOff in the
	// receive buffer of ep and implicitly acknowledges it.
	ReplyAligned(ep EpID, reply []byte, msgOff uint32) error

	// Read reads len(dst) bytes at offset off through the memory
	// endpoint ep.
	Read(ep EpID, dst []byte, off GlobOff) error

	// Write writes len(src) bytes at offset off through the memory
	// endpoint ep.
	Write(ep EpID, src []byte, off GlobOff) error

	// FetchMsg returns the offset of the oldest unread message of the
	// receive endpoint ep, or false if there is none.
	FetchMsg(ep EpID) (uint32, bool)

	// AckMsg frees the message slot at offset msgOff of ep.
	AckMsg(ep EpID, msgOff uint32) error

	// HasMsgs returns true if ep has unread messages.
	HasMsgs(ep EpID) bool

	// Credits returns the current number of credits of the send
	// endpoint ep.
	Credits(ep EpID) (uint32, error)

	// MaxCredits returns the credit budget of the send endpoint ep.
	MaxCredits(ep EpID) (uint32, error)

	// IsValid returns true if ep is configured.
	IsValid(ep EpID) bool

	// DropMsgsWith acknowledges all queued messages of ep carrying
	// the given label.
	DropMsgsWith(ep EpID, label Label)

	// WaitForMsg suspends the tile until ep has a new message or the
	// timeout fires. A zero timeout waits without bound.
	WaitForMsg(ep EpID, timeout time.Duration) error

	// WaitForCredits suspends the tile until the send endpoint ep has
	// a credit or the timeout fires.
	WaitForCredits(ep EpID, timeout time.Duration) error

	// WaitForAny suspends the tile until any endpoint has a new
	// message or the timeout fires.
	WaitForAny(timeout time.Duration) error

	// FetchEvents returns and clears the pending event bits.
	FetchEvents() uint64

	// HasEvents returns true without clearing if events are pending.
	HasEvents() bool

	// RbufSpace returns the tile-local window the TCU deposits
	// received messages into. Message offsets are relative to the
	// receive buffer configured for the endpoint within this window.
	RbufSpace() []byte

	// TileID returns the id of the local tile.
	TileID() TileID
}

// TileMux is the tile-local multiplexer ABI. It provides the
// translation and scheduling primitives the transport depends on.
type TileMux interface {
	Wait(ep EpID, irq int, nanos uint64) error
	Exit(code int)
	Yield()
	Map(virt uint64, phys GlobOff, pages int, perm uint32) error
	RegIrq(irq int) error
	TranslationFault(virt uint64, perm uint32) error
	FlushInvalidate() error
	Noop() error
}
