//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package tcu

import (
	"fmt"
)

// Code defines error numbers reported by the TCU and the runtime.
type Code int32

// Success.
const (
	None Code = 0
)

// TCU hardware errors.
const (
	NoMEP Code = iota + 1
	NoSEP
	NoREP
	ForeignEP
	SendReplyEP
	RecvGone
	RecvMisalign
	RecvNoSpace
	RepliesDisabled
	OutOfBounds
	NoCredits
	NoPerm
	InvMsgOff
	TranslationFault
	Abort
	UnknownCmd
	RecvOutOfBounds
	RecvInvReplyEPs
	SendInvCreditEP
	SendInvMsgSize
	RecvBusy
	TimeoutMem
	TimeoutNoC
	PageBoundary
	MsgUnaligned
	TLBMiss
	TLBFull
)

// Software errors.
const (
	InvArgs Code = iota + 64
	ActivityGone
	OutOfMem
	NoSuchFile
	NotSup
	NoFreeTile
	InvalidElf
	NoSpace
	Exists
	XfsLink
	DirNotEmpty
	IsDir
	IsNoDir
	EPInvalid
	EndOfFile
	MsgsWaiting
	UpcallReply
	CommitFailed
	NoKMem
	NotFound
	NotRevocable
	Timeout
)

// Socket errors.
const (
	InUse Code = iota + 128
	InvState
	WouldBlock
	InProgress
	AlreadyInProgress
	NotConnected
	IsConnected
	ConnAbort
	ConnReset
	ConnClosed
	NetUnreachable
	SocketClosed
)

func (code Code) String() string {
	name, ok := codeNames[code]
	if ok {
		return name
	}
	return fmt.Sprintf("{Code %d}", int32(code))
}

// Error implements the error interface.
func (code Code) Error() string {
	name, ok := codeNames[code]
	if !ok {
		return fmt.Sprintf("{Code %d}", int32(code))
	}
	desc, ok := codeDescriptions[code]
	if ok {
		return name + ": " + desc
	}
	return name
}

var codeNames = map[Code]string{
	None:              "None",
	NoMEP:             "NoMEP",
	NoSEP:             "NoSEP",
	NoREP:             "NoREP",
	ForeignEP:         "ForeignEP",
	SendReplyEP:       "SendReplyEP",
	RecvGone:          "RecvGone",
	RecvMisalign:      "RecvMisalign",
	RecvNoSpace:       "RecvNoSpace",
	RepliesDisabled:   "RepliesDisabled",
	OutOfBounds:       "OutOfBounds",
	NoCredits:         "NoCredits",
	NoPerm:            "NoPerm",
	InvMsgOff:         "InvMsgOff",
	TranslationFault:  "TranslationFault",
	Abort:             "Abort",
	UnknownCmd:        "UnknownCmd",
	RecvOutOfBounds:   "RecvOutOfBounds",
	RecvInvReplyEPs:   "RecvInvReplyEPs",
	SendInvCreditEP:   "SendInvCreditEP",
	SendInvMsgSize:    "SendInvMsgSize",
	RecvBusy:          "RecvBusy",
	TimeoutMem:        "TimeoutMem",
	TimeoutNoC:        "TimeoutNoC",
	PageBoundary:      "PageBoundary",
	MsgUnaligned:      "MsgUnaligned",
	TLBMiss:           "TLBMiss",
	TLBFull:           "TLBFull",
	InvArgs:           "InvArgs",
	ActivityGone:      "ActivityGone",
	OutOfMem:          "OutOfMem",
	NoSuchFile:        "NoSuchFile",
	NotSup:            "NotSup",
	NoFreeTile:        "NoFreeTile",
	InvalidElf:        "InvalidElf",
	NoSpace:           "NoSpace",
	Exists:            "Exists",
	XfsLink:           "XfsLink",
	DirNotEmpty:       "DirNotEmpty",
	IsDir:             "IsDir",
	IsNoDir:           "IsNoDir",
	EPInvalid:         "EPInvalid",
	EndOfFile:         "EndOfFile",
	MsgsWaiting:       "MsgsWaiting",
	UpcallReply:       "UpcallReply",
	CommitFailed:      "CommitFailed",
	NoKMem:            "NoKMem",
	NotFound:          "NotFound",
	NotRevocable:      "NotRevocable",
	Timeout:           "Timeout",
	InUse:             "InUse",
	InvState:          "InvState",
	WouldBlock:        "WouldBlock",
	InProgress:        "InProgress",
	AlreadyInProgress: "AlreadyInProgress",
	NotConnected:      "NotConnected",
	IsConnected:       "IsConnected",
	ConnAbort:         "ConnAbort",
	ConnReset:         "ConnReset",
	ConnClosed:        "ConnClosed",
	NetUnreachable:    "NetUnreachable",
	SocketClosed:      "SocketClosed",
}

var codeDescriptions = map[Code]string{
	NoMEP:            "no memory endpoint",
	NoSEP:            "no send endpoint",
	NoREP:            "no receive endpoint",
	ForeignEP:        "endpoint belongs to another activity",
	SendReplyEP:      "send operation on a reply endpoint",
	RecvGone:         "receiver gone",
	RecvMisalign:     "receive buffer misaligned",
	RecvNoSpace:      "no space in receive buffer",
	RepliesDisabled:  "replies disabled for endpoint",
	OutOfBounds:      "memory access out of bounds",
	NoCredits:        "no credits to send",
	NoPerm:           "insufficient permissions",
	InvMsgOff:        "invalid message offset",
	TranslationFault: "address translation fault",
	Abort:            "command aborted",
	UnknownCmd:       "unknown command",
	SendInvCreditEP:  "invalid credit endpoint",
	SendInvMsgSize:   "invalid message size",
	TimeoutMem:       "timeout in memory transfer",
	TimeoutNoC:       "timeout in NoC transfer",
	PageBoundary:     "payload crosses page boundary",
	MsgUnaligned:     "message unaligned",
	InvArgs:          "invalid arguments",
	ActivityGone:     "activity gone",
	OutOfMem:         "out of memory",
	NotSup:           "operation not supported",
	NoSpace:          "no space left",
	Exists:           "object exists",
	EPInvalid:        "endpoint invalidated",
	NoKMem:           "out of kernel memory",
	NotFound:         "object not found",
	NotRevocable:     "capability not revocable",
	Timeout:          "operation timed out",
}

// OK returns true if the code signals success.
func (code Code) OK() bool {
	return code == None
}

// ToError converts the code into an error value, nil for None.
func (code Code) ToError() error {
	if code == None {
		return nil
	}
	return code
}

// ErrorCode returns the Code of the error, InvArgs for foreign errors.
func ErrorCode(err error) Code {
	if err == nil {
		return None
	}
	code, ok := err.(Code)
	if ok {
		return code
	}
	return InvArgs
}
