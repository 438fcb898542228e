//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package kif defines the kernel interface: capability selectors,
// permissions, capability-range descriptors, and the wire opcodes of
// the system call, service, and resource-manager protocols.
package kif

import (
	"fmt"
)

// Sel is a capability selector, an opaque handle into the owning
// activity's capability table.
type Sel uint64

// Reserved selectors. User selectors are allocated above FirstFreeSel
// and grow monotonically.
const (
	// SelAct refers to the own activity.
	SelAct Sel = 0
	// SelTile refers to the own tile.
	SelTile Sel = 1
	// SelKMem refers to the own kernel memory quota.
	SelKMem Sel = 2
	// SelSyscSG is the send capability of the system call channel.
	SelSyscSG Sel = 3
	// SelSyscRG is the receive capability of system call replies.
	SelSyscRG Sel = 4
	// SelUpcallRG is the receive capability for kernel upcalls.
	SelUpcallRG Sel = 5
	// SelDefRG is the default receive capability.
	SelDefRG Sel = 6
	// SelResmngSG is the send capability to the resource manager.
	SelResmngSG Sel = 7

	// FirstFreeSel is the first selector available to the activity.
	FirstFreeSel Sel = 8

	// InvalidSel marks a non-existing selector.
	InvalidSel Sel = 0xffffffffffffffff
)

// UnlimCredits marks a send capability with an unbounded credit
// budget.
const UnlimCredits uint32 = 0x3f

// Perm defines memory and gate permissions.
type Perm uint32

// Permission bits.
const (
	PermR Perm = 1 << iota
	PermW
	PermX

	PermRW  = PermR | PermW
	PermRWX = PermR | PermW | PermX
)

func (perm Perm) String() string {
	var s string
	if perm&PermR != 0 {
		s += "r"
	}
	if perm&PermW != 0 {
		s += "w"
	}
	if perm&PermX != 0 {
		s += "x"
	}
	if len(s) == 0 {
		return "-"
	}
	return s
}

// CapType defines the capability range types.
type CapType uint64

// Capability range types.
const (
	// CapObj ranges name object capabilities.
	CapObj CapType = iota
	// CapMap ranges name page mappings; start is a page number and
	// count a power of two.
	CapMap
)

// CapRngDesc describes a contiguous range of capabilities for
// delegation and revocation.
type CapRngDesc struct {
	Type  CapType
	Start Sel
	Count uint64
}

func (crd CapRngDesc) String() string {
	ty := "obj"
	if crd.Type == CapMap {
		ty = "map"
	}
	return fmt.Sprintf("crd[%s %d:%d]", ty, crd.Start, crd.Count)
}

// Raw packs the descriptor into one 64-bit word: the low bit is the
// type, the next 15 bits the count, the rest the start selector.
func (crd CapRngDesc) Raw() uint64 {
	return uint64(crd.Type) | crd.Count<<1 | uint64(crd.Start)<<16
}

// ParseCRD unpacks a capability range descriptor.
func ParseCRD(raw uint64) CapRngDesc {
	return CapRngDesc{
		Type:  CapType(raw & 1),
		Count: (raw >> 1) & 0x7fff,
		Start: Sel(raw >> 16),
	}
}

// Syscall defines system call opcodes.
type Syscall uint64

// System calls.
const (
	SysCreateSrv Syscall = iota + 1
	SysCreateSess
	SysCreateSGate
	SysCreateRGate
	SysCreateMGate
	SysCreateSem
	SysAllocEP
	SysDeriveMem
	SysActivate
	SysSemCtrl
	SysExchange
	SysExchangeSess
	SysRevoke
	SysRGateBuffer
	SysNoop
)

var syscallNames = map[Syscall]string{
	SysCreateSrv:    "create_srv",
	SysCreateSess:   "create_sess",
	SysCreateSGate:  "create_sgate",
	SysCreateRGate:  "create_rgate",
	SysCreateMGate:  "create_mgate",
	SysCreateSem:    "create_sem",
	SysAllocEP:      "alloc_ep",
	SysDeriveMem:    "derive_mem",
	SysActivate:     "activate",
	SysSemCtrl:      "sem_ctrl",
	SysExchange:     "exchange",
	SysExchangeSess: "exchange_sess",
	SysRevoke:       "revoke",
	SysRGateBuffer:  "rgate_buffer",
	SysNoop:         "noop",
}

func (call Syscall) String() string {
	name, ok := syscallNames[call]
	if ok {
		return name
	}
	return fmt.Sprintf("{Syscall %d}", uint64(call))
}

// Service defines the control opcodes the kernel sends to services.
type Service uint64

// Service control operations.
const (
	ServiceOpen Service = iota + 1
	ServiceObtain
	ServiceDelegate
	ServiceClose
	ServiceShutdown
)

var serviceNames = map[Service]string{
	ServiceOpen:     "open",
	ServiceObtain:   "obtain",
	ServiceDelegate: "delegate",
	ServiceClose:    "close",
	ServiceShutdown: "shutdown",
}

func (op Service) String() string {
	name, ok := serviceNames[op]
	if ok {
		return name
	}
	return fmt.Sprintf("{Service %d}", uint64(op))
}

// Resmng defines the resource-manager request opcodes.
type Resmng uint64

// Resource manager operations.
const (
	ResmngRegServ Resmng = iota + 1
	ResmngUnregServ
	ResmngOpenSess
	ResmngCloseSess
	ResmngAddChild
	ResmngRemChild
	ResmngAllocMem
	ResmngFreeMem
	ResmngAllocTile
	ResmngFreeTile
	ResmngUseRGate
	ResmngUseSGate
	ResmngUseSem
	ResmngUseMod
)

var resmngNames = map[Resmng]string{
	ResmngRegServ:   "reg_serv",
	ResmngUnregServ: "unreg_serv",
	ResmngOpenSess:  "open_sess",
	ResmngCloseSess: "close_sess",
	ResmngAddChild:  "add_child",
	ResmngRemChild:  "rem_child",
	ResmngAllocMem:  "alloc_mem",
	ResmngFreeMem:   "free_mem",
	ResmngAllocTile: "alloc_tile",
	ResmngFreeTile:  "free_tile",
	ResmngUseRGate:  "use_rgate",
	ResmngUseSGate:  "use_sgate",
	ResmngUseSem:    "use_sem",
	ResmngUseMod:    "use_mod",
}

func (op Resmng) String() string {
	name, ok := resmngNames[op]
	if ok {
		return name
	}
	return fmt.Sprintf("{Resmng %d}", uint64(op))
}

// MaxExchangeArgs is the maximum number of argument words of a
// capability exchange.
const MaxExchangeArgs = 8

// ExchangeArgs is the fixed-size argument block of delegate and
// obtain operations.
type ExchangeArgs struct {
	Count uint64
	Words [MaxExchangeArgs]uint64
}

// Push appends an argument word.
func (xa *ExchangeArgs) Push(v uint64) {
	xa.Words[xa.Count] = v
	xa.Count++
}

// Pop removes and returns the first argument word.
func (xa *ExchangeArgs) Pop() (uint64, error) {
	if xa.Count == 0 {
		return 0, fmt.Errorf("no exchange arguments")
	}
	v := xa.Words[0]
	copy(xa.Words[:], xa.Words[1:xa.Count])
	xa.Count--
	return v, nil
}
