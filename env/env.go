//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package env implements the activity environment: the
// position-stable environment block handed to a starting activity and
// the copy-on-write environment variable table.
package env

import (
	"encoding/binary"

	"github.com/markkurossi/tilert/tcu"
)

var bo = binary.LittleEndian

// Raw tile id table dimensions.
const (
	MaxChips = 2
	MaxTiles = 64
)

// DataSize is the size of the marshalled environment block in bytes.
const DataSize = (8 + MaxChips*MaxTiles + 15) * 8

// Data is the environment block of an activity. The field order is
// the wire layout: every field is one 64-bit word and the block is
// parsed back by offset.
type Data struct {
	Platform     uint64
	TileID       uint64
	TileDesc     uint64
	ArgC         uint64
	ArgV         uint64
	EnvP         uint64
	KernEnv      uint64
	RawTileCount uint64
	RawTileIDs   [MaxChips * MaxTiles]uint64

	SP         uint64
	Entry      uint64
	HeapSize   uint64
	FirstStdEP uint64
	FirstSel   uint64
	ActID      uint64
	RmngSel    uint64
	PagerSess  uint64
	PagerSGate uint64
	MountsAddr uint64
	MountsLen  uint64
	FDsAddr    uint64
	FDsLen     uint64
	DataAddr   uint64
	DataLen    uint64
}

// Marshal encodes the block into its fixed layout.
func (d *Data) Marshal() []byte {
	buf := make([]byte, DataSize)
	words := []uint64{
		d.Platform, d.TileID, d.TileDesc, d.ArgC, d.ArgV, d.EnvP,
		d.KernEnv, d.RawTileCount,
	}
	ofs := 0
	for _, w := range words {
		bo.PutUint64(buf[ofs:], w)
		ofs += 8
	}
	for _, w := range d.RawTileIDs {
		bo.PutUint64(buf[ofs:], w)
		ofs += 8
	}
	words = []uint64{
		d.SP, d.Entry, d.HeapSize, d.FirstStdEP, d.FirstSel, d.ActID,
		d.RmngSel, d.PagerSess, d.PagerSGate, d.MountsAddr,
		d.MountsLen, d.FDsAddr, d.FDsLen, d.DataAddr, d.DataLen,
	}
	for _, w := range words {
		bo.PutUint64(buf[ofs:], w)
		ofs += 8
	}
	return buf
}

// Parse decodes an environment block.
func Parse(buf []byte) (*Data, error) {
	if len(buf) < DataSize {
		return nil, tcu.InvArgs
	}
	d := new(Data)
	ofs := 0
	next := func() uint64 {
		w := bo.Uint64(buf[ofs:])
		ofs += 8
		return w
	}
	d.Platform = next()
	d.TileID = next()
	d.TileDesc = next()
	d.ArgC = next()
	d.ArgV = next()
	d.EnvP = next()
	d.KernEnv = next()
	d.RawTileCount = next()
	for i := range d.RawTileIDs {
		d.RawTileIDs[i] = next()
	}
	d.SP = next()
	d.Entry = next()
	d.HeapSize = next()
	d.FirstStdEP = next()
	d.FirstSel = next()
	d.ActID = next()
	d.RmngSel = next()
	d.PagerSess = next()
	d.PagerSGate = next()
	d.MountsAddr = next()
	d.MountsLen = next()
	d.FDsAddr = next()
	d.FDsLen = next()
	d.DataAddr = next()
	d.DataLen = next()
	return d, nil
}
