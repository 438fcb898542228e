//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

// Params define system parameters. TileBase offsets the tile
// numbering so that systems joined over a NoC link occupy disjoint
// tile ranges.
type Params struct {
	Trace         bool
	TraceHex      bool
	MaxActs       int
	TotalEps      int
	RbufSpaceSize int
	MemQuota      int
	TileBase      int
}

// Default system limits.
const (
	DefaultMaxActs       = 64
	DefaultTotalEps      = 128
	DefaultRbufSpaceSize = 1 << 20
	DefaultMemQuota      = 64 << 20
)

func (p *Params) setDefaults() {
	if p.MaxActs == 0 {
		p.MaxActs = DefaultMaxActs
	}
	if p.TotalEps == 0 {
		p.TotalEps = DefaultTotalEps
	}
	if p.RbufSpaceSize == 0 {
		p.RbufSpaceSize = DefaultRbufSpaceSize
	}
	if p.MemQuota == 0 {
		p.MemQuota = DefaultMemQuota
	}
}
