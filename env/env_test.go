//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package env

import (
	"encoding/binary"
	"testing"
)

func TestDataMarshal(t *testing.T) {
	d := &Data{
		Platform:     1,
		TileID:       5,
		RawTileCount: 2,
		FirstStdEP:   4,
		FirstSel:     10,
		ActID:        3,
		RmngSel:      2,
	}
	d.RawTileIDs[0] = 100
	d.RawTileIDs[1] = 101

	buf := d.Marshal()
	if len(buf) != DataSize {
		t.Fatalf("len=%v, expected %v", len(buf), DataSize)
	}
	// TileID is the second word, SP the first word after the raw
	// tile id table.
	if binary.LittleEndian.Uint64(buf[8:]) != 5 {
		t.Errorf("TileID word: %x", buf[8:16])
	}
	spOff := (8 + MaxChips*MaxTiles) * 8
	if binary.LittleEndian.Uint64(buf[spOff+4*8:]) != 10 {
		t.Errorf("FirstSel word: %x", buf[spOff+4*8:spOff+5*8])
	}

	parsed, err := Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if *parsed != *d {
		t.Errorf("parsed block differs")
	}
}

func TestParseShort(t *testing.T) {
	_, err := Parse(make([]byte, DataSize-1))
	if err == nil {
		t.Error("Parse of short buffer succeeded")
	}
}

func TestVars(t *testing.T) {
	environ := []string{"HOME=/root", "PATH=/bin"}
	vs := NewVars(environ)

	v, ok := vs.Get("HOME")
	if !ok || v != "/root" {
		t.Errorf("Get(HOME)=%q,%v", v, ok)
	}
	_, ok = vs.Get("SHELL")
	if ok {
		t.Error("Get(SHELL) found")
	}

	err := vs.Set("SHELL", "/bin/sh")
	if err != nil {
		t.Fatal(err)
	}
	// The backing array must not change: copy-on-write.
	if len(environ) != 2 {
		t.Errorf("environ grew: %v", environ)
	}
	v, ok = vs.Get("SHELL")
	if !ok || v != "/bin/sh" {
		t.Errorf("Get(SHELL)=%q,%v", v, ok)
	}

	err = vs.Set("PATH", "/usr/bin")
	if err != nil {
		t.Fatal(err)
	}
	if environ[1] != "PATH=/bin" {
		t.Errorf("caller's environ modified: %v", environ[1])
	}
	v, _ = vs.Get("PATH")
	if v != "/usr/bin" {
		t.Errorf("Get(PATH)=%q", v)
	}

	vs.Remove("HOME")
	_, ok = vs.Get("HOME")
	if ok {
		t.Error("Get(HOME) found after Remove")
	}
	if len(vs.All()) != 2 {
		t.Errorf("All=%v", vs.All())
	}
}

func TestVarsInvalidName(t *testing.T) {
	vs := NewVars(nil)
	if vs.Set("", "x") == nil {
		t.Error("Set with empty name succeeded")
	}
	if vs.Set("A=B", "x") == nil {
		t.Error("Set with '=' in name succeeded")
	}
}
