//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package tcu

import (
	"testing"
)

func TestSinkSource(t *testing.T) {
	sink := NewSink(nil)
	sink.PutU64(42)
	sink.PutStr("hello")
	sink.PutI64(-7)
	sink.PutBytes([]byte{1, 2, 3})

	src := NewSource(sink.Bytes())
	v, err := src.U64()
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("U64=%v, expected 42", v)
	}
	str, err := src.Str()
	if err != nil {
		t.Fatal(err)
	}
	if str != "hello" {
		t.Errorf("Str=%q, expected hello", str)
	}
	i, err := src.I64()
	if err != nil {
		t.Fatal(err)
	}
	if i != -7 {
		t.Errorf("I64=%v, expected -7", i)
	}
	data, err := src.ReadBytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 3 || data[0] != 1 || data[2] != 3 {
		t.Errorf("ReadBytes=%x", data)
	}
	if src.Remaining() != 0 {
		t.Errorf("Remaining=%v", src.Remaining())
	}
}

func TestSourceTruncated(t *testing.T) {
	src := NewSource([]byte{1, 2, 3})
	_, err := src.U64()
	if err == nil {
		t.Error("U64 of truncated buffer succeeded")
	}

	sink := NewSink(nil)
	sink.PutStr("hello")
	src = NewSource(sink.Bytes()[:4])
	_, err = src.Str()
	if err == nil {
		t.Error("Str of truncated buffer succeeded")
	}
}

func TestSourceBogusLength(t *testing.T) {
	// A length word beyond the int range must fail like any other
	// out-of-bounds length instead of wrapping negative.
	sink := NewSink(nil)
	sink.PutU64(1 << 63)
	sink.PutU64(0)

	src := NewSource(sink.Bytes())
	_, err := src.ReadBytes()
	if err != InvArgs {
		t.Errorf("err=%v, expected InvArgs", err)
	}
}

func TestHeaderLayout(t *testing.T) {
	hdr := Header{
		Length:     512,
		SenderTile: 3,
		SenderAct:  7,
		ReplyEP:    5,
		ReplyLabel: 0xdeadbeef,
		Label:      0xcafe,
	}
	var buf [HeaderSize]byte
	PutHeader(buf[:], &hdr)

	parsed := ParseHeader(buf[:])
	if parsed != hdr {
		t.Errorf("parsed=%v, expected %v", parsed, hdr)
	}
}
