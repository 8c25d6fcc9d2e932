// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"testing"
)

func TestParseStringRoundTrip(t *testing.T) {
	wire := appendString(nil, []byte("hello"))
	got, rest, ok := parseString(wire)
	if !ok {
		t.Fatal("parseString failed")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q", got)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %x", rest)
	}
}

func TestParseStringRejectsTruncatedInput(t *testing.T) {
	// Claims a 10-byte string but only supplies 2.
	wire := append(appendU32(nil, 10), []byte("ab")...)
	if _, _, ok := parseString(wire); ok {
		t.Fatal("expected parseString to reject a truncated payload")
	}
}

func TestParseNameListRoundTrip(t *testing.T) {
	wire := appendNameList(nil, []string{"alpha", "beta", "gamma"})
	got, rest, ok := parseNameList(wire)
	if !ok {
		t.Fatal("parseNameList failed")
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %x", rest)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseNameListEmpty(t *testing.T) {
	wire := appendNameList(nil, nil)
	got, _, ok := parseNameList(wire)
	if !ok {
		t.Fatal("parseNameList failed on empty list")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestParseUint32RoundTrip(t *testing.T) {
	wire := appendU32(nil, 0xdeadbeef)
	got, rest, ok := parseUint32(wire)
	if !ok || got != 0xdeadbeef {
		t.Fatalf("got %x, %v", got, ok)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %x", rest)
	}
}

func TestParseBoolRoundTrip(t *testing.T) {
	for _, in := range []bool{true, false} {
		wire := appendBool(nil, in)
		got, _, ok := parseBool(wire)
		if !ok || got != in {
			t.Fatalf("roundtrip of %v: got %v, %v", in, got, ok)
		}
	}
}

func TestGrowBufferPacketPrependsOpcode(t *testing.T) {
	var g growBuffer
	g.packet(msgKexInit, func(g *growBuffer) {
		g.uint32(7)
	})
	got := g.bytes()
	if got[0] != msgKexInit {
		t.Fatalf("expected leading opcode %d, got %d", msgKexInit, got[0])
	}
	n, _, ok := parseUint32(got[1:])
	if !ok || n != 7 {
		t.Fatalf("got %d, %v", n, ok)
	}
}

func TestGrowBufferBytesClearsBuffer(t *testing.T) {
	var g growBuffer
	g.byte(1)
	g.bytes()
	if g.len() != 0 {
		t.Fatalf("expected buffer to be cleared after bytes(), got len %d", g.len())
	}
}
