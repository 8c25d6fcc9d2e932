// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kex

import (
	"encoding/binary"
	"math/big"
)

// The engine owns the Transport directly during a handshake (ssh.KexEngine
// doc comment) and therefore needs its own wire primitives rather than
// reaching into the core package's unexported growBuffer/codec.go — this
// file is that package's local, much smaller mirror of the same
// pre-reflection style the teacher uses throughout certs.go/common.go.

func parseUint32(in []byte) (uint32, []byte, bool) {
	if len(in) < 4 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(in), in[4:], true
}

func parseString(in []byte) ([]byte, []byte, bool) {
	n, rest, ok := parseUint32(in)
	if !ok || uint64(len(rest)) < uint64(n) {
		return nil, nil, false
	}
	return rest[:n], rest[n:], true
}

func parseNameList(in []byte) ([]string, []byte, bool) {
	list, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	if len(list) == 0 {
		return nil, rest, true
	}
	var out []string
	start := 0
	for i, b := range list {
		if b == ',' {
			out = append(out, string(list[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(list[start:]))
	return out, rest, true
}

func parseBool(in []byte) (bool, []byte, bool) {
	if len(in) < 1 {
		return false, nil, false
	}
	return in[0] != 0, in[1:], true
}

// parseMPInt reads an RFC 4251 mpint into a *big.Int.
func parseMPInt(in []byte) (*big.Int, []byte, bool) {
	raw, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	return new(big.Int).SetBytes(raw), rest, true
}

type wireBuilder struct {
	buf []byte
}

func (w *wireBuilder) byte(b byte) { w.buf = append(w.buf, b) }

func (w *wireBuilder) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *wireBuilder) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *wireBuilder) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *wireBuilder) string(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *wireBuilder) nameList(names []string) {
	joined := joinComma(names)
	w.string([]byte(joined))
}

// mpint writes n as an RFC 4251 mpint: a two's-complement big-endian
// integer, prefixed with a zero byte if the high bit of the first byte
// would otherwise be set (so it's never mistaken for negative).
func (w *wireBuilder) mpint(n *big.Int) {
	if n.Sign() == 0 {
		w.uint32(0)
		return
	}
	b := n.Bytes()
	if b[0]&0x80 != 0 {
		w.uint32(uint32(len(b) + 1))
		w.buf = append(w.buf, 0)
		w.buf = append(w.buf, b...)
		return
	}
	w.string(b)
}

func (w *wireBuilder) bytes() []byte { return w.buf }

func joinComma(names []string) string {
	if len(names) == 0 {
		return ""
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "," + n
	}
	return out
}

// writeString / writeMPInt append the RFC 4253 section 8 framing
// ("string" and "mpint" respectively) to a running exchange-hash digest,
// matching the teacher's writeString/writeInt helpers in client.go's
// kexECDH/kexDH hash construction.
func writeString(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

func writeMPInt(h interface{ Write([]byte) (int, error) }, n *big.Int) {
	w := &wireBuilder{}
	w.mpint(n)
	h.Write(w.bytes())
}
