// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "context"

// This file defines the seam between the encrypted-session core and the
// KEX subsystem (spec.md 6, "Upstream interfaces the core consumes" /
// SPEC_FULL.md 4.G). The core only ever talks to a KexEngine; the default
// implementation lives in ssh/kex and is wired in by cmd/sshcore-demo (or
// any other caller) through the engine argument of NewSession (Dial and
// Accept pass theirs on to it).

// CryptoConfig carries the preference-ordered algorithm name lists a
// KexEngine negotiates with, opaque to the core itself (spec.md 6,
// "preferred"). Grounded on the teacher's own CryptoConfig in common.go.
type CryptoConfig struct {
	KeyExchanges []string
	Ciphers      []string
	MACs         []string
	Compressions []string
}

// Exchange is the rekey payload handed to the KexEngine and returned on
// completion (spec.md 3, "Exchange"). ClientKexInit/ServerKexInit are the
// raw KEXINIT payloads (needed verbatim for the exchange hash); SessionID
// is only set after the first KEX and is never overwritten by a later one
// (spec.md 3 invariant: "session_id is fixed at first KEX completion").
type Exchange struct {
	ClientID      []byte
	ServerID      []byte
	ClientKexInit []byte
	ServerKexInit []byte
	SessionID     []byte
}

// KexInit is a parsed SSH_MSG_KEXINIT, used by the driver to decide
// whether an incoming KEXINIT starts a rekey.
type KexInit struct {
	Cookie                  [16]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
}

// KexReply is what a completed exchange produces: a fresh Exchange
// (carrying the durable SessionID) and nothing else — negotiated
// cipher/MAC state is not surfaced to the core (spec.md 1: cipher/MAC
// primitives are an external collaborator). The default engine in ssh/kex
// computes the exchange hash only; it derives no session keys and
// installs nothing on the Transport.
type KexReply struct {
	Exchange *Exchange
}

// KexEngine drives one KEX (initial or rekey) to completion. ReadKexInit
// parses a peer KEXINIT payload (opcode already stripped); Server/Client
// take over the Transport directly — reading/writing the remaining KEX
// packets themselves — until NEWKEYS completes, then return the resulting
// Exchange. The driver never sees the intermediate KEX packets; this
// mirrors the teacher's own handshake(), which runs start-to-finish
// before mainLoop begins dispatching ordinary traffic.
type KexEngine interface {
	ReadKexInit(payload []byte) (*KexInit, error)
	Server(ctx context.Context, t Transport, ex *Exchange, hostKeys []Signer) (*KexReply, error)
	Client(ctx context.Context, t Transport, ex *Exchange, hostKeyCheck HostKeyCallback) (*KexReply, error)
}
