// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kex is the default ssh.KexEngine (SPEC_FULL.md 4.G): it
// negotiates a key-exchange method from a shared KEXINIT, runs the
// matching ECDH/curve25519/classic-DH handshake directly against the
// ssh.Transport, verifies or produces the host key signature over the
// resulting exchange hash, and hands back the ssh.Exchange the core
// installs. Grounded on the teacher's client.go (handshake, kexECDH,
// kexDH) and common.go (dhGroup1/14, findCommonAlgorithm) — the teacher
// only ever plays the client role, so the server-side mirror image
// (producing rather than verifying the signature, replying rather than
// initiating) is new code written in the same shape.
package kex

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"

	"github.com/harborssh/sshcore/ssh"
)

const (
	msgKexInit      = 20
	msgNewKeys      = 21
	msgKexECDHInit  = 30
	msgKexECDHReply = 31
	msgKexDHInit    = 30
	msgKexDHReply   = 31
)

// Engine is the default ssh.KexEngine. The zero value negotiates with
// DefaultKexAlgos; set Crypto to restrict or reorder preferences.
type Engine struct {
	Crypto ssh.CryptoConfig

	// RandReader overrides crypto/rand.Reader; nil uses the default.
	RandReader io.Reader
}

func (e *Engine) kexAlgos() []string {
	if len(e.Crypto.KeyExchanges) > 0 {
		return e.Crypto.KeyExchanges
	}
	return DefaultKexAlgos
}

func (e *Engine) rnd() io.Reader {
	if e.RandReader != nil {
		return e.RandReader
	}
	return rand.Reader
}

// ReadKexInit parses a peer SSH_MSG_KEXINIT payload (opcode already
// stripped by the driver).
func (e *Engine) ReadKexInit(payload []byte) (*ssh.KexInit, error) {
	ki, _, ok := parseKexInit(payload)
	if !ok {
		return nil, errors.New("kex: malformed KEXINIT")
	}
	return ki, nil
}

func parseKexInit(in []byte) (*ssh.KexInit, []byte, bool) {
	ki := &ssh.KexInit{}
	if len(in) < 16 {
		return nil, nil, false
	}
	copy(ki.Cookie[:], in[:16])
	in = in[16:]
	var ok bool
	if ki.KexAlgos, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.ServerHostKeyAlgos, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.CiphersClientServer, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.CiphersServerClient, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.MACsClientServer, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.MACsServerClient, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.CompressionClientServer, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.CompressionServerClient, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.LanguagesClientServer, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.LanguagesServerClient, in, ok = parseNameList(in); !ok {
		return nil, nil, false
	}
	if ki.FirstKexFollows, in, ok = parseBool(in); !ok {
		return nil, nil, false
	}
	// reserved uint32
	if _, in, ok = parseUint32(in); !ok {
		return nil, nil, false
	}
	return ki, in, true
}

// marshalKexInit builds the wire payload (opcode included) this Engine
// offers, keyed on its own preference lists.
func (e *Engine) marshalKexInit() []byte {
	w := &wireBuilder{}
	w.byte(msgKexInit)
	var cookie [16]byte
	e.rnd().Read(cookie[:])
	w.raw(cookie[:])
	w.nameList(e.kexAlgos())
	w.nameList([]string{ssh.KeyAlgoED25519, ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384, ssh.KeyAlgoECDSA521, ssh.KeyAlgoRSA, ssh.KeyAlgoDSA})
	ciphers := e.Crypto.Ciphers
	if len(ciphers) == 0 {
		ciphers = []string{"aes128-ctr"}
	}
	macs := e.Crypto.MACs
	if len(macs) == 0 {
		macs = []string{"hmac-sha2-256"}
	}
	comp := e.Crypto.Compressions
	if len(comp) == 0 {
		comp = []string{"none"}
	}
	w.nameList(ciphers)
	w.nameList(ciphers)
	w.nameList(macs)
	w.nameList(macs)
	w.nameList(comp)
	w.nameList(comp)
	w.nameList(nil)
	w.nameList(nil)
	w.bool(false)
	w.uint32(0)
	return w.bytes()
}

func findCommon(mine, theirs []string) (string, bool) {
	for _, a := range mine {
		for _, b := range theirs {
			if a == b {
				return a, true
			}
		}
	}
	return "", false
}

// exchangeMagics are the four verbatim byte strings every KEX hash
// incorporates (RFC 4253 section 8), named the way the teacher's
// handshakeMagics struct in common.go names them.
type exchangeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

// Server runs the responder side of a handshake: send our KEXINIT, wait
// for the client's KEX method message, derive the shared secret, sign the
// exchange hash with one of hostKeys, and reply.
//
// ex.ClientKexInit carries the peer's raw KEXINIT packet when the driver
// already consumed it off the wire before calling in (a rekey — see
// ssh/session.go's handleRekey). When it is nil, this is the initial KEX
// for a brand new connection and nothing has read anything yet, so Server
// reads it itself — mirroring the teacher's own handshake(), which writes
// its KEXINIT and only then reads the peer's.
func (e *Engine) Server(ctx context.Context, t ssh.Transport, ex *ssh.Exchange, hostKeys []ssh.Signer) (*ssh.KexReply, error) {
	if len(hostKeys) == 0 {
		return nil, errors.New("kex: no host keys configured")
	}
	ourKexInit := e.marshalKexInit()
	if err := t.WriteAll(ctx, ourKexInit); err != nil {
		return nil, err
	}

	if ex.ClientKexInit == nil {
		peer, err := readPeerKexInit(ctx, t)
		if err != nil {
			return nil, err
		}
		ex.ClientKexInit = peer
	}

	magics := exchangeMagics{
		clientVersion: ex.ClientID,
		serverVersion: ex.ServerID,
		clientKexInit: ex.ClientKexInit,
		serverKexInit: ourKexInit,
	}

	peerInit, _, ok := parseKexInit(ex.ClientKexInit[1:])
	if !ok {
		return nil, errors.New("kex: malformed peer KEXINIT")
	}
	ourInit, _, _ := parseKexInit(ourKexInit[1:])

	kexAlgo, ok := findCommon(ourInit.KexAlgos, peerInit.KexAlgos)
	if !ok {
		return nil, errors.New("kex: no common key exchange algorithm")
	}
	hostKeyAlgo, ok := findCommon(ourInit.ServerHostKeyAlgos, peerInit.ServerHostKeyAlgos)
	if !ok {
		return nil, errors.New("kex: no common host key algorithm")
	}
	signer := pickSigner(hostKeys, hostKeyAlgo)
	if signer == nil {
		return nil, fmt.Errorf("kex: no host key for algorithm %s", hostKeyAlgo)
	}

	result, err := e.serverKex(ctx, t, kexAlgo, &magics, signer)
	if err != nil {
		return nil, err
	}

	if err := t.WriteAll(ctx, []byte{msgNewKeys}); err != nil {
		return nil, err
	}
	if _, err := expectOpcode(ctx, t, msgNewKeys); err != nil {
		return nil, err
	}

	return &ssh.KexReply{Exchange: finishExchange(ex, result.H)}, nil
}

// Client runs the initiator side: send our KEXINIT, obtain the peer's
// (already captured by the driver into ex.ServerKexInit on a rekey — see
// ssh/session.go's handleRekey — or read fresh here on the initial KEX,
// the same write-then-read order the teacher's own handshake() uses),
// run the negotiated method, verify the host key, and complete NEWKEYS.
func (e *Engine) Client(ctx context.Context, t ssh.Transport, ex *ssh.Exchange, hostKeyCheck ssh.HostKeyCallback) (*ssh.KexReply, error) {
	ourKexInit := e.marshalKexInit()
	if err := t.WriteAll(ctx, ourKexInit); err != nil {
		return nil, err
	}

	if ex.ServerKexInit == nil {
		peer, err := readPeerKexInit(ctx, t)
		if err != nil {
			return nil, err
		}
		ex.ServerKexInit = peer
	}

	magics := exchangeMagics{
		clientVersion: ex.ClientID,
		serverVersion: ex.ServerID,
		clientKexInit: ourKexInit,
		serverKexInit: ex.ServerKexInit,
	}

	peerInit, _, ok := parseKexInit(ex.ServerKexInit[1:])
	if !ok {
		return nil, errors.New("kex: malformed peer KEXINIT")
	}
	ourInit, _, _ := parseKexInit(ourKexInit[1:])

	kexAlgo, ok := findCommon(ourInit.KexAlgos, peerInit.KexAlgos)
	if !ok {
		return nil, errors.New("kex: no common key exchange algorithm")
	}
	hostKeyAlgo, ok := findCommon(ourInit.ServerHostKeyAlgos, peerInit.ServerHostKeyAlgos)
	if !ok {
		return nil, errors.New("kex: no common host key algorithm")
	}

	result, err := e.clientKex(ctx, t, kexAlgo, &magics)
	if err != nil {
		return nil, err
	}

	hostKey, err := verifyHostKeySignature(hostKeyAlgo, result.hostKeyBlob, result.H, result.signature)
	if err != nil {
		return nil, err
	}
	if hostKeyCheck != nil {
		if err := hostKeyCheck("", hostKey); err != nil {
			return nil, err
		}
	}

	if _, err := expectOpcode(ctx, t, msgNewKeys); err != nil {
		return nil, err
	}
	if err := t.WriteAll(ctx, []byte{msgNewKeys}); err != nil {
		return nil, err
	}

	return &ssh.KexReply{Exchange: finishExchange(ex, result.H)}, nil
}

// finishExchange builds the post-handshake Exchange: SessionID is set to
// H on the very first KEX and left untouched on every rekey afterwards
// (spec.md 3 invariant — enforced again defensively here even though
// ssh/state.go's putExchange already carries it over).
func finishExchange(prior *ssh.Exchange, h []byte) *ssh.Exchange {
	sessionID := h
	if len(prior.SessionID) > 0 {
		sessionID = prior.SessionID
	}
	return &ssh.Exchange{
		ClientID:  prior.ClientID,
		ServerID:  prior.ServerID,
		SessionID: sessionID,
	}
}

// readPeerKexInit reads one packet expected to be a KEXINIT and returns it
// whole, opcode included, ready to drop into an Exchange's ClientKexInit/
// ServerKexInit field for the hash computation.
func readPeerKexInit(ctx context.Context, t ssh.Transport) ([]byte, error) {
	pkt, err := t.ReadPacket(ctx)
	if err != nil {
		return nil, err
	}
	if len(pkt) == 0 || pkt[0] != msgKexInit {
		return nil, fmt.Errorf("kex: expected KEXINIT, got %v", pkt)
	}
	return pkt, nil
}

func expectOpcode(ctx context.Context, t ssh.Transport, want byte) ([]byte, error) {
	pkt, err := t.ReadPacket(ctx)
	if err != nil {
		return nil, err
	}
	if len(pkt) == 0 || pkt[0] != want {
		return nil, fmt.Errorf("kex: expected opcode %d, got %v", want, pkt)
	}
	return pkt[1:], nil
}

func pickSigner(hostKeys []ssh.Signer, algo string) ssh.Signer {
	for _, s := range hostKeys {
		if s.PublicKey().PublicKeyAlgo() == algo {
			return s
		}
	}
	return nil
}

// verifyHostKeySignature matches the teacher's client.go function of the
// same name: parse the host key blob, confirm the signature's format tag
// agrees with the negotiated host key algorithm, and verify.
func verifyHostKeySignature(hostKeyAlgo string, hostKeyBlob, data, signature []byte) (ssh.PublicKey, error) {
	hostKey, rest, ok := ssh.ParsePublicKey(hostKeyBlob)
	if !ok || len(rest) > 0 {
		return nil, errors.New("kex: could not parse host key")
	}
	if hostKey.PublicKeyAlgo() != hostKeyAlgo {
		return nil, fmt.Errorf("kex: host key algo mismatch: got %s want %s", hostKey.PublicKeyAlgo(), hostKeyAlgo)
	}
	if !hostKey.Verify(data, signature) {
		return nil, errors.New("kex: host key signature verification failed")
	}
	return hostKey, nil
}

// kexResult is the common outcome of any of the method-specific
// handshakes below, named after the teacher's own kexResult in client.go.
type kexResult struct {
	H           []byte
	hostKeyBlob []byte
	signature   []byte
}

func (e *Engine) serverKex(ctx context.Context, t ssh.Transport, algo string, magics *exchangeMagics, signer ssh.Signer) (*kexResult, error) {
	switch algo {
	case KexAlgoCurve25519:
		return e.serverCurve25519(ctx, t, magics, signer)
	case KexAlgoECDH256:
		return e.serverECDH(ctx, t, elliptic.P256(), magics, signer)
	case KexAlgoECDH384:
		return e.serverECDH(ctx, t, elliptic.P384(), magics, signer)
	case KexAlgoECDH521:
		return e.serverECDH(ctx, t, elliptic.P521(), magics, signer)
	case KexAlgoDH14SHA1, KexAlgoDH1SHA1:
		group, hash, _ := groupFor(algo)
		return e.serverDH(ctx, t, group, hash, magics, signer)
	}
	return nil, fmt.Errorf("kex: unsupported algorithm %s", algo)
}

func (e *Engine) clientKex(ctx context.Context, t ssh.Transport, algo string, magics *exchangeMagics) (*kexResult, error) {
	switch algo {
	case KexAlgoCurve25519:
		return e.clientCurve25519(ctx, t, magics)
	case KexAlgoECDH256:
		return e.clientECDH(ctx, t, elliptic.P256(), magics)
	case KexAlgoECDH384:
		return e.clientECDH(ctx, t, elliptic.P384(), magics)
	case KexAlgoECDH521:
		return e.clientECDH(ctx, t, elliptic.P521(), magics)
	case KexAlgoDH14SHA1, KexAlgoDH1SHA1:
		group, hash, _ := groupFor(algo)
		return e.clientDH(ctx, t, group, hash, magics)
	}
	return nil, fmt.Errorf("kex: unsupported algorithm %s", algo)
}

// --- ECDH (RFC 5656 section 4); teacher's client.go kexECDH, mirrored on
// the server side ---

func (e *Engine) clientECDH(ctx context.Context, t ssh.Transport, curve elliptic.Curve, magics *exchangeMagics) (*kexResult, error) {
	ephKey, err := ecdsa.GenerateKey(curve, e.rnd())
	if err != nil {
		return nil, err
	}
	clientPub := elliptic.Marshal(curve, ephKey.PublicKey.X, ephKey.PublicKey.Y)

	w := &wireBuilder{}
	w.byte(msgKexECDHInit)
	w.string(clientPub)
	if err := t.WriteAll(ctx, w.bytes()); err != nil {
		return nil, err
	}

	body, err := expectOpcode(ctx, t, msgKexECDHReply)
	if err != nil {
		return nil, err
	}
	hostKeyBlob, rest, ok := parseString(body)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_REPLY")
	}
	serverPub, rest, ok := parseString(rest)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_REPLY")
	}
	signature, _, ok := parseString(rest)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_REPLY")
	}

	x, y := elliptic.Unmarshal(curve, serverPub)
	if x == nil || !curve.IsOnCurve(x, y) {
		return nil, errors.New("kex: ephemeral server key not on curve")
	}
	secret, _ := curve.ScalarMult(x, y, ephKey.D.Bytes())

	h := ecHash(curve.Params().BitSize).New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, hostKeyBlob)
	writeString(h, clientPub)
	writeString(h, serverPub)
	writeMPInt(h, secret)

	return &kexResult{H: h.Sum(nil), hostKeyBlob: hostKeyBlob, signature: signature}, nil
}

func (e *Engine) serverECDH(ctx context.Context, t ssh.Transport, curve elliptic.Curve, magics *exchangeMagics, signer ssh.Signer) (*kexResult, error) {
	body, err := expectOpcode(ctx, t, msgKexECDHInit)
	if err != nil {
		return nil, err
	}
	clientPub, _, ok := parseString(body)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_INIT")
	}
	x, y := elliptic.Unmarshal(curve, clientPub)
	if x == nil || !curve.IsOnCurve(x, y) {
		return nil, errors.New("kex: client ephemeral key not on curve")
	}

	ephKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	serverPub := elliptic.Marshal(curve, ephKey.PublicKey.X, ephKey.PublicKey.Y)
	secret, _ := curve.ScalarMult(x, y, ephKey.D.Bytes())

	hostKeyBlob := signer.PublicKey().Marshal()
	fullHostKeyBlob := withAlgoPrefix(signer.PublicKey().PublicKeyAlgo(), hostKeyBlob)

	h := ecHash(curve.Params().BitSize).New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, fullHostKeyBlob)
	writeString(h, clientPub)
	writeString(h, serverPub)
	writeMPInt(h, secret)
	digest := h.Sum(nil)

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}

	w := &wireBuilder{}
	w.byte(msgKexECDHReply)
	w.string(fullHostKeyBlob)
	w.string(serverPub)
	w.string(sig)
	if err := t.WriteAll(ctx, w.bytes()); err != nil {
		return nil, err
	}

	return &kexResult{H: digest, hostKeyBlob: fullHostKeyBlob, signature: sig}, nil
}

// --- curve25519-sha256 (RFC 8731); new relative to the teacher, grounded
// on golang.org/x/crypto/curve25519 and the same exchange-hash shape as
// ECDH above ---

func (e *Engine) clientCurve25519(ctx context.Context, t ssh.Transport, magics *exchangeMagics) (*kexResult, error) {
	var priv [32]byte
	if _, err := e.rnd().Read(priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	w := &wireBuilder{}
	w.byte(msgKexECDHInit)
	w.string(pub)
	if err := t.WriteAll(ctx, w.bytes()); err != nil {
		return nil, err
	}

	body, err := expectOpcode(ctx, t, msgKexECDHReply)
	if err != nil {
		return nil, err
	}
	hostKeyBlob, rest, ok := parseString(body)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_REPLY")
	}
	serverPub, rest, ok := parseString(rest)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_REPLY")
	}
	signature, _, ok := parseString(rest)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_REPLY")
	}

	secretBytes, err := curve25519.X25519(priv[:], serverPub)
	if err != nil {
		return nil, fmt.Errorf("kex: curve25519 agreement failed: %w", err)
	}
	secret := new(big.Int).SetBytes(secretBytes)

	h := sha256.New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, hostKeyBlob)
	writeString(h, pub)
	writeString(h, serverPub)
	writeMPInt(h, secret)

	return &kexResult{H: h.Sum(nil), hostKeyBlob: hostKeyBlob, signature: signature}, nil
}

func (e *Engine) serverCurve25519(ctx context.Context, t ssh.Transport, magics *exchangeMagics, signer ssh.Signer) (*kexResult, error) {
	body, err := expectOpcode(ctx, t, msgKexECDHInit)
	if err != nil {
		return nil, err
	}
	clientPub, _, ok := parseString(body)
	if !ok {
		return nil, errors.New("kex: malformed KEX_ECDH_INIT")
	}

	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	serverPub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	secretBytes, err := curve25519.X25519(priv[:], clientPub)
	if err != nil {
		return nil, fmt.Errorf("kex: curve25519 agreement failed: %w", err)
	}
	secret := new(big.Int).SetBytes(secretBytes)

	fullHostKeyBlob := withAlgoPrefix(signer.PublicKey().PublicKeyAlgo(), signer.PublicKey().Marshal())

	h := sha256.New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, fullHostKeyBlob)
	writeString(h, clientPub)
	writeString(h, serverPub)
	writeMPInt(h, secret)
	digest := h.Sum(nil)

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}

	w := &wireBuilder{}
	w.byte(msgKexECDHReply)
	w.string(fullHostKeyBlob)
	w.string(serverPub)
	w.string(sig)
	if err := t.WriteAll(ctx, w.bytes()); err != nil {
		return nil, err
	}

	return &kexResult{H: digest, hostKeyBlob: fullHostKeyBlob, signature: sig}, nil
}

// --- classic Diffie-Hellman (RFC 4253 section 8); teacher's kexDH ---

func (e *Engine) clientDH(ctx context.Context, t ssh.Transport, group *dhGroup, hash crypto.Hash, magics *exchangeMagics) (*kexResult, error) {
	x, err := randInt(e.rnd(), group.p)
	if err != nil {
		return nil, err
	}
	X := new(big.Int).Exp(group.g, x, group.p)

	w := &wireBuilder{}
	w.byte(msgKexDHInit)
	w.mpint(X)
	if err := t.WriteAll(ctx, w.bytes()); err != nil {
		return nil, err
	}

	body, err := expectOpcode(ctx, t, msgKexDHReply)
	if err != nil {
		return nil, err
	}
	hostKeyBlob, rest, ok := parseString(body)
	if !ok {
		return nil, errors.New("kex: malformed KEXDH_REPLY")
	}
	Y, rest, ok := parseMPInt(rest)
	if !ok {
		return nil, errors.New("kex: malformed KEXDH_REPLY")
	}
	signature, _, ok := parseString(rest)
	if !ok {
		return nil, errors.New("kex: malformed KEXDH_REPLY")
	}

	k, err := group.diffieHellman(Y, x)
	if err != nil {
		return nil, err
	}

	h := hash.New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, hostKeyBlob)
	writeMPInt(h, X)
	writeMPInt(h, Y)
	writeMPInt(h, k)

	return &kexResult{H: h.Sum(nil), hostKeyBlob: hostKeyBlob, signature: signature}, nil
}

func (e *Engine) serverDH(ctx context.Context, t ssh.Transport, group *dhGroup, hash crypto.Hash, magics *exchangeMagics, signer ssh.Signer) (*kexResult, error) {
	body, err := expectOpcode(ctx, t, msgKexDHInit)
	if err != nil {
		return nil, err
	}
	X, _, ok := parseMPInt(body)
	if !ok {
		return nil, errors.New("kex: malformed KEXDH_INIT")
	}

	y, err := randInt(rand.Reader, group.p)
	if err != nil {
		return nil, err
	}
	Y := new(big.Int).Exp(group.g, y, group.p)
	k, err := group.diffieHellman(X, y)
	if err != nil {
		return nil, err
	}

	fullHostKeyBlob := withAlgoPrefix(signer.PublicKey().PublicKeyAlgo(), signer.PublicKey().Marshal())

	h := hash.New()
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
	writeString(h, fullHostKeyBlob)
	writeMPInt(h, X)
	writeMPInt(h, Y)
	writeMPInt(h, k)
	digest := h.Sum(nil)

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}

	w := &wireBuilder{}
	w.byte(msgKexDHReply)
	w.string(fullHostKeyBlob)
	w.mpint(Y)
	w.string(sig)
	if err := t.WriteAll(ctx, w.bytes()); err != nil {
		return nil, err
	}

	return &kexResult{H: digest, hostKeyBlob: fullHostKeyBlob, signature: sig}, nil
}

func randInt(r io.Reader, max *big.Int) (*big.Int, error) {
	return rand.Int(r, max)
}

// withAlgoPrefix prepends the RFC 4253 6.6 algorithm-name string a
// PublicKey.Marshal() blob omits, producing the full wire public-key blob
// (ssh.ParsePublicKey's expected input shape).
func withAlgoPrefix(algo string, blob []byte) []byte {
	w := &wireBuilder{}
	w.string([]byte(algo))
	w.raw(blob)
	return w.bytes()
}
