// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"math/big"

	_ "crypto/sha1"
	_ "crypto/sha512"
)

// Public key algorithm names, RFC 4253 6.6 plus the ed25519 addition every
// modern client defaults to (the teacher's certs.go predates ed25519
// support entirely; this is the one deliberate enrichment called for by
// SPEC_FULL.md 4.H).
const (
	KeyAlgoRSA      = "ssh-rsa"
	KeyAlgoDSA      = "ssh-dss"
	KeyAlgoECDSA256 = "ecdsa-sha2-nistp256"
	KeyAlgoECDSA384 = "ecdsa-sha2-nistp384"
	KeyAlgoECDSA521 = "ecdsa-sha2-nistp521"
	KeyAlgoED25519  = "ssh-ed25519"
)

// hashFuncs keeps the mapping of supported algorithms to their respective
// hashes, needed for signature verification. ed25519 does its own hashing
// internally and has no entry here.
var hashFuncs = map[string]crypto.Hash{
	KeyAlgoRSA:          crypto.SHA1,
	KeyAlgoDSA:          crypto.SHA1,
	KeyAlgoECDSA256:     crypto.SHA256,
	KeyAlgoECDSA384:     crypto.SHA384,
	KeyAlgoECDSA521:     crypto.SHA512,
	CertAlgoRSAv01:      crypto.SHA1,
	CertAlgoDSAv01:      crypto.SHA1,
	CertAlgoECDSA256v01: crypto.SHA256,
	CertAlgoECDSA384v01: crypto.SHA384,
	CertAlgoECDSA521v01: crypto.SHA512,
}

// PublicKey represents a parsed, verifiable SSH public key as consumed by
// the auth sub-protocol (spec.md 6, "Key subsystem"). Plain keys and
// OpenSSH certificates both implement it.
type PublicKey interface {
	// PublicKeyAlgo returns the algorithm name used on the wire for this
	// key (e.g. "ssh-ed25519", or a *-cert-v01@openssh.com variant).
	PublicKeyAlgo() string

	// Marshal returns the wire-format blob for this key, without the
	// leading algorithm-name string (the caller prefixes that separately,
	// matching how USERAUTH_PK_OK / publickey requests lay out the key).
	Marshal() []byte

	// Verify checks sig against data. data is exactly the bytes the
	// session signed during publickey auth: session_id || partial
	// USERAUTH_REQUEST (spec.md 4.C).
	Verify(data, sig []byte) bool
}

// ErrKeyParse is returned by Parse when the blob is structurally invalid.
// The auth layer treats this as a recoverable rejection, not a fatal
// session error (spec.md 7, "KeyParse (recoverable)").
var ErrKeyParse = errors.New("ssh: could not parse key")

// ParsePublicKey parses an on-wire public key blob (algorithm-name string
// followed by the key-specific payload, as carried in a KEX reply's host
// key field or a certificate's signature key) into a PublicKey.
func ParsePublicKey(in []byte) (out PublicKey, rest []byte, ok bool) {
	algo, in, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	return parsePubKey(string(algo), in)
}

// Parse parses algo/blob exactly as the wire carries them in a publickey
// USERAUTH_REQUEST: the algorithm name has already been read off the wire
// separately from the key blob itself.
func Parse(algo string, blob []byte) (PublicKey, error) {
	key, _, ok := parsePubKey(algo, blob)
	if !ok {
		return nil, ErrKeyParse
	}
	return key, nil
}

func parsePubKey(algo string, in []byte) (out PublicKey, rest []byte, ok bool) {
	switch algo {
	case KeyAlgoRSA:
		return parseRSA(in)
	case KeyAlgoDSA:
		return parseDSA(in)
	case KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521:
		return parseECDSA(in)
	case KeyAlgoED25519:
		return parseED25519(in)
	case CertAlgoRSAv01, CertAlgoDSAv01, CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01:
		return parseOpenSSHCertV01(in, algo)
	}
	return nil, nil, false
}

// --- ssh-rsa ---

type rsaPublicKey rsa.PublicKey

func parseRSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	var e, n []byte
	if e, in, ok = parseString(in); !ok {
		return
	}
	if n, in, ok = parseString(in); !ok {
		return
	}
	key := &rsaPublicKey{
		E: int(new(big.Int).SetBytes(e).Int64()),
		N: new(big.Int).SetBytes(n),
	}
	return key, in, true
}

func (r *rsaPublicKey) PublicKeyAlgo() string { return KeyAlgoRSA }

func (r *rsaPublicKey) Marshal() []byte {
	e := new(big.Int).SetInt64(int64(r.E))
	eBytes := e.Bytes()
	nBytes := r.N.Bytes()
	length := stringLength(len(eBytes)) + stringLength(len(nBytes))
	ret := make([]byte, length)
	rest := marshalString(ret, eBytes)
	marshalString(rest, nBytes)
	return ret
}

func (r *rsaPublicKey) Verify(data, sigBlob []byte) bool {
	sig, rest, ok := parseSignatureBody(sigBlob)
	if !ok || len(rest) > 0 || sig.Format != KeyAlgoRSA {
		return false
	}
	h := hashFuncs[KeyAlgoRSA].New()
	h.Write(data)
	digest := h.Sum(nil)
	return rsa.VerifyPKCS1v15((*rsa.PublicKey)(r), hashFuncs[KeyAlgoRSA], digest, sig.Blob) == nil
}

// --- ssh-dss ---

type dsaPublicKey dsa.PublicKey

func parseDSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	var p, q, g, y []byte
	if p, in, ok = parseString(in); !ok {
		return
	}
	if q, in, ok = parseString(in); !ok {
		return
	}
	if g, in, ok = parseString(in); !ok {
		return
	}
	if y, in, ok = parseString(in); !ok {
		return
	}
	key := &dsaPublicKey{
		Parameters: dsa.Parameters{
			P: new(big.Int).SetBytes(p),
			Q: new(big.Int).SetBytes(q),
			G: new(big.Int).SetBytes(g),
		},
		Y: new(big.Int).SetBytes(y),
	}
	return key, in, true
}

func (k *dsaPublicKey) PublicKeyAlgo() string { return KeyAlgoDSA }

func (k *dsaPublicKey) Marshal() []byte {
	pb, qb, gb, yb := k.P.Bytes(), k.Q.Bytes(), k.G.Bytes(), k.Y.Bytes()
	length := stringLength(len(pb)) + stringLength(len(qb)) + stringLength(len(gb)) + stringLength(len(yb))
	ret := make([]byte, length)
	rest := marshalString(ret, pb)
	rest = marshalString(rest, qb)
	rest = marshalString(rest, gb)
	marshalString(rest, yb)
	return ret
}

func (k *dsaPublicKey) Verify(data, sigBlob []byte) bool {
	sig, rest, ok := parseSignatureBody(sigBlob)
	if !ok || len(rest) > 0 || sig.Format != KeyAlgoDSA || len(sig.Blob) != 40 {
		return false
	}
	r := new(big.Int).SetBytes(sig.Blob[:20])
	s := new(big.Int).SetBytes(sig.Blob[20:])
	h := hashFuncs[KeyAlgoDSA].New()
	h.Write(data)
	digest := h.Sum(nil)
	return dsa.Verify((*dsa.PublicKey)(k), digest, r, s)
}

// --- ecdsa-sha2-nistp{256,384,521} ---

type ecdsaPublicKey ecdsa.PublicKey

func parseECDSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	var curveName, pointBytes []byte
	if curveName, in, ok = parseString(in); !ok {
		return
	}
	if pointBytes, in, ok = parseString(in); !ok {
		return
	}
	var curve elliptic.Curve
	switch string(curveName) {
	case "nistp256":
		curve = elliptic.P256()
	case "nistp384":
		curve = elliptic.P384()
	case "nistp521":
		curve = elliptic.P521()
	default:
		return nil, nil, false
	}
	x, y := elliptic.Unmarshal(curve, pointBytes)
	if x == nil {
		return nil, nil, false
	}
	return &ecdsaPublicKey{Curve: curve, X: x, Y: y}, in, true
}

func ecdsaCurveName(curve elliptic.Curve) string {
	switch curve.Params().BitSize {
	case 256:
		return "nistp256"
	case 384:
		return "nistp384"
	default:
		return "nistp521"
	}
}

func (k *ecdsaPublicKey) algo() string {
	switch k.Curve.Params().BitSize {
	case 256:
		return KeyAlgoECDSA256
	case 384:
		return KeyAlgoECDSA384
	default:
		return KeyAlgoECDSA521
	}
}

func (k *ecdsaPublicKey) PublicKeyAlgo() string { return k.algo() }

func (k *ecdsaPublicKey) Marshal() []byte {
	point := elliptic.Marshal(k.Curve, k.X, k.Y)
	name := ecdsaCurveName(k.Curve)
	length := stringLength(len(name)) + stringLength(len(point))
	ret := make([]byte, length)
	rest := marshalString(ret, []byte(name))
	marshalString(rest, point)
	return ret
}

func (k *ecdsaPublicKey) Verify(data, sigBlob []byte) bool {
	sig, rest, ok := parseSignatureBody(sigBlob)
	if !ok || len(rest) > 0 {
		return false
	}
	var ecSig struct {
		R, S *big.Int
	}
	r, s, ok := parseECDSASignature(sig.Blob)
	if !ok {
		return false
	}
	ecSig.R, ecSig.S = r, s
	h := hashFuncs[k.algo()].New()
	h.Write(data)
	digest := h.Sum(nil)
	return ecdsa.Verify((*ecdsa.PublicKey)(k), digest, r, s)
}

func parseECDSASignature(in []byte) (r, s *big.Int, ok bool) {
	var rBytes, sBytes []byte
	if rBytes, in, ok = parseString(in); !ok {
		return
	}
	if sBytes, in, ok = parseString(in); !ok {
		return
	}
	return new(big.Int).SetBytes(rBytes), new(big.Int).SetBytes(sBytes), true
}

// --- ssh-ed25519 ---

type ed25519PublicKey []byte

func parseED25519(in []byte) (out PublicKey, rest []byte, ok bool) {
	var key []byte
	if key, in, ok = parseString(in); !ok {
		return
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, nil, false
	}
	k := make(ed25519PublicKey, ed25519.PublicKeySize)
	copy(k, key)
	return k, in, true
}

func (k ed25519PublicKey) PublicKeyAlgo() string { return KeyAlgoED25519 }

func (k ed25519PublicKey) Marshal() []byte {
	ret := make([]byte, stringLength(len(k)))
	marshalString(ret, []byte(k))
	return ret
}

func (k ed25519PublicKey) Verify(data, sigBlob []byte) bool {
	sig, rest, ok := parseSignatureBody(sigBlob)
	if !ok || len(rest) > 0 || sig.Format != KeyAlgoED25519 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k), data, sig.Blob)
}

// buildDataSignedForAuth returns the data that is signed to prove
// possession of a private key during publickey auth. See RFC 4252,
// section 7: string(session_id) || the USERAUTH_REQUEST up to (but not
// including) the signature field.
func buildDataSignedForAuth(sessionID []byte, user, service, method, algo string, pubKeyBlob []byte) []byte {
	length := stringLength(len(sessionID))
	length += 1
	length += stringLength(len(user))
	length += stringLength(len(service))
	length += stringLength(len(method))
	length += 1
	length += stringLength(len(algo))
	length += stringLength(len(pubKeyBlob))

	ret := make([]byte, length)
	r := marshalString(ret, sessionID)
	r[0] = msgUserAuthRequest
	r = r[1:]
	r = marshalString(r, []byte(user))
	r = marshalString(r, []byte(service))
	r = marshalString(r, []byte(method))
	r[0] = 1
	r = r[1:]
	r = marshalString(r, []byte(algo))
	marshalString(r, pubKeyBlob)
	return ret
}

// sha256Sum returns the SHA-256 digest of b. Nothing in the module calls
// it; logging.go's fingerprintHex renders raw session-id bytes instead.
func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
