// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kex

import (
	"crypto"
	"errors"
	"math/big"
	"sync"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Algorithm names (spec.md/SPEC_FULL.md 4.G). curve25519-sha256 is the one
// deliberate enrichment over the teacher's algorithm set — the teacher
// predates RFC 8731 entirely — added via golang.org/x/crypto/curve25519
// (ed25519 verification in ssh/keys.go uses the standard library's
// crypto/ed25519, not x/crypto). diffie-hellman-group1-sha1 is kept
// for interop with legacy peers even though it is the weakest option,
// matching the teacher's own unconditional inclusion of it in
// supportedKexAlgos.
const (
	KexAlgoCurve25519 = "curve25519-sha256"
	KexAlgoECDH256    = "ecdh-sha2-nistp256"
	KexAlgoECDH384    = "ecdh-sha2-nistp384"
	KexAlgoECDH521    = "ecdh-sha2-nistp521"
	KexAlgoDH14SHA1   = "diffie-hellman-group14-sha1"
	KexAlgoDH1SHA1    = "diffie-hellman-group1-sha1"
)

// DefaultKexAlgos is the preference order a fresh Engine negotiates with
// when Config.Preferred.KeyExchanges is empty, strongest first.
var DefaultKexAlgos = []string{
	KexAlgoCurve25519,
	KexAlgoECDH256, KexAlgoECDH384, KexAlgoECDH521,
	KexAlgoDH14SHA1, KexAlgoDH1SHA1,
}

// dhGroup is a multiplicative group suitable for Diffie-Hellman key
// agreement (teacher's common.go, same name/shape).
type dhGroup struct {
	g, p *big.Int
}

func (group *dhGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	if theirPublic.Sign() <= 0 || theirPublic.Cmp(group.p) >= 0 {
		return nil, errors.New("kex: DH parameter out of bounds")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, group.p), nil
}

var dhGroup1 *dhGroup
var dhGroup1Once sync.Once

func initDHGroup1() {
	p, _ := new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381FFFFFFFFFFFFFFFF", 16)
	dhGroup1 = &dhGroup{g: big.NewInt(2), p: p}
}

var dhGroup14 *dhGroup
var dhGroup14Once sync.Once

func initDHGroup14() {
	p, _ := new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)
	dhGroup14 = &dhGroup{g: big.NewInt(2), p: p}
}

func groupFor(algo string) (*dhGroup, crypto.Hash, bool) {
	switch algo {
	case KexAlgoDH1SHA1:
		dhGroup1Once.Do(initDHGroup1)
		return dhGroup1, crypto.SHA1, true
	case KexAlgoDH14SHA1:
		dhGroup14Once.Do(initDHGroup14)
		return dhGroup14, crypto.SHA1, true
	}
	return nil, 0, false
}

// ecHash picks the exchange-hash function for an ECDH curve from its bit
// size (RFC 5656 section 6.2.1): SHA-256 up to 256 bits, SHA-384 up to
// 384, SHA-512 above. The classic DH groups use SHA-1 (groupFor) and
// curve25519-sha256 uses SHA-256 directly.
func ecHash(bits int) crypto.Hash {
	switch {
	case bits <= 256:
		return crypto.SHA256
	case bits <= 384:
		return crypto.SHA384
	default:
		return crypto.SHA512
	}
}
