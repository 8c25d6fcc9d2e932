// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "time"

// Default configuration values (spec.md 6, "Configuration").
const (
	DefaultAuthRejectionTime = time.Second
	DefaultWindowSize        = 200000
	DefaultMaxPacketSize     = 200000
	DefaultMaxAuthAttempts   = 10
	DefaultConnectionTimeout = 10 * time.Minute
)

// Limits holds byte/time rekey thresholds (spec.md 6, "limits"). The
// Session Driver does not read them: it never initiates a rekey on its
// own, whatever Limits holds, and only responds to a peer-initiated
// KEXINIT.
type Limits struct {
	RekeyAfterBytes uint64
	RekeyAfterTime  time.Duration
}

// Config is shared by both roles (SPEC_FULL.md 6): a client session simply
// leaves the server-only fields (Methods, AuthBanner, MaxAuthAttempts, …)
// unused, the way the teacher's CryptoConfig is embedded in ClientConfig
// without a mirrored ServerConfig ever needing to exist in this subset.
type Config struct {
	// ServerID / ClientID are the identification strings sent during the
	// version exchange. The core does not perform that exchange itself
	// (out of scope, spec.md 1) but Handler implementations may want to
	// log or inspect it, so it is carried through from the Transport that
	// negotiated it.
	ServerID string
	ClientID string

	// Methods lists the auth methods a server session will offer,
	// e.g. {"publickey", "password"}. Unused on a client Session.
	Methods []string

	// AuthBanner, if non-empty, is sent as a USERAUTH_BANNER right after
	// SERVICE_ACCEPT, before the first USERAUTH_REQUEST is processed.
	AuthBanner string

	// AuthRejectionTime is the constant-time floor every rejection path
	// is held to (spec.md 4.C, "Rejection discipline").
	AuthRejectionTime time.Duration

	// WindowSize is the initial and target per-channel window.
	WindowSize uint32

	// MaximumPacketSize is the per-channel max packet size advertised on
	// CHANNEL_OPEN / CHANNEL_OPEN_CONFIRMATION.
	MaximumPacketSize uint32

	// Preferred holds KEX/cipher/MAC/compression algorithm name lists,
	// opaque to the core (spec.md 6) and handed to the KexEngine
	// collaborator as-is.
	Preferred CryptoConfig

	// MaxAuthAttempts is the rejection count at which the server tears
	// down the connection outright.
	MaxAuthAttempts int

	// ConnectionTimeout is the idle timeout measured from last inbound
	// activity.
	ConnectionTimeout time.Duration

	// Limits holds rekey thresholds; the Session Driver does not act on
	// them (see Limits).
	Limits Limits

	// HostKeys are the server's signing identities, tried in order during
	// KEX; also the source for `ssh-ed25519`/`ecdsa-sha2-*`/`ssh-rsa` host
	// key algorithm negotiation.
	HostKeys []Signer

	// HostKeyCallback verifies the server's host key on a client Session.
	// nil means accept any host key: Dial passes it through as-is and
	// ssh/kex's Engine.Client skips the check when it is nil.
	HostKeyCallback HostKeyCallback
}

// Signer is anything that can produce a signature over arbitrary bytes
// under a known public key, used both for the host key proof during KEX
// and for the FuturePublicKey sign-delegation path during auth.
type Signer interface {
	PublicKey() PublicKey
	Sign(data []byte) ([]byte, error)
}

// HostKeyCallback is invoked once per KEX with the server's offered host
// key; returning an error aborts the handshake.
type HostKeyCallback func(hostname string, key PublicKey) error

// SetDefaults fills zero-valued fields with spec.md 6's documented
// defaults. Called once by NewSession.
func (c *Config) SetDefaults() {
	if c.AuthRejectionTime == 0 {
		c.AuthRejectionTime = DefaultAuthRejectionTime
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MaximumPacketSize == 0 {
		c.MaximumPacketSize = DefaultMaxPacketSize
	}
	if c.MaxAuthAttempts == 0 {
		c.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
}
