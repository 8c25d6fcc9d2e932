// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"sync"
	"time"

	"github.com/harborssh/sshcore/ssh/metrics"
)

// EncryptedState is the tagged variant from spec.md 3, represented as a Go
// interface implemented by three private structs rather than a sum type —
// the idiomatic substitution the teacher's own flat-struct style (certs.go,
// common.go) already favors over algebraic data types.
type EncryptedState interface {
	encryptedState()
}

// waitingServiceRequestState: peer has completed KEX; awaiting
// ssh-userauth service activation.
type waitingServiceRequestState struct {
	accepted bool
}

func (*waitingServiceRequestState) encryptedState() {}

// waitingAuthRequestState: service accepted; user authentication in
// progress.
type waitingAuthRequestState struct {
	auth *AuthRequest
}

func (*waitingAuthRequestState) encryptedState() {}

// authenticatedState is terminal for auth; channel traffic is permitted.
type authenticatedState struct{}

func (*authenticatedState) encryptedState() {}

// currentRequestKind tags which variant of CurrentRequest is populated.
type currentRequestKind int

const (
	currentRequestNone currentRequestKind = iota
	currentRequestPublicKey
	currentRequestKeyboardInteractive
)

// CurrentRequest holds the in-flight auth attempt's method-specific state
// (spec.md 3). Only one of the PublicKey/KeyboardInteractive field groups
// is meaningful, selected by kind; this mirrors EncryptedState's tagged-
// struct substitution for the same reason (no sum types in Go).
type CurrentRequest struct {
	kind currentRequestKind

	// PublicKey fields.
	user     string
	keyBlob  []byte
	algo     string
	sentPKOk bool

	// KeyboardInteractive fields.
	submethods string
}

func newPublicKeyCurrentRequest(user, algo string, keyBlob []byte, sentPKOk bool) *CurrentRequest {
	return &CurrentRequest{kind: currentRequestPublicKey, user: user, algo: algo, keyBlob: keyBlob, sentPKOk: sentPKOk}
}

// probedFor reports whether this probe was accepted for the exact
// (user, algo, key) triple a follow-up signed request presents, mirroring
// original_source/src/server/encrypted.rs's server_read_auth_request_pk
// (sent_pk_ok && user == auth_user), extended to the key blob itself since
// the Go session never narrows AuthPublicKey's accept decision to a single
// key the way the Rust per-key auth_pubkey_map does.
func (c *CurrentRequest) probedFor(user, algo string, keyBlob []byte) bool {
	return c.isPublicKey() && c.sentPKOk && c.user == user && c.algo == algo && bytes.Equal(c.keyBlob, keyBlob)
}

func newKeyboardInteractiveCurrentRequest(submethods string) *CurrentRequest {
	return &CurrentRequest{kind: currentRequestKeyboardInteractive, submethods: submethods}
}

func (c *CurrentRequest) isPublicKey() bool {
	return c != nil && c.kind == currentRequestPublicKey
}

func (c *CurrentRequest) isKeyboardInteractive() bool {
	return c != nil && c.kind == currentRequestKeyboardInteractive
}

// AuthRequest is the state of an in-progress authentication (spec.md 3).
type AuthRequest struct {
	user           string
	methods        map[string]bool
	partialSuccess bool
	current        *CurrentRequest
	rejectionCount int
}

func newAuthRequest(methods []string) *AuthRequest {
	m := make(map[string]bool, len(methods))
	for _, method := range methods {
		m[method] = true
	}
	return &AuthRequest{methods: m}
}

// remainingMethods returns the still-permitted methods as a sorted-enough
// (insertion order is irrelevant on the wire) name list for
// USERAUTH_FAILURE.
func (a *AuthRequest) remainingMethods() []string {
	out := make([]string, 0, len(a.methods))
	for _, name := range []string{"publickey", "password", "keyboard-interactive"} {
		if a.methods[name] {
			out = append(out, name)
		}
	}
	return out
}

// Channel is one multiplexed stream within a Session (spec.md 3). Fields
// are only ever mutated by the Session's own goroutine; the *window
// values use an internal mutex purely because window.reserve/add may be
// called from a Handler invocation that itself runs on the same
// goroutine but wants a condvar-style block (spec.md 5: "single-threaded
// with respect to its Session").
type Channel struct {
	LocalID  uint32
	RemoteID uint32

	localWindow  *window
	remoteWindow *window

	LocalMaxPacket  uint32
	RemoteMaxPacket uint32

	Confirmed  bool
	WantsReply bool

	// chanType records the CHANNEL_OPEN type string, used to decide
	// whether incoming "exit-status"/"exit-signal" etc. are meaningful.
	chanType string
}

// kexSlot holds rekey-in-progress state: non-nil exactly while a rekey
// started by handleRekey has not yet completed (spec.md 3 invariant,
// "exactly one of {pending kex, no pending kex}"). The initial KEX runs
// in Dial/Accept before NewSession and never sets it.
type kexSlot struct {
	engine  KexEngine
	started *Exchange
}

// Session is the per-connection state spec.md 3 describes. NewSession
// installs the initial waitingServiceRequestState; EncryptedState is
// replaced wholesale on state transitions (forward-only, except rekey
// which leaves it unchanged per the invariant).
type Session struct {
	Role   Role
	Config *Config

	transport Transport

	mu         sync.Mutex
	writeBuf   growBuffer
	channels   map[uint32]*Channel
	nextChanID uint32

	encState  EncryptedState
	kex       *kexSlot
	exchange  *Exchange
	kexEngine KexEngine
	lastInput time.Time

	// pendingOpens tracks locally-initiated CHANNEL_OPEN requests awaiting
	// CHANNEL_OPEN_CONFIRMATION/FAILURE, keyed by local id (spec.md 4.D,
	// "Opening (client)").
	pendingOpens map[uint32]struct{}

	disconnected bool

	// outbound is the application-outbound queue (spec.md 5, "reference
	// implementation: depth 10"): data/extended-data/eof/xon-xoff/
	// exit-status/exit-signal messages the application wants sent,
	// interleaved with inbound-triggered emissions only at iteration
	// boundaries.
	outbound chan outboundMsg

	// pendingAuth is the client-role auth method queued by the
	// application via Authenticate, consumed once SERVICE_ACCEPT arrives
	// (spec.md 4.C, client side).
	pendingAuth ClientAuthMethod

	// Metrics is optional; nil disables instrumentation entirely
	// (SPEC_FULL.md 4.J).
	Metrics *metrics.Registry
}

// Authenticate queues the auth method a client Session will offer once
// the ssh-userauth service is accepted. Must be called before the driver
// processes SERVICE_ACCEPT.
func (s *Session) Authenticate(method ClientAuthMethod) {
	s.pendingAuth = method
}

// Role distinguishes client and server Sessions; most of the core's
// dispatch logic is shared, branching on Role only where spec.md itself
// branches on "(client)" vs "(server)".
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// outboundQueueDepth is the reference depth from spec.md 9,
// "Application-outbound queue (reference implementation: depth 10)".
const outboundQueueDepth = 10

// NewSession constructs a Session in its initial state, given the
// Exchange the transport-layer KEX handshake already produced (spec.md 1:
// this core "begins once the transport-layer key exchange has produced
// session keys"; only rekeys happen within the core's own lifetime,
// driven by engine). EncryptedState starts as WaitingServiceRequest
// (spec.md 3, "Lifecycle").
func NewSession(role Role, cfg *Config, t Transport, ex *Exchange, engine KexEngine) *Session {
	cfg.SetDefaults()
	return &Session{
		Role:         role,
		Config:       cfg,
		transport:    t,
		channels:     make(map[uint32]*Channel),
		pendingOpens: make(map[uint32]struct{}),
		encState:     &waitingServiceRequestState{},
		outbound:     make(chan outboundMsg, outboundQueueDepth),
		exchange:     ex,
		kexEngine:    engine,
		lastInput:    time.Now(),
	}
}

// SessionID returns the durable session identifier (spec.md 3 invariant:
// "session_id is fixed at first KEX completion and never mutated
// thereafter, even across rekeys").
func (s *Session) SessionID() []byte {
	if s.exchange == nil {
		return nil
	}
	return s.exchange.SessionID
}

// install replaces EncryptedState wholesale (spec.md 4.B, "install(state_variant)").
func (s *Session) install(state EncryptedState) {
	s.encState = state
}

// takeExchange removes and returns the current Exchange, handing
// ownership to a KexEngine for the duration of a rekey (spec.md 4.B,
// "take_exchange()").
func (s *Session) takeExchange() *Exchange {
	ex := s.exchange
	s.exchange = nil
	return ex
}

// putExchange reinstalls the Exchange once a KEX completes (spec.md 4.B,
// "put_exchange(ex)"). Whenever the prior Exchange has a non-empty
// SessionID, it replaces whatever the new one carries, enforcing "session_id is fixed at first
// KEX completion and never mutated thereafter".
func (s *Session) putExchange(ex *Exchange) {
	if s.exchange != nil && len(s.exchange.SessionID) > 0 {
		ex.SessionID = s.exchange.SessionID
	}
	s.exchange = ex
}

// channelsMap exposes the channel table (spec.md 4.B, "channels()").
func (s *Session) channelsMap() map[uint32]*Channel {
	return s.channels
}

// newChannelID returns an unused local id via monotonic increment,
// skipping any id currently in the map (spec.md 4.B, "new_channel_id()").
func (s *Session) newChannelID() uint32 {
	for {
		id := s.nextChanID
		s.nextChanID++
		if _, exists := s.channels[id]; !exists {
			return id
		}
	}
}

// writeBuffer exposes the single owned growable outbound buffer
// (spec.md 4.B, "write_buffer()" / 4.A, "one owned growable buffer per
// Session for outbound").
func (s *Session) writeBuffer() *growBuffer {
	return &s.writeBuf
}

// outboundMsg is one entry in the application-outbound queue (spec.md 5).
type outboundMsg struct {
	kind       outboundKind
	channelID  uint32
	data       []byte
	extCode    uint32
	exitStatus uint32
	sig        Sig
	canDo      bool
}

type outboundKind int

const (
	outboundData outboundKind = iota
	outboundExtendedData
	outboundEOF
	outboundXonXoff
	outboundExitStatus
	outboundExitSignal
)
