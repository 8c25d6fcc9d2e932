// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "context"

// Auth is the application's verdict on an auth attempt (spec.md 3,
// "AuthRequest" / 4.C). Exactly one of the four kinds is meaningful at a
// time; Go has no sum types, so this is a constructor-enforced tagged
// struct rather than four separate return types, matching the pattern
// already used for CurrentRequest.
type Auth struct {
	kind         authKind
	partialName  string
	instructions string
	prompts      []Prompt
}

type authKind int

const (
	authReject authKind = iota
	authAccept
	authPartial
	authUnsupportedMethod
)

// AuthAccept grants the auth attempt.
func AuthAccept() Auth { return Auth{kind: authAccept} }

// AuthReject denies the auth attempt; the caller's permitted-methods set
// shrinks accordingly (spec.md 4.C).
func AuthReject() Auth { return Auth{kind: authReject} }

// AuthUnsupportedMethod is only meaningful as the return from
// auth_keyboard_interactive/auth_publickey/auth_password when the
// application does not implement that method at all; not legal as a
// response to USERAUTH_INFO_RESPONSE (spec.md 4.C).
func AuthUnsupportedMethod() Auth { return Auth{kind: authUnsupportedMethod} }

// AuthPartial continues a keyboard-interactive exchange with another
// round of prompts (spec.md 4.C, "Partial { name, instructions, prompts }").
func AuthPartial(name, instructions string, prompts []Prompt) Auth {
	return Auth{kind: authPartial, partialName: name, instructions: instructions, prompts: prompts}
}

// Pty carries the parsed payload of a "pty-req" channel request.
type Pty struct {
	Term    string
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
	Modes   map[byte]uint32
}

// Sig is one of the RFC 4254 §6.10 signal names delivered via "signal" or
// observed via "exit-signal" (client side).
type Sig struct {
	Name       string
	CoreDumped bool
	Message    string
}

// Handler is the capability set an application implements to drive a
// Session (spec.md 4.F). Every method may block; the Session Driver calls
// them synchronously from within its own goroutine, so a Handler must not
// call back into the Session that invoked it except through the
// channel/reply helpers those methods are passed.
//
// ServerHandler and ClientHandler each embed Handler; an application
// implements the one matching its Session's role, and the common methods
// below apply to both.
type Handler interface {
	// ChannelClose/ChannelEOF/Data/ExtendedData/WindowAdjusted fire for
	// any open channel regardless of role.
	ChannelClose(ctx context.Context, channelID uint32) error
	ChannelEOF(ctx context.Context, channelID uint32) error
	Data(ctx context.Context, channelID uint32, data []byte) error
	ExtendedData(ctx context.Context, channelID uint32, code uint32, data []byte) error
	WindowAdjusted(ctx context.Context, channelID uint32, newValue uint32) error
}

// ServerHandler is the capability set a server-role application
// implements (spec.md 4.F).
type ServerHandler interface {
	Handler

	AuthNone(ctx context.Context, user string) (Auth, error)
	AuthPassword(ctx context.Context, user, password string) (Auth, error)
	AuthPublicKey(ctx context.Context, user string, key PublicKey) (Auth, error)
	AuthKeyboardInteractive(ctx context.Context, user string, submethods string, responses []string) (Auth, error)

	ChannelOpenSession(ctx context.Context, channelID uint32) (bool, error)
	ChannelOpenX11(ctx context.Context, channelID uint32, originAddr string, originPort uint32) (bool, error)
	ChannelOpenDirectTCPIP(ctx context.Context, channelID uint32, host string, port uint32, originAddr string, originPort uint32) (bool, error)

	PtyRequest(ctx context.Context, channelID uint32, pty Pty) (bool, error)
	X11Request(ctx context.Context, channelID uint32, singleConnection bool, protocol, cookie string, screen uint32) (bool, error)
	EnvRequest(ctx context.Context, channelID uint32, name, value string) (bool, error)
	ShellRequest(ctx context.Context, channelID uint32) (bool, error)
	ExecRequest(ctx context.Context, channelID uint32, command string) (bool, error)
	SubsystemRequest(ctx context.Context, channelID uint32, name string) (bool, error)
	WindowChangeRequest(ctx context.Context, channelID uint32, columns, rows, width, height uint32) (bool, error)
	Signal(ctx context.Context, channelID uint32, sig Sig) error

	TCPIPForward(ctx context.Context, address string, port uint32) (bool, error)
	CancelTCPIPForward(ctx context.Context, address string, port uint32) (bool, error)
}

// ClientHandler is the capability set a client-role application
// implements (spec.md 4.F, client-side subset).
type ClientHandler interface {
	Handler

	AuthBanner(ctx context.Context, message string) error
	AuthSuccess(ctx context.Context) error
	AuthFailure(ctx context.Context, remainingMethods []string, partialSuccess bool) error

	ChannelOpenForwardedTCPIP(ctx context.Context, channelID uint32, addr string, port uint32, originAddr string, originPort uint32) error
	ExitStatus(ctx context.Context, channelID uint32, status uint32) error
	ExitSignal(ctx context.Context, channelID uint32, sig Sig) error
	XonXoff(ctx context.Context, channelID uint32, canDo bool) error

	// Sign is consulted for a FuturePublicKey auth method: the
	// application (or an agent it wraps) signs data under key and
	// returns the signature blob (spec.md 4.C, "FuturePublicKey").
	Sign(ctx context.Context, key PublicKey, data []byte) ([]byte, error)

	// KeyboardInteractiveChallenge answers a USERAUTH_INFO_REQUEST: the
	// application prompts the user (or a scripted driver) and returns one
	// response per prompt, in order (spec.md 4.C, RFC 4256 §3.3).
	KeyboardInteractiveChallenge(ctx context.Context, name, instruction string, prompts []Prompt) ([]string, error)
}
