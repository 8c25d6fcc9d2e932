// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds (spec.md 7). Every kind but KeyParse is Unrecoverable: the
// Session Driver tears down the session on anything that reports true.
type ErrorKind int

const (
	ErrMalformedPacket ErrorKind = iota
	ErrInconsistent
	ErrWrongChannel
	ErrNoAuthMethod
	ErrKex
	ErrSendError
	ErrHandlerError
	ErrKeyParseKind
	ErrTimeElapsed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMalformedPacket:
		return "MalformedPacket"
	case ErrInconsistent:
		return "Inconsistent"
	case ErrWrongChannel:
		return "WrongChannel"
	case ErrNoAuthMethod:
		return "NoAuthMethod"
	case ErrKex:
		return "Kex"
	case ErrSendError:
		return "SendError"
	case ErrHandlerError:
		return "HandlerError"
	case ErrKeyParseKind:
		return "KeyParse"
	case ErrTimeElapsed:
		return "TimeElapsed"
	}
	return "Unknown"
}

// SessionError is the core's error type: a kind plus a wrapped cause.
// Using github.com/pkg/errors for the wrap keeps a stack trace attached
// for anything that reaches a log sink (grounded on superfly-smux's own
// use of pkg/errors at its session-teardown error paths — see DESIGN.md).
type SessionError struct {
	Kind  ErrorKind
	Cause error
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ssh: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("ssh: %s", e.Kind)
}

func (e *SessionError) Unwrap() error { return e.Cause }

// Unrecoverable reports whether the Session Driver must tear the session
// down. Only KeyParse is recoverable (spec.md 7: "treated as an auth
// rejection, not a fatal error"); TimeElapsed is terminal but is a clean
// shutdown rather than an abnormal one — callers distinguish via Kind,
// not via Unrecoverable, when that matters.
func (e *SessionError) Unrecoverable() bool {
	return e.Kind != ErrKeyParseKind
}

func newErr(kind ErrorKind, cause error) *SessionError {
	return &SessionError{Kind: kind, Cause: cause}
}

func wrapErr(kind ErrorKind, cause error, msg string) *SessionError {
	return &SessionError{Kind: kind, Cause: errors.Wrap(cause, msg)}
}

var (
	errMalformedPacket = newErr(ErrMalformedPacket, errors.New("truncated or oversized packet"))
	errKexNotCompleted = newErr(ErrKex, errors.New("expected NEWKEYS, did not receive it"))

	errServiceRequestOutOfOrder  = errors.New("SERVICE_REQUEST/ACCEPT received outside WaitingServiceRequest")
	errUnknownService            = errors.New("unrecognised service name")
	errAuthRequestOutOfOrder     = errors.New("USERAUTH message received outside WaitingAuthRequest")
	errInfoResponseOutOfOrder    = errors.New("USERAUTH_INFO_RESPONSE without a keyboard-interactive request in flight")
	errUnsupportedInContinuation = errors.New("UnsupportedMethod is not a legal reply to USERAUTH_INFO_RESPONSE")
	errTooManyAuthAttempts       = errors.New("rejection count reached configured MaxAuthAttempts")
	errUnknownClientAuthMethod   = errors.New("unrecognised ClientAuthMethod implementation")
	errNoRemainingMethods        = errors.New("server reported no remaining auth methods")
	errUnknownChannelType        = errors.New("unknown channel type")
	errNoPendingChannelOpen      = errors.New("CHANNEL_OPEN_CONFIRMATION/FAILURE for an id with no pending open")
	errRekeyWhilePending         = errors.New("KEXINIT received while a rekey is already in progress")
	errWindowOverflow            = errors.New("window adjust overflowed remote_window")
	errWindowExceeded            = errors.New("peer sent more data than local_window permitted")
)

func errUnknownChannelID(id uint32) error {
	return errors.Errorf("no channel registered for id %d", id)
}

var (
	errIdleTimeout      = errors.New("no inbound activity before connection_timeout elapsed")
	errUnreachableState = errors.New("EncryptedState held an unrecognised implementation")
	errWrongHandlerRole = errors.New("handler does not implement the capability set for this Session's role")
	errNoKexEngine      = errors.New("KEXINIT received but no KexEngine was configured")
)

func errUnexpectedOpcodeAuthenticated(opcode byte) error {
	return errors.Errorf("opcode %d is not legal in the Authenticated state", opcode)
}
