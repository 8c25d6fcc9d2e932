// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"context"
	"time"
	"unicode/utf8"
)

// This file implements spec.md 4.C, the Auth Protocol: server-side
// dispatch of USERAUTH_REQUEST/USERAUTH_INFO_RESPONSE with its
// constant-time rejection discipline, and client-side reaction to
// SERVICE_ACCEPT/USERAUTH_SUCCESS/BANNER/FAILURE/PK_OK. Grounded on
// original_source/src/server/encrypted.rs (server_read_auth_request,
// server_read_auth_request_pk, reject_auth_request) and
// original_source/src/client/encrypted.rs (client_read_encrypted's
// WaitingAuthRequest branch).

// ClientAuthMethod is the queued auth attempt a client Session offers
// once SERVICE_ACCEPT arrives (spec.md 4.C, client side).
type ClientAuthMethod interface {
	clientAuthMethod()
}

// PasswordAuth authenticates with a plaintext password.
type PasswordAuth struct {
	User     string
	Password string
}

func (PasswordAuth) clientAuthMethod() {}

// PublicKeyAuth authenticates by signing locally with Signer.
type PublicKeyAuth struct {
	User   string
	Signer Signer
}

func (PublicKeyAuth) clientAuthMethod() {}

// FuturePublicKeyAuth delegates signing to the application (e.g. an
// agent) via ClientHandler.Sign, per spec.md 4.C's "FuturePublicKey".
type FuturePublicKeyAuth struct {
	User string
	Key  PublicKey
}

func (FuturePublicKeyAuth) clientAuthMethod() {}

// KeyboardInteractiveAuth starts a keyboard-interactive exchange.
type KeyboardInteractiveAuth struct {
	User       string
	Submethods string
}

func (KeyboardInteractiveAuth) clientAuthMethod() {}

// --- server side ---

func (s *Session) handleServiceRequest(payload []byte) error {
	st, ok := s.encState.(*waitingServiceRequestState)
	if !ok {
		return newErr(ErrInconsistent, errServiceRequestOutOfOrder)
	}
	req, ok := parseServiceRequest(payload)
	if !ok {
		return errMalformedPacket
	}
	if req.Service != serviceUserAuth {
		return newErr(ErrInconsistent, errUnknownService)
	}
	st.accepted = true
	(&serviceAcceptMsg{Service: serviceUserAuth}).marshal(s.writeBuffer())
	if s.Config.AuthBanner != "" {
		(&userAuthBannerMsg{Message: s.Config.AuthBanner, Lang: "en"}).marshal(s.writeBuffer())
	}
	s.install(&waitingAuthRequestState{auth: newAuthRequest(s.Config.Methods)})
	return nil
}

// handleUserAuthRequest is the server's USERAUTH_REQUEST dispatch
// (spec.md 4.C, "Server side"). arrival is the deadline anchor for the
// constant-time rejection discipline: it must be captured by the caller
// at packet arrival, not inside this function, so that time already
// spent dispatching other packets this iteration does not leak in.
func (s *Session) handleUserAuthRequest(ctx context.Context, h ServerHandler, payload []byte, arrival time.Time) error {
	st, ok := s.encState.(*waitingAuthRequestState)
	if !ok {
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)
	}
	req, ok := parseUserAuthRequest(payload)
	if !ok {
		return errMalformedPacket
	}
	if req.Service != serviceSSH {
		return newErr(ErrInconsistent, errUnknownService)
	}

	if !st.auth.methods[req.Method] {
		return s.rejectAuth(ctx, st.auth, req.Method, arrival)
	}

	s.Metrics.ObserveAuthAttempt(req.Method)

	switch req.Method {
	case "none":
		auth, err := h.AuthNone(ctx, req.User)
		if err != nil {
			return wrapErr(ErrHandlerError, err, "auth_none")
		}
		return s.replyAuth(ctx, st.auth, req.User, req.Method, auth, arrival)

	case "password":
		changeFlag, rest, ok := parseBool(req.MethodData)
		if !ok {
			return errMalformedPacket
		}
		if changeFlag {
			// spec.md 9, Open Question: change-password flag is not
			// implemented; treat as reject.
			return s.rejectAuth(ctx, st.auth, req.Method, arrival)
		}
		password, _, ok := parseString(rest)
		if !ok {
			return errMalformedPacket
		}
		auth, err := h.AuthPassword(ctx, req.User, string(password))
		if err != nil {
			return wrapErr(ErrHandlerError, err, "auth_password")
		}
		return s.replyAuth(ctx, st.auth, req.User, req.Method, auth, arrival)

	case "publickey":
		return s.handlePublicKeyAuth(ctx, h, st.auth, req, arrival)

	case "keyboard-interactive":
		_, rest, ok := parseString(req.MethodData) // deprecated language tag
		if !ok {
			return errMalformedPacket
		}
		submethods, _, ok := parseString(rest)
		if !ok {
			return errMalformedPacket
		}
		auth, err := h.AuthKeyboardInteractive(ctx, req.User, string(submethods), nil)
		if err != nil {
			return wrapErr(ErrHandlerError, err, "auth_keyboard_interactive")
		}
		if auth.kind == authPartial {
			st.auth.current = newKeyboardInteractiveCurrentRequest(string(submethods))
		}
		return s.replyAuth(ctx, st.auth, req.User, req.Method, auth, arrival)

	default:
		return s.rejectAuth(ctx, st.auth, req.Method, arrival)
	}
}

func (s *Session) handlePublicKeyAuth(ctx context.Context, h ServerHandler, auth *AuthRequest, req *userAuthRequestMsg, arrival time.Time) error {
	hasSignature, rest, ok := parseBool(req.MethodData)
	if !ok {
		return errMalformedPacket
	}
	algo, rest, ok := parseString(rest)
	if !ok {
		return errMalformedPacket
	}
	keyBlob, rest, ok := parseString(rest)
	if !ok {
		return errMalformedPacket
	}
	key, err := Parse(string(algo), keyBlob)
	if err != nil {
		// KeyParse is recoverable (spec.md 7): route through the normal
		// rejection path rather than tearing the session down.
		return s.rejectAuth(ctx, auth, req.Method, arrival)
	}

	if !hasSignature {
		// Probe.
		verdict, err := h.AuthPublicKey(ctx, req.User, key)
		if err != nil {
			return wrapErr(ErrHandlerError, err, "auth_publickey")
		}
		if verdict.kind != authAccept {
			return s.rejectAuth(ctx, auth, req.Method, arrival)
		}
		auth.current = newPublicKeyCurrentRequest(req.User, string(algo), keyBlob, true)
		(&userAuthPubKeyOkMsg{Algo: string(algo), PubKey: keyBlob}).marshal(s.writeBuffer())
		return nil
	}

	sigBlob, _, ok := parseString(rest)
	if !ok {
		return errMalformedPacket
	}

	// spec.md 9, Open Question: accept a first-contact signed request
	// (no prior probe) when this connection has not yet recorded any
	// auth user at all — matches original_source's
	// server_read_auth_request_pk short-circuit on auth_user.len()==0.
	firstContact := auth.user == ""
	probedThisKey := auth.current.probedFor(req.User, string(algo), keyBlob)
	if !probedThisKey && !firstContact {
		return s.rejectAuth(ctx, auth, req.Method, arrival)
	}

	signed := buildDataSignedForAuth(s.exchange.SessionID, req.User, req.Service, req.Method, string(algo), keyBlob)
	if !key.Verify(signed, sigBlob) {
		return s.rejectAuth(ctx, auth, req.Method, arrival)
	}

	auth.user = req.User
	(&userAuthSuccessMsg{}).marshal(s.writeBuffer())
	s.install(&authenticatedState{})
	return nil
}

// replyAuth routes an Auth verdict returned by a handler to the matching
// wire reply (spec.md 4.C, rejection-reply logic shared by password/none/
// keyboard-interactive).
func (s *Session) replyAuth(ctx context.Context, auth *AuthRequest, user, method string, verdict Auth, arrival time.Time) error {
	switch verdict.kind {
	case authAccept:
		auth.user = user
		(&userAuthSuccessMsg{}).marshal(s.writeBuffer())
		s.install(&authenticatedState{})
		return nil
	case authPartial:
		(&userAuthInfoRequestMsg{
			Name:        verdict.partialName,
			Instruction: verdict.instructions,
			Lang:        "",
			Prompts:     verdict.prompts,
		}).marshal(s.writeBuffer())
		return nil
	default:
		return s.rejectAuth(ctx, auth, method, arrival)
	}
}

// handleUserAuthInfoResponse is the keyboard-interactive continuation
// (spec.md 4.C, "USERAUTH_INFO_RESPONSE").
func (s *Session) handleUserAuthInfoResponse(ctx context.Context, h ServerHandler, payload []byte, arrival time.Time) error {
	st, ok := s.encState.(*waitingAuthRequestState)
	if !ok || !st.auth.current.isKeyboardInteractive() {
		return newErr(ErrInconsistent, errInfoResponseOutOfOrder)
	}
	resp, ok := parseUserAuthInfoResponse(payload)
	if !ok {
		return errMalformedPacket
	}
	submethods := st.auth.current.submethods
	auth, err := h.AuthKeyboardInteractive(ctx, st.auth.user, submethods, resp.Responses)
	if err != nil {
		return wrapErr(ErrHandlerError, err, "auth_keyboard_interactive")
	}
	if auth.kind == authUnsupportedMethod {
		return newErr(ErrInconsistent, errUnsupportedInContinuation)
	}
	return s.replyAuth(ctx, st.auth, st.auth.user, "keyboard-interactive", auth, arrival)
}

// rejectAuth implements the rejection discipline (spec.md 4.C,
// "Rejection discipline (critical)"): emit USERAUTH_FAILURE, clear
// current, bump rejection_count, then block until arrival +
// auth_rejection_time so every reject path takes identical wall-clock
// time regardless of which internal check produced it.
func (s *Session) rejectAuth(ctx context.Context, auth *AuthRequest, method string, arrival time.Time) error {
	auth.current = nil
	auth.rejectionCount++

	if method == "password" {
		// original_source/src/server/encrypted.rs's password branch drops
		// password from the permitted set on a reject rather than letting
		// the client keep retrying it (spec.md 4.C).
		delete(auth.methods, "password")
		auth.partialSuccess = false
	}

	(&userAuthFailureMsg{Methods: auth.remainingMethods(), PartialSuccess: auth.partialSuccess}).marshal(s.writeBuffer())
	s.Metrics.ObserveAuthRejection(method, arrival)

	if auth.rejectionCount >= s.Config.MaxAuthAttempts {
		return newErr(ErrInconsistent, errTooManyAuthAttempts)
	}

	deadline := arrival.Add(s.Config.AuthRejectionTime)
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- client side ---

func (s *Session) handleServiceAccept(ctx context.Context, payload []byte) error {
	st, ok := s.encState.(*waitingServiceRequestState)
	if !ok {
		return newErr(ErrInconsistent, errServiceRequestOutOfOrder)
	}
	_ = payload // service name echoed back; we only ever request ssh-userauth
	st.accepted = true
	auth := newAuthRequest(nil)
	s.install(&waitingAuthRequestState{auth: auth})
	if s.pendingAuth != nil {
		return s.sendClientAuthRequest(ctx, auth, s.pendingAuth)
	}
	return nil
}

func (s *Session) sendClientAuthRequest(ctx context.Context, auth *AuthRequest, method ClientAuthMethod) error {
	switch m := method.(type) {
	case PasswordAuth:
		auth.user = m.User
		g := s.writeBuffer()
		g.packet(msgUserAuthRequest, func(g *growBuffer) {
			g.string([]byte(m.User))
			g.string([]byte(serviceSSH))
			g.string([]byte("password"))
			g.bool(false)
			g.string([]byte(m.Password))
		})
		return nil

	case PublicKeyAuth:
		auth.user = m.User
		algo := m.Signer.PublicKey().PublicKeyAlgo()
		keyBlob := m.Signer.PublicKey().Marshal()
		auth.current = newPublicKeyCurrentRequest(m.User, algo, keyBlob, false)
		g := s.writeBuffer()
		g.packet(msgUserAuthRequest, func(g *growBuffer) {
			g.string([]byte(m.User))
			g.string([]byte(serviceSSH))
			g.string([]byte("publickey"))
			g.bool(false)
			g.string([]byte(algo))
			g.string(keyBlob)
		})
		return nil

	case FuturePublicKeyAuth:
		auth.user = m.User
		algo := m.Key.PublicKeyAlgo()
		keyBlob := m.Key.Marshal()
		auth.current = newPublicKeyCurrentRequest(m.User, algo, keyBlob, false)
		g := s.writeBuffer()
		g.packet(msgUserAuthRequest, func(g *growBuffer) {
			g.string([]byte(m.User))
			g.string([]byte(serviceSSH))
			g.string([]byte("publickey"))
			g.bool(false)
			g.string([]byte(algo))
			g.string(keyBlob)
		})
		return nil

	case KeyboardInteractiveAuth:
		auth.user = m.User
		auth.current = newKeyboardInteractiveCurrentRequest(m.Submethods)
		g := s.writeBuffer()
		g.packet(msgUserAuthRequest, func(g *growBuffer) {
			g.string([]byte(m.User))
			g.string([]byte(serviceSSH))
			g.string([]byte("keyboard-interactive"))
			g.string(nil)
			g.string([]byte(m.Submethods))
		})
		return nil
	}
	return newErr(ErrInconsistent, errUnknownClientAuthMethod)
}

func (s *Session) handleUserAuthSuccess(ctx context.Context, h ClientHandler) error {
	if _, ok := s.encState.(*waitingAuthRequestState); !ok {
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)
	}
	s.install(&authenticatedState{})
	if err := h.AuthSuccess(ctx); err != nil {
		return wrapErr(ErrHandlerError, err, "auth_success")
	}
	return nil
}

func (s *Session) handleUserAuthBanner(ctx context.Context, h ClientHandler, payload []byte) error {
	msg, _, ok := parseString(payload)
	if !ok || !utf8.Valid(msg) {
		// Non-UTF-8 / malformed banners are dropped silently (spec.md 4.C).
		return nil
	}
	return h.AuthBanner(ctx, string(msg))
}

func (s *Session) handleUserAuthFailure(ctx context.Context, h ClientHandler, payload []byte) error {
	st, ok := s.encState.(*waitingAuthRequestState)
	if !ok {
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)
	}
	methods, rest, ok := parseNameList(payload)
	if !ok {
		return errMalformedPacket
	}
	partial, _, ok := parseBool(rest)
	if !ok {
		return errMalformedPacket
	}
	st.auth.methods = map[string]bool{}
	for _, m := range methods {
		st.auth.methods[m] = true
	}
	st.auth.partialSuccess = partial
	st.auth.current = nil

	if err := h.AuthFailure(ctx, methods, partial); err != nil {
		return wrapErr(ErrHandlerError, err, "auth_failure")
	}
	if len(methods) == 0 {
		return newErr(ErrNoAuthMethod, errNoRemainingMethods)
	}
	return nil
}

// handleUserAuthInfoRequest is the client-side reaction to a
// keyboard-interactive USERAUTH_INFO_REQUEST (spec.md 4.C): collect the
// application's responses and send them straight back as
// USERAUTH_INFO_RESPONSE, the client-side mirror of
// handleUserAuthInfoResponse on the server.
func (s *Session) handleUserAuthInfoRequest(ctx context.Context, h ClientHandler, payload []byte) error {
	if _, ok := s.encState.(*waitingAuthRequestState); !ok {
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)
	}
	req, ok := parseUserAuthInfoRequest(payload)
	if !ok {
		return errMalformedPacket
	}
	responses, err := h.KeyboardInteractiveChallenge(ctx, req.Name, req.Instruction, req.Prompts)
	if err != nil {
		return wrapErr(ErrHandlerError, err, "keyboard_interactive_challenge")
	}
	(&userAuthInfoResponseMsg{Responses: responses}).marshal(s.writeBuffer())
	return nil
}

func (s *Session) handleUserAuthPubKeyOk(ctx context.Context, h ClientHandler, payload []byte) error {
	st, ok := s.encState.(*waitingAuthRequestState)
	if !ok || !st.auth.current.isPublicKey() {
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)
	}

	switch m := s.pendingAuth.(type) {
	case PublicKeyAuth:
		algo := st.auth.current.algo
		keyBlob := st.auth.current.keyBlob
		toSign := buildDataSignedForAuth(s.exchange.SessionID, st.auth.user, serviceSSH, "publickey", algo, keyBlob)
		sig, err := m.Signer.Sign(toSign)
		if err != nil {
			return wrapErr(ErrHandlerError, err, "sign")
		}
		g := s.writeBuffer()
		g.packet(msgUserAuthRequest, func(g *growBuffer) {
			g.string([]byte(st.auth.user))
			g.string([]byte(serviceSSH))
			g.string([]byte("publickey"))
			g.bool(true)
			g.string([]byte(algo))
			g.string(keyBlob)
			g.string(sig)
		})
		return nil

	case FuturePublicKeyAuth:
		algo := st.auth.current.algo
		keyBlob := st.auth.current.keyBlob
		toSign := buildDataSignedForAuth(s.exchange.SessionID, st.auth.user, serviceSSH, "publickey", algo, keyBlob)
		sig, err := h.Sign(ctx, m.Key, toSign)
		if err != nil {
			return wrapErr(ErrHandlerError, err, "sign")
		}
		// Only emit if the delegate actually produced something — a nil/
		// identical-to-sent buffer means the application chose not to
		// complete this attempt yet (spec.md 4.C, "only if the returned
		// buffer differs from what was sent").
		if sig == nil || bytes.Equal(sig, toSign) {
			return nil
		}
		g := s.writeBuffer()
		g.packet(msgUserAuthRequest, func(g *growBuffer) {
			g.string([]byte(st.auth.user))
			g.string([]byte(serviceSSH))
			g.string([]byte("publickey"))
			g.bool(true)
			g.string([]byte(algo))
			g.string(keyBlob)
			g.string(sig)
		})
		return nil
	}
	return newErr(ErrInconsistent, errUnknownClientAuthMethod)
}
