// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"
)

// testSigner adapts a raw ed25519 key pair to the Signer interface, the
// same shape cmd/sshcore-demo's ed25519Signer uses.
type testSigner struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	blob := appendString(nil, pub)
	key, err := Parse(KeyAlgoED25519, blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return &testSigner{priv: priv, pub: key}
}

func (s *testSigner) PublicKey() PublicKey { return s.pub }

func (s *testSigner) Sign(data []byte) ([]byte, error) {
	raw := ed25519.Sign(s.priv, data)
	sigBlob := appendString(nil, []byte(KeyAlgoED25519))
	sigBlob = appendString(sigBlob, raw)
	return sigBlob, nil
}

// fakeAuthServerHandler embeds fakeServerHandler and overrides the auth
// callbacks with caller-configured verdicts.
type fakeAuthServerHandler struct {
	fakeServerHandler
	noneVerdict     Auth
	passwordVerdict Auth
	pubkeyVerdict   Auth
	kiVerdict       Auth
}

func (f *fakeAuthServerHandler) AuthNone(ctx context.Context, user string) (Auth, error) {
	return f.noneVerdict, nil
}
func (f *fakeAuthServerHandler) AuthPassword(ctx context.Context, user, password string) (Auth, error) {
	return f.passwordVerdict, nil
}
func (f *fakeAuthServerHandler) AuthPublicKey(ctx context.Context, user string, key PublicKey) (Auth, error) {
	return f.pubkeyVerdict, nil
}
func (f *fakeAuthServerHandler) AuthKeyboardInteractive(ctx context.Context, user, submethods string, responses []string) (Auth, error) {
	return f.kiVerdict, nil
}

var _ ServerHandler = (*fakeAuthServerHandler)(nil)

// fakeClientHandler implements ClientHandler, recording callbacks.
type fakeClientHandler struct {
	fakeServerHandler // reuse the Handler-surface no-ops; only Data matters here
	bannerMsg         string
	successCalled     bool
	failureMethods    []string
	failurePartial    bool
	signData          []byte
	signReturn        []byte
	signErr           error
	kiPrompts         []Prompt
	kiResponses       []string
	kiErr             error
}

func (f *fakeClientHandler) AuthBanner(ctx context.Context, message string) error {
	f.bannerMsg = message
	return nil
}
func (f *fakeClientHandler) AuthSuccess(ctx context.Context) error {
	f.successCalled = true
	return nil
}
func (f *fakeClientHandler) AuthFailure(ctx context.Context, remainingMethods []string, partialSuccess bool) error {
	f.failureMethods = remainingMethods
	f.failurePartial = partialSuccess
	return nil
}
func (f *fakeClientHandler) ChannelOpenForwardedTCPIP(ctx context.Context, channelID uint32, addr string, port uint32, originAddr string, originPort uint32) error {
	return nil
}
func (f *fakeClientHandler) ExitStatus(ctx context.Context, channelID uint32, status uint32) error {
	return nil
}
func (f *fakeClientHandler) ExitSignal(ctx context.Context, channelID uint32, sig Sig) error {
	return nil
}
func (f *fakeClientHandler) XonXoff(ctx context.Context, channelID uint32, canDo bool) error {
	return nil
}
func (f *fakeClientHandler) Sign(ctx context.Context, key PublicKey, data []byte) ([]byte, error) {
	f.signData = data
	return f.signReturn, f.signErr
}
func (f *fakeClientHandler) KeyboardInteractiveChallenge(ctx context.Context, name, instruction string, prompts []Prompt) ([]string, error) {
	f.kiPrompts = prompts
	return f.kiResponses, f.kiErr
}

var _ ClientHandler = (*fakeClientHandler)(nil)

func marshalUserAuthRequest(user, service, method string, methodData []byte) []byte {
	g := &growBuffer{}
	g.packet(msgUserAuthRequest, func(g *growBuffer) {
		g.string([]byte(user))
		g.string([]byte(service))
		g.string([]byte(method))
		g.raw(methodData)
	})
	return g.bytes()[1:]
}

func newAuthWaitingSession(role Role, methods []string) *Session {
	s := newTestSession(role)
	s.install(&waitingAuthRequestState{auth: newAuthRequest(methods)})
	s.Config.AuthRejectionTime = 0 // keep rejectAuth's deadline wait a no-op in tests
	return s
}

func TestHandleUserAuthRequestNoneAccept(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"none"})
	h := &fakeAuthServerHandler{noneVerdict: AuthAccept()}
	body := marshalUserAuthRequest("alice", serviceSSH, "none", nil)

	if err := s.handleUserAuthRequest(context.Background(), h, body, time.Now()); err != nil {
		t.Fatalf("handleUserAuthRequest: %v", err)
	}
	if _, ok := s.encState.(*authenticatedState); !ok {
		t.Fatalf("expected authenticatedState, got %T", s.encState)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthSuccess {
		t.Fatalf("expected USERAUTH_SUCCESS, got %v", out)
	}
}

func TestHandleUserAuthRequestPasswordReject(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"password", "publickey"})
	h := &fakeAuthServerHandler{passwordVerdict: AuthReject()}
	methodData := appendBool(nil, false)
	methodData = appendString(methodData, []byte("wrong-password"))
	body := marshalUserAuthRequest("alice", serviceSSH, "password", methodData)

	if err := s.handleUserAuthRequest(context.Background(), h, body, time.Now()); err != nil {
		t.Fatalf("handleUserAuthRequest: %v", err)
	}
	st := s.encState.(*waitingAuthRequestState)
	if st.auth.rejectionCount != 1 {
		t.Fatalf("rejectionCount = %d, want 1", st.auth.rejectionCount)
	}
	if st.auth.methods["password"] {
		t.Fatal("a rejected password attempt must drop password from the permitted set")
	}
	remaining := st.auth.remainingMethods()
	if len(remaining) != 1 || remaining[0] != "publickey" {
		t.Fatalf("remainingMethods() = %v, want [publickey]", remaining)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthFailure {
		t.Fatalf("expected USERAUTH_FAILURE, got %v", out)
	}
}

func TestRejectAuthDropsPasswordMethodOnly(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"password"})
	auth := s.encState.(*waitingAuthRequestState).auth
	auth.partialSuccess = true

	if err := s.rejectAuth(context.Background(), auth, "password", time.Now()); err != nil {
		t.Fatalf("rejectAuth: %v", err)
	}
	if auth.methods["password"] {
		t.Fatal("expected password to be removed from the permitted set")
	}
	if auth.partialSuccess {
		t.Fatal("expected partialSuccess to be cleared on a password reject")
	}
}

func TestHandleUserAuthRequestUnlistedMethodRejectsWithoutCallingHandler(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"publickey"})
	h := &fakeAuthServerHandler{noneVerdict: AuthAccept()}
	body := marshalUserAuthRequest("alice", serviceSSH, "none", nil)

	if err := s.handleUserAuthRequest(context.Background(), h, body, time.Now()); err != nil {
		t.Fatalf("handleUserAuthRequest: %v", err)
	}
	if _, ok := s.encState.(*authenticatedState); ok {
		t.Fatal("a method absent from the configured set must never authenticate")
	}
}

func TestRejectAuthStopsAtMaxAttempts(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"password"})
	auth := s.encState.(*waitingAuthRequestState).auth
	s.Config.MaxAuthAttempts = 2

	if err := s.rejectAuth(context.Background(), auth, "password", time.Now()); err != nil {
		t.Fatalf("first reject: %v", err)
	}
	err := s.rejectAuth(context.Background(), auth, "password", time.Now())
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != ErrInconsistent {
		t.Fatalf("expected ErrInconsistent at MaxAuthAttempts, got %v", err)
	}
}

func TestHandlePublicKeyAuthProbeSendsPubKeyOk(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"publickey"})
	signer := newTestSigner(t)
	h := &fakeAuthServerHandler{pubkeyVerdict: AuthAccept()}

	algo := signer.PublicKey().PublicKeyAlgo()
	keyBlob := signer.PublicKey().Marshal()
	methodData := appendBool(nil, false)
	methodData = appendString(methodData, []byte(algo))
	methodData = appendString(methodData, keyBlob)
	body := marshalUserAuthRequest("alice", serviceSSH, "publickey", methodData)

	if err := s.handleUserAuthRequest(context.Background(), h, body, time.Now()); err != nil {
		t.Fatalf("handleUserAuthRequest: %v", err)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthPubKeyOk {
		t.Fatalf("expected USERAUTH_PK_OK, got %v", out)
	}
	st := s.encState.(*waitingAuthRequestState)
	if !st.auth.current.isPublicKey() || !st.auth.current.sentPKOk {
		t.Fatal("expected current request to record the probed key")
	}
}

func TestHandlePublicKeyAuthSignedRequestAuthenticates(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"publickey"})
	s.exchange.SessionID = []byte("session-id-for-signing")
	signer := newTestSigner(t)
	h := &fakeAuthServerHandler{pubkeyVerdict: AuthAccept()}

	algo := signer.PublicKey().PublicKeyAlgo()
	keyBlob := signer.PublicKey().Marshal()

	// Probe first, as a real client does.
	probeData := appendBool(nil, false)
	probeData = appendString(probeData, []byte(algo))
	probeData = appendString(probeData, keyBlob)
	probeBody := marshalUserAuthRequest("alice", serviceSSH, "publickey", probeData)
	if err := s.handleUserAuthRequest(context.Background(), h, probeBody, time.Now()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	s.writeBuffer().bytes() // drain PK_OK

	toSign := buildDataSignedForAuth(s.exchange.SessionID, "alice", serviceSSH, "publickey", algo, keyBlob)
	sig, err := signer.Sign(toSign)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signedData := appendBool(nil, true)
	signedData = appendString(signedData, []byte(algo))
	signedData = appendString(signedData, keyBlob)
	signedData = appendString(signedData, sig)
	signedBody := marshalUserAuthRequest("alice", serviceSSH, "publickey", signedData)

	if err := s.handleUserAuthRequest(context.Background(), h, signedBody, time.Now()); err != nil {
		t.Fatalf("signed request: %v", err)
	}
	if _, ok := s.encState.(*authenticatedState); !ok {
		t.Fatalf("expected authenticatedState, got %T", s.encState)
	}
}

func TestHandlePublicKeyAuthSignedRequestForDifferentUserThanProbedRejects(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"publickey"})
	s.exchange.SessionID = []byte("session-id-for-signing")
	signer := newTestSigner(t)
	h := &fakeAuthServerHandler{pubkeyVerdict: AuthAccept()}

	algo := signer.PublicKey().PublicKeyAlgo()
	keyBlob := signer.PublicKey().Marshal()

	// Probe as alice, as a real client does.
	probeData := appendBool(nil, false)
	probeData = appendString(probeData, []byte(algo))
	probeData = appendString(probeData, keyBlob)
	probeBody := marshalUserAuthRequest("alice", serviceSSH, "publickey", probeData)
	if err := s.handleUserAuthRequest(context.Background(), h, probeBody, time.Now()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	s.writeBuffer().bytes() // drain PK_OK
	st := s.encState.(*waitingAuthRequestState)
	st.auth.user = "alice" // a prior successful auth round recorded a user, defeating first-contact

	// Sign the same key, but for a different username than was probed and
	// accepted — this must not ride the alice probe to authentication.
	toSign := buildDataSignedForAuth(s.exchange.SessionID, "mallory", serviceSSH, "publickey", algo, keyBlob)
	sig, err := signer.Sign(toSign)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signedData := appendBool(nil, true)
	signedData = appendString(signedData, []byte(algo))
	signedData = appendString(signedData, keyBlob)
	signedData = appendString(signedData, sig)
	signedBody := marshalUserAuthRequest("mallory", serviceSSH, "publickey", signedData)

	if err := s.handleUserAuthRequest(context.Background(), h, signedBody, time.Now()); err != nil {
		t.Fatalf("signed request: %v", err)
	}
	if _, ok := s.encState.(*authenticatedState); ok {
		t.Fatal("signed request for a user that was never probed/accepted must not authenticate")
	}
}

func TestHandlePublicKeyAuthSignedWithoutProbeAcceptsOnFirstContact(t *testing.T) {
	s := newAuthWaitingSession(RoleServer, []string{"publickey"})
	s.exchange.SessionID = []byte("session-id-for-signing")
	signer := newTestSigner(t)
	h := &fakeAuthServerHandler{pubkeyVerdict: AuthAccept()}

	algo := signer.PublicKey().PublicKeyAlgo()
	keyBlob := signer.PublicKey().Marshal()
	toSign := buildDataSignedForAuth(s.exchange.SessionID, "alice", serviceSSH, "publickey", algo, keyBlob)
	sig, _ := signer.Sign(toSign)

	signedData := appendBool(nil, true)
	signedData = appendString(signedData, []byte(algo))
	signedData = appendString(signedData, keyBlob)
	signedData = appendString(signedData, sig)
	body := marshalUserAuthRequest("alice", serviceSSH, "publickey", signedData)

	// First contact (auth.user == "") is accepted without a prior probe per
	// the documented Open Question decision.
	if err := s.handleUserAuthRequest(context.Background(), h, body, time.Now()); err != nil {
		t.Fatalf("handleUserAuthRequest: %v", err)
	}
	if _, ok := s.encState.(*authenticatedState); !ok {
		t.Fatal("first-contact signed publickey request should authenticate")
	}
}

func TestHandleServiceAcceptSendsQueuedClientAuth(t *testing.T) {
	s := newTestSession(RoleClient)
	s.install(&waitingServiceRequestState{})
	signer := newTestSigner(t)
	s.pendingAuth = PublicKeyAuth{User: "bob", Signer: signer}

	if err := s.handleServiceAccept(context.Background(), nil); err != nil {
		t.Fatalf("handleServiceAccept: %v", err)
	}
	st, ok := s.encState.(*waitingAuthRequestState)
	if !ok {
		t.Fatalf("expected waitingAuthRequestState, got %T", s.encState)
	}
	if st.auth.user != "bob" {
		t.Fatalf("auth.user = %q, want bob", st.auth.user)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthRequest {
		t.Fatalf("expected a queued USERAUTH_REQUEST, got %v", out)
	}
}

func TestHandleUserAuthPubKeyOkSendsSignedRequest(t *testing.T) {
	s := newTestSession(RoleClient)
	signer := newTestSigner(t)
	algo := signer.PublicKey().PublicKeyAlgo()
	keyBlob := signer.PublicKey().Marshal()
	auth := newAuthRequest(nil)
	auth.user = "bob"
	auth.current = newPublicKeyCurrentRequest("bob", algo, keyBlob, false)
	s.install(&waitingAuthRequestState{auth: auth})
	s.pendingAuth = PublicKeyAuth{User: "bob", Signer: signer}
	h := &fakeClientHandler{}

	if err := s.handleUserAuthPubKeyOk(context.Background(), h, nil); err != nil {
		t.Fatalf("handleUserAuthPubKeyOk: %v", err)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthRequest {
		t.Fatalf("expected a signed USERAUTH_REQUEST, got %v", out)
	}
}

func TestHandleUserAuthInfoRequestSendsResponses(t *testing.T) {
	s := newTestSession(RoleClient)
	auth := newAuthRequest(nil)
	auth.user = "bob"
	auth.current = newKeyboardInteractiveCurrentRequest("")
	s.install(&waitingAuthRequestState{auth: auth})
	h := &fakeClientHandler{kiResponses: []string{"hunter2", "42"}}

	g := &growBuffer{}
	(&userAuthInfoRequestMsg{
		Name:        "Challenge",
		Instruction: "answer the prompts",
		Prompts:     []Prompt{{Text: "Password: ", Echo: false}, {Text: "PIN: ", Echo: true}},
	}).marshal(g)
	body := g.bytes()[1:]

	if err := s.handleUserAuthInfoRequest(context.Background(), h, body); err != nil {
		t.Fatalf("handleUserAuthInfoRequest: %v", err)
	}
	if len(h.kiPrompts) != 2 || h.kiPrompts[0].Text != "Password: " || h.kiPrompts[1].Echo != true {
		t.Fatalf("handler received prompts %+v", h.kiPrompts)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthInfoResponse {
		t.Fatalf("expected USERAUTH_INFO_RESPONSE, got %v", out)
	}
	resp, ok := parseUserAuthInfoResponse(out[1:])
	if !ok || len(resp.Responses) != 2 || resp.Responses[0] != "hunter2" || resp.Responses[1] != "42" {
		t.Fatalf("parsed response = %+v, ok=%v", resp, ok)
	}
}

func TestDispatchRoutesOpcode60ByAuthMethodInFlight(t *testing.T) {
	s := newTestSession(RoleClient)
	auth := newAuthRequest(nil)
	auth.user = "bob"
	auth.current = newKeyboardInteractiveCurrentRequest("")
	s.install(&waitingAuthRequestState{auth: auth})
	h := &fakeClientHandler{kiResponses: []string{"hunter2"}}

	g := &growBuffer{}
	(&userAuthInfoRequestMsg{Name: "Challenge", Prompts: []Prompt{{Text: "Password: "}}}).marshal(g)

	if _, err := s.dispatch(context.Background(), h, g.bytes(), time.Now()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgUserAuthInfoResponse {
		t.Fatalf("expected a keyboard-interactive continuation to produce USERAUTH_INFO_RESPONSE, got %v", out)
	}
}

func TestHandleUserAuthFailureUpdatesMethodsAndErrorsWhenExhausted(t *testing.T) {
	s := newTestSession(RoleClient)
	s.install(&waitingAuthRequestState{auth: newAuthRequest(nil)})
	h := &fakeClientHandler{}

	body := append(appendNameList(nil, nil), appendBool(nil, false)...)
	err := s.handleUserAuthFailure(context.Background(), h, body)
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != ErrNoAuthMethod {
		t.Fatalf("expected ErrNoAuthMethod when no methods remain, got %v", err)
	}
	if h.failurePartial {
		t.Fatal("partialSuccess should be false here")
	}
}

func TestHandleUserAuthSuccessInstallsAuthenticatedAndNotifiesHandler(t *testing.T) {
	s := newTestSession(RoleClient)
	s.install(&waitingAuthRequestState{auth: newAuthRequest(nil)})
	h := &fakeClientHandler{}

	if err := s.handleUserAuthSuccess(context.Background(), h); err != nil {
		t.Fatalf("handleUserAuthSuccess: %v", err)
	}
	if _, ok := s.encState.(*authenticatedState); !ok {
		t.Fatalf("expected authenticatedState, got %T", s.encState)
	}
	if !h.successCalled {
		t.Fatal("expected AuthSuccess to be called")
	}
}
