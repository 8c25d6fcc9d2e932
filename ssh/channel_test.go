// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"context"
	"errors"
	"testing"
)

// fakeServerHandler implements ServerHandler, recording what it was asked
// and returning caller-configured verdicts.
type fakeServerHandler struct {
	acceptOpen    bool
	acceptRequest bool
	lastData      []byte
	lastSignal    Sig
	dataErr       error
}

func (f *fakeServerHandler) ChannelClose(ctx context.Context, channelID uint32) error { return nil }
func (f *fakeServerHandler) ChannelEOF(ctx context.Context, channelID uint32) error   { return nil }
func (f *fakeServerHandler) Data(ctx context.Context, channelID uint32, data []byte) error {
	f.lastData = data
	return f.dataErr
}
func (f *fakeServerHandler) ExtendedData(ctx context.Context, channelID uint32, code uint32, data []byte) error {
	f.lastData = data
	return nil
}
func (f *fakeServerHandler) WindowAdjusted(ctx context.Context, channelID uint32, newValue uint32) error {
	return nil
}
func (f *fakeServerHandler) AuthNone(ctx context.Context, user string) (Auth, error) {
	return AuthReject(), nil
}
func (f *fakeServerHandler) AuthPassword(ctx context.Context, user, password string) (Auth, error) {
	return AuthReject(), nil
}
func (f *fakeServerHandler) AuthPublicKey(ctx context.Context, user string, key PublicKey) (Auth, error) {
	return AuthReject(), nil
}
func (f *fakeServerHandler) AuthKeyboardInteractive(ctx context.Context, user, submethods string, responses []string) (Auth, error) {
	return AuthReject(), nil
}
func (f *fakeServerHandler) ChannelOpenSession(ctx context.Context, channelID uint32) (bool, error) {
	return f.acceptOpen, nil
}
func (f *fakeServerHandler) ChannelOpenX11(ctx context.Context, channelID uint32, originAddr string, originPort uint32) (bool, error) {
	return f.acceptOpen, nil
}
func (f *fakeServerHandler) ChannelOpenDirectTCPIP(ctx context.Context, channelID uint32, host string, port uint32, originAddr string, originPort uint32) (bool, error) {
	return f.acceptOpen, nil
}
func (f *fakeServerHandler) PtyRequest(ctx context.Context, channelID uint32, pty Pty) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) X11Request(ctx context.Context, channelID uint32, singleConnection bool, protocol, cookie string, screen uint32) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) EnvRequest(ctx context.Context, channelID uint32, name, value string) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) ShellRequest(ctx context.Context, channelID uint32) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) ExecRequest(ctx context.Context, channelID uint32, command string) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) SubsystemRequest(ctx context.Context, channelID uint32, name string) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) WindowChangeRequest(ctx context.Context, channelID uint32, columns, rows, width, height uint32) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) Signal(ctx context.Context, channelID uint32, sig Sig) error {
	f.lastSignal = sig
	return nil
}
func (f *fakeServerHandler) TCPIPForward(ctx context.Context, address string, port uint32) (bool, error) {
	return f.acceptRequest, nil
}
func (f *fakeServerHandler) CancelTCPIPForward(ctx context.Context, address string, port uint32) (bool, error) {
	return f.acceptRequest, nil
}

var _ ServerHandler = (*fakeServerHandler)(nil)

func marshalChannelOpen(chanType string, peersID, peersWindow, maxPacket uint32, typeSpecific []byte) []byte {
	g := &growBuffer{}
	g.packet(msgChannelOpen, func(g *growBuffer) {
		g.string([]byte(chanType))
		g.uint32(peersID)
		g.uint32(peersWindow)
		g.uint32(maxPacket)
		g.raw(typeSpecific)
	})
	return g.bytes()[1:] // dispatch hands handlers the body, opcode already stripped
}

func TestHandleChannelOpenSessionAcceptRegistersChannel(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{acceptOpen: true}
	body := marshalChannelOpen("session", 7, 1000, 2000, nil)

	if err := s.handleChannelOpen(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelOpen: %v", err)
	}
	if len(s.channels) != 1 {
		t.Fatalf("expected one registered channel, got %d", len(s.channels))
	}
	for _, ch := range s.channels {
		if ch.RemoteID != 7 {
			t.Fatalf("RemoteID = %d, want 7", ch.RemoteID)
		}
		if ch.remoteWindow.value() != 1000 {
			t.Fatalf("remoteWindow = %d, want 1000", ch.remoteWindow.value())
		}
	}
}

func TestHandleChannelOpenRejectionSendsFailureNotRegistered(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{acceptOpen: false}
	body := marshalChannelOpen("session", 7, 1000, 2000, nil)

	if err := s.handleChannelOpen(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelOpen: %v", err)
	}
	if len(s.channels) != 0 {
		t.Fatal("a rejected channel open must not be registered")
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgChannelOpenFailure {
		t.Fatalf("expected a CHANNEL_OPEN_FAILURE, got opcode %v", out)
	}
}

func TestHandleChannelOpenUnknownChanTypeDoesNotCallHandler(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{acceptOpen: true}
	body := marshalChannelOpen("carrier-pigeon", 7, 1000, 2000, nil)

	if err := s.handleChannelOpen(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelOpen: %v", err)
	}
	if len(s.channels) != 0 {
		t.Fatal("unknown channel type must not register a channel")
	}
}

func TestHandleChannelDataDeliversPayloadAndAccountsWindow(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{}
	ch := &Channel{LocalID: 0, RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	ch.localWindow.add(s.Config.WindowSize)
	s.channels[0] = ch

	g := &growBuffer{}
	(&channelDataMsg{PeersId: 0, Payload: []byte("hello")}).marshal(g)
	body := g.bytes()[1:]

	if err := s.handleChannelData(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelData: %v", err)
	}
	if string(h.lastData) != "hello" {
		t.Fatalf("handler received %q, want %q", h.lastData, "hello")
	}
	if ch.localWindow.value() != s.Config.WindowSize-5 {
		t.Fatalf("localWindow = %d, want %d", ch.localWindow.value(), s.Config.WindowSize-5)
	}
}

func TestHandleChannelDataUnknownChannelErrors(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{}
	g := &growBuffer{}
	(&channelDataMsg{PeersId: 99, Payload: []byte("x")}).marshal(g)
	body := g.bytes()[1:]

	err := s.handleChannelData(context.Background(), h, body)
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != ErrWrongChannel {
		t.Fatalf("expected ErrWrongChannel, got %v", err)
	}
}

func TestAccountInboundBytesReplenishesBelowHalfTarget(t *testing.T) {
	s := newTestSession(RoleServer)
	ch := &Channel{RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	ch.localWindow.add(s.Config.WindowSize)

	if err := s.accountInboundBytes(ch, s.Config.WindowSize-1); err != nil { // leaves 1, well below half target
		t.Fatalf("accountInboundBytes: %v", err)
	}

	if ch.localWindow.value() != s.Config.WindowSize {
		t.Fatalf("expected window to be replenished back to target, got %d", ch.localWindow.value())
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgChannelWindowAdjust {
		t.Fatalf("expected a CHANNEL_WINDOW_ADJUST, got %v", out)
	}
}

func TestAccountInboundBytesNoAdjustAboveHalfTarget(t *testing.T) {
	s := newTestSession(RoleServer)
	ch := &Channel{RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	ch.localWindow.add(s.Config.WindowSize)

	if err := s.accountInboundBytes(ch, 10); err != nil { // barely touches the window
		t.Fatalf("accountInboundBytes: %v", err)
	}

	out := s.writeBuffer().bytes()
	if len(out) != 0 {
		t.Fatalf("expected no window adjust, got %v", out)
	}
}

func TestAccountInboundBytesRejectsPeerExceedingLocalWindow(t *testing.T) {
	s := newTestSession(RoleServer)
	ch := &Channel{RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	ch.localWindow.add(100)

	err := s.accountInboundBytes(ch, 101)
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != ErrInconsistent {
		t.Fatalf("expected ErrInconsistent for a peer exceeding the advertised window, got %v", err)
	}
}

func TestHandleChannelDataRejectsPeerExceedingLocalWindow(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{}
	ch := &Channel{LocalID: 0, RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	ch.localWindow.add(4)
	s.channels[0] = ch

	g := &growBuffer{}
	(&channelDataMsg{PeersId: 0, Payload: []byte("too much data")}).marshal(g)
	body := g.bytes()[1:]

	err := s.handleChannelData(context.Background(), h, body)
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != ErrInconsistent {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestHandleChannelRequestShellAcceptSendsSuccess(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{acceptRequest: true}
	ch := &Channel{LocalID: 0, RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	s.channels[0] = ch

	g := &growBuffer{}
	g.packet(msgChannelRequest, func(g *growBuffer) {
		g.uint32(0)
		g.string([]byte("shell"))
		g.bool(true)
	})
	body := g.bytes()[1:]

	if err := s.handleChannelRequest(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelRequest: %v", err)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgChannelSuccess {
		t.Fatalf("expected CHANNEL_SUCCESS, got %v", out)
	}
}

func TestHandleChannelRequestRejectSendsFailure(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{acceptRequest: false}
	ch := &Channel{LocalID: 0, RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	s.channels[0] = ch

	g := &growBuffer{}
	g.packet(msgChannelRequest, func(g *growBuffer) {
		g.uint32(0)
		g.string([]byte("shell"))
		g.bool(true)
	})
	body := g.bytes()[1:]

	if err := s.handleChannelRequest(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelRequest: %v", err)
	}
	out := s.writeBuffer().bytes()
	if len(out) == 0 || out[0] != msgChannelFailure {
		t.Fatalf("expected CHANNEL_FAILURE, got %v", out)
	}
}

func TestHandleChannelRequestUnrecognisedWithoutReplyIsSilent(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{acceptRequest: true}
	ch := &Channel{LocalID: 0, RemoteID: 7, localWindow: newWindow(), remoteWindow: newWindow()}
	s.channels[0] = ch

	g := &growBuffer{}
	g.packet(msgChannelRequest, func(g *growBuffer) {
		g.uint32(0)
		g.string([]byte("unknown-type"))
		g.bool(false)
	})
	body := g.bytes()[1:]

	if err := s.handleChannelRequest(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelRequest: %v", err)
	}
	if out := s.writeBuffer().bytes(); len(out) != 0 {
		t.Fatalf("expected no reply when WantReply is false, got %v", out)
	}
}

func TestHandleChannelCloseRemovesChannelBeforeInvokingHandler(t *testing.T) {
	s := newTestSession(RoleServer)
	h := &fakeServerHandler{}
	s.channels[3] = &Channel{LocalID: 3}

	g := &growBuffer{}
	(&channelCloseMsg{PeersId: 3}).marshal(g)
	body := g.bytes()[1:]

	if err := s.handleChannelClose(context.Background(), h, body); err != nil {
		t.Fatalf("handleChannelClose: %v", err)
	}
	if _, ok := s.channels[3]; ok {
		t.Fatal("channel should be removed from the map on close")
	}
}

func TestSendDataChunksToRemoteWindow(t *testing.T) {
	s := newTestSession(RoleServer)
	ch := &Channel{RemoteID: 1, remoteWindow: newWindow()}
	ch.remoteWindow.add(3)

	done := make(chan struct{})
	go func() {
		s.SendData(ch, []byte("hello"))
		close(done)
	}()

	// SendData blocks until the remote window admits the remaining 2 bytes.
	select {
	case <-done:
		t.Fatal("SendData returned before the window admitted the full payload")
	default:
	}
	ch.remoteWindow.add(2)
	<-done

	out := s.writeBuffer().bytes()
	if len(out) == 0 {
		t.Fatal("expected at least one CHANNEL_DATA message")
	}
}
