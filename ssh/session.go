// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"context"
	"time"
)

// This file implements spec.md 4.E, the Session Driver: the single
// cooperative task per connection that awaits an inbound packet, the
// idle timeout, an application-outbound message, or cancellation; feeds
// KEXINIT into a rekey; and otherwise dispatches through the Auth
// Protocol or Channel Layer before flushing the write buffer. Grounded on
// original_source/src/server/mod.rs::run_stream's tokio::select! loop,
// translated into a Go select over channels, and client.go's mainLoop
// for the opcode-switch shape.

type inboundPacket struct {
	payload []byte
	err     error
}

// Serve runs the driver loop until the session ends (DISCONNECT, idle
// timeout, or a fatal error), returning nil only on a clean DISCONNECT. An
// idle timeout returns a *SessionError of kind ErrTimeElapsed, and
// cancellation returns ctx.Err(). handler must implement ServerHandler for a RoleServer
// Session or ClientHandler for RoleClient.
func (s *Session) Serve(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan inboundPacket, 1)
	go s.readOne(ctx, inbound)

	idle := time.NewTimer(s.Config.ConnectionTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case <-idle.C:
			s.shutdown()
			return newErr(ErrTimeElapsed, errIdleTimeout)

		case out := <-s.outbound:
			s.emitOutbound(out)
			if err := s.flush(ctx); err != nil {
				s.shutdown()
				return err
			}

		case pkt := <-inbound:
			if pkt.err != nil {
				s.shutdown()
				return pkt.err
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.Config.ConnectionTimeout)
			s.lastInput = time.Now()

			done, err := s.dispatch(ctx, handler, pkt.payload, s.lastInput)
			if err != nil {
				s.flush(ctx)
				s.shutdown()
				return err
			}
			if done {
				s.flush(ctx)
				s.shutdown()
				return nil
			}
			if err := s.flush(ctx); err != nil {
				s.shutdown()
				return err
			}
			// Only request the next packet once dispatch — and any
			// rekey it triggered — has fully released the Transport.
			// KexEngine.Server/Client reads from it directly during a
			// rekey (see handleRekey), so readOne must never run
			// concurrently with that read.
			go s.readOne(ctx, inbound)
		}
	}
}

// readOne reads exactly one packet and reports it on out. Serve only ever
// has one readOne in flight at a time, so it never races
// KexEngine.Server/Client's direct reads from the Transport during a
// rekey — original_source/src/server/mod.rs's run_stream multiplexes
// reads and writes within a single task; this keeps that same
// single-reader invariant across the goroutines this translation uses.
func (s *Session) readOne(ctx context.Context, out chan<- inboundPacket) {
	payload, err := s.transport.ReadPacket(ctx)
	select {
	case out <- inboundPacket{payload: payload, err: err}:
	case <-ctx.Done():
	}
}

func (s *Session) flush(ctx context.Context) error {
	data := s.writeBuffer().bytes()
	if len(data) == 0 {
		return nil
	}
	if err := s.transport.WriteAll(ctx, data); err != nil {
		return wrapErr(ErrSendError, err, "flush write buffer")
	}
	return nil
}

func (s *Session) shutdown() {
	if s.disconnected {
		return
	}
	s.disconnected = true
	s.transport.Shutdown()
}

// dispatch classifies one inbound packet and routes it (spec.md 4.E).
// done reports a clean DISCONNECT.
func (s *Session) dispatch(ctx context.Context, handler Handler, payload []byte, arrival time.Time) (done bool, err error) {
	if len(payload) == 0 {
		return false, errMalformedPacket
	}
	opcode := payload[0]
	body := payload[1:]

	// Rekey preemption: while a KEX is pending, only KEXINIT/NEWKEYS
	// traffic is meaningful; everything else here is a protocol error
	// since engine.Server/Client owns the Transport exclusively for the
	// duration of a rekey and the driver should never observe
	// intermediate KEX packets at all (spec.md 4.E, "Rekey interaction").
	if opcode == msgKexInit {
		return false, s.handleRekey(ctx, body)
	}

	if opcode == msgDisconnect {
		return true, nil
	}
	if opcode >= msgIgnore && opcode <= msgDebug {
		// IGNORE/UNIMPLEMENTED/DEBUG/transport noise: skip (spec.md 4.E).
		return false, nil
	}

	switch st := s.encState.(type) {
	case *waitingServiceRequestState:
		return false, s.dispatchWaitingServiceRequest(ctx, handler, opcode, body, st)
	case *waitingAuthRequestState:
		return false, s.dispatchWaitingAuthRequest(ctx, handler, opcode, body, arrival)
	case *authenticatedState:
		return false, s.dispatchAuthenticated(ctx, handler, opcode, body)
	}
	return false, newErr(ErrInconsistent, errUnreachableState)
}

func (s *Session) dispatchWaitingServiceRequest(ctx context.Context, handler Handler, opcode byte, body []byte, st *waitingServiceRequestState) error {
	switch s.Role {
	case RoleServer:
		if opcode != msgServiceRequest {
			return newErr(ErrInconsistent, errServiceRequestOutOfOrder)
		}
		return s.handleServiceRequest(body)
	case RoleClient:
		if opcode != msgServiceAccept {
			return newErr(ErrInconsistent, errServiceRequestOutOfOrder)
		}
		if _, ok := handler.(ClientHandler); !ok {
			return newErr(ErrInconsistent, errWrongHandlerRole)
		}
		return s.handleServiceAccept(ctx, body)
	}
	return nil
}

func (s *Session) dispatchWaitingAuthRequest(ctx context.Context, handler Handler, opcode byte, body []byte, arrival time.Time) error {
	switch s.Role {
	case RoleServer:
		h, ok := handler.(ServerHandler)
		if !ok {
			return newErr(ErrInconsistent, errWrongHandlerRole)
		}
		switch opcode {
		case msgUserAuthRequest:
			return s.handleUserAuthRequest(ctx, h, body, arrival)
		case msgUserAuthInfoResponse:
			return s.handleUserAuthInfoResponse(ctx, h, body, arrival)
		}
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)

	case RoleClient:
		h, ok := handler.(ClientHandler)
		if !ok {
			return newErr(ErrInconsistent, errWrongHandlerRole)
		}
		switch opcode {
		case msgUserAuthSuccess:
			return s.handleUserAuthSuccess(ctx, h)
		case msgUserAuthBanner:
			return s.handleUserAuthBanner(ctx, h, body)
		case msgUserAuthFailure:
			return s.handleUserAuthFailure(ctx, h, body)
		case msgUserAuthPubKeyOk:
			// PK_OK and INFO_REQUEST share opcode 60 (RFC 4252 §7,
			// RFC 4256 §3.2); which one arrived depends on which method
			// is in flight, not on the opcode alone.
			st, ok := s.encState.(*waitingAuthRequestState)
			if ok && st.auth.current.isKeyboardInteractive() {
				return s.handleUserAuthInfoRequest(ctx, h, body)
			}
			return s.handleUserAuthPubKeyOk(ctx, h, body)
		}
		return newErr(ErrInconsistent, errAuthRequestOutOfOrder)
	}
	return nil
}

func (s *Session) dispatchAuthenticated(ctx context.Context, handler Handler, opcode byte, body []byte) error {
	switch opcode {
	case msgChannelData:
		return s.handleChannelData(ctx, handler, body)
	case msgChannelExtendedData:
		return s.handleChannelExtendedData(ctx, handler, body)
	case msgChannelWindowAdjust:
		return s.handleWindowAdjust(ctx, handler, body)
	case msgChannelClose:
		return s.handleChannelClose(ctx, handler, body)
	case msgChannelEOF:
		return s.handleChannelEOF(ctx, handler, body)
	}

	switch s.Role {
	case RoleServer:
		h, ok := handler.(ServerHandler)
		if !ok {
			return newErr(ErrInconsistent, errWrongHandlerRole)
		}
		switch opcode {
		case msgChannelOpen:
			return s.handleChannelOpen(ctx, h, body)
		case msgChannelRequest:
			return s.handleChannelRequest(ctx, h, body)
		case msgGlobalRequest:
			return s.handleGlobalRequest(ctx, h, body)
		}
	case RoleClient:
		h, ok := handler.(ClientHandler)
		if !ok {
			return newErr(ErrInconsistent, errWrongHandlerRole)
		}
		switch opcode {
		case msgChannelOpenConfirm:
			return s.handleChannelOpenConfirm(body)
		case msgChannelOpenFailure:
			return s.handleChannelOpenFailure(body)
		case msgChannelRequest:
			return s.handleClientChannelRequest(ctx, h, body)
		case msgChannelOpen:
			return s.handleForwardedTCPIPOpen(ctx, h, body)
		case msgRequestSuccess, msgRequestFailure:
			return nil
		}
	}
	return newErr(ErrInconsistent, errUnexpectedOpcodeAuthenticated(opcode))
}

// emitOutbound appends one application-outbound message to the write
// buffer (spec.md 5: "Outbound messages from the application are
// interleaved with inbound-triggered emissions only at iteration
// boundaries").
func (s *Session) emitOutbound(out outboundMsg) {
	ch, ok := s.channels[out.channelID]
	if !ok {
		return
	}
	switch out.kind {
	case outboundData:
		s.SendData(ch, out.data)
	case outboundExtendedData:
		(&channelExtendedDataMsg{PeersId: ch.RemoteID, DataType: out.extCode, Payload: out.data}).marshal(s.writeBuffer())
	case outboundEOF:
		(&channelEOFMsg{PeersId: ch.RemoteID}).marshal(s.writeBuffer())
	case outboundXonXoff:
		g := s.writeBuffer()
		g.packet(msgChannelRequest, func(g *growBuffer) {
			g.uint32(ch.RemoteID)
			g.string([]byte("xon-xoff"))
			g.bool(false)
			g.bool(out.canDo)
		})
	case outboundExitStatus:
		(&exitStatusMsg{PeersId: ch.RemoteID, ExitStatus: out.exitStatus}).marshal(s.writeBuffer())
	case outboundExitSignal:
		(&exitSignalMsg{PeersId: ch.RemoteID, Signal: out.sig.Name, CoreDumped: out.sig.CoreDumped, Message: out.sig.Message, Lang: "en"}).marshal(s.writeBuffer())
	}
}

// SendExitStatus, SendExitSignal, SendEOF, SendExtendedData, and
// SendChannelData are the application-facing enqueue side of the
// outbound queue; they never block past the configured queue depth
// (spec.md 9: "Treat saturation as backpressure on the application side;
// do not drop messages").
func (s *Session) SendExitStatus(ctx context.Context, channelID uint32, status uint32) error {
	return s.enqueueOutbound(ctx, outboundMsg{kind: outboundExitStatus, channelID: channelID, exitStatus: status})
}

func (s *Session) SendExitSignal(ctx context.Context, channelID uint32, sig Sig) error {
	return s.enqueueOutbound(ctx, outboundMsg{kind: outboundExitSignal, channelID: channelID, sig: sig})
}

func (s *Session) SendEOF(ctx context.Context, channelID uint32) error {
	return s.enqueueOutbound(ctx, outboundMsg{kind: outboundEOF, channelID: channelID})
}

func (s *Session) SendExtendedData(ctx context.Context, channelID uint32, code uint32, data []byte) error {
	return s.enqueueOutbound(ctx, outboundMsg{kind: outboundExtendedData, channelID: channelID, extCode: code, data: data})
}

func (s *Session) SendChannelData(ctx context.Context, channelID uint32, data []byte) error {
	return s.enqueueOutbound(ctx, outboundMsg{kind: outboundData, channelID: channelID, data: data})
}

func (s *Session) enqueueOutbound(ctx context.Context, m outboundMsg) error {
	select {
	case s.outbound <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleRekey implements spec.md 4.E's "Rekey interaction": a KEXINIT
// while authenticated (or at any other point) hands the current Exchange
// to the KexEngine and blocks until it completes, then reinstalls
// EncryptedState unchanged.
func (s *Session) handleRekey(ctx context.Context, body []byte) error {
	if s.kex != nil {
		return newErr(ErrInconsistent, errRekeyWhilePending)
	}
	if s.kexEngine == nil {
		return newErr(ErrKex, errNoKexEngine)
	}
	if _, err := s.kexEngine.ReadKexInit(body); err != nil {
		return wrapErr(ErrKex, err, "parse KEXINIT")
	}

	ex := s.takeExchange()
	// The KexEngine needs the peer's raw KEXINIT packet verbatim (opcode
	// byte included) to fold into the exchange hash; body here is exactly
	// that packet's payload, already read and opcode-classified by
	// dispatch before routing to handleRekey. Which side's slot it fills
	// depends on which role saw it arrive.
	raw := append([]byte{msgKexInit}, body...)
	switch s.Role {
	case RoleServer:
		ex.ClientKexInit = raw
	case RoleClient:
		ex.ServerKexInit = raw
	}
	s.kex = &kexSlot{engine: s.kexEngine, started: ex}

	var reply *KexReply
	var err error
	switch s.Role {
	case RoleServer:
		reply, err = s.kexEngine.Server(ctx, s.transport, ex, s.Config.HostKeys)
	case RoleClient:
		reply, err = s.kexEngine.Client(ctx, s.transport, ex, s.Config.HostKeyCallback)
	}
	s.kex = nil
	if err != nil {
		return wrapErr(ErrKex, err, "rekey")
	}
	// EncryptedState is left unchanged across rekey (spec.md 3 invariant).
	// takeExchange cleared s.exchange; reinstall the prior one first so
	// putExchange carries its SessionID over to the reply's Exchange.
	s.exchange = ex
	s.putExchange(reply.Exchange)
	s.Metrics.RekeyCompleted()
	return nil
}
