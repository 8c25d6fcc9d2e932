// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "context"

// This file implements spec.md 4.D, the Channel Layer: open/confirm/
// failure, data/extended-data with window accounting, window-adjust,
// channel-request dispatch, close/eof, and the two global requests
// (tcpip-forward/cancel-tcpip-forward). Grounded on
// original_source/src/server/encrypted.rs
// (Session::server_handle_channel_open, server_confirm_channel_open) and
// client.go's handleChanOpen/mainLoop dispatch for the client-side
// confirmation path.

func (s *Session) handleChannelOpen(ctx context.Context, h ServerHandler, payload []byte) error {
	req, ok := parseChannelOpen(payload)
	if !ok {
		return errMalformedPacket
	}

	localID := s.newChannelID()
	ch := &Channel{
		LocalID:         localID,
		RemoteID:        req.PeersId,
		localWindow:     newWindow(),
		remoteWindow:    newWindow(),
		LocalMaxPacket:  s.Config.MaximumPacketSize,
		RemoteMaxPacket: req.MaxPacketSize,
		Confirmed:       true,
		chanType:        req.ChanType,
	}
	ch.localWindow.add(s.Config.WindowSize)
	ch.remoteWindow.add(req.PeersWindow)

	var accept bool
	var err error
	switch req.ChanType {
	case "session":
		accept, err = h.ChannelOpenSession(ctx, localID)
	case "x11":
		origAddr, rest, ok := parseString(req.TypeSpecific)
		if !ok {
			return errMalformedPacket
		}
		origPort, _, ok := parseUint32(rest)
		if !ok {
			return errMalformedPacket
		}
		accept, err = h.ChannelOpenX11(ctx, localID, string(origAddr), origPort)
	case "direct-tcpip":
		m, ok := parseDirectTCPIP(req.TypeSpecific)
		if !ok {
			return errMalformedPacket
		}
		accept, err = h.ChannelOpenDirectTCPIP(ctx, localID, m.HostToConnect, m.PortToConnect, m.OriginatorAddress, m.OriginatorPort)
	default:
		(&channelOpenFailureMsg{
			PeersId:  req.PeersId,
			Reason:   openUnknownChannelType,
			Message:  "Unknown channel type",
			Language: "en",
		}).marshal(s.writeBuffer())
		return nil
	}
	if err != nil {
		return wrapErr(ErrHandlerError, err, "channel_open")
	}
	if !accept {
		(&channelOpenFailureMsg{
			PeersId:  req.PeersId,
			Reason:   openAdministrativelyProhibited,
			Message:  "administratively prohibited",
			Language: "en",
		}).marshal(s.writeBuffer())
		return nil
	}

	s.channels[localID] = ch
	s.Metrics.ChannelOpened()
	(&channelOpenConfirmMsg{
		PeersId:       req.PeersId,
		MyId:          localID,
		MyWindow:      s.Config.WindowSize,
		MaxPacketSize: s.Config.MaximumPacketSize,
	}).marshal(s.writeBuffer())
	return nil
}

// OpenChannel is the client-side initiator for spec.md 4.D's "Opening
// (client)": it registers a pending local id and emits CHANNEL_OPEN, to
// be completed by the matching CHANNEL_OPEN_CONFIRMATION/FAILURE.
func (s *Session) OpenChannel(chanType string, typeSpecific []byte) uint32 {
	localID := s.newChannelID()
	s.pendingOpens[localID] = struct{}{}
	g := s.writeBuffer()
	g.packet(msgChannelOpen, func(g *growBuffer) {
		g.string([]byte(chanType))
		g.uint32(localID)
		g.uint32(s.Config.WindowSize)
		g.uint32(s.Config.MaximumPacketSize)
		g.raw(typeSpecific)
	})
	return localID
}

func (s *Session) handleChannelOpenConfirm(payload []byte) error {
	m, ok := parseChannelOpenConfirm(payload)
	if !ok {
		return errMalformedPacket
	}
	if _, pending := s.pendingOpens[m.MyId]; !pending {
		return newErr(ErrInconsistent, errNoPendingChannelOpen)
	}
	delete(s.pendingOpens, m.MyId)
	ch := &Channel{
		LocalID:         m.MyId,
		RemoteID:        m.PeersId,
		localWindow:     newWindow(),
		remoteWindow:    newWindow(),
		LocalMaxPacket:  s.Config.MaximumPacketSize,
		RemoteMaxPacket: m.MaxPacketSize,
		Confirmed:       true,
	}
	ch.localWindow.add(s.Config.WindowSize)
	ch.remoteWindow.add(m.MyWindow)
	s.channels[m.MyId] = ch
	s.Metrics.ChannelOpened()
	return nil
}

func (s *Session) handleChannelOpenFailure(payload []byte) error {
	m, ok := parseChannelOpenFailure(payload)
	if !ok {
		return errMalformedPacket
	}
	if _, pending := s.pendingOpens[m.PeersId]; !pending {
		return newErr(ErrInconsistent, errNoPendingChannelOpen)
	}
	delete(s.pendingOpens, m.PeersId)
	return nil
}

// handleChannelData and handleChannelExtendedData implement spec.md 4.D's
// "Data flow": adjust local window, replenish once it falls below half
// the configured target, then invoke the Handler.
func (s *Session) handleChannelData(ctx context.Context, h Handler, payload []byte) error {
	m, ok := parseChannelData(payload)
	if !ok {
		return errMalformedPacket
	}
	ch, ok := s.channels[m.PeersId]
	if !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(m.PeersId))
	}
	if err := s.accountInboundBytes(ch, uint32(len(m.Payload))); err != nil {
		return err
	}
	if err := h.Data(ctx, m.PeersId, m.Payload); err != nil {
		return wrapErr(ErrHandlerError, err, "data")
	}
	return nil
}

func (s *Session) handleChannelExtendedData(ctx context.Context, h Handler, payload []byte) error {
	m, ok := parseChannelExtendedData(payload)
	if !ok {
		return errMalformedPacket
	}
	ch, ok := s.channels[m.PeersId]
	if !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(m.PeersId))
	}
	if err := s.accountInboundBytes(ch, uint32(len(m.Payload))); err != nil {
		return err
	}
	if err := h.ExtendedData(ctx, m.PeersId, m.DataType, m.Payload); err != nil {
		return wrapErr(ErrHandlerError, err, "extended_data")
	}
	return nil
}

// accountInboundBytes decrements the local window by n and, if it has
// fallen below half the configured target, emits a CHANNEL_WINDOW_ADJUST
// restoring it to the target (spec.md 4.D: "below half of the configured
// target"). n must not exceed the currently advertised window: nothing
// else ever credits localWindow back (unlike remoteWindow, which the
// peer's own WINDOW_ADJUST messages replenish), so a peer that ignores
// the advertised window and keeps sending would otherwise leave
// window.reserve blocking this goroutine forever with no one left to
// call add. Treat the overrun as a protocol violation instead.
func (s *Session) accountInboundBytes(ch *Channel, n uint32) error {
	if n > ch.localWindow.value() {
		return newErr(ErrInconsistent, errWindowExceeded)
	}
	ch.localWindow.reserve(n)
	target := s.Config.WindowSize
	if ch.localWindow.value() < target/2 {
		delta := target - ch.localWindow.value()
		ch.localWindow.add(delta)
		(&windowAdjustMsg{PeersId: ch.RemoteID, AdditionalBytes: delta}).marshal(s.writeBuffer())
	}
	return nil
}

func (s *Session) handleWindowAdjust(ctx context.Context, h Handler, payload []byte) error {
	m, ok := parseWindowAdjust(payload)
	if !ok {
		return errMalformedPacket
	}
	ch, ok := s.channels[m.PeersId]
	if !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(m.PeersId))
	}
	if !ch.remoteWindow.add(m.AdditionalBytes) {
		return newErr(ErrInconsistent, errWindowOverflow)
	}
	if err := h.WindowAdjusted(ctx, m.PeersId, ch.remoteWindow.value()); err != nil {
		return wrapErr(ErrHandlerError, err, "window_adjusted")
	}
	return nil
}

// SendData writes a CHANNEL_DATA message, blocking on the channel's
// remote window as needed (spec.md 3: "remote_window must not be
// incremented beyond what the peer signaled" implies the sender must
// never exceed it either).
func (s *Session) SendData(ch *Channel, payload []byte) {
	for len(payload) > 0 {
		n := ch.remoteWindow.reserve(uint32(len(payload)))
		if n == 0 {
			continue
		}
		chunk := payload[:n]
		payload = payload[n:]
		(&channelDataMsg{PeersId: ch.RemoteID, Payload: chunk}).marshal(s.writeBuffer())
	}
}

// handleChannelRequest dispatches CHANNEL_REQUEST by name (spec.md 4.D,
// "Requests" table).
func (s *Session) handleChannelRequest(ctx context.Context, h ServerHandler, payload []byte) error {
	req, ok := parseChannelRequest(payload)
	if !ok {
		return errMalformedPacket
	}
	ch, ok := s.channels[req.PeersId]
	if !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(req.PeersId))
	}

	var accepted bool
	var err error
	var recognised = true

	switch req.RequestType {
	case "pty-req":
		m, ok := parsePtyRequest(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		accepted, err = h.PtyRequest(ctx, ch.LocalID, Pty{
			Term: m.Term, Columns: m.Columns, Rows: m.Rows,
			Width: m.Width, Height: m.Height, Modes: ptyModes(m.Modelist),
		})
	case "x11-req":
		single, rest, ok := parseBool(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		proto, rest, ok := parseString(rest)
		if !ok {
			return errMalformedPacket
		}
		cookie, rest, ok := parseString(rest)
		if !ok {
			return errMalformedPacket
		}
		screen, _, ok := parseUint32(rest)
		if !ok {
			return errMalformedPacket
		}
		accepted, err = h.X11Request(ctx, ch.LocalID, single, string(proto), string(cookie), screen)
	case "env":
		m, ok := parseEnvRequest(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		accepted, err = h.EnvRequest(ctx, ch.LocalID, m.Name, m.Value)
	case "shell":
		accepted, err = h.ShellRequest(ctx, ch.LocalID)
	case "exec":
		m, ok := parseExecRequest(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		accepted, err = h.ExecRequest(ctx, ch.LocalID, safeString(m.Command))
	case "subsystem":
		m, ok := parseSubsystemRequest(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		accepted, err = h.SubsystemRequest(ctx, ch.LocalID, m.Name)
	case "window-change":
		m, ok := parseWindowChange(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		accepted, err = h.WindowChangeRequest(ctx, ch.LocalID, m.Columns, m.Rows, m.Width, m.Height)
	case "signal":
		_, rest, ok := parseByte(req.RequestData) // skip-byte
		if !ok {
			return errMalformedPacket
		}
		m, ok := parseSignalRequest(rest)
		if !ok {
			return errMalformedPacket
		}
		if err := h.Signal(ctx, ch.LocalID, Sig{Name: m.Name}); err != nil {
			return wrapErr(ErrHandlerError, err, "signal")
		}
		return nil
	default:
		recognised = false
	}

	if err != nil {
		return wrapErr(ErrHandlerError, err, "channel_request:"+req.RequestType)
	}
	if !req.WantReply {
		return nil
	}
	if !recognised || !accepted {
		(&channelRequestFailureMsg{PeersId: ch.RemoteID}).marshal(s.writeBuffer())
		return nil
	}
	(&channelRequestSuccessMsg{PeersId: ch.RemoteID}).marshal(s.writeBuffer())
	return nil
}

// handleClientChannelRequest dispatches the subset of CHANNEL_REQUEST
// names a client receives back (spec.md 4.D table, "(client recv)" rows).
// A forwarded-tcpip CHANNEL_OPEN is handled by handleForwardedTCPIPOpen.
func (s *Session) handleClientChannelRequest(ctx context.Context, h ClientHandler, payload []byte) error {
	req, ok := parseChannelRequest(payload)
	if !ok {
		return errMalformedPacket
	}
	ch, ok := s.channels[req.PeersId]
	if !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(req.PeersId))
	}

	switch req.RequestType {
	case "exit-status":
		_, rest, ok := parseByte(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		status, _, ok := parseUint32(rest)
		if !ok {
			return errMalformedPacket
		}
		return h.ExitStatus(ctx, ch.LocalID, status)
	case "exit-signal":
		_, rest, ok := parseByte(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		name, rest, ok := parseString(rest)
		if !ok {
			return errMalformedPacket
		}
		core, rest, ok := parseBool(rest)
		if !ok {
			return errMalformedPacket
		}
		msg, rest, ok := parseString(rest)
		if !ok {
			return errMalformedPacket
		}
		return h.ExitSignal(ctx, ch.LocalID, Sig{Name: string(name), CoreDumped: core, Message: string(msg)})
	case "xon-xoff":
		_, rest, ok := parseByte(req.RequestData)
		if !ok {
			return errMalformedPacket
		}
		canDo, _, ok := parseBool(rest)
		if !ok {
			return errMalformedPacket
		}
		return h.XonXoff(ctx, ch.LocalID, canDo)
	}
	if req.WantReply {
		(&channelRequestFailureMsg{PeersId: ch.RemoteID}).marshal(s.writeBuffer())
	}
	return nil
}

func (s *Session) handleForwardedTCPIPOpen(ctx context.Context, h ClientHandler, payload []byte) error {
	req, ok := parseChannelOpen(payload)
	if !ok {
		return errMalformedPacket
	}
	m, ok := parseForwardedTCPIP(req.TypeSpecific)
	if !ok {
		return errMalformedPacket
	}
	localID := s.newChannelID()
	ch := &Channel{
		LocalID: localID, RemoteID: req.PeersId,
		localWindow: newWindow(), remoteWindow: newWindow(),
		LocalMaxPacket: s.Config.MaximumPacketSize, RemoteMaxPacket: req.MaxPacketSize,
		Confirmed: true, chanType: "forwarded-tcpip",
	}
	ch.localWindow.add(s.Config.WindowSize)
	ch.remoteWindow.add(req.PeersWindow)
	s.channels[localID] = ch
	s.Metrics.ChannelOpened()
	(&channelOpenConfirmMsg{
		PeersId: req.PeersId, MyId: localID,
		MyWindow: s.Config.WindowSize, MaxPacketSize: s.Config.MaximumPacketSize,
	}).marshal(s.writeBuffer())
	return h.ChannelOpenForwardedTCPIP(ctx, localID, m.ConnectedAddress, m.ConnectedPort, m.OriginatorAddress, m.OriginatorPort)
}

func (s *Session) handleChannelClose(ctx context.Context, h Handler, payload []byte) error {
	m, ok := parseChannelClose(payload)
	if !ok {
		return errMalformedPacket
	}
	if _, ok := s.channels[m.PeersId]; !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(m.PeersId))
	}
	// Removed from the map before invoking the handler (spec.md 4.D,
	// "Close").
	delete(s.channels, m.PeersId)
	s.Metrics.ChannelClosed()
	if err := h.ChannelClose(ctx, m.PeersId); err != nil {
		return wrapErr(ErrHandlerError, err, "channel_close")
	}
	return nil
}

func (s *Session) handleChannelEOF(ctx context.Context, h Handler, payload []byte) error {
	m, ok := parseChannelEOF(payload)
	if !ok {
		return errMalformedPacket
	}
	if _, ok := s.channels[m.PeersId]; !ok {
		return newErr(ErrWrongChannel, errUnknownChannelID(m.PeersId))
	}
	if err := h.ChannelEOF(ctx, m.PeersId); err != nil {
		return wrapErr(ErrHandlerError, err, "channel_eof")
	}
	return nil
}

// --- global requests (spec.md 4.D, "Global requests") ---

func (s *Session) handleGlobalRequest(ctx context.Context, h ServerHandler, payload []byte) error {
	req, ok := parseGlobalRequest(payload)
	if !ok {
		return errMalformedPacket
	}

	var ok2 bool
	var err error
	var recognised = true

	switch req.Type {
	case "tcpip-forward":
		m, ok := parseTCPIPForward(req.Data)
		if !ok {
			return errMalformedPacket
		}
		ok2, err = h.TCPIPForward(ctx, m.Address, m.Port)
	case "cancel-tcpip-forward":
		m, ok := parseCancelTCPIPForward(req.Data)
		if !ok {
			return errMalformedPacket
		}
		ok2, err = h.CancelTCPIPForward(ctx, m.Address, m.Port)
	default:
		recognised = false
	}
	if err != nil {
		return wrapErr(ErrHandlerError, err, "global_request:"+req.Type)
	}
	if !req.WantReply {
		return nil
	}
	if !recognised || !ok2 {
		(&globalRequestFailureMsg{}).marshal(s.writeBuffer())
		return nil
	}
	(&globalRequestSuccessMsg{}).marshal(s.writeBuffer())
	return nil
}
