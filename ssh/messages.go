// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// Message types for the post-KEX encrypted session core: service
// request/accept, the userauth sub-protocol, global requests, and channel
// multiplexing (RFC 4252/4253/4254). Each type knows how to parse itself
// from a payload with the opcode byte already stripped, and how to append
// itself to a growBuffer. This mirrors the teacher's (reflection-driven)
// marshal/unmarshal pair, but hand-written per spec.md 4.A: no struct tags,
// no reflect.

type serviceRequestMsg struct {
	Service string
}

func (m *serviceRequestMsg) marshal(g *growBuffer) {
	g.packet(msgServiceRequest, func(g *growBuffer) {
		g.string([]byte(m.Service))
	})
}

func parseServiceRequest(in []byte) (*serviceRequestMsg, bool) {
	service, _, ok := parseString(in)
	if !ok {
		return nil, false
	}
	return &serviceRequestMsg{Service: string(service)}, true
}

type serviceAcceptMsg struct {
	Service string
}

func (m *serviceAcceptMsg) marshal(g *growBuffer) {
	g.packet(msgServiceAccept, func(g *growBuffer) {
		g.string([]byte(m.Service))
	})
}

// userAuthRequestMsg is RFC 4252 §5's SSH_MSG_USERAUTH_REQUEST. MethodData
// is left unparsed here: its shape depends on Method, and auth.go parses
// it in a second pass once it has dispatched on Method.
type userAuthRequestMsg struct {
	User       string
	Service    string
	Method     string
	MethodData []byte
}

func parseUserAuthRequest(in []byte) (*userAuthRequestMsg, bool) {
	var user, service, method []byte
	var ok bool
	if user, in, ok = parseString(in); !ok {
		return nil, false
	}
	if service, in, ok = parseString(in); !ok {
		return nil, false
	}
	if method, in, ok = parseString(in); !ok {
		return nil, false
	}
	return &userAuthRequestMsg{
		User:       string(user),
		Service:    string(service),
		Method:     string(method),
		MethodData: in,
	}, true
}

type userAuthFailureMsg struct {
	Methods    []string
	PartialSuccess bool
}

func (m *userAuthFailureMsg) marshal(g *growBuffer) {
	g.packet(msgUserAuthFailure, func(g *growBuffer) {
		g.nameList(m.Methods)
		g.bool(m.PartialSuccess)
	})
}

type userAuthSuccessMsg struct{}

func (m *userAuthSuccessMsg) marshal(g *growBuffer) {
	g.packet(msgUserAuthSuccess, nil)
}

type userAuthBannerMsg struct {
	Message string
	Lang    string
}

func (m *userAuthBannerMsg) marshal(g *growBuffer) {
	g.packet(msgUserAuthBanner, func(g *growBuffer) {
		g.string([]byte(m.Message))
		g.string([]byte(m.Lang))
	})
}

// userAuthPubKeyOkMsg is the SSH_MSG_USERAUTH_PK_OK reply to a publickey
// probe (RFC 4252 §7).
type userAuthPubKeyOkMsg struct {
	Algo   string
	PubKey []byte
}

func (m *userAuthPubKeyOkMsg) marshal(g *growBuffer) {
	g.packet(msgUserAuthPubKeyOk, func(g *growBuffer) {
		g.string([]byte(m.Algo))
		g.string(m.PubKey)
	})
}

// userAuthInfoRequestMsg backs keyboard-interactive's "Partial" outcome
// (RFC 4256 §3.2).
type userAuthInfoRequestMsg struct {
	Name        string
	Instruction string
	Lang        string
	Prompts     []Prompt
}

// Prompt is one keyboard-interactive prompt line.
type Prompt struct {
	Text string
	Echo bool
}

func (m *userAuthInfoRequestMsg) marshal(g *growBuffer) {
	g.packet(msgUserAuthInfoRequest, func(g *growBuffer) {
		g.string([]byte(m.Name))
		g.string([]byte(m.Instruction))
		g.string([]byte(m.Lang))
		g.uint32(uint32(len(m.Prompts)))
		for _, p := range m.Prompts {
			g.string([]byte(p.Text))
			g.bool(p.Echo)
		}
	})
}

func parseUserAuthInfoRequest(in []byte) (*userAuthInfoRequestMsg, bool) {
	name, in, ok := parseString(in)
	if !ok {
		return nil, false
	}
	instruction, in, ok := parseString(in)
	if !ok {
		return nil, false
	}
	_, in, ok = parseString(in) // lang tag, unused
	if !ok {
		return nil, false
	}
	n, in, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	out := &userAuthInfoRequestMsg{Name: string(name), Instruction: string(instruction)}
	for i := uint32(0); i < n; i++ {
		var text []byte
		if text, in, ok = parseString(in); !ok {
			return nil, false
		}
		var echo bool
		if echo, in, ok = parseBool(in); !ok {
			return nil, false
		}
		out.Prompts = append(out.Prompts, Prompt{Text: string(text), Echo: echo})
	}
	return out, true
}

type userAuthInfoResponseMsg struct {
	Responses []string
}

func (m *userAuthInfoResponseMsg) marshal(g *growBuffer) {
	g.packet(msgUserAuthInfoResponse, func(g *growBuffer) {
		g.uint32(uint32(len(m.Responses)))
		for _, r := range m.Responses {
			g.string([]byte(r))
		}
	})
}

func parseUserAuthInfoResponse(in []byte) (*userAuthInfoResponseMsg, bool) {
	n, in, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	out := &userAuthInfoResponseMsg{}
	for i := uint32(0); i < n; i++ {
		var r []byte
		if r, in, ok = parseString(in); !ok {
			return nil, false
		}
		out.Responses = append(out.Responses, string(r))
	}
	return out, true
}

// --- global requests (RFC 4254 §4) ---

type globalRequestMsg struct {
	Type      string
	WantReply bool
	Data      []byte
}

func parseGlobalRequest(in []byte) (*globalRequestMsg, bool) {
	typ, in, ok := parseString(in)
	if !ok {
		return nil, false
	}
	wantReply, in, ok := parseBool(in)
	if !ok {
		return nil, false
	}
	return &globalRequestMsg{Type: string(typ), WantReply: wantReply, Data: in}, true
}

type globalRequestSuccessMsg struct {
	Data []byte
}

func (m *globalRequestSuccessMsg) marshal(g *growBuffer) {
	g.packet(msgRequestSuccess, func(g *growBuffer) {
		g.raw(m.Data)
	})
}

type globalRequestFailureMsg struct{}

func (m *globalRequestFailureMsg) marshal(g *growBuffer) {
	g.packet(msgRequestFailure, nil)
}

// --- channels (RFC 4254 §5) ---

type channelOpenMsg struct {
	ChanType      string
	PeersId       uint32
	PeersWindow   uint32
	MaxPacketSize uint32
	TypeSpecific  []byte
}

func parseChannelOpen(in []byte) (*channelOpenMsg, bool) {
	var chanType []byte
	var ok bool
	if chanType, in, ok = parseString(in); !ok {
		return nil, false
	}
	m := &channelOpenMsg{ChanType: string(chanType)}
	if m.PeersId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.PeersWindow, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.MaxPacketSize, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	m.TypeSpecific = in
	return m, true
}

type channelOpenConfirmMsg struct {
	PeersId       uint32
	MyId          uint32
	MyWindow      uint32
	MaxPacketSize uint32
}

func (m *channelOpenConfirmMsg) marshal(g *growBuffer) {
	g.packet(msgChannelOpenConfirm, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.uint32(m.MyId)
		g.uint32(m.MyWindow)
		g.uint32(m.MaxPacketSize)
	})
}

func parseChannelOpenConfirm(in []byte) (*channelOpenConfirmMsg, bool) {
	var m channelOpenConfirmMsg
	var ok bool
	if m.PeersId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.MyId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.MyWindow, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.MaxPacketSize, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	return &m, true
}

type channelOpenFailureMsg struct {
	PeersId  uint32
	Reason   uint32
	Message  string
	Language string
}

func (m *channelOpenFailureMsg) marshal(g *growBuffer) {
	g.packet(msgChannelOpenFailure, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.uint32(m.Reason)
		g.string([]byte(m.Message))
		g.string([]byte(m.Language))
	})
}

func parseChannelOpenFailure(in []byte) (*channelOpenFailureMsg, bool) {
	var m channelOpenFailureMsg
	var ok bool
	var msg, lang []byte
	if m.PeersId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Reason, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if msg, in, ok = parseString(in); !ok {
		return nil, false
	}
	if lang, in, ok = parseString(in); !ok {
		return nil, false
	}
	m.Message, m.Language = string(msg), string(lang)
	return &m, true
}

type windowAdjustMsg struct {
	PeersId         uint32
	AdditionalBytes uint32
}

func (m *windowAdjustMsg) marshal(g *growBuffer) {
	g.packet(msgChannelWindowAdjust, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.uint32(m.AdditionalBytes)
	})
}

func parseWindowAdjust(in []byte) (*windowAdjustMsg, bool) {
	var m windowAdjustMsg
	var ok bool
	if m.PeersId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.AdditionalBytes, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	return &m, true
}

type channelDataMsg struct {
	PeersId uint32
	Payload []byte
}

func (m *channelDataMsg) marshal(g *growBuffer) {
	g.packet(msgChannelData, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.string(m.Payload)
	})
}

func parseChannelData(in []byte) (*channelDataMsg, bool) {
	id, in, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	payload, _, ok := parseString(in)
	if !ok {
		return nil, false
	}
	return &channelDataMsg{PeersId: id, Payload: payload}, true
}

type channelExtendedDataMsg struct {
	PeersId  uint32
	DataType uint32
	Payload  []byte
}

func (m *channelExtendedDataMsg) marshal(g *growBuffer) {
	g.packet(msgChannelExtendedData, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.uint32(m.DataType)
		g.string(m.Payload)
	})
}

func parseChannelExtendedData(in []byte) (*channelExtendedDataMsg, bool) {
	var m channelExtendedDataMsg
	var ok bool
	if m.PeersId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.DataType, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Payload, in, ok = parseString(in); !ok {
		return nil, false
	}
	return &m, true
}

// extended data type codes, RFC 4254 §5.2.
const extendedDataStderr = 1

type channelEOFMsg struct {
	PeersId uint32
}

func (m *channelEOFMsg) marshal(g *growBuffer) {
	g.packet(msgChannelEOF, func(g *growBuffer) { g.uint32(m.PeersId) })
}

func parseChannelEOF(in []byte) (*channelEOFMsg, bool) {
	id, _, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	return &channelEOFMsg{PeersId: id}, true
}

type channelCloseMsg struct {
	PeersId uint32
}

func (m *channelCloseMsg) marshal(g *growBuffer) {
	g.packet(msgChannelClose, func(g *growBuffer) { g.uint32(m.PeersId) })
}

func parseChannelClose(in []byte) (*channelCloseMsg, bool) {
	id, _, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	return &channelCloseMsg{PeersId: id}, true
}

// channelRequestMsg is RFC 4254 §5.4's SSH_MSG_CHANNEL_REQUEST. RequestData
// is left unparsed, same reasoning as userAuthRequestMsg.MethodData: its
// shape depends on RequestType.
type channelRequestMsg struct {
	PeersId     uint32
	RequestType string
	WantReply   bool
	RequestData []byte
}

func parseChannelRequest(in []byte) (*channelRequestMsg, bool) {
	var m channelRequestMsg
	var ok bool
	var typ []byte
	if m.PeersId, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if typ, in, ok = parseString(in); !ok {
		return nil, false
	}
	m.RequestType = string(typ)
	if m.WantReply, in, ok = parseBool(in); !ok {
		return nil, false
	}
	m.RequestData = in
	return &m, true
}

type channelRequestSuccessMsg struct {
	PeersId uint32
}

func (m *channelRequestSuccessMsg) marshal(g *growBuffer) {
	g.packet(msgChannelSuccess, func(g *growBuffer) { g.uint32(m.PeersId) })
}

type channelRequestFailureMsg struct {
	PeersId uint32
}

func (m *channelRequestFailureMsg) marshal(g *growBuffer) {
	g.packet(msgChannelFailure, func(g *growBuffer) { g.uint32(m.PeersId) })
}

func parseChannelSuccessOrFailure(in []byte) (peersId uint32, ok bool) {
	peersId, _, ok = parseUint32(in)
	return
}

type disconnectMsg struct {
	Reason  uint32
	Message string
}

func (m *disconnectMsg) marshal(g *growBuffer) {
	g.packet(msgDisconnect, func(g *growBuffer) {
		g.uint32(m.Reason)
		g.string([]byte(m.Message))
		g.string(nil)
	})
}

// --- pty-req modes (RFC 4254 §8, used by channel.go) ---

// ptyRequestMsg is the type-specific payload of a "pty-req" channel
// request.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist []byte
}

func parsePtyRequest(in []byte) (*ptyRequestMsg, bool) {
	var m ptyRequestMsg
	var ok bool
	var term []byte
	if term, in, ok = parseString(in); !ok {
		return nil, false
	}
	m.Term = string(term)
	if m.Columns, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Rows, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Width, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Height, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Modelist, in, ok = parseString(in); !ok {
		return nil, false
	}
	return &m, true
}

const ttyOpEnd = 0

// ptyModes decodes the opcode/uint32 pairs in Modelist, stopping at
// ttyOpEnd. RFC 4254 §8 defines the opcode table (ECHO, ISIG, …); callers
// that care about specific ones look them up by their numeric opcode.
func ptyModes(modelist []byte) map[byte]uint32 {
	out := map[byte]uint32{}
	for len(modelist) > 0 {
		opcode := modelist[0]
		if opcode == ttyOpEnd {
			break
		}
		if len(modelist) < 5 {
			break
		}
		val := uint32(modelist[1])<<24 | uint32(modelist[2])<<16 | uint32(modelist[3])<<8 | uint32(modelist[4])
		out[opcode] = val
		modelist = modelist[5:]
	}
	return out
}

type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

func parseWindowChange(in []byte) (*windowChangeMsg, bool) {
	var m windowChangeMsg
	var ok bool
	if m.Columns, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Rows, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Width, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if m.Height, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	return &m, true
}

type envRequestMsg struct {
	Name  string
	Value string
}

func parseEnvRequest(in []byte) (*envRequestMsg, bool) {
	name, in, ok := parseString(in)
	if !ok {
		return nil, false
	}
	value, _, ok := parseString(in)
	if !ok {
		return nil, false
	}
	return &envRequestMsg{Name: string(name), Value: string(value)}, true
}

type execRequestMsg struct {
	Command string
}

func parseExecRequest(in []byte) (*execRequestMsg, bool) {
	cmd, _, ok := parseString(in)
	if !ok {
		return nil, false
	}
	return &execRequestMsg{Command: string(cmd)}, true
}

type subsystemRequestMsg struct {
	Name string
}

func parseSubsystemRequest(in []byte) (*subsystemRequestMsg, bool) {
	name, _, ok := parseString(in)
	if !ok {
		return nil, false
	}
	return &subsystemRequestMsg{Name: string(name)}, true
}

type signalRequestMsg struct {
	Name string
}

func parseSignalRequest(in []byte) (*signalRequestMsg, bool) {
	name, _, ok := parseString(in)
	if !ok {
		return nil, false
	}
	return &signalRequestMsg{Name: string(name)}, true
}

type exitStatusMsg struct {
	PeersId    uint32
	ExitStatus uint32
}

func (m *exitStatusMsg) marshal(g *growBuffer) {
	g.packet(msgChannelRequest, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.string([]byte("exit-status"))
		g.bool(false)
		g.uint32(m.ExitStatus)
	})
}

type exitSignalMsg struct {
	PeersId    uint32
	Signal     string
	CoreDumped bool
	Message    string
	Lang       string
}

func (m *exitSignalMsg) marshal(g *growBuffer) {
	g.packet(msgChannelRequest, func(g *growBuffer) {
		g.uint32(m.PeersId)
		g.string([]byte("exit-signal"))
		g.bool(false)
		g.string([]byte(m.Signal))
		g.bool(m.CoreDumped)
		g.string([]byte(m.Message))
		g.string([]byte(m.Lang))
	})
}

// forwardedTCPIPMsg is the type-specific payload of a "forwarded-tcpip"
// CHANNEL_OPEN, and tcpipForwardMsg/cancelTCPIPForwardMsg are the
// type-specific payloads of the matching global requests (RFC 4254 §7).
type forwardedTCPIPMsg struct {
	ConnectedAddress  string
	ConnectedPort     uint32
	OriginatorAddress string
	OriginatorPort    uint32
}

func parseForwardedTCPIP(in []byte) (*forwardedTCPIPMsg, bool) {
	var m forwardedTCPIPMsg
	var ok bool
	var ca, oa []byte
	if ca, in, ok = parseString(in); !ok {
		return nil, false
	}
	if m.ConnectedPort, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if oa, in, ok = parseString(in); !ok {
		return nil, false
	}
	if m.OriginatorPort, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	m.ConnectedAddress, m.OriginatorAddress = string(ca), string(oa)
	return &m, true
}

type directTCPIPMsg struct {
	HostToConnect     string
	PortToConnect     uint32
	OriginatorAddress string
	OriginatorPort    uint32
}

func parseDirectTCPIP(in []byte) (*directTCPIPMsg, bool) {
	var m directTCPIPMsg
	var ok bool
	var host, oa []byte
	if host, in, ok = parseString(in); !ok {
		return nil, false
	}
	if m.PortToConnect, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	if oa, in, ok = parseString(in); !ok {
		return nil, false
	}
	if m.OriginatorPort, in, ok = parseUint32(in); !ok {
		return nil, false
	}
	m.HostToConnect, m.OriginatorAddress = string(host), string(oa)
	return &m, true
}

type tcpipForwardMsg struct {
	Address string
	Port    uint32
}

func parseTCPIPForward(in []byte) (*tcpipForwardMsg, bool) {
	addr, in, ok := parseString(in)
	if !ok {
		return nil, false
	}
	port, _, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	return &tcpipForwardMsg{Address: string(addr), Port: port}, true
}

type cancelTCPIPForwardMsg struct {
	Address string
	Port    uint32
}

func parseCancelTCPIPForward(in []byte) (*cancelTCPIPForwardMsg, bool) {
	addr, in, ok := parseString(in)
	if !ok {
		return nil, false
	}
	port, _, ok := parseUint32(in)
	if !ok {
		return nil, false
	}
	return &cancelTCPIPForwardMsg{Address: string(addr), Port: port}, true
}
