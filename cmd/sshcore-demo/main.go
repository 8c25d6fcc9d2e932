// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sshcore-demo is a runnable demonstration server (SPEC_FULL.md
// 4.L): it accepts connections, authenticates a single fixed user/password
// pair, and backs "shell"/"exec" channel requests with a real
// pseudo-terminal via creack/pty, applying "pty-req"/"window-change"
// dimensions and forwarding "signal" requests to the child process group.
// It deliberately implements nothing beyond that — no SFTP, no port
// forwarding, no publickey/keyboard-interactive — the channel layer just
// needs one real, runnable consumer.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creachadair/taskgroup"
	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborssh/sshcore/ssh"
	"github.com/harborssh/sshcore/ssh/kex"
)

func main() {
	addr := flag.String("addr", ":2200", "address to listen on")
	user := flag.String("user", "demo", "accepted username")
	password := flag.String("password", "demo", "accepted password")
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	signer, err := newEphemeralHostKey()
	if err != nil {
		log.Fatalf("generating host key: %v", err)
	}

	cfg := &ssh.Config{
		Methods:    []string{"password"},
		AuthBanner: "sshcore-demo: a pseudo-terminal is waiting for you\r\n",
		HostKeys:   []ssh.Signer{signer},
	}

	lst, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	log.Infof("sshcore-demo listening on %s (user=%s)", *addr, *user)

	srv := &server{user: *user, password: *password, log: log}
	srv.serve(context.Background(), lst, cfg)
}

// newEphemeralHostKey generates a fresh ed25519 identity for this run —
// a real deployment would load a persistent key from disk instead.
func newEphemeralHostKey() (ssh.Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	key, err := ssh.Parse("ssh-ed25519", appendString(nil, pub))
	if err != nil {
		return nil, err
	}
	return &ed25519Signer{priv: priv, pub: key}, nil
}

func appendString(buf []byte, s []byte) []byte {
	n := len(s)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, s...)
}

// ed25519Signer adapts a raw ed25519 key pair to ssh.Signer — the package
// exposes parsing/verification of ed25519 public keys but no signer
// constructor of its own, since signing identities belong to the
// application, not the core (SPEC_FULL.md 4.H).
type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ssh.PublicKey
}

func (s *ed25519Signer) PublicKey() ssh.PublicKey { return s.pub }

func (s *ed25519Signer) Sign(data []byte) ([]byte, error) {
	sig := ed25519.Sign(s.priv, data)
	out := appendString(nil, []byte("ssh-ed25519"))
	out = appendString(out, sig)
	return out, nil
}

// server accepts connections with a taskgroup.Group tracking their
// goroutines, grounded on other_examples/tailscale-tskagent's Serve
// (listener accept loop + g.Run per connection, g.Wait on shutdown). The
// number of concurrent connections is not limited.
type server struct {
	user, password string
	log            *logrus.Logger
}

func (srv *server) serve(ctx context.Context, lst net.Listener, cfg *ssh.Config) {
	var g taskgroup.Group
	g.Run(func() {
		<-ctx.Done()
		lst.Close()
	})
	for {
		conn, err := lst.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				srv.log.Errorf("accept: %v", err)
			}
			break
		}
		id := uuid.NewString()
		g.Run(func() { srv.handleConn(ctx, conn, cfg, id) })
	}
	g.Wait()
}

func (srv *server) handleConn(ctx context.Context, conn net.Conn, cfg *ssh.Config, connID string) {
	defer conn.Close()
	log := srv.log.WithField("conn_id", connID)

	engine := &kex.Engine{}
	sess, err := ssh.Accept(conn, cfg, engine)
	if err != nil {
		log.Warnf("handshake failed: %v", err)
		return
	}
	log.Infof("connected from %s", conn.RemoteAddr())

	h := &demoHandler{user: srv.user, password: srv.password, log: log, session: sess}
	if err := sess.Serve(ctx, h); err != nil {
		log.Infof("session ended: %v", err)
	}
	h.closeAll()
}

// ptyChannel tracks the pseudo-terminal and child process backing one
// "session" channel's shell/exec request, grounded on
// Websoft9-AppOS's LocalSession (ptmx/cmd pair, PTY<->transport pump
// goroutines, pty.Setsize on resize).
type ptyChannel struct {
	ptmx *os.File
	tty  *os.File
	cmd  *exec.Cmd
	pty  ssh.Pty
}

type demoHandler struct {
	user, password string
	log            *logrus.Entry
	session        *ssh.Session

	mu    sync.Mutex
	ptys  map[uint32]*ptyChannel
	envs  map[uint32]map[string]string
}

func (h *demoHandler) ptyFor(channelID uint32) *ptyChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ptys == nil {
		return nil
	}
	return h.ptys[channelID]
}

func (h *demoHandler) setPty(channelID uint32, pc *ptyChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ptys == nil {
		h.ptys = make(map[uint32]*ptyChannel)
	}
	h.ptys[channelID] = pc
}

func (h *demoHandler) envFor(channelID uint32) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.envs[channelID]
}

func (h *demoHandler) setEnv(channelID uint32, name, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.envs == nil {
		h.envs = make(map[uint32]map[string]string)
	}
	if h.envs[channelID] == nil {
		h.envs[channelID] = make(map[string]string)
	}
	h.envs[channelID][name] = value
}

func (h *demoHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pc := range h.ptys {
		killPty(pc)
	}
}

func killPty(pc *ptyChannel) {
	if pc.cmd != nil && pc.cmd.Process != nil {
		pc.cmd.Process.Kill()
	}
	if pc.ptmx != nil {
		pc.ptmx.Close()
	}
}

// --- ServerHandler: auth ---

func (h *demoHandler) AuthNone(ctx context.Context, user string) (ssh.Auth, error) {
	return ssh.AuthReject(), nil
}

func (h *demoHandler) AuthPassword(ctx context.Context, user, password string) (ssh.Auth, error) {
	if user == h.user && password == h.password {
		return ssh.AuthAccept(), nil
	}
	return ssh.AuthReject(), nil
}

func (h *demoHandler) AuthPublicKey(ctx context.Context, user string, key ssh.PublicKey) (ssh.Auth, error) {
	return ssh.AuthUnsupportedMethod(), nil
}

func (h *demoHandler) AuthKeyboardInteractive(ctx context.Context, user, submethods string, responses []string) (ssh.Auth, error) {
	return ssh.AuthUnsupportedMethod(), nil
}

// --- ServerHandler: channel open ---

func (h *demoHandler) ChannelOpenSession(ctx context.Context, channelID uint32) (bool, error) {
	return true, nil
}

func (h *demoHandler) ChannelOpenX11(ctx context.Context, channelID uint32, originAddr string, originPort uint32) (bool, error) {
	return false, nil
}

func (h *demoHandler) ChannelOpenDirectTCPIP(ctx context.Context, channelID uint32, host string, port uint32, originAddr string, originPort uint32) (bool, error) {
	return false, nil
}

// --- ServerHandler: channel requests ---

func (h *demoHandler) PtyRequest(ctx context.Context, channelID uint32, p ssh.Pty) (bool, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		h.log.Errorf("pty.Open: %v", err)
		return false, nil
	}
	if err := pty.Setsize(ptmx, winsize(p)); err != nil {
		h.log.Warnf("pty.Setsize: %v", err)
	}
	h.setPty(channelID, &ptyChannel{ptmx: ptmx, tty: tty, pty: p})
	return true, nil
}

func (h *demoHandler) X11Request(ctx context.Context, channelID uint32, singleConnection bool, protocol, cookie string, screen uint32) (bool, error) {
	return false, nil
}

func (h *demoHandler) EnvRequest(ctx context.Context, channelID uint32, name, value string) (bool, error) {
	h.setEnv(channelID, name, value)
	return true, nil
}

func (h *demoHandler) ShellRequest(ctx context.Context, channelID uint32) (bool, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return h.startChild(ctx, channelID, exec.Command(shell, "-i"))
}

func (h *demoHandler) ExecRequest(ctx context.Context, channelID uint32, command string) (bool, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return h.startChild(ctx, channelID, exec.Command(shell, "-c", command))
}

func (h *demoHandler) startChild(ctx context.Context, channelID uint32, cmd *exec.Cmd) (bool, error) {
	pc := h.ptyFor(channelID)
	if pc == nil {
		// No pty-req arrived first; the spec's scope is pty-backed
		// sessions only (SPEC_FULL.md 4.L), so reject rather than run
		// a command with no terminal attached.
		return false, nil
	}

	for name, value := range h.envFor(channelID) {
		cmd.Env = append(cmd.Env, name+"="+value)
	}
	cmd.Env = append(os.Environ(), cmd.Env...)
	cmd.Env = append(cmd.Env, "TERM="+termOrDefault(pc.pty.Term))

	cmd.Stdin = pc.tty
	cmd.Stdout = pc.tty
	cmd.Stderr = pc.tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		h.log.Errorf("start child: %v", err)
		return false, nil
	}
	pc.tty.Close()
	pc.cmd = cmd

	go h.pumpPty(ctx, channelID, pc)
	go h.waitChild(ctx, channelID, pc)
	return true, nil
}

func termOrDefault(term string) string {
	if term == "" {
		return "xterm"
	}
	return term
}

func (h *demoHandler) pumpPty(ctx context.Context, channelID uint32, pc *ptyChannel) {
	buf := make([]byte, 4096)
	for {
		n, err := pc.ptmx.Read(buf)
		if n > 0 {
			h.session.SendChannelData(ctx, channelID, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

func (h *demoHandler) waitChild(ctx context.Context, channelID uint32, pc *ptyChannel) {
	err := pc.cmd.Wait()
	status := uint32(0)
	if exitErr, ok := err.(*exec.ExitError); ok {
		status = uint32(exitErr.ExitCode())
	} else if err != nil {
		status = 1
	}
	h.session.SendExitStatus(ctx, channelID, status)
	h.session.SendEOF(ctx, channelID)
	pc.ptmx.Close()
}

func (h *demoHandler) SubsystemRequest(ctx context.Context, channelID uint32, name string) (bool, error) {
	return false, nil
}

func (h *demoHandler) WindowChangeRequest(ctx context.Context, channelID uint32, columns, rows, width, height uint32) (bool, error) {
	pc := h.ptyFor(channelID)
	if pc == nil {
		return false, nil
	}
	p := ssh.Pty{Term: pc.pty.Term, Columns: columns, Rows: rows, Width: width, Height: height}
	if err := pty.Setsize(pc.ptmx, winsize(p)); err != nil {
		h.log.Warnf("pty.Setsize: %v", err)
		return false, nil
	}
	pc.pty = p
	return true, nil
}

func (h *demoHandler) Signal(ctx context.Context, channelID uint32, sig ssh.Sig) error {
	pc := h.ptyFor(channelID)
	if pc == nil || pc.cmd == nil || pc.cmd.Process == nil {
		return nil
	}
	signum, ok := signalFor(sig.Name)
	if !ok {
		return nil
	}
	// The child runs with Setsid, so its pid is also its process group id.
	return syscall.Kill(-pc.cmd.Process.Pid, signum)
}

func winsize(p ssh.Pty) *pty.Winsize {
	return &pty.Winsize{
		Rows: uint16(p.Rows),
		Cols: uint16(p.Columns),
		X:    uint16(p.Width),
		Y:    uint16(p.Height),
	}
}

// signalFor maps the RFC 4254 section 6.10 signal names to their unix
// numbers; the table is deliberately short, covering what an interactive
// shell actually sends.
func signalFor(name string) (syscall.Signal, bool) {
	switch name {
	case "HUP":
		return syscall.SIGHUP, true
	case "INT":
		return syscall.SIGINT, true
	case "KILL":
		return syscall.SIGKILL, true
	case "TERM":
		return syscall.SIGTERM, true
	case "QUIT":
		return syscall.SIGQUIT, true
	case "USR1":
		return syscall.SIGUSR1, true
	case "USR2":
		return syscall.SIGUSR2, true
	case "WINCH":
		return syscall.SIGWINCH, true
	default:
		return 0, false
	}
}

// --- ServerHandler: global requests (unsupported) ---

func (h *demoHandler) TCPIPForward(ctx context.Context, address string, port uint32) (bool, error) {
	return false, nil
}

func (h *demoHandler) CancelTCPIPForward(ctx context.Context, address string, port uint32) (bool, error) {
	return false, nil
}

// --- Handler: common channel lifecycle ---

func (h *demoHandler) ChannelClose(ctx context.Context, channelID uint32) error {
	if pc := h.ptyFor(channelID); pc != nil {
		killPty(pc)
	}
	return nil
}

func (h *demoHandler) ChannelEOF(ctx context.Context, channelID uint32) error {
	return nil
}

func (h *demoHandler) Data(ctx context.Context, channelID uint32, data []byte) error {
	pc := h.ptyFor(channelID)
	if pc == nil {
		return nil
	}
	_, err := pc.ptmx.Write(data)
	return err
}

func (h *demoHandler) ExtendedData(ctx context.Context, channelID uint32, code uint32, data []byte) error {
	return nil
}

func (h *demoHandler) WindowAdjusted(ctx context.Context, channelID uint32, newValue uint32) error {
	return nil
}

var _ ssh.ServerHandler = (*demoHandler)(nil)
