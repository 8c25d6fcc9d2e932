// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"github.com/sirupsen/logrus"
)

// Per-Session structured logging (SPEC_FULL.md 4.K), set up the way
// zgrab2 (AlexAQ972-FASST-LLM in the example pack) configures
// sirupsen/logrus at module scope: one *logrus.Entry per unit of work,
// carrying fixed fields, reused for every log call instead of
// re-specifying them each time.

// Logger is satisfied by *logrus.Entry; kept as an interface so test code
// can swap in a no-op implementation without importing logrus.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewSessionLogger builds a *logrus.Entry carrying session_id, remote
// address and role, for a caller to reuse for every log call about one
// Session. The ssh package itself makes no log calls, so no "channel_id"
// field is added anywhere in it.
func NewSessionLogger(base *logrus.Logger, sessionID []byte, remoteAddr string, role Role) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	roleName := "server"
	if role == RoleClient {
		roleName = "client"
	}
	return base.WithFields(logrus.Fields{
		"session_id":  fingerprintHex(sessionID),
		"remote_addr": remoteAddr,
		"role":        roleName,
	})
}

// fingerprintHex renders a short hex prefix of a session id for log
// correlation without dumping the full binding value. No secret material
// (passwords, private key bytes, signatures) is ever logged anywhere in
// this package — only identifiers and protocol metadata.
func fingerprintHex(b []byte) string {
	const n = 8
	if len(b) > n {
		b = b[:n]
	}
	const hex = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0xf]
	}
	return string(out)
}
