// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "testing"

func TestFingerprintHexTruncatesToEightBytes(t *testing.T) {
	id := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	got := fingerprintHex(id)
	want := "0102030405060708"
	if got != want {
		t.Fatalf("fingerprintHex = %q, want %q", got, want)
	}
}

func TestFingerprintHexShorterThanEightBytes(t *testing.T) {
	got := fingerprintHex([]byte{0xab, 0xcd})
	if got != "abcd" {
		t.Fatalf("fingerprintHex = %q, want %q", got, "abcd")
	}
}

func TestNewSessionLoggerCarriesFixedFields(t *testing.T) {
	entry := NewSessionLogger(nil, []byte("session-id-bytes"), "10.0.0.1:22", RoleServer)
	if entry.Data["role"] != "server" {
		t.Fatalf("role field = %v, want server", entry.Data["role"])
	}
	if entry.Data["remote_addr"] != "10.0.0.1:22" {
		t.Fatalf("remote_addr field = %v", entry.Data["remote_addr"])
	}
	if entry.Data["session_id"] != fingerprintHex([]byte("session-id-bytes")) {
		t.Fatalf("session_id field = %v", entry.Data["session_id"])
	}

	clientEntry := NewSessionLogger(nil, nil, "", RoleClient)
	if clientEntry.Data["role"] != "client" {
		t.Fatalf("role field = %v, want client", clientEntry.Data["role"])
	}
}
