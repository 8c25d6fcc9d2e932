// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"net"
	"testing"
)

func TestTrimCRLF(t *testing.T) {
	cases := map[string]string{
		"foo\r\n": "foo",
		"foo\n":   "foo",
		"foo":     "foo",
		"\r\n":    "",
	}
	for in, want := range cases {
		if got := trimCRLF(in); got != want {
			t.Fatalf("trimCRLF(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteReadIdentRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go writeIdent(client, "SSH-2.0-sshcore-test")

	got, err := readIdent(server)
	if err != nil {
		t.Fatalf("readIdent: %v", err)
	}
	if got != "SSH-2.0-sshcore-test" {
		t.Fatalf("got %q", got)
	}
}

func TestReadIdentSkipsPreBanner(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("Welcome to our server\r\n"))
		client.Write([]byte("Please hold\r\n"))
		writeIdent(client, "SSH-2.0-real-banner")
	}()

	got, err := readIdent(server)
	if err != nil {
		t.Fatalf("readIdent: %v", err)
	}
	if got != "SSH-2.0-real-banner" {
		t.Fatalf("got %q, want SSH-2.0-real-banner", got)
	}
}

func TestPacketFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte{msgKexInit, 1, 2, 3, 4, 5}
	go writePacketFrame(client, payload)

	got, err := readPacketFrame(server)
	if err != nil {
		t.Fatalf("readPacketFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
}

func TestPacketFramePaddingIsAtLeastMinimum(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello")
	errCh := make(chan error, 1)
	go func() { errCh <- writePacketFrame(client, payload) }()

	var lenBuf [4]byte
	if _, err := readFull(server, lenBuf[:]); err != nil {
		t.Fatalf("read length: %v", err)
	}
	packetLen := uint32(lenBuf[0])<<24 | uint32(lenBuf[1])<<16 | uint32(lenBuf[2])<<8 | uint32(lenBuf[3])
	body := make([]byte, packetLen)
	if _, err := readFull(server, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writePacketFrame: %v", err)
	}

	padLen := int(body[0])
	if padLen < minPadding {
		t.Fatalf("padding length %d below minimum %d", padLen, minPadding)
	}
	if (1+len(payload)+padLen)%8 != 0 {
		t.Fatalf("packet body length %d not a multiple of 8", 1+len(payload)+padLen)
	}
}

func TestReadPacketFrameRejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	}()

	if _, err := readPacketFrame(server); err == nil {
		t.Fatal("expected an error for an oversized packet length")
	}
}
