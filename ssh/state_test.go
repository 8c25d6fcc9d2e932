// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "testing"

func TestAuthRequestRemainingMethodsPreservesCanonicalOrder(t *testing.T) {
	a := newAuthRequest([]string{"password", "publickey"})
	got := a.remainingMethods()
	want := []string{"publickey", "password"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCurrentRequestKindHelpers(t *testing.T) {
	pk := newPublicKeyCurrentRequest("alice", KeyAlgoED25519, []byte("blob"), false)
	if !pk.isPublicKey() || pk.isKeyboardInteractive() {
		t.Fatal("publickey current request misclassified")
	}
	if !pk.probedFor("alice", KeyAlgoED25519, []byte("blob")) {
		t.Fatal("probedFor must match the exact (user, algo, key) it was constructed with")
	}
	if pk.probedFor("mallory", KeyAlgoED25519, []byte("blob")) {
		t.Fatal("probedFor must not match a different user")
	}
	if pk.probedFor("alice", KeyAlgoED25519, []byte("other-blob")) {
		t.Fatal("probedFor must not match a different key")
	}

	ki := newKeyboardInteractiveCurrentRequest("")
	if ki.isPublicKey() || !ki.isKeyboardInteractive() {
		t.Fatal("keyboard-interactive current request misclassified")
	}

	var nilReq *CurrentRequest
	if nilReq.isPublicKey() || nilReq.isKeyboardInteractive() {
		t.Fatal("nil CurrentRequest must report neither kind")
	}
}

func TestNewChannelIDSkipsInUseIDs(t *testing.T) {
	s := &Session{channels: map[uint32]*Channel{0: {}, 1: {}}}
	id := s.newChannelID()
	if id != 2 {
		t.Fatalf("got %d, want 2", id)
	}
}

func TestPutExchangeCarriesSessionIDForward(t *testing.T) {
	s := &Session{exchange: &Exchange{SessionID: []byte("fixed")}}
	s.putExchange(&Exchange{ClientID: []byte("c"), ServerID: []byte("s")})
	if string(s.exchange.SessionID) != "fixed" {
		t.Fatalf("SessionID must be carried forward across rekey, got %q", s.exchange.SessionID)
	}
}

func TestPutExchangeKeepsFreshSessionIDOnFirstKex(t *testing.T) {
	s := &Session{exchange: nil}
	s.putExchange(&Exchange{SessionID: []byte("first")})
	if string(s.exchange.SessionID) != "first" {
		t.Fatalf("got %q, want first", s.exchange.SessionID)
	}
}

func TestTakeExchangeClearsCurrent(t *testing.T) {
	ex := &Exchange{SessionID: []byte("x")}
	s := &Session{exchange: ex}
	got := s.takeExchange()
	if got != ex {
		t.Fatal("takeExchange should return the previously installed Exchange")
	}
	if s.exchange != nil {
		t.Fatal("takeExchange should clear the Session's Exchange while a KEX is in flight")
	}
}
