// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "testing"

func TestSetDefaultsFillsZeroFields(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	if c.AuthRejectionTime != DefaultAuthRejectionTime {
		t.Errorf("AuthRejectionTime: got %v, want %v", c.AuthRejectionTime, DefaultAuthRejectionTime)
	}
	if c.WindowSize != DefaultWindowSize {
		t.Errorf("WindowSize: got %v, want %v", c.WindowSize, DefaultWindowSize)
	}
	if c.MaximumPacketSize != DefaultMaxPacketSize {
		t.Errorf("MaximumPacketSize: got %v, want %v", c.MaximumPacketSize, DefaultMaxPacketSize)
	}
	if c.MaxAuthAttempts != DefaultMaxAuthAttempts {
		t.Errorf("MaxAuthAttempts: got %v, want %v", c.MaxAuthAttempts, DefaultMaxAuthAttempts)
	}
	if c.ConnectionTimeout != DefaultConnectionTimeout {
		t.Errorf("ConnectionTimeout: got %v, want %v", c.ConnectionTimeout, DefaultConnectionTimeout)
	}
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	c := &Config{WindowSize: 42, MaxAuthAttempts: 3}
	c.SetDefaults()

	if c.WindowSize != 42 {
		t.Errorf("WindowSize should not be overwritten, got %v", c.WindowSize)
	}
	if c.MaxAuthAttempts != 3 {
		t.Errorf("MaxAuthAttempts should not be overwritten, got %v", c.MaxAuthAttempts)
	}
}
