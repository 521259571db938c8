package core

import (
	"errors"
	"net/netip"
	"testing"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("Header", func(t *testing.T) {
		var h Header
		if h.SrcIP.IsValid() || h.DstIP.IsValid() {
			t.Errorf("expected invalid addresses, got %v -> %v", h.SrcIP, h.DstIP)
		}
		if h.HasL2 {
			t.Error("expected HasL2=false")
		}
		if h.IsBareSYN() || h.IsHandshakeACK() {
			t.Error("zero header must not look like a handshake segment")
		}
	})

	t.Run("TCPOptions", func(t *testing.T) {
		var o TCPOptions
		if o.MSS != 0 || o.HasWindowScale || o.SACKPermitted || o.HasTimestamps {
			t.Errorf("expected empty options, got %+v", o)
		}
	})
}

func TestHeaderFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   uint8
		bareSYN bool
		hsACK   bool
	}{
		{"syn", FlagSYN, true, false},
		{"syn+ecn bits ignored", FlagSYN | FlagPSH, true, false},
		{"syn-ack", FlagSYN | FlagACK, false, false},
		{"ack", FlagACK, false, true},
		{"ack+psh", FlagACK | FlagPSH, false, true},
		{"rst-ack", FlagRST | FlagACK, false, false},
		{"syn+rst", FlagSYN | FlagRST, false, false},
		{"fin", FlagFIN, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Header{Flags: tt.flags}
			if got := h.IsBareSYN(); got != tt.bareSYN {
				t.Errorf("IsBareSYN() = %v, want %v", got, tt.bareSYN)
			}
			if got := h.IsHandshakeACK(); got != tt.hsACK {
				t.Errorf("IsHandshakeACK() = %v, want %v", got, tt.hsACK)
			}
		})
	}
}

func TestFlow(t *testing.T) {
	h := Header{
		SrcIP:   netip.MustParseAddr("192.168.1.1"),
		DstIP:   netip.MustParseAddr("10.0.0.1"),
		SrcPort: 40000,
		DstPort: 443,
	}
	f := h.Flow()
	r := f.Reverse()
	if r.SrcIP != h.DstIP || r.DstIP != h.SrcIP || r.SrcPort != 443 || r.DstPort != 40000 {
		t.Errorf("unexpected reverse flow %+v", r)
	}
	if r.Reverse() != f {
		t.Error("Reverse() should be an involution")
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("MalformedFamily", func(t *testing.T) {
		for _, err := range []error{ErrPacketTooShort, ErrBadHeaderLength, ErrFragment, ErrBadOption, ErrUnsupportedProto} {
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("%v should wrap ErrMalformed", err)
			}
		}
		if errors.Is(ErrConfigInvalid, ErrMalformed) {
			t.Error("ErrConfigInvalid must not be a malformed-frame error")
		}
	})

	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrPacketTooShort, "synguard: malformed frame: packet too short"},
			{ErrUnsupportedProto, "synguard: malformed frame: unsupported protocol"},
			{ErrConfigInvalid, "synguard: invalid configuration"},
			{ErrDaemonNotRunning, "synguard: daemon not running"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})
}
