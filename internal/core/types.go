// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// TCP flag bits, lower 6 bits of byte 13 of the TCP header.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
	FlagURG uint8 = 0x20
)

// TCPOptions holds the handshake-relevant TCP options.
// Zero value means "no options present".
type TCPOptions struct {
	MSS            uint16 // 0 = absent
	WindowScale    uint8
	HasWindowScale bool
	SACKPermitted  bool
	HasTimestamps  bool
	TSVal          uint32
	TSEcr          uint32
}

// Flow identifies one direction of a TCP connection.
type Flow struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the flow seen from the other endpoint.
func (f Flow) Reverse() Flow {
	return Flow{SrcIP: f.DstIP, DstIP: f.SrcIP, SrcPort: f.DstPort, DstPort: f.SrcPort}
}

// Header is the minimal validated record extracted from a frame.
type Header struct {
	// L2, only populated for Ethernet link types
	SrcMAC [6]byte
	DstMAC [6]byte
	HasL2  bool

	SrcIP netip.Addr
	DstIP netip.Addr
	TTL   uint8

	SrcPort uint16
	DstPort uint16
	Flags   uint8
	Seq     uint32
	Ack     uint32
	Window  uint16
	Options TCPOptions
}

// Flow returns the flow tuple of the header.
func (h *Header) Flow() Flow {
	return Flow{SrcIP: h.SrcIP, DstIP: h.DstIP, SrcPort: h.SrcPort, DstPort: h.DstPort}
}

// Has reports whether all of the given flag bits are set.
func (h *Header) Has(flags uint8) bool {
	return h.Flags&flags == flags
}

// IsBareSYN reports a connection-initiating SYN (SYN set, ACK clear).
func (h *Header) IsBareSYN() bool {
	return h.Flags&(FlagSYN|FlagACK|FlagRST) == FlagSYN
}

// IsHandshakeACK reports a segment that may complete a handshake:
// ACK set with neither SYN nor RST.
func (h *Header) IsHandshakeACK() bool {
	return h.Flags&(FlagSYN|FlagACK|FlagRST) == FlagACK
}
