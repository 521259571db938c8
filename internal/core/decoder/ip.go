// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/synguard/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	protocolTCP      = 6
)

// decodeIPv4 validates the IPv4 header, fills the address fields of hdr and
// returns the transport segment bounded by the IP total length and the
// captured bytes.
func decodeIPv4(data []byte, hdr *core.Header) ([]byte, error) {
	if len(data) < ipv4HeaderMinLen+tcpHeaderMinLen {
		return nil, core.ErrPacketTooShort
	}

	if data[0]>>4 != 4 {
		return nil, core.ErrUnsupportedProto
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return nil, core.ErrBadHeaderLength
	}
	if len(data) < headerLen {
		return nil, core.ErrPacketTooShort
	}

	// Frames may carry link-layer padding beyond the total length. A
	// capture snap length may cut the payload short; decodeTCP still
	// rejects a segment whose header did not make it in.
	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < headerLen {
		return nil, core.ErrBadHeaderLength
	}
	end := min(totalLen, len(data))

	if data[9] != protocolTCP {
		return nil, core.ErrUnsupportedProto
	}

	// Non-first fragments carry no TCP header
	if binary.BigEndian.Uint16(data[6:8])&0x1FFF != 0 {
		return nil, core.ErrFragment
	}

	hdr.TTL = data[8]
	hdr.SrcIP = netip.AddrFrom4([4]byte(data[12:16]))
	hdr.DstIP = netip.AddrFrom4([4]byte(data[16:20]))

	return data[headerLen:end], nil
}
