// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/synguard/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANTags       = 2

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

type ethernetHeader struct {
	dstMAC    [6]byte
	srcMAC    [6]byte
	etherType uint16
}

// decodeEthernet decodes Ethernet frame header (including up to two VLAN tags).
// Returns the header and remaining payload.
func decodeEthernet(data []byte) (ethernetHeader, []byte, error) {
	var eth ethernetHeader
	if len(data) < ethernetHeaderLen {
		return eth, nil, core.ErrPacketTooShort
	}

	copy(eth.dstMAC[:], data[0:6])
	copy(eth.srcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// Skip VLAN tags (QinQ has two)
	for tags := 0; etherType == etherTypeVLAN || etherType == etherTypeQinQ; tags++ {
		if tags == maxVLANTags {
			return eth, nil, core.ErrUnsupportedProto
		}
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, core.ErrPacketTooShort
		}
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.etherType = etherType
	return eth, data[offset:], nil
}
