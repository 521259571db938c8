// Package decoder extracts the handshake-relevant L2-L4 fields from raw frames.
package decoder

import (
	"fmt"
	"strings"

	"firestige.xyz/synguard/internal/core"
)

// LinkType is the framing of the bytes handed to Extract.
type LinkType uint8

const (
	// LinkEthernet frames start with an Ethernet II header (optionally VLAN tagged).
	LinkEthernet LinkType = iota
	// LinkRaw frames start directly with the IP header.
	LinkRaw
)

// ParseLinkType converts a config string to a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	switch strings.ToLower(s) {
	case "", "ethernet", "en10mb":
		return LinkEthernet, nil
	case "raw", "ip":
		return LinkRaw, nil
	default:
		return LinkEthernet, fmt.Errorf("unknown link type %q (must be ethernet/raw)", s)
	}
}

func (l LinkType) String() string {
	switch l {
	case LinkEthernet:
		return "ethernet"
	case LinkRaw:
		return "raw"
	default:
		return fmt.Sprintf("link(%d)", uint8(l))
	}
}

// Extract parses a frame into a validated header record.
// Any returned error wraps core.ErrMalformed. Extract never allocates on the
// success path and never retains frame.
func Extract(frame []byte, link LinkType) (core.Header, error) {
	var hdr core.Header

	data := frame
	if link == LinkEthernet {
		eth, payload, err := decodeEthernet(frame)
		if err != nil {
			return hdr, err
		}
		if eth.etherType != etherTypeIPv4 {
			return hdr, core.ErrUnsupportedProto
		}
		hdr.SrcMAC = eth.srcMAC
		hdr.DstMAC = eth.dstMAC
		hdr.HasL2 = true
		data = payload
	}

	segment, err := decodeIPv4(data, &hdr)
	if err != nil {
		return hdr, err
	}
	if err := decodeTCP(segment, &hdr); err != nil {
		return hdr, err
	}
	return hdr, nil
}
