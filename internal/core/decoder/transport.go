// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/synguard/internal/core"
)

const tcpHeaderMinLen = 20

// TCP option kinds
const (
	optEOL           = 0
	optNOP           = 1
	optMSS           = 2
	optWindowScale   = 3
	optSACKPermitted = 4
	optTimestamps    = 8
)

// decodeTCP decodes the TCP header and handshake options into hdr.
func decodeTCP(data []byte, hdr *core.Header) error {
	if len(data) < tcpHeaderMinLen {
		return core.ErrPacketTooShort
	}

	// Data offset is in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || headerLen > len(data) {
		return core.ErrBadHeaderLength
	}

	hdr.SrcPort = binary.BigEndian.Uint16(data[0:2])
	hdr.DstPort = binary.BigEndian.Uint16(data[2:4])
	hdr.Seq = binary.BigEndian.Uint32(data[4:8])
	hdr.Ack = binary.BigEndian.Uint32(data[8:12])
	hdr.Flags = data[13] & 0x3F
	hdr.Window = binary.BigEndian.Uint16(data[14:16])

	if headerLen == tcpHeaderMinLen {
		return nil
	}
	opts, err := decodeTCPOptions(data[tcpHeaderMinLen:headerLen])
	if err != nil {
		return err
	}
	hdr.Options = opts
	return nil
}

// decodeTCPOptions walks the option list. Known options with an unexpected
// length are skipped; a length that breaks the list framing is an error.
func decodeTCPOptions(data []byte) (core.TCPOptions, error) {
	var opts core.TCPOptions

	for i := 0; i < len(data); {
		kind := data[i]
		switch kind {
		case optEOL:
			return opts, nil
		case optNOP:
			i++
			continue
		}

		if i+1 >= len(data) {
			return opts, core.ErrBadOption
		}
		length := int(data[i+1])
		if length < 2 || i+length > len(data) {
			return opts, core.ErrBadOption
		}
		body := data[i+2 : i+length]

		switch kind {
		case optMSS:
			if len(body) == 2 {
				opts.MSS = binary.BigEndian.Uint16(body)
			}
		case optWindowScale:
			if len(body) == 1 {
				opts.WindowScale = body[0]
				opts.HasWindowScale = true
			}
		case optSACKPermitted:
			if len(body) == 0 {
				opts.SACKPermitted = true
			}
		case optTimestamps:
			if len(body) == 8 {
				opts.HasTimestamps = true
				opts.TSVal = binary.BigEndian.Uint32(body[0:4])
				opts.TSEcr = binary.BigEndian.Uint32(body[4:8])
			}
		}
		i += length
	}
	return opts, nil
}
