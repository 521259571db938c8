package cookie

import "firestige.xyz/synguard/internal/core"

// mssTable holds the MSS values that fit in the two MSS bits of the option byte.
var mssTable = []uint16{536, 1300, 1440, 1460}

const (
	mssMask        = 0x03
	wsShift        = 2
	wsMask         = 0x0F
	wsAbsent       = 0x0F
	maxWindowScale = 14
	sackBit        = 1 << 6
	tsBit          = 1 << 7
)

// encodeMSS returns the index of the largest table entry not above mss.
func encodeMSS(mss uint16) uint8 {
	for i := len(mssTable) - 1; i > 0; i-- {
		if mss >= mssTable[i] {
			return uint8(i)
		}
	}
	return 0
}

// encodeOptions packs the handshake options into the low byte of a cookie.
func encodeOptions(opts core.TCPOptions) uint8 {
	b := encodeMSS(opts.MSS)

	ws := uint8(wsAbsent)
	if opts.HasWindowScale {
		ws = min(opts.WindowScale, maxWindowScale)
	}
	b |= ws << wsShift

	if opts.SACKPermitted {
		b |= sackBit
	}
	if opts.HasTimestamps {
		b |= tsBit
	}
	return b
}

// decodeOptions is the inverse of encodeOptions. The MSS is rounded down to a
// table entry and timestamp values are not recoverable.
func decodeOptions(b uint8) core.TCPOptions {
	opts := core.TCPOptions{
		MSS:           mssTable[b&mssMask],
		SACKPermitted: b&sackBit != 0,
		HasTimestamps: b&tsBit != 0,
	}
	if ws := (b >> wsShift) & wsMask; ws != wsAbsent {
		opts.WindowScale = ws
		opts.HasWindowScale = true
	}
	return opts
}
