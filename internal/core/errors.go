// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// ErrMalformed is the parent of every header extraction failure.
// Frames failing with an error that wraps it are always dropped.
var ErrMalformed = errors.New("synguard: malformed frame")

// Header extraction errors. All of them satisfy errors.Is(err, ErrMalformed).
var (
	ErrPacketTooShort   = malformed("packet too short")
	ErrBadHeaderLength  = malformed("inconsistent header length")
	ErrFragment         = malformed("non-first ip fragment")
	ErrBadOption        = malformed("bad tcp option")
	ErrUnsupportedProto = malformed("unsupported protocol")
)

// Configuration and control plane errors.
var (
	ErrConfigInvalid    = errors.New("synguard: invalid configuration")
	ErrDaemonNotRunning = errors.New("synguard: daemon not running")
	ErrSourceClosed     = errors.New("synguard: capture source closed")
)

func malformed(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, msg)
}
