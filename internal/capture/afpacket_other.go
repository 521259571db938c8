//go:build !linux

package capture

import (
	"fmt"
	"runtime"

	"firestige.xyz/synguard/internal/config"
)

func init() {
	Register(config.SourceAFPacket, func(config.CaptureConfig, int) (Source, error) {
		return nil, fmt.Errorf("afpacket capture is not available on %s", runtime.GOOS)
	})
}

// IsTimeout reports a poll timeout, after which reading may simply resume.
func IsTimeout(error) bool { return false }
