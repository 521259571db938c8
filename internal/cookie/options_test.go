package cookie

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/synguard/internal/core"
)

func TestEncodeMSS(t *testing.T) {
	tests := []struct {
		mss  uint16
		want uint8
	}{
		{0, 0},
		{536, 0},
		{1299, 0},
		{1300, 1},
		{1439, 1},
		{1440, 2},
		{1460, 3},
		{9000, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeMSS(tt.mss), "mss %d", tt.mss)
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   core.TCPOptions
		want core.TCPOptions
	}{
		{"none", core.TCPOptions{}, core.TCPOptions{MSS: 536}},
		{"mss rounds down", core.TCPOptions{MSS: 1400}, core.TCPOptions{MSS: 1300}},
		{"window scale zero is present",
			core.TCPOptions{MSS: 1460, HasWindowScale: true},
			core.TCPOptions{MSS: 1460, HasWindowScale: true}},
		{"window scale capped",
			core.TCPOptions{MSS: 1460, HasWindowScale: true, WindowScale: 15},
			core.TCPOptions{MSS: 1460, HasWindowScale: true, WindowScale: 14}},
		{"sack and timestamps",
			core.TCPOptions{MSS: 1440, SACKPermitted: true, HasTimestamps: true, TSVal: 99},
			core.TCPOptions{MSS: 1440, SACKPermitted: true, HasTimestamps: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeOptions(encodeOptions(tt.in)))
		})
	}
}
