package conntrack

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/synguard/internal/core"
)

var t0 = time.Unix(1_700_000_000, 0)

func flow(sport uint16) core.Flow {
	return core.Flow{
		SrcIP:   netip.MustParseAddr("198.51.100.7"),
		DstIP:   netip.MustParseAddr("203.0.113.1"),
		SrcPort: sport,
		DstPort: 443,
	}
}

func TestCompleteThenEstablished(t *testing.T) {
	tb := New(Config{IdleTimeout: time.Minute})
	f := flow(40000)

	assert.False(t, tb.Established(f, t0))
	tb.Complete(f, core.TCPOptions{MSS: 1460}, t0)

	assert.True(t, tb.Established(f, t0.Add(time.Second)))
	assert.False(t, tb.Established(f.Reverse(), t0.Add(time.Second)))
	assert.False(t, tb.Established(flow(40001), t0.Add(time.Second)))
	assert.Equal(t, uint64(1), tb.Completed())

	flows := tb.List()
	require.Len(t, flows, 1)
	assert.Equal(t, f, flows[0].Flow)
	assert.Equal(t, uint16(1460), flows[0].Options.MSS)
}

func TestIdleTimeout(t *testing.T) {
	tb := New(Config{IdleTimeout: 10 * time.Second})
	f := flow(40000)
	tb.Complete(f, core.TCPOptions{}, t0)

	// Activity keeps the flow alive.
	require.True(t, tb.Established(f, t0.Add(9*time.Second)))
	require.True(t, tb.Established(f, t0.Add(18*time.Second)))
	assert.False(t, tb.Established(f, t0.Add(28*time.Second)))

	assert.Equal(t, 0, tb.Sweep(t0.Add(27*time.Second)))
	assert.Equal(t, 1, tb.Sweep(t0.Add(28*time.Second)))
	assert.Equal(t, 0, tb.Len())
}

func TestForget(t *testing.T) {
	tb := New(Config{})
	f := flow(1)
	tb.Complete(f, core.TCPOptions{}, t0)
	assert.True(t, tb.Forget(f))
	assert.False(t, tb.Established(f, t0))
}

func TestBounded(t *testing.T) {
	tb := New(Config{MaxFlows: 100, Shards: 4})
	for i := 0; i < 150; i++ {
		tb.Complete(flow(uint16(i)), core.TCPOptions{}, t0.Add(time.Duration(i)*time.Millisecond))
	}
	assert.Equal(t, 100, tb.Len())
	assert.Equal(t, uint64(50), tb.Evictions())
	assert.False(t, tb.Established(flow(0), t0.Add(time.Second)))
	assert.True(t, tb.Established(flow(149), t0.Add(time.Second)))
}
