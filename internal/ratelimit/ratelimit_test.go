package ratelimit

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestDefaults(t *testing.T) {
	l := New(Config{})
	window, threshold := l.Policy()
	assert.Equal(t, DefaultWindow, window)
	assert.Equal(t, uint32(DefaultThreshold), threshold)
	assert.Equal(t, DefaultMaxEntries, l.Capacity())
}

func TestWithinThreshold(t *testing.T) {
	l := New(Config{Window: 2 * time.Second, Threshold: 10})
	src := netip.MustParseAddr("192.0.2.1")

	for i := 0; i < 10; i++ {
		now := t0.Add(time.Duration(i) * 150 * time.Millisecond)
		require.Equal(t, WithinBudget, l.Admit(src, now), "SYN %d", i+1)
	}
	assert.Zero(t, l.Rejected())
}

func TestExactlyThresholdPlusOneIsOverBudget(t *testing.T) {
	l := New(Config{Window: 2 * time.Second, Threshold: 10})
	src := netip.MustParseAddr("192.0.2.1")

	for i := 1; i <= 10; i++ {
		require.Equal(t, WithinBudget, l.Admit(src, t0), "SYN %d", i)
	}
	assert.Equal(t, OverBudget, l.Admit(src, t0))
	assert.Equal(t, uint64(1), l.Rejected())

	count, ok := l.Count(src)
	require.True(t, ok)
	assert.Equal(t, uint32(11), count)
}

// One SYN every 2.5s always lands in a fresh window.
func TestSlowSourceNeverLimited(t *testing.T) {
	l := New(Config{Window: 2 * time.Second, Threshold: 10})
	src := netip.MustParseAddr("198.51.100.2")

	for i := 0; i < 100; i++ {
		now := t0.Add(time.Duration(i) * 2500 * time.Millisecond)
		require.Equal(t, WithinBudget, l.Admit(src, now))
		count, _ := l.Count(src)
		require.Equal(t, uint32(1), count)
	}
}

func TestWindowHardReset(t *testing.T) {
	l := New(Config{Window: 2 * time.Second, Threshold: 3})
	src := netip.MustParseAddr("192.0.2.9")

	for i := 0; i < 3; i++ {
		require.Equal(t, WithinBudget, l.Admit(src, t0))
	}
	// Exactly one window later the count starts over.
	assert.Equal(t, WithinBudget, l.Admit(src, t0.Add(2*time.Second)))
	count, _ := l.Count(src)
	assert.Equal(t, uint32(1), count)

	// One nanosecond before the window elapses still counts.
	l2 := New(Config{Window: 2 * time.Second, Threshold: 1})
	l2.Admit(src, t0)
	assert.Equal(t, OverBudget, l2.Admit(src, t0.Add(2*time.Second-time.Nanosecond)))
}

func TestSourcesIndependent(t *testing.T) {
	l := New(Config{Threshold: 2})
	a := netip.MustParseAddr("192.0.2.1")
	b := netip.MustParseAddr("192.0.2.2")

	l.Admit(a, t0)
	l.Admit(a, t0)
	assert.Equal(t, OverBudget, l.Admit(a, t0))
	assert.Equal(t, WithinBudget, l.Admit(b, t0))
}

func TestMappedAddressSharesRecord(t *testing.T) {
	l := New(Config{Threshold: 1})
	l.Admit(netip.MustParseAddr("192.0.2.1"), t0)
	assert.Equal(t, OverBudget, l.Admit(netip.MustParseAddr("::ffff:192.0.2.1"), t0))
	assert.Equal(t, 1, l.Len())
}

func TestSetPolicy(t *testing.T) {
	l := New(Config{Threshold: 10})
	src := netip.MustParseAddr("192.0.2.1")
	for i := 0; i < 5; i++ {
		l.Admit(src, t0)
	}

	l.SetPolicy(0, 5)
	window, threshold := l.Policy()
	assert.Equal(t, DefaultWindow, window)
	assert.Equal(t, uint32(5), threshold)
	assert.Equal(t, OverBudget, l.Admit(src, t0))
}

func TestTableBounded(t *testing.T) {
	const capacity = 16384
	l := New(Config{MaxEntries: capacity})

	for i := 0; i < 20000; i++ {
		src := netip.AddrFrom4([4]byte{10, byte(i >> 16), byte(i >> 8), byte(i)})
		require.Equal(t, WithinBudget, l.Admit(src, t0.Add(time.Duration(i)*time.Microsecond)))
	}
	assert.Equal(t, capacity, l.Len())
	assert.Equal(t, uint64(20000-capacity), l.Evictions())

	_, ok := l.Count(netip.AddrFrom4([4]byte{10, 0, 0, 0}))
	assert.False(t, ok, "oldest source should be evicted")
	_, ok = l.Count(netip.AddrFrom4([4]byte{10, 0, 78, 31})) // source 19999
	assert.True(t, ok)
}

func TestConcurrentAdmitSameSource(t *testing.T) {
	const workers, perWorker = 8, 100
	l := New(Config{Threshold: 50})
	src := netip.MustParseAddr("203.0.113.5")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		within int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := 0
			for i := 0; i < perWorker; i++ {
				if l.Admit(src, t0) == WithinBudget {
					local++
				}
			}
			mu.Lock()
			within += local
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, within)
	assert.Equal(t, uint64(workers*perWorker-50), l.Rejected())
}
