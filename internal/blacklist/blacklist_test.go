package blacklist

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestBanInterval(t *testing.T) {
	m := New(Config{})
	src := netip.MustParseAddr("192.0.2.1")
	d := 60 * time.Second

	assert.False(t, m.IsBlacklisted(src, t0))
	m.Blacklist(src, t0, d)

	for _, off := range []time.Duration{0, time.Nanosecond, time.Second, d / 2, d - time.Nanosecond} {
		assert.True(t, m.IsBlacklisted(src, t0.Add(off)), "offset %v", off)
	}
	for _, off := range []time.Duration{d, d + time.Nanosecond, 2 * d} {
		assert.False(t, m.IsBlacklisted(src, t0.Add(off)), "offset %v", off)
	}
}

func TestRefreshExtendsBan(t *testing.T) {
	m := New(Config{})
	src := netip.MustParseAddr("192.0.2.1")

	m.Blacklist(src, t0, 10*time.Second)
	m.Blacklist(src, t0.Add(5*time.Second), 10*time.Second)

	assert.True(t, m.IsBlacklisted(src, t0.Add(14*time.Second)))
	assert.False(t, m.IsBlacklisted(src, t0.Add(15*time.Second)))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, uint64(2), m.Added())
}

func TestExpiredEntryRebannable(t *testing.T) {
	m := New(Config{})
	src := netip.MustParseAddr("192.0.2.1")

	m.Blacklist(src, t0, time.Second)
	require.False(t, m.IsBlacklisted(src, t0.Add(2*time.Second)))

	m.Blacklist(src, t0.Add(3*time.Second), time.Second)
	assert.True(t, m.IsBlacklisted(src, t0.Add(3*time.Second)))
}

func TestRemove(t *testing.T) {
	m := New(Config{})
	src := netip.MustParseAddr("192.0.2.1")
	m.Blacklist(src, t0, time.Minute)

	assert.True(t, m.Remove(src))
	assert.False(t, m.Remove(src))
	assert.False(t, m.IsBlacklisted(src, t0))
}

func TestListAndSweep(t *testing.T) {
	m := New(Config{})
	a := netip.MustParseAddr("192.0.2.1")
	b := netip.MustParseAddr("192.0.2.2")
	c := netip.MustParseAddr("192.0.2.3")

	m.Blacklist(a, t0, 30*time.Second)
	m.Blacklist(b, t0, 10*time.Second)
	m.Blacklist(c, t0, 20*time.Second)

	now := t0.Add(15 * time.Second)
	entries := m.List(now)
	require.Len(t, entries, 2)
	assert.Equal(t, c, entries[0].Addr)
	assert.Equal(t, a, entries[1].Addr)
	assert.True(t, entries[1].ExpiresAt.Equal(t0.Add(30*time.Second)))

	assert.Equal(t, 3, m.Len(), "expired entries stay until swept")
	assert.Equal(t, 1, m.Sweep(now))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 0, m.Sweep(now))
}

func TestCapacityEvictsLeastRecentlySeen(t *testing.T) {
	m := New(Config{MaxEntries: 2, Shards: 1})
	a := netip.MustParseAddr("192.0.2.1")
	b := netip.MustParseAddr("192.0.2.2")
	c := netip.MustParseAddr("192.0.2.3")

	m.Blacklist(a, t0, time.Hour)
	m.Blacklist(b, t0.Add(time.Second), time.Hour)
	// A hit on a live ban refreshes its recency.
	require.True(t, m.IsBlacklisted(a, t0.Add(2*time.Second)))

	m.Blacklist(c, t0.Add(3*time.Second), time.Hour)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, uint64(1), m.Evictions())
	assert.True(t, m.IsBlacklisted(a, t0.Add(4*time.Second)))
	assert.False(t, m.IsBlacklisted(b, t0.Add(4*time.Second)))
}
