// Package blacklist keeps temporarily banned source addresses.
package blacklist

import (
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"firestige.xyz/synguard/internal/lru"
)

// DefaultMaxEntries bounds the ban table unless configured otherwise.
const DefaultMaxEntries = 16384

// Config sizes the ban table.
type Config struct {
	MaxEntries int
	Shards     int
}

// Entry is a live ban as reported by List.
type Entry struct {
	Addr      netip.Addr `json:"addr"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Manager holds bans keyed by source address. Expired bans are treated as
// absent and reclaimed by Sweep or by LRU pressure.
type Manager struct {
	table *lru.Table[netip.Addr, int64] // expiry, unix nano
	added atomic.Uint64
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Manager{
		table: lru.New[netip.Addr, int64](lru.Config{Capacity: cfg.MaxEntries, Shards: cfg.Shards}, lru.HashAddr),
	}
}

// IsBlacklisted reports whether src holds a ban that is live at now.
// Only live bans count as a use of the entry.
func (m *Manager) IsBlacklisted(src netip.Addr, now time.Time) bool {
	src = src.Unmap()
	ts := now.UnixNano()
	expiresAt, ok := m.table.Peek(src)
	if !ok || ts >= expiresAt {
		return false
	}
	live := false
	m.table.Lookup(src, now, func(v *int64) { live = ts < *v })
	return live
}

// Blacklist bans src until now+d, replacing any earlier expiry.
func (m *Manager) Blacklist(src netip.Addr, now time.Time, d time.Duration) {
	expiresAt := now.Add(d).UnixNano()
	m.table.Update(src.Unmap(), now, func(v *int64, _ bool) {
		*v = expiresAt
	})
	m.added.Add(1)
}

// Remove lifts the ban on src and reports whether one existed.
func (m *Manager) Remove(src netip.Addr) bool {
	return m.table.Delete(src.Unmap())
}

// List returns the bans live at now, soonest expiry first.
func (m *Manager) List(now time.Time) []Entry {
	ts := now.UnixNano()
	var out []Entry
	m.table.Range(func(addr netip.Addr, expiresAt int64, _ time.Time) bool {
		if ts < expiresAt {
			out = append(out, Entry{Addr: addr, ExpiresAt: time.Unix(0, expiresAt)})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].Addr.Less(out[j].Addr)
	})
	return out
}

// Sweep physically removes bans expired at now and returns how many.
func (m *Manager) Sweep(now time.Time) int {
	ts := now.UnixNano()
	return m.table.DeleteFunc(func(_ netip.Addr, expiresAt int64) bool {
		return ts >= expiresAt
	})
}

// Len returns the number of stored bans, including expired ones not yet swept.
func (m *Manager) Len() int { return m.table.Len() }

// Capacity returns the ban table capacity.
func (m *Manager) Capacity() int { return m.table.Capacity() }

// Evictions returns the number of bans dropped under capacity pressure.
func (m *Manager) Evictions() uint64 { return m.table.Evictions() }

// Added returns the number of Blacklist calls.
func (m *Manager) Added() uint64 { return m.added.Load() }
