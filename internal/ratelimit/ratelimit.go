// Package ratelimit implements the per-source fixed-window SYN budget.
package ratelimit

import (
	"math"
	"net/netip"
	"sync/atomic"
	"time"

	"firestige.xyz/synguard/internal/lru"
)

// Decision is the outcome of Admit.
type Decision uint8

const (
	WithinBudget Decision = iota
	OverBudget
)

func (d Decision) String() string {
	if d == OverBudget {
		return "over_budget"
	}
	return "within_budget"
}

// Defaults
const (
	DefaultWindow     = 2 * time.Second
	DefaultThreshold  = 10
	DefaultMaxEntries = 16384
)

// Config configures per-source SYN rate limiting.
type Config struct {
	Window     time.Duration // counting window (default 2s)
	Threshold  uint32        // max SYNs per source per window (default 10)
	MaxEntries int           // state table capacity (default 16384)
	Shards     int
}

// record is the per-source state. Recency lives in the table itself.
type record struct {
	windowStart int64 // unix nano
	count       uint32
}

// Limiter counts SYNs per source address in fixed windows. A window is reset
// outright once it has elapsed, so a source may burst up to twice the
// threshold across a window boundary.
type Limiter struct {
	table     *lru.Table[netip.Addr, record]
	window    atomic.Int64
	threshold atomic.Uint32

	rejected atomic.Uint64
}

// New creates a limiter, filling zero fields of cfg with defaults.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	l := &Limiter{
		table: lru.New[netip.Addr, record](lru.Config{Capacity: cfg.MaxEntries, Shards: cfg.Shards}, lru.HashAddr),
	}
	l.window.Store(int64(cfg.Window))
	l.threshold.Store(cfg.Threshold)
	return l
}

// Admit records one SYN from src at now and reports whether src is still
// within its budget for the current window.
func (l *Limiter) Admit(src netip.Addr, now time.Time) Decision {
	window := l.window.Load()
	threshold := l.threshold.Load()
	ts := now.UnixNano()
	src = src.Unmap()

	decision := WithinBudget
	l.table.Update(src, now, func(r *record, inserted bool) {
		if inserted || ts-r.windowStart >= window {
			r.windowStart = ts
			r.count = 1
			return
		}
		if r.count < math.MaxUint32 {
			r.count++
		}
		if r.count > threshold {
			decision = OverBudget
		}
	})

	if decision == OverBudget {
		l.rejected.Add(1)
	}
	return decision
}

// SetPolicy replaces the window and threshold. Existing records keep their
// window start and count.
func (l *Limiter) SetPolicy(window time.Duration, threshold uint32) {
	if window > 0 {
		l.window.Store(int64(window))
	}
	if threshold > 0 {
		l.threshold.Store(threshold)
	}
}

// Policy returns the active window and threshold.
func (l *Limiter) Policy() (time.Duration, uint32) {
	return time.Duration(l.window.Load()), l.threshold.Load()
}

// Count returns the SYN count of src's current window, without touching it.
func (l *Limiter) Count(src netip.Addr) (uint32, bool) {
	r, ok := l.table.Peek(src.Unmap())
	return r.count, ok
}

// Rejected returns the number of OverBudget decisions.
func (l *Limiter) Rejected() uint64 { return l.rejected.Load() }

// Len returns the number of tracked sources.
func (l *Limiter) Len() int { return l.table.Len() }

// Capacity returns the state table capacity.
func (l *Limiter) Capacity() int { return l.table.Capacity() }

// Evictions returns the number of sources forgotten under capacity pressure.
func (l *Limiter) Evictions() uint64 { return l.table.Evictions() }
