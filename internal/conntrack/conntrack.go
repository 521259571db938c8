// Package conntrack is a bounded set of established flows. It completes
// handshakes admitted by a valid cookie and answers whether later segments
// belong to a known connection.
package conntrack

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"firestige.xyz/synguard/internal/core"
	"firestige.xyz/synguard/internal/lru"
)

const (
	DefaultMaxFlows    = 65536
	DefaultIdleTimeout = 5 * time.Minute
)

// Config sizes the flow table.
type Config struct {
	MaxFlows    int
	IdleTimeout time.Duration
	Shards      int
}

type entry struct {
	opts  core.TCPOptions
	since int64
	seen  int64
}

// Flow is a tracked connection as reported by List.
type Flow struct {
	core.Flow
	Options  core.TCPOptions
	Since    time.Time
	LastSeen time.Time
}

// Table tracks established flows keyed by their client-to-server tuple.
type Table struct {
	flows     *lru.Table[core.Flow, entry]
	idle      int64
	completed atomic.Uint64
}

// New creates a Table.
func New(cfg Config) *Table {
	if cfg.MaxFlows <= 0 {
		cfg.MaxFlows = DefaultMaxFlows
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Table{
		flows: lru.New[core.Flow, entry](lru.Config{Capacity: cfg.MaxFlows, Shards: cfg.Shards}, hashFlow),
		idle:  int64(cfg.IdleTimeout),
	}
}

func hashFlow(f core.Flow) uint64 {
	var b [36]byte
	src := f.SrcIP.As16()
	dst := f.DstIP.As16()
	copy(b[0:16], src[:])
	copy(b[16:32], dst[:])
	binary.BigEndian.PutUint16(b[32:34], f.SrcPort)
	binary.BigEndian.PutUint16(b[34:36], f.DstPort)
	return xxh3.Hash(b[:])
}

// Complete records flow as established with the options recovered from its
// cookie.
func (t *Table) Complete(flow core.Flow, opts core.TCPOptions, now time.Time) {
	ts := now.UnixNano()
	t.flows.Update(flow, now, func(e *entry, _ bool) {
		*e = entry{opts: opts, since: ts, seen: ts}
	})
	t.completed.Add(1)
}

// Established reports whether flow is tracked and has not been idle for
// longer than the idle timeout. A hit refreshes the flow.
func (t *Table) Established(flow core.Flow, now time.Time) bool {
	ts := now.UnixNano()
	live := false
	t.flows.Lookup(flow, now, func(e *entry) {
		if ts-e.seen < t.idle {
			e.seen = max(e.seen, ts)
			live = true
		}
	})
	return live
}

// Forget stops tracking flow.
func (t *Table) Forget(flow core.Flow) bool {
	return t.flows.Delete(flow)
}

// Sweep removes flows idle at now and returns how many.
func (t *Table) Sweep(now time.Time) int {
	ts := now.UnixNano()
	return t.flows.DeleteFunc(func(_ core.Flow, e entry) bool {
		return ts-e.seen >= t.idle
	})
}

// List returns every tracked flow.
func (t *Table) List() []Flow {
	var out []Flow
	t.flows.Range(func(f core.Flow, e entry, _ time.Time) bool {
		out = append(out, Flow{
			Flow:     f,
			Options:  e.opts,
			Since:    time.Unix(0, e.since),
			LastSeen: time.Unix(0, e.seen),
		})
		return true
	})
	return out
}

func (t *Table) Len() int          { return t.flows.Len() }
func (t *Table) Evictions() uint64 { return t.flows.Evictions() }
func (t *Table) Completed() uint64 { return t.completed.Load() }
