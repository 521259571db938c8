// Package metrics holds the engine counters and exposes them to Prometheus.
package metrics

import "sync/atomic"

// Counters are incremented on the per-frame path and polled by collectors.
// The zero value is ready to use.
type Counters struct {
	FramesParsed     atomic.Uint64
	Malformed        atomic.Uint64
	Untracked        atomic.Uint64
	SYNTotal         atomic.Uint64
	AllowlistedSYN   atomic.Uint64
	BlacklistedDrop  atomic.Uint64
	RateLimitedDrop  atomic.Uint64
	CookiesIssued    atomic.Uint64
	CookiesValidated atomic.Uint64
	CookiesRejected  atomic.Uint64
	EstablishedPass  atomic.Uint64
	PassthroughPass  atomic.Uint64
	InternalErrors   atomic.Uint64
	InjectErrors     atomic.Uint64

	Passed     atomic.Uint64
	Dropped    atomic.Uint64
	Redirected atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters plus table gauges.
type Snapshot struct {
	FramesParsed     uint64 `json:"frames_parsed"`
	Malformed        uint64 `json:"malformed"`
	Untracked        uint64 `json:"untracked"`
	SYNTotal         uint64 `json:"syn_total"`
	AllowlistedSYN   uint64 `json:"allowlisted_syn"`
	BlacklistedDrop  uint64 `json:"blacklisted_drop"`
	RateLimitedDrop  uint64 `json:"rate_limited_drop"`
	CookiesIssued    uint64 `json:"cookies_issued"`
	CookiesValidated uint64 `json:"cookies_validated"`
	CookiesRejected  uint64 `json:"cookies_rejected"`
	EstablishedPass  uint64 `json:"established_pass"`
	PassthroughPass  uint64 `json:"passthrough_pass"`
	InternalErrors   uint64 `json:"internal_errors"`
	InjectErrors     uint64 `json:"inject_errors"`
	Passed           uint64 `json:"passed_total"`
	Dropped          uint64 `json:"dropped_total"`
	Redirected       uint64 `json:"redirected_total"`

	TableSize          int    `json:"table_size"`
	TableCapacity      int    `json:"table_capacity"`
	TableEvictions     uint64 `json:"table_evictions"`
	BlacklistSize      int    `json:"blacklist_size"`
	BlacklistCapacity  int    `json:"blacklist_capacity"`
	BlacklistEvictions uint64 `json:"blacklist_evictions"`
	ConntrackSize      int    `json:"conntrack_size"`
	ConntrackEvictions uint64 `json:"conntrack_evictions"`
	SecretRotations    uint64 `json:"secret_rotations"`
}

// Snapshot copies the counters. Gauge fields are left zero.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesParsed:     c.FramesParsed.Load(),
		Malformed:        c.Malformed.Load(),
		Untracked:        c.Untracked.Load(),
		SYNTotal:         c.SYNTotal.Load(),
		AllowlistedSYN:   c.AllowlistedSYN.Load(),
		BlacklistedDrop:  c.BlacklistedDrop.Load(),
		RateLimitedDrop:  c.RateLimitedDrop.Load(),
		CookiesIssued:    c.CookiesIssued.Load(),
		CookiesValidated: c.CookiesValidated.Load(),
		CookiesRejected:  c.CookiesRejected.Load(),
		EstablishedPass:  c.EstablishedPass.Load(),
		PassthroughPass:  c.PassthroughPass.Load(),
		InternalErrors:   c.InternalErrors.Load(),
		InjectErrors:     c.InjectErrors.Load(),
		Passed:           c.Passed.Load(),
		Dropped:          c.Dropped.Load(),
		Redirected:       c.Redirected.Load(),
	}
}
