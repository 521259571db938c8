// Package engine wires the admission components into one unit and drives it
// from capture sources.
package engine

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/synguard/internal/blacklist"
	"firestige.xyz/synguard/internal/classifier"
	"firestige.xyz/synguard/internal/config"
	"firestige.xyz/synguard/internal/conntrack"
	"firestige.xyz/synguard/internal/cookie"
	"firestige.xyz/synguard/internal/core/decoder"
	"firestige.xyz/synguard/internal/metrics"
	"firestige.xyz/synguard/internal/ratelimit"
	"firestige.xyz/synguard/internal/responder"
)

// Engine owns the state tables, the cookie secret and the classifier built
// on them. All methods are safe for concurrent use.
type Engine struct {
	link       decoder.LinkType
	limiter    *ratelimit.Limiter
	bans       *blacklist.Manager
	cookies    *cookie.Validator
	flows      *conntrack.Table
	classifier *classifier.Classifier
	responder  *responder.Responder
	counters   *metrics.Counters
}

// New builds an engine from a validated configuration.
func New(cfg *config.Config) (*Engine, error) {
	ec := &cfg.Engine

	link, err := decoder.ParseLinkType(ec.LinkType)
	if err != nil {
		return nil, err
	}
	policy, err := policyOf(ec)
	if err != nil {
		return nil, err
	}
	cookies, err := cookie.NewValidator(cookie.Config{RotationInterval: cfg.Cookie.RotationInterval})
	if err != nil {
		return nil, fmt.Errorf("engine: cookie secret: %w", err)
	}

	e := &Engine{
		link: link,
		limiter: ratelimit.New(ratelimit.Config{
			Window:     ec.TimeWindow,
			Threshold:  ec.Threshold,
			MaxEntries: ec.MaxEntries,
			Shards:     ec.Shards,
		}),
		bans: blacklist.New(blacklist.Config{
			MaxEntries: ec.BlacklistMaxEntries,
			Shards:     ec.Shards,
		}),
		cookies: cookies,
		flows: conntrack.New(conntrack.Config{
			MaxFlows:    cfg.Conntrack.MaxFlows,
			IdleTimeout: cfg.Conntrack.IdleTimeout,
			Shards:      ec.Shards,
		}),
		responder: responder.New(responder.Config{}),
		counters:  &metrics.Counters{},
	}

	e.classifier, err = classifier.New(classifier.Config{
		Link:      link,
		Policy:    policy,
		Limiter:   e.limiter,
		Blacklist: e.bans,
		Cookies:   e.cookies,
		Tracker:   e.flows,
		Completer: e.flows,
		Counters:  e.counters,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e, nil
}

func policyOf(ec *config.EngineConfig) (classifier.Policy, error) {
	mode, err := classifier.ParseMode(ec.Mode)
	if err != nil {
		return classifier.Policy{}, err
	}
	return classifier.Policy{
		Mode:          mode,
		BanDuration:   ec.BanDuration,
		PassUntracked: ec.UntrackedPolicy == config.UntrackedPass,
		Allowlist:     ec.Allowlist,
	}, nil
}

// Classify runs one frame through the classifier.
func (e *Engine) Classify(frame []byte, now time.Time) classifier.Result {
	return e.classifier.Classify(frame, now)
}

// Apply switches the hot-reloadable settings of ec: rate policy, ban
// duration, allowlist, untracked policy and mode. Table sizes are left
// untouched. Nothing changes when ec is rejected.
func (e *Engine) Apply(ec *config.EngineConfig) error {
	if ec.TimeWindow <= 0 || ec.Threshold == 0 {
		return fmt.Errorf("engine: invalid rate policy %d per %s", ec.Threshold, ec.TimeWindow)
	}
	policy, err := policyOf(ec)
	if err != nil {
		return err
	}
	if err := e.classifier.SetPolicy(policy); err != nil {
		return err
	}
	e.limiter.SetPolicy(ec.TimeWindow, ec.Threshold)
	return nil
}

// Policy returns the running classifier policy.
func (e *Engine) Policy() classifier.Policy { return e.classifier.Policy() }

// RatePolicy returns the running window and threshold.
func (e *Engine) RatePolicy() (time.Duration, uint32) { return e.limiter.Policy() }

// Link is the link type frames are parsed as.
func (e *Engine) Link() decoder.LinkType { return e.link }

// Counters returns the live counters.
func (e *Engine) Counters() *metrics.Counters { return e.counters }

// Snapshot implements metrics.Snapshotter.
func (e *Engine) Snapshot() metrics.Snapshot {
	s := e.counters.Snapshot()
	s.TableSize = e.limiter.Len()
	s.TableCapacity = e.limiter.Capacity()
	s.TableEvictions = e.limiter.Evictions()
	s.BlacklistSize = e.bans.Len()
	s.BlacklistCapacity = e.bans.Capacity()
	s.BlacklistEvictions = e.bans.Evictions()
	s.ConntrackSize = e.flows.Len()
	s.ConntrackEvictions = e.flows.Evictions()
	s.SecretRotations = e.cookies.Rotations()
	return s
}

// Ban blacklists addr for d, or for the configured ban duration when d is
// not positive.
func (e *Engine) Ban(addr netip.Addr, d time.Duration, now time.Time) time.Time {
	if d <= 0 {
		d = e.classifier.Policy().BanDuration
	}
	e.bans.Blacklist(addr.Unmap(), now, d)
	return now.Add(d)
}

// Unban lifts a ban, reporting whether one existed.
func (e *Engine) Unban(addr netip.Addr) bool {
	return e.bans.Remove(addr.Unmap())
}

// Bans lists the bans live at now.
func (e *Engine) Bans(now time.Time) []blacklist.Entry {
	return e.bans.List(now)
}

// Flows lists the tracked established flows.
func (e *Engine) Flows() []conntrack.Flow {
	return e.flows.List()
}

// Sweep reclaims expired bans and idle flows.
func (e *Engine) Sweep(now time.Time) (bans, flows int) {
	return e.bans.Sweep(now), e.flows.Sweep(now)
}

// RotateSecret moves the cookie secret to the epoch of now.
func (e *Engine) RotateSecret(now time.Time) error {
	return e.cookies.Rotate(now)
}

// RotationInterval is the cookie secret lifetime.
func (e *Engine) RotationInterval() time.Duration {
	return e.cookies.Interval()
}
