// Package classifier decides, once per frame, whether to pass it, drop it or
// answer it with a SYN cookie.
//
// Bare SYNs go through the blacklist and the per-source rate limiter before a
// cookie is issued. Handshake ACKs of unknown flows must carry a valid
// cookie. Segments of established flows pass without touching any table.
// Classify never fails: every input, including truncated or hostile frames,
// ends in a verdict.
package classifier

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"firestige.xyz/synguard/internal/core"
	"firestige.xyz/synguard/internal/core/decoder"
	"firestige.xyz/synguard/internal/log"
	"firestige.xyz/synguard/internal/metrics"
	"firestige.xyz/synguard/internal/ratelimit"
)

// RateLimiter counts SYNs per source.
type RateLimiter interface {
	Admit(src netip.Addr, now time.Time) ratelimit.Decision
}

// Blacklister holds temporary bans.
type Blacklister interface {
	IsBlacklisted(src netip.Addr, now time.Time) bool
	Blacklist(src netip.Addr, now time.Time, d time.Duration)
}

// CookieIssuer generates and validates SYN cookies.
type CookieIssuer interface {
	Generate(flow core.Flow, clientISN uint32, opts core.TCPOptions, now time.Time) uint32
	Validate(flow core.Flow, clientISN, ack uint32, now time.Time) (core.TCPOptions, bool)
}

// ConnTracker reports whether a flow is an established connection.
type ConnTracker interface {
	Established(flow core.Flow, now time.Time) bool
}

// HandshakeCompleter receives flows whose cookie validated.
type HandshakeCompleter interface {
	Complete(flow core.Flow, opts core.TCPOptions, now time.Time)
}

// Policy holds the settings that may change while running.
type Policy struct {
	Mode          Mode
	BanDuration   time.Duration
	PassUntracked bool // PASS non-IPv4/TCP frames instead of dropping them
	Allowlist     []netip.Prefix
}

func (p *Policy) allowed(addr netip.Addr) bool {
	for _, prefix := range p.Allowlist {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Config wires a Classifier. Tracker and Completer are required in cookie
// mode; Counters is allocated when nil.
type Config struct {
	Link      decoder.LinkType
	Policy    Policy
	Limiter   RateLimiter
	Blacklist Blacklister
	Cookies   CookieIssuer
	Tracker   ConnTracker
	Completer HandshakeCompleter
	Counters  *metrics.Counters
}

// Classifier is safe for concurrent use by any number of workers.
type Classifier struct {
	link      decoder.LinkType
	policy    atomic.Pointer[Policy]
	limiter   RateLimiter
	blacklist Blacklister
	cookies   CookieIssuer
	tracker   ConnTracker
	completer HandshakeCompleter
	counters  *metrics.Counters
	sampler   *log.Sampler
}

// New creates a Classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.Limiter == nil || cfg.Blacklist == nil {
		return nil, errors.New("classifier: rate limiter and blacklist are required")
	}
	if cfg.Cookies == nil {
		return nil, errors.New("classifier: cookie issuer is required")
	}
	if err := checkPolicy(&cfg.Policy, cfg.Tracker, cfg.Completer); err != nil {
		return nil, err
	}
	if cfg.Counters == nil {
		cfg.Counters = &metrics.Counters{}
	}

	c := &Classifier{
		link:      cfg.Link,
		limiter:   cfg.Limiter,
		blacklist: cfg.Blacklist,
		cookies:   cfg.Cookies,
		tracker:   cfg.Tracker,
		completer: cfg.Completer,
		counters:  cfg.Counters,
		sampler:   log.NewSampler(10, 20),
	}
	p := cfg.Policy
	c.policy.Store(&p)
	return c, nil
}

func checkPolicy(p *Policy, tracker ConnTracker, completer HandshakeCompleter) error {
	if p.BanDuration <= 0 {
		return fmt.Errorf("classifier: ban duration must be positive, got %s", p.BanDuration)
	}
	if p.Mode == ModeCookie && (tracker == nil || completer == nil) {
		return errors.New("classifier: cookie mode needs a connection tracker and a handshake completer")
	}
	return nil
}

// SetPolicy atomically replaces the running policy. In-flight frames finish
// under the policy they started with.
func (c *Classifier) SetPolicy(p Policy) error {
	if err := checkPolicy(&p, c.tracker, c.completer); err != nil {
		return err
	}
	p.Allowlist = append([]netip.Prefix(nil), p.Allowlist...)
	c.policy.Store(&p)
	return nil
}

// Policy returns a copy of the running policy.
func (c *Classifier) Policy() Policy {
	p := *c.policy.Load()
	p.Allowlist = append([]netip.Prefix(nil), p.Allowlist...)
	return p
}

// Counters returns the counters the classifier increments.
func (c *Classifier) Counters() *metrics.Counters { return c.counters }

// Classify decides the fate of one frame received at now. The frame is not
// retained.
func (c *Classifier) Classify(frame []byte, now time.Time) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.counters.InternalErrors.Add(1)
			if l := c.sampler.Logger(); l != nil {
				l.WithField("panic", r).Error("classifier recovered from panic, frame dropped")
			}
			res = Result{Verdict: Drop, Reason: ReasonInternal, Stage: res.Stage, Header: res.Header}
		}
		c.count(res.Verdict)
	}()

	policy := c.policy.Load()

	hdr, err := decoder.Extract(frame, c.link)
	if err != nil {
		// Untracked frames are a subset of malformed ones.
		c.counters.Malformed.Add(1)
		if errors.Is(err, core.ErrUnsupportedProto) {
			c.counters.Untracked.Add(1)
			if policy.PassUntracked {
				return Result{Verdict: Pass, Reason: ReasonUntracked, Stage: StageReceived}
			}
			return Result{Verdict: Drop, Reason: ReasonUntracked, Stage: StageReceived}
		}
		return Result{Verdict: Drop, Reason: ReasonMalformed, Stage: StageReceived}
	}
	c.counters.FramesParsed.Add(1)
	res = Result{Stage: StageParsed, Header: hdr}

	if hdr.IsBareSYN() {
		return c.classifySYN(policy, res, now)
	}

	flow := hdr.Flow()
	if c.tracker != nil && c.tracker.Established(flow, now) {
		c.counters.EstablishedPass.Add(1)
		res.Verdict, res.Reason = Pass, ReasonEstablished
		return res
	}

	if policy.Mode == ModeCookie && hdr.IsHandshakeACK() {
		return c.classifyACK(res, flow, now)
	}

	// SYN-ACKs, RSTs, FINs and anything else the conntrack collaborator
	// has to judge.
	res.Verdict, res.Reason = Pass, ReasonNotTracked
	return res
}

func (c *Classifier) classifySYN(policy *Policy, res Result, now time.Time) Result {
	hdr := &res.Header
	src := hdr.SrcIP
	c.counters.SYNTotal.Add(1)

	if policy.allowed(src) {
		c.counters.AllowlistedSYN.Add(1)
		res.Stage = StageRateChecked
		return c.admit(policy, res, now)
	}

	if c.blacklist.IsBlacklisted(src, now) {
		c.counters.BlacklistedDrop.Add(1)
		res.Verdict, res.Reason = Drop, ReasonBlacklisted
		return res
	}
	res.Stage = StageCheckedBlacklist

	if c.limiter.Admit(src, now) == ratelimit.OverBudget {
		c.blacklist.Blacklist(src, now, policy.BanDuration)
		c.counters.RateLimitedDrop.Add(1)
		if l := c.sampler.Logger(); l != nil {
			l.WithField("src", src).WithField("ban", policy.BanDuration).Info("source over SYN budget, blacklisted")
		}
		res.Verdict, res.Reason = Drop, ReasonRateLimited
		return res
	}
	res.Stage = StageRateChecked

	return c.admit(policy, res, now)
}

// admit finishes a within-budget SYN.
func (c *Classifier) admit(policy *Policy, res Result, now time.Time) Result {
	if policy.Mode == ModePassthrough {
		c.counters.PassthroughPass.Add(1)
		res.Verdict, res.Reason = Pass, ReasonPassthrough
		return res
	}

	hdr := &res.Header
	res.Cookie = c.cookies.Generate(hdr.Flow(), hdr.Seq, hdr.Options, now)
	res.Options = hdr.Options
	res.Stage = StageCookieIssued
	res.Verdict, res.Reason = RedirectToCookie, ReasonCookieIssued
	c.counters.CookiesIssued.Add(1)
	return res
}

func (c *Classifier) classifyACK(res Result, flow core.Flow, now time.Time) Result {
	hdr := &res.Header
	opts, ok := c.cookies.Validate(flow, hdr.Seq-1, hdr.Ack, now)
	if !ok {
		c.counters.CookiesRejected.Add(1)
		res.Verdict, res.Reason = Drop, ReasonCookieInvalid
		return res
	}

	c.counters.CookiesValidated.Add(1)
	c.completer.Complete(flow, opts, now)
	res.Options = opts
	res.Stage = StageCookieValidated
	res.Verdict, res.Reason = Pass, ReasonCookieValid
	return res
}

func (c *Classifier) count(v Verdict) {
	switch v {
	case Pass:
		c.counters.Passed.Add(1)
	case Drop:
		c.counters.Dropped.Add(1)
	case RedirectToCookie:
		c.counters.Redirected.Add(1)
	}
}
