package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sampler throttles log lines emitted from the packet path. Lines over the
// rate are counted and reported with the next line that is let through.
//
// Once the limiter refuses a line, callers are turned away on an atomic
// load until the next token is due, so a flood of suppressed lines never
// contends on the limiter's mutex.
type Sampler struct {
	limiter    *rate.Limiter
	refill     time.Duration
	closedTill atomic.Int64 // unix nanos
	suppressed atomic.Uint64
	now        func() time.Time
}

// NewSampler allows perSecond lines per second with the given burst.
func NewSampler(perSecond float64, burst int) *Sampler {
	s := &Sampler{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
	}
	if perSecond > 0 {
		s.refill = time.Duration(float64(time.Second) / perSecond)
	}
	return s
}

// Logger returns a logger to write one line with, or nil when the line
// should be dropped. The returned logger carries the number of lines
// suppressed since the last one.
func (s *Sampler) Logger() Logger {
	now := s.now()
	if now.UnixNano() < s.closedTill.Load() {
		s.suppressed.Add(1)
		return nil
	}
	if !s.limiter.AllowN(now, 1) {
		s.closedTill.Store(now.Add(s.refill).UnixNano())
		s.suppressed.Add(1)
		return nil
	}
	l := GetLogger()
	if n := s.suppressed.Swap(0); n > 0 {
		l = l.WithField("suppressed", n)
	}
	return l
}

// Suppressed returns the number of lines dropped since the last emitted one.
func (s *Sampler) Suppressed() uint64 { return s.suppressed.Load() }
