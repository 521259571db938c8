package engine

import (
	"context"
	"sort"
	"time"

	"firestige.xyz/synguard/internal/blacklist"
	"firestige.xyz/synguard/internal/capture"
	"firestige.xyz/synguard/internal/classifier"
	"firestige.xyz/synguard/internal/metrics"
)

// Summary describes an offline replay.
type Summary struct {
	Frames   uint64            `json:"frames"`
	Injected uint64            `json:"injected"`
	First    time.Time         `json:"first"`
	Last     time.Time         `json:"last"`
	Verdicts map[string]uint64 `json:"verdicts"`
	Reasons  map[string]uint64 `json:"reasons"`
	// Bans live at the time of the last frame.
	Bans     []blacklist.Entry `json:"bans"`
	Counters metrics.Snapshot  `json:"counters"`
	// Sources lists the busiest SYN senders, most SYNs first.
	Sources []SourceCount `json:"sources"`
}

// SourceCount is the number of SYNs one address sent during a replay.
type SourceCount struct {
	Addr    string `json:"addr"`
	SYNs    uint64 `json:"syns"`
	Dropped uint64 `json:"dropped"`
}

// Duration is the capture time spanned by the replay.
func (s *Summary) Duration() time.Duration {
	if s.First.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

const topSources = 10

// Replay classifies every frame of src in order, using the capture
// timestamps as the clock. SYN-ACKs for cookie redirects are written to out
// when it is not nil.
func (e *Engine) Replay(ctx context.Context, src capture.Source, out capture.Injector) (Summary, error) {
	sum := Summary{
		Verdicts: make(map[string]uint64),
		Reasons:  make(map[string]uint64),
	}
	perSource := make(map[string]*SourceCount)

	w := e.NewWorker(0, src, out)
	w.observe = func(res *classifier.Result, now time.Time) {
		if sum.First.IsZero() {
			sum.First = now
		}
		sum.Last = now
		sum.Frames++
		sum.Verdicts[res.Verdict.String()]++
		sum.Reasons[res.Reason.String()]++

		if res.Stage < classifier.StageParsed || !res.Header.IsBareSYN() {
			return
		}
		key := res.Header.SrcIP.String()
		sc := perSource[key]
		if sc == nil {
			sc = &SourceCount{Addr: key}
			perSource[key] = sc
		}
		sc.SYNs++
		if res.Verdict == classifier.Drop {
			sc.Dropped++
		}
	}

	err := w.Run(ctx)
	sum.Injected = w.Stats().Injected
	sum.Counters = e.Snapshot()
	sum.Bans = e.Bans(sum.Last)

	for _, sc := range perSource {
		sum.Sources = append(sum.Sources, *sc)
	}
	sort.Slice(sum.Sources, func(i, j int) bool {
		a, b := sum.Sources[i], sum.Sources[j]
		if a.SYNs != b.SYNs {
			return a.SYNs > b.SYNs
		}
		return a.Addr < b.Addr
	})
	if len(sum.Sources) > topSources {
		sum.Sources = sum.Sources[:topSources]
	}
	return sum, err
}
