package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "synguard"

// Snapshotter is polled on every scrape.
type Snapshotter interface {
	Snapshot() Snapshot
}

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(Snapshot) float64
}

// Collector exports a Snapshotter as Prometheus metrics. Values are read at
// scrape time; nothing is pushed from the packet path.
type Collector struct {
	source  Snapshotter
	metrics []metric
}

// NewCollector creates a collector for source.
func NewCollector(source Snapshotter) *Collector {
	counter := func(name, help string, f func(Snapshot) uint64) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			kind:  prometheus.CounterValue,
			value: func(s Snapshot) float64 { return float64(f(s)) },
		}
	}
	gauge := func(name, help string, f func(Snapshot) int) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			kind:  prometheus.GaugeValue,
			value: func(s Snapshot) float64 { return float64(f(s)) },
		}
	}

	return &Collector{
		source: source,
		metrics: []metric{
			counter("frames_parsed_total", "Frames whose headers were extracted", func(s Snapshot) uint64 { return s.FramesParsed }),
			counter("malformed_total", "Frames that failed extraction, untracked protocols included", func(s Snapshot) uint64 { return s.Malformed }),
			counter("untracked_total", "Non IPv4/TCP frames, also counted in malformed_total", func(s Snapshot) uint64 { return s.Untracked }),
			counter("syn_total", "Bare SYN segments seen", func(s Snapshot) uint64 { return s.SYNTotal }),
			counter("allowlisted_syn_total", "SYNs from allowlisted sources", func(s Snapshot) uint64 { return s.AllowlistedSYN }),
			counter("blacklisted_drop_total", "SYNs dropped from blacklisted sources", func(s Snapshot) uint64 { return s.BlacklistedDrop }),
			counter("rate_limited_drop_total", "SYNs dropped for exceeding the rate budget", func(s Snapshot) uint64 { return s.RateLimitedDrop }),
			counter("cookies_issued_total", "SYN cookies generated", func(s Snapshot) uint64 { return s.CookiesIssued }),
			counter("cookies_validated_total", "Handshake ACKs carrying a valid cookie", func(s Snapshot) uint64 { return s.CookiesValidated }),
			counter("cookies_rejected_total", "Handshake ACKs carrying an invalid cookie", func(s Snapshot) uint64 { return s.CookiesRejected }),
			counter("established_pass_total", "Segments of established flows", func(s Snapshot) uint64 { return s.EstablishedPass }),
			counter("passthrough_pass_total", "Within-budget SYNs passed without a cookie", func(s Snapshot) uint64 { return s.PassthroughPass }),
			counter("internal_errors_total", "Frames dropped after an internal error", func(s Snapshot) uint64 { return s.InternalErrors }),
			counter("inject_errors_total", "SYN-ACKs that could not be transmitted", func(s Snapshot) uint64 { return s.InjectErrors }),
			counter("verdict_pass_total", "Frames given a PASS verdict", func(s Snapshot) uint64 { return s.Passed }),
			counter("verdict_drop_total", "Frames given a DROP verdict", func(s Snapshot) uint64 { return s.Dropped }),
			counter("verdict_redirect_total", "Frames answered with a SYN cookie", func(s Snapshot) uint64 { return s.Redirected }),
			counter("table_evictions_total", "Rate limiter records evicted under capacity pressure", func(s Snapshot) uint64 { return s.TableEvictions }),
			counter("blacklist_evictions_total", "Bans evicted under capacity pressure", func(s Snapshot) uint64 { return s.BlacklistEvictions }),
			counter("conntrack_evictions_total", "Tracked flows evicted under capacity pressure", func(s Snapshot) uint64 { return s.ConntrackEvictions }),
			counter("secret_rotations_total", "Cookie secret rotations", func(s Snapshot) uint64 { return s.SecretRotations }),
			gauge("table_size", "Sources in the rate limiter table", func(s Snapshot) int { return s.TableSize }),
			gauge("table_capacity", "Rate limiter table capacity", func(s Snapshot) int { return s.TableCapacity }),
			gauge("blacklist_size", "Entries in the blacklist", func(s Snapshot) int { return s.BlacklistSize }),
			gauge("conntrack_size", "Tracked established flows", func(s Snapshot) int { return s.ConntrackSize }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(snap))
	}
}
