// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/synguard/internal/core"
)

// rootKey is the top-level YAML key; env vars use the SYNGUARD_ prefix
// (e.g. SYNGUARD_ENGINE_THRESHOLD).
const rootKey = "synguard"

// Config represents the top-level configuration.
// Maps to the `synguard:` root key in YAML.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Cookie    CookieConfig    `mapstructure:"cookie" yaml:"cookie"`
	Conntrack ConntrackConfig `mapstructure:"conntrack" yaml:"conntrack"`
	Janitor   JanitorConfig   `mapstructure:"janitor" yaml:"janitor"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Control   ControlConfig   `mapstructure:"control" yaml:"control"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ─── Engine ───

// Admission modes.
const (
	ModeCookie      = "cookie"
	ModePassthrough = "passthrough"
)

// Policies for frames that are not IPv4/TCP.
const (
	UntrackedDrop = "drop"
	UntrackedPass = "pass"
)

// EngineConfig configures the admission engine. Fields marked hot are
// applied on reload; the rest need a restart.
type EngineConfig struct {
	TimeWindow          time.Duration  `mapstructure:"time_window" yaml:"time_window"` // hot
	Threshold           uint32         `mapstructure:"threshold" yaml:"threshold"`     // hot
	MaxEntries          int            `mapstructure:"max_entries" yaml:"max_entries"`
	BlacklistMaxEntries int            `mapstructure:"blacklist_max_entries" yaml:"blacklist_max_entries"`
	BanDuration         time.Duration  `mapstructure:"ban_duration" yaml:"ban_duration"` // hot
	Shards              int            `mapstructure:"shards" yaml:"shards"`
	Allowlist           []netip.Prefix `mapstructure:"allowlist" yaml:"allowlist"`               // hot
	UntrackedPolicy     string         `mapstructure:"untracked_policy" yaml:"untracked_policy"` // hot
	LinkType            string         `mapstructure:"link_type" yaml:"link_type"`
	Mode                string         `mapstructure:"mode" yaml:"mode"` // hot
}

// CookieConfig configures the SYN cookie secret.
type CookieConfig struct {
	RotationInterval time.Duration `mapstructure:"rotation_interval" yaml:"rotation_interval"`
}

// ConntrackConfig sizes the established flow table.
type ConntrackConfig struct {
	MaxFlows    int           `mapstructure:"max_flows" yaml:"max_flows"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// JanitorConfig controls the periodic sweep of expired bans and idle flows.
type JanitorConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ─── Capture ───

// Capture sources.
const (
	SourceAFPacket = "afpacket"
	SourcePcap     = "pcap"
)

// CaptureConfig configures where frames come from.
type CaptureConfig struct {
	Source       string `mapstructure:"source" yaml:"source"`
	Interface    string `mapstructure:"interface" yaml:"interface"`
	PcapFile     string `mapstructure:"pcap_file" yaml:"pcap_file"`
	Queues       int    `mapstructure:"queues" yaml:"queues"` // 0 = GOMAXPROCS
	FanoutID     uint16 `mapstructure:"fanout_id" yaml:"fanout_id"`
	SnapLen      int    `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	TimeoutMS    int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	Respond      bool   `mapstructure:"respond" yaml:"respond"`
}

// ─── Control / Metrics / Log ───

// ControlConfig contains daemon control settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format     string           `mapstructure:"format" yaml:"format"` // text / json
	Pattern    string           `mapstructure:"pattern" yaml:"pattern"`
	TimeFormat string           `mapstructure:"time_format" yaml:"time_format"`
	Outputs    LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations. Stdout is always on.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `synguard: ...`.
type configRoot struct {
	Synguard Config `mapstructure:"synguard" yaml:"synguard"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to SYNGUARD_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `synguard.` key prefix maps to `SYNGUARD_` through the replacer
	// (e.g. key "synguard.log.level" → env "SYNGUARD_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Synguard

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Dump renders cfg as YAML under the root key.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(configRoot{Synguard: *cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// setDefaults sets default values for configuration.
// All keys use the "synguard." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	d := func(key string, value any) { v.SetDefault(rootKey+"."+key, value) }

	// Engine defaults
	d("engine.time_window", "2s")
	d("engine.threshold", 10)
	d("engine.max_entries", 16384)
	d("engine.blacklist_max_entries", 16384)
	d("engine.ban_duration", "60s")
	d("engine.shards", 64)
	d("engine.allowlist", []string{})
	d("engine.untracked_policy", UntrackedDrop)
	d("engine.link_type", "ethernet")
	d("engine.mode", ModeCookie)

	d("cookie.rotation_interval", "64s")

	d("conntrack.max_flows", 65536)
	d("conntrack.idle_timeout", "5m")

	d("janitor.interval", "5s")

	// Capture defaults
	d("capture.source", SourceAFPacket)
	d("capture.interface", "eth0")
	d("capture.pcap_file", "")
	d("capture.queues", 0)
	d("capture.fanout_id", 42)
	d("capture.snap_len", 128)
	d("capture.buffer_size_mb", 16)
	d("capture.timeout_ms", 100)
	d("capture.respond", true)

	// Control defaults
	d("control.socket", "/var/run/synguard.sock")
	d("control.pid_file", "/var/run/synguard.pid")

	// Metrics defaults
	d("metrics.enabled", true)
	d("metrics.listen", ":9095")
	d("metrics.path", "/metrics")

	// Log defaults
	d("log.level", "info")
	d("log.format", "text")
	d("log.pattern", "%time [%level] %field %msg\n")
	d("log.time_format", "2006-01-02 15:04:05.000")
	d("log.outputs.file.enabled", false)
	d("log.outputs.file.path", "/var/log/synguard/synguard.log")
	d("log.outputs.file.rotation.max_size_mb", 100)
	d("log.outputs.file.rotation.max_age_days", 30)
	d("log.outputs.file.rotation.max_backups", 5)
	d("log.outputs.file.rotation.compress", true)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// ValidateAndApplyDefaults validates configuration and normalizes values.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Engine ──
	e := &cfg.Engine
	if e.TimeWindow <= 0 {
		return invalid("engine.time_window must be positive, got %s", e.TimeWindow)
	}
	if e.Threshold == 0 {
		return invalid("engine.threshold must be at least 1")
	}
	if e.MaxEntries <= 0 {
		return invalid("engine.max_entries must be positive, got %d", e.MaxEntries)
	}
	if e.BlacklistMaxEntries <= 0 {
		e.BlacklistMaxEntries = e.MaxEntries
	}
	if e.BanDuration <= 0 {
		return invalid("engine.ban_duration must be positive, got %s", e.BanDuration)
	}
	if e.Shards <= 0 || e.Shards&(e.Shards-1) != 0 {
		return invalid("engine.shards must be a power of two, got %d", e.Shards)
	}
	for i, p := range e.Allowlist {
		if !p.IsValid() {
			return invalid("engine.allowlist[%d] is not a valid prefix", i)
		}
		e.Allowlist[i] = p.Masked()
	}
	e.UntrackedPolicy = strings.ToLower(e.UntrackedPolicy)
	if e.UntrackedPolicy != UntrackedDrop && e.UntrackedPolicy != UntrackedPass {
		return invalid("invalid engine.untracked_policy: %s (must be drop/pass)", e.UntrackedPolicy)
	}
	e.Mode = strings.ToLower(e.Mode)
	if e.Mode != ModeCookie && e.Mode != ModePassthrough {
		return invalid("invalid engine.mode: %s (must be cookie/passthrough)", e.Mode)
	}
	switch strings.ToLower(e.LinkType) {
	case "ethernet", "en10mb", "raw", "ip":
	default:
		return invalid("invalid engine.link_type: %s (must be ethernet/raw)", e.LinkType)
	}

	// ── Cookie / conntrack / janitor ──
	if cfg.Cookie.RotationInterval < time.Second {
		return invalid("cookie.rotation_interval must be at least 1s, got %s", cfg.Cookie.RotationInterval)
	}
	if cfg.Conntrack.MaxFlows <= 0 {
		return invalid("conntrack.max_flows must be positive, got %d", cfg.Conntrack.MaxFlows)
	}
	if cfg.Conntrack.IdleTimeout <= 0 {
		return invalid("conntrack.idle_timeout must be positive, got %s", cfg.Conntrack.IdleTimeout)
	}
	if cfg.Janitor.Interval <= 0 {
		return invalid("janitor.interval must be positive, got %s", cfg.Janitor.Interval)
	}

	// ── Capture ──
	c := &cfg.Capture
	c.Source = strings.ToLower(c.Source)
	switch c.Source {
	case SourceAFPacket:
		if c.Interface == "" {
			return invalid("capture.interface is required for the afpacket source")
		}
	case SourcePcap:
		if c.PcapFile == "" {
			return invalid("capture.pcap_file is required for the pcap source")
		}
	default:
		return invalid("unsupported capture.source: %s (must be afpacket/pcap)", c.Source)
	}
	if c.Queues < 0 {
		return invalid("capture.queues must not be negative, got %d", c.Queues)
	}
	// Without a fanout group every socket sees every frame.
	if c.Source == SourceAFPacket && c.FanoutID == 0 && c.Queues > 1 {
		return invalid("capture.fanout_id is required when capture.queues is %d", c.Queues)
	}
	if c.SnapLen < 64 {
		return invalid("capture.snap_len must be at least 64, got %d", c.SnapLen)
	}

	// ── Control / metrics ──
	if cfg.Control.Socket == "" {
		return invalid("control.socket is required")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics are enabled")
	}

	return nil
}
