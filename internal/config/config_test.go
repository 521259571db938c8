package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/synguard/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synguard.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
synguard:
  engine:
    time_window: 3s
    threshold: 20
    max_entries: 1024
    ban_duration: 2m
    shards: 16
    allowlist: ["10.1.2.3/8", "192.0.2.0/24"]
    mode: passthrough
    untracked_policy: pass
  cookie:
    rotation_interval: 30s
  capture:
    source: pcap
    pcap_file: /tmp/in.pcap
  control:
    socket: /tmp/test.sock
    pid_file: /tmp/test.pid
  log:
    level: debug
    format: json
  metrics:
    enabled: true
    listen: "127.0.0.1:9999"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Engine.TimeWindow)
	assert.Equal(t, uint32(20), cfg.Engine.Threshold)
	assert.Equal(t, 1024, cfg.Engine.MaxEntries)
	assert.Equal(t, 1024, cfg.Engine.BlacklistMaxEntries, "blacklist capacity defaults to max_entries")
	assert.Equal(t, 2*time.Minute, cfg.Engine.BanDuration)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.0/24"),
	}, cfg.Engine.Allowlist)
	assert.Equal(t, ModePassthrough, cfg.Engine.Mode)
	assert.Equal(t, UntrackedPass, cfg.Engine.UntrackedPolicy)
	assert.Equal(t, 30*time.Second, cfg.Cookie.RotationInterval)
	assert.Equal(t, SourcePcap, cfg.Capture.Source)
	assert.Equal(t, "/tmp/test.sock", cfg.Control.Socket)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Engine.TimeWindow)
	assert.Equal(t, uint32(10), cfg.Engine.Threshold)
	assert.Equal(t, 16384, cfg.Engine.MaxEntries)
	assert.Equal(t, 16384, cfg.Engine.BlacklistMaxEntries)
	assert.Equal(t, 60*time.Second, cfg.Engine.BanDuration)
	assert.Equal(t, 64, cfg.Engine.Shards)
	assert.Empty(t, cfg.Engine.Allowlist)
	assert.Equal(t, UntrackedDrop, cfg.Engine.UntrackedPolicy)
	assert.Equal(t, ModeCookie, cfg.Engine.Mode)
	assert.Equal(t, 64*time.Second, cfg.Cookie.RotationInterval)
	assert.Equal(t, 65536, cfg.Conntrack.MaxFlows)
	assert.Equal(t, 5*time.Second, cfg.Janitor.Interval)
	assert.Equal(t, SourceAFPacket, cfg.Capture.Source)
	assert.True(t, cfg.Capture.Respond)
	assert.Equal(t, "/var/run/synguard.sock", cfg.Control.Socket)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SYNGUARD_ENGINE_THRESHOLD", "25")
	t.Setenv("SYNGUARD_LOG_LEVEL", "warn")
	t.Setenv("SYNGUARD_ENGINE_ALLOWLIST", "127.0.0.0/8,10.0.0.0/8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(25), cfg.Engine.Threshold)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Len(t, cfg.Engine.Allowlist, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"log level", "log: {level: loud}", "invalid log level"},
		{"log format", "log: {format: xml}", "invalid log format"},
		{"threshold", "engine: {threshold: 0}", "engine.threshold"},
		{"window", "engine: {time_window: 0s}", "engine.time_window"},
		{"shards", "engine: {shards: 10}", "power of two"},
		{"mode", "engine: {mode: block}", "engine.mode"},
		{"untracked", "engine: {untracked_policy: maybe}", "untracked_policy"},
		{"link type", "engine: {link_type: ppp}", "link_type"},
		{"rotation", "cookie: {rotation_interval: 10ms}", "rotation_interval"},
		{"pcap without file", "capture: {source: pcap}", "pcap_file"},
		{"source", "capture: {source: dpdk}", "capture.source"},
		{"snaplen", "capture: {snap_len: 20}", "snap_len"},
		{"queues without fanout", "capture: {queues: 4, fanout_id: 0}", "fanout_id"},
		{"bad prefix", "engine: {allowlist: [not-a-prefix]}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "synguard:\n  "+tt.content+"\n")
			_, err := Load(path)
			require.Error(t, err)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
				assert.True(t, errors.Is(err, core.ErrConfigInvalid))
			}
		})
	}
}

func TestDumpRoundTrip(t *testing.T) {
	path := writeConfig(t, `
synguard:
  engine:
    allowlist: ["192.0.2.0/24"]
    ban_duration: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "synguard:")
	assert.Contains(t, string(out), "192.0.2.0/24")
	assert.Contains(t, string(out), "ban_duration: 1m30s")

	again, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
