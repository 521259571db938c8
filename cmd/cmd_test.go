package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/synguard/internal/blacklist"
	"firestige.xyz/synguard/internal/capture"
	"firestige.xyz/synguard/internal/command"
	"firestige.xyz/synguard/internal/config"
	"firestige.xyz/synguard/internal/core"
	"firestige.xyz/synguard/internal/engine"
	"firestige.xyz/synguard/internal/metrics"
	"firestige.xyz/synguard/internal/testutil"
)

// MockClient implements ControlClient.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Stats(ctx context.Context) (metrics.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(metrics.Snapshot), args.Error(1)
}

func (m *MockClient) Status(ctx context.Context) (command.StatusResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(command.StatusResult), args.Error(1)
}

func (m *MockClient) BlacklistList(ctx context.Context) ([]blacklist.Entry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]blacklist.Entry)
	return entries, args.Error(1)
}

func (m *MockClient) BlacklistAdd(ctx context.Context, addr string, d time.Duration) (command.BlacklistResult, error) {
	args := m.Called(ctx, addr, d)
	return args.Get(0).(command.BlacklistResult), args.Error(1)
}

func (m *MockClient) BlacklistRemove(ctx context.Context, addr string) (bool, error) {
	args := m.Called(ctx, addr)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) ConfigReload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// execute runs the root command with args against c.
func execute(t *testing.T, c ControlClient, args ...string) (string, error) {
	t.Helper()
	SetClient(c)
	t.Cleanup(func() { SetClient(nil) })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRunReload(t *testing.T) {
	tests := []struct {
		name           string
		mockError      error
		expectedOutput string
	}{
		{name: "reloaded", expectedOutput: "✓ Configuration reloaded successfully"},
		{name: "daemon not running", mockError: core.ErrDaemonNotRunning},
		{name: "invalid config", mockError: &command.ErrorInfo{Code: command.ErrCodeInternalError, Message: "reload config failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("ConfigReload", mock.Anything).Return(tt.mockError)

			var buf bytes.Buffer
			err := runReload(context.Background(), mockClient, &buf)

			if tt.mockError != nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to reload")
				assert.ErrorIs(t, err, tt.mockError)
				assert.Empty(t, buf.String())
			} else {
				assert.NoError(t, err)
				assert.Contains(t, buf.String(), tt.expectedOutput)
			}
			mockClient.AssertExpectations(t)
		})
	}
}

func TestReloadCmd_Execute(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ConfigReload", mock.Anything).Return(nil)

	out, err := execute(t, mockClient, "reload")
	assert.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration reloaded successfully")
	mockClient.AssertExpectations(t)
}

func TestRunStats(t *testing.T) {
	snap := metrics.Snapshot{SYNTotal: 1200, CookiesIssued: 1000, RateLimitedDrop: 3, TableSize: 12, TableCapacity: 16384}

	t.Run("table", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Stats", mock.Anything).Return(snap, nil)

		var buf bytes.Buffer
		require.NoError(t, runStats(context.Background(), mockClient, &buf, false))
		assert.Contains(t, buf.String(), "syn total")
		assert.Contains(t, buf.String(), "1200")
		assert.Contains(t, buf.String(), "12 / 16384")
	})

	t.Run("json", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Stats", mock.Anything).Return(snap, nil)

		var buf bytes.Buffer
		require.NoError(t, runStats(context.Background(), mockClient, &buf, true))
		var got metrics.Snapshot
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, snap, got)
	})

	t.Run("error", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Stats", mock.Anything).Return(metrics.Snapshot{}, core.ErrDaemonNotRunning)

		err := runStats(context.Background(), mockClient, io.Discard, false)
		assert.ErrorIs(t, err, core.ErrDaemonNotRunning)
	})
}

func TestRunStatus(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Status", mock.Anything).Return(command.StatusResult{
		Version:     "0.1.0",
		PID:         4242,
		UptimeSec:   90,
		Mode:        "cookie",
		Window:      "2s",
		Threshold:   10,
		BanDuration: "1m0s",
		Allowlist:   []string{"10.0.0.0/8"},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStatus(context.Background(), mockClient, &buf, false))
	out := buf.String()
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "10 SYN / 2s")
	assert.Contains(t, out, "10.0.0.0/8")
	assert.Contains(t, out, "drop")
}

func TestRunBlacklistList(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("entries", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("BlacklistList", mock.Anything).Return([]blacklist.Entry{
			{Addr: netip.MustParseAddr("198.51.100.7"), ExpiresAt: now.Add(45 * time.Second)},
			{Addr: netip.MustParseAddr("192.0.2.1"), ExpiresAt: now.Add(10 * time.Minute)},
		}, nil)

		var buf bytes.Buffer
		require.NoError(t, runBlacklistList(context.Background(), mockClient, &buf, false, now))
		out := buf.String()
		assert.Contains(t, out, "198.51.100.7")
		assert.Contains(t, out, "45s")
		assert.Contains(t, out, "10m0s")
		assert.Contains(t, out, "2 source(s)")
	})

	t.Run("empty", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("BlacklistList", mock.Anything).Return(nil, nil)

		var buf bytes.Buffer
		require.NoError(t, runBlacklistList(context.Background(), mockClient, &buf, false, now))
		assert.Equal(t, "No sources blacklisted.\n", buf.String())
	})
}

func TestBlacklistAddCmd_Execute(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	mockClient := new(MockClient)
	mockClient.On("BlacklistAdd", mock.Anything, "198.51.100.7", time.Hour).
		Return(command.BlacklistResult{Addr: "198.51.100.7", ExpiresAt: expires}, nil)

	out, err := execute(t, mockClient, "blacklist", "add", "198.51.100.7", "-d", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 198.51.100.7 blacklisted until")
	mockClient.AssertExpectations(t)
}

func TestRunBlacklistAdd_Errors(t *testing.T) {
	mockClient := new(MockClient)
	err := runBlacklistAdd(context.Background(), mockClient, io.Discard, "198.51.100.7", -time.Second)
	assert.Error(t, err)
	mockClient.AssertNotCalled(t, "BlacklistAdd", mock.Anything, mock.Anything, mock.Anything)

	rpcErr := &command.ErrorInfo{Code: command.ErrCodeInvalidParams, Message: "invalid addr"}
	mockClient.On("BlacklistAdd", mock.Anything, "bogus", time.Duration(0)).Return(command.BlacklistResult{}, rpcErr)
	err = runBlacklistAdd(context.Background(), mockClient, io.Discard, "bogus", 0)
	assert.ErrorIs(t, err, rpcErr)
}

func TestRunBlacklistRemove(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("BlacklistRemove", mock.Anything, "198.51.100.7").Return(true, nil).Once()
	mockClient.On("BlacklistRemove", mock.Anything, "198.51.100.7").Return(false, nil).Once()

	var buf bytes.Buffer
	require.NoError(t, runBlacklistRemove(context.Background(), mockClient, &buf, "198.51.100.7"))
	assert.Contains(t, buf.String(), "removed from blacklist")

	buf.Reset()
	require.NoError(t, runBlacklistRemove(context.Background(), mockClient, &buf, "198.51.100.7"))
	assert.Contains(t, buf.String(), "was not blacklisted")
	mockClient.AssertExpectations(t)
}

func TestRunStop(t *testing.T) {
	tests := []struct {
		name        string
		shutdownErr error
		signalErr   error
		wantSignal  bool
		wantErr     bool
		wantOutput  string
	}{
		{name: "via socket", wantOutput: "Shutdown requested"},
		{name: "fallback to pid file", shutdownErr: fmt.Errorf("dial: %w", core.ErrDaemonNotRunning), wantSignal: true, wantOutput: "SIGTERM"},
		{name: "nothing running", shutdownErr: core.ErrDaemonNotRunning, signalErr: core.ErrDaemonNotRunning, wantSignal: true, wantErr: true},
		{name: "rpc failure", shutdownErr: &command.ErrorInfo{Code: command.ErrCodeInternalError, Message: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("Shutdown", mock.Anything).Return(tt.shutdownErr)

			signalled := false
			var buf bytes.Buffer
			err := runStop(context.Background(), mockClient, &buf, func() error {
				signalled = true
				return tt.signalErr
			})

			assert.Equal(t, tt.wantSignal, signalled)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, buf.String(), tt.wantOutput)
		})
	}
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte(`
synguard:
  engine:
    threshold: 20
    mode: passthrough
  capture:
    source: pcap
    pcap_file: /tmp/x.pcap
`), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(good, &buf, false))
	assert.Equal(t, "VALID: mode passthrough, 20 SYN / 2s, ban 1m0s, capture pcap\n", buf.String())

	buf.Reset()
	require.NoError(t, runValidate(good, &buf, true))
	assert.Contains(t, buf.String(), "synguard:")
	assert.Contains(t, buf.String(), "threshold: 20")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("synguard:\n  engine:\n    untracked_policy: maybe\n"), 0644))
	err := runValidate(bad, io.Discard, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func writeFlood(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w, err := capture.NewPcapWriter(f, layers.LinkTypeEthernet, 65535)
	require.NoError(t, err)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		frame := testutil.SYN("198.51.100.7", uint16(40000+i), "203.0.113.1", 443, uint32(i))
		require.NoError(t, w.WritePacketDataAt(frame, start.Add(time.Duration(i)*time.Millisecond)))
	}
}

func TestRunReplay(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "flood.pcap")
	out := filepath.Join(dir, "synacks.pcap")
	writeFlood(t, in, 15)

	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runReplay(context.Background(), cfg, in, out, true, &buf))

	var sum engine.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &sum))
	assert.Equal(t, uint64(15), sum.Frames)
	assert.Equal(t, uint64(10), sum.Verdicts["REDIRECT_TO_COOKIE"])
	assert.Equal(t, uint64(5), sum.Verdicts["DROP"])
	assert.Equal(t, uint64(1), sum.Reasons["rate_limited"])
	assert.Equal(t, uint64(4), sum.Reasons["blacklisted"])
	assert.Equal(t, uint64(10), sum.Injected)
	assert.Equal(t, 14*time.Millisecond, sum.Duration())
	require.Len(t, sum.Sources, 1)
	assert.Equal(t, engine.SourceCount{Addr: "198.51.100.7", SYNs: 15, Dropped: 5}, sum.Sources[0])
	require.Len(t, sum.Bans, 1)

	// The answers are SYN-ACKs back to the flooding source.
	src, err := capture.OpenPcap(out)
	require.NoError(t, err)
	defer src.Close()
	answers := 0
	for {
		data, _, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		answers++
		assert.NotEmpty(t, data)
	}
	assert.Equal(t, 10, answers)
}

func TestRunReplay_Table(t *testing.T) {
	in := filepath.Join(t.TempDir(), "flood.pcap")
	writeFlood(t, in, 12)

	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runReplay(context.Background(), cfg, in, "", false, &buf))
	assert.Contains(t, buf.String(), "REDIRECT_TO_COOKIE")
	assert.Contains(t, buf.String(), "198.51.100.7")
}

func TestRunReplay_MissingFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	err = runReplay(context.Background(), cfg, filepath.Join(t.TempDir(), "absent.pcap"), "", false, io.Discard)
	assert.Error(t, err)
}

func TestLoadReplayConfig_DefaultsWhenAbsent(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "absent.yml")

	cfg, err := loadReplayConfig(absent, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), cfg.Engine.Threshold)

	_, err = loadReplayConfig(absent, true)
	assert.Error(t, err)
}
