package cmd

import (
	"context"
	"time"

	"firestige.xyz/synguard/internal/blacklist"
	"firestige.xyz/synguard/internal/command"
	"firestige.xyz/synguard/internal/metrics"
)

// ControlClient is the part of the daemon control API the commands use.
// *command.UDSClient implements it; tests inject a mock.
type ControlClient interface {
	Stats(ctx context.Context) (metrics.Snapshot, error)
	Status(ctx context.Context) (command.StatusResult, error)
	BlacklistList(ctx context.Context) ([]blacklist.Entry, error)
	BlacklistAdd(ctx context.Context, addr string, d time.Duration) (command.BlacklistResult, error)
	BlacklistRemove(ctx context.Context, addr string) (bool, error)
	ConfigReload(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

var cli ControlClient

// client returns the injected client or a UDS client for --socket.
func client() ControlClient {
	if cli != nil {
		return cli
	}
	return command.NewUDSClient(socketPath, timeout)
}

// SetClient overrides the control client; nil restores the UDS client.
func SetClient(c ControlClient) {
	cli = c
}
