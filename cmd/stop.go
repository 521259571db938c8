package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/synguard/internal/core"
	"firestige.xyz/synguard/internal/daemon"
)

var (
	stopPIDFile string
	stopWait    time.Duration
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the synguard daemon",
	Long: `Stop the synguard daemon gracefully.

The shutdown request is sent over the Unix Domain Socket. If the socket
does not answer, the daemon recorded in the PID file is sent SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), client(), cmd.OutOrStdout(), func() error {
			return daemon.StopDaemon(stopPIDFile, stopWait)
		})
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "/var/run/synguard.pid",
		"PID file used when the socket does not answer")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 5*time.Second,
		"how long to wait for the process to exit after SIGTERM")
}

func runStop(ctx context.Context, c ControlClient, out io.Writer, signalStop func() error) error {
	err := c.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Shutdown requested")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	if err := signalStop(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped (SIGTERM)")
	return nil
}
