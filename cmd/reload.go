package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to re-read its configuration file.

Log level and the engine policy (threshold, time_window, ban_duration,
allowlist, untracked_policy, mode) apply immediately; table sizes and
capture settings need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

// runReload holds the command logic so it can be tested without a daemon.
func runReload(ctx context.Context, c ControlClient, out io.Writer) error {
	if err := c.ConfigReload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
