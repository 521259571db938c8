package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// blacklistCmd represents the blacklist command group
var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage blacklisted sources",
	Long: `Inspect and edit the blacklist of the running daemon.

Subcommands:
  list    - List live bans
  add     - Ban a source address
  remove  - Lift a ban`,
}

var blacklistJSON bool

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live bans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlacklistList(cmd.Context(), client(), cmd.OutOrStdout(), blacklistJSON, time.Now())
	},
}

var banDuration time.Duration

var blacklistAddCmd = &cobra.Command{
	Use:   "add <addr>",
	Short: "Ban a source address",
	Long: `Ban a source address. Without --duration the configured
engine.ban_duration applies.

Examples:
  synguard blacklist add 198.51.100.7
  synguard blacklist add 198.51.100.7 -d 1h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlacklistAdd(cmd.Context(), client(), cmd.OutOrStdout(), args[0], banDuration)
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:     "remove <addr>",
	Aliases: []string{"rm", "delete"},
	Short:   "Lift a ban",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlacklistRemove(cmd.Context(), client(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	blacklistListCmd.Flags().BoolVar(&blacklistJSON, "json", false, "print raw JSON")
	blacklistAddCmd.Flags().DurationVarP(&banDuration, "duration", "d", 0,
		"ban duration (default: engine.ban_duration)")

	blacklistCmd.AddCommand(blacklistListCmd)
	blacklistCmd.AddCommand(blacklistAddCmd)
	blacklistCmd.AddCommand(blacklistRemoveCmd)
}

func runBlacklistList(ctx context.Context, c ControlClient, out io.Writer, asJSON bool, now time.Time) error {
	entries, err := c.BlacklistList(ctx)
	if err != nil {
		return fmt.Errorf("failed to list blacklist: %w", err)
	}
	if asJSON {
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No sources blacklisted.")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Source", "Expires", "Remaining"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Addr.String(),
			e.ExpiresAt.Local().Format(time.DateTime),
			e.ExpiresAt.Sub(now).Round(time.Second).String(),
		})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d source(s)", len(entries)), "", ""})
	fmt.Fprintln(out, t.Render())
	return nil
}

func runBlacklistAdd(ctx context.Context, c ControlClient, out io.Writer, addr string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("invalid duration %s", d)
	}
	res, err := c.BlacklistAdd(ctx, addr, d)
	if err != nil {
		return fmt.Errorf("failed to blacklist %s: %w", addr, err)
	}
	fmt.Fprintf(out, "✓ %s blacklisted until %s\n", res.Addr, res.ExpiresAt.Local().Format(time.DateTime))
	return nil
}

func runBlacklistRemove(ctx context.Context, c ControlClient, out io.Writer, addr string) error {
	removed, err := c.BlacklistRemove(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", addr, err)
	}
	if !removed {
		fmt.Fprintf(out, "%s was not blacklisted\n", addr)
		return nil
	}
	fmt.Fprintf(out, "✓ %s removed from blacklist\n", addr)
	return nil
}
