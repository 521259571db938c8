package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the synguard daemon for its overall status.

Shows: version, PID, uptime and the admission policy in effect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), client(), cmd.OutOrStdout(), statusJSON)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print raw JSON")
}

func runStatus(ctx context.Context, c ControlClient, out io.Writer, asJSON bool) error {
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	if asJSON {
		return writeJSON(out, st)
	}

	allow := "-"
	if len(st.Allowlist) > 0 {
		allow = strings.Join(st.Allowlist, ", ")
	}
	untracked := "drop"
	if st.PassUntracked {
		untracked = "pass"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"version", st.Version},
		{"pid", st.PID},
		{"uptime", (time.Duration(st.UptimeSec) * time.Second).String()},
		{"mode", st.Mode},
		{"budget", fmt.Sprintf("%d SYN / %s", st.Threshold, st.Window)},
		{"ban duration", st.BanDuration},
		{"untracked", untracked},
		{"allowlist", allow},
	})
	fmt.Fprintln(out, t.Render())
	return nil
}
