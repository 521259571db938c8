package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"firestige.xyz/synguard/internal/metrics"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the synguard daemon for its counters and table gauges.

Shows: frames parsed, SYNs seen, verdict totals, cookie results, and the
occupancy of the rate-limit table, blacklist and conntrack table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), client(), cmd.OutOrStdout(), statsJSON)
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print raw JSON")
}

func runStats(ctx context.Context, c ControlClient, out io.Writer, asJSON bool) error {
	s, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	if asJSON {
		return writeJSON(out, s)
	}
	fmt.Fprintln(out, renderStats(s))
	return nil
}

func renderStats(s metrics.Snapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	t.AppendRows([]table.Row{
		{"frames parsed", s.FramesParsed},
		{"malformed", s.Malformed},
		{"untracked", s.Untracked},
		{"syn total", s.SYNTotal},
		{"allowlisted syn", s.AllowlistedSYN},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"passed", s.Passed},
		{"dropped", s.Dropped},
		{"redirected", s.Redirected},
		{"  blacklisted", s.BlacklistedDrop},
		{"  rate limited", s.RateLimitedDrop},
		{"  passthrough", s.PassthroughPass},
		{"  established", s.EstablishedPass},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"cookies issued", s.CookiesIssued},
		{"cookies validated", s.CookiesValidated},
		{"cookies rejected", s.CookiesRejected},
		{"secret rotations", s.SecretRotations},
		{"inject errors", s.InjectErrors},
		{"internal errors", s.InternalErrors},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"rate table", fmt.Sprintf("%d / %d", s.TableSize, s.TableCapacity)},
		{"rate table evictions", s.TableEvictions},
		{"blacklist", fmt.Sprintf("%d / %d", s.BlacklistSize, s.BlacklistCapacity)},
		{"blacklist evictions", s.BlacklistEvictions},
		{"conntrack", s.ConntrackSize},
		{"conntrack evictions", s.ConntrackEvictions},
	})
	return t.Render()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	return nil
}
