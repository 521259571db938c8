package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"firestige.xyz/synguard/internal/capture"
	"firestige.xyz/synguard/internal/config"
	"firestige.xyz/synguard/internal/engine"
)

var (
	replayPcap string
	replayOut  string
	replayJSON bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Classify a pcap offline and summarize the verdicts",
	Long: `Run every frame of a pcap or pcapng file through a fresh admission
engine, using the capture timestamps as the clock, and print a summary of
verdicts, reasons, the busiest SYN sources and the resulting bans.

The engine policy comes from --config; without a config file the defaults
apply. The link type follows the capture file.

Examples:
  synguard replay --pcap flood.pcap
  synguard replay --pcap flood.pcap --out synacks.pcap --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadReplayConfig(configFile, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		return runReplay(cmd.Context(), cfg, replayPcap, replayOut, replayJSON, cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayPcap, "pcap", "", "capture file to replay (required)")
	replayCmd.Flags().StringVar(&replayOut, "out", "", "write the SYN-ACK cookie answers to this pcap")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the summary as JSON")
	replayCmd.MarkFlagRequired("pcap")
}

// loadReplayConfig loads path, falling back to the defaults when the
// default config file is absent.
func loadReplayConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runReplay(ctx context.Context, cfg *config.Config, pcapPath, outPath string, asJSON bool, out io.Writer) error {
	src, err := capture.OpenPcap(pcapPath)
	if err != nil {
		return err
	}
	defer src.Close()

	link, err := capture.DecoderLink(src.LinkType())
	if err != nil {
		return err
	}
	cfg.Engine.LinkType = link.String()

	e, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	var inj capture.Injector
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outPath, err)
		}
		defer f.Close()
		w, err := capture.NewPcapWriter(f, src.LinkType(), 65535)
		if err != nil {
			return err
		}
		inj = w
	}

	sum, err := e.Replay(ctx, src, inj)
	if err != nil {
		return fmt.Errorf("replay %s: %w", pcapPath, err)
	}

	if asJSON {
		return writeJSON(out, sum)
	}
	fmt.Fprintln(out, renderSummary(&sum))
	return nil
}

func renderSummary(sum *engine.Summary) string {
	right := []table.ColumnConfig{{Number: 2, Align: text.AlignRight}, {Number: 3, Align: text.AlignRight}}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Replay")
	t.AppendRows([]table.Row{
		{"frames", sum.Frames},
		{"duration", sum.Duration().String()},
		{"syn total", sum.Counters.SYNTotal},
		{"syn-acks injected", sum.Injected},
		{"bans at end", len(sum.Bans)},
	})
	t.SetColumnConfigs(right)
	summary := t.Render()

	v := table.NewWriter()
	v.SetStyle(table.StyleRounded)
	v.AppendHeader(table.Row{"Verdict", "Frames"})
	for _, k := range sortedKeys(sum.Verdicts) {
		v.AppendRow(table.Row{k, sum.Verdicts[k]})
	}
	v.AppendSeparator()
	v.AppendRow(table.Row{"Reason", ""})
	v.AppendSeparator()
	for _, k := range sortedKeys(sum.Reasons) {
		v.AppendRow(table.Row{k, sum.Reasons[k]})
	}
	v.SetColumnConfigs(right)
	verdicts := v.Render()

	if len(sum.Sources) == 0 {
		return summary + "\n" + verdicts
	}
	s := table.NewWriter()
	s.SetStyle(table.StyleRounded)
	s.AppendHeader(table.Row{"Source", "SYNs", "Dropped"})
	for _, sc := range sum.Sources {
		s.AppendRow(table.Row{sc.Addr, sc.SYNs, sc.Dropped})
	}
	s.SetColumnConfigs(right)
	return summary + "\n" + verdicts + "\n" + s.Render()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
