package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/synguard/internal/config"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the daemon.

Examples:
  synguard validate -c /etc/synguard/config.yml
  synguard validate -c config.yml --dump     # print the effective config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout(), validateDump)
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false,
		"print the effective configuration, defaults included")
}

func runValidate(path string, out io.Writer, dump bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	if dump {
		data, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintf(out, "VALID: mode %s, %d SYN / %s, ban %s, capture %s\n",
		cfg.Engine.Mode,
		cfg.Engine.Threshold,
		cfg.Engine.TimeWindow,
		cfg.Engine.BanDuration,
		cfg.Capture.Source,
	)
	return nil
}
