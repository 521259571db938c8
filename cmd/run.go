package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/synguard/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"daemon"},
	Short:   "Run the synguard daemon in foreground",
	Long: `Run the synguard daemon process in foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and metrics
  3. Start the UDS server for CLI control
  4. Open the capture queues and classify every frame
  5. Sweep expired bans and rotate the cookie secret periodically
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	// --socket only overrides control.socket when given explicitly
	socket := ""
	if rootCmd.PersistentFlags().Changed("socket") {
		socket = socketPath
	}

	d, err := daemon.New(configFile, socket)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
