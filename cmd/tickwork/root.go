package main

import (
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tickwork",
		Short: "Periodic task scheduler",
		Long: `tickwork runs periodic tasks on fixed-rate, fixed-delay and cron schedules.

Examples:
  # Run with a config file
  tickwork run --config ./config.yaml

  # Show the next fire instants of a schedule
  tickwork next "0 15 10 15 * ?" -n 3 --zone Europe/Paris
  tickwork next rate:5s+1s -n 5 --run-for 7s

  # Validate a config file
  tickwork check --config ./config.yaml`,
		Version:       Version + " (" + GitCommit + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd(), newNextCmd(), newCheckCmd())
	return root
}
