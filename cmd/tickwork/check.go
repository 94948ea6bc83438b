package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tickwork/internal/config"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := config.NewManager(cfgPath)
			cfg, err := m.Parse()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (timezone %s, workers %d, history %v, admin %v, demo %v)\n",
				cfgPath,
				cfg.Scheduler.Location(),
				cfg.Pool.Workers,
				cfg.History.Enabled,
				cfg.Admin.Enabled,
				cfg.Demo.Enabled,
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (json or yaml)")
	return cmd
}
