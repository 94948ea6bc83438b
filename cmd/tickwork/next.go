package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tickwork/internal/task/trigger"
)

func newNextCmd() *cobra.Command {
	var (
		count  int
		zone   string
		runFor time.Duration
		from   string
	)
	cmd := &cobra.Command{
		Use:   "next <schedule>",
		Short: "Print the upcoming fire instants of a schedule",
		Long: `Print the upcoming fire instants of a schedule.

Schedules: "rate:5s", "rate:1s+3s", "delay:1s+1s", "every:10m", "55m", "02:30",
"cron:0 15 10 15 * ?" or a bare cron expression.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := time.Local
			if z := strings.TrimSpace(zone); z != "" {
				l, err := time.LoadLocation(z)
				if err != nil {
					return fmt.Errorf("--zone: %w", err)
				}
				loc = l
			}
			start := time.Now().In(loc)
			if f := strings.TrimSpace(from); f != "" {
				t, err := time.Parse(time.RFC3339, f)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = t.In(loc)
			}

			p, err := trigger.Parse(args[0], loc)
			if err != nil {
				return err
			}
			trig, err := trigger.Compile(p, loc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schedule: %s\n", p)
			fires := trig.Preview(start, count, runFor)
			if len(fires) == 0 {
				fmt.Fprintln(out, "no upcoming fires")
				return nil
			}
			for i, at := range fires {
				fmt.Fprintf(out, "%2d  %s  (+%s)\n", i+1, at.In(loc).Format(time.RFC3339), at.Sub(start).Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of instants to print")
	cmd.Flags().StringVar(&zone, "zone", "", "IANA zone for cron schedules and output (default local)")
	cmd.Flags().DurationVar(&runFor, "run-for", 0, "assumed run duration (affects fixed-delay and overrunning fixed-rate)")
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start instant (default now)")
	return cmd
}
