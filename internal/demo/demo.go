// Package demo holds the five demonstration tasks: fixed rate, fixed delay,
// concurrent fixed rate, fixed delay with an initial delay, and cron.
package demo

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"tickwork/internal/task/scheduler"
	"tickwork/internal/task/trigger"
	logx "tickwork/pkg/logx"
)

const stampLayout = "15:04:05"

// Options tunes the demo set.
type Options struct {
	// Cron defaults to "0 15 10 15 * ?" (10:15 on the 15th of every month).
	Cron string
	// CronZone nil means the scheduler's default zone.
	CronZone *time.Location
	// AsyncSleep is how long each fixed-rate-async run holds its worker.
	AsyncSleep time.Duration
	Clock      clockwork.Clock
}

type Task struct {
	Name   string
	Policy trigger.Policy
	Mode   scheduler.Mode
	Action scheduler.Action
}

// Registrar is satisfied by *scheduler.Scheduler.
type Registrar interface {
	Register(name string, action scheduler.Action, policy trigger.Policy, mode scheduler.Mode) error
}

func Tasks(opts Options, log logx.Logger) []Task {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Cron == "" {
		opts.Cron = "0 15 10 15 * ?"
	}
	if opts.AsyncSleep <= 0 {
		opts.AsyncSleep = 2 * time.Second
	}
	clk := opts.Clock

	say := func(name, msg string) scheduler.Action {
		l := log.With(logx.String("task", name))
		return func(ctx context.Context) error {
			l.Info(msg, logx.String("at", clk.Now().Format(stampLayout)))
			return nil
		}
	}

	return []Task{
		{
			Name:   "fixed-rate",
			Policy: trigger.FixedRate{Period: 5 * time.Second},
			Mode:   scheduler.Serialized,
			Action: say("fixed-rate", "fixed rate task"),
		},
		{
			Name:   "fixed-delay",
			Policy: trigger.FixedDelay{Delay: time.Second},
			Mode:   scheduler.Serialized,
			Action: say("fixed-delay", "fixed delay task"),
		},
		{
			Name:   "fixed-rate-async",
			Policy: trigger.FixedRate{Period: time.Second},
			Mode:   scheduler.Concurrent,
			Action: sleeper(log.With(logx.String("task", "fixed-rate-async")), clk, opts.AsyncSleep),
		},
		{
			Name:   "fixed-delay-initial",
			Policy: trigger.FixedDelay{Delay: time.Second, InitialDelay: time.Second},
			Mode:   scheduler.Serialized,
			Action: say("fixed-delay-initial", "fixed delay task with one second initial delay"),
		},
		{
			Name:   "cron",
			Policy: trigger.Cron{Expr: opts.Cron, Location: opts.CronZone},
			Mode:   scheduler.Serialized,
			Action: say("cron", "scheduled task using cron expression"),
		},
	}
}

// sleeper logs, then holds its worker for d or until ctx ends.
func sleeper(log logx.Logger, clk clockwork.Clock, d time.Duration) scheduler.Action {
	return func(ctx context.Context) error {
		log.Info("fixed rate task async", logx.String("at", clk.Now().Format(stampLayout)))
		t := clk.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			return nil
		}
	}
}

// Register adds every task to r, stopping at the first error.
func Register(r Registrar, tasks []Task) error {
	for _, t := range tasks {
		if err := r.Register(t.Name, t.Action, t.Policy, t.Mode); err != nil {
			return err
		}
	}
	return nil
}
