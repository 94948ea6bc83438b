package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickwork/internal/task/scheduler"
	"tickwork/internal/task/trigger"
	logx "tickwork/pkg/logx"
)

const watchdogTask = "systemd.watchdog"

// Notifier talks to the service manager. Both methods are no-ops outside
// systemd (NOTIFY_SOCKET unset).
type Notifier interface {
	Notify(state string) (bool, error)
	WatchdogInterval() (time.Duration, error)
}

type sdNotifier struct{}

func (sdNotifier) Notify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (sdNotifier) WatchdogInterval() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) }

func (a *App) notify(state string) {
	if !a.cfg.Systemd.Notify || a.sd == nil {
		return
	}
	sent, err := a.sd.Notify(state)
	switch {
	case err != nil:
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		a.log.Debug("sd_notify skipped (not under systemd)", logx.String("state", state))
	}
}

// registerWatchdog pings WATCHDOG=1 from a serialized task at half the
// interval systemd expects. A stuck dispatch loop therefore stops the pings.
func (a *App) registerWatchdog() error {
	if !a.cfg.Systemd.Watchdog || a.sd == nil {
		return nil
	}
	every, err := a.sd.WatchdogInterval()
	if err != nil {
		a.log.Warn("watchdog lookup failed", logx.Err(err))
		return nil
	}
	if every <= 0 {
		a.log.Debug("watchdog not enabled for this unit")
		return nil
	}
	period := every / 2
	if period <= 0 {
		period = every
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every), logx.Duration("ping", period))
	return a.sched.Register(watchdogTask, func(ctx context.Context) error {
		_, err := a.sd.Notify(daemon.SdNotifyWatchdog)
		return err
	}, trigger.FixedRate{Period: period}, scheduler.Serialized)
}
