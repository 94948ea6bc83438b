package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"tickwork/internal/admin"
	"tickwork/internal/config"
	"tickwork/internal/demo"
	"tickwork/internal/eventbus"
	"tickwork/internal/history"
	"tickwork/internal/metrics"
	rtsup "tickwork/internal/runtime/supervisor"
	"tickwork/internal/task/pool"
	"tickwork/internal/task/scheduler"
	logx "tickwork/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	sd   Notifier

	pool     *pool.Pool
	sched    *scheduler.Scheduler
	store    history.Store
	recorder *history.Recorder
	metrics  *metrics.Collector
	admin    *admin.Service
}

type Option func(*App)

// WithNotifier replaces the systemd notifier (tests use a fake).
func WithNotifier(n Notifier) Option { return func(a *App) { a.sd = n } }

// NewApp loads and validates the config file and builds every component.
// Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{
		cfgm: cfgm,
		cfg:  cfg,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
		reg:  metrics.NewRegistry(),
		sd:   sdNotifier{},
	}
	for _, o := range opts {
		o(a)
	}
	if err := a.build(log); err != nil {
		if a.pool != nil {
			_ = a.pool.Shutdown(context.Background())
		}
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(log logx.Logger) error {
	cfg := a.cfg

	pc, err := mapPoolConfig(cfg)
	if err != nil {
		return err
	}
	// The pool outlives the app supervisor; Stop shuts it down explicitly.
	a.pool = pool.New(context.Background(), pc, pool.WithLogger(log.With(logx.String("comp", "pool"))))

	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.pool,
		scheduler.WithLogger(log),
		scheduler.WithBus(a.bus),
	)

	if hc, enabled, err := mapHistoryConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := history.Open(hc, log.With(logx.String("comp", "history")))
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		a.store = st
		a.recorder = history.NewRecorder(st,
			history.WithLogger(log.With(logx.String("comp", "history"))),
			history.WithRetention(hc.Retention),
		)
		a.log.Info("history enabled", logx.String("driver", hc.Driver), logx.String("path", hc.Path))
	}

	a.metrics, err = metrics.New(a.reg, metrics.Options{})
	if err != nil {
		return err
	}
	if err := metrics.RegisterPool(a.reg, a.pool.Snapshot); err != nil {
		return err
	}

	if cfg.Admin.Enabled {
		ac, err := mapAdminConfig(cfg)
		if err != nil {
			return err
		}
		a.admin = admin.New(ac, admin.Deps{
			Scheduler: a.sched,
			History:   a.store,
			Metrics:   a.reg,
			Runtime:   func() rtsup.Counters { return a.sup.Counters() },
		}, log.With(logx.String("comp", "admin")))
	}

	if cfg.Demo.Enabled {
		tasks := demo.Tasks(demo.Options{
			Cron:       cfg.Demo.CronOrDefault(),
			CronZone:   cfg.Demo.Zone(),
			AsyncSleep: cfg.Demo.AsyncSleepOrDefault(),
		}, log.With(logx.String("comp", "demo")))
		if err := demo.Register(a.sched, tasks); err != nil {
			return fmt.Errorf("demo tasks: %w", err)
		}
	}
	return nil
}

// Scheduler exposes the scheduler so callers can register their own tasks
// before Start.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkLogFile(cfg)
	})

	// Observers subscribe before the first fire so no outcome is missed.
	if a.recorder != nil {
		events, unsub := a.bus.Subscribe(a.historyBuffer())
		a.sup.Go("history.record", func(c context.Context) error {
			defer unsub()
			return a.recorder.Run(c, events)
		})
	}
	{
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("metrics.collect", func(c context.Context) error {
			defer unsub()
			return a.metrics.Run(c, events)
		})
	}
	{
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Debug only; fixed-rate tasks are chatty.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if err := a.registerWatchdog(); err != nil {
		return err
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if a.admin != nil {
		if err := a.admin.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("tasks", len(a.sched.Snapshot().Tasks)),
		logx.String("timezone", a.cfg.Scheduler.Location().String()),
	)
	return nil
}

func (a *App) historyBuffer() int {
	if n := a.cfg.History.Buffer; n > 0 {
		return n
	}
	return 256
}

// applyConfig applies the live sections of a reloaded config. The task set
// and executor sizing are fixed at startup.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Scheduler first so in-flight runs still publish to the observers, then
	// the pool, then everything fed by the bus.
	grace := a.cfg.Scheduler.Grace()
	step("scheduler", grace+2*time.Second, func(c context.Context) error { return a.sched.Stop(c, grace) })
	step("pool", 2*time.Second, a.pool.Shutdown)

	a.sup.Cancel()
	step("admin", 2*time.Second, func(c context.Context) error {
		if a.admin != nil {
			return a.admin.Stop(c)
		}
		return nil
	})
	// Waits for the recorder to drain before the store closes.
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("history", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
