package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"

	"tickwork/internal/task/trigger"
)

var validate = validator.New()

// Validate checks struct tags first, then the cross-field and format rules tags
// cannot express (durations, zones, cron, admin exposure).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	durations := map[string]string{
		"scheduler.quantum":        cfg.Scheduler.Quantum,
		"scheduler.shutdown_grace": cfg.Scheduler.ShutdownGrace,
		"history.busy_timeout":     cfg.History.BusyTimeout,
		"history.retention":        cfg.History.Retention,
		"admin.read_timeout":       cfg.Admin.ReadTimeout,
		"admin.write_timeout":      cfg.Admin.WriteTimeout,
		"admin.idle_timeout":       cfg.Admin.IdleTimeout,
		"demo.async_sleep":         cfg.Demo.AsyncSleep,
	}
	for _, path := range sortedKeys(durations) {
		if _, err := ParseDurationField(path, durations[path]); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := loadLocation(cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if _, err := loadLocation(cfg.Demo.CronZone); err != nil {
		errs = append(errs, fmt.Errorf("demo.cron_zone: %w", err))
	}
	if cfg.Demo.Enabled {
		if _, err := trigger.ParseCron(cfg.Demo.CronOrDefault()); err != nil {
			errs = append(errs, fmt.Errorf("demo.cron: %w", err))
		}
	}

	if cfg.History.Enabled && cfg.History.DriverOrDefault() == "sqlite" && strings.TrimSpace(cfg.History.Path) == "" {
		errs = append(errs, errors.New("history.path: required for the sqlite driver"))
	}

	if cfg.Admin.Enabled {
		addr := cfg.Admin.AddrOrDefault()
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		} else if !IsLoopbackHost(host) && strings.TrimSpace(cfg.Admin.Token) == "" && !cfg.Admin.AllowInsecure {
			errs = append(errs, fmt.Errorf("admin.addr: %q is not loopback; set admin.token or admin.allow_insecure", addr))
		}
	}

	return errors.Join(errs...)
}

// IsLoopbackHost reports whether host only accepts local connections.
// An empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
