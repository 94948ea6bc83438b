package config

import (
	"strings"
	"time"
)

// Config is the whole tickwork configuration file (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m"). Omitted fields
// take the defaults documented on each section.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pool      PoolConfig      `json:"pool"`
	History   HistoryConfig   `json:"history"`
	Admin     AdminConfig     `json:"admin"`
	Demo      DemoConfig      `json:"demo"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format  string      `json:"format,omitempty" validate:"omitempty,oneof=console json"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig.
//
// Defaults:
//   - timezone: local zone of the host
//   - quantum: "1ms"
//   - shutdown_grace: "10s"
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	Quantum       string `json:"quantum,omitempty"`
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
}

func (s SchedulerConfig) Location() *time.Location {
	loc, err := loadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (s SchedulerConfig) QuantumOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("scheduler.quantum", s.Quantum, time.Millisecond)
	return d
}

func (s SchedulerConfig) Grace() time.Duration {
	d, _ := ParseDurationOrDefault("scheduler.shutdown_grace", s.ShutdownGrace, 10*time.Second)
	return d
}

// PoolConfig sizes the executor used by concurrent tasks.
//
// Defaults: workers 4, queue_size 64, overload "caller_runs".
type PoolConfig struct {
	Workers   int    `json:"workers,omitempty" validate:"gte=0,lte=1024"`
	QueueSize int    `json:"queue_size,omitempty" validate:"gte=0,lte=65536"`
	Overload  string `json:"overload,omitempty" validate:"omitempty,oneof=caller_runs reject"`
}

// HistoryConfig controls the run history store.
//
// Example:
//
//	"history": { "enabled": true, "driver": "sqlite", "path": "./tickwork.db", "retention": "168h" }
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retention   string `json:"retention,omitempty"`    // "0s" keeps everything
	Buffer      int    `json:"buffer,omitempty" validate:"gte=0"`
}

func (h HistoryConfig) DriverOrDefault() string {
	d := strings.ToLower(strings.TrimSpace(h.Driver))
	if d == "" {
		return "file"
	}
	return d
}

// AdminConfig controls the admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

func (a AdminConfig) AddrOrDefault() string {
	if s := strings.TrimSpace(a.Addr); s != "" {
		return s
	}
	return "127.0.0.1:8089"
}

// DemoConfig registers the demonstration tasks.
//
// Defaults: cron "0 15 10 15 * ?", cron_zone = scheduler timezone, async_sleep "2s".
type DemoConfig struct {
	Enabled    bool   `json:"enabled"`
	Cron       string `json:"cron,omitempty"`
	CronZone   string `json:"cron_zone,omitempty"`
	AsyncSleep string `json:"async_sleep,omitempty"`
}

func (d DemoConfig) CronOrDefault() string {
	if s := strings.TrimSpace(d.Cron); s != "" {
		return s
	}
	return "0 15 10 15 * ?"
}

// Zone returns the cron zone, or nil to use the scheduler default.
func (d DemoConfig) Zone() *time.Location {
	if strings.TrimSpace(d.CronZone) == "" {
		return nil
	}
	loc, err := loadLocation(d.CronZone)
	if err != nil {
		return nil
	}
	return loc
}

func (d DemoConfig) AsyncSleepOrDefault() time.Duration {
	v, _ := ParseDurationOrDefault("demo.async_sleep", d.AsyncSleep, 2*time.Second)
	return v
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
	// Watchdog pings WATCHDOG=1 from a serialized task when WatchdogSec is set.
	Watchdog bool `json:"watchdog"`
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
