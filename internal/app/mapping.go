package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tickwork/internal/admin"
	"tickwork/internal/config"
	"tickwork/internal/history"
	"tickwork/internal/task/pool"
	"tickwork/internal/task/scheduler"
	logx "tickwork/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPoolConfig(cfg *config.Config) (pool.Config, error) {
	ov, err := pool.ParseOverload(cfg.Pool.Overload)
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{Workers: cfg.Pool.Workers, QueueSize: cfg.Pool.QueueSize, Overload: ov}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Location: cfg.Scheduler.Location(),
		Quantum:  cfg.Scheduler.QuantumOrDefault(),
	}
}

func mapHistoryConfig(cfg *config.Config) (history.Config, bool, error) {
	hc := cfg.History
	if !hc.Enabled {
		return history.Config{}, false, nil
	}
	path := strings.TrimSpace(hc.Path)
	driver := hc.DriverOrDefault()
	if path == "" {
		if driver == "sqlite" {
			return history.Config{}, false, fmt.Errorf("history.path is required when history.driver=sqlite")
		}
		path = "./tickwork-history.jsonl"
	}
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", hc.BusyTimeout, time.Second)
	if err != nil {
		return history.Config{}, false, err
	}
	retention, err := config.ParseDurationOrDefault("history.retention", hc.Retention, 0)
	if err != nil {
		return history.Config{}, false, err
	}
	return history.Config{Driver: driver, Path: path, BusyTimeout: busy, Retention: retention}, true, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	read, err := config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 5*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("admin.write_timeout", ac.WriteTimeout, 35*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Addr:          ac.AddrOrDefault(),
		Token:         ac.Token,
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// checkLogFile rejects a reload whose log file cannot be opened, since logging
// is applied live.
func checkLogFile(cfg *config.Config) error {
	if !cfg.Logging.File.Enabled {
		return nil
	}
	path := strings.TrimSpace(cfg.Logging.File.Path)
	if path == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled is true")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logging.file.path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging.file.path: %w", err)
	}
	return f.Close()
}
