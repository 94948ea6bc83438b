package config

import (
	"sort"

	logx "tickwork/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs, plus
// safe fields for logging (tokens are never included).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.Pool != newCfg.Pool {
		changed = append(changed, "pool")
		attrs = append(attrs, logx.Int("pool.workers", newCfg.Pool.Workers), logx.Int("pool.queue_size", newCfg.Pool.QueueSize))
	}
	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs, logx.String("history.driver", newCfg.History.DriverOrDefault()))
	}
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.AddrOrDefault()),
			logx.Bool("admin.token_set", newCfg.Admin.Token != ""),
		)
	}
	if oldCfg.Demo != newCfg.Demo {
		changed = append(changed, "demo")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	return changed, attrs
}

// RestartRequired filters sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
