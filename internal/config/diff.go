package config

import (
	"reflect"

	logx "multiposter/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe attrs for
// logging. Secrets (telegram token) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.StorageRoot != newCfg.StorageRoot {
		changed = append(changed, "storage_root")
		attrs = append(attrs, logx.String("storage_root", newCfg.StorageRoot))
	}
	if oldCfg.Graph != newCfg.Graph {
		changed = append(changed, "graph")
		attrs = append(attrs,
			logx.String("graph.base_url", newCfg.Graph.BaseURL),
			logx.Int("graph.validate_rate_per_sec", newCfg.Graph.ValidateRatePerSec),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.String("dispatch.default_delay", newCfg.Dispatch.DefaultDelay))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		if tg := newCfg.Telegram; tg != nil {
			attrs = append(attrs,
				logx.Bool("telegram.enabled", tg.Enabled),
				logx.Bool("telegram.token_set", tg.Token != ""),
				logx.Int("telegram.owner_count", len(tg.OwnerUserIDs)),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}
	return changed, attrs
}

// RestartRequired lists changed sections that hot reload does not apply.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "schedules":
		default:
			out = append(out, s)
		}
	}
	return out
}
