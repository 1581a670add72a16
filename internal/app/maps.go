package app

import (
	"multiposter/internal/config"
	"multiposter/internal/content"
	"multiposter/internal/schedule"
	logx "multiposter/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapSchedules(res config.Resolved) []schedule.Def {
	defs := make([]schedule.Def, 0, len(res.Schedules))
	for _, s := range res.Schedules {
		defs = append(defs, schedule.Def{
			Name:     s.Name,
			Spec:     s.Spec,
			Action:   schedule.Action(s.Action),
			Kind:     content.Kind(s.PostType),
			Delay:    s.Delay,
			Timezone: s.Timezone,
		})
	}
	return defs
}
