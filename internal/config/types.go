package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown keys are rejected.
type Config struct {
	// StorageRoot holds the list files and uploaded media. Default "uploads".
	StorageRoot string `json:"storage_root"`

	Graph     GraphConfig      `json:"graph"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Logging   LoggingConfig    `json:"logging"`
	Telegram  *TelegramConfig  `json:"telegram,omitempty"`
	HTTP      HTTPConfig       `json:"http"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

// GraphConfig configures the publishing endpoint client.
//
// Defaults:
//   - base_url: "https://graph.facebook.com"
//   - identity_timeout: "10s", text_timeout: "30s", video_timeout: "180s"
//   - validate_rate_per_sec: 5 (use a negative value to disable pacing)
type GraphConfig struct {
	BaseURL            string `json:"base_url,omitempty"`
	IdentityTimeout    string `json:"identity_timeout,omitempty"`
	TextTimeout        string `json:"text_timeout,omitempty"`
	VideoTimeout       string `json:"video_timeout,omitempty"`
	ValidateRatePerSec int    `json:"validate_rate_per_sec,omitempty"`
}

// DispatchConfig controls the posting loop.
//
// Defaults: default_delay "30s", log_capacity 500, log_truncate 60,
// render_width 80.
type DispatchConfig struct {
	DefaultDelay string `json:"default_delay,omitempty"`
	LogCapacity  int    `json:"log_capacity,omitempty"`
	LogTruncate  int    `json:"log_truncate,omitempty"`
	RenderWidth  int    `json:"render_width,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog receives the log sink, as "chat_id" or "chat_id:thread_id".
	GroupLog string `json:"group_log,omitempty"`
	// NotifyChat receives run start/stop notices, same format as GroupLog.
	NotifyChat  string `json:"notify_chat,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the control/status API.
//
// Security note: the API has no authentication. Prefer binding to localhost
// (the default "127.0.0.1:21378") or put it behind a reverse proxy.
type HTTPConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr,omitempty"`
	Pprof       bool   `json:"pprof,omitempty"`
	MaxUploadMB int    `json:"max_upload_mb,omitempty"`
	Metrics     *bool  `json:"metrics,omitempty"` // default true
}

// StorageConfig controls the optional publish audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/poster.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Keep        int    `json:"keep,omitempty"`
}

// ScheduleConfig starts or stops runs on a timetable.
//
// Spec forms:
//   - cron: "30 7 * * *", "@daily", "@every 4h"
//   - interval: "55m", "2h30m", or HH:MM like "02:30"
//
// Prefixes "cron:" and "every:" force a form.
type ScheduleConfig struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Action   string `json:"action"` // "start" or "stop"
	PostType string `json:"post_type,omitempty"`
	Delay    string `json:"delay,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
