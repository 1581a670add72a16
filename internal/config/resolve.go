package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults for omitted fields.
const (
	DefaultStorageRoot  = "uploads"
	DefaultHTTPAddr     = "127.0.0.1:21378"
	DefaultDelay        = 30 * time.Second
	DefaultLogCapacity  = 500
	DefaultLogTruncate  = 60
	DefaultRenderWidth  = 80
	DefaultValidateRate = 5
	DefaultMaxUploadMB  = 512
	DefaultPollTimeout  = 10 * time.Second
)

// Resolved is Config with defaults applied and durations parsed. Components
// are built from it, never from the raw strings.
type Resolved struct {
	StorageRoot string

	BaseURL            string
	IdentityTimeout    time.Duration
	TextTimeout        time.Duration
	VideoTimeout       time.Duration
	ValidateRatePerSec int // 0 disables pacing

	DefaultDelay time.Duration
	LogCapacity  int
	LogTruncate  int
	RenderWidth  int

	TelegramEnabled  bool
	TelegramToken    string
	OwnerUserIDs     []int64
	GroupLogChat     int64
	GroupLogThread   int
	NotifyChat       int64
	NotifyThread     int
	TelegramPollTime time.Duration

	HTTPEnabled    bool
	HTTPAddr       string
	HTTPPprof      bool
	HTTPMetrics    bool
	MaxUploadBytes int64

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration
	StorageKeep        int

	Schedules []Schedule
}

type Schedule struct {
	Name     string
	Spec     string
	Action   string
	PostType string
	Delay    time.Duration
	Timezone string
}

// Resolve applies defaults and checks every field. All problems are
// reported together.
func (c *Config) Resolve() (Resolved, error) {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		add(err)
		return d
	}

	r := Resolved{
		StorageRoot: strings.TrimSpace(c.StorageRoot),
		BaseURL:     strings.TrimSpace(c.Graph.BaseURL),
		LogCapacity: c.Dispatch.LogCapacity,
		LogTruncate: c.Dispatch.LogTruncate,
		RenderWidth: c.Dispatch.RenderWidth,
	}
	if r.StorageRoot == "" {
		r.StorageRoot = DefaultStorageRoot
	}
	r.IdentityTimeout = dur("graph.identity_timeout", c.Graph.IdentityTimeout, 10*time.Second)
	r.TextTimeout = dur("graph.text_timeout", c.Graph.TextTimeout, 30*time.Second)
	r.VideoTimeout = dur("graph.video_timeout", c.Graph.VideoTimeout, 180*time.Second)
	switch {
	case c.Graph.ValidateRatePerSec == 0:
		r.ValidateRatePerSec = DefaultValidateRate
	case c.Graph.ValidateRatePerSec > 0:
		r.ValidateRatePerSec = c.Graph.ValidateRatePerSec
	}
	if r.BaseURL != "" && !strings.HasPrefix(r.BaseURL, "http://") && !strings.HasPrefix(r.BaseURL, "https://") {
		add(fmt.Errorf("graph.base_url: must be an http(s) URL"))
	}

	r.DefaultDelay = dur("dispatch.default_delay", c.Dispatch.DefaultDelay, DefaultDelay)
	if r.LogCapacity <= 0 {
		r.LogCapacity = DefaultLogCapacity
	}
	if r.LogCapacity < DefaultLogCapacity {
		add(fmt.Errorf("dispatch.log_capacity: must be >= %d", DefaultLogCapacity))
	}
	if r.LogTruncate <= 0 {
		r.LogTruncate = DefaultLogTruncate
	}
	if r.RenderWidth <= 0 {
		r.RenderWidth = DefaultRenderWidth
	}

	if tg := c.Telegram; tg != nil && tg.Enabled {
		r.TelegramEnabled = true
		r.TelegramToken = strings.TrimSpace(tg.Token)
		r.OwnerUserIDs = append([]int64(nil), tg.OwnerUserIDs...)
		if r.TelegramToken == "" {
			add(errors.New("telegram.token: required when telegram.enabled"))
		}
		if len(r.OwnerUserIDs) == 0 {
			add(errors.New("telegram.owner_user_ids: at least one owner is required"))
		}
		var err error
		r.GroupLogChat, r.GroupLogThread, err = ParseChatTarget("telegram.group_log", tg.GroupLog)
		add(err)
		r.NotifyChat, r.NotifyThread, err = ParseChatTarget("telegram.notify_chat", tg.NotifyChat)
		add(err)
		r.TelegramPollTime = dur("telegram.poll_timeout", tg.PollTimeout, DefaultPollTimeout)
	}
	if c.Logging.Telegram.Enabled && !r.TelegramEnabled {
		add(errors.New("logging.telegram.enabled: requires telegram.enabled"))
	}

	r.HTTPEnabled = c.HTTP.Enabled
	r.HTTPAddr = strings.TrimSpace(c.HTTP.Addr)
	if r.HTTPAddr == "" {
		r.HTTPAddr = DefaultHTTPAddr
	}
	r.HTTPPprof = c.HTTP.Pprof
	r.HTTPMetrics = c.HTTP.Metrics == nil || *c.HTTP.Metrics
	mb := c.HTTP.MaxUploadMB
	if mb <= 0 {
		mb = DefaultMaxUploadMB
	}
	r.MaxUploadBytes = int64(mb) << 20

	if st := c.Storage; st != nil {
		r.StorageDriver = strings.ToLower(strings.TrimSpace(st.Driver))
		r.StoragePath = strings.TrimSpace(st.Path)
		r.StorageBusyTimeout = dur("storage.busy_timeout", st.BusyTimeout, 0)
		r.StorageKeep = st.Keep
		switch r.StorageDriver {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if r.StoragePath == "" {
				add(errors.New("storage.path: required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
	}

	seen := map[string]bool{}
	for i, s := range c.Schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = fmt.Sprintf("schedule-%d", i+1)
		}
		if seen[name] {
			add(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		if strings.TrimSpace(s.Spec) == "" {
			add(fmt.Errorf("%s.spec: required", path))
		}
		action := strings.ToLower(strings.TrimSpace(s.Action))
		switch action {
		case "start":
			switch strings.ToLower(strings.TrimSpace(s.PostType)) {
			case "text", "photo", "video":
			default:
				add(fmt.Errorf("%s.post_type: want text, photo or video", path))
			}
		case "stop":
		default:
			add(fmt.Errorf("%s.action: want start or stop", path))
		}
		r.Schedules = append(r.Schedules, Schedule{
			Name:     name,
			Spec:     strings.TrimSpace(s.Spec),
			Action:   action,
			PostType: strings.ToLower(strings.TrimSpace(s.PostType)),
			Delay:    dur(path+".delay", s.Delay, r.DefaultDelay),
			Timezone: strings.TrimSpace(s.Timezone),
		})
	}

	if len(errs) > 0 {
		return Resolved{}, errors.Join(errs...)
	}
	return r, nil
}
