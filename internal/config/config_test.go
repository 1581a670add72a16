package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
storage_root: ./data/uploads
graph:
  base_url: http://127.0.0.1:9999
  text_timeout: 5s
dispatch:
  default_delay: 45s
logging:
  level: debug
  console: true
telegram:
  enabled: true
  token: "123:abc"
  owner_user_ids: [42]
  group_log: "-1001:7"
  notify_chat: "-1002"
http:
  enabled: true
storage:
  driver: sqlite
  path: ./data/poster.db
  busy_timeout: 2s
schedules:
  - name: morning
    spec: "30 7 * * *"
    action: start
    post_type: text
    delay: 1m
  - spec: "@every 4h"
    action: stop
`

func TestDecodeYAMLAndResolve(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("poster.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	r, err := cfg.Resolve()
	require.NoError(t, err)
	require.Equal(t, "./data/uploads", r.StorageRoot)
	require.Equal(t, 5*time.Second, r.TextTimeout)
	require.Equal(t, 10*time.Second, r.IdentityTimeout)
	require.Equal(t, 180*time.Second, r.VideoTimeout)
	require.Equal(t, 45*time.Second, r.DefaultDelay)
	require.Equal(t, DefaultValidateRate, r.ValidateRatePerSec)
	require.Equal(t, int64(-1001), r.GroupLogChat)
	require.Equal(t, 7, r.GroupLogThread)
	require.Equal(t, int64(-1002), r.NotifyChat)
	require.Equal(t, DefaultHTTPAddr, r.HTTPAddr)
	require.True(t, r.HTTPMetrics)
	require.Equal(t, int64(DefaultMaxUploadMB)<<20, r.MaxUploadBytes)
	require.Equal(t, 2*time.Second, r.StorageBusyTimeout)

	require.Len(t, r.Schedules, 2)
	require.Equal(t, time.Minute, r.Schedules[0].Delay)
	require.Equal(t, "schedule-2", r.Schedules[1].Name)
	require.Equal(t, 45*time.Second, r.Schedules[1].Delay)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"graph":{"base_url":"http://x"},"bogus":1}`))
	require.ErrorContains(t, err, "bogus")

	_, err = Decode("c.yml", []byte("dispatch:\n  delay_typo: 3s\n"))
	require.ErrorContains(t, err, "delay_typo")

	_, err = Decode("c.json", []byte(`{} {}`))
	require.ErrorContains(t, err, "trailing")
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	r, err := (&Config{}).Resolve()
	require.NoError(t, err)
	require.Equal(t, DefaultStorageRoot, r.StorageRoot)
	require.Equal(t, DefaultDelay, r.DefaultDelay)
	require.Equal(t, DefaultLogCapacity, r.LogCapacity)
	require.Equal(t, DefaultLogTruncate, r.LogTruncate)
	require.Equal(t, DefaultRenderWidth, r.RenderWidth)
	require.False(t, r.TelegramEnabled)
	require.Empty(t, r.StorageDriver)
}

func TestResolveCollectsErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Graph:    GraphConfig{BaseURL: "ftp://x", TextTimeout: "soon"},
		Dispatch: DispatchConfig{LogCapacity: 10},
		Telegram: &TelegramConfig{Enabled: true, GroupLog: "abc"},
		Storage:  &StorageConfig{Driver: "mongo"},
		Schedules: []ScheduleConfig{
			{Name: "a", Spec: "@daily", Action: "start", PostType: "audio"},
			{Name: "a", Action: "pause"},
		},
	}
	_, err := cfg.Resolve()
	require.Error(t, err)
	for _, want := range []string{
		"graph.base_url", "graph.text_timeout", "dispatch.log_capacity",
		"telegram.token", "telegram.owner_user_ids", "telegram.group_log",
		"storage.driver", "schedules[0].post_type", "schedules[1].name",
		"schedules[1].spec", "schedules[1].action",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestParseChatTarget(t *testing.T) {
	t.Parallel()

	c, th, err := ParseChatTarget("x", "-100123:45")
	require.NoError(t, err)
	require.Equal(t, int64(-100123), c)
	require.Equal(t, 45, th)

	c, th, err = ParseChatTarget("x", "")
	require.NoError(t, err)
	require.Zero(t, c)
	require.Zero(t, th)

	_, _, err = ParseChatTarget("x", "0")
	require.Error(t, err)
}

func TestManagerReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "poster.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o644))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, published)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)
	require.Equal(t, "debug", (<-sub).Logging.Level)
	require.Equal(t, "debug", m.Get().Logging.Level)

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		_, err := cfg.Resolve()
		return err
	})
	require.NoError(t, os.WriteFile(path, []byte(`{"dispatch":{"default_delay":"nope"}}`), 0o644))
	_, err = m.Reload(context.Background())
	require.ErrorContains(t, err, "config rejected")
	require.Equal(t, "debug", m.Get().Logging.Level)
}

func TestManagerWatchPublishes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "poster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644)
		select {
		case cfg := <-sub:
			return cfg.Logging.Level == "warn"
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{Telegram: &TelegramConfig{Token: "secret"}}
	cur := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Telegram:  &TelegramConfig{Token: "other-secret"},
		Schedules: []ScheduleConfig{{Name: "a"}},
	}
	changed, attrs := SummarizeConfigChange(old, cur)
	require.Equal(t, []string{"logging", "telegram", "schedules"}, changed)
	require.NotEmpty(t, attrs)
	require.Equal(t, []string{"telegram"}, RestartRequired(changed))
}
