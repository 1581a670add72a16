package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseChatTarget parses "chat_id" or "chat_id:thread_id". Empty is (0, 0).
func ParseChatTarget(path, raw string) (chatID int64, threadID int, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, nil
	}
	head, tail, hasThread := strings.Cut(s, ":")
	if _, err := fmt.Sscan(head, &chatID); err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("%s: invalid chat id %q", path, raw)
	}
	if hasThread {
		if _, err := fmt.Sscan(tail, &threadID); err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("%s: invalid thread id %q", path, raw)
		}
	}
	return chatID, threadID, nil
}
