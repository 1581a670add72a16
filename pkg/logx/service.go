package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "multiposter/internal/transport"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile  = "./poster.log"
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
	chatMaxValueLen = 600
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./poster.log
}

// TelegramConfig controls the chat sink. Entries below MinLevel (default
// warn) and entries over RatePerSec (default 1) are dropped.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks. Apply rebuilds them; Loggers obtained from the
// service pick up the new sinks on their next call.
type Service struct {
	active atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	sender kit.Sender
	chat   chatSink

	queue    chan chatMessage
	startOne sync.Once
	stop     context.CancelFunc
	done     sync.WaitGroup
}

// chatSink is the routing state of the Telegram sink, guarded by Service.mu.
type chatSink struct {
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

type chatMessage struct {
	to   kit.ChatTarget
	text string
}

// New builds the service, applies cfg and returns a live root logger.
// sender may be nil and attached later with SetSender.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{sender: sender, queue: make(chan chatMessage, chatQueueSize)}
	s.chat.to.ThreadID = cfg.Telegram.ThreadID
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetSender attaches the transport once it exists, so adapter startup can
// already be logged.
func (s *Service) SetSender(sender kit.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// SetTelegramTarget routes the chat sink. threadID 0 keeps the configured
// thread.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat.to.ChatID = chatID
	if threadID != 0 {
		s.chat.to.ThreadID = threadID
	}
}

// Apply swaps outputs and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chat.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	perSec := max(1, cfg.Telegram.RatePerSec)
	s.chat.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	if cfg.Telegram.ThreadID != 0 {
		s.chat.to.ThreadID = cfg.Telegram.ThreadID
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		s.startOne.Do(s.startChatWorker)
		outs = append(outs, chatWriter{s})
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.active.Store(&zl)
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.stop
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.done.Wait()
	}
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// startChatWorker runs with s.mu held.
func (s *Service) startChatWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-s.queue:
				s.mu.Lock()
				sender := s.sender
				s.mu.Unlock()
				if sender == nil {
					continue
				}
				sctx, scancel := context.WithTimeout(ctx, chatSendTimeout)
				_, _ = sender.SendText(sctx, m.to, m.text, &kit.SendOptions{DisablePreview: true})
				scancel()
			}
		}
	}()
}

// chatWriter is the zerolog sink for the Telegram target. It never blocks:
// entries are dropped when unrouted, rate limited or the queue is full.
type chatWriter struct{ s *Service }

func (w chatWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.InfoLevel, p) }

func (w chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.s.mu.Lock()
	sink := w.s.chat
	w.s.mu.Unlock()

	if sink.to.ChatID == 0 || level < sink.minLevel || sink.limiter == nil || !sink.limiter.Allow() {
		return len(p), nil
	}
	if text := chatText(p); text != "" {
		select {
		case w.s.queue <- chatMessage{to: sink.to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// chatText turns one JSON log line into "[LEVEL] message" followed by one
// "- key=value" line per remaining field, sorted by key.
func chatText(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var entry map[string]any
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return clip(raw, chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := entry[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := entry[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(entry, zerolog.TimestampFieldName)
	delete(entry, zerolog.LevelFieldName)
	delete(entry, zerolog.MessageFieldName)
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(entry[k]), chatMaxValueLen))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
