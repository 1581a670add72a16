// Package activity keeps the bounded, user-visible run log.
//
// Entries are kept newest first. When the buffer is full the oldest entry is
// evicted. Every entry is mirrored to the structured logger.
package activity

import (
	"fmt"
	"sync"
	"time"

	logx "multiposter/pkg/logx"
)

// MinCapacity is the smallest buffer a Log will keep.
const MinCapacity = 500

const timeLayout = "2006-01-02 15:04:05"

type Entry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// String renders the entry the way operators read it: "[2006-01-02 15:04:05] msg".
func (e Entry) String() string {
	return "[" + e.At.Format(timeLayout) + "] " + e.Message
}

// Recorder is the write side used by the dispatcher and its collaborators.
type Recorder interface {
	Add(msg string)
}

// Log is a fixed-size ring buffer of entries. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	buf  []Entry
	head int // index of the next write
	n    int

	now func() time.Time
	log logx.Logger
}

type Option func(*Log)

func WithLogger(log logx.Logger) Option {
	return func(l *Log) { l.log = log }
}

// WithClock overrides time.Now. Tests only.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a log holding at most capacity entries (raised to MinCapacity).
func New(capacity int, opts ...Option) *Log {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	l := &Log{
		buf: make([]Entry, capacity),
		now: time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	return l
}

func (l *Log) Add(msg string) {
	e := Entry{At: l.now(), Message: msg}

	l.mu.Lock()
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
	if l.n < len(l.buf) {
		l.n++
	}
	l.mu.Unlock()

	l.log.Info(msg)
}

// Addf is Add with fmt.Sprintf formatting.
func (l *Log) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...))
}

// Recent returns up to n entries, newest first. n <= 0 returns everything.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.n {
		n = l.n
	}
	out := make([]Entry, 0, n)
	idx := l.head
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Lines is Recent rendered with Entry.String.
func (l *Log) Lines(n int) []string {
	es := l.Recent(n)
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.String()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func (l *Log) Cap() int { return len(l.buf) }
