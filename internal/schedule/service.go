// Package schedule starts and stops runs on cron or interval timetables.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"multiposter/internal/content"
	logx "multiposter/pkg/logx"
)

type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Controller is what a schedule drives. *dispatch.Dispatcher satisfies it.
type Controller interface {
	Start(ctx context.Context, kind content.Kind, delay time.Duration) error
	Stop()
}

// Def is one schedule entry.
type Def struct {
	Name     string
	Spec     string
	Action   Action
	Kind     content.Kind // start only
	Delay    time.Duration
	Timezone string // IANA name; empty means Local
}

type Entry struct {
	Name   string    `json:"name"`
	Spec   string    `json:"spec"`
	Action Action    `json:"action"`
	Next   time.Time `json:"next,omitempty"`
	Prev   time.Time `json:"prev,omitempty"`
	Fires  uint64    `json:"fires"`
	Err    string    `json:"last_err,omitempty"`
}

type scheduleDef struct {
	Def
	sched   cron.Schedule
	entryID cron.EntryID
	fires   uint64
	lastErr string
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	ctrl   Controller
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	defs   []*scheduleDef

	// StartTimeout bounds validation and queue building for scheduled starts.
	StartTimeout time.Duration
}

func New(ctrl Controller, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:  log,
		ctrl: ctrl,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:       cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		StartTimeout: 5 * time.Minute,
	}
}

// Compile checks a definition without registering it.
func (s *Service) Compile(d Def) (cron.Schedule, error) {
	switch d.Action {
	case ActionStart:
		if _, err := content.ParseKind(string(d.Kind)); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", d.Name, err)
		}
	case ActionStop:
	default:
		return nil, fmt.Errorf("schedule %q: unknown action %q", d.Name, d.Action)
	}

	p, err := ParseSchedule(d.Spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", d.Name, err)
	}
	if p.Kind == SpecInterval {
		return cron.Every(p.Every), nil
	}

	spec := p.Cron
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("schedule %q: timezone %q: %w", d.Name, tz, err)
		}
		spec = "CRON_TZ=" + tz + " " + spec
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", d.Name, err)
	}
	return sched, nil
}

// Apply replaces every definition. Nothing changes if any definition fails
// to compile.
func (s *Service) Apply(defs []Def) error {
	next := make([]*scheduleDef, 0, len(defs))
	var errs []error
	for _, d := range defs {
		sched, err := s.Compile(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next = append(next, &scheduleDef{Def: d, sched: sched})
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, d := range s.defs {
			s.c.Remove(d.entryID)
		}
		for _, d := range next {
			s.addLocked(d)
		}
	}
	s.defs = next
	s.log.Info("schedules applied", logx.Int("schedules", len(next)))
	return nil
}

// Start begins triggering. ctx is the parent for scheduled starts.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser))
	for _, d := range s.defs {
		s.addLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("schedules", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.Name, Spec: d.Spec, Action: d.Action, Fires: d.fires, Err: d.lastErr}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	return out
}

func (s *Service) addLocked(d *scheduleDef) {
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() { s.fire(d) }))
	s.log.Debug("schedule added", logx.String("name", d.Name), logx.String("spec", d.Spec), logx.String("action", string(d.Action)))
}

func (s *Service) fire(d *scheduleDef) {
	s.mu.Lock()
	ctx := s.ctx
	d.fires++
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	log := s.log.With(logx.String("schedule", d.Name), logx.String("action", string(d.Action)))
	var err error
	switch d.Action {
	case ActionStop:
		s.ctrl.Stop()
	case ActionStart:
		sctx, cancel := context.WithTimeout(ctx, s.StartTimeout)
		err = s.ctrl.Start(sctx, d.Kind, d.Delay)
		cancel()
	}

	s.mu.Lock()
	if err != nil {
		d.lastErr = err.Error()
	} else {
		d.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		log.Warn("scheduled action failed", logx.Err(err))
		return
	}
	log.Info("scheduled action fired")
}
