// Package dispatch runs the posting loop.
//
// A run validates the credential list, builds the content queue once and then
// cycles through it, one item per delay, rotating credentials round robin.
// Item failures are logged and skipped. Stop is cooperative: it is observed
// before the next item, so it can take up to one delay to take effect.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"multiposter/internal/activity"
	"multiposter/internal/content"
	"multiposter/internal/credential"
	"multiposter/internal/eventbus"
	"multiposter/internal/graph"
	"multiposter/internal/runtime/supervisor"
	logx "multiposter/pkg/logx"
)

const DefaultTruncate = 60

type Deps struct {
	Tokens    TokenList
	Validator Validator
	Queue     QueueLoader
	Publisher Publisher
	Activity  activity.Recorder
}

type Dispatcher struct {
	deps Deps

	sup       *supervisor.Supervisor
	bus       eventbus.Bus
	observers []Observer
	log       logx.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	truncate  int

	mu    sync.Mutex
	state State
	cur   *run
	last  Snapshot
}

type run struct {
	id        string
	kind      content.Kind
	delay     time.Duration
	queue     content.Queue
	pool      *credential.Pool
	startedAt time.Time
	done      chan struct{}

	passes uint64
	posted uint64
	failed uint64
}

type Option func(*Dispatcher)

// WithSupervisor hosts the loop goroutine. The supervisor context is the
// owning context: cancelling it interrupts the inter-item delay.
func WithSupervisor(s *supervisor.Supervisor) Option {
	return func(d *Dispatcher) { d.sup = s }
}

func WithBus(b eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = b }
}

func WithObserver(o ...Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o...) }
}

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithSleep replaces the inter-item wait. Tests only.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// WithTruncate sets how many runes of a text body appear in log lines.
func WithTruncate(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.truncate = n
		}
	}
}

func New(deps Deps, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		deps:     deps,
		sleep:    sleepCtx,
		now:      time.Now,
		truncate: DefaultTruncate,
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.sup == nil {
		d.sup = supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(d.log))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start validates credentials, builds the queue for kind and launches the
// loop. ctx bounds the validation and queue building only; the loop itself is
// owned by the supervisor.
func (d *Dispatcher) Start(ctx context.Context, kind content.Kind, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	if d.state != Idle {
		d.mu.Unlock()
		d.record("Worker already running.")
		return ErrAlreadyRunning
	}
	d.setStateLocked(Starting, "", kind)
	d.mu.Unlock()

	r, err := d.prepare(ctx, kind, delay)
	if err != nil {
		d.mu.Lock()
		d.setStateLocked(Idle, "", kind)
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.cur = r
	d.setStateLocked(Running, r.id, kind)
	d.mu.Unlock()

	d.record("Posting started.")
	d.record(fmt.Sprintf("Worker started: type=%s delay=%ds", kind, int64(delay/time.Second)))
	d.log.Info("run started",
		logx.String("run_id", r.id),
		logx.String("kind", string(kind)),
		logx.Duration("delay", delay),
		logx.Int("items", len(r.queue)),
		logx.Int("credentials", r.pool.Len()),
	)

	d.sup.Go0("dispatch.loop", func(ctx context.Context) { d.loop(ctx, r) })
	return nil
}

func (d *Dispatcher) prepare(ctx context.Context, kind content.Kind, delay time.Duration) (*run, error) {
	if !d.deps.Tokens.Exists(content.TokensFile) {
		d.record("No tokens.txt found.")
		return nil, ErrNoCredentials
	}
	raw, err := d.deps.Tokens.Lines(content.TokensFile)
	if err != nil {
		d.record(fmt.Sprintf("Reading tokens.txt failed: %v", err))
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	valid := d.deps.Validator.Validate(ctx, raw)
	// A cancelled validation returns a partial list; never run on it.
	if err := ctx.Err(); err != nil {
		d.record("Validation interrupted.")
		return nil, err
	}
	if len(valid) == 0 {
		d.record("No valid tokens after validation.")
		return nil, ErrNoCredentials
	}

	q, err := d.deps.Queue.LoadQueue(ctx, kind)
	if err != nil {
		if !errors.Is(err, content.ErrEmptyQueue) {
			d.record(fmt.Sprintf("Building %s queue failed: %v", kind, err))
		}
		return nil, err
	}

	return &run{
		id:        ulid.Make().String(),
		kind:      kind,
		delay:     delay,
		queue:     q,
		pool:      credential.NewPool(valid),
		startedAt: d.now(),
		done:      make(chan struct{}),
	}, nil
}

// Stop asks the running loop to exit before its next item.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		d.record("Worker not running.")
		return
	}
	id, kind := d.cur.id, d.cur.kind
	d.setStateLocked(Stopping, id, kind)
	d.mu.Unlock()

	d.record("Stop requested.")
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) Status() Status { return d.State().Status() }

// Snapshot describes the current run, or the last one when idle.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil {
		s := d.last
		s.State = d.state.String()
		s.Status = d.state.Status()
		return s
	}
	return d.snapshotLocked()
}

func (d *Dispatcher) snapshotLocked() Snapshot {
	r := d.cur
	return Snapshot{
		State:     d.state.String(),
		Status:    d.state.Status(),
		RunID:     r.id,
		Kind:      r.kind,
		Delay:     r.delay,
		StartedAt: r.startedAt,
		Items:     len(r.queue),
		Passes:    r.passes,
		Posted:    r.posted,
		Failed:    r.failed,
		PoolSize:  r.pool.Len(),
	}
}

// Wait blocks until the current loop (if any) has exited.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	r := d.cur
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) active(r *run) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur == r && d.state == Running
}

func (d *Dispatcher) loop(ctx context.Context, r *run) {
	defer d.finish(r)

	for d.active(r) {
		for _, it := range r.queue {
			if !d.active(r) || ctx.Err() != nil {
				return
			}
			cred, err := r.pool.Next()
			if err != nil {
				d.record(fmt.Sprintf("Credential rotation failed: %v", err))
				return
			}
			d.publish(ctx, r, it, cred)
			if err := d.sleep(ctx, r.delay); err != nil {
				return
			}
		}
		d.mu.Lock()
		r.passes++
		d.mu.Unlock()
	}
}

// finish runs on every loop exit, panics included.
func (d *Dispatcher) finish(r *run) {
	p := recover()

	d.mu.Lock()
	if d.cur == r {
		d.last = d.snapshotLocked()
		d.cur = nil
		d.setStateLocked(Idle, r.id, r.kind)
	}
	d.mu.Unlock()

	if p != nil {
		d.record(fmt.Sprintf("Worker crashed: %v", p))
	}
	d.record("Worker stopped.")
	d.log.Info("run stopped", logx.String("run_id", r.id))
	close(r.done)

	if p != nil {
		// Let the supervisor account for it.
		panic(p)
	}
}

func (d *Dispatcher) publish(ctx context.Context, r *run, it content.Item, cred credential.Credential) {
	start := d.now()
	var (
		res graph.Result
		err error
	)
	switch it.Kind {
	case content.KindVideo:
		res, err = d.deps.Publisher.PublishVideo(ctx, cred.Secret(), it.Path, it.Caption)
	default:
		res, err = d.deps.Publisher.PublishText(ctx, cred.Secret(), it.Body)
	}

	out := Outcome{
		At:       start,
		RunID:    r.id,
		Kind:     it.Kind,
		Hint:     cred.Hint(),
		OK:       err == nil,
		RemoteID: res.ID,
		Took:     d.now().Sub(start),
	}
	if it.Kind == content.KindVideo {
		out.Summary = filepath.Base(it.Path)
	} else {
		out.Summary = truncateRunes(it.Body, d.truncate)
	}
	if err != nil {
		out.Err = err.Error()
		if f, ok := graph.AsFailure(err); ok {
			out.FailureKind = string(f.Kind)
		}
	}

	d.record(d.outcomeLine(it, out, err))

	d.mu.Lock()
	if out.OK {
		r.posted++
	} else {
		r.failed++
	}
	d.mu.Unlock()

	for _, o := range d.observers {
		o.ObservePublish(ctx, out)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: EventPublished, Time: out.At, Data: out})
	}
}

func (d *Dispatcher) outcomeLine(it content.Item, out Outcome, err error) string {
	rejected := graph.IsRejected(err)
	switch it.Kind {
	case content.KindPhoto:
		switch {
		case out.OK:
			return "PHOTO AS TEXT POSTED id=" + out.RemoteID
		case rejected:
			return "PHOTO AS TEXT ERROR: " + err.Error()
		default:
			return "EXC PHOTO AS TEXT: " + err.Error()
		}
	case content.KindVideo:
		switch {
		case out.OK:
			return fmt.Sprintf("VIDEO POSTED: %s id=%s", out.Summary, out.RemoteID)
		case rejected:
			return "VIDEO ERROR: " + err.Error()
		default:
			return "EXC VIDEO: " + err.Error()
		}
	default:
		switch {
		case out.OK:
			return fmt.Sprintf("TEXT POSTED: %s... id=%s", truncateRunes(it.Body, d.truncate), out.RemoteID)
		case rejected:
			return "TEXT ERROR: " + err.Error()
		default:
			return "EXC TEXT: " + err.Error()
		}
	}
}

// setStateLocked must be called with d.mu held.
func (d *Dispatcher) setStateLocked(to State, runID string, kind content.Kind) {
	from := d.state
	d.state = to
	if from == to || d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{
		Type: EventStateChanged,
		Time: d.now(),
		Data: StateChange{From: from, To: to, RunID: runID, Kind: kind},
	})
}

func (d *Dispatcher) record(msg string) {
	if d.deps.Activity != nil {
		d.deps.Activity.Add(msg)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
