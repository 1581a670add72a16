// Package app wires the posting pipeline to its control surfaces.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"multiposter/internal/config"
	"multiposter/internal/control"
	"multiposter/internal/dispatch"
	"multiposter/internal/eventbus"
	"multiposter/internal/httpapi"
	"multiposter/internal/metrics"
	"multiposter/internal/runtime/supervisor"
	"multiposter/internal/schedule"
	"multiposter/internal/storage"
	kit "multiposter/internal/transport"
	"multiposter/internal/transport/telegram"
	logx "multiposter/pkg/logx"
)

type App struct {
	version string

	cfgm *config.ConfigManager
	res  config.Resolved
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Collector
	core    *Core

	// Built in Start; they need the app supervisor.
	disp   *dispatch.Dispatcher
	sched  *schedule.Service
	http   *httpapi.Service
	router *control.Router

	adapter kit.Adapter // nil when telegram is disabled
	updates chan kit.Update
}

func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	// Bootstrap with the Telegram sink off: Apply warns when the sink is
	// enabled before its target is set.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, root := logx.New(baseLogCfg, nil)
	log := root.With(logx.String("comp", "app"))

	var ad *telegram.Adapter
	if res.TelegramEnabled {
		ad, err = telegram.New(telegram.Config{
			Token:       res.TelegramToken,
			PollTimeout: res.TelegramPollTime,
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		logSvc.SetSender(ad)
		logSvc.SetTelegramTarget(res.GroupLogChat, res.GroupLogThread)
	}
	logSvc.Apply(mapLogConfig(cfg))

	var store storage.Store
	if sc, enabled := mapStorageConfig(res); enabled {
		store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	mc := metrics.New(version)
	core, err := NewCore(res, root, mc)
	if err != nil {
		return nil, err
	}

	a := &App{
		version: version,
		cfgm:    cfgm,
		res:     res,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		metrics: mc,
		core:    core,
		updates: make(chan kit.Update, 256),
	}
	if ad != nil {
		a.adapter = ad
	}
	return a, nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	root := a.logs.Logger()

	observers := []dispatch.Observer{a.metrics}
	if a.store != nil {
		observers = append(observers, auditObserver{store: a.store, log: root.With(logx.String("comp", "audit"))})
	}
	a.disp = dispatch.New(dispatch.Deps{
		Tokens:    a.core.Lists,
		Validator: a.core.Validator,
		Queue:     a.core.Source,
		Publisher: a.core.Graph,
		Activity:  a.core.Activity,
	},
		// The loop gets its own supervisor so a crashed run doesn't take the
		// app down; the app context still bounds it.
		dispatch.WithSupervisor(supervisor.NewSupervisor(runCtx, supervisor.WithLogger(root.With(logx.String("comp", "dispatch.sup"))))),
		dispatch.WithBus(a.bus),
		dispatch.WithObserver(observers...),
		dispatch.WithLogger(root.With(logx.String("comp", "dispatch"))),
		dispatch.WithTruncate(a.res.LogTruncate),
	)

	a.sched = schedule.New(a.disp, root.With(logx.String("comp", "schedule")))
	if err := a.sched.Apply(mapSchedules(a.res)); err != nil {
		return err
	}

	// Reloads are validated before they are committed or published.
	a.cfgm.SetLogger(root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		res, err := cfg.Resolve()
		if err != nil {
			return err
		}
		for _, d := range mapSchedules(res) {
			if _, err := a.sched.Compile(d); err != nil {
				return err
			}
		}
		return nil
	})

	a.sup.Go0("metrics.follow", func(c context.Context) {
		a.metrics.Follow(c, a.bus, func() int { return a.disp.Snapshot().PoolSize })
	})

	if a.res.HTTPEnabled {
		deps := httpapi.Deps{
			Runner:    a.disp,
			Activity:  a.core.Activity,
			Lists:     a.core.Lists,
			Store:     a.store,
			Schedules: a.sched,
		}
		if a.res.HTTPMetrics {
			deps.Metrics = a.metrics.Handler()
		}
		a.http = httpapi.New(httpapi.Config{
			Addr:           a.res.HTTPAddr,
			Pprof:          a.res.HTTPPprof,
			MaxUploadBytes: a.res.MaxUploadBytes,
			DefaultDelay:   a.res.DefaultDelay,
		}, deps,
			httpapi.WithLogger(root.With(logx.String("comp", "http"))),
			httpapi.WithRouteWrapper(a.metrics.Middleware),
		)
		if err := a.http.Start(runCtx); err != nil {
			return fmt.Errorf("http listen %s: %w", a.res.HTTPAddr, err)
		}
	}

	if a.adapter != nil {
		if err := a.startTelegram(runCtx, root); err != nil {
			return err
		}
	}

	a.sched.Start(runCtx)

	// Lifecycle events at debug level; components subscribe for themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.String("version", a.version),
		logx.String("storage_root", a.core.Lists.Root()),
		logx.Bool("http", a.res.HTTPEnabled),
		logx.Bool("telegram", a.adapter != nil),
		logx.Int("schedules", len(a.res.Schedules)),
	)
	return nil
}

func (a *App) startTelegram(ctx context.Context, root logx.Logger) error {
	a.router = control.NewRouter(a.adapter, a.res.OwnerUserIDs, root.With(logx.String("comp", "commands")))
	a.router.Register(control.Commands(control.Deps{
		Runner:       a.disp,
		Activity:     a.core.Activity,
		Tokens:       a.core.Lists,
		Validator:    a.core.Validator,
		DefaultDelay: a.res.DefaultDelay,
	})...)

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	if up, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		menu := a.router.Menu()
		a.sup.Go0("telegram.menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	if a.res.NotifyChat != 0 {
		n := control.NewNotifier(a.bus, a.adapter,
			kit.ChatTarget{ChatID: a.res.NotifyChat, ThreadID: a.res.NotifyThread},
			root.With(logx.String("comp", "notify")))
		a.sup.Go0("telegram.notify", n.Run)
	}
	return nil
}

// applyConfig applies the hot-reloadable sections of a committed config.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	res, err := next.Resolve()
	if err != nil {
		// The validator already ran; this only happens if it was bypassed.
		a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
		return
	}

	if chatID := res.GroupLogChat; chatID != 0 {
		a.logs.SetTelegramTarget(chatID, res.GroupLogThread)
	}
	a.logs.Apply(mapLogConfig(next))

	if err := a.sched.Apply(mapSchedules(res)); err != nil {
		a.log.Warn("schedules rejected; keeping previous", logx.Err(err))
	}

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("restart required for config changes", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "dispatch", 3*time.Second, func(c context.Context) error {
		a.disp.Stop()
		return a.disp.Wait(c)
	})
	if a.http != nil {
		a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	}
	if a.adapter != nil {
		a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	}
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
