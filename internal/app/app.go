// Package app wires configuration, the idle source, the scheduler and its
// supporting services into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"idlesched/internal/actions"
	"idlesched/internal/clock"
	"idlesched/internal/config"
	"idlesched/internal/eventbus"
	"idlesched/internal/idle"
	"idlesched/internal/observability/debugsrv"
	"idlesched/internal/observability/metrics"
	rtsup "idlesched/internal/runtime/supervisor"
	"idlesched/internal/storage"
	"idlesched/internal/task/engine"
	"idlesched/internal/task/scheduler"
	logx "idlesched/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	idle    idle.Clock
	store   storage.Store
	metrics *metrics.Metrics
	actions *actions.Builder

	engine *engine.Service
	sched  *scheduler.Scheduler
	debug  *debugsrv.Service
}

type options struct {
	clk   clock.Clock
	units actions.UnitController
}

type Option func(*options)

// WithClock drives the scheduler (and manual idle tracker) from clk.
func WithClock(clk clock.Clock) Option { return func(o *options) { o.clk = clk } }

// WithUnits replaces the systemd controller used by unit actions.
func WithUnits(u actions.UnitController) Option { return func(o *options) { o.units = u } }

func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{clk: clock.System()}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	// Map every section before opening sinks, sources or the journal.
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	idleCfg, err := mapIdleConfig(cfg)
	if err != nil {
		return nil, err
	}
	storeCfg, storeOn, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	debugCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	idleSrc, err := idle.Open(idleCfg, o.clk, log.With(logx.String("comp", "idle")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("idle source: %w", err)
	}
	var store storage.Store
	release := func() {
		closeQuietly(idleSrc)
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
	}
	if storeOn {
		store, err = storage.Open(storeCfg, log)
		if err != nil {
			release()
			return nil, err
		}
		log.Info("run journal enabled", logx.String("driver", storeCfg.Driver))
	}

	var builderOpts []actions.Option
	if o.units != nil {
		builderOpts = append(builderOpts, actions.WithUnits(o.units))
	}
	builder := actions.NewBuilder(log, builderOpts...)

	m := metrics.New()
	eng := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "dispatch")), bus)
	m.WatchDispatch(eng.Snapshot)

	schedOpts := []scheduler.Option{scheduler.WithClock(o.clk), scheduler.WithObserver(m)}
	if store != nil {
		schedOpts = append(schedOpts, scheduler.WithRecorder(journal{store: store}))
	}
	sched := scheduler.New(schedCfg, eng, idleSrc, log.With(logx.String("comp", "scheduler")), bus, schedOpts...)

	entries, err := BuildEntries(cfg, builder)
	if err == nil {
		err = sched.Replace(entries)
	}
	if err != nil {
		release()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		idle:    idleSrc,
		store:   store,
		metrics: m,
		actions: builder,
		engine:  eng,
		sched:   sched,
	}
	a.debug = debugsrv.New(debugCfg, a.debugSources(), log)
	return a, nil
}

func (a *App) debugSources() debugsrv.Sources {
	src := debugsrv.Sources{
		Timers:      a.sched.Snapshot,
		Supervisors: a.supervisors,
		Metrics:     a.metrics.Handler(),
		Idle:        a.idle.IdleDuration,
	}
	if a.store != nil {
		src.Runs = a.store
	}
	if tr, ok := a.idle.(*idle.Tracker); ok {
		src.TouchIdle = tr.Touch
	}
	return src
}

func (a *App) supervisors() map[string]rtsup.SupervisorSnapshot {
	out := map[string]rtsup.SupervisorSnapshot{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if sup := a.engine.Supervisor(); sup != nil {
		out["dispatch"] = sup.Snapshot()
	}
	if sup := a.debug.Supervisor(); sup != nil {
		out["debug"] = sup.Snapshot()
	}
	return out
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Store returns the run journal, or nil when it is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Reloads are applied only when every handler still builds.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		sc, err := mapSchedulerConfig(cfg)
		if err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		entries, err := BuildEntries(cfg, a.actions)
		if err != nil {
			return err
		}
		return scheduler.ValidateEntries(entries, sc.Step)
	})

	a.engine.Start(runCtx)
	if a.cfgm.Get().Scheduler.Enabled {
		a.sched.Start(runCtx)
	} else {
		a.log.Info("scheduler disabled via config")
	}
	a.debug.Start(runCtx)

	a.startEventLog()
	a.startReloadLoop()
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		runWatchdog(c, a.log, a.engine.Running)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// Reload re-reads the config file now (SIGHUP).
func (a *App) Reload(ctx context.Context) error {
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)
	_, err := a.cfgm.Reload(ctx)
	if errors.Is(err, config.ErrUnchanged) {
		a.log.Info("config reload requested; no changes")
		return nil
	}
	return err
}

// startEventLog mirrors bus events at debug level.
func (a *App) startEventLog() {
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
				if e.Type == eventbus.TaskStarted || e.Type == eventbus.TaskFinished {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// latest drains queued configs and keeps the newest.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, handlers := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(handlers) > 0 {
		a.log.Debug("handler changes detected", logx.Any("handlers", handlers))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "idle", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		case "debug":
			if dc, err := mapDebugConfig(newCfg); err != nil {
				a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
			} else {
				a.debug.Reconfigure(ctx, dc)
			}
		}
	}

	// Timers are rebuilt only when handlers or scheduler settings change.
	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if slices.Contains(sections, "handlers") {
		if entries, err := BuildEntries(newCfg, a.actions); err != nil {
			a.log.Warn("invalid handlers; keeping previous", logx.Err(err))
		} else if err := a.sched.Reconfigure(sc, entries); err != nil {
			a.log.Warn("handler replace rejected", logx.Err(err))
		}
	} else if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	}

	switch was := a.sched.Running(); {
	case was && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		a.sched.Stop(ctx)
	case !was && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "dispatch", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "idle", time.Second, func(context.Context) error { return closeIdle(a.idle) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max without extending ctx's deadline.
// A step that overruns is logged and left to finish in the background.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
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
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}

func closeIdle(c idle.Clock) error {
	if cl, ok := c.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func closeQuietly(c idle.Clock) { _ = closeIdle(c) }
