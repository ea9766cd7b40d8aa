package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"idlesched/internal/clock"
	"idlesched/internal/eventbus"
	"idlesched/internal/task/engine"
	logx "idlesched/pkg/logx"
)

// activeTimer is the one timer a handler may hold. gen changes on every arm so
// a fire that lost the race with a re-arm or cancel is recognized and dropped.
type activeTimer struct {
	gen       uint64
	kind      Kind
	handle    clock.Timer
	period    time.Duration
	threshold time.Duration
	due       time.Time
}

type Scheduler struct {
	mu sync.Mutex

	cfg  Config
	loc  *time.Location
	clk  clock.Clock
	idle IdleClock
	eng  *engine.Service
	log  logx.Logger
	bus  eventbus.Bus
	obs  Observer
	rec  Recorder

	reg     registry
	active  map[string]*activeTimer
	gen     uint64
	running bool

	// idleServed maps an idle-wait handler to the start of the idle period it
	// already fired for.
	idleServed map[string]time.Time

	// clockServed maps a clock handler to the last deadline it fired for.
	clockServed map[string]time.Time

	failMu sync.Mutex
	fail   map[string]*failThrottle

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clk = c } }

// WithRecorder journals every finished run.
func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.rec = r } }

func WithObserver(o Observer) Option { return func(s *Scheduler) { s.obs = o } }

// New builds a stopped scheduler. Invocations are handed to eng, which the
// caller starts and stops. idle may be nil, in which case the user is never idle.
func New(cfg Config, eng *engine.Service, idle IdleClock, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if idle == nil {
		idle = zeroIdle{}
	}
	s := &Scheduler{
		cfg:         cfg.withDefaults(),
		clk:         clock.System(),
		idle:        idle,
		eng:         eng,
		log:         log,
		bus:         bus,
		obs:         nopObserver{},
		active:      map[string]*activeTimer{},
		idleServed:  map[string]time.Time{},
		clockServed: map[string]time.Time{},
		fail:        map[string]*failThrottle{},
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Start arms a timer for every registered handler. Handlers added before
// Start are only recorded until then. ctx is not retained: callbacks run
// under the dispatch engine's context.
func (s *Scheduler) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.reconcileLocked("start")
	s.log.Info("scheduler started",
		logx.Duration("step", s.cfg.Step),
		logx.String("tz", s.loc.String()),
		logx.Int("handlers", len(s.reg.entries)),
		logx.Int("timers", len(s.active)),
	)
}

// Stop releases every timer. Definitions are kept for the next Start. It
// never blocks, so ctx is unused; a callback already running is stopped by
// stopping the engine.
func (s *Scheduler) Stop(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancelAllLocked()
	s.log.Info("scheduler stopped")
}

// Running reports whether timers are armed on registry changes.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Add registers or replaces the handler id and reconciles every timer.
func (s *Scheduler) Add(id string, ts TimeSpec, is IdleSpec, cb Callback) error {
	e := Entry{ID: id, Time: ts, Idle: is, Callback: cb}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validateEntry(e, s.cfg.Step); err != nil {
		return err
	}
	s.reg.add(e)
	s.noteIgnoredIdleLocked(e)
	s.reconcileLocked("add")
	return nil
}

// Remove unregisters id. It returns false when id was not registered.
// Safe to call from inside a running callback, including the handler's own.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	removed := s.reg.remove(id)
	delete(s.idleServed, id)
	delete(s.clockServed, id)
	s.reconcileLocked("remove")
	s.mu.Unlock()

	s.failMu.Lock()
	delete(s.fail, id)
	s.failMu.Unlock()

	if removed {
		s.log.Debug("handler removed", logx.String("handler", id))
	}
	return removed
}

// CancelAll releases every timer but keeps the definitions; the next
// reconciliation re-arms them.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
	s.log.Debug("all timers cancelled", logx.Int("handlers", len(s.reg.entries)))
}

// Replace swaps the whole registry for entries, in order, with a single
// reconciliation. Nothing changes if any entry is invalid.
func (s *Scheduler) Replace(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateEntries(entries, s.cfg.Step); err != nil {
		return err
	}
	s.replaceLocked(entries)
	s.reconcileLocked("replace")
	return nil
}

// Apply changes the step unit or timezone. Timers armed against the old
// values are torn down and re-armed. A step under which a registered handler
// no longer fits in a duration is rejected and nothing changes.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Step != s.cfg.Step {
		if err := s.validateRegisteredLocked(cfg.Step); err != nil {
			return err
		}
	}
	if s.applyLocked(cfg) {
		s.reconcileLocked("config")
	}
	return nil
}

// Reconfigure applies cfg and replaces the registry with entries as one
// change: entries are validated against the new step and timers are
// reconciled once.
func (s *Scheduler) Reconfigure(cfg Config, entries []Entry) error {
	cfg = cfg.withDefaults()
	if err := ValidateEntries(entries, cfg.Step); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(cfg)
	s.replaceLocked(entries)
	s.reconcileLocked("reconfigure")
	return nil
}

// applyLocked stores cfg and reports whether the step or timezone changed.
func (s *Scheduler) applyLocked(cfg Config) bool {
	old := s.cfg
	s.cfg = cfg
	if old.Step == cfg.Step && strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return false
	}
	s.loc = s.loadLocationLocked()
	s.log.Info("scheduler config changed",
		logx.Duration("step", cfg.Step),
		logx.String("tz", s.loc.String()),
	)
	return true
}

func (s *Scheduler) replaceLocked(entries []Entry) {
	s.reg.reset()
	for _, e := range entries {
		s.reg.add(e)
		s.noteIgnoredIdleLocked(e)
	}
	for _, served := range []map[string]time.Time{s.idleServed, s.clockServed} {
		for id := range served {
			if _, ok := s.reg.get(id); !ok {
				delete(served, id)
			}
		}
	}
}

func (s *Scheduler) validateRegisteredLocked(step time.Duration) error {
	var errs []error
	for _, e := range s.reg.list() {
		if err := checkStepRange(e.Entry, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateEntries checks every entry as Add would under step and reports all
// problems together.
func ValidateEntries(entries []Entry, step time.Duration) error {
	var errs []error
	for _, e := range entries {
		if err := validateEntry(e, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateEntry(e Entry, step time.Duration) error {
	if strings.TrimSpace(e.ID) == "" {
		return &ConfigurationError{Field: "id", Reason: "required"}
	}
	if e.Callback == nil {
		return &ConfigurationError{ID: e.ID, Field: "callback", Reason: "required"}
	}
	if err := e.Time.validate(e.ID); err != nil {
		return err
	}
	if err := e.Idle.validate(e.ID); err != nil {
		return err
	}
	return checkStepRange(e, step)
}

// checkStepRange rejects step counts whose duration overflows int64.
func checkStepRange(e Entry, step time.Duration) error {
	if step <= 0 {
		step = DefaultStep
	}
	limit := int64(math.MaxInt64 / step)
	if e.Time.Kind() == TimeEveryN && int64(e.Time.Steps()) > limit {
		return &ConfigurationError{ID: e.ID, Field: "time", Reason: fmt.Sprintf("%d steps of %s overflow a duration", e.Time.Steps(), step)}
	}
	if e.Idle.Kind() == IdleAfterSteps && int64(e.Idle.Steps()) > limit {
		return &ConfigurationError{ID: e.ID, Field: "idle", Reason: fmt.Sprintf("%d steps of %s overflow a duration", e.Idle.Steps(), step)}
	}
	return nil
}

func (s *Scheduler) noteIgnoredIdleLocked(e Entry) {
	if e.Time.Kind() == TimeAtClock && e.Idle.Kind() != IdleDontCare {
		s.log.Debug("idle spec ignored for clock handler", logx.String("handler", e.ID), logx.String("idle", e.Idle.String()))
	}
}

// reconcileLocked tears down every timer and re-arms one per non-inert
// handler, in registration order. Call with s.mu held.
func (s *Scheduler) reconcileLocked(reason string) {
	if !s.running {
		return
	}
	s.cancelAllLocked()
	now := s.clk.Now()
	for _, e := range s.reg.list() {
		s.armInitialLocked(e, now)
	}
	n := len(s.active)
	s.obs.TimersArmed(n)
	s.log.Debug("timers reconciled", logx.String("reason", reason), logx.Int("handlers", len(s.reg.entries)), logx.Int("timers", n))
	s.publish(eventbus.RegistryReconciled, map[string]any{"reason": reason, "handlers": len(s.reg.entries), "timers": n})
}

func (s *Scheduler) cancelAllLocked() {
	for id, at := range s.active {
		at.handle.Stop()
		delete(s.active, id)
	}
	s.obs.TimersArmed(0)
}

func (s *Scheduler) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	loc, err := LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
