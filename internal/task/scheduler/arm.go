package scheduler

import (
	"time"

	"idlesched/internal/eventbus"
	logx "idlesched/pkg/logx"
)

// armInitialLocked derives the timer mode of e:
//
//	Never + AfterSteps        -> idle wait
//	EveryStep/EveryN + any    -> periodic (idle-gated unless DontCare)
//	AtClock + any             -> clock (idle spec ignored)
//	Never + DontCare/Immediate -> inert, no timer
func (s *Scheduler) armInitialLocked(e *entry, now time.Time) {
	step := s.cfg.Step
	switch e.Time.Kind() {
	case TimeEveryStep, TimeEveryN:
		period := time.Duration(e.Time.Steps()) * step
		s.armPeriodicLocked(e.ID, now, now.Add(period), period, e.Idle.threshold(step))
	case TimeAtClock:
		s.armClockLocked(e, now, now)
	case TimeNever:
		if e.Idle.Kind() == IdleAfterSteps {
			s.armIdleWaitLocked(e, now, s.idle.IdleDuration(), false)
		}
	}
}

// armLocked installs at as the handler's only timer, firing after d. The
// previous handle is stopped first.
func (s *Scheduler) armLocked(id string, at *activeTimer, d time.Duration) {
	if old := s.active[id]; old != nil {
		old.handle.Stop()
	}
	s.gen++
	at.gen = s.gen
	gen := at.gen
	if d < 0 {
		d = 0
	}
	at.handle = s.clk.AfterFunc(d, func() { s.fire(id, gen) })
	s.active[id] = at
	s.log.Trace("timer armed", logx.String("handler", id), logx.String("kind", at.kind.String()), logx.Duration("in", d))
}

func (s *Scheduler) armPeriodicLocked(id string, now, due time.Time, period, threshold time.Duration) {
	s.armLocked(id, &activeTimer{kind: KindPeriodic, period: period, threshold: threshold, due: due}, due.Sub(now))
}

// armClockLocked arms the first deadline after from (from >= now). An
// occurrence with the same date and hour:minute as the one already served is
// the repeated hour at the end of DST and is skipped. The wait is the distance
// to the deadline rounded to whole steps, capped at maxClockWait.
func (s *Scheduler) armClockLocked(e *entry, now, from time.Time) {
	step := s.cfg.Step
	sched := scheduleFor(e.Time, step, s.loc)
	if sched == nil {
		return
	}
	deadline := sched.Next(from)
	if last, ok := s.clockServed[e.ID]; ok && sameWallClock(deadline, last) {
		deadline = sched.Next(deadline)
	}
	if deadline.IsZero() {
		s.log.Warn("clock handler has no next deadline", logx.String("handler", e.ID), logx.String("time", e.Time.String()))
		return
	}
	wait := time.Duration(stepsBetween(now, deadline, step)) * step
	if wait > maxClockWait {
		wait = maxClockWait
	}
	s.armLocked(e.ID, &activeTimer{kind: KindClock, period: wait, due: deadline}, wait)
}

// sameWallClock reports whether a and b share date and hour:minute in a's
// location.
func sameWallClock(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// armIdleWaitLocked arms a Never+AfterSteps handler. The callback runs once
// per idle period; while that period lasts the timer only re-polls.
func (s *Scheduler) armIdleWaitLocked(e *entry, now time.Time, idle time.Duration, fired bool) {
	threshold := e.Idle.threshold(s.cfg.Step)
	start := now.Add(-idle)

	var wait time.Duration
	switch {
	case idle < threshold:
		wait = threshold - idle
	case s.servedLocked(e.ID, start):
		wait = threshold
	case fired:
		s.idleServed[e.ID] = start
		s.invokeLocked(e, TriggerIdle, now)
		wait = threshold
	default:
		// Already idle long enough at arm time: fire right away.
		wait = 0
	}
	s.armLocked(e.ID, &activeTimer{kind: KindIdleWait, threshold: threshold, due: now.Add(wait)}, wait)
}

func (s *Scheduler) servedLocked(id string, start time.Time) bool {
	t, ok := s.idleServed[id]
	if !ok {
		return false
	}
	d := start.Sub(t)
	if d < 0 {
		d = -d
	}
	return d <= idlePeriodSlack
}

// fire is the timer callback. It decides under s.mu and only enqueues
// invocations; it never runs a callback itself.
func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.active[id]
	if !s.running || at == nil || at.gen != gen {
		return
	}
	e, ok := s.reg.get(id)
	if !ok {
		return
	}
	now := s.clk.Now()

	switch at.kind {
	case KindPeriodic:
		s.firePeriodicLocked(e, at, now)
	case KindSpecialPeriodic:
		s.fireSpecialLocked(e, at, now)
	case KindIdleWait:
		s.armIdleWaitLocked(e, now, s.idle.IdleDuration(), true)
	case KindClock:
		s.fireClockLocked(e, at, now)
	}
}

func (s *Scheduler) firePeriodicLocked(e *entry, at *activeTimer, now time.Time) {
	next := at.due.Add(at.period)
	if !next.After(now) {
		next = now.Add(at.period)
	}

	if e.Idle.Kind() == IdleDontCare {
		s.armPeriodicLocked(e.ID, now, next, at.period, 0)
		s.invokeLocked(e, TriggerPeriodic, at.due)
		return
	}

	idle := s.idle.IdleDuration()
	if idle > at.threshold {
		s.armPeriodicLocked(e.ID, now, next, at.period, at.threshold)
		s.invokeLocked(e, TriggerPeriodic, at.due)
		return
	}

	// Not idle enough: the periodic handle is released and replaced by a
	// one-shot wait of exactly the threshold.
	s.armLocked(e.ID, &activeTimer{
		kind:      KindSpecialPeriodic,
		period:    at.period,
		threshold: at.threshold,
		due:       now.Add(at.threshold),
	}, at.threshold)
	s.obs.HandlerDeferred(e.ID)
	s.publish(eventbus.HandlerDeferred, e.ID)
	s.log.Debug("handler deferred until idle",
		logx.String("handler", e.ID),
		logx.Duration("idle", idle),
		logx.Duration("threshold", at.threshold),
	)
}

// fireSpecialLocked resumes the periodic cadence from now and invokes only if
// the idle threshold has been reached.
func (s *Scheduler) fireSpecialLocked(e *entry, at *activeTimer, now time.Time) {
	idle := s.idle.IdleDuration()
	s.armPeriodicLocked(e.ID, now, now.Add(at.period), at.period, at.threshold)
	if idle >= at.threshold {
		s.invokeLocked(e, TriggerSpecial, at.due)
		return
	}
	s.obs.HandlerDiscarded(e.ID)
	s.publish(eventbus.HandlerDiscarded, e.ID)
	s.log.Debug("idle wait discarded", logx.String("handler", e.ID), logx.Duration("idle", idle))
}

// fireClockLocked invokes when the deadline is within half a step, then arms
// the following day. An earlier fire (capped wait) only re-evaluates.
func (s *Scheduler) fireClockLocked(e *entry, at *activeTimer, now time.Time) {
	if at.due.Sub(now) > s.cfg.Step/2 {
		s.armClockLocked(e, now, now)
		return
	}
	from := now
	if at.due.After(from) {
		from = at.due
	}
	s.clockServed[e.ID] = at.due
	s.armClockLocked(e, now, from)
	s.invokeLocked(e, TriggerClock, at.due)
}
