package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// dailyParser reads standard five-field specs; clock handlers only ever use
// "M H * * *".
var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// dailyAt returns the daily hour:minute schedule. Its Location is left at
// time.Local, so Next works in the location of the time it is given.
func dailyAt(hour, minute int) (*cron.SpecSchedule, error) {
	sched, err := dailyParser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, err
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("unexpected schedule type %T", sched)
	}
	return spec, nil
}

// everySchedule is a fixed-period cron.Schedule. cron.Every truncates to whole
// seconds, which would break sub-second steps.
type everySchedule struct {
	period time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time { return t.Add(s.period) }

// clockSchedule evaluates a daily spec in loc whatever location t is in.
type clockSchedule struct {
	spec *cron.SpecSchedule
	loc  *time.Location
}

func (s clockSchedule) Next(t time.Time) time.Time { return s.spec.Next(t.In(s.loc)) }

// scheduleFor returns the recurrence of ts, or nil for Never.
func scheduleFor(ts TimeSpec, step time.Duration, loc *time.Location) cron.Schedule {
	switch ts.Kind() {
	case TimeEveryStep, TimeEveryN:
		return everySchedule{period: time.Duration(ts.Steps()) * step}
	case TimeAtClock:
		if loc == nil {
			loc = time.Local
		}
		spec, err := dailyAt(ts.Clock())
		if err != nil {
			return nil
		}
		return clockSchedule{spec: spec, loc: loc}
	default:
		return nil
	}
}

// NextRuns previews up to n nominal fire times of ts after from, ignoring the
// idle gate. Never yields nil.
func NextRuns(ts TimeSpec, step time.Duration, loc *time.Location, from time.Time, n int) []time.Time {
	if step <= 0 {
		step = DefaultStep
	}
	sched := scheduleFor(ts, step, loc)
	if sched == nil || n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// LoadLocation resolves a timezone name; empty means Local.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// ModeOf reports the timer kind a handler with ts and is starts in. Inert
// handlers report 0 ("none").
func ModeOf(ts TimeSpec, is IdleSpec) Kind {
	switch ts.Kind() {
	case TimeEveryStep, TimeEveryN:
		return KindPeriodic
	case TimeAtClock:
		return KindClock
	default:
		if is.Kind() == IdleAfterSteps {
			return KindIdleWait
		}
		return 0
	}
}
