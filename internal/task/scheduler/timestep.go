package scheduler

import (
	"math"
	"time"
)

// NextOccurrence returns the first hour:minute strictly after now, in now's
// location. Calendar rollover and DST transitions are resolved by the cron
// schedule: in a repeated hour the later copy is still ahead, and a time
// skipped by a spring-forward transition moves to the next day that has it.
// Invalid hour or minute values yield the zero time.
func NextOccurrence(hour, minute int, now time.Time) time.Time {
	spec, err := dailyAt(hour, minute)
	if err != nil {
		return time.Time{}
	}
	return spec.Next(now)
}

// StepsUntil returns the number of steps from now to the next hour:minute,
// rounded half to even. It is never negative.
func StepsUntil(hour, minute int, now time.Time, step time.Duration) int {
	return stepsBetween(now, NextOccurrence(hour, minute, now), step)
}

func stepsBetween(from, to time.Time, step time.Duration) int {
	if step <= 0 {
		step = DefaultStep
	}
	d := to.Sub(from)
	if to.IsZero() || d < 0 {
		d = 0
	}
	return int(math.RoundToEven(d.Seconds() / step.Seconds()))
}
