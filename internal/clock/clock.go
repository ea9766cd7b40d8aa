// Package clock abstracts wall-clock reads and one-shot timers so the scheduler
// can be driven by a fake clock in tests.
package clock

import "time"

// Timer is an owned one-shot timer resource.
type Timer interface {
	// Stop releases the timer. It reports whether the call stopped the timer
	// before it fired.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System returns the process wall clock backed by time.AfterFunc.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
