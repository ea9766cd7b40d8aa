package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeKind tags a TimeSpec. The zero value is TimeNever.
type TimeKind int

const (
	TimeNever TimeKind = iota
	TimeEveryStep
	TimeEveryN
	TimeAtClock
)

// TimeSpec governs recurrence.
type TimeSpec struct {
	kind   TimeKind
	steps  int
	hour   int
	minute int
}

func Never() TimeSpec     { return TimeSpec{kind: TimeNever} }
func EveryStep() TimeSpec { return TimeSpec{kind: TimeEveryStep} }

// EveryN fires every n steps. n must be positive; Add rejects anything else.
func EveryN(n int) TimeSpec { return TimeSpec{kind: TimeEveryN, steps: n} }

// AtClock fires daily at hour:minute in the scheduler timezone.
func AtClock(hour, minute int) TimeSpec {
	return TimeSpec{kind: TimeAtClock, hour: hour, minute: minute}
}

func (t TimeSpec) Kind() TimeKind { return t.kind }

// Steps returns the recurrence in steps for EveryStep and EveryN, else 0.
func (t TimeSpec) Steps() int {
	switch t.kind {
	case TimeEveryStep:
		return 1
	case TimeEveryN:
		return t.steps
	default:
		return 0
	}
}

// Clock returns the hour and minute of an AtClock spec.
func (t TimeSpec) Clock() (hour, minute int) { return t.hour, t.minute }

func (t TimeSpec) String() string {
	switch t.kind {
	case TimeNever:
		return "never"
	case TimeEveryStep:
		return "step"
	case TimeEveryN:
		return strconv.Itoa(t.steps)
	case TimeAtClock:
		return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
	default:
		return fmt.Sprintf("unknown(%d)", int(t.kind))
	}
}

func (t TimeSpec) validate(id string) error {
	switch t.kind {
	case TimeNever, TimeEveryStep:
		return nil
	case TimeEveryN:
		if t.steps <= 0 {
			return &ConfigurationError{ID: id, Field: "time", Reason: fmt.Sprintf("step count must be > 0, got %d", t.steps)}
		}
		return nil
	case TimeAtClock:
		return validateClock(t.hour, t.minute)
	default:
		return &ConfigurationError{ID: id, Field: "time", Reason: fmt.Sprintf("unknown kind %d", int(t.kind))}
	}
}

// IdleKind tags an IdleSpec. The zero value is IdleDontCare.
type IdleKind int

const (
	IdleDontCare IdleKind = iota
	IdleImmediate
	IdleAfterSteps
)

// IdleSpec governs the idle gate.
type IdleSpec struct {
	kind  IdleKind
	steps int
}

func DontCare() IdleSpec  { return IdleSpec{kind: IdleDontCare} }
func Immediate() IdleSpec { return IdleSpec{kind: IdleImmediate} }

// AfterSteps requires n steps of continuous idleness. n must be positive.
func AfterSteps(n int) IdleSpec { return IdleSpec{kind: IdleAfterSteps, steps: n} }

func (i IdleSpec) Kind() IdleKind { return i.kind }
func (i IdleSpec) Steps() int     { return i.steps }

func (i IdleSpec) String() string {
	switch i.kind {
	case IdleDontCare:
		return "dontcare"
	case IdleImmediate:
		return "immediate"
	case IdleAfterSteps:
		return strconv.Itoa(i.steps)
	default:
		return fmt.Sprintf("unknown(%d)", int(i.kind))
	}
}

func (i IdleSpec) validate(id string) error {
	switch i.kind {
	case IdleDontCare, IdleImmediate:
		return nil
	case IdleAfterSteps:
		if i.steps <= 0 {
			return &ConfigurationError{ID: id, Field: "idle", Reason: fmt.Sprintf("step count must be > 0, got %d", i.steps)}
		}
		return nil
	default:
		return &ConfigurationError{ID: id, Field: "idle", Reason: fmt.Sprintf("unknown kind %d", int(i.kind))}
	}
}

// threshold converts the idle gate to a duration. DontCare has none.
func (i IdleSpec) threshold(step time.Duration) time.Duration {
	switch i.kind {
	case IdleImmediate:
		return immediateThreshold
	case IdleAfterSteps:
		return time.Duration(i.steps) * step
	default:
		return 0
	}
}

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTimeSpec parses a config value.
//
// Supported forms:
//   - "" or "never"
//   - "t" or "step": every step
//   - "5": every 5 steps
//   - "14:30": daily at 14:30
func ParseTimeSpec(raw string) (TimeSpec, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "never":
		return Never(), nil
	case "t", "step":
		return EveryStep(), nil
	}
	if strings.Contains(s, ":") {
		h, m, err := parseHHMM(s)
		if err != nil {
			return TimeSpec{}, err
		}
		return AtClock(h, m), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return TimeSpec{}, &ConfigurationError{Field: "time", Reason: fmt.Sprintf("invalid value %q (use never, step, a positive step count or HH:MM)", raw)}
	}
	return EveryN(n), nil
}

// ParseIdleSpec parses a config value.
//
// Supported forms:
//   - "", "nil" or "dontcare"
//   - "t" or "immediate": any idleness
//   - "3": idle for 3 steps
func ParseIdleSpec(raw string) (IdleSpec, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "nil", "dontcare":
		return DontCare(), nil
	case "t", "immediate":
		return Immediate(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return IdleSpec{}, &ConfigurationError{Field: "idle", Reason: fmt.Sprintf("invalid value %q (use dontcare, immediate or a positive step count)", raw)}
	}
	return AfterSteps(n), nil
}

func parseHHMM(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, 0, &ClockParseError{Input: s, Reason: "expected HH:MM"}
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if err := validateClock(hour, minute); err != nil {
		cpe := err.(*ClockParseError)
		cpe.Input = s
		return 0, 0, cpe
	}
	return hour, minute, nil
}

func validateClock(hour, minute int) error {
	in := fmt.Sprintf("%02d:%02d", hour, minute)
	if hour < 0 || hour > 23 {
		return &ClockParseError{Input: in, Reason: "hour out of range 0-23"}
	}
	if minute < 0 || minute > 59 {
		return &ClockParseError{Input: in, Reason: "minute out of range 0-59"}
	}
	return nil
}
