package scheduler

import (
	"context"
	"time"

	"idlesched/internal/task/engine"
)

const (
	DefaultStep = 60 * time.Second

	// immediateThreshold stands in for "any idleness at all".
	immediateThreshold = time.Millisecond

	// maxClockWait caps a single clock timer so daily deadlines are re-evaluated.
	maxClockWait = 24 * time.Hour

	// idlePeriodSlack tolerates jitter when matching an idle period already served.
	idlePeriodSlack = time.Second
)

// Config holds the scheduler-wide settings. Changing either field re-arms every timer.
type Config struct {
	Step     time.Duration
	Timezone string // IANA TZ for clock handlers; empty means Local
}

func (c Config) withDefaults() Config {
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	return c
}

// Callback is the action a handler performs. The context is cancelled when
// the dispatch engine stops.
type Callback func(ctx context.Context) error

// Entry is one handler definition as supplied to Replace.
type Entry struct {
	ID       string
	Time     TimeSpec
	Idle     IdleSpec
	Callback Callback
}

// IdleClock reports how long the user has been idle. Implementations must
// never return a negative duration.
type IdleClock interface {
	IdleDuration() time.Duration
}

// Kind is the mode of an active timer.
type Kind int

const (
	KindPeriodic Kind = iota + 1
	KindIdleWait
	// KindSpecialPeriodic is the one-shot idle wait that stands in for a
	// periodic timer whose idle gate failed; when it fires the periodic resumes.
	KindSpecialPeriodic
	// KindClock is a periodic timer whose period is recomputed at every fire.
	KindClock
)

func (k Kind) String() string {
	switch k {
	case KindPeriodic:
		return "periodic"
	case KindIdleWait:
		return "idle_wait"
	case KindSpecialPeriodic:
		return "special_periodic"
	case KindClock:
		return "clock"
	default:
		return "none"
	}
}

// Trigger names what caused an invocation.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerIdle     Trigger = "idle"
	TriggerSpecial  Trigger = "special"
	TriggerClock    Trigger = "clock"
)

// Run describes one finished callback invocation.
type Run struct {
	Handler  string        `json:"handler"`
	Trigger  Trigger       `json:"trigger"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Recorder persists finished runs. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordRun(ctx context.Context, r Run) error
}

// Observer receives scheduler lifecycle notifications, typically for metrics.
type Observer interface {
	HandlerInvoked(r Run)
	HandlerDeferred(id string)
	HandlerDiscarded(id string)
	TimersArmed(n int)
}

type nopObserver struct{}

func (nopObserver) HandlerInvoked(Run)      {}
func (nopObserver) HandlerDeferred(string)  {}
func (nopObserver) HandlerDiscarded(string) {}
func (nopObserver) TimersArmed(int)         {}

type zeroIdle struct{}

func (zeroIdle) IdleDuration() time.Duration { return 0 }

// HandlerInfo is the snapshot view of one registered handler.
type HandlerInfo struct {
	ID        string        `json:"id"`
	Seq       uint64        `json:"seq"`
	Time      string        `json:"time"`
	Idle      string        `json:"idle"`
	Kind      string        `json:"kind"`
	Due       time.Time     `json:"due,omitempty"`
	Period    time.Duration `json:"period,omitempty"`
	Threshold time.Duration `json:"threshold,omitempty"`
	Special   bool          `json:"special,omitempty"`
	Gen       uint64        `json:"generation,omitempty"`
	Next      []time.Time   `json:"next,omitempty"`
}

type Snapshot struct {
	Running  bool            `json:"running"`
	Step     time.Duration   `json:"step"`
	Timezone string          `json:"timezone"`
	Timers   int             `json:"timers"`
	Handlers []HandlerInfo   `json:"handlers"`
	Dispatch engine.Snapshot `json:"dispatch"`
}
