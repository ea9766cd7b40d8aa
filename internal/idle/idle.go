// Package idle provides sources for "how long has the user been idle".
package idle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"idlesched/internal/clock"
	logx "idlesched/pkg/logx"
)

// Clock reports the time since the last user input. It never returns a
// negative duration.
type Clock interface {
	IdleDuration() time.Duration
}

// Seconds reports c in float seconds.
func Seconds(c Clock) float64 { return c.IdleDuration().Seconds() }

// Tracker is fed by input reporters through Touch. Idle time counts from the
// last Touch, or from construction.
type Tracker struct {
	clk  clock.Clock
	mu   sync.Mutex
	last time.Time
}

func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	return &Tracker{clk: clk, last: clk.Now()}
}

// Touch records user input now.
func (t *Tracker) Touch() {
	now := t.clk.Now()
	t.mu.Lock()
	if now.After(t.last) {
		t.last = now
	}
	t.mu.Unlock()
}

func (t *Tracker) LastInput() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) IdleDuration() time.Duration {
	now := t.clk.Now()
	t.mu.Lock()
	d := now.Sub(t.last)
	t.mu.Unlock()
	if d < 0 {
		return 0
	}
	return d
}

// Static always reports the same idle time.
type Static time.Duration

func (s Static) IdleDuration() time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s)
}

// Func adapts a function.
type Func func() time.Duration

func (f Func) IdleDuration() time.Duration {
	if d := f(); d > 0 {
		return d
	}
	return 0
}

const (
	SourceManual = "manual"
	SourceLogind = "logind"
	SourceStatic = "static"
)

type Config struct {
	Source string
	Static time.Duration
}

// Open builds the configured source. The manual source is a *Tracker; the
// logind source is a *Logind and must be closed.
func Open(cfg Config, clk clock.Clock, log logx.Logger) (Clock, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	src := strings.ToLower(strings.TrimSpace(cfg.Source))
	switch src {
	case "", SourceManual:
		return NewTracker(clk), nil
	case SourceStatic:
		return Static(cfg.Static), nil
	case SourceLogind:
		l, err := OpenLogind(clk, log)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown idle source %q", cfg.Source)
	}
}
