package engine

import (
	"context"
	"time"
)

// Config controls the dispatch engine.
//
// The engine has exactly one worker: every task runs on the same logical
// timeline, one after another.
type Config struct {
	QueueSize   int
	HistorySize int

	// SlowTask is the duration above which a completed task is logged at info.
	SlowTask time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.SlowTask <= 0 {
		c.SlowTask = 750 * time.Millisecond
	}
	return c
}

// Task is a unit of work executed by the engine.
//
// Tasks drained together are ordered by Due and then by Seq, so two timers
// that fire at the same instant run in registration order.
type Task struct {
	ID   string
	Name string
	Due  time.Time
	Seq  uint64
	Run  func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	QueueLen int
	QueueCap int
	InFlight bool

	Executed uint64
	Failed   uint64
	Dropped  uint64

	History []HistoryItem
}
