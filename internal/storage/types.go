package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

const (
	DefaultRetain = 10000
	defaultLimit  = 50
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // records kept after compaction; 0 means DefaultRetain
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}

// RunRecord is one journaled invocation. Keep it compact and schema-stable.
type RunRecord struct {
	ID         string    `json:"id"`
	Handler    string    `json:"handler"`
	Trigger    string    `json:"trigger"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}
