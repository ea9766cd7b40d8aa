package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Idle      IdleConfig      `json:"idle"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Handlers  []HandlerConfig `json:"handlers"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the timer scheduler.
//
// Step is the time-step unit as a Go duration string; it defaults to "1m".
// Timezone names the zone used for "HH:MM" handlers (default: local).
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Step     string `json:"step,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Dispatch queue tuning. Zero keeps defaults (256 / 200).
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// IdleConfig selects where idle time comes from.
//
// Source values:
//   - "manual" (default): idle since the last touch (POST /api/idle/touch)
//   - "logind": IdleSinceHint of the session manager over D-Bus
//   - "static": a fixed idle duration, mostly for testing handlers
type IdleConfig struct {
	Source     string `json:"source,omitempty"`
	StaticIdle string `json:"static_idle,omitempty"`
}

// StorageConfig controls the optional run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./idlesched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (health, metrics,
// pprof, timer and run views).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:6060"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// HandlerConfig declares one scheduled handler.
//
// Time is "never", "t" (every step), a positive step count or "HH:MM".
// Idle is empty (don't care), "t" (any idle) or a positive step count.
type HandlerConfig struct {
	ID      string       `json:"id"`
	Enabled *bool        `json:"enabled,omitempty"` // omitted means enabled
	Time    string       `json:"time"`
	Idle    string       `json:"idle,omitempty"`
	Action  ActionConfig `json:"action"`
}

func (h HandlerConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

// ActionConfig is what a handler does when it fires.
type ActionConfig struct {
	Type    string            `json:"type"`
	Message string            `json:"message,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Unit    string            `json:"unit,omitempty"`
	Op      string            `json:"op,omitempty"`
}

// UnmarshalJSON accepts either a bare scalar or a string for Time and Idle,
// so YAML like `time: 5` and `time: "5"` decode the same way. Unknown fields
// are still rejected.
func (h *HandlerConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		ID      string          `json:"id"`
		Enabled *bool           `json:"enabled,omitempty"`
		Time    json.RawMessage `json:"time"`
		Idle    json.RawMessage `json:"idle,omitempty"`
		Action  ActionConfig    `json:"action"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	timeStr, err := scalarString(t.Time)
	if err != nil {
		return err
	}
	idleStr, err := scalarString(t.Idle)
	if err != nil {
		return err
	}
	*h = HandlerConfig{ID: t.ID, Enabled: t.Enabled, Time: timeStr, Idle: idleStr, Action: t.Action}
	return nil
}

// scalarString renders a JSON string, number or null as a string.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
