package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultStep = time.Minute
	minStep     = time.Second
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// StepDuration returns the configured time-step unit.
func (c SchedulerConfig) StepDuration() (time.Duration, error) {
	d, err := ParseDurationOrDefault("scheduler.step", c.Step, DefaultStep)
	if err != nil {
		return 0, err
	}
	if d < minStep {
		return 0, fmt.Errorf("scheduler.step: must be at least %s", minStep)
	}
	return d, nil
}

// Validate checks the structure of cfg. Handler time/idle expressions are
// checked by the scheduler when the config is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := cfg.Scheduler.StepDuration()
	add(err)
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Scheduler.QueueSize < 0 || cfg.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler: queue_size and history_size must be >= 0"))
	}

	switch src := strings.ToLower(strings.TrimSpace(cfg.Idle.Source)); src {
	case "", "manual", "logind":
	case "static":
		_, err := ParseDurationField("idle.static_idle", cfg.Idle.StaticIdle)
		add(err)
	default:
		add(fmt.Errorf("idle.source: unknown source %q", cfg.Idle.Source))
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %q", d))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
		if s.Retain < 0 {
			add(errors.New("storage.retain: must be >= 0"))
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"debug.read_timeout", cfg.Debug.ReadTimeout},
		{"debug.write_timeout", cfg.Debug.WriteTimeout},
		{"debug.idle_timeout", cfg.Debug.IdleTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	seen := make(map[string]int, len(cfg.Handlers))
	for i, h := range cfg.Handlers {
		path := fmt.Sprintf("handlers[%d]", i)
		id := strings.TrimSpace(h.ID)
		if id == "" {
			add(fmt.Errorf("%s.id: required", path))
			continue
		}
		if prev, dup := seen[id]; dup {
			add(fmt.Errorf("%s.id: %q already used by handlers[%d]", path, id, prev))
		}
		seen[id] = i
		switch strings.ToLower(strings.TrimSpace(h.Action.Type)) {
		case "", "log":
		case "exec":
			if strings.TrimSpace(h.Action.Command) == "" {
				add(fmt.Errorf("%s.action.command: required for exec", path))
			}
		case "unit":
			if strings.TrimSpace(h.Action.Unit) == "" {
				add(fmt.Errorf("%s.action.unit: required for unit", path))
			}
		default:
			add(fmt.Errorf("%s.action.type: unknown type %q", path, h.Action.Type))
		}
	}

	return errors.Join(errs...)
}
