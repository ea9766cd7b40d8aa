package app

import (
	"errors"
	"fmt"
	"strings"

	"idlesched/internal/actions"
	"idlesched/internal/config"
	"idlesched/internal/task/scheduler"
)

// Handler pairs a configured handler with its parsed specs.
type Handler struct {
	ID     string
	Time   scheduler.TimeSpec
	Idle   scheduler.IdleSpec
	Action actions.Spec
}

// ParseHandlers parses every enabled handler in declaration order. All
// problems are reported together.
func ParseHandlers(cfg *config.Config) ([]Handler, error) {
	var (
		out  []Handler
		errs []error
	)
	for i, hc := range cfg.Handlers {
		if !hc.IsEnabled() {
			continue
		}
		id := strings.TrimSpace(hc.ID)
		ts, err := scheduler.ParseTimeSpec(hc.Time)
		if err != nil {
			errs = append(errs, fmt.Errorf("handlers[%d] %q: time: %w", i, id, err))
			continue
		}
		is, err := scheduler.ParseIdleSpec(hc.Idle)
		if err != nil {
			errs = append(errs, fmt.Errorf("handlers[%d] %q: idle: %w", i, id, err))
			continue
		}
		out = append(out, Handler{ID: id, Time: ts, Idle: is, Action: actionSpec(hc.Action)})
	}
	return out, errors.Join(errs...)
}

// BuildEntries turns the enabled handlers of cfg into scheduler entries.
func BuildEntries(cfg *config.Config, b *actions.Builder) ([]scheduler.Entry, error) {
	hs, err := ParseHandlers(cfg)
	if err != nil {
		return nil, err
	}
	entries := make([]scheduler.Entry, 0, len(hs))
	var errs []error
	for _, h := range hs {
		cb, err := b.Build(h.ID, h.Action)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, scheduler.Entry{ID: h.ID, Time: h.Time, Idle: h.Idle, Callback: cb})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return entries, nil
}

func actionSpec(a config.ActionConfig) actions.Spec {
	return actions.Spec{
		Type:    a.Type,
		Message: a.Message,
		Command: a.Command,
		Args:    a.Args,
		Dir:     a.Dir,
		Env:     a.Env,
		Unit:    a.Unit,
		Op:      a.Op,
	}
}
