// Package actions builds scheduler callbacks from declarative handler config.
//
// Three action types exist: "log" writes a line, "exec" runs a command and
// "unit" starts, stops or restarts a systemd unit over D-Bus. Actions inherit
// the scheduler's run context; they have no timeout of their own.
package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"unicode/utf8"

	"idlesched/internal/task/scheduler"
	logx "idlesched/pkg/logx"
)

const (
	TypeLog  = "log"
	TypeExec = "exec"
	TypeUnit = "unit"

	maxOutputLog = 512
)

var ErrInvalidAction = errors.New("invalid action")

// Spec describes one action.
type Spec struct {
	Type    string
	Message string

	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	Unit string
	Op   string // start | stop | restart
}

// UnitController manages systemd units.
type UnitController interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
}

type Builder struct {
	log   logx.Logger
	units UnitController
}

type Option func(*Builder)

// WithUnits overrides the systemd controller used by "unit" actions.
func WithUnits(u UnitController) Option { return func(b *Builder) { b.units = u } }

func NewBuilder(log logx.Logger, opts ...Option) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Builder{log: log.With(logx.String("comp", "actions"))}
	for _, o := range opts {
		o(b)
	}
	if b.units == nil {
		b.units = NewSystemdUnits()
	}
	return b
}

// Build validates s and returns the callback for handler id.
func (b *Builder) Build(id string, s Spec) (scheduler.Callback, error) {
	log := b.log.With(logx.String("handler", id))
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "", TypeLog:
		msg := strings.TrimSpace(s.Message)
		if msg == "" {
			msg = "handler fired"
		}
		return func(context.Context) error {
			log.Info(msg)
			return nil
		}, nil

	case TypeExec:
		if strings.TrimSpace(s.Command) == "" {
			return nil, fmt.Errorf("%w: handler %q: exec requires command", ErrInvalidAction, id)
		}
		return b.execCallback(log, s), nil

	case TypeUnit:
		unit := unitName(s.Unit)
		if unit == "" {
			return nil, fmt.Errorf("%w: handler %q: unit requires unit name", ErrInvalidAction, id)
		}
		op, err := b.unitOp(s.Op)
		if err != nil {
			return nil, fmt.Errorf("%w: handler %q: %v", ErrInvalidAction, id, err)
		}
		return func(ctx context.Context) error {
			if err := op(ctx, unit); err != nil {
				return err
			}
			log.Info("unit action done", logx.String("unit", unit), logx.String("op", s.Op))
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: handler %q: unknown type %q", ErrInvalidAction, id, s.Type)
	}
}

func (b *Builder) execCallback(log logx.Logger, s Spec) scheduler.Callback {
	args := append([]string(nil), s.Args...)
	env := mergeEnv(s.Env)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, s.Command, args...)
		cmd.Dir = s.Dir
		if env != nil {
			cmd.Env = env
		}
		out, err := cmd.CombinedOutput()
		tail := truncate(strings.TrimSpace(string(out)), maxOutputLog)
		if err != nil {
			if tail != "" {
				return fmt.Errorf("%s: %w: %s", s.Command, err, tail)
			}
			return fmt.Errorf("%s: %w", s.Command, err)
		}
		log.Debug("exec action done", logx.String("command", s.Command), logx.String("output", tail))
		return nil
	}
}

func (b *Builder) unitOp(op string) (func(context.Context, string) error, error) {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "", "restart":
		return b.units.Restart, nil
	case "start":
		return b.units.Start, nil
	case "stop":
		return b.units.Stop, nil
	default:
		return nil, fmt.Errorf("unknown unit op %q", op)
	}
}

// mergeEnv returns nil when extra is empty so the child inherits the environment.
func mergeEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func unitName(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.Contains(u, ".") {
		return u
	}
	return u + ".service"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s + "…"
}
