package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// SystemdUnits drives units through the system manager. The D-Bus connection
// is opened on first use and reopened after a failure.
type SystemdUnits struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewSystemdUnits() *SystemdUnits { return &SystemdUnits{} }

func (u *SystemdUnits) Start(ctx context.Context, unit string) error {
	return u.do(ctx, "start", unit, func(c *dbus.Conn) (int, error) {
		return c.StartUnitContext(ctx, unit, "replace", nil)
	})
}

func (u *SystemdUnits) Stop(ctx context.Context, unit string) error {
	return u.do(ctx, "stop", unit, func(c *dbus.Conn) (int, error) {
		return c.StopUnitContext(ctx, unit, "replace", nil)
	})
}

func (u *SystemdUnits) Restart(ctx context.Context, unit string) error {
	return u.do(ctx, "restart", unit, func(c *dbus.Conn) (int, error) {
		return c.RestartUnitContext(ctx, unit, "replace", nil)
	})
}

func (u *SystemdUnits) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	return nil
}

func (u *SystemdUnits) do(ctx context.Context, op, unit string, fn func(*dbus.Conn) (int, error)) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil || !u.conn.Connected() {
		conn, err := dbus.NewSystemConnectionContext(ctx)
		if err != nil {
			return fmt.Errorf("connect to systemd: %w", err)
		}
		u.conn = conn
	}
	if _, err := fn(u.conn); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}
	return nil
}
