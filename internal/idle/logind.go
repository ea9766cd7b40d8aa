package idle

import (
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/time/rate"

	"idlesched/internal/clock"
	logx "idlesched/pkg/logx"
)

const (
	logindDest     = "org.freedesktop.login1"
	logindPath     = dbus.ObjectPath("/org/freedesktop/login1")
	propIdleHint   = "org.freedesktop.login1.Manager.IdleHint"
	propIdleSince  = "org.freedesktop.login1.Manager.IdleSinceHint"
	logindWarnEach = time.Minute
)

// Logind reads the seat idle hint from systemd-logind on the system bus.
// Read errors count as "not idle".
type Logind struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	clk  clock.Clock
	log  logx.Logger
	warn rate.Sometimes
}

func OpenLogind(clk clock.Clock, log logx.Logger) (*Logind, error) {
	if clk == nil {
		clk = clock.System()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	l := &Logind{
		conn: conn,
		obj:  conn.Object(logindDest, logindPath),
		clk:  clk,
		log:  log.With(logx.String("comp", "idle.logind")),
		warn: rate.Sometimes{Interval: logindWarnEach},
	}
	// Fail early when logind is not there.
	if _, err := l.read(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *Logind) IdleDuration() time.Duration {
	d, err := l.read()
	if err != nil {
		l.warn.Do(func() { l.log.Warn("logind idle hint unavailable", logx.Err(err)) })
		return 0
	}
	return d
}

func (l *Logind) read() (time.Duration, error) {
	hint, err := l.obj.GetProperty(propIdleHint)
	if err != nil {
		return 0, fmt.Errorf("read IdleHint: %w", err)
	}
	idle, ok := hint.Value().(bool)
	if !ok {
		return 0, errors.New("IdleHint is not a bool")
	}
	if !idle {
		return 0, nil
	}
	since, err := l.obj.GetProperty(propIdleSince)
	if err != nil {
		return 0, fmt.Errorf("read IdleSinceHint: %w", err)
	}
	usec, ok := since.Value().(uint64)
	if !ok {
		return 0, errors.New("IdleSinceHint is not a uint64")
	}
	if usec == 0 {
		return 0, nil
	}
	d := l.clk.Now().Sub(time.UnixMicro(int64(usec)))
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (l *Logind) Close() error { return l.conn.Close() }
