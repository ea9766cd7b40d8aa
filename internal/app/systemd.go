package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "idlesched/pkg/logx"
)

// sdNotify reports state to systemd when running under Type=notify. Outside
// systemd it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Trace("sd_notify sent", logx.String("state", state))
	}
}

// runWatchdog pings the systemd watchdog at half the configured interval
// while healthy reports true. It returns at once when no watchdog is set.
func runWatchdog(ctx context.Context, log logx.Logger, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !healthy() {
				log.Warn("skipping watchdog ping: dispatch not running")
				continue
			}
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}
