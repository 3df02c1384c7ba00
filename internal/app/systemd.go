package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "wikidaily/pkg/logx"
)

// Outside systemd NOTIFY_SOCKET is unset and these are no-ops.

func notifyReady(log logx.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd notify failed", logx.String("state", "ready"), logx.Err(err))
	} else if ok {
		log.Debug("systemd notified", logx.String("state", "ready"))
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("systemd notify failed", logx.String("state", "stopping"), logx.Err(err))
	}
}

// watchdog pings systemd at half the WatchdogSec interval while the
// supervisor is alive. Returns immediately when the watchdog is off.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return nil
	}
	if interval <= 0 {
		return nil
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
