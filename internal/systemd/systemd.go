// Package systemd integrates cmdsched with systemd service management.
//
// It wraps coreos/go-systemd to send sd_notify state changes (READY,
// RELOADING, STOPPING) and to ping the watchdog while the service is
// healthy. Every call is a no-op when NOTIFY_SOCKET is unset, so the same
// binary runs unchanged outside systemd.
package systemd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify sends one sd_notify state and reports whether it was delivered.
func notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("failed to send systemd notification",
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
		return false
	}
	if sent {
		slog.Debug("sent systemd notification", slog.String("state", state))
	}
	return sent
}

// NotifyReady tells systemd that all timers are registered (Type=notify).
func NotifyReady() bool {
	return notify(daemon.SdNotifyReady)
}

// NotifyReloading tells systemd the schedule is being rebuilt. Follow it
// with NotifyReady once the new schedule is live.
func NotifyReloading() bool {
	return notify(daemon.SdNotifyReloading)
}

// NotifyStopping tells systemd that shutdown has begun and in-flight
// commands are draining.
func NotifyStopping() bool {
	return notify(daemon.SdNotifyStopping)
}

// HealthCheckFunc returns true while the service is healthy.
type HealthCheckFunc func() bool

// StartWatchdog pings the systemd watchdog at half of WatchdogSec while
// healthy returns true. A failing health check withholds the ping, which
// lets systemd restart the service. It returns immediately when the
// watchdog is not enabled; otherwise pinging stops when ctx is cancelled.
func StartWatchdog(ctx context.Context, healthy HealthCheckFunc) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		slog.Debug("systemd watchdog not enabled")
		return
	}

	every := interval / 2
	slog.Info("starting systemd watchdog",
		slog.Duration("watchdog_interval", interval),
		slog.Duration("ping_interval", every),
	)

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !healthy() {
					slog.Warn("health check failed, skipping watchdog ping")
					continue
				}
				notify(daemon.SdNotifyWatchdog)
			}
		}
	}()
}

// UnderSystemd reports whether the process was started by systemd with
// notification support.
func UnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
