package app

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"streamcheck/pkg/logx"
)

// notifyReady tells systemd the service is up and, when WatchdogSec is
// configured on the unit, keeps the watchdog fed from a background
// goroutine. Outside systemd both calls are no-ops. The returned stop
// function sends STOPPING and ends the feeder.
func notifyReady(log logx.Logger) (stop func()) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	}
	if !sent {
		return func() {}
	}
	log.Debug("systemd readiness notified")

	done := make(chan struct{})
	interval, err := daemon.SdWatchdogEnabled(false)
	if err == nil && interval > 0 {
		go func() {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			close(done)
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		})
	}
}
