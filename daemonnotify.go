package procpool

import (
	"log/slog"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

// daemonNotifier abstracts systemd sd_notify calls so SignalHandler can call
// them unconditionally without branching on whether it is actually running
// under systemd — newSystemdNotifier degrades to a harmless no-op outside a
// NOTIFY_SOCKET environment (go-systemd itself reports that via its bool
// return value; we only log at debug level, never fail on it).
type daemonNotifier interface {
	Ready()
	Watchdog()
	Stopping()
}

type systemdNotifier struct {
	logger *slog.Logger
}

func newSystemdNotifier(logger *slog.Logger) daemonNotifier {
	return &systemdNotifier{logger: logger}
}

// Ready sends READY=1 once the Pool has converged to its target size.
func (n *systemdNotifier) Ready() {
	n.notify(sddaemon.SdNotifyReady, "ready")
}

// Watchdog sends WATCHDOG=1 on every snooze timeout tick, piggybacking on
// the spec's existing 1-second liveness heartbeat.
func (n *systemdNotifier) Watchdog() {
	n.notify(sddaemon.SdNotifyWatchdog, "watchdog")
}

// Stopping sends STOPPING=1 as SignalHandler.Stop begins shutdown.
func (n *systemdNotifier) Stopping() {
	n.notify(sddaemon.SdNotifyStopping, "stopping")
}

func (n *systemdNotifier) notify(state, label string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		n.logger.Debug("sd_notify failed", "state", label, "error", err)
		return
	}
	if !sent {
		// No NOTIFY_SOCKET; not running under systemd. Nothing to do.
		return
	}
	n.logger.Debug("sd_notify sent", "state", label)
}
