package procpool

import (
	"context"
	"log/slog"
	"syscall"
	"time"
)

// HandlerOption configures a WorkerHandler at construction time.
type HandlerOption func(*WorkerHandler)

// WithWorkerClass sets the command line (after shell word-splitting) that
// EnvPreamble must leave resolvable on PATH.
func WithWorkerClass(class string) HandlerOption {
	return func(h *WorkerHandler) {
		h.WorkerClass = class
	}
}

// WithEnvPreamble sets a shell snippet evaluated in the child before
// WorkerClass is exec'd.
func WithEnvPreamble(preamble string) HandlerOption {
	return func(h *WorkerHandler) {
		h.EnvPreamble = preamble
	}
}

// WithLoadPath appends extra search paths exported to the child as
// GOVR_LOAD_PATH.
func WithLoadPath(paths ...string) HandlerOption {
	return func(h *WorkerHandler) {
		h.LoadPath = append(h.LoadPath, paths...)
	}
}

// WithSignalMapping maps action to the OS signal named by signalName (e.g.
// "TERM", "SIGTERM" — both normalize the same way).
func WithSignalMapping(action, signalName string) HandlerOption {
	return func(h *WorkerHandler) {
		sig, err := signalByName(signalName)
		if err != nil {
			// Caller error at construction time; surfaced the first time the
			// handler is used, via SignalFor returning ErrUnknownAction.
			return
		}
		h.signalMappings[action] = sig
	}
}

// WithHandlerLogger sets the WorkerHandler's structured logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *WorkerHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSpawnFunc overrides how child processes are produced. It exists
// primarily so tests can exercise Pool/SignalHandler logic against a
// predictable, short-lived stand-in instead of a real interpreted worker
// class.
func WithSpawnFunc(fn func(h *WorkerHandler, options map[string]string) (int, error)) HandlerOption {
	return func(h *WorkerHandler) {
		h.spawnFunc = fn
	}
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*Pool)

// WithPoolOptions sets the per-worker options map passed to every
// Handler.Spawn call.
func WithPoolOptions(options map[string]string) PoolOption {
	return func(p *Pool) {
		p.Options = options
	}
}

// WithPoolLogger sets the Pool's structured logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPoolEventHandler registers a callback for Pool lifecycle events.
func WithPoolEventHandler(handler PoolEventHandler) PoolOption {
	return func(p *Pool) {
		p.eventHandlers = append(p.eventHandlers, handler)
	}
}

// WithPoolBackoff sets the policy used to delay respawns once the configured
// intensity window is exceeded. Defaults to ExponentialBackoff(100ms, 5s).
func WithPoolBackoff(policy BackoffPolicy) PoolOption {
	return func(p *Pool) {
		p.backoff = policy
	}
}

// WithIntensity sets the respawn intensity window: at most maxRespawns
// respawns are allowed within window before MaintainWorkerCount starts
// applying the backoff delay and emitting IntensityExceeded events.
func WithIntensity(maxRespawns int, window time.Duration) PoolOption {
	return func(p *Pool) {
		p.maxRespawns = maxRespawns
		p.respawnWindow = window
	}
}

// WithPoolMetrics enables Prometheus counters/gauges for the Pool,
// registered against reg.
func WithPoolMetrics(reg prometheusRegisterer) PoolOption {
	return func(p *Pool) {
		p.metrics = newPoolMetrics(reg, p.Name)
	}
}

// WithCorrelationIDs assigns a fresh UUID to every spawned worker and
// threads it through the WorkerSpawned/WorkerKilled/WorkerReaped events for
// that worker, so a consumer can tie a spawn to its eventual exit even
// across PID reuse by the OS.
func WithCorrelationIDs() PoolOption {
	return func(p *Pool) {
		p.correlationIDs = true
	}
}

// WithShutdownTimeout bounds how long Stop waits for workers to exit after
// sending stop_forcefully before giving up on further reaping attempts and
// returning. It must be positive; non-positive values are ignored.
func WithShutdownTimeout(timeout time.Duration) PoolOption {
	return func(p *Pool) {
		if timeout > 0 {
			p.shutdownTimeout = timeout
		}
	}
}

// WithAction registers a custom action name on the Pool, dispatched through
// Invoke alongside the built-in stop_forcefully/stop_gracefully/reload
// vocabulary. fn receives the Pool so it can call its public operations.
func WithAction(name string, fn func(ctx context.Context, p *Pool) (Result, error)) PoolOption {
	return func(p *Pool) {
		if p.customActions == nil {
			p.customActions = make(map[string]func(ctx context.Context, p *Pool) (Result, error))
		}
		p.customActions[name] = fn
	}
}

// signalForHandler turns an action name into the syscall.Signal the
// WorkerHandler has it mapped to, surfacing ErrUnknownAction uniformly.
func signalForHandler(h *WorkerHandler, action string) (syscall.Signal, error) {
	return h.SignalFor(action)
}
