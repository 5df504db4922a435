package procpool

import "errors"

var (
	// ErrAlreadyStarted is returned by SignalHandler.Start when a handler is
	// already installed process-wide.
	ErrAlreadyStarted = errors.New("signal handler already started")

	// ErrNotStarted is returned by SignalHandler operations that require a
	// running main loop.
	ErrNotStarted = errors.New("signal handler not started")

	// ErrDuplicateSignalMapping is returned when two keys in a signal mapping
	// normalize to the same signal name.
	ErrDuplicateSignalMapping = errors.New("duplicate signal mapping after normalization")

	// ErrUnknownAction is returned when an action name has no handler: either
	// a WorkerHandler has no signal configured for it, or a Target does not
	// implement it. It is also wrapped when a signal name is not recognized.
	ErrUnknownAction = errors.New("unknown action")

	// ErrPoolStopped is returned when an action is dispatched to a Pool whose
	// Stop has already completed.
	ErrPoolStopped = errors.New("pool is stopped")

	// ErrIntensityExceeded is emitted as a PoolEvent (not returned to
	// callers) when respawns exceed the configured intensity window. Unlike
	// the goroutine-supervision tree this is adapted from, it never brings
	// the Pool itself down — MaintainWorkerCount delays the next respawn by
	// the configured BackoffPolicy instead of aborting.
	ErrIntensityExceeded = errors.New("respawn intensity exceeded")
)
