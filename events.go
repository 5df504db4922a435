package procpool

import "time"

// PoolEventType represents the type of Pool lifecycle event.
type PoolEventType int

const (
	// WorkerSpawned is emitted when a worker process is started.
	WorkerSpawned PoolEventType = iota
	// WorkerKilled is emitted when a signal is sent to a worker to end it.
	WorkerKilled
	// WorkerReaped is emitted when a worker's exit has been collected.
	WorkerReaped
	// PoolConverged is emitted by MaintainWorkerCount each time it finds the
	// live worker count already equal to Size.
	PoolConverged
	// IntensityExceeded is emitted when respawns exceed the configured
	// intensity window; the respawn is delayed by the backoff policy rather
	// than aborting the Pool.
	IntensityExceeded
)

// String returns the string representation of a PoolEventType.
func (t PoolEventType) String() string {
	switch t {
	case WorkerSpawned:
		return "WorkerSpawned"
	case WorkerKilled:
		return "WorkerKilled"
	case WorkerReaped:
		return "WorkerReaped"
	case PoolConverged:
		return "PoolConverged"
	case IntensityExceeded:
		return "IntensityExceeded"
	default:
		return "Unknown"
	}
}

// PoolEvent represents a Pool lifecycle event. Events are emitted for
// significant state changes and can be used for logging, metrics
// collection, and monitoring.
type PoolEvent struct {
	// Time is when the event occurred.
	Time time.Time
	// PID is the worker process involved in the event (if applicable).
	PID int
	// Action is the action name that caused the event (e.g. "stop_gracefully"),
	// if applicable.
	Action string
	// Type is the type of event.
	Type PoolEventType
	// Err is any error associated with the event (if applicable).
	Err error
	// CorrelationID ties a spawn to its eventual exit/reap, even across PID
	// reuse by the OS. See WithCorrelationIDs.
	CorrelationID string
}

// PoolEventHandler is a function that processes Pool events. Multiple
// handlers can be registered with WithPoolEventHandler. Handlers should
// return quickly to avoid blocking the Pool.
type PoolEventHandler func(e PoolEvent)

// emitEvent sends an event to all registered event handlers.
func (p *Pool) emitEvent(e PoolEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, handler := range p.eventHandlers {
		handler(e)
	}
}

// SignalEventType represents the type of SignalHandler lifecycle event.
type SignalEventType int

const (
	// SignalReceived is emitted when a signal is popped off the queue for
	// dispatch.
	SignalReceived SignalEventType = iota
	// SignalDropped is emitted when the queue was full and a signal was
	// discarded.
	SignalDropped
	// ActionInvoked is emitted after an action has been invoked on the
	// target.
	ActionInvoked
	// MainLoopStopping is emitted when the main loop is about to exit.
	MainLoopStopping
)

// String returns the string representation of a SignalEventType.
func (t SignalEventType) String() string {
	switch t {
	case SignalReceived:
		return "SignalReceived"
	case SignalDropped:
		return "SignalDropped"
	case ActionInvoked:
		return "ActionInvoked"
	case MainLoopStopping:
		return "MainLoopStopping"
	default:
		return "Unknown"
	}
}

// SignalEvent represents a SignalHandler lifecycle event.
type SignalEvent struct {
	Time   time.Time
	Signal string
	Action string
	Type   SignalEventType
	Err    error
}

// SignalEventHandler processes SignalHandler events.
type SignalEventHandler func(e SignalEvent)

func (h *SignalHandler) emitEvent(e SignalEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, handler := range h.eventHandlers {
		handler(e)
	}
}
