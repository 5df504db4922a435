package procpool

import "context"

// Result is returned by Target.Invoke. It lets an action signal that the
// SignalHandler's main loop should exit once the next Update call completes.
type Result int

const (
	// Continue is the default Result: the main loop keeps running.
	Continue Result = iota
	// Break instructs the main loop to exit after the next Update call. No
	// action in the built-in Pool vocabulary returns this; it exists as an
	// extension point for custom actions that need to terminate the
	// supervisor from signal-triggered logic.
	Break
)

// Target is the object on which a SignalHandler invokes actions. The Pool
// implements Target, but anything exposing this small capability set (plus
// the optional Starter/Updater interfaces) can be driven by a SignalHandler.
type Target interface {
	// Invoke performs the named action. It returns ErrUnknownAction if the
	// target does not implement the action.
	Invoke(ctx context.Context, action string) (Result, error)
}

// Starter is implemented by targets that need a one-time setup call when the
// SignalHandler starts its main loop.
type Starter interface {
	Start(ctx context.Context) error
}

// Updater is implemented by targets that want to reconcile state between
// each dispatched signal. The Pool uses this to reap dead workers and spawn
// replacements.
type Updater interface {
	Update(ctx context.Context) error
}
