// Package procpool supervises a fixed-size pool of worker subprocesses on a
// POSIX host. It spawns workers to a configured target count, observes their
// liveness, replaces those that die, and drives lifecycle transitions
// (graceful shutdown, forced termination, reload) in response to asynchronous
// OS signals delivered to the supervisor process.
//
// The package is split into two tightly coupled pieces:
//
//   - Pool manages the set of live child PIDs: spawning, killing with
//     per-action signals, reaping, and converging the live count toward a
//     target size.
//   - SignalHandler converts asynchronous OS signal delivery into a
//     serialized stream of actions dispatched onto a Target (typically a
//     Pool) from a single main loop, so that richer behavior never runs in
//     signal-disposition context.
//
// Basic usage:
//
//	handler := procpool.NewWorkerHandler("worker",
//	    procpool.WithWorkerClass("myapp.Worker"),
//	    procpool.WithSignalMapping("stop_gracefully", "TERM"),
//	    procpool.WithSignalMapping("stop_forcefully", "KILL"),
//	)
//
//	pool := procpool.NewPool("app-workers", handler, 4,
//	    procpool.WithPoolOptions(map[string]string{"queue": "default"}),
//	)
//
//	sh := procpool.NewSignalHandler()
//	err := sh.Start(map[string]any{
//	    "TERM": "stop_gracefully",
//	    "INT":  "stop_gracefully",
//	    "QUIT": "stop_forcefully",
//	    "HUP":  "reload",
//	}, pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sh.Join()
package procpool
