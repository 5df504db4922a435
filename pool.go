package procpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pool maintains a fixed-size set of identical worker processes produced by
// a single WorkerHandler. It implements Target so a SignalHandler can drive
// it directly, and Updater so the main loop reconciles it on every tick.
//
// This is the homogeneous, "pool of interchangeable workers" shape: unlike
// the heterogeneous supervision trees it is descended from (where different
// children can have different restart strategies), a Pool only ever
// replaces a dead worker with another instance of the same WorkerHandler —
// the conceptual equivalent of what a SimpleOneForOne strategy covers in a
// tree-shaped supervisor, specialized down to the one shape this package
// exists to support.
type Pool struct {
	// Name identifies the pool in logs, events, and metric labels.
	Name string
	// Handler produces worker processes for this pool.
	Handler *WorkerHandler
	// Options is passed verbatim to every Handler.Spawn call.
	Options map[string]string

	mu      sync.Mutex
	size    int
	workers []int
	// pendingReap holds PIDs that have already been signalled (by KillWorker)
	// but not yet confirmed exited. They are no longer counted as live, but
	// CleanupDeadWorkers and Wait must keep wait4()ing them or they zombie.
	pendingReap []int
	corrIDs     map[int]string // pid -> correlation ID, only populated when enabled
	stopped     bool

	eventHandlers []PoolEventHandler
	logger        *slog.Logger
	metrics       *poolMetrics

	backoff         BackoffPolicy
	maxRespawns     int
	respawnWindow   time.Duration
	respawnHistory  []time.Time
	correlationIDs  bool
	shutdownTimeout time.Duration

	pendingSize int
	hasPending  bool

	customActions map[string]func(ctx context.Context, p *Pool) (Result, error)
}

// NewPool creates a Pool of size workers produced by handler.
func NewPool(name string, handler *WorkerHandler, size int, opts ...PoolOption) *Pool {
	p := &Pool{
		Name:            name,
		Handler:         handler,
		size:            size,
		logger:          slog.Default(),
		backoff:         ExponentialBackoff(100*time.Millisecond, 5*time.Second),
		maxRespawns:     5,
		respawnWindow:   10 * time.Second,
		shutdownTimeout: 30 * time.Second,
		corrIDs:         make(map[int]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start converges the pool to Size by spawning workers, returning once
// len(workers) == Size.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	n := p.size - len(p.workers)
	p.mu.Unlock()
	if err := p.SpawnWorkers(n); err != nil {
		return err
	}
	return nil
}

// Stop kills all live workers with stop_forcefully, reaps them, and returns
// once workers is empty or shutdownTimeout elapses.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	n := len(p.workers)
	p.mu.Unlock()

	if n > 0 {
		if err := p.KillWorkers(n, "stop_forcefully"); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(p.shutdownTimeout)
	for {
		if err := p.CleanupDeadWorkers(false); err != nil {
			return err
		}
		p.mu.Lock()
		remaining := len(p.workers) + len(p.pendingReap)
		p.mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			p.logger.Warn("pool stop timed out waiting for workers to exit", "pool", p.Name, "remaining", remaining)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return nil
}

// Wait blocks until every currently-live worker, plus any worker already
// signalled via KillWorker but not yet confirmed exited, has been reaped.
func (p *Pool) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		remaining := len(p.workers) + len(p.pendingReap)
		p.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		if err := p.CleanupDeadWorkers(true); err != nil {
			return err
		}
	}
}

// Update reaps dead workers non-blockingly, then reconciles to Size using
// stop_gracefully as the action for any trimming this reconciliation needs
// to perform.
func (p *Pool) Update(ctx context.Context) error {
	if err := p.CleanupDeadWorkers(false); err != nil {
		return err
	}
	return p.MaintainWorkerCount("stop_gracefully")
}

// Resize schedules a change to the pool's target size. It takes effect the
// next time the reload action runs (see Invoke); it never itself spawns or
// kills, and Update's steady-state reconciliation ignores it until reload
// applies it — a plain crash respawn must not silently adopt a pending
// resize.
func (p *Pool) Resize(n int) {
	p.mu.Lock()
	p.pendingSize = n
	p.hasPending = true
	p.mu.Unlock()
}

// Size returns the pool's current target size.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Workers returns a snapshot of the currently tracked worker PIDs, in
// insertion order (oldest first).
func (p *Pool) Workers() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int{}, p.workers...)
}

// SpawnWorker produces one new worker via Handler.Spawn and tracks its PID.
func (p *Pool) SpawnWorker() error {
	pid, err := p.Handler.Spawn(p.Options)
	if err != nil {
		return fmt.Errorf("spawn worker for pool %q: %w", p.Name, err)
	}

	var corrID string
	if p.correlationIDs {
		corrID = uuid.NewString()
	}

	p.mu.Lock()
	p.workers = append(p.workers, pid)
	if corrID != "" {
		p.corrIDs[pid] = corrID
	}
	p.recordRespawn()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.spawnedTotal.Inc()
		p.metrics.workersLive.Inc()
	}
	p.emitEvent(PoolEvent{PID: pid, Type: WorkerSpawned, CorrelationID: corrID})
	return nil
}

// SpawnWorkers calls SpawnWorker n times, stopping at the first error.
func (p *Pool) SpawnWorkers(n int) error {
	for i := 0; i < n; i++ {
		if err := p.SpawnWorker(); err != nil {
			return err
		}
	}
	return nil
}

// KillWorker resolves action to a signal via Handler, sends it to pid, and
// moves pid from workers into pendingReap — it is no longer counted as live,
// but CleanupDeadWorkers (and Wait) still owe it a wait4() to confirm the
// reap and avoid leaving a zombie behind. An ESRCH (no such process) is
// treated as success; the PID is still moved to pendingReap so the eventual
// wait4() call, which will report ECHILD, still clears it out properly.
func (p *Pool) KillWorker(pid int, action string) error {
	sig, err := signalForHandler(p.Handler, action)
	if err != nil {
		return err
	}

	err = sendSignal(pid, sig)
	if err != nil && !errors.Is(err, errNoSuchProcess) {
		p.emitEvent(PoolEvent{PID: pid, Action: action, Type: WorkerKilled, Err: err})
		return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
	}

	corrID := p.markPendingReap(pid)
	if p.metrics != nil {
		p.metrics.killedTotal.WithLabelValues(action).Inc()
	}
	p.emitEvent(PoolEvent{PID: pid, Action: action, Type: WorkerKilled, CorrelationID: corrID})
	return nil
}

// KillWorkers kills the n most-recently-spawned workers, tail-first, so
// long-running workers accumulate at the head of workers.
func (p *Pool) KillWorkers(n int, action string) error {
	p.mu.Lock()
	if n > len(p.workers) {
		n = len(p.workers)
	}
	victims := make([]int, n)
	copy(victims, p.workers[len(p.workers)-n:])
	p.mu.Unlock()

	// Kill tail-first: victims is already oldest-to-newest within the tail
	// slice, so iterate in reverse to signal the newest worker first.
	for i := len(victims) - 1; i >= 0; i-- {
		if err := p.KillWorker(victims[i], action); err != nil {
			return err
		}
	}
	return nil
}

// CleanupDeadWorkers checks every tracked PID for exit, live workers and
// PIDs already signalled via KillWorker alike. In blocking mode it waits for
// each to exit; otherwise it probes without blocking. Exited PIDs (including
// ones already reaped elsewhere, reported as ECHILD) are removed from
// whichever set they were tracked in.
func (p *Pool) CleanupDeadWorkers(blocking bool) error {
	p.mu.Lock()
	pids := append([]int{}, p.workers...)
	pending := append([]int{}, p.pendingReap...)
	p.mu.Unlock()

	reap := func(pid int) (bool, error) {
		var exited bool
		var err error
		if blocking {
			err = waitBlocking(pid)
			exited = err == nil
		} else {
			exited, err = waitNonBlocking(pid)
		}
		if err != nil {
			return false, fmt.Errorf("reap pid %d: %w", pid, err)
		}
		return exited, nil
	}

	for _, pid := range pids {
		exited, err := reap(pid)
		if err != nil {
			return err
		}
		if exited {
			corrID := p.removeFromWorkers(pid)
			if p.metrics != nil {
				p.metrics.workersLive.Dec()
			}
			p.emitEvent(PoolEvent{PID: pid, Type: WorkerReaped, CorrelationID: corrID})
		}
	}

	for _, pid := range pending {
		exited, err := reap(pid)
		if err != nil {
			return err
		}
		if exited {
			corrID := p.removeFromPendingReap(pid)
			if p.metrics != nil {
				p.metrics.workersLive.Dec()
			}
			p.emitEvent(PoolEvent{PID: pid, Type: WorkerReaped, CorrelationID: corrID})
		}
	}
	return nil
}

// MaintainWorkerCount reconciles len(workers) to Size: trims with action if
// over, spawns replacements if under. If recent respawns have exceeded the
// configured intensity window, the spawn side is delayed by backoff and an
// IntensityExceeded event is emitted instead of spawning immediately.
func (p *Pool) MaintainWorkerCount(action string) error {
	p.mu.Lock()
	size := p.size
	current := len(p.workers)
	p.mu.Unlock()

	if current > size {
		return p.KillWorkers(current-size, action)
	}
	if current == size {
		p.emitEvent(PoolEvent{Type: PoolConverged})
		return nil
	}

	deficit := size - current

	p.mu.Lock()
	exceeded := p.intensityExceededLocked()
	respawns := len(p.respawnHistory)
	p.mu.Unlock()

	if exceeded {
		if p.metrics != nil {
			p.metrics.intensityHits.Inc()
		}
		p.emitEvent(PoolEvent{Type: IntensityExceeded, Err: ErrIntensityExceeded})
		time.Sleep(p.backoff.ComputeDelay(respawns))
	}

	return p.SpawnWorkers(deficit)
}

// Invoke implements Target. It dispatches the built-in stop_forcefully,
// stop_gracefully, and reload actions, then falls back to any action
// registered via WithAction.
func (p *Pool) Invoke(ctx context.Context, action string) (Result, error) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return Continue, ErrPoolStopped
	}

	switch action {
	case "stop_forcefully", "stop_gracefully":
		p.mu.Lock()
		n := len(p.workers)
		p.mu.Unlock()
		if n > 0 {
			if err := p.KillWorkers(n, action); err != nil {
				return Continue, err
			}
		}
		return Continue, nil
	case "reload":
		p.mu.Lock()
		if p.hasPending {
			p.size = p.pendingSize
			p.hasPending = false
		}
		p.mu.Unlock()
		if err := p.MaintainWorkerCount("stop_gracefully"); err != nil {
			return Continue, err
		}
		return Continue, nil
	}

	if fn, ok := p.customActions[action]; ok {
		return fn(ctx, p)
	}

	return Continue, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// SupportsAction implements ActionChecker.
func (p *Pool) SupportsAction(action string) bool {
	switch action {
	case "stop_forcefully", "stop_gracefully", "reload":
		return true
	}
	_, ok := p.customActions[action]
	return ok
}

// markPendingReap moves pid out of workers and into pendingReap, where it
// stays tracked as owed a wait4() until CleanupDeadWorkers (or Wait)
// confirms its exit. It returns pid's correlation ID, if tracking is
// enabled; the ID stays attached to pid until the reap is confirmed.
func (p *Pool) markPendingReap(pid int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w == pid {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	p.pendingReap = append(p.pendingReap, pid)
	return p.corrIDs[pid]
}

// removeFromWorkers deletes a confirmed-exited pid from workers and returns
// its correlation ID, forgetting it entirely. Used for workers that exited
// on their own, without ever going through KillWorker.
func (p *Pool) removeFromWorkers(pid int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w == pid {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	return p.forgetLocked(pid)
}

// removeFromPendingReap deletes a confirmed-exited pid from pendingReap and
// returns its correlation ID, forgetting it entirely.
func (p *Pool) removeFromPendingReap(pid int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.pendingReap {
		if w == pid {
			p.pendingReap = append(p.pendingReap[:i], p.pendingReap[i+1:]...)
			break
		}
	}
	return p.forgetLocked(pid)
}

// forgetLocked removes pid's correlation ID mapping. Callers must hold mu.
func (p *Pool) forgetLocked(pid int) string {
	corrID := p.corrIDs[pid]
	delete(p.corrIDs, pid)
	return corrID
}

// recordRespawn appends now to respawnHistory and trims entries older than
// respawnWindow. Must be called with mu held.
func (p *Pool) recordRespawn() {
	now := time.Now()
	p.respawnHistory = append(p.respawnHistory, now)
	cutoff := now.Add(-p.respawnWindow)
	i := 0
	for i < len(p.respawnHistory) && p.respawnHistory[i].Before(cutoff) {
		i++
	}
	p.respawnHistory = p.respawnHistory[i:]
}

// intensityExceededLocked reports whether respawnHistory already holds
// maxRespawns or more entries within the current window. Must be called
// with mu held.
func (p *Pool) intensityExceededLocked() bool {
	if p.maxRespawns <= 0 {
		return false
	}
	cutoff := time.Now().Add(-p.respawnWindow)
	count := 0
	for _, t := range p.respawnHistory {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= p.maxRespawns
}
