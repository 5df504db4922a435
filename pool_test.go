package procpool

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

// fakeHandler returns a WorkerHandler whose spawnFunc hands out sequential
// fake PIDs without touching the OS, so Pool logic can be tested without
// real subprocesses. The returned PIDs are never real processes: KillWorker
// still calls the real sendSignal and CleanupDeadWorkers the real wait4, and
// they get ESRCH and ECHILD back, which Pool treats as already gone.
func fakeHandler(nextPID *atomic.Int32) *WorkerHandler {
	return NewWorkerHandler("fake",
		WithSignalMapping("stop_gracefully", "TERM"),
		WithSignalMapping("stop_forcefully", "KILL"),
		WithSpawnFunc(func(h *WorkerHandler, options map[string]string) (int, error) {
			// Offset well above any PID a real process could hold on this
			// host, so KillWorker's real syscall.Kill call reliably gets
			// ESRCH instead of accidentally signalling an unrelated process.
			return int(nextPID.Add(1)) + 1<<24, nil
		}),
	)
}

func TestPoolStartConverges(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.Workers()) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(pool.Workers()))
	}
}

func TestPoolSpawnWorkersOrderPreserved(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 0)

	if err := pool.SpawnWorkers(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	workers := pool.Workers()
	if len(workers) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(workers))
	}
	for i := 1; i < len(workers); i++ {
		if workers[i] <= workers[i-1] {
			t.Errorf("expected insertion order (ascending fake PIDs), got %v", workers)
		}
	}
}

func TestPoolKillWorkersTailFirst(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 0)
	_ = pool.SpawnWorkers(3)

	before := pool.Workers()
	oldest := before[0]

	var events []PoolEvent
	pool.eventHandlers = append(pool.eventHandlers, func(e PoolEvent) {
		events = append(events, e)
	})

	if err := pool.KillWorkers(2, "stop_forcefully"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining := pool.Workers()
	if len(remaining) != 1 || remaining[0] != oldest {
		t.Fatalf("expected only the oldest worker to survive, got %v", remaining)
	}

	var killedOrder []int
	for _, e := range events {
		if e.Type == WorkerKilled {
			killedOrder = append(killedOrder, e.PID)
		}
	}
	if len(killedOrder) != 2 {
		t.Fatalf("expected 2 WorkerKilled events, got %d", len(killedOrder))
	}
	if killedOrder[0] != before[2] || killedOrder[1] != before[1] {
		t.Errorf("expected newest-first kill order %v, %v; got %v", before[2], before[1], killedOrder)
	}
}

func TestPoolSupportsAction(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 0, WithAction("custom", func(ctx context.Context, p *Pool) (Result, error) {
		return Continue, nil
	}))

	for _, action := range []string{"stop_forcefully", "stop_gracefully", "reload", "custom"} {
		if !pool.SupportsAction(action) {
			t.Errorf("expected SupportsAction(%q) to be true", action)
		}
	}
	if pool.SupportsAction("nonexistent") {
		t.Error("expected SupportsAction(\"nonexistent\") to be false")
	}
}

func TestPoolInvokeCustomAction(t *testing.T) {
	var nextPID atomic.Int32
	var invoked atomic.Bool
	pool := NewPool("test", fakeHandler(&nextPID), 0, WithAction("custom", func(ctx context.Context, p *Pool) (Result, error) {
		invoked.Store(true)
		return Break, nil
	}))

	result, err := pool.Invoke(context.Background(), "custom")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != Break {
		t.Errorf("expected Break, got %v", result)
	}
	if !invoked.Load() {
		t.Error("expected custom action to run")
	}
}

func TestPoolInvokeUnknownAction(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 0)

	if _, err := pool.Invoke(context.Background(), "nonexistent"); err == nil {
		t.Error("expected ErrUnknownAction")
	}
}

func TestPoolResizeIsDeferredToReload(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 2)
	_ = pool.Start(context.Background())

	pool.Resize(5)
	if len(pool.Workers()) != 2 {
		t.Fatalf("expected Resize to have no immediate effect, got %d workers", len(pool.Workers()))
	}

	if _, err := pool.Invoke(context.Background(), "reload"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.Workers()) != 5 {
		t.Fatalf("expected reload to converge to the resized target, got %d workers", len(pool.Workers()))
	}
}

func TestPoolMaintainWorkerCountSpawnsDeficit(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 3)

	if err := pool.MaintainWorkerCount("stop_gracefully"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.Workers()) != 3 {
		t.Fatalf("expected pool to reach target size, got %d", len(pool.Workers()))
	}
}

func TestPoolMaintainWorkerCountTrimsSurplus(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 5)
	_ = pool.Start(context.Background())

	pool.mu.Lock()
	pool.size = 2 // MaintainWorkerCount reconciles against size directly; reload is what applies a pending Resize
	pool.mu.Unlock()

	if err := pool.MaintainWorkerCount("stop_gracefully"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.Workers()) != 2 {
		t.Fatalf("expected pool to trim to target size, got %d", len(pool.Workers()))
	}
}

func TestPoolIntensityThrottlesRespawns(t *testing.T) {
	var nextPID atomic.Int32
	pool := NewPool("test", fakeHandler(&nextPID), 0,
		WithIntensity(2, time.Minute),
		WithPoolBackoff(ConstantBackoff(10*time.Millisecond)),
	)

	var exceededCount int
	pool.eventHandlers = append(pool.eventHandlers, func(e PoolEvent) {
		if e.Type == IntensityExceeded {
			exceededCount++
		}
	})

	for i := 0; i < 4; i++ {
		pool.mu.Lock()
		pool.size = len(pool.workers) + 1
		pool.mu.Unlock()
		if err := pool.MaintainWorkerCount("stop_gracefully"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if exceededCount == 0 {
		t.Error("expected at least one IntensityExceeded event once the respawn window filled up")
	}
}

// realHandler builds a WorkerHandler with no spawnFunc override, so Spawn
// goes through the real execSpawn: a real fork/exec of /bin/sh running
// class, signalled with real syscall.Kill and reaped with real
// syscall.Wait4. Every other test in this file stubs spawnFunc with fake
// PIDs, so no real worker is ever spawned or signalled there; these tests
// exercise those real paths end to end.
func realHandler(t *testing.T, class string) *WorkerHandler {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available on PATH")
	}
	return NewWorkerHandler("real",
		WithWorkerClass(class),
		WithSignalMapping("stop_gracefully", "TERM"),
		WithSignalMapping("stop_forcefully", "KILL"),
	)
}

// pidExists probes pid with signal 0, which delivers no signal but still
// reports ESRCH once the PID is gone from the process table.
func pidExists(pid int) bool {
	return !errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestPoolRealProcessStopReapsWithoutZombie(t *testing.T) {
	handler := realHandler(t, "sleep 30")
	pool := NewPool("real-stop", handler, 1)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting pool: %v", err)
	}
	workers := pool.Workers()
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}
	pid := workers[0]

	if !pidExists(pid) {
		t.Fatalf("expected pid %d to be a running process right after spawn", pid)
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error stopping pool: %v", err)
	}
	if len(pool.Workers()) != 0 {
		t.Fatalf("expected Stop to leave no tracked workers, got %v", pool.Workers())
	}

	// A zombie is still visible to kill(pid, 0) until it is wait4()'d, so
	// this only passes once the kernel has actually collected the child.
	deadline := time.Now().Add(2 * time.Second)
	for pidExists(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("pid %d still present in the process table after Stop, likely a zombie", pid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPoolRealProcessKillThenWaitReaps(t *testing.T) {
	handler := realHandler(t, "sleep 30")
	pool := NewPool("real-wait", handler, 0)

	if err := pool.SpawnWorker(); err != nil {
		t.Fatalf("unexpected error spawning worker: %v", err)
	}
	workers := pool.Workers()
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}
	pid := workers[0]

	if err := pool.KillWorker(pid, "stop_forcefully"); err != nil {
		t.Fatalf("unexpected error killing worker: %v", err)
	}
	if len(pool.Workers()) != 0 {
		t.Fatalf("expected KillWorker to drop pid from the live set immediately")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		t.Fatalf("unexpected error from Wait: %v", err)
	}

	if pidExists(pid) {
		t.Fatalf("expected pid %d to be fully reaped after Wait, found it still present", pid)
	}
}
