package procpool

import (
	"context"
	"sync/atomic"
	"testing"
)

type fakeTarget struct {
	invocations []string
	supports    map[string]bool
	result      Result
	err         error
	started     atomic.Bool
	updated     atomic.Int32
}

func (f *fakeTarget) Invoke(ctx context.Context, action string) (Result, error) {
	f.invocations = append(f.invocations, action)
	return f.result, f.err
}

func (f *fakeTarget) Start(ctx context.Context) error {
	f.started.Store(true)
	return nil
}

func (f *fakeTarget) Update(ctx context.Context) error {
	f.updated.Add(1)
	return nil
}

func (f *fakeTarget) SupportsAction(action string) bool {
	return f.supports[action]
}

func TestSignalHandlerEnqueueDropsBeyondCapacity(t *testing.T) {
	h := NewSignalHandler()

	var dropped int
	h.eventHandlers = append(h.eventHandlers, func(e SignalEvent) {
		if e.Type == SignalDropped {
			dropped++
		}
	})

	for i := 0; i < 8; i++ {
		h.enqueue("SIGTERM")
	}

	h.queueMu.Lock()
	qlen := len(h.queue)
	h.queueMu.Unlock()

	if qlen != 5 {
		t.Errorf("expected queue capped at 5, got %d", qlen)
	}
	if dropped != 3 {
		t.Errorf("expected 3 drops for 8 enqueues against a 5-entry queue, got %d", dropped)
	}
}

func TestSignalHandlerPopSignalFIFO(t *testing.T) {
	h := NewSignalHandler()
	h.enqueue("SIGTERM")
	h.enqueue("SIGHUP")

	first, ok := h.popSignal()
	if !ok || first != "SIGTERM" {
		t.Fatalf("expected SIGTERM first, got %q, %v", first, ok)
	}
	second, ok := h.popSignal()
	if !ok || second != "SIGHUP" {
		t.Fatalf("expected SIGHUP second, got %q, %v", second, ok)
	}
	if !h.queueEmpty() {
		t.Error("expected queue to be empty after draining")
	}
}

func TestSignalHandlerHandleSignalQueueDispatchesMappedActions(t *testing.T) {
	target := &fakeTarget{result: Continue}
	h := NewSignalHandler()
	h.target = target
	h.signalMappings = map[string][]string{
		"SIGTERM": {"stop_gracefully", "stop_forcefully"},
	}
	h.enqueue("SIGTERM")

	result := h.handleSignalQueue(context.Background())
	if result != Continue {
		t.Errorf("expected Continue, got %v", result)
	}
	if len(target.invocations) != 2 || target.invocations[0] != "stop_gracefully" || target.invocations[1] != "stop_forcefully" {
		t.Errorf("expected both actions invoked in order, got %v", target.invocations)
	}
}

func TestSignalHandlerHandleSignalQueueEmptyIsNoop(t *testing.T) {
	target := &fakeTarget{}
	h := NewSignalHandler()
	h.target = target

	result := h.handleSignalQueue(context.Background())
	if result != Continue {
		t.Errorf("expected Continue on empty queue, got %v", result)
	}
	if len(target.invocations) != 0 {
		t.Errorf("expected no invocations on empty queue, got %v", target.invocations)
	}
}

func TestSignalHandlerInjectSignalRequiresMapping(t *testing.T) {
	h := NewSignalHandler()
	h.signalMappings = map[string][]string{"SIGHUP": {"reload"}}

	if err := h.InjectSignal("HUP"); err != nil {
		t.Fatalf("unexpected error for mapped signal: %v", err)
	}
	if h.queueEmpty() {
		t.Error("expected InjectSignal to enqueue the normalized signal name")
	}

	if err := h.InjectSignal("USR2"); err == nil {
		t.Error("expected error for a signal not present in the configured mappings")
	}
}

func TestSignalHandlerStartRejectsUnsupportedAction(t *testing.T) {
	target := &fakeTarget{supports: map[string]bool{"stop_gracefully": true}}
	h := NewSignalHandler()

	err := h.Start(map[string]any{"TERM": "reload"}, target)
	if err == nil {
		t.Fatal("expected an error because target does not support \"reload\"")
	}
}

func TestSignalHandlerStartStopLifecycle(t *testing.T) {
	target := &fakeTarget{supports: map[string]bool{"stop_gracefully": true}, result: Continue}
	h := NewSignalHandler()

	if err := h.Start(map[string]any{"USR1": "stop_gracefully"}, target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !target.started.Load() {
		t.Error("expected target.Start to have been called")
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("unexpected error from Stop: %v", err)
	}
	h.Join()
}
