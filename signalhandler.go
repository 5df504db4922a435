package procpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	singletonMu sync.Mutex
	singleton   *SignalHandler
)

// SignalHandler installs OS signal dispositions, serializes caught signals
// into a bounded queue, wakes a single main loop via a self-pipe, and
// dispatches actions onto a Target. Exactly one SignalHandler may be started
// process-wide at a time, because OS signal dispositions are themselves
// process-global.
type SignalHandler struct {
	target         Target
	signalMappings map[string][]string // normalized signal name -> ordered actions
	reverseNames   map[syscall.Signal]string
	notifyCh       chan os.Signal

	queueMu sync.Mutex
	queue   []string

	readFile  *os.File
	writeFile *os.File

	done chan struct{}

	eventHandlers []SignalEventHandler
	logger        *slog.Logger
	notifier      daemonNotifier
	metrics       *signalMetrics
}

// SignalHandlerOption configures a SignalHandler before it starts.
type SignalHandlerOption func(*SignalHandler)

// NewSignalHandler creates an unstarted SignalHandler.
func NewSignalHandler(opts ...SignalHandlerOption) *SignalHandler {
	h := &SignalHandler{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithSignalEventHandler registers a callback for SignalHandler lifecycle
// events.
func WithSignalEventHandler(handler SignalEventHandler) SignalHandlerOption {
	return func(h *SignalHandler) {
		h.eventHandlers = append(h.eventHandlers, handler)
	}
}

// WithSignalLogger sets the structured logger used for diagnostics that are
// safe to emit outside the reader goroutine (queue-overflow diagnostics
// still go straight to stderr, per spec, to avoid slog's allocation and
// locking in that narrow path).
func WithSignalLogger(logger *slog.Logger) SignalHandlerOption {
	return func(h *SignalHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSystemdNotify enables sd_notify readiness and watchdog pings, riding
// the existing 1-second snooze heartbeat. It is a no-op outside of a
// systemd-managed unit (NOTIFY_SOCKET unset).
func WithSystemdNotify() SignalHandlerOption {
	return func(h *SignalHandler) {
		h.notifier = newSystemdNotifier(h.logger)
	}
}

// WithSignalMetrics enables Prometheus counters for dispatched/dropped
// signals, registered against reg.
func WithSignalMetrics(reg prometheusRegisterer) SignalHandlerOption {
	return func(h *SignalHandler) {
		h.metrics = newSignalMetrics(reg)
	}
}

// Start installs signal dispositions for every signal in signalMappings
// (a map from signal name to an action name or ordered list of action
// names), verifies target implements every referenced action when target
// implements ActionChecker, calls target.Start if target implements Starter,
// and launches the main loop. A target without ActionChecker is not checked
// at Start; an unknown action then surfaces as an Invoke error at dispatch.
//
// Start fails with ErrAlreadyStarted if a SignalHandler is already running
// process-wide.
func (h *SignalHandler) Start(signalMappings map[string]any, target Target) error {
	normalized, err := normalizeSignalMappings(signalMappings)
	if err != nil {
		return err
	}

	if checker, ok := target.(ActionChecker); ok {
		for _, actions := range normalized {
			for _, action := range actions {
				if !checker.SupportsAction(action) {
					return fmt.Errorf("%w: %q", ErrUnknownAction, action)
				}
			}
		}
	}

	singletonMu.Lock()
	if singleton != nil {
		singletonMu.Unlock()
		return ErrAlreadyStarted
	}

	reverse := make(map[syscall.Signal]string, len(normalized))
	sigs := make([]os.Signal, 0, len(normalized))
	for name := range normalized {
		sig, err := signalByName(name)
		if err != nil {
			singletonMu.Unlock()
			return err
		}
		reverse[sig] = name
		sigs = append(sigs, sig)
	}

	r, w, err := os.Pipe()
	if err != nil {
		singletonMu.Unlock()
		return fmt.Errorf("create self-pipe: %w", err)
	}

	h.target = target
	h.signalMappings = normalized
	h.reverseNames = reverse
	h.notifyCh = make(chan os.Signal, 16)
	h.readFile = r
	h.writeFile = w
	h.done = make(chan struct{})

	signal.Notify(h.notifyCh, sigs...)
	singleton = h
	singletonMu.Unlock()

	go h.readSignals()

	if starter, ok := target.(Starter); ok {
		if err := starter.Start(context.Background()); err != nil {
			h.Stop()
			return fmt.Errorf("target start: %w", err)
		}
	}

	if h.notifier != nil {
		h.notifier.Ready()
	}

	go h.mainLoop()

	return nil
}

// Stop restores original signal dispositions, then wakes the main loop with
// the reserved "STOP" message. It clears the singleton but does not block
// until the loop has actually exited — call Join for that.
func (h *SignalHandler) Stop() error {
	singletonMu.Lock()
	if singleton != h {
		singletonMu.Unlock()
		return ErrNotStarted
	}
	singleton = nil
	singletonMu.Unlock()

	signal.Stop(h.notifyCh)
	// SIGCHLD restoration quirk: if nothing else in the process re-installs
	// a SIGCHLD handler, explicitly reset it to DEFAULT rather than leaving
	// it in whatever state signal.Stop leaves an otherwise-unhandled signal,
	// so a PID-1-style reaper elsewhere in the process keeps working.
	if _, ok := h.reverseNames[syscall.SIGCHLD]; ok {
		signal.Reset(syscall.SIGCHLD)
	}

	if h.notifier != nil {
		h.notifier.Stopping()
	}

	h.Wakeup("STOP")
	return nil
}

// Join blocks until the main loop exits.
func (h *SignalHandler) Join() {
	if h.done == nil {
		return
	}
	<-h.done
}

// ResetForFork is called inside a freshly forked child, before it execs or
// runs its worker body. It drops the self-pipe without closing it (the
// child must not consume the parent's signals through a shared fd), restores
// original dispositions, and clears the singleton. It must never touch the
// signal queue — the child has its own and the parent's queue belongs to the
// parent's main loop.
//
// The default WorkerHandler.Spawn path execs immediately after forking
// (via os/exec), which already resets signal dispositions to default as a
// side effect of exec() itself, so ResetForFork exists for callers that
// supply a custom spawnFunc performing a bare fork without an immediate
// exec.
func (h *SignalHandler) ResetForFork() {
	singletonMu.Lock()
	if singleton == h {
		singleton = nil
	}
	singletonMu.Unlock()

	signal.Stop(h.notifyCh)
	if _, ok := h.reverseNames[syscall.SIGCHLD]; ok {
		signal.Reset(syscall.SIGCHLD)
	}
	h.readFile = nil
	h.writeFile = nil
}

// Wakeup performs a non-blocking write of msg to the self-pipe's write end.
// EAGAIN/EINTR are retried a bounded number of times; a full pipe is
// acceptable because the reader is already guaranteed to wake on its next
// pass regardless of whether this particular write lands.
func (h *SignalHandler) Wakeup(msg string) {
	if h.writeFile == nil {
		return
	}
	// SyscallConn keeps the pipe in non-blocking mode; Fd() would switch it
	// to blocking.
	rc, err := h.writeFile.SyscallConn()
	if err != nil {
		return
	}
	b := []byte(msg)
	for attempt := 0; attempt < 4; attempt++ {
		var werr error
		if err := rc.Write(func(fd uintptr) bool {
			_, werr = syscall.Write(int(fd), b)
			return true
		}); err != nil {
			return
		}
		if werr == nil {
			return
		}
		if werr == syscall.EAGAIN || werr == syscall.EINTR {
			continue
		}
		return
	}
}

// InjectSignal synthetically enqueues name as if the OS had delivered it.
// It exists for supplemental, non-OS trigger sources — such as
// ConfigReloadWatcher noticing a config file change — that want to drive
// the same action dispatch a real signal would, through the same bounded
// queue and wakeup path. name is normalized the same way signal mapping
// keys are; it must already be present in the mappings given to Start.
func (h *SignalHandler) InjectSignal(name string) error {
	normalized := normalizeSignalName(name)
	if _, ok := h.signalMappings[normalized]; !ok {
		return fmt.Errorf("%w: %q not present in configured signal mappings", ErrUnknownAction, normalized)
	}
	h.enqueue(normalized)
	return nil
}

// readSignals is the reader goroutine standing in for "signal-disposition
// context": it does the minimum possible work per signal — append a name to
// the bounded queue, then wake the main loop — and defers everything else
// (logging through slog, action dispatch, Update) to the main loop.
func (h *SignalHandler) readSignals() {
	for sig := range h.notifyCh {
		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		name, ok := h.reverseNames[s]
		if !ok {
			continue
		}
		h.enqueue(name)
	}
}

func (h *SignalHandler) enqueue(name string) {
	h.queueMu.Lock()
	if len(h.queue) >= 5 {
		h.queueMu.Unlock()
		fmt.Fprintf(os.Stderr, "procpool: signal queue full (5), dropping %s\n", name)
		if h.metrics != nil {
			h.metrics.dropped.Inc()
		}
		h.emitEvent(SignalEvent{Signal: name, Type: SignalDropped})
		return
	}
	h.queue = append(h.queue, name)
	h.queueMu.Unlock()
	h.Wakeup(".")
}

func (h *SignalHandler) popSignal() (string, bool) {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	if len(h.queue) == 0 {
		return "", false
	}
	name := h.queue[0]
	h.queue = h.queue[1:]
	return name, true
}

func (h *SignalHandler) queueEmpty() bool {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	return len(h.queue) == 0
}

// handleSignalQueue pops one signal, invokes each of its mapped actions on
// target in order, and returns the last action's result. It intentionally
// processes only one signal per call — Update must run between signals so
// reconciliation happens at every step, not just once per burst.
func (h *SignalHandler) handleSignalQueue(ctx context.Context) Result {
	name, ok := h.popSignal()
	if !ok {
		return Continue
	}

	h.emitEvent(SignalEvent{Signal: name, Type: SignalReceived})
	if h.metrics != nil {
		h.metrics.dispatched.Inc()
	}

	result := Continue
	for _, action := range h.signalMappings[name] {
		res, err := h.target.Invoke(ctx, action)
		h.emitEvent(SignalEvent{Signal: name, Action: action, Type: ActionInvoked, Err: err})
		if err != nil {
			h.logger.Error("action failed", "signal", name, "action", action, "error", err)
		}
		result = res
	}
	return result
}

// snooze blocks on the self-pipe's read end with a 1-second deadline,
// drains whatever is currently available once readable, and returns the
// concatenated payload (or "" on timeout). The 1-second tick guarantees
// liveness even if a Wakeup write is lost to a full pipe, and doubles as the
// cadence for the systemd watchdog ping when enabled.
func (h *SignalHandler) snooze() (string, error) {
	if err := h.readFile.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		return "", err
	}
	buf := make([]byte, 64)
	n, err := h.readFile.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if h.notifier != nil {
				h.notifier.Watchdog()
			}
			return "", nil
		}
		return "", err
	}

	data := append([]byte{}, buf[:n]...)
	for {
		if err := h.readFile.SetReadDeadline(time.Now()); err != nil {
			break
		}
		n2, err2 := h.readFile.Read(buf)
		if n2 > 0 {
			data = append(data, buf[:n2]...)
		}
		if err2 != nil {
			break
		}
	}
	if h.notifier != nil {
		h.notifier.Watchdog()
	}
	return string(data), nil
}

// mainLoop is the single background goroutine driving dispatch.
func (h *SignalHandler) mainLoop() {
	defer close(h.done)
	defer h.emitEvent(SignalEvent{Type: MainLoopStopping})

	ctx := context.Background()
	var msg string

	for {
		result := h.handleSignalQueue(ctx)

		if updater, ok := h.target.(Updater); ok {
			if err := updater.Update(ctx); err != nil {
				h.logger.Error("update failed", "error", err)
			}
		}

		if result == Break {
			return
		}

		msg = ""
		if h.queueEmpty() {
			m, err := h.snooze()
			if err != nil {
				h.logger.Error("snooze failed", "error", err)
				continue
			}
			msg = m
		}

		if msg == "STOP" {
			return
		}
	}
}

// ActionChecker is implemented by a Target that can report whether it
// supports a given action name, so SignalHandler.Start can fail fast at
// configuration time rather than the first time a signal arrives.
type ActionChecker interface {
	SupportsAction(action string) bool
}
