package procpool

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// WorkerHandler is a factory bound to a worker class name, an environment
// preamble, and a signal-name table mapping action names (e.g.
// "stop_gracefully") to OS signal names (e.g. "TERM"). It produces child
// processes given a per-worker options map.
type WorkerHandler struct {
	// Name is the identifier used in logs and process naming.
	Name string
	// WorkerClass is the symbolic reference to the worker type, interpreted
	// by EnvPreamble. In this implementation it is the command line (after
	// shell word-splitting) that EnvPreamble must leave resolvable on PATH.
	WorkerClass string
	// EnvPreamble is a shell snippet evaluated in the child, before
	// WorkerClass is exec'd, so that WorkerClass becomes resolvable (e.g.
	// activating a virtualenv, sourcing rbenv, exporting a GOPATH-style
	// search path). The core treats it opaquely.
	EnvPreamble string
	// LoadPath holds extra search paths for the worker code, exported to the
	// child as GOVR_LOAD_PATH (colon-joined) so EnvPreamble can consult it.
	LoadPath []string

	signalMappings map[string]syscall.Signal
	logger         *slog.Logger

	// spawnFunc performs the actual fork/exec. It is overridable via
	// WithSpawnFunc so tests can exercise Pool/SignalHandler logic against a
	// predictable, short-lived command instead of relying on a real
	// interpreted worker class.
	spawnFunc func(h *WorkerHandler, options map[string]string) (int, error)
}

// NewWorkerHandler creates a WorkerHandler with the given name and options.
//
// Example:
//
//	h := procpool.NewWorkerHandler("app-worker",
//	    procpool.WithWorkerClass("myapp-worker"),
//	    procpool.WithEnvPreamble("export MYAPP_ENV=production"),
//	    procpool.WithSignalMapping("stop_gracefully", "TERM"),
//	    procpool.WithSignalMapping("stop_forcefully", "KILL"),
//	)
func NewWorkerHandler(name string, opts ...HandlerOption) *WorkerHandler {
	h := &WorkerHandler{
		Name:           name,
		signalMappings: make(map[string]syscall.Signal),
		logger:         slog.Default(),
	}
	h.spawnFunc = execSpawn

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SignalFor resolves an action name to the OS signal configured for it.
// Returns ErrUnknownAction if no signal is configured for action.
func (h *WorkerHandler) SignalFor(action string) (syscall.Signal, error) {
	sig, ok := h.signalMappings[action]
	if !ok {
		return 0, fmt.Errorf("%w: %q has no signal mapping on handler %q", ErrUnknownAction, action, h.Name)
	}
	return sig, nil
}

// Actions returns the configured action names in sorted order.
func (h *WorkerHandler) Actions() []string {
	out := make([]string, 0, len(h.signalMappings))
	for a := range h.signalMappings {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Spawn produces a fresh child process configured to run WorkerClass with
// options. The parent returns the child PID immediately without waiting.
func (h *WorkerHandler) Spawn(options map[string]string) (int, error) {
	pid, err := h.spawnFunc(h, options)
	if err != nil {
		return 0, err
	}
	h.logger.Debug("worker spawned", "handler", h.Name, "pid", pid)
	return pid, nil
}

// execSpawn is the default spawnFunc: it shells out, evaluating EnvPreamble
// and then exec'ing WorkerClass. Because exec() replaces the process image,
// any signal dispositions the supervisor installed are reset to default by
// the kernel itself for caught signals (POSIX exec semantics) — this is how
// the "child resets dispositions before running worker code" contract in
// the spec is satisfied without extra code in the child.
func execSpawn(h *WorkerHandler, options map[string]string) (int, error) {
	script := buildSpawnScript(h)

	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Env = buildSpawnEnv(h, options)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = sysProcAttrForWorker()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", h.WorkerClass, err)
	}

	pid := cmd.Process.Pid

	// The Pool reaps via syscall.Wait4 directly (see reap_unix.go), not via
	// cmd.Wait, so release the os/exec bookkeeping now rather than leaving a
	// goroutine or state that would conflict with a second waiter.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("worker started but failed to release: %w", err)
	}

	return pid, nil
}

func buildSpawnScript(h *WorkerHandler) string {
	var b strings.Builder
	if h.EnvPreamble != "" {
		b.WriteString(h.EnvPreamble)
		b.WriteString("\n")
	}
	b.WriteString("exec ")
	b.WriteString(h.WorkerClass)
	return b.String()
}

func buildSpawnEnv(h *WorkerHandler, options map[string]string) []string {
	env := os.Environ()
	if len(h.LoadPath) > 0 {
		env = append(env, "GOVR_LOAD_PATH="+strings.Join(h.LoadPath, ":"))
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "GOVR_OPT_"+strings.ToUpper(k)+"="+options[k])
	}
	return env
}
