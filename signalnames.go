package procpool

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// namedSignals maps the bare, uppercase signal name (without the SIG prefix)
// to its syscall.Signal value. It covers the signals a worker supervisor
// realistically needs to map actions to; signalByName rejects unknown names
// with a clear error rather than silently mapping them to signal 0.
var namedSignals = map[string]syscall.Signal{
	"HUP":   syscall.Signal(unix.SIGHUP),
	"INT":   syscall.Signal(unix.SIGINT),
	"QUIT":  syscall.Signal(unix.SIGQUIT),
	"ILL":   syscall.Signal(unix.SIGILL),
	"TRAP":  syscall.Signal(unix.SIGTRAP),
	"ABRT":  syscall.Signal(unix.SIGABRT),
	"KILL":  syscall.Signal(unix.SIGKILL),
	"TERM":  syscall.Signal(unix.SIGTERM),
	"USR1":  syscall.Signal(unix.SIGUSR1),
	"USR2":  syscall.Signal(unix.SIGUSR2),
	"CHLD":  syscall.Signal(unix.SIGCHLD),
	"CONT":  syscall.Signal(unix.SIGCONT),
	"STOP":  syscall.Signal(unix.SIGSTOP),
	"TSTP":  syscall.Signal(unix.SIGTSTP),
	"PIPE":  syscall.Signal(unix.SIGPIPE),
	"ALRM":  syscall.Signal(unix.SIGALRM),
	"WINCH": syscall.Signal(unix.SIGWINCH),
}

// normalizeSignalName upper-cases name and ensures it carries the SIG
// prefix, e.g. "term" and "SIGTERM" both normalize to "SIGTERM".
func normalizeSignalName(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if strings.HasPrefix(upper, "SIG") {
		return upper
	}
	return "SIG" + upper
}

// signalByName resolves a normalized ("SIG<NAME>") or bare ("<NAME>") signal
// name to its syscall.Signal value.
func signalByName(name string) (syscall.Signal, error) {
	bare := strings.TrimPrefix(normalizeSignalName(name), "SIG")
	sig, ok := namedSignals[bare]
	if !ok {
		return 0, fmt.Errorf("%w: unrecognized signal name %q", ErrUnknownAction, name)
	}
	return sig, nil
}

// normalizeActionList coerces a signal-mapping value (a single action name
// or an ordered list of action names) into an ordered []string. Accepted
// input types are string, []string and []any whose entries are all strings,
// matching the shapes a config loader (TOML/YAML/JSON) would naturally
// produce.
func normalizeActionList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("signal mapping action list entries must be strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("signal mapping value must be a string or list of strings, got %T", v)
	}
}

// normalizeSignalMappings normalizes a raw signal-mapping configuration
// (signal name -> action name(s)) into normalized signal names mapped to
// ordered action lists. Normalization is idempotent: feeding its own output
// back in yields the same table, since normalizeSignalName and
// normalizeActionList are both idempotent on already-normalized input.
func normalizeSignalMappings(raw map[string]any) (map[string][]string, error) {
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		name := normalizeSignalName(k)
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSignalMapping, name)
		}
		actions, err := normalizeActionList(v)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", name, err)
		}
		out[name] = actions
	}
	return out, nil
}
