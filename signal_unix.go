//go:build !windows

package procpool

import (
	"errors"
	"syscall"
)

// errNoSuchProcess is returned by sendSignal when the target PID has
// already exited. Callers treat it as success: the worker is gone either
// way.
var errNoSuchProcess = errors.New("no such process")

// sendSignal delivers sig to pid, translating ESRCH into errNoSuchProcess so
// callers can treat "already exited" uniformly regardless of which syscall
// surfaced it.
func sendSignal(pid int, sig syscall.Signal) error {
	err := syscall.Kill(pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return errNoSuchProcess
	}
	return err
}
