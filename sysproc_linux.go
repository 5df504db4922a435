//go:build linux

package procpool

import "syscall"

// sysProcAttrForWorker puts each worker in its own process group so signals
// sent to the supervisor's group (e.g. a Ctrl-C from the controlling
// terminal) do not also land on workers outside of the Pool's own
// KillWorker/KillWorkers calls, and arranges for the kernel to deliver
// SIGKILL to the worker if the supervisor itself dies without a clean
// shutdown.
func sysProcAttrForWorker() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
