//go:build !linux

package procpool

import "syscall"

// sysProcAttrForWorker puts each worker in its own process group so signals
// sent to the supervisor's group do not also land on workers outside of the
// Pool's own KillWorker/KillWorkers calls. Pdeathsig is Linux-specific and
// has no portable equivalent here.
func sysProcAttrForWorker() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
