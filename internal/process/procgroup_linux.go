//go:build linux

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setGroup makes the child a process group leader so killGroup also reaches
// anything it forks.
func setGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(proc *os.Process) {
	if proc == nil || proc.Pid <= 0 {
		return
	}
	// Negative pid addresses the group created by Setpgid.
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil {
		if err == syscall.ESRCH {
			return
		}
		_ = proc.Kill()
	}
}

// groupAlive reports whether any process is left in the group led by pid.
func groupAlive(pid int) bool {
	return pid > 0 && syscall.Kill(-pid, 0) == nil
}
