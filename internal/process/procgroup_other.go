//go:build !linux

package process

import (
	"os"
	"os/exec"
)

func setGroup(cmd *exec.Cmd) {
	// No-op: only the root process is terminated on non-linux systems.
}

func killGroup(proc *os.Process) {
	if proc == nil || proc.Pid <= 0 {
		return
	}
	_ = proc.Kill()
}

func groupAlive(int) bool { return false }
