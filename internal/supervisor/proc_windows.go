//go:build windows

package supervisor

import (
	"os/exec"
)

func configureWorkerProcess(cmd *exec.Cmd) {}

func terminateWorkerProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
