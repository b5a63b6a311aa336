//go:build linux

package transport

import (
	"os/exec"
	"syscall"
)

// setProcessAttrs asks the kernel to kill the CLI if this process dies
// without running Close.
func setProcessAttrs(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
