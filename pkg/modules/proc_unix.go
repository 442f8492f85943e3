//go:build !windows

package modules

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var systemModulePaths = []string{"/usr/local/lib/conductor/modules"}

// configureProcessGroup starts the module in its own process group so that
// cancellation also kills anything it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}

func isExecutable(_ string, info os.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
