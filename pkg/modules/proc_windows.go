//go:build windows

package modules

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var systemModulePaths []string

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// /T kills the whole process tree.
		_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
		return cmd.Process.Kill()
	}
}

func isExecutable(path string, info os.FileInfo) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd":
		return info.Mode().IsRegular()
	}
	return false
}
