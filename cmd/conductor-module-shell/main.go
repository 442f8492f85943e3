// Command conductor-module-shell runs a command and reports its output.
//
// Parameters:
//
//	cmd        command line to run (required)
//	chdir      working directory
//	use_shell  run through /bin/sh -c (default true); when false the
//	           command is split into arguments and executed directly
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"

	"github.com/fulcrumlabs/conductor/pkg/modules"
)

var version = "dev"

func main() {
	os.Exit(modules.Run(modules.Info{Name: "shell", Version: version}, run))
}

func run(ctx context.Context, params modules.Params) (*modules.Result, error) {
	command, ok := params.Required("cmd")
	if !ok {
		return nil, errors.New("required parameter 'cmd' is missing")
	}

	cmd, err := buildCommand(ctx, command, params.Bool("use_shell", true))
	if err != nil {
		return nil, err
	}
	cmd.Dir = params.String("chdir", "")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return modules.Failure(fmt.Sprintf("failed to run command: %v", err), map[string]any{"command": command}), nil
		}
		exitCode = exitErr.ExitCode()
	}

	facts := map[string]any{
		"stdout":    strings.TrimRight(stdout.String(), "\n"),
		"stderr":    strings.TrimRight(stderr.String(), "\n"),
		"exit_code": exitCode,
		"command":   command,
	}
	if exitCode != 0 {
		res := modules.Failure(fmt.Sprintf("command exited with code %d", exitCode), facts)
		res.Changed = true
		return res, nil
	}
	return modules.Success("command completed", true, facts), nil
}

func buildCommand(ctx context.Context, command string, useShell bool) (*exec.Cmd, error) {
	if useShell {
		return exec.CommandContext(ctx, "/bin/sh", "-c", command), nil
	}
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("command is empty")
	}
	return exec.CommandContext(ctx, args[0], args[1:]...), nil
}
