package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/mod/semver"
)

// DefaultTimeout bounds a module run when neither the task nor the
// executor sets a timeout.
const DefaultTimeout = 5 * time.Minute

// killGrace is how long Execute waits for output pipes to close after the
// process group was killed.
const killGrace = 2 * time.Second

// Executor runs registered modules as child processes.
type Executor struct {
	Registry       *Registry
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

func NewExecutor(reg *Registry) *Executor {
	return &Executor{Registry: reg, DefaultTimeout: DefaultTimeout}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs module name with params. A timeout of zero uses the
// executor default. A module that exits non-zero but still prints a valid
// result returns that result without error.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any, timeout time.Duration) (*Result, error) {
	path, ok := e.Registry.Lookup(name)
	if !ok {
		return nil, &NotFoundError{Name: name, Known: e.Registry.Names()}
	}
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if params == nil {
		params = map[string]any{}
	}
	input, err := json.Marshal(params)
	if err != nil {
		return nil, &ExecutionError{Module: name, Msg: "encoding parameters", Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, path)
	cmd.Stdin = bytes.NewReader(append(input, '\n'))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	configureProcessGroup(cmd)

	log := e.logger().With("module", name, "path", path)
	log.Debug("starting module", "timeout", timeout)
	start := time.Now()
	runErr := cmd.Run()
	log.Debug("module finished", "duration", time.Since(start), "error", runErr)

	if runCtx.Err() != nil {
		msg := fmt.Sprintf("execution timed out after %s", timeout)
		if ctx.Err() != nil {
			msg = "execution cancelled"
		}
		return nil, &ExecutionError{Module: name, Msg: msg, ExitCode: -1, Stderr: stderr.String(), Err: runCtx.Err()}
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &ExecutionError{Module: name, Msg: "failed to start", Err: runErr}
		}
		exitCode = exitErr.ExitCode()
	}

	res, err := DecodeResult(stdout.Bytes())
	if err != nil {
		return nil, &ExecutionError{
			Module:   name,
			Msg:      "invalid module output",
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      fmt.Errorf("%w; stdout: %q", err, truncate(stdout.String(), 512)),
		}
	}
	if exitCode != 0 && res.Success {
		log.Warn("module reported success with non-zero exit code", "exit_code", exitCode)
	}
	return res, nil
}

// VersionInfo is what a module reports for the version command.
type VersionInfo struct {
	ModuleName      string `json:"module_name"`
	ModuleVersion   string `json:"module_version"`
	ProtocolVersion string `json:"protocol_version"`
}

// Version asks module name for its version and checks that it speaks a
// compatible protocol.
func (e *Executor) Version(ctx context.Context, name string) (*VersionInfo, error) {
	res, err := e.Execute(ctx, name, map[string]any{CommandKey: "version"}, 0)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &ExecutionError{Module: name, Msg: "version command failed: " + res.Message}
	}
	info := &VersionInfo{
		ModuleName:      factString(res.Facts, "module_name"),
		ModuleVersion:   factString(res.Facts, "module_version"),
		ProtocolVersion: factString(res.Facts, "protocol_version"),
	}
	if !Compatible(info.ProtocolVersion) {
		return info, &ExecutionError{Module: name, Msg: fmt.Sprintf("incompatible protocol version %q, want %s", info.ProtocolVersion, ProtocolVersion)}
	}
	return info, nil
}

// Compatible reports whether protocol version v has the same major version
// as ProtocolVersion.
func Compatible(v string) bool {
	cv := canonical(v)
	if !semver.IsValid(cv) {
		return false
	}
	return semver.Major(cv) == semver.Major(canonical(ProtocolVersion))
}

// canonical adds the "v" prefix semver expects.
func canonical(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}

func factString(facts map[string]any, key string) string {
	if v, ok := facts[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
