package main

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumlabs/conductor/pkg/modules"
)

func TestRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	tests := []struct {
		name       string
		params     modules.Params
		success    bool
		stdout     string
		exitCode   int
		wantErr    string
		wantStderr string
	}{
		{name: "shell pipeline", params: modules.Params{"cmd": "echo hello | tr a-z A-Z"}, success: true, stdout: "HELLO"},
		{name: "chdir", params: modules.Params{"cmd": "pwd", "chdir": dir}, success: true, stdout: dir},
		{name: "non-zero exit", params: modules.Params{"cmd": "echo err >&2; exit 3"}, exitCode: 3, wantStderr: "err"},
		{name: "direct exec", params: modules.Params{"cmd": "echo 'a  b' c", "use_shell": false}, success: true, stdout: "a  b c"},
		{name: "direct exec no shell syntax", params: modules.Params{"cmd": "echo $HOME", "use_shell": "no"}, success: true, stdout: "$HOME"},
		{name: "missing cmd", params: modules.Params{}, wantErr: "'cmd' is missing"},
		{name: "bad quoting", params: modules.Params{"cmd": "echo 'open", "use_shell": false}, wantErr: "parsing command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := run(context.Background(), tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)
			assert.True(t, res.Changed)
			assert.Equal(t, tt.exitCode, res.Facts["exit_code"])
			if tt.stdout != "" {
				assert.Equal(t, tt.stdout, res.Facts["stdout"])
			}
			if tt.wantStderr != "" {
				assert.Equal(t, tt.wantStderr, res.Facts["stderr"])
			}
		})
	}
}
