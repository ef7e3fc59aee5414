package checkout

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExecutor struct {
	out  string
	err  error
	dir  string
	name string
	args []string
}

func (s *scriptedExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	s.dir, s.name, s.args = dir, name, args
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(s.out), s.err
}

func TestParseP4Edit(t *testing.T) {
	tests := []struct {
		name   string
		out    string
		status Status
		reason string
	}{
		{
			name:   "opened",
			out:    "info: //depot/src/a.cpp#4 - opened for edit\nexit: 0\n",
			status: Succeeded,
		},
		{
			name:   "already open",
			out:    "info: //depot/src/a.cpp#4 - currently opened for edit\nexit: 0\n",
			status: AlreadyEditable,
		},
		{
			name:   "opened for add",
			out:    "info: //depot/src/new.cpp - currently opened for add\nexit: 0\n",
			status: AlreadyEditable,
		},
		{
			name:   "also opened elsewhere",
			out:    "info: //depot/src/a.cpp#4 - opened for edit\ninfo: ... //depot/src/a.cpp - also opened by bob@bob-ws\nexit: 0\n",
			status: Succeeded,
		},
		{
			name:   "not on client",
			out:    "warning: /work/x.txt - file(s) not on client.\nexit: 1\n",
			status: Failed,
			reason: "/work/x.txt - file(s) not on client.",
		},
		{
			name:   "exclusive lock",
			out:    "error: //depot/bin/a.uasset - can't edit exclusive file already opened\nexit: 1\n",
			status: Failed,
			reason: "//depot/bin/a.uasset - can't edit exclusive file already opened",
		},
		{
			name:   "empty",
			out:    "",
			status: Failed,
			reason: "no output from p4",
		},
		{
			name:   "garbage",
			out:    "Perforce client error:\n\tConnect to server failed",
			status: Failed,
			reason: "unrecognized p4 output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseP4Edit([]byte(tt.out))
			assert.Equal(t, tt.status, res.Status)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, res.Reason)
			}
		})
	}
}

func TestPerforceArgs(t *testing.T) {
	p := NewPerforceBackend(PerforceConfig{Port: "ssl:p4:1666", User: "alice", Client: "alice-ws"})
	assert.Equal(t,
		[]string{"-s", "-p", "ssl:p4:1666", "-u", "alice", "-c", "alice-ws", "edit", "/w/a.txt"},
		p.Args("/w/a.txt"))

	bare := NewPerforceBackend(PerforceConfig{})
	assert.Equal(t, []string{"-s", "edit", "/w/a.txt"}, bare.Args("/w/a.txt"))
}

func TestPerforceOpenForEdit(t *testing.T) {
	path := filepath.Join("/work", "src", "a.cpp")
	exe := &scriptedExecutor{out: "info: //depot/src/a.cpp#1 - opened for edit\nexit: 0\n"}
	p := NewPerforceBackendWithExecutor(PerforceConfig{Binary: "/opt/p4"}, exe)

	res := p.OpenForEdit(context.Background(), path)
	assert.Equal(t, Succeeded, res.Status)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, "/opt/p4", exe.name)
	assert.Equal(t, filepath.Dir(path), exe.dir, "p4 runs from the file's directory")
	assert.Equal(t, "perforce", p.Name())
}

func TestPerforceExitErrorWithoutParsedReason(t *testing.T) {
	exitErr := exitError(t)
	exe := &scriptedExecutor{out: "info: //depot/a#1 - opened for edit\n", err: exitErr}
	p := NewPerforceBackendWithExecutor(PerforceConfig{}, exe)

	res := p.OpenForEdit(context.Background(), "/w/a")
	assert.Equal(t, Failed, res.Status)
	assert.Contains(t, res.Reason, "p4 exited with status")
}

func TestPerforceMissingBinary(t *testing.T) {
	exe := &scriptedExecutor{err: errors.New(`exec: "p4": executable file not found in $PATH`)}
	p := NewPerforceBackendWithExecutor(PerforceConfig{}, exe)

	res := p.OpenForEdit(context.Background(), "/w/a")
	assert.Equal(t, Failed, res.Status)
	assert.Contains(t, res.Reason, "executable file not found")
}

func TestPerforceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPerforceBackendWithExecutor(PerforceConfig{}, &scriptedExecutor{})
	res := p.OpenForEdit(ctx, "/w/a")
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, context.Canceled.Error(), res.Reason)
}

// exitError produces a real *exec.ExitError from a failing shell command.
func exitError(t *testing.T) error {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := exec.Command("sh", "-c", "exit 3").Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	return err
}

func TestWritableBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0444))

	b := NewWritableBackend()
	ctx := context.Background()

	res := b.OpenForEdit(ctx, path)
	if os.Geteuid() == 0 {
		// root may write anything, so the file already counts as editable.
		assert.Equal(t, AlreadyEditable, res.Status)
	} else {
		assert.Equal(t, Succeeded, res.Status)
		assert.True(t, IsWritable(path))
	}

	res = b.OpenForEdit(ctx, path)
	assert.Equal(t, AlreadyEditable, res.Status, "idempotent on an editable file")

	res = b.OpenForEdit(ctx, filepath.Join(dir, "missing.txt"))
	assert.Equal(t, Failed, res.Status)

	res = b.OpenForEdit(ctx, dir)
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, "is a directory", res.Reason)
}
