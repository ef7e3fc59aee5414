package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocheckout/internal/ipc"
	"autocheckout/internal/store"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, stdin string, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// writeConfig writes a config using the writable backend and a socket
// nobody listens on.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sockDir, err := os.MkdirTemp("", "ackc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	content := fmt.Sprintf(`version = 1

[backend]
type = "writable"
timeout_ms = 2000

[history]
enabled = true
path = %q

[logging]
level = "error"

[ipc]
socket_path = %q
`, filepath.Join(dir, "history.db"), filepath.Join(sockDir, "d.sock"))

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "autocheckout", rootCmd.Use)

	expected := []string{"serve", "notify", "edit", "history", "status", "metrics", "config"}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, cmdMap[name], "missing subcommand %q", name)
	}

	var notifySubs []string
	for _, c := range notifyCmd.Commands() {
		notifySubs = append(notifySubs, c.Name())
	}
	assert.ElementsMatch(t, []string{"before-save", "save-all", "save-selection"}, notifySubs)
}

func TestConfigShow(t *testing.T) {
	cfgFile := writeConfig(t)

	out, err := executeCommand(rootCmd, "", "-c", cfgFile, "config", "show", "-o", "json")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	backend := got["backend"].(map[string]any)
	assert.Equal(t, "writable", backend["type"])

	out, err = executeCommand(rootCmd, "", "-c", cfgFile, "config", "show", "-o", "toml")
	require.NoError(t, err)
	assert.Contains(t, out, `type = "writable"`)

	out, err = executeCommand(rootCmd, "", "-c", cfgFile, "config", "show", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "type: writable")
}

func TestConfigInitAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, err := executeCommand(rootCmd, "", "-c", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "not created")

	out, err = executeCommand(rootCmd, "", "-c", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = executeCommand(rootCmd, "", "-c", path, "config", "init")
	assert.Error(t, err)

	out, err = executeCommand(rootCmd, "", "-c", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "Active config")
}

func TestEditAndHistory(t *testing.T) {
	cfgFile := writeConfig(t)
	file := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n"), 0444))
	missing := filepath.Join(t.TempDir(), "missing.go")

	out, err := executeCommand(rootCmd, "", "-c", cfgFile, "edit", "-o", "json", file, file, missing)
	require.NoError(t, err)

	var resp ipc.NotifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "manual", resp.Kind)
	assert.Equal(t, 1, resp.Succeeded+resp.AlreadyEditable)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, 1, resp.Duplicates)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, file, resp.Results[0].Path)

	out, err = executeCommand(rootCmd, "", "-c", cfgFile, "history", "-o", "json", "-n", "10", "--path", file, "--status", "")
	require.NoError(t, err)
	var hist ipc.HistoryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, "manual", hist.Entries[0].EventKind)
	assert.Equal(t, "writable", hist.Entries[0].Backend)

	out, err = executeCommand(rootCmd, "", "-c", cfgFile, "history", "-o", "text", "-n", "10", "--path", "", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "missing.go")
	assert.NotContains(t, out, "main.go")
}

func TestHistoryRejectsUnknownStatus(t *testing.T) {
	cfgFile := writeConfig(t)

	_, err := executeCommand(rootCmd, "", "-c", cfgFile, "history", "--path", "", "--status", "faild")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestHistoryCaseInsensitivePath(t *testing.T) {
	cfgFile := writeConfig(t)
	f, err := os.OpenFile(cfgFile, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("\n[paths]\ncase_insensitive = true\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dir := t.TempDir()
	file := filepath.Join(dir, "Main.go")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err = executeCommand(rootCmd, "", "-c", cfgFile, "edit", "-o", "json", file)
	require.NoError(t, err)

	out, err := executeCommand(rootCmd, "", "-c", cfgFile, "history", "-o", "json", "--status", "",
		"--path", filepath.Join(dir, "MAIN.GO"))
	require.NoError(t, err)
	var hist ipc.HistoryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, file, hist.Entries[0].Path)
}

func TestHistoryPrune(t *testing.T) {
	cfgFile := writeConfig(t)
	dbPath := filepath.Join(filepath.Dir(cfgFile), "history.db")
	ctx := context.Background()

	s, err := store.Open(dbPath)
	require.NoError(t, err)
	for _, age := range []time.Duration{60 * 24 * time.Hour, time.Hour} {
		_, err := s.Insert(ctx, &store.Record{
			EventID: "e", EventKind: "manual", Path: "/p", Status: "succeeded",
			StartedNs: time.Now().Add(-age).UnixNano(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	_, err = executeCommand(rootCmd, "", "-c", cfgFile, "history", "prune", "--days", "0")
	assert.Error(t, err)

	out, err := executeCommand(rootCmd, "", "-c", cfgFile, "history", "prune", "--days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 checkout attempts")

	s, err = store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Query(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEditTextOutput(t *testing.T) {
	cfgFile := writeConfig(t)
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	out, err := executeCommand(rootCmd, "", "-c", cfgFile, "edit", "-o", "text", file)
	require.NoError(t, err)
	assert.Contains(t, out, "already_editable")
	assert.Contains(t, out, "0 succeeded, 1 already editable, 0 failed, 0 duplicates")
}

func TestNotifyDaemonNotRunning(t *testing.T) {
	cfgFile := writeConfig(t)
	snap := `{"solution": {"path": "/ws/ws.sln", "saved": false}}`

	_, err := executeCommand(rootCmd, snap, "-c", cfgFile, "notify", "save-all", "-o", "text")
	assert.ErrorIs(t, err, ipc.ErrDaemonNotRunning)
}

func TestNotifyRejectsInvalidSnapshot(t *testing.T) {
	cfgFile := writeConfig(t)

	_, err := executeCommand(rootCmd, `{"solution": {"saved": "no"}}`, "-c", cfgFile, "notify", "save-all", "-")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ipc.ErrDaemonNotRunning)
}

func TestStatusDaemonNotRunning(t *testing.T) {
	cfgFile := writeConfig(t)

	out, err := executeCommand(rootCmd, "", "-c", cfgFile, "status", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon is not running")
}

func TestWriteFormattedUnknown(t *testing.T) {
	err := writeFormatted(new(bytes.Buffer), "xml", struct{}{}, nil)
	assert.Error(t, err)
}
