package daemon

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocheckout/internal/checkout"
	"autocheckout/internal/config"
	"autocheckout/internal/ipc"
	"autocheckout/internal/logging"
	"autocheckout/internal/store"
)

type fakeNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (n *fakeNotifier) Notify(_ context.Context, _, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.bodies)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	sockDir, err := os.MkdirTemp("", "ackd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := config.DefaultConfig()
	cfg.Backend.Type = config.BackendWritable
	cfg.Backend.TimeoutMs = 2000
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.IPC.SocketPath = filepath.Join(sockDir, "d.sock")
	return cfg
}

// workspace lays out the save-all scenario on disk with read-only files.
func workspace(t *testing.T) (string, json.RawMessage) {
	t.Helper()
	root := t.TempDir()
	for _, rel := range []string{"ws.sln", "A/A.proj", "A/a.txt", "B/B.proj", "B/b.txt", "B/c.txt"} {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0444))
	}
	snap := map[string]any{
		"root":     root,
		"solution": map[string]any{"path": "ws.sln", "saved": false, "projects": []string{"A", "B"}},
		"projects": []map[string]any{
			{"id": "A", "path": "A/A.proj", "saved": true, "items": []map[string]any{
				{"saved": false, "files": []string{"A/a.txt"}},
			}},
			{"id": "B", "path": "B/B.proj", "saved": false, "items": []map[string]any{
				{"saved": true, "files": []string{"B/b.txt"}},
				{"saved": false, "files": []string{"B/c.txt"}},
			}},
		},
		"documents": []any{},
		"selection": []any{},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	return root, data
}

func startDaemon(t *testing.T, cfg *config.Config, opts Options) (*Daemon, *ipc.IPCClient) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	d, err := New(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Stop() })

	client := ipc.NewClient(ipc.ClientConfig{
		SocketPath:     d.SocketPath(),
		ClientName:     "test-host",
		ClientVersion:  "1",
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	return d, client
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.BackendConfig{Type: config.BackendPerforce, P4Binary: "p4"})
	require.NoError(t, err)
	assert.Equal(t, "perforce", b.Name())

	b, err = NewBackend(config.BackendConfig{Type: config.BackendWritable})
	require.NoError(t, err)
	assert.Equal(t, "writable", b.Name())

	_, err = NewBackend(config.BackendConfig{Type: "git"})
	assert.Error(t, err)
}

func TestSaveAllEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	d, client := startDaemon(t, cfg, Options{Version: "test"})
	root, snap := workspace(t)

	assert.True(t, client.Enabled())

	resp, err := client.Notify(context.Background(), ipc.MsgSaveAll, snap)
	require.NoError(t, err)
	assert.Equal(t, "save_all", resp.Kind)
	assert.Zero(t, resp.Failed)
	require.Len(t, resp.Results, 4)

	want := []string{"ws.sln", "A/a.txt", "B/B.proj", "B/c.txt"}
	for i, rel := range want {
		assert.Equal(t, filepath.Join(root, rel), resp.Results[i].Path)
		assert.True(t, checkout.IsWritable(resp.Results[i].Path))
	}

	hist, err := client.History(context.Background(), ipc.HistoryRequest{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hist.Entries, 4)
	for _, e := range hist.Entries {
		assert.Equal(t, resp.EventID, e.EventID)
		assert.Equal(t, "writable", e.Backend)
	}

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.Enabled)
	assert.True(t, status.History.Enabled)
	assert.Equal(t, store.LatestVersion(), status.History.SchemaVersion)
	assert.Equal(t, 1, status.Clients)
	assert.Equal(t, 4.0, status.Metrics[`autocheckout_backend_duration_seconds_count{backend="writable"}`])

	text, err := client.Metrics(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "# TYPE autocheckout_checkouts_total counter")
	assert.Contains(t, text, "autocheckout_checkouts_in_flight 0")

	assert.True(t, d.Subscribed())
}

func TestFeatureGateOff(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoCheckout.Enabled = false
	d, client := startDaemon(t, cfg, Options{})
	root, snap := workspace(t)

	assert.False(t, d.Subscribed())
	assert.False(t, client.Enabled())

	resp, err := client.Notify(context.Background(), ipc.MsgSaveAll, snap)
	require.NoError(t, err)
	assert.True(t, resp.Disabled)
	assert.Empty(t, resp.Results)

	info, err := os.Stat(filepath.Join(root, "ws.sln"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())

	recs, err := d.Store().Query(context.Background(), store.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFailureNotification(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoCheckout.NotifyOnFailure = true
	notifier := &fakeNotifier{}
	_, client := startDaemon(t, cfg, Options{Notifier: notifier})

	snap := json.RawMessage(`{
		"solution": {"path": "/nonexistent/ws.sln", "saved": false, "projects": []},
		"projects": [], "documents": [], "selection": []
	}`)

	resp, err := client.Notify(context.Background(), ipc.MsgSaveAll, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Failed)

	require.Eventually(t, func() bool { return notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	d, client := startDaemon(t, cfg, Options{})

	assert.Nil(t, d.Store())

	_, err := client.History(context.Background(), ipc.HistoryRequest{})
	var remote *ipc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ipc.ErrUnavailable, remote.Code)
}

func TestNewPrunesExpiredHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.RetentionDays = 30
	ctx := context.Background()

	s, err := store.Open(cfg.History.Path)
	require.NoError(t, err)
	for _, age := range []time.Duration{400 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		_, err := s.Insert(ctx, &store.Record{
			EventID: "old", EventKind: "manual", Backend: "writable", Path: "/p",
			Status: "succeeded", StartedNs: time.Now().Add(-age).UnixNano(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	d, err := New(cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer d.Stop()

	recs, err := d.Store().Query(ctx, store.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestNewKeepsHistoryWithoutRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.RetentionDays = 0
	ctx := context.Background()

	s, err := store.Open(cfg.History.Path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, &store.Record{EventID: "old", EventKind: "manual", Path: "/p", Status: "failed", StartedNs: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	d, err := New(cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer d.Stop()

	recs, err := d.Store().Query(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEdit(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer d.Stop()

	root, _ := workspace(t)
	a := filepath.Join(root, "A", "a.txt")

	s := d.Edit(context.Background(), []string{a, filepath.Join(root, "A", ".", "a.txt"), filepath.Join(root, "missing.txt")})
	assert.Equal(t, 2, s.Submitted())
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, checkout.EventManual, s.Event.Kind)
	assert.True(t, checkout.IsWritable(a))
}

func TestApplyUpdatesLogLevel(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer d.Stop()

	log := logging.NewWriter(io.Discard, nil)
	next := cfg.Clone()
	next.Backend.TimeoutMs = 1
	next.Logging.Level = "debug"
	d.Apply(next, log)

	assert.True(t, log.Enabled(context.Background(), logging.LevelDebug))
}
