package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocheckout/internal/logging"
	"autocheckout/internal/store"
)

func TestMessageRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	msg := NewMessage(MsgSaveAll, 42, payload)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(payload), buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSaveAll, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)
	assert.Equal(t, payload, got.Payload)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: 0xdeadbeef, Version: ProtocolVersion}
	require.NoError(t, h.Write(&buf))

	_, err := ReadHeader(&buf)
	assert.ErrorContains(t, err, "invalid magic")
}

func TestReadMessageRejectsHugePayload(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: MsgSaveAll, Length: MaxPayloadSize + 1}
	require.NoError(t, h.Write(&buf))

	_, err := ReadMessage(&buf)
	assert.ErrorContains(t, err, "payload too large")
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "save_selection", MsgSaveSelection.String())
	assert.Equal(t, "0x7777", MessageType(0x7777).String())
	assert.True(t, MsgBeforeSave.IsNotification())
	assert.False(t, MsgHistory.IsNotification())
}

// socketPath returns a short socket path; sun_path is limited to ~104 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "acko")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func startServer(t *testing.T, h Handler) (*Server, *IPCClient) {
	t.Helper()
	path := socketPath(t)

	cfg := DefaultServerConfig(filepath.Dir(path))
	cfg.SocketPath = path
	cfg.Version = "test"
	cfg.Logger = logging.Discard()
	srv := NewServer(cfg, h)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	ccfg := DefaultClientConfig(filepath.Dir(path))
	ccfg.SocketPath = path
	ccfg.RequestTimeout = 5 * time.Second
	client := NewClient(ccfg)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	return srv, client
}

type fakeNotifications struct {
	got []MessageType
	err error
}

func (f *fakeNotifications) HandleNotification(_ context.Context, t MessageType, payload []byte) (*NotifyResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, t)
	return &NotifyResponse{EventID: "ev", Kind: t.String(), Succeeded: 1,
		Results: []CheckoutInfo{{Path: string(payload), Status: "succeeded"}}}, nil
}

type fakeHistory struct {
	records []store.Record

	mu      sync.Mutex
	filters []store.Filter
}

func (f *fakeHistory) seen() []store.Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Filter(nil), f.filters...)
}

func (f *fakeHistory) Query(_ context.Context, filter store.Filter) ([]store.Record, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	var out []store.Record
	for _, r := range f.records {
		if filter.Status == "" || r.Status == filter.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) Schema(context.Context) (store.SchemaStatus, error) {
	return store.SchemaStatus{Version: 3, Latest: 3}, nil
}

func (f *fakeHistory) StatusCounts(context.Context) ([]store.StatusCount, error) {
	return []store.StatusCount{{Status: "failed", Count: 2}}, nil
}

func TestServerPingAndHandshake(t *testing.T) {
	srv, client := startServer(t, nil)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	assert.NotEmpty(t, client.SessionID())
	assert.True(t, client.Enabled())
	assert.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err := client.Status(ctx)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote, "no handler")
	assert.Equal(t, ErrInvalidRequest, remote.Code)
}

func TestDaemonHandlerNotification(t *testing.T) {
	notes := &fakeNotifications{}
	h := NewDaemonHandler(DaemonHandlerConfig{
		Version:       "test",
		Backend:       "perforce",
		Enabled:       true,
		Notifications: notes,
		Logger:        logging.Discard(),
	})
	srv, client := startServer(t, h)
	h.SetServer(srv)
	ctx := context.Background()

	resp, err := client.Notify(ctx, MsgSaveAll, "payload")
	require.NoError(t, err)
	assert.Equal(t, "save_all", resp.Kind)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, `"payload"`, resp.Results[0].Path)
	assert.Equal(t, []MessageType{MsgSaveAll}, notes.got)

	_, err = client.Notify(ctx, MsgHistory, nil)
	assert.Error(t, err, "only notification types are accepted")

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "perforce", status.Backend)
	assert.True(t, status.Enabled)
	assert.False(t, status.History.Enabled)
	assert.GreaterOrEqual(t, status.Handled, uint64(1))
}

func TestDaemonHandlerBadRequest(t *testing.T) {
	notes := &fakeNotifications{err: fmt.Errorf("%w: missing solution", ErrBadRequest)}
	h := NewDaemonHandler(DaemonHandlerConfig{Notifications: notes, Logger: logging.Discard()})
	_, client := startServer(t, h)

	_, err := client.Notify(context.Background(), MsgBeforeSave, map[string]any{})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)
	assert.Contains(t, remote.Details, "missing solution")

	// The connection stays usable after a remote error.
	assert.NoError(t, client.Ping(context.Background()))
}

func TestDaemonHandlerInternalError(t *testing.T) {
	notes := &fakeNotifications{err: errors.New("boom")}
	h := NewDaemonHandler(DaemonHandlerConfig{Notifications: notes, Logger: logging.Discard()})
	_, client := startServer(t, h)

	_, err := client.Notify(context.Background(), MsgSaveSelection, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInternalError, remote.Code)
}

func TestDaemonHandlerHistory(t *testing.T) {
	hist := &fakeHistory{records: []store.Record{
		{EventID: "a", Path: "/x", Status: "failed", Reason: "locked", DurationNs: int64(3 * time.Millisecond)},
		{EventID: "b", Path: "/y", Status: "succeeded"},
	}}
	h := NewDaemonHandler(DaemonHandlerConfig{History: hist, CaseFold: true, Logger: logging.Discard()})
	_, client := startServer(t, h)
	ctx := context.Background()

	resp, err := client.History(ctx, HistoryRequest{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	filters := hist.seen()
	require.Len(t, filters, 1)
	assert.True(t, filters[0].FoldCase)
	assert.Equal(t, "locked", resp.Entries[0].Reason)
	assert.Equal(t, int64(3), resp.Entries[0].DurationMs)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.History.Enabled)
	assert.Equal(t, int64(2), status.History.Counts["failed"])
	assert.Equal(t, 3, status.History.SchemaVersion)
}

func TestDaemonHandlerHistoryUnknownStatus(t *testing.T) {
	hist := &fakeHistory{}
	h := NewDaemonHandler(DaemonHandlerConfig{History: hist, Logger: logging.Discard()})
	_, client := startServer(t, h)

	_, err := client.History(context.Background(), HistoryRequest{Status: "faild"})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)
	assert.Empty(t, hist.seen())
}

func TestHistoryDisabled(t *testing.T) {
	h := NewDaemonHandler(DaemonHandlerConfig{Logger: logging.Discard()})
	_, client := startServer(t, h)

	_, err := client.History(context.Background(), HistoryRequest{})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrUnavailable, remote.Code)
}

type fakeMetrics struct{}

func (fakeMetrics) Snapshot() map[string]float64 {
	return map[string]float64{"checkouts_total": 3}
}

func (fakeMetrics) WritePrometheus(w io.Writer) error {
	_, err := io.WriteString(w, "checkouts_total 3\n")
	return err
}

func TestDaemonHandlerMetrics(t *testing.T) {
	h := NewDaemonHandler(DaemonHandlerConfig{Metrics: fakeMetrics{}, Logger: logging.Discard()})
	_, client := startServer(t, h)
	ctx := context.Background()

	text, err := client.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, "checkouts_total 3\n", text)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, status.Metrics["checkouts_total"])
}

func TestMetricsDisabled(t *testing.T) {
	h := NewDaemonHandler(DaemonHandlerConfig{Logger: logging.Discard()})
	_, client := startServer(t, h)

	_, err := client.Metrics(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrUnavailable, remote.Code)
}

func TestClientDaemonNotRunning(t *testing.T) {
	cfg := DefaultClientConfig(os.TempDir())
	cfg.SocketPath = socketPath(t)
	err := NewClient(cfg).Connect(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestServerRefusesSecondInstance(t *testing.T) {
	srv, _ := startServer(t, nil)

	cfg := DefaultServerConfig(filepath.Dir(srv.SocketPath()))
	cfg.SocketPath = srv.SocketPath()
	cfg.Logger = logging.Discard()
	err := NewServer(cfg, nil).Start()
	assert.ErrorContains(t, err, "another daemon")
}

func TestCleanupSocketRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	assert.Error(t, CleanupSocket(path))
	assert.NoError(t, CleanupSocket(filepath.Join(t.TempDir(), "missing")))
}
