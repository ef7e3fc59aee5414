package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient is the client for communicating with the autocheckout daemon.
// Requests are serialized: one request is in flight at a time.
type IPCClient struct {
	mu        sync.Mutex
	conn      net.Conn
	nextReqID uint32
	sessionID string
	enabled   bool
	config    ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(runtimeDir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(runtimeDir, "autocheckout.sock"),
		ClientName:     "autocheckout",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	return &IPCClient{config: cfg}
}

// Connect dials the daemon and performs the handshake.
func (c *IPCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}
	c.conn = conn

	var ack HandshakeResponse
	err = c.call(ctx, MsgHandshake, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}, MsgHandshakeAck, &ack)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("handshake: %w", err)
	}

	c.sessionID = ack.SessionID
	c.enabled = ack.Enabled
	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *IPCClient) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SessionID returns the session ID assigned by the server
func (c *IPCClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Enabled reports whether the daemon has auto checkout enabled.
func (c *IPCClient) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// request sends a request and decodes the expected response.
func (c *IPCClient) request(ctx context.Context, msgType MessageType, payload any, want MessageType, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	err := c.call(ctx, msgType, payload, want, out)
	var remote *RemoteError
	if err != nil && !errors.As(err, &remote) {
		// The stream may be out of sync; force a reconnect.
		c.closeLocked()
	}
	return err
}

// call performs one round trip. c.mu must be held.
func (c *IPCClient) call(ctx context.Context, msgType MessageType, payload any, want MessageType, out any) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = Encode(payload); err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	c.nextReqID++
	reqID := c.nextReqID

	var deadline time.Time
	if c.config.RequestTimeout > 0 {
		deadline = time.Now().Add(c.config.RequestTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := NewMessage(msgType, reqID, data).Write(c.conn); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	for {
		resp, err := ReadMessage(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read response: %w", err)
		}
		if resp.Header.RequestID != reqID {
			continue
		}

		switch resp.Header.Type {
		case want:
			if out == nil || len(resp.Payload) == 0 {
				return nil
			}
			return Decode(resp.Payload, out)
		case MsgError:
			var e ErrorResponse
			if err := Decode(resp.Payload, &e); err != nil {
				return fmt.Errorf("decode error response: %w", err)
			}
			return &RemoteError{Code: e.Code, Message: e.Message, Details: e.Details}
		default:
			return fmt.Errorf("unexpected response type: %s", resp.Header.Type)
		}
	}
}

// Ping checks that the daemon answers.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.request(ctx, MsgPing, nil, MsgPong, nil)
}

// Status returns daemon status.
func (c *IPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.request(ctx, MsgStatusRequest, nil, MsgStatusResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Notify delivers a host notification and waits until it was handled.
func (c *IPCClient) Notify(ctx context.Context, msgType MessageType, payload any) (*NotifyResponse, error) {
	if !msgType.IsNotification() {
		return nil, fmt.Errorf("%s is not a notification", msgType)
	}
	var resp NotifyResponse
	if err := c.request(ctx, msgType, payload, MsgNotifyAck, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History queries checkout history.
func (c *IPCClient) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.request(ctx, MsgHistory, &req, MsgHistoryResp, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics returns daemon metrics in Prometheus text format.
func (c *IPCClient) Metrics(ctx context.Context) (string, error) {
	var resp MetricsResponse
	if err := c.request(ctx, MsgMetrics, nil, MsgMetricsResp, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}
