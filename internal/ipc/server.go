package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler processes IPC messages
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server is the IPC server that manages client connections
type Server struct {
	mu         sync.RWMutex
	listener   net.Listener
	socketPath string
	handler    Handler
	clients    map[string]*Client
	config     ServerConfig
	logger     *slog.Logger
	startedAt  time.Time

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	handled atomic.Uint64
}

// Client represents a connected client
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Version      string
	Name         string
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// Snapshot returns the handshake name and version reported by the client.
func (c *Client) Snapshot() (name, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Name, c.Version
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath     string // Unix socket path
	Version        string // Server version
	Enabled        bool   // Reported in the handshake
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	Logger         *slog.Logger
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(runtimeDir string) ServerConfig {
	return ServerConfig{
		SocketPath:     filepath.Join(runtimeDir, "autocheckout.sock"),
		Version:        "dev",
		Enabled:        true,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 16,
	}
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		socketPath: cfg.SocketPath,
		handler:    handler,
		config:     cfg,
		logger:     logger,
		clients:    make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.socketPath) {
		return fmt.Errorf("another daemon is listening on %s", s.socketPath)
	}
	if err := CleanupSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Owner only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc server shutdown timed out")
	}

	os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// StartedAt returns when the server started listening.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handled returns the number of requests answered so far.
func (s *Server) Handled() uint64 {
	return s.handled.Load()
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if ok, err := VerifyPeerIsCurrentUser(conn); err != nil || !ok {
			s.logger.Warn("rejecting connection from another user", "error", err)
			conn.Close()
			continue
		}

		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()

		if count >= s.config.MaxConnections {
			s.logger.Warn("connection limit reached", "max", s.config.MaxConnections)
			conn.Close()
			continue
		}

		client := &Client{
			ID:           uuid.NewString(),
			conn:         conn,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.config.ReadTimeout > 0 {
			client.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Debug("closing idle connection", "client", client.ID)
				return
			}
			s.logger.Debug("read failed", "client", client.ID, "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			s.logger.Error("request failed", "type", msg.Header.Type, "error", err)
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		s.handled.Add(1)

		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

// processMessage processes a single message
func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil

	case MsgHandshake:
		return s.handleHandshake(client, msg)

	default:
		if s.handler != nil {
			return s.handler.HandleMessage(s.ctx, client, msg)
		}
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
}

// handleHandshake processes handshake request
func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	client.mu.Lock()
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	client.mu.Unlock()

	s.logger.Debug("client connected", "client", client.ID, "name", req.ClientName, "version", req.ClientVersion)

	resp := &HandshakeResponse{
		ServerVersion:   s.config.Version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       client.ID,
		Enabled:         s.config.Enabled,
	}

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, resp)
}

// sendMessage sends a message to a client
func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return msg.Write(client.conn)
}
