// Package ipc carries host notifications and control requests between
// editor plugins, the CLI and the autocheckout daemon.
//
// Every message is a fixed 16-byte header followed by a JSON payload.
// Requests are answered on the same connection with the same request ID.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x41434B4F // "ACKO"
)

// MaxPayloadSize bounds a single message body.
const MaxPayloadSize = 16 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Host save notifications (0x02xx)
	MsgBeforeSave    MessageType = 0x0200
	MsgSaveAll       MessageType = 0x0201
	MsgSaveSelection MessageType = 0x0202
	MsgNotifyAck     MessageType = 0x0203

	// Checkout history (0x03xx)
	MsgHistory     MessageType = 0x0300
	MsgHistoryResp MessageType = 0x0301

	// Metrics (0x04xx)
	MsgMetrics     MessageType = 0x0400
	MsgMetricsResp MessageType = 0x0401
)

var messageNames = map[MessageType]string{
	MsgPing:           "ping",
	MsgPong:           "pong",
	MsgHandshake:      "handshake",
	MsgHandshakeAck:   "handshake_ack",
	MsgError:          "error",
	MsgStatusRequest:  "status",
	MsgStatusResponse: "status_response",
	MsgBeforeSave:     "before_save",
	MsgSaveAll:        "save_all",
	MsgSaveSelection:  "save_selection",
	MsgNotifyAck:      "notify_ack",
	MsgHistory:        "history",
	MsgHistoryResp:    "history_response",
	MsgMetrics:        "metrics",
	MsgMetricsResp:    "metrics_response",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// IsNotification reports whether t is a host save notification.
func (t MessageType) IsNotification() bool {
	return t == MsgBeforeSave || t == MsgSaveAll || t == MsgSaveSelection
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer as a single buffer.
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	buf = binary.BigEndian.AppendUint32(buf, m.Header.Magic)
	buf = append(buf, m.Header.Version, m.Header.Flags)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.Header.Type))
	buf = binary.BigEndian.AppendUint32(buf, m.Header.RequestID)
	buf = binary.BigEndian.AppendUint32(buf, m.Header.Length)
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Enabled         bool   `json:"enabled"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrUnavailable      = 6
)

// RemoteError is an ErrorResponse received by a client.
type RemoteError struct {
	Code    int
	Message string
	Details string
}

func (e *RemoteError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("daemon error %d: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version   string        `json:"version" yaml:"version"`
	Uptime    time.Duration `json:"uptime" yaml:"uptime"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Backend   string        `json:"backend" yaml:"backend"`
	Clients   int           `json:"clients" yaml:"clients"`
	Handled   uint64        `json:"handled" yaml:"handled"`
	History   HistoryStatus `json:"history" yaml:"history"`

	// Metrics holds checkout counters keyed by metric name and labels.
	Metrics map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// HistoryStatus summarizes the history database.
type HistoryStatus struct {
	Enabled       bool             `json:"enabled" yaml:"enabled"`
	Counts        map[string]int64 `json:"counts,omitempty" yaml:"counts,omitempty"`
	SchemaVersion int              `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`
	SchemaLatest  int              `json:"schema_latest,omitempty" yaml:"schema_latest,omitempty"`
}

// NotifyResponse acknowledges a host notification once it was handled.
// Checkout failures are listed in Results; they never turn into an error
// reply.
type NotifyResponse struct {
	Disabled        bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	EventID         string         `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	Kind            string         `json:"kind,omitempty" yaml:"kind,omitempty"`
	Succeeded       int            `json:"succeeded" yaml:"succeeded"`
	AlreadyEditable int            `json:"already_editable" yaml:"already_editable"`
	Failed          int            `json:"failed" yaml:"failed"`
	Duplicates      int            `json:"duplicates" yaml:"duplicates"`
	Results         []CheckoutInfo `json:"results,omitempty" yaml:"results,omitempty"`
}

// CheckoutInfo is one checkout attempt.
type CheckoutInfo struct {
	Path       string `json:"path" yaml:"path"`
	Status     string `json:"status" yaml:"status"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
}

// HistoryRequest queries checkout history.
type HistoryRequest struct {
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
	Limit  int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// HistoryEntry is one stored checkout attempt.
type HistoryEntry struct {
	EventID    string    `json:"event_id" yaml:"event_id"`
	EventKind  string    `json:"event_kind" yaml:"event_kind"`
	Backend    string    `json:"backend" yaml:"backend"`
	Path       string    `json:"path" yaml:"path"`
	Status     string    `json:"status" yaml:"status"`
	Reason     string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
}

// HistoryResponse contains history entries, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries" yaml:"entries"`
}

// MetricsResponse carries metrics in Prometheus text format.
type MetricsResponse struct {
	Text string `json:"text" yaml:"text"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewErrorMessageDetails creates an error message with details.
func NewErrorMessageDetails(requestID uint32, code int, message, details string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
