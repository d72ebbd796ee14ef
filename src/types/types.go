package types

import (
	"context"
	"time"
)

// Reserved system message types handled by the daemon itself, before any
// registered handler sees the message.
const (
	TypeClientInit          = "client_init"
	TypeConnectionConfirmed = "connection_confirmed"
	TypePing                = "ping"
	TypePong                = "pong"
)

// ResponseSuffix is appended to a request type to form its reply type:
// `execute_command` is answered by `execute_command_response`, never by a
// generic name.
const ResponseSuffix = "_response"

// ErrorResponseType is used only when the inbound payload carried no usable
// type to derive a reply name from.
const ErrorResponseType = "error" + ResponseSuffix

// Envelope is the wire message exchanged over a connection. A request
// expecting a reply carries a unique RequestID; the reply echoes it
// unchanged.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	ClientID  string         `json:"clientId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Response is the reply envelope built by the router for a dispatched
// request.
type Response struct {
	Type        string         `json:"type"`
	RequestID   string         `json:"requestId,omitempty"`
	ClientID    string         `json:"clientId,omitempty"`
	Timestamp   string         `json:"timestamp"`
	ProcessedBy string         `json:"processedBy,omitempty"`
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Result is what a handler returns for a dispatched message.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// MessageHandler is implemented by a collaborating daemon. MessageTypes
// declares which envelope types it serves; Handle processes one envelope.
// A handler must tolerate its result being discarded when the router has
// already timed out the dispatch.
type MessageHandler interface {
	MessageTypes() []string
	Handle(ctx context.Context, env Envelope) Result
}

// HandlerFunc adapts a plain function to MessageHandler for a single type.
type HandlerFunc struct {
	Type string
	Fn   func(ctx context.Context, env Envelope) Result
}

func (h HandlerFunc) MessageTypes() []string { return []string{h.Type} }

func (h HandlerFunc) Handle(ctx context.Context, env Envelope) Result {
	return h.Fn(ctx, env)
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// ClientInfo holds metadata about a connected client.
type ClientInfo struct {
	ID           string         `json:"id"`
	ConnectedAt  time.Time      `json:"connected_at"`
	LastActivity time.Time      `json:"last_activity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RegistryStats is the connection registry snapshot returned by Stats.
type RegistryStats struct {
	TotalClients          int     `json:"total_clients"`
	MaxClients            int     `json:"max_clients"`
	AverageConnectionTime float64 `json:"average_connection_time_ms"`
	OldestConnectionAgeMs int64   `json:"oldest_connection_age_ms"`
	HeartbeatEnabled      bool    `json:"heartbeat_enabled"`
	HeartbeatIntervalMs   int64   `json:"heartbeat_interval_ms"`
}

// Now returns the wire timestamp used in envelopes.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ResponseType derives the reply type for a request type.
func ResponseType(requestType string) string {
	if requestType == "" {
		return ErrorResponseType
	}
	return requestType + ResponseSuffix
}
