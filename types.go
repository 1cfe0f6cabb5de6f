package relaychat

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned by the REST client for non-2xx responses.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// ============================================================================
// Chat Types
// ============================================================================

// DefaultMessageType is the type tag of a regular chat message.
const DefaultMessageType = "chat"

// ChatMessage is a single message exchanged between two users.
// Decoding is tolerant, see decodeChatMessage.
type ChatMessage struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts any object shape and fills missing fields with defaults.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	msg, ok := decodeChatMessage(data)
	if !ok {
		return fmt.Errorf("chat message: expected an object, got %s", truncate(string(data), 64))
	}
	*m = msg
	return nil
}

// Between reports whether the message belongs to the thread of a and b, in either direction.
func (m ChatMessage) Between(a, b string) bool {
	return (m.From == a && m.To == b) || (m.From == b && m.To == a)
}

// User is a registered account as returned by GetOnlineUsers.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	LastLogin string `json:"lastLogin,omitempty"`
	IsOnline  bool   `json:"isOnline"`
}

// PresenceEntry is one contact in the presence view.
type PresenceEntry struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState represents the hub connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Status labels raised with ConnectionStatusChanged.
const (
	StatusConnecting   = "Connecting..."
	StatusConnected    = "Connected"
	StatusReconnecting = "Reconnecting..."
	StatusReconnected  = "Reconnected"
	StatusDisconnected = "Disconnected"
)

// ============================================================================
// Auth / Mail Types
// ============================================================================

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is the decoded body of a successful login. Token is empty
// when the server does not issue one.
type LoginResult struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"Username" validate:"required"`
	Email    string `json:"Email" validate:"required,email"`
	Password string `json:"Password" validate:"required"`
}

type RegisterResult struct {
	Message string `json:"message,omitempty"`
}

// MailFileRequest asks the server to forward an attachment by e-mail.
// FileBytes is base64 encoded on the wire.
type MailFileRequest struct {
	FromUser      string `json:"FromUser" validate:"required"`
	ToUser        string `json:"ToUser" validate:"required"`
	MailToAddress string `json:"MailToAddress" validate:"required,email"`
	FileName      string `json:"FileName" validate:"required"`
	FileBytes     []byte `json:"FileBytes" validate:"required"`
	ContentType   string `json:"ContentType,omitempty"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ json.Unmarshaler = (*ChatMessage)(nil)
