// Package relaychat is a Go client for a hub-based chat relay.
//
// The real-time side is a ConnectionManager that keeps one websocket hub
// connection alive, re-joins after drops and turns pushed invocations into
// typed events. The REST side covers authentication, history fallback and
// the mail relay.
//
// Example:
//
//	settings := relaychat.DefaultSettings().WithServer("chat.local", 5000)
//	mgr := relaychat.NewConnectionManager(settings)
//	mgr.Events().OnMessageReceived(func(m relaychat.ChatMessage) { fmt.Println(m.From, m.Message) })
//	if err := mgr.Connect(ctx, "alice"); err != nil { ... }
//	defer mgr.Disconnect()
//
//	api := relaychat.NewClient(settings.BaseURL())
//	thread := relaychat.NewHistoryReconciler(mgr, api.Chat, nil).LoadThread(ctx, "alice", "bob")
package relaychat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client talks to the relay's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger

	Auth *AuthClient
	Chat *ChatClient
	Mail *MailClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithRESTHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithRESTLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a REST client rooted at baseURL, e.g. Settings.BaseURL().
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: discardLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Auth = &AuthClient{c: c}
	c.Chat = &ChatClient{c: c}
	c.Mail = &MailClient{c: c}
	return c
}

// SetToken replaces the bearer token, typically after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debug("rest call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(data, http.StatusText(resp.StatusCode)),
		}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if len(bytes.TrimSpace(data)) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// extractErrorMessage reads message/error fields from a JSON body, else the raw body.
func extractErrorMessage(body []byte, fallback string) string {
	if m, ok := decodeObject(body); ok {
		for _, key := range []string{"message", "Message", "error", "Error"} {
			if v, ok := m[key].(string); ok && v != "" {
				return v
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}

// ============================================================================
// Auth
// ============================================================================

type AuthClient struct{ c *Client }

func (a *AuthClient) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid login request: %w", err)
	}
	data, err := a.c.doRequest(ctx, http.MethodPost, "/api/Auth/login", req, nil)
	if err != nil {
		return nil, err
	}
	if m, ok := decodeObject(data); ok {
		return &LoginResult{
			Message: strOr(m, "message", ""),
			Token:   strOr(m, "token", ""),
		}, nil
	}
	return &LoginResult{Message: strings.TrimSpace(string(data))}, nil
}

func (a *AuthClient) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}
	data, err := a.c.doRequest(ctx, http.MethodPost, "/api/Auth/register", req, nil)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Message: extractErrorMessage(data, "registered")}, nil
}

// ============================================================================
// Chat
// ============================================================================

type ChatClient struct{ c *Client }

// MessageHistory returns the messages exchanged between from and to.
func (ch *ChatClient) MessageHistory(ctx context.Context, from, to string) ([]ChatMessage, error) {
	data, err := ch.c.doRequest(ctx, http.MethodGet, "/api/chat/history", nil, map[string]string{
		"from": from,
		"to":   to,
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return decodeMessages(data)
}

// UserMessages returns every message sent or received by username.
func (ch *ChatClient) UserMessages(ctx context.Context, username string) ([]ChatMessage, error) {
	path := "/api/chat/user/" + url.PathEscape(username) + "/messages"
	data, err := ch.c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load user messages: %w", err)
	}
	return decodeMessages(data)
}

// MessagesWithUser filters UserMessages(current) down to the thread with other.
func (ch *ChatClient) MessagesWithUser(ctx context.Context, current, other string) ([]ChatMessage, error) {
	all, err := ch.UserMessages(ctx, current)
	if err != nil {
		return nil, err
	}
	return sortThread(filterThread(all, current, other)), nil
}

func decodeMessages(data []byte) ([]ChatMessage, error) {
	msgs, err := decodeJSON[[]ChatMessage](data)
	if err != nil {
		return nil, err
	}
	if *msgs == nil {
		return []ChatMessage{}, nil
	}
	return *msgs, nil
}

// ============================================================================
// Mail
// ============================================================================

type MailClient struct{ c *Client }

// SendFile asks the server to e-mail an attachment. ContentType is detected when empty.
func (m *MailClient) SendFile(ctx context.Context, req MailFileRequest) error {
	if req.ContentType == "" && len(req.FileBytes) > 0 {
		req.ContentType = mimetype.Detect(req.FileBytes).String()
	}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid mail request: %w", err)
	}
	if _, err := m.c.doRequest(ctx, http.MethodPost, "/api/Mail/sendFile", req, nil); err != nil {
		return fmt.Errorf("send file by mail: %w", err)
	}
	return nil
}
