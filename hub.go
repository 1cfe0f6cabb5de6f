package relaychat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Hub frames are JSON records terminated by the ASCII record separator.
const recordSeparator byte = 0x1e

const (
	msgInvocation = 1
	msgStreamItem = 2
	msgCompletion = 3
	msgPing       = 6
	msgClose      = 7
)

// hubMessage is the inbound frame. Fields not used by a type are left empty.
type hubMessage struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type hubInvocation struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// splitFrames returns the non-empty records of a websocket message.
func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(part)) > 0 {
			frames = append(frames, part)
		}
	}
	return frames
}

// closeError is raised when the server ends the session with a Close frame.
type closeError struct {
	reason         string
	allowReconnect bool
}

func (e *closeError) Error() string {
	if e.reason == "" {
		return "hub: server closed the connection"
	}
	return "hub: server closed the connection: " + e.reason
}

// ============================================================================
// hubConn
// ============================================================================

type hubOptions struct {
	httpClient    *http.Client
	keepAlive     time.Duration
	serverTimeout time.Duration
	readLimit     int64
	log           *slog.Logger
	onEvent       func(target string, args []json.RawMessage)
	onClose       func(c *hubConn, err error)
}

// hubConn is one websocket session with the hub. It never reconnects itself.
type hubConn struct {
	ws   *websocket.Conn
	opts hubOptions

	pending   map[string]chan hubMessage
	pendingMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// dialHub opens the websocket, completes the handshake and starts the loops.
// dialCtx bounds the handshake, parent bounds the session.
func dialHub(dialCtx, parent context.Context, endpoint string, opts hubOptions) (*hubConn, error) {
	ws, resp, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPClient: opts.httpClient,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &TransportError{Op: "dial", URL: endpoint, StatusCode: status, Err: err}
	}
	if opts.readLimit > 0 {
		ws.SetReadLimit(opts.readLimit)
	}

	leftover, err := handshake(dialCtx, ws)
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, &TransportError{Op: "handshake", URL: endpoint, Err: err}
	}

	ctx, cancel := context.WithCancel(parent)
	c := &hubConn{
		ws:      ws,
		opts:    opts,
		pending: make(map[string]chan hubMessage),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, frame := range leftover {
		c.handleFrame(frame)
	}

	go c.readLoop(ctx)
	if opts.keepAlive > 0 {
		go c.keepAliveLoop(ctx)
	}
	return c, nil
}

// handshake negotiates the JSON protocol and returns frames that arrived with the response.
func handshake(ctx context.Context, ws *websocket.Conn) ([][]byte, error) {
	frame, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return nil, err
	}
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	frames := splitFrames(data)
	if len(frames) == 0 {
		return nil, errors.New("empty handshake response")
	}
	var resp handshakeResponse
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	return frames[1:], nil
}

// invoke sends an invocation and waits for its completion.
func (c *hubConn) invoke(ctx context.Context, target string, args []any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	id := uuid.NewString()
	ch := make(chan hubMessage, 1)

	c.pendingMu.Lock()
	if c.pending == nil {
		c.pendingMu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer c.forget(id)

	frame, err := encodeFrame(hubInvocation{
		Type:         msgInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s arguments: %w", target, err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, fmt.Errorf("write %s: %w", target, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if msg.Error != "" {
			return nil, &HubError{Target: target, Message: msg.Error}
		}
		return msg.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

func (c *hubConn) forget(id string) {
	c.pendingMu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *hubConn) readLoop(ctx context.Context) {
	for {
		readCtx := ctx
		var cancel context.CancelFunc = func() {}
		if c.opts.serverTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.opts.serverTimeout)
		}
		_, data, err := c.ws.Read(readCtx)
		timedOut := readCtx.Err() == context.DeadlineExceeded
		cancel()
		if err != nil {
			if timedOut && ctx.Err() == nil {
				err = fmt.Errorf("no message from server within %s: %w", c.opts.serverTimeout, err)
			}
			c.shutdown(err)
			return
		}
		for _, frame := range splitFrames(data) {
			if stop := c.handleFrame(frame); stop != nil {
				c.shutdown(stop)
				return
			}
		}
	}
}

// handleFrame processes one record and returns a non-nil error when the session must end.
func (c *hubConn) handleFrame(frame []byte) error {
	var msg hubMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.opts.log.Debug("ignoring undecodable hub frame", "error", err)
		return nil
	}
	switch msg.Type {
	case msgInvocation:
		if c.opts.onEvent != nil {
			c.opts.onEvent(msg.Target, msg.Arguments)
		}
	case msgCompletion:
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.InvocationID]
		if ok {
			delete(c.pending, msg.InvocationID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	case msgPing, msgStreamItem:
	case msgClose:
		return &closeError{reason: msg.Error, allowReconnect: msg.AllowReconnect}
	default:
		c.opts.log.Debug("ignoring hub frame", "type", msg.Type)
	}
	return nil
}

func (c *hubConn) keepAliveLoop(ctx context.Context) {
	frame, _ := encodeFrame(struct {
		Type int `json:"type"`
	}{Type: msgPing})

	ticker := time.NewTicker(c.opts.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
				c.opts.log.Debug("keep-alive ping failed", "error", err)
			}
		}
	}
}

// shutdown ends the session once, fails pending calls and reports the cause.
func (c *hubConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pending = nil
		c.pendingMu.Unlock()

		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, "")
		c.cancel()

		if c.opts.onClose != nil {
			c.opts.onClose(c, cause)
		}
	})
}

// close stops the session from the client side.
func (c *hubConn) close() {
	c.shutdown(nil)
}

func (c *hubConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
