package relaychat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Hub methods invoked by the client.
const (
	MethodJoin              = "Join"
	MethodSendChatMessage   = "SendChatMessage"
	MethodSendFile          = "SendFile"
	MethodGetOnlineUsers    = "GetOnlineUsers"
	MethodGetMessageHistory = "GetMessageHistory"
	MethodGetUserMessages   = "GetUserMessages"
)

const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultServerTimeout     = 30 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	defaultReadLimit         = 4 << 20
)

// ============================================================================
// Options
// ============================================================================

type managerOptions struct {
	log              *slog.Logger
	retry            RetryPolicy
	httpClient       *http.Client
	keepAlive        time.Duration
	serverTimeout    time.Duration
	handshakeTimeout time.Duration
	exec             Executor
}

type Option func(*managerOptions)

func WithLogger(log *slog.Logger) Option {
	return func(o *managerOptions) { o.log = log }
}

// WithRetryPolicy replaces the reconnect policy. Zero fields take defaults.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *managerOptions) { o.retry = p }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *managerOptions) { o.httpClient = client }
}

// WithKeepAlive sets the client ping interval. Zero disables pings.
func WithKeepAlive(d time.Duration) Option {
	return func(o *managerOptions) { o.keepAlive = d }
}

// WithServerTimeout sets how long the connection may stay silent before it counts as dropped.
func WithServerTimeout(d time.Duration) Option {
	return func(o *managerOptions) { o.serverTimeout = d }
}

// WithExecutor makes event handlers run through exec, typically Loop.Post.
// Without it handlers run in order on a dedicated delivery goroutine, never on
// the connection's read loop.
func WithExecutor(exec Executor) Option {
	return func(o *managerOptions) { o.exec = exec }
}

// ============================================================================
// ConnectionManager
// ============================================================================

// session lives from Connect until Disconnect or until retries run out.
type session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	username string
	endpoint string
}

// ConnectionManager owns the single hub connection of a client, including
// automatic reconnection under a bounded RetryPolicy.
type ConnectionManager struct {
	settings   Settings
	opts       managerOptions
	log        *slog.Logger
	dispatcher *Dispatcher

	mu       sync.Mutex
	state    ConnectionState
	sess     *session
	conn     *hubConn
	pending  []ConnectionStatusChanged // labels queued with their transition
	flushing bool
}

func NewConnectionManager(settings Settings, opts ...Option) *ConnectionManager {
	o := managerOptions{
		retry:            DefaultRetryPolicy(),
		keepAlive:        DefaultKeepAliveInterval,
		serverTimeout:    DefaultServerTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = discardLogger
	}
	if o.exec == nil {
		o.exec = newSerialQueue().post
	}
	o.retry = o.retry.withDefaults()

	return &ConnectionManager{
		settings:   settings,
		opts:       o,
		log:        o.log,
		dispatcher: NewDispatcher(o.log, o.exec),
		state:      StateDisconnected,
	}
}

// Events returns the subscription surface.
func (m *ConnectionManager) Events() *Dispatcher {
	return m.dispatcher
}

// Settings returns the snapshot the manager was built with.
func (m *ConnectionManager) Settings() Settings {
	return m.settings
}

func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) IsConnected() bool {
	return m.State() == StateConnected
}

// Username returns the name the current session joined with.
func (m *ConnectionManager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.username
}

// Connect opens the hub connection and joins as username. It is a no-op
// while a connection already exists.
func (m *ConnectionManager) Connect(ctx context.Context, username string) error {
	endpoint, err := m.settings.hubEndpoint(username)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{ctx: sessCtx, cancel: cancel, username: username, endpoint: endpoint}
	m.sess = sess
	m.transition(StateConnecting, StatusConnecting)
	m.mu.Unlock()
	m.flushStatus()

	m.log.Info("connecting to hub", "url", m.settings.HubURL, "username", username)
	conn, err := m.open(ctx, sess)
	if err != nil {
		m.log.Warn("hub connection failed", "error", err)
		m.endSession(sess)
		m.flushStatus()
		return err
	}

	if !m.attach(sess, conn, StatusConnected) {
		conn.close()
		return ErrConnectionClosed
	}
	m.flushStatus()
	m.log.Info("connected to hub", "username", username)
	m.checkAlive(sess, conn)
	return nil
}

// Disconnect stops the session and releases the connection. Safe to call repeatedly.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	sess, conn := m.sess, m.conn
	if sess == nil && m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.sess, m.conn = nil, nil
	m.transition(StateDisconnected, StatusDisconnected)
	m.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
	if conn != nil {
		conn.close()
	}
	m.log.Info("disconnected from hub")
	m.flushStatus()
	return nil
}

// open dials, handshakes and joins. The connection lives as long as sess.
func (m *ConnectionManager) open(ctx context.Context, sess *session) (*hubConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.handshakeTimeout)
	defer cancel()

	conn, err := dialHub(dialCtx, sess.ctx, sess.endpoint, hubOptions{
		httpClient:    m.opts.httpClient,
		keepAlive:     m.opts.keepAlive,
		serverTimeout: m.opts.serverTimeout,
		readLimit:     defaultReadLimit,
		log:           m.log,
		onEvent:       m.onHubEvent,
		onClose:       func(c *hubConn, err error) { m.handleDrop(sess, c, err) },
	})
	if err != nil {
		return nil, err
	}
	if _, err := conn.invoke(dialCtx, MethodJoin, []any{sess.username}); err != nil {
		conn.close()
		return nil, &TransportError{Op: "join", URL: m.settings.HubURL, Err: err}
	}
	return conn, nil
}

func (m *ConnectionManager) onHubEvent(target string, args []json.RawMessage) {
	m.dispatcher.Dispatch(target, args)
}

// attach installs conn as the live connection if sess is still current and
// queues label. The caller flushes.
func (m *ConnectionManager) attach(sess *session, conn *hubConn, label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != sess {
		return false
	}
	m.conn = conn
	m.transition(StateConnected, label)
	return true
}

// endSession moves to Disconnected if sess is still current. The caller flushes.
func (m *ConnectionManager) endSession(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != sess {
		return false
	}
	m.sess, m.conn = nil, nil
	m.transition(StateDisconnected, StatusDisconnected)
	sess.cancel()
	return true
}

// checkAlive covers a connection that closed before it was attached.
func (m *ConnectionManager) checkAlive(sess *session, conn *hubConn) {
	if conn.closed() {
		m.handleDrop(sess, conn, conn.closeErr)
	}
}

// handleDrop reacts to a connection ending without Disconnect.
func (m *ConnectionManager) handleDrop(sess *session, conn *hubConn, cause error) {
	m.mu.Lock()
	if m.sess != sess || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil

	var ce *closeError
	final := errors.As(cause, &ce) && !ce.allowReconnect
	if final || !m.opts.retry.enabled() {
		m.sess = nil
		m.transition(StateDisconnected, StatusDisconnected)
		m.mu.Unlock()
		sess.cancel()
		m.log.Warn("hub connection lost", "error", cause)
		m.flushStatus()
		return
	}
	m.transition(StateReconnecting, StatusReconnecting)
	m.mu.Unlock()

	m.log.Warn("hub connection lost, reconnecting", "error", cause)
	m.flushStatus()
	go m.reconnect(sess)
}

func (m *ConnectionManager) reconnect(sess *session) {
	recon := newReconnector(m.opts.retry)
	for recon.shouldReconnect() {
		delay := recon.nextDelay()
		m.log.Info("reconnect scheduled", "attempt", recon.attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-sess.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := m.open(sess.ctx, sess)
		if err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			m.log.Warn("reconnect attempt failed", "attempt", recon.attempt, "error", err)
			continue
		}
		if !m.attach(sess, conn, StatusReconnected) {
			conn.close()
			return
		}
		m.flushStatus()
		m.log.Info("reconnected to hub", "attempt", recon.attempt)
		m.checkAlive(sess, conn)
		return
	}

	if m.endSession(sess) {
		m.log.Error("giving up on hub connection", "attempts", recon.attempt)
		m.flushStatus()
	}
}

// transition sets the state and queues its label. Callers hold m.mu, so labels
// are queued in the order the state changes.
func (m *ConnectionManager) transition(state ConnectionState, label string) {
	m.state = state
	m.pending = append(m.pending, ConnectionStatusChanged{Status: label, State: state})
}

// flushStatus emits queued labels in order. Only one caller drains at a time;
// the others leave their labels to it.
func (m *ConnectionManager) flushStatus() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		ev := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.dispatcher.Emit(ev)
		m.mu.Lock()
	}
	m.pending = nil
	m.flushing = false
	m.mu.Unlock()
}

func (m *ConnectionManager) activeConn() *hubConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

// call invokes target and decodes the completion result into result when non-nil.
func (m *ConnectionManager) call(ctx context.Context, target string, result any, args ...any) error {
	conn := m.activeConn()
	if conn == nil {
		return ErrNotConnected
	}
	raw, err := conn.invoke(ctx, target, args)
	if err != nil {
		var he *HubError
		if errors.As(err, &he) {
			return err
		}
		return &TransportError{Op: "invoke " + target, Err: err}
	}
	if result == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", target, err)
	}
	return nil
}

// ============================================================================
// Hub methods
// ============================================================================

// SendMessage relays text from one user to another. It does nothing when not connected.
func (m *ConnectionManager) SendMessage(ctx context.Context, from, to, text string) error {
	err := m.call(ctx, MethodSendChatMessage, nil, from, to, text)
	if errors.Is(err, ErrNotConnected) {
		m.log.Debug("send skipped, not connected", "to", to)
		return nil
	}
	return err
}

// SendFile sends the whole file base64 encoded in a single call.
func (m *ConnectionManager) SendFile(ctx context.Context, to, fileName string, data []byte, email string) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	err := m.call(ctx, MethodSendFile, nil, to, fileName, encoded, email)
	if errors.Is(err, ErrNotConnected) {
		m.log.Debug("file send skipped, not connected", "to", to, "file", fileName)
		return nil
	}
	return err
}

func (m *ConnectionManager) GetOnlineUsers(ctx context.Context) ([]User, error) {
	return listCall[User](ctx, m, MethodGetOnlineUsers)
}

func (m *ConnectionManager) GetMessageHistory(ctx context.Context, from, to string) ([]ChatMessage, error) {
	return listCall[ChatMessage](ctx, m, MethodGetMessageHistory, from, to)
}

func (m *ConnectionManager) GetUserMessages(ctx context.Context, username string) ([]ChatMessage, error) {
	return listCall[ChatMessage](ctx, m, MethodGetUserMessages, username)
}

// listCall treats a missing server method as an empty list.
func listCall[T any](ctx context.Context, m *ConnectionManager, target string, args ...any) ([]T, error) {
	var out []T
	if err := m.call(ctx, target, &out, args...); err != nil {
		if IsMethodNotFound(err) {
			m.log.Debug("hub method unavailable, using empty result", "method", target)
			return []T{}, nil
		}
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
