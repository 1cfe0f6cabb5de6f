package relaychat

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// ============================================================================
// Event Types
// ============================================================================

// Hub targets pushed by the server.
const (
	TargetReceiveMessage    = "ReceiveMessage"
	TargetUserStatusChanged = "UserStatusChanged"
	TargetSystemMessage     = "SystemMessage"
)

// Event is a typed inbound event.
type Event interface {
	eventName() string
}

// MessageReceived carries a chat message pushed by the hub.
type MessageReceived struct {
	Message ChatMessage
}

// UserStatusChanged reports a contact going online or offline.
type UserStatusChanged struct {
	Username string
	IsOnline bool
}

// SystemMessageReceived carries a server notice.
type SystemMessageReceived struct {
	Text string
}

// ConnectionStatusChanged is raised by the ConnectionManager on every state transition.
type ConnectionStatusChanged struct {
	Status string
	State  ConnectionState
}

func (MessageReceived) eventName() string         { return TargetReceiveMessage }
func (UserStatusChanged) eventName() string       { return TargetUserStatusChanged }
func (SystemMessageReceived) eventName() string   { return TargetSystemMessage }
func (ConnectionStatusChanged) eventName() string { return "ConnectionStatusChanged" }

// DecodeEvent maps a hub invocation to a typed event. It reports false for
// unknown targets and for arguments it cannot read.
func DecodeEvent(target string, args []json.RawMessage) (Event, bool) {
	switch {
	case strings.EqualFold(target, TargetReceiveMessage):
		if len(args) < 1 {
			return nil, false
		}
		msg, ok := decodeChatMessage(args[0])
		if !ok {
			return nil, false
		}
		return MessageReceived{Message: msg}, true

	case strings.EqualFold(target, TargetUserStatusChanged):
		return decodeUserStatus(args)

	case strings.EqualFold(target, TargetSystemMessage):
		if len(args) < 1 {
			return nil, false
		}
		text, ok := stringArg(args[0])
		if !ok {
			return nil, false
		}
		return SystemMessageReceived{Text: text}, true
	}
	return nil, false
}

// decodeUserStatus reads (username, isOnline) or a single {username, isOnline} object.
func decodeUserStatus(args []json.RawMessage) (Event, bool) {
	switch len(args) {
	case 0:
		return nil, false
	case 1:
		m, ok := decodeObject(args[0])
		if !ok {
			return nil, false
		}
		name := strOr(m, "username", "")
		raw, ok := lookup(m, "isOnline")
		if name == "" || !ok {
			return nil, false
		}
		online, ok := raw.(bool)
		if !ok {
			return nil, false
		}
		return UserStatusChanged{Username: name, IsOnline: online}, true
	}
	name, ok := stringArg(args[0])
	if !ok || name == "" {
		return nil, false
	}
	online, ok := boolArg(args[1])
	if !ok {
		return nil, false
	}
	return UserStatusChanged{Username: name, IsOnline: online}, true
}

// ============================================================================
// Dispatcher
// ============================================================================

// Executor runs a delivery. Hosts pass Loop.Post to serialize handlers onto one goroutine.
type Executor func(func())

// Dispatcher fans typed events out to subscribers. The zero value delivers
// inline on the caller's goroutine.
type Dispatcher struct {
	log  *slog.Logger
	exec Executor

	messages handlerSet[ChatMessage]
	statuses handlerSet[UserStatusChanged]
	system   handlerSet[string]
	conn     handlerSet[ConnectionStatusChanged]
}

func NewDispatcher(log *slog.Logger, exec Executor) *Dispatcher {
	return &Dispatcher{log: log, exec: exec}
}

// OnMessageReceived subscribes to chat messages. Call the returned func to unsubscribe.
func (d *Dispatcher) OnMessageReceived(h func(ChatMessage)) func() {
	return d.messages.add(h)
}

// OnUserStatusChanged subscribes to presence changes.
func (d *Dispatcher) OnUserStatusChanged(h func(username string, isOnline bool)) func() {
	return d.statuses.add(func(e UserStatusChanged) { h(e.Username, e.IsOnline) })
}

// OnSystemMessage subscribes to server notices.
func (d *Dispatcher) OnSystemMessage(h func(text string)) func() {
	return d.system.add(h)
}

// OnConnectionStatusChanged subscribes to connection labels such as "Reconnecting...".
func (d *Dispatcher) OnConnectionStatusChanged(h func(status string)) func() {
	return d.conn.add(func(e ConnectionStatusChanged) { h(e.Status) })
}

// Dispatch decodes a hub invocation and emits it. Malformed payloads are dropped.
func (d *Dispatcher) Dispatch(target string, args []json.RawMessage) bool {
	ev, ok := DecodeEvent(target, args)
	if !ok {
		d.logger().Debug("dropping hub event", "target", target, "args", len(args))
		return false
	}
	d.Emit(ev)
	return true
}

// Emit delivers an already decoded event.
func (d *Dispatcher) Emit(ev Event) {
	switch e := ev.(type) {
	case MessageReceived:
		deliver(d, e.eventName(), e.Message, d.messages.snapshot())
	case UserStatusChanged:
		deliver(d, e.eventName(), e, d.statuses.snapshot())
	case SystemMessageReceived:
		deliver(d, e.eventName(), e.Text, d.system.snapshot())
	case ConnectionStatusChanged:
		deliver(d, e.eventName(), e, d.conn.snapshot())
	}
}

func deliver[T any](d *Dispatcher, name string, v T, handlers []func(T)) {
	if len(handlers) == 0 {
		return
	}
	d.run(func() {
		for _, h := range handlers {
			d.safeCall(name, func() { h(v) })
		}
	})
}

func (d *Dispatcher) run(fn func()) {
	if d.exec == nil {
		fn()
		return
	}
	d.exec(fn)
}

func (d *Dispatcher) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("event handler panicked", "event", name, "panic", r)
		}
	}()
	fn()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.log == nil {
		return discardLogger
	}
	return d.log
}

// ============================================================================
// Serial queue
// ============================================================================

// serialQueue runs posted funcs in post order on one goroutine, which exists
// only while work is pending. Posting never blocks.
type serialQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func newSerialQueue() *serialQueue {
	return &serialQueue{}
}

func (q *serialQueue) post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.pending = nil
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

// ============================================================================
// Handler sets
// ============================================================================

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

type handlerSet[T any] struct {
	mu      sync.RWMutex
	nextID  int
	entries []handlerEntry[T]
}

func (s *handlerSet[T]) add(fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, handlerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { s.remove(id) }) }
}

func (s *handlerSet[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *handlerSet[T]) snapshot() []func(T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]func(T), len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}

var discardLogger = slog.New(slog.DiscardHandler)
