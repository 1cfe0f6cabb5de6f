package relaychat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordedCall is one invocation seen by the fake hub.
type recordedCall struct {
	Username string
	Target   string
	Args     []json.RawMessage
}

// hubReply answers an invocation with either a result or an error message.
type hubReply struct {
	Result any
	Error  string
}

type fakePeer struct {
	ws       *websocket.Conn
	username string
	mu       sync.Mutex
}

func (p *fakePeer) send(v any) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

// fakeHub speaks the JSON hub protocol over a gorilla websocket server.
type fakeHub struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	peers    []*fakePeer
	calls    []recordedCall
	replies  map[string]hubReply
	joins    int
	rejectAt int // Join number from which joins fail; 0 accepts all
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		t:       t,
		replies: make(map[string]hubReply),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/hub", h.serve)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.close)
	return h
}

func (h *fakeHub) settings() Settings {
	return Settings{ServerHost: "127.0.0.1", ServerPort: 1, HubURL: h.server.URL + "/hub"}
}

func (h *fakeHub) reply(target string, r hubReply) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies[target] = r
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &fakePeer{ws: ws, username: r.URL.Query().Get("username")}

	// Handshake: {"protocol":"json","version":1} is answered with {}.
	if _, data, err := ws.ReadMessage(); err != nil || !strings.Contains(string(data), `"protocol":"json"`) {
		ws.Close()
		return
	}
	if err := peer.send(struct{}{}); err != nil {
		ws.Close()
		return
	}

	h.mu.Lock()
	h.peers = append(h.peers, peer)
	h.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range splitFrames(data) {
			var msg hubMessage
			if json.Unmarshal(frame, &msg) != nil || msg.Type != msgInvocation {
				continue
			}
			h.answer(peer, msg)
		}
	}
}

func (h *fakeHub) answer(peer *fakePeer, msg hubMessage) {
	h.mu.Lock()
	h.calls = append(h.calls, recordedCall{Username: peer.username, Target: msg.Target, Args: msg.Arguments})
	r, ok := h.replies[msg.Target]
	if msg.Target == MethodJoin {
		h.joins++
		if h.rejectAt > 0 && h.joins >= h.rejectAt {
			r, ok = hubReply{Error: "join refused"}, true
		}
	}
	h.mu.Unlock()

	if msg.InvocationID == "" {
		return
	}
	completion := map[string]any{"type": msgCompletion, "invocationId": msg.InvocationID}
	if ok && r.Error != "" {
		completion["error"] = r.Error
	} else if ok && r.Result != nil {
		completion["result"] = r.Result
	}
	_ = peer.send(completion)
}

// push sends a server invocation to every connected peer.
func (h *fakeHub) push(target string, args ...any) {
	for _, p := range h.livePeers() {
		_ = p.send(map[string]any{"type": msgInvocation, "target": target, "arguments": args})
	}
}

// sendClose ends every session with a Close frame.
func (h *fakeHub) sendClose(allowReconnect bool) {
	for _, p := range h.livePeers() {
		_ = p.send(map[string]any{"type": msgClose, "error": "server shutting down", "allowReconnect": allowReconnect})
	}
}

// drop cuts every connection without a close handshake.
func (h *fakeHub) drop() {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.ws.UnderlyingConn().Close()
	}
}

func (h *fakeHub) livePeers() []*fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakePeer(nil), h.peers...)
}

func (h *fakeHub) callsTo(target string) []recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []recordedCall
	for _, c := range h.calls {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHub) joinCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joins
}

func (h *fakeHub) close() {
	h.drop()
	h.server.Close()
}

// statusRecorder collects connection labels in order.
type statusRecorder struct {
	mu     sync.Mutex
	labels []string
}

func recordStatuses(m *ConnectionManager) *statusRecorder {
	r := &statusRecorder{}
	m.Events().OnConnectionStatusChanged(func(s string) {
		r.mu.Lock()
		r.labels = append(r.labels, s)
		r.mu.Unlock()
	})
	return r
}

func (r *statusRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.labels...)
}

// expect waits until exactly want has been recorded.
func (r *statusRecorder) expect(t *testing.T, want ...string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Equal(r.all(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("statuses = %v, want %v", r.all(), want)
}

func (r *statusRecorder) waitFor(t *testing.T, label string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, l := range r.all() {
			if l == label {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status %q never raised, got %v", label, r.all())
}
