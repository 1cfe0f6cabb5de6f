package relaychat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond}

func newTestManager(settings Settings, opts ...Option) *ConnectionManager {
	opts = append([]Option{WithRetryPolicy(fastRetry), WithKeepAlive(0)}, opts...)
	return NewConnectionManager(settings, opts...)
}

func connectTestManager(t *testing.T, hub *fakeHub, username string, opts ...Option) (*ConnectionManager, *statusRecorder) {
	t.Helper()
	m := newTestManager(hub.settings(), opts...)
	statuses := recordStatuses(m)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, username))
	t.Cleanup(func() { _ = m.Disconnect() })
	return m, statuses
}

func decodeArg[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func Test_Connect_Empty_Endpoint_Is_Configuration_Error(t *testing.T) {
	req := require.New(t)
	m := newTestManager(Settings{ServerHost: "localhost", ServerPort: 5000})
	statuses := recordStatuses(m)

	err := m.Connect(context.Background(), "alice")

	var cfgErr *ConfigurationError
	req.True(errors.As(err, &cfgErr))
	req.Equal(StateDisconnected, m.State())
	req.Empty(statuses.all(), "no channel may be opened")
}

func Test_Connect_Wrong_Path_Reports_Not_Found(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	m := newTestManager(Settings{HubURL: server.URL + "/wrong"})
	statuses := recordStatuses(m)

	err := m.Connect(context.Background(), "alice")

	req.ErrorIs(err, ErrEndpointNotFound)
	var te *TransportError
	req.True(errors.As(err, &te))
	req.Equal(http.StatusNotFound, te.StatusCode)
	req.Contains(err.Error(), "hub endpoint not found")
	statuses.expect(t, StatusConnecting, StatusDisconnected)
	req.False(m.IsConnected())
}

func Test_Connect_Joins_As_Username(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)

	m, statuses := connectTestManager(t, hub, "alice")

	req.True(m.IsConnected())
	req.Equal("alice", m.Username())
	statuses.expect(t, StatusConnecting, StatusConnected)
	joins := hub.callsTo(MethodJoin)
	req.Len(joins, 1)
	req.Equal("alice", joins[0].Username)
	req.Equal("alice", decodeArg[string](t, joins[0].Args[0]))
}

func Test_Connect_Twice_Is_A_No_Op(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, statuses := connectTestManager(t, hub, "alice")

	req.NoError(m.Connect(context.Background(), "alice"))

	req.Equal(1, hub.joinCount())
	statuses.expect(t, StatusConnecting, StatusConnected)
}

func Test_Connect_Join_Rejected(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	hub.rejectAt = 1
	m := newTestManager(hub.settings())

	err := m.Connect(context.Background(), "alice")

	var te *TransportError
	req.True(errors.As(err, &te))
	req.Equal("join", te.Op)
	req.Equal(StateDisconnected, m.State())
}

func Test_Disconnect_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, statuses := connectTestManager(t, hub, "alice")

	req.NoError(m.Disconnect())
	req.NoError(m.Disconnect())

	req.False(m.IsConnected())
	statuses.expect(t, StatusConnecting, StatusConnected, StatusDisconnected)

	// A fresh manager that never connected is also fine
	req.NoError(newTestManager(hub.settings()).Disconnect())
}

func Test_Send_Message_Invokes_Hub(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, _ := connectTestManager(t, hub, "alice")

	req.NoError(m.SendMessage(context.Background(), "alice", "bob", "hello"))

	calls := hub.callsTo(MethodSendChatMessage)
	req.Len(calls, 1)
	req.Equal([]string{"alice", "bob", "hello"}, []string{
		decodeArg[string](t, calls[0].Args[0]),
		decodeArg[string](t, calls[0].Args[1]),
		decodeArg[string](t, calls[0].Args[2]),
	})
}

func Test_Send_File_Base64_Encodes_Whole_Payload(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, _ := connectTestManager(t, hub, "alice")

	payload := []byte("0123456789")
	req.NoError(m.SendFile(context.Background(), "bob", "notes.txt", payload, "bob@example.com"))

	calls := hub.callsTo(MethodSendFile)
	req.Len(calls, 1)
	req.Len(calls[0].Args, 4)
	req.Equal("bob", decodeArg[string](t, calls[0].Args[0]))
	req.Equal("notes.txt", decodeArg[string](t, calls[0].Args[1]))
	encoded := decodeArg[string](t, calls[0].Args[2])
	req.Len(encoded, 16)
	req.Equal("MDEyMzQ1Njc4OQ==", encoded)
	req.Equal("bob@example.com", decodeArg[string](t, calls[0].Args[3]))
}

func Test_Calls_When_Not_Connected(t *testing.T) {
	req := require.New(t)
	m := newTestManager(DefaultSettings())
	ctx := context.Background()

	req.NoError(m.SendMessage(ctx, "alice", "bob", "lost"))
	req.NoError(m.SendFile(ctx, "bob", "a.txt", []byte("x"), "bob@example.com"))

	_, err := m.GetOnlineUsers(ctx)
	req.ErrorIs(err, ErrNotConnected)
	_, err = m.GetMessageHistory(ctx, "alice", "bob")
	req.ErrorIs(err, ErrNotConnected)
}

func Test_Send_Error_Is_Surfaced(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	hub.reply(MethodSendChatMessage, hubReply{Error: "recipient unknown"})
	m, _ := connectTestManager(t, hub, "alice")

	err := m.SendMessage(context.Background(), "alice", "nobody", "hello")

	var he *HubError
	req.True(errors.As(err, &he))
	req.Equal("recipient unknown", he.Message)
}

func Test_Get_Online_Users(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	hub.reply(MethodGetOnlineUsers, hubReply{Result: []map[string]any{
		{"id": 1, "username": "alice", "isOnline": true},
		{"id": 2, "username": "bob", "email": "bob@example.com", "isOnline": false},
	}})
	m, _ := connectTestManager(t, hub, "alice")

	users, err := m.GetOnlineUsers(context.Background())

	req.NoError(err)
	req.Equal([]User{
		{ID: 1, Username: "alice", IsOnline: true},
		{ID: 2, Username: "bob", Email: "bob@example.com", IsOnline: false},
	}, users)
}

func Test_Missing_Method_Soft_Degrades(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	for _, method := range []string{MethodGetOnlineUsers, MethodGetMessageHistory, MethodGetUserMessages} {
		hub.reply(method, hubReply{Error: "Method does not exist."})
	}
	m, _ := connectTestManager(t, hub, "alice")
	ctx := context.Background()

	users, err := m.GetOnlineUsers(ctx)
	req.NoError(err)
	req.NotNil(users)
	req.Empty(users)

	msgs, err := m.GetMessageHistory(ctx, "alice", "bob")
	req.NoError(err)
	req.Empty(msgs)

	thread := NewHistoryReconciler(m, nil, nil).LoadThread(ctx, "alice", "bob")
	req.NotNil(thread)
	req.Empty(thread)
}

func Test_Load_Thread_From_Hub(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	hub.reply(MethodGetMessageHistory, hubReply{Result: []map[string]any{
		{"from": "bob", "to": "alice", "message": "later", "timestamp": "2024-03-01T10:05:00Z"},
		{"From": "alice", "To": "bob", "Message": "earlier", "Timestamp": "2024-03-01T10:00:00Z"},
	}})
	m, _ := connectTestManager(t, hub, "alice")

	thread := NewHistoryReconciler(m, nil, nil).LoadThread(context.Background(), "alice", "bob")

	req.Len(thread, 2)
	req.Equal("earlier", thread[0].Message)
	req.Equal("later", thread[1].Message)
}

func Test_Pushed_Events_Reach_Subscribers(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, _ := connectTestManager(t, hub, "alice")

	received := make(chan ChatMessage, 1)
	statuses := make(chan UserStatusChanged, 1)
	notices := make(chan string, 1)
	m.Events().OnMessageReceived(func(msg ChatMessage) { received <- msg })
	m.Events().OnUserStatusChanged(func(u string, online bool) { statuses <- UserStatusChanged{u, online} })
	m.Events().OnSystemMessage(func(text string) { notices <- text })

	hub.push(TargetReceiveMessage, map[string]any{"from": "bob", "to": "alice", "message": "hey"})
	hub.push(TargetUserStatusChanged, "bob", false)
	hub.push(TargetSystemMessage, "maintenance at noon")
	hub.push(TargetReceiveMessage, 12345)

	select {
	case msg := <-received:
		req.Equal("hey", msg.Message)
		req.Equal(DefaultMessageType, msg.Type)
	case <-time.After(5 * time.Second):
		req.Fail("message not delivered")
	}
	select {
	case ev := <-statuses:
		req.Equal(UserStatusChanged{Username: "bob", IsOnline: false}, ev)
	case <-time.After(5 * time.Second):
		req.Fail("status not delivered")
	}
	select {
	case text := <-notices:
		req.Equal("maintenance at noon", text)
	case <-time.After(5 * time.Second):
		req.Fail("notice not delivered")
	}
	req.True(m.IsConnected(), "malformed payload must not end the session")
}

func Test_Drop_Reconnects_And_Rejoins(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, statuses := connectTestManager(t, hub, "alice")

	// When the transport drops mid-session
	hub.drop()

	// Then observers see Reconnecting then Reconnected
	statuses.waitFor(t, StatusReconnected)
	req.Equal([]string{StatusConnecting, StatusConnected, StatusReconnecting, StatusReconnected}, statuses.all())
	req.True(m.IsConnected())
	req.Equal(2, hub.joinCount())

	// And the new connection carries calls
	req.NoError(m.SendMessage(context.Background(), "alice", "bob", "still here"))
	req.Len(hub.callsTo(MethodSendChatMessage), 1)
}

func Test_Drop_Gives_Up_After_Retries(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	hub.rejectAt = 2
	m, statuses := connectTestManager(t, hub, "alice")

	hub.drop()

	statuses.waitFor(t, StatusDisconnected)
	req.Equal([]string{StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected}, statuses.all())
	req.Equal(StateDisconnected, m.State())
	req.Equal(1+fastRetry.MaxAttempts, hub.joinCount())
}

func Test_Drop_Without_Retry_Policy_Disconnects(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, statuses := connectTestManager(t, hub, "alice", WithRetryPolicy(RetryPolicy{MaxAttempts: -1}))

	hub.drop()

	statuses.waitFor(t, StatusDisconnected)
	req.Equal([]string{StatusConnecting, StatusConnected, StatusDisconnected}, statuses.all())
	req.False(m.IsConnected())
}

func Test_Server_Close_Without_Reconnect(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	m, statuses := connectTestManager(t, hub, "alice")

	hub.sendClose(false)

	statuses.waitFor(t, StatusDisconnected)
	req.Equal([]string{StatusConnecting, StatusConnected, StatusDisconnected}, statuses.all())
	req.Equal(1, hub.joinCount())
	req.False(m.IsConnected())
}

func Test_Server_Close_With_Reconnect(t *testing.T) {
	hub := newFakeHub(t)
	_, statuses := connectTestManager(t, hub, "alice")

	hub.sendClose(true)

	statuses.waitFor(t, StatusReconnected)
	require.Equal(t, 2, hub.joinCount())
}

func Test_Disconnect_During_Reconnect_Stops_Retrying(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	slow := RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}
	m, statuses := connectTestManager(t, hub, "alice", WithRetryPolicy(slow))

	hub.drop()
	statuses.waitFor(t, StatusReconnecting)
	req.NoError(m.Disconnect())
	time.Sleep(500 * time.Millisecond)

	req.Equal(1, hub.joinCount())
	req.Equal([]string{StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected}, statuses.all())
}

func Test_Handler_Can_Call_Hub_From_Event(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	hub.reply(MethodGetOnlineUsers, hubReply{Result: []map[string]any{
		{"id": 2, "username": "bob", "isOnline": true},
	}})
	m, _ := connectTestManager(t, hub, "alice")

	// Given a handler that calls back into the hub with no deadline
	type lookup struct {
		users []User
		err   error
	}
	results := make(chan lookup, 1)
	m.Events().OnMessageReceived(func(ChatMessage) {
		users, err := m.GetOnlineUsers(context.Background())
		results <- lookup{users, err}
	})

	// When a message is pushed
	hub.push(TargetReceiveMessage, map[string]any{"from": "bob", "to": "alice", "message": "who is around?"})

	// Then the call completes because delivery does not hold up the read loop
	select {
	case r := <-results:
		req.NoError(r.err)
		req.Equal([]User{{ID: 2, Username: "bob", IsOnline: true}}, r.users)
	case <-time.After(5 * time.Second):
		req.Fail("hub call from handler never completed")
	}
	req.True(m.IsConnected())
}

func Test_Status_Labels_Follow_Transition_Order(t *testing.T) {
	req := require.New(t)

	// Given an executor that holds the first delivery until released
	var (
		mu     sync.Mutex
		labels []string
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	exec := func(fn func()) {
		first.Do(func() {
			close(entered)
			<-release
		})
		fn()
	}
	m := newTestManager(DefaultSettings(), WithExecutor(exec), WithRetryPolicy(RetryPolicy{MaxAttempts: -1}))
	m.Events().OnConnectionStatusChanged(func(s string) {
		mu.Lock()
		labels = append(labels, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := &session{ctx: ctx, cancel: cancel, username: "alice"}
	conn := &hubConn{}
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	// When the connection is attached and drops while Connected is still being delivered
	attached := make(chan bool, 1)
	go func() {
		ok := m.attach(sess, conn, StatusConnected)
		m.flushStatus()
		attached <- ok
	}()
	<-entered
	m.handleDrop(sess, conn, errors.New("connection reset"))
	close(release)
	req.True(<-attached)

	// Then Connected is observed before Disconnected
	mu.Lock()
	defer mu.Unlock()
	req.Equal([]string{StatusConnected, StatusDisconnected}, labels)
	req.Equal(StateDisconnected, m.State())
}
