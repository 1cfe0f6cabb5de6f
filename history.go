//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=mocks/mock_history.go -package=mocks
package relaychat

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
)

// LiveHistory is the hub side of history, implemented by ConnectionManager.
type LiveHistory interface {
	GetMessageHistory(ctx context.Context, from, to string) ([]ChatMessage, error)
	GetUserMessages(ctx context.Context, username string) ([]ChatMessage, error)
}

// FallbackHistory is the REST side of history, implemented by ChatClient.
type FallbackHistory interface {
	MessageHistory(ctx context.Context, from, to string) ([]ChatMessage, error)
}

// HistoryReconciler loads the thread between two users from whichever source answers.
type HistoryReconciler struct {
	live     LiveHistory
	fallback FallbackHistory
	log      *slog.Logger
}

// NewHistoryReconciler accepts a nil fallback.
func NewHistoryReconciler(live LiveHistory, fallback FallbackHistory, log *slog.Logger) *HistoryReconciler {
	if log == nil {
		log = discardLogger
	}
	return &HistoryReconciler{live: live, fallback: fallback, log: log}
}

// LoadThread returns the messages between current and other, oldest first.
// History is supplementary: every failure ends in an empty thread, never an error.
func (r *HistoryReconciler) LoadThread(ctx context.Context, current, other string) []ChatMessage {
	msgs, err := r.loadLive(ctx, current, other)
	if err != nil {
		r.log.Debug("live history unavailable, trying REST", "with", other, "error", err)
		msgs, err = r.loadFallback(ctx, current, other)
		if err != nil {
			r.log.Debug("REST history unavailable", "with", other, "error", err)
			return []ChatMessage{}
		}
	}
	return sortThread(filterThread(msgs, current, other))
}

func (r *HistoryReconciler) loadLive(ctx context.Context, current, other string) ([]ChatMessage, error) {
	if r.live == nil {
		return nil, ErrNotConnected
	}
	msgs, err := r.live.GetMessageHistory(ctx, current, other)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs, nil
	}
	all, err := r.live.GetUserMessages(ctx, current)
	if err != nil {
		return nil, err
	}
	return filterThread(all, current, other), nil
}

func (r *HistoryReconciler) loadFallback(ctx context.Context, current, other string) ([]ChatMessage, error) {
	if r.fallback == nil {
		return nil, ErrNotConnected
	}
	return r.fallback.MessageHistory(ctx, current, other)
}

func filterThread(msgs []ChatMessage, a, b string) []ChatMessage {
	return lo.Filter(msgs, func(m ChatMessage, _ int) bool {
		return m.Between(a, b)
	})
}

func sortThread(msgs []ChatMessage) []ChatMessage {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}

// ============================================================================
// Thread
// ============================================================================

// DedupWindow is how far apart an echo and its server copy may be and still count as one message.
const DedupWindow = 2 * time.Second

type MergeResult int

const (
	MergeIgnored MergeResult = iota
	MergeAppended
	MergeUpdated
)

func (r MergeResult) String() string {
	switch r {
	case MergeAppended:
		return "appended"
	case MergeUpdated:
		return "updated"
	}
	return "ignored"
}

type threadEntry struct {
	msg   ChatMessage
	local bool
}

// Thread is the visible conversation between owner and peer. It is not safe
// for concurrent use; mutate it from the host's Loop.
type Thread struct {
	owner   string
	peer    string
	entries []threadEntry
}

// NewThread seeds a thread with loaded history.
func NewThread(owner, peer string, history []ChatMessage) *Thread {
	t := &Thread{owner: owner, peer: peer}
	for _, m := range history {
		if m.Between(owner, peer) {
			t.entries = append(t.entries, threadEntry{msg: m})
		}
	}
	return t
}

func (t *Thread) Peer() string { return t.peer }

// Echo appends an optimistic copy of a message the owner just sent.
func (t *Thread) Echo(text string, at time.Time) ChatMessage {
	msg := ChatMessage{
		Type:      DefaultMessageType,
		From:      t.owner,
		To:        t.peer,
		Message:   text,
		Timestamp: at,
	}
	t.entries = append(t.entries, threadEntry{msg: msg, local: true})
	return msg
}

// Retract removes an unconfirmed echo after a failed send.
func (t *Thread) Retract(msg ChatMessage) bool {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.local && e.msg == msg {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Merge folds a pushed message into the thread. A message matching an
// existing entry by sender and text within DedupWindow only updates that
// entry's timestamp.
func (t *Thread) Merge(msg ChatMessage) MergeResult {
	if !msg.Between(t.owner, t.peer) {
		return MergeIgnored
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.msg.From == msg.From && e.msg.Message == msg.Message && within(e.msg.Timestamp, msg.Timestamp, DedupWindow) {
			e.msg.Timestamp = msg.Timestamp
			e.local = false
			return MergeUpdated
		}
	}
	t.entries = append(t.entries, threadEntry{msg: msg})
	return MergeAppended
}

// Messages returns a copy of the thread in display order.
func (t *Thread) Messages() []ChatMessage {
	return lo.Map(t.entries, func(e threadEntry, _ int) ChatMessage { return e.msg })
}

// Pending counts echoes not yet confirmed by the server.
func (t *Thread) Pending() int {
	return lo.CountBy(t.entries, func(e threadEntry) bool { return e.local })
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
