package relaychat

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// OnlineUsersSource lists the users the server currently knows about.
type OnlineUsersSource interface {
	GetOnlineUsers(ctx context.Context) ([]User, error)
}

// PresenceTracker keeps the contact list of one user. Entries are never
// removed by status events, only flagged offline.
type PresenceTracker struct {
	mu          sync.RWMutex
	currentUser string
	entries     []PresenceEntry
	index       map[string]int
}

func NewPresenceTracker(currentUser string) *PresenceTracker {
	return &PresenceTracker{
		currentUser: currentUser,
		index:       make(map[string]int),
	}
}

// Snapshot fetches the full user list and replaces the local set.
// On error the current set is kept.
func (t *PresenceTracker) Snapshot(ctx context.Context, src OnlineUsersSource) ([]PresenceEntry, error) {
	users, err := src.GetOnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	t.Replace(users)
	return t.Entries(), nil
}

// Replace swaps the set for users, skipping the current user. A later duplicate wins.
func (t *PresenceTracker) Replace(users []User) {
	users = lo.Filter(users, func(u User, _ int) bool {
		return u.Username != "" && u.Username != t.currentUser
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = t.entries[:0:0]
	t.index = make(map[string]int, len(users))
	for _, u := range users {
		entry := PresenceEntry{Username: u.Username, Email: u.Email, IsOnline: u.IsOnline}
		if i, ok := t.index[u.Username]; ok {
			t.entries[i] = entry
			continue
		}
		t.index[u.Username] = len(t.entries)
		t.entries = append(t.entries, entry)
	}
}

// ApplyStatusEvent updates a known user in place or adds an unknown user
// coming online. It reports whether the set changed.
func (t *PresenceTracker) ApplyStatusEvent(username string, isOnline bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[username]; ok {
		if t.entries[i].IsOnline == isOnline {
			return false
		}
		t.entries[i].IsOnline = isOnline
		return true
	}
	if !isOnline || username == "" || username == t.currentUser {
		return false
	}
	t.index[username] = len(t.entries)
	t.entries = append(t.entries, PresenceEntry{Username: username, IsOnline: true})
	return true
}

func (t *PresenceTracker) Lookup(username string) (PresenceEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[username]
	if !ok {
		return PresenceEntry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of the set in insertion order.
func (t *PresenceTracker) Entries() []PresenceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]PresenceEntry(nil), t.entries...)
}

// Online returns the usernames currently flagged online.
func (t *PresenceTracker) Online() []string {
	return lo.FilterMap(t.Entries(), func(e PresenceEntry, _ int) (string, bool) {
		return e.Username, e.IsOnline
	})
}
