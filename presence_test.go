package relaychat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubUsers struct {
	users []User
	err   error
}

func (s stubUsers) GetOnlineUsers(context.Context) ([]User, error) {
	return s.users, s.err
}

func Test_Presence_Snapshot_Excludes_Current_User(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")

	entries, err := tracker.Snapshot(context.Background(), stubUsers{users: []User{
		{Username: "alice", IsOnline: true},
		{Username: "bob", Email: "bob@example.com", IsOnline: true},
		{Username: "carol", IsOnline: false},
		{Username: ""},
	}})

	req.NoError(err)
	req.Equal([]PresenceEntry{
		{Username: "bob", Email: "bob@example.com", IsOnline: true},
		{Username: "carol", IsOnline: false},
	}, entries)
}

func Test_Presence_Snapshot_Error_Keeps_Set(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")
	tracker.Replace([]User{{Username: "bob", IsOnline: true}})

	_, err := tracker.Snapshot(context.Background(), stubUsers{err: errors.New("down")})

	req.Error(err)
	req.Equal([]string{"bob"}, tracker.Online())
}

func Test_Presence_Replace_Later_Duplicate_Wins(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")

	tracker.Replace([]User{{Username: "bob", IsOnline: false}, {Username: "bob", IsOnline: true}})

	req.Len(tracker.Entries(), 1)
	entry, ok := tracker.Lookup("bob")
	req.True(ok)
	req.True(entry.IsOnline)
}

func Test_Presence_Status_Event_Updates_Known_User(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")
	tracker.Replace([]User{{Username: "bob", IsOnline: true}})

	req.True(tracker.ApplyStatusEvent("bob", false))
	req.False(tracker.ApplyStatusEvent("bob", false))

	entry, _ := tracker.Lookup("bob")
	req.False(entry.IsOnline)
	req.Len(tracker.Entries(), 1)
}

func Test_Presence_Status_Event_Inserts_Only_New_Online_Users(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")

	req.False(tracker.ApplyStatusEvent("dave", false))
	req.False(tracker.ApplyStatusEvent("alice", true))
	req.True(tracker.ApplyStatusEvent("erin", true))

	req.Equal([]PresenceEntry{{Username: "erin", IsOnline: true}}, tracker.Entries())
}

func Test_Presence_Entries_Is_A_Copy(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")
	tracker.Replace([]User{{Username: "bob", IsOnline: true}})

	entries := tracker.Entries()
	entries[0].IsOnline = false

	req.Equal([]string{"bob"}, tracker.Online())
}

func Test_Presence_Online_Then_Offline_Leaves_One_Entry(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker("alice")

	tracker.ApplyStatusEvent("bob", true)
	tracker.ApplyStatusEvent("bob", false)

	req.Equal([]PresenceEntry{{Username: "bob", IsOnline: false}}, tracker.Entries())
	req.Empty(tracker.Online())
}
