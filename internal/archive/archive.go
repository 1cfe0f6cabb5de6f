// Package archive keeps a local copy of the messages a client has seen so a
// thread can still be read while the relay is unreachable.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	relaychat "github.com/relaychat/relaychat-go"
)

// Archive stores chat messages in BadgerDB under thread-scoped keys.
type Archive struct {
	db  *badger.DB
	log *slog.Logger
}

// Open opens or creates the archive at path.
func Open(path string, log *slog.Logger) (*Archive, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return New(db, log), nil
}

func New(db *badger.DB, log *slog.Logger) *Archive {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Archive{db: db, log: log}
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// threadPrefix is shared by both directions of a conversation.
func threadPrefix(a, b string) string {
	pair := []string{url.QueryEscape(a), url.QueryEscape(b)}
	sort.Strings(pair)
	return "thread:" + pair[0] + "|" + pair[1] + ":"
}

// messageKey is deterministic so storing the same message twice overwrites it.
func messageKey(msg relaychat.ChatMessage) []byte {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(msg.From+"\x00"+msg.To+"\x00"+msg.Message+"\x00"+msg.Timestamp.UTC().Format(time.RFC3339Nano)))
	return []byte(fmt.Sprintf("%s%020d:%s",
		threadPrefix(msg.From, msg.To),
		timeKey(msg.Timestamp),
		id))
}

var (
	minKeyTime = time.Unix(0, math.MinInt64)
	maxKeyTime = time.Unix(0, math.MaxInt64)
)

// timeKey maps ts onto an unsigned value that sorts in time order, pre-1970
// instants included. Instants outside the UnixNano range are clamped.
func timeKey(ts time.Time) uint64 {
	var ns int64
	switch {
	case ts.Before(minKeyTime):
		ns = math.MinInt64
	case ts.After(maxKeyTime):
		ns = math.MaxInt64
	default:
		ns = ts.UnixNano()
	}
	return uint64(ns) ^ 1<<63
}

// Store persists msgs. Messages without both parties are skipped.
func (a *Archive) Store(msgs ...relaychat.ChatMessage) error {
	return a.db.Update(func(txn *badger.Txn) error {
		for _, msg := range msgs {
			if msg.From == "" || msg.To == "" {
				a.log.Debug("archive skipped message without parties")
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode message: %w", err)
			}
			if err := txn.Set(messageKey(msg), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Thread returns the last limit messages between a and b, oldest first.
// A limit of zero or less returns the whole thread.
func (a *Archive) Thread(userA, userB string, limit int) ([]relaychat.ChatMessage, error) {
	prefix := []byte(threadPrefix(userA, userB))
	var msgs []relaychat.ChatMessage

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var msg relaychat.ChatMessage
				if err := json.Unmarshal(v, &msg); err != nil {
					a.log.Warn("skipping unreadable archive entry", "key", string(item.Key()), "error", err)
					return nil
				}
				msgs = append(msgs, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read archive thread: %w", err)
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Contacts lists the peers owner has an archived thread with.
func (a *Archive) Contacts(owner string) ([]string, error) {
	self := url.QueryEscape(owner)
	seen := map[string]bool{}
	prefix := []byte("thread:")

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), "thread:")
			pair, _, ok := strings.Cut(key, ":")
			if !ok {
				continue
			}
			left, right, ok := strings.Cut(pair, "|")
			if !ok {
				continue
			}
			var peer string
			switch self {
			case left:
				peer = right
			case right:
				peer = left
			default:
				continue
			}
			if name, err := url.QueryUnescape(peer); err == nil {
				seen[name] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archive contacts: %w", err)
	}

	contacts := make([]string, 0, len(seen))
	for name := range seen {
		contacts = append(contacts, name)
	}
	sort.Strings(contacts)
	return contacts, nil
}
