// Package msglog is the durable direct message log kept in the credential
// store under the messages key.
package msglog

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/puzpuzpuz/xsync/v2"
)

var log, chk = slog.New(os.Stderr)

// StoredMessage is one decrypted direct message. Timestamp is milliseconds
// since the epoch.
type StoredMessage struct {
	ID           string `json:"id"`
	SenderPubkey string `json:"senderPubkey"`
	Content      string `json:"content"`
	Timestamp    int64  `json:"timestamp"`
	Peer         string `json:"peer,omitempty"`
	Outgoing     bool   `json:"outgoing,omitempty"`
}

// Thread is the conversation with one peer, oldest message first.
type Thread struct {
	Peer     string
	Messages []StoredMessage
}

// Log appends to the stored message list. Each append is a read-modify-write
// of the whole list, serialized so that concurrent appends never lose one
// another.
type Log struct {
	Store store.I

	mx     sync.Mutex
	seen   *xsync.MapOf[string, struct{}]
	loaded bool
}

func New(s store.I) *Log {
	return &Log{Store: s, seen: xsync.NewMapOf[struct{}]()}
}

// Seen reports whether a message id is already in the log. Only ids loaded or
// appended by this Log are known.
func (l *Log) Seen(id string) bool {
	_, ok := l.seen.Load(id)
	return ok
}

func (l *Log) load(c context.Context) (msgs []StoredMessage, err error) {
	if err = store.LoadMessages(c, l.Store, &msgs); chk.E(err) {
		return
	}
	if !l.loaded {
		for _, m := range msgs {
			l.seen.Store(m.ID, struct{}{})
		}
		l.loaded = true
	}
	return
}

// Append adds m unless a message with the same id is already stored. added is
// false for duplicates.
func (l *Log) Append(c context.Context, m StoredMessage) (added bool, err error) {
	if l.Seen(m.ID) {
		return
	}
	l.mx.Lock()
	defer l.mx.Unlock()
	var msgs []StoredMessage
	if msgs, err = l.load(c); err != nil {
		return
	}
	for i := range msgs {
		if msgs[i].ID == m.ID {
			l.seen.Store(m.ID, struct{}{})
			return
		}
	}
	msgs = append(msgs, m)
	if err = store.SaveMessages(c, l.Store, msgs); err != nil {
		return
	}
	l.seen.Store(m.ID, struct{}{})
	log.D.F("stored message %s from %s (%d total)", m.ID, m.SenderPubkey, len(msgs))
	return true, nil
}

// Snapshot returns the stored messages in append order.
func (l *Log) Snapshot(c context.Context) (msgs []StoredMessage, err error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.load(c)
}

// Reset forgets the seen set so the next read reloads from the store, for
// use after the identity changes.
func (l *Log) Reset() {
	l.mx.Lock()
	l.seen.Range(func(id string, _ struct{}) bool {
		l.seen.Delete(id)
		return true
	})
	l.loaded = false
	l.mx.Unlock()
}

// Threads groups msgs by peer. Messages stored without a peer belong to their
// sender. Threads are ordered by their latest message, newest first.
func Threads(msgs []StoredMessage) (threads []Thread) {
	idx := make(map[string]int)
	for _, m := range msgs {
		peer := m.Peer
		if peer == "" {
			peer = m.SenderPubkey
		}
		i, ok := idx[peer]
		if !ok {
			i = len(threads)
			idx[peer] = i
			threads = append(threads, Thread{Peer: peer})
		}
		threads[i].Messages = append(threads[i].Messages, m)
	}
	for i := range threads {
		ms := threads[i].Messages
		sort.SliceStable(ms, func(a, b int) bool { return ms[a].Timestamp < ms[b].Timestamp })
	}
	sort.SliceStable(threads, func(a, b int) bool {
		return threads[a].last() > threads[b].last()
	})
	return
}

func (t Thread) last() int64 {
	if len(t.Messages) == 0 {
		return 0
	}
	return t.Messages[len(t.Messages)-1].Timestamp
}
