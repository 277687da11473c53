package msglog

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDeduplicates(t *testing.T) {
	c := context.Background()
	l := New(store.NewMemory())
	m := StoredMessage{ID: "a", SenderPubkey: "p1", Content: "hi", Timestamp: 1000}

	added, err := l.Append(c, m)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.Append(c, m)
	require.NoError(t, err)
	assert.False(t, added)

	msgs, err := l.Snapshot(c)
	require.NoError(t, err)
	assert.Equal(t, []StoredMessage{m}, msgs)
}

func TestAppendSeesExistingLog(t *testing.T) {
	c := context.Background()
	s := store.NewMemory()
	require.NoError(t, New(s).appendAll(c, "x", "y"))

	// a fresh Log over the same store knows what is already there
	l := New(s)
	added, err := l.Append(c, StoredMessage{ID: "x"})
	require.NoError(t, err)
	assert.False(t, added)
	added, err = l.Append(c, StoredMessage{ID: "z"})
	require.NoError(t, err)
	assert.True(t, added)
	msgs, _ := l.Snapshot(c)
	assert.Len(t, msgs, 3)
}

func (l *Log) appendAll(c context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := l.Append(c, StoredMessage{ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func TestConcurrentAppendsKeepAll(t *testing.T) {
	c := context.Background()
	l := New(store.NewMemory())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(c, StoredMessage{ID: fmt.Sprint(i % 25), Timestamp: int64(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	msgs, err := l.Snapshot(c)
	require.NoError(t, err)
	assert.Len(t, msgs, 25)
}

func TestAppendStorageError(t *testing.T) {
	s := store.NewMemory()
	l := New(s)
	s.Fail = true
	added, err := l.Append(context.Background(), StoredMessage{ID: "a"})
	assert.False(t, added)
	assert.ErrorIs(t, err, errs.ErrStorage)

	// the failed id is not marked seen
	s.Fail = false
	added, err = l.Append(context.Background(), StoredMessage{ID: "a"})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestReset(t *testing.T) {
	c := context.Background()
	s := store.NewMemory()
	l := New(s)
	_, _ = l.Append(c, StoredMessage{ID: "a"})
	require.NoError(t, s.Delete(c, store.KeyMessages))
	l.Reset()
	assert.False(t, l.Seen("a"))
	added, err := l.Append(c, StoredMessage{ID: "a"})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestThreads(t *testing.T) {
	msgs := []StoredMessage{
		{ID: "1", SenderPubkey: "alice", Timestamp: 3000},
		{ID: "2", SenderPubkey: "bob", Timestamp: 1000},
		{ID: "3", SenderPubkey: "me", Peer: "alice", Outgoing: true, Timestamp: 2000},
		{ID: "4", SenderPubkey: "bob", Peer: "bob", Timestamp: 500},
	}
	th := Threads(msgs)
	require.Len(t, th, 2)
	assert.Equal(t, "alice", th[0].Peer)
	assert.Equal(t, []string{"3", "1"}, ids(th[0].Messages))
	assert.Equal(t, "bob", th[1].Peer)
	assert.Equal(t, []string{"4", "2"}, ids(th[1].Messages))
	assert.Empty(t, Threads(nil))
}

func ids(ms []StoredMessage) (out []string) {
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return
}

func TestParsePayload(t *testing.T) {
	p, ok := ParsePayload(`{"id":"o1","type":0,"message":"thanks","items":[{"product_id":"p9","quantity":2}],"shipping_id":"s1"}`)
	require.True(t, ok)
	assert.Equal(t, "thanks", p.Message)
	require.NotNil(t, p.Type)
	assert.Equal(t, 0, *p.Type)
	assert.Equal(t, []string{
		"Message: thanks",
		"Items:",
		"  - Product ID: p9, Quantity: 2",
		"Shipping ID: s1",
		"Type: 0",
		"ID: o1",
	}, p.Lines())

	for _, s := range []string{"hello", "{not json", `{"other":1}`, `[1,2]`, ""} {
		_, ok = ParsePayload(s)
		assert.False(t, ok, s)
	}
	assert.Equal(t, []string{"a", "b"}, Render("a\nb"))
	assert.Equal(t, []string{"Message: x"}, Render(`{"message":"x"}`))
}
