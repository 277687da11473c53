package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/notify"
	"github.com/Hubmakerlabs/nsecbox/pkg/relay/relaytest"
	"github.com/Hubmakerlabs/nsecbox/pkg/session"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	me, peer   store.Identity
	gw, peerGw *gateway.G
	log        *msglog.Log
	store      *store.Memory
	notified   []msglog.StoredMessage
	p          *Pipeline
}

func identity(t *testing.T) store.Identity {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return store.Identity{Pubkey: pk, Nsec: sk}
}

func setup(t *testing.T) *fixture {
	t.Helper()
	c := context.Background()
	f := &fixture{me: identity(t), peer: identity(t), store: store.NewMemory()}
	require.NoError(t, store.SaveIdentity(c, f.store, f.me))
	peerStore := store.NewMemory()
	require.NoError(t, store.SaveIdentity(c, peerStore, f.peer))
	f.gw, f.peerGw = gateway.New(f.store), gateway.New(peerStore)
	f.log = msglog.New(f.store)
	f.p = New(f.gw, f.log, notify.Func(func(m msglog.StoredMessage) {
		f.notified = append(f.notified, m)
	}))
	return f
}

// dm builds a direct message from the peer to me.
func (f *fixture) dm(t *testing.T, s gateway.Scheme, text string, ts int64) *nostr.Event {
	t.Helper()
	c := context.Background()
	ct, err := f.peerGw.Encrypt(c, s, f.me.Pubkey, text)
	require.NoError(t, err)
	ev := &nostr.Event{
		Kind:      nostr.KindEncryptedDirectMessage,
		CreatedAt: nostr.Timestamp(ts),
		Tags:      gateway.MarkScheme(nostr.Tags{{"p", f.me.Pubkey}}, s),
		Content:   ct,
	}
	require.NoError(t, f.peerGw.Sign(c, ev))
	return ev
}

func TestIngestIdempotent(t *testing.T) {
	f := setup(t)
	c := context.Background()
	ev := f.dm(t, gateway.NIP04, "hello", 1700000000)

	added, err := f.p.Ingest(c, ev)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.p.Ingest(c, ev)
	require.NoError(t, err)
	assert.False(t, added)

	msgs, err := f.log.Snapshot(c)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msglog.StoredMessage{
		ID:           ev.ID,
		SenderPubkey: f.peer.Pubkey,
		Content:      "hello",
		Timestamp:    1700000000000,
		Peer:         f.peer.Pubkey,
	}, msgs[0])
	assert.Len(t, f.notified, 1, "duplicates are not notified")
}

func TestIngestKeepsDistinctEvents(t *testing.T) {
	f := setup(t)
	c := context.Background()
	for i := 0; i < 3; i++ {
		added, err := f.p.Ingest(c, f.dm(t, gateway.NIP04, "same text", int64(1700000000+i)))
		require.NoError(t, err)
		assert.True(t, added)
	}
	msgs, _ := f.log.Snapshot(c)
	assert.Len(t, msgs, 3)
}

func TestIngestKeepsArrivalOrder(t *testing.T) {
	f := setup(t)
	c := context.Background()
	stamps := []int64{1700000300, 1700000100, 1700000200}
	var ids []string
	for i, ts := range stamps {
		ev := f.dm(t, gateway.NIP04, fmt.Sprint("msg ", i), ts)
		ids = append(ids, ev.ID)
		added, err := f.p.Ingest(c, ev)
		require.NoError(t, err)
		assert.True(t, added)
	}
	msgs, err := f.log.Snapshot(c)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := range stamps {
		assert.Equal(t, ids[i], msgs[i].ID)
		assert.Equal(t, stamps[i]*1000, msgs[i].Timestamp)
	}
}

func TestIngestSchemeB(t *testing.T) {
	f := setup(t)
	c := context.Background()
	ev := f.dm(t, gateway.NIP44, "sealed", 1700000000)
	added, err := f.p.Ingest(c, ev)
	require.NoError(t, err)
	assert.True(t, added)
	msgs, _ := f.log.Snapshot(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sealed", msgs[0].Content)
}

func TestIngestDrops(t *testing.T) {
	f := setup(t)
	c := context.Background()

	// scheme B content without the marker is read as scheme A and fails
	unmarked := f.dm(t, gateway.NIP44, "x", 1)
	unmarked.Tags = nostr.Tags{{"p", f.me.Pubkey}}
	require.NoError(t, f.peerGw.Sign(c, unmarked))

	garbage := &nostr.Event{Kind: 4, Tags: nostr.Tags{{"p", f.me.Pubkey}}, Content: "not?iv=ciphertext"}
	require.NoError(t, f.peerGw.Sign(c, garbage))

	tampered := f.dm(t, gateway.NIP04, "x", 2)
	tampered.Content = f.dm(t, gateway.NIP04, "y", 2).Content

	note := &nostr.Event{Kind: 1, Content: "hi"}
	require.NoError(t, f.peerGw.Sign(c, note))

	for name, ev := range map[string]*nostr.Event{
		"unmarked": unmarked, "garbage": garbage, "tampered": tampered, "kind 1": note,
	} {
		added, err := f.p.Ingest(c, ev)
		assert.NoError(t, err, name)
		assert.False(t, added, name)
	}
	msgs, _ := f.log.Snapshot(c)
	assert.Empty(t, msgs)
	assert.Empty(t, f.notified)
}

func TestIngestOwnMessage(t *testing.T) {
	f := setup(t)
	c := context.Background()
	ct, err := f.gw.Encrypt(c, gateway.NIP04, f.peer.Pubkey, "from me")
	require.NoError(t, err)
	ev := &nostr.Event{Kind: 4, CreatedAt: 5, Tags: nostr.Tags{{"p", f.peer.Pubkey}}, Content: ct}
	require.NoError(t, f.gw.Sign(c, ev))

	added, err := f.p.Ingest(c, ev)
	require.NoError(t, err)
	require.True(t, added)
	msgs, _ := f.log.Snapshot(c)
	assert.Equal(t, f.peer.Pubkey, msgs[0].Peer)
	assert.True(t, msgs[0].Outgoing)
	assert.Equal(t, "from me", msgs[0].Content)
}

func TestIngestStorageError(t *testing.T) {
	f := setup(t)
	ev := f.dm(t, gateway.NIP04, "x", 1)
	_, _ = f.log.Snapshot(context.Background())
	f.store.Fail = true
	_, err := f.p.Ingest(context.Background(), ev)
	assert.ErrorIs(t, err, errs.ErrStorage)
}

func TestIngestNoIdentity(t *testing.T) {
	f := setup(t)
	ev := f.dm(t, gateway.NIP04, "x", 1)
	require.NoError(t, store.ClearIdentity(context.Background(), f.store))
	_, err := f.p.Ingest(context.Background(), ev)
	assert.ErrorIs(t, err, errs.ErrNoIdentity)
}

func TestBackfillAndLive(t *testing.T) {
	f := setup(t)
	c := context.Background()
	srv := relaytest.New()
	defer srv.Close()
	// stored newest first, ingested oldest first
	for i := 3; i > 0; i-- {
		srv.Add(f.dm(t, gateway.NIP04, fmt.Sprint("old ", i), int64(1700000000+i)))
	}
	// not for me
	other := identity(t)
	stray := f.dm(t, gateway.NIP04, "stray", 1)
	stray.Tags = nostr.Tags{{"p", other.Pubkey}}
	require.NoError(t, f.peerGw.Sign(c, stray))
	srv.Add(stray)

	s := session.New(session.Config{URL: srv.URL})
	require.NoError(t, s.Connect(c))
	defer s.Close()

	n, err := f.p.Backfill(c, s, f.me.Pubkey, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	msgs, _ := f.log.Snapshot(c)
	require.Len(t, msgs, 3)
	assert.Equal(t, "old 1", msgs[0].Content)
	assert.Equal(t, "old 3", msgs[2].Content)

	sub, err := s.Subscribe(c, HistoryFilter(f.me.Pubkey, 0), f.p.Handle(c))
	require.NoError(t, err)
	defer sub.Close()
	srv.Add(f.dm(t, gateway.NIP04, "live", 1700000100))
	assert.Eventually(t, func() bool {
		msgs, _ := f.log.Snapshot(c)
		return len(msgs) == 4 && msgs[3].Content == "live"
	}, 3*time.Second, 10*time.Millisecond)

	// backfilling again adds nothing
	n, err = f.p.Backfill(c, s, f.me.Pubkey, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
