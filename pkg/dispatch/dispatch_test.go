package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/relay/relaytest"
	"github.com/Hubmakerlabs/nsecbox/pkg/session"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(t *testing.T) store.Identity {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return store.Identity{Pubkey: pk, Nsec: sk}
}

type env struct {
	srv   *relaytest.Server
	st    *store.Memory
	log   *msglog.Log
	me    store.Identity
	peer  store.Identity
	s     *Sender
	gw    *gateway.G
	relay *session.S
}

func setup(t *testing.T, scheme gateway.Scheme) *env {
	t.Helper()
	c := context.Background()
	e := &env{srv: relaytest.New(), st: store.NewMemory(), me: identity(t), peer: identity(t)}
	t.Cleanup(e.srv.Close)
	require.NoError(t, store.SaveIdentity(c, e.st, e.me))
	e.relay = session.New(session.Config{URL: e.srv.URL})
	require.NoError(t, e.relay.Connect(c))
	t.Cleanup(func() { e.relay.Close() })
	e.gw = gateway.New(e.st)
	e.log = msglog.New(e.st)
	e.s = New(e.gw, e.relay, e.log, scheme)
	return e
}

func (e *env) peerDecrypt(t *testing.T, ev *nostr.Event) string {
	t.Helper()
	ps := store.NewMemory()
	require.NoError(t, store.SaveIdentity(context.Background(), ps, e.peer))
	pt, err := gateway.New(ps).Decrypt(context.Background(), gateway.SchemeOf(ev), ev.PubKey, ev.Content)
	require.NoError(t, err)
	return pt
}

func TestSend(t *testing.T) {
	for _, scheme := range []gateway.Scheme{gateway.NIP04, gateway.NIP44} {
		t.Run(string(scheme), func(t *testing.T) {
			e := setup(t, scheme)
			c := context.Background()
			ev, err := e.s.Send(c, e.peer.Pubkey, "hello")
			require.NoError(t, err)

			pub := e.srv.Published()
			require.Len(t, pub, 1)
			got := pub[0]
			assert.Equal(t, ev.ID, got.ID)
			assert.Equal(t, nostr.KindEncryptedDirectMessage, got.Kind)
			assert.Equal(t, e.me.Pubkey, got.PubKey)
			assert.Equal(t, []string{"p", e.peer.Pubkey}, []string(got.Tags[0]))
			assert.Equal(t, scheme, gateway.SchemeOf(got))
			assert.NoError(t, gateway.Verify(got))
			assert.Equal(t, "hello", e.peerDecrypt(t, got))

			msgs, err := e.log.Snapshot(c)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, msglog.StoredMessage{
				ID:           ev.ID,
				SenderPubkey: e.me.Pubkey,
				Content:      "hello",
				Timestamp:    int64(ev.CreatedAt) * 1000,
				Peer:         e.peer.Pubkey,
				Outgoing:     true,
			}, msgs[0])
		})
	}
}

func TestSendToNpub(t *testing.T) {
	e := setup(t, "")
	npub, err := keys.Npub(e.peer.Pubkey)
	require.NoError(t, err)
	ev, err := e.s.Send(context.Background(), npub, "hi")
	require.NoError(t, err)
	assert.Equal(t, gateway.NIP04, gateway.SchemeOf(ev))
	assert.Equal(t, e.peer.Pubkey, ev.Tags[0][1])
}

func TestSendValidation(t *testing.T) {
	e := setup(t, gateway.NIP04)
	for name, args := range map[string][2]string{
		"no recipient": {"", "hi"},
		"no message":   {e.peer.Pubkey, ""},
		"bad hex":      {strings.Repeat("z", 64), "hi"},
		"short":        {"abcd", "hi"},
		"bad npub":     {"npub1qqqq", "hi"},
	} {
		_, err := e.s.Send(context.Background(), args[0], args[1])
		assert.ErrorIs(t, err, errs.ErrValidation, name)
	}
	assert.Empty(t, e.srv.Published())
}

func TestSendWithoutIdentity(t *testing.T) {
	e := setup(t, gateway.NIP04)
	require.NoError(t, store.ClearIdentity(context.Background(), e.st))
	_, err := e.s.Send(context.Background(), e.peer.Pubkey, "hi")
	assert.ErrorIs(t, err, errs.ErrSend)
	assert.ErrorIs(t, err, errs.ErrNoIdentity)
	assert.Empty(t, e.srv.Published(), "nothing reaches the relay")
}

func TestSendRejected(t *testing.T) {
	e := setup(t, gateway.NIP04)
	e.srv.Reject("blocked: spam")
	_, err := e.s.Send(context.Background(), e.peer.Pubkey, "hi")
	assert.ErrorIs(t, err, errs.ErrSend)
	assert.Contains(t, err.Error(), "blocked: spam")
	msgs, _ := e.log.Snapshot(context.Background())
	assert.Empty(t, msgs, "rejected messages are not stored")
}

func TestSendDisconnected(t *testing.T) {
	e := setup(t, gateway.NIP04)
	e.relay.Close()
	_, err := e.s.Send(context.Background(), e.peer.Pubkey, "hi")
	assert.ErrorIs(t, err, errs.ErrSend)
	msgs, _ := e.log.Snapshot(context.Background())
	assert.Empty(t, msgs)
}
