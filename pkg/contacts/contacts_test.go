package contacts

import (
	"context"
	"fmt"
	"testing"

	"github.com/Hubmakerlabs/nsecbox/pkg/relay/relaytest"
	"github.com/Hubmakerlabs/nsecbox/pkg/session"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type key struct{ sk, pk string }

func newKey(t *testing.T) key {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return key{sk, pk}
}

func signed(t *testing.T, k key, kind int, ts int64, tags nostr.Tags, content string) *nostr.Event {
	ev := &nostr.Event{Kind: kind, CreatedAt: nostr.Timestamp(ts), Tags: tags, Content: content}
	require.NoError(t, ev.Sign(k.sk))
	return ev
}

func connect(t *testing.T, srv *relaytest.Server) *session.S {
	s := session.New(session.Config{URL: srv.URL})
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFetch(t *testing.T) {
	srv := relaytest.New()
	defer srv.Close()
	me, alice, bob, carol, dave := newKey(t), newKey(t), newKey(t), newKey(t), newKey(t)

	// an older list that must be ignored
	srv.Add(signed(t, me, 3, 10, nostr.Tags{{"p", dave.pk}}, ""))
	srv.Add(signed(t, me, 3, 20, nostr.Tags{
		{"p", alice.pk},
		{"p", bob.pk, "wss://bob.example", "bobby"},
		{"p", carol.pk, ""},
		{"p", alice.pk},
		{"e", "ignored"},
	}, ""))
	srv.Add(signed(t, alice, 0, 1, nil, `{"name":"old alice"}`))
	srv.Add(signed(t, alice, 0, 2, nil, `{"name":"alice","display_name":"Alice A"}`))
	srv.Add(signed(t, bob, 0, 1, nil, `{"name":"bob"}`))
	srv.Add(signed(t, carol, 0, 1, nil, `{"display_name":"Carol"}`))

	list, err := Fetch(context.Background(), connect(t, srv), me.pk)
	require.NoError(t, err)
	assert.Equal(t, []Contact{
		{Pubkey: alice.pk, Name: "alice"},
		{Pubkey: bob.pk, Name: "bobby", RelayHint: "wss://bob.example", Petname: "bobby"},
		{Pubkey: carol.pk, Name: "Carol"},
	}, list)
}

func TestFetchFallbackName(t *testing.T) {
	srv := relaytest.New()
	defer srv.Close()
	me, alice := newKey(t), newKey(t)
	srv.Add(signed(t, me, 3, 1, nostr.Tags{{"p", alice.pk}}, ""))
	srv.Add(signed(t, alice, 0, 1, nil, "not json"))

	list, err := Fetch(context.Background(), connect(t, srv), me.pk)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, alice.pk[:8]+"...", list[0].Name)
}

func TestFetchBatchesProfiles(t *testing.T) {
	srv := relaytest.New()
	defer srv.Close()
	me := newKey(t)
	var tags nostr.Tags
	for i := 0; i < 120; i++ {
		k := newKey(t)
		tags = append(tags, nostr.Tag{"p", k.pk})
		srv.Add(signed(t, k, 0, 1, nil, fmt.Sprintf(`{"name":"n%d"}`, i)))
	}
	srv.Add(signed(t, me, 3, 1, tags, ""))

	list, err := Fetch(context.Background(), connect(t, srv), me.pk)
	require.NoError(t, err)
	require.Len(t, list, 120)
	assert.Equal(t, "n0", list[0].Name)
	assert.Equal(t, "n119", list[119].Name)
	// one REQ for the follow list, three for profiles
	assert.Len(t, srv.Reqs(), 4)
}

func TestFetchNoList(t *testing.T) {
	srv := relaytest.New()
	defer srv.Close()
	list, err := Fetch(context.Background(), connect(t, srv), newKey(t).pk)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBook(t *testing.T) {
	var b Book
	assert.Empty(t, b.Name("x"))
	b.Set([]Contact{{Pubkey: "x", Name: "ex"}})
	assert.Equal(t, "ex", b.Name("x"))
	assert.Len(t, b.List(), 1)
	assert.Equal(t, "abcdefgh...", DisplayName("", "", "", "abcdefghijk"))
}
