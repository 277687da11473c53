package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withIdentity(t *testing.T) (*G, store.Identity) {
	t.Helper()
	sk := keys.GeneratePrivateKey()
	pk, err := keys.GetPublicKey(sk)
	require.NoError(t, err)
	id := store.Identity{Pubkey: pk, Nsec: sk}
	s := store.NewMemory()
	require.NoError(t, store.SaveIdentity(context.Background(), s, id))
	return New(s), id
}

func TestSignProducesVerifiableEvent(t *testing.T) {
	g, id := withIdentity(t)
	for i, content := range []string{"", "hello", strings.Repeat("long ", 500)} {
		ev := &nostr.Event{
			CreatedAt: nostr.Timestamp(1700000000 + i),
			Kind:      nostr.KindEncryptedDirectMessage,
			Tags:      nostr.Tags{{"p", id.Pubkey}},
			Content:   content,
		}
		require.NoError(t, g.Sign(context.Background(), ev))
		assert.Equal(t, id.Pubkey, ev.PubKey)
		assert.Equal(t, ev.GetID(), ev.ID)
		assert.NoError(t, Verify(ev))
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	g, _ := withIdentity(t)
	ev := &nostr.Event{CreatedAt: nostr.Now(), Kind: 4, Content: "x"}
	require.NoError(t, g.Sign(context.Background(), ev))

	forged := *ev
	forged.Content = "y"
	assert.ErrorIs(t, Verify(&forged), errs.ErrValidation)

	forged = *ev
	forged.Sig = strings.Repeat("0", 128)
	assert.ErrorIs(t, Verify(&forged), errs.ErrValidation)
}

func TestSignWithoutIdentity(t *testing.T) {
	g := New(store.NewMemory())
	err := g.Sign(context.Background(), &nostr.Event{Kind: 4})
	assert.ErrorIs(t, err, errs.ErrSigning)
	assert.ErrorIs(t, err, errs.ErrNoIdentity)

	_, err = g.Encrypt(context.Background(), NIP04, strings.Repeat("a", 64), "hi")
	assert.ErrorIs(t, err, errs.ErrCrypto)
	_, err = g.PublicKey(context.Background())
	assert.ErrorIs(t, err, errs.ErrNoIdentity)
}

func TestRoundTripBothSchemes(t *testing.T) {
	alice, a := withIdentity(t)
	bob, b := withIdentity(t)
	c := context.Background()
	for _, s := range []Scheme{NIP04, NIP44} {
		for _, msg := range []string{"hello", "ünïcödé", strings.Repeat("z", 4000)} {
			ct, err := alice.Encrypt(c, s, b.Pubkey, msg)
			require.NoError(t, err)
			assert.NotEqual(t, msg, ct)

			pt, err := bob.Decrypt(c, s, a.Pubkey, ct)
			require.NoError(t, err, s)
			assert.Equal(t, msg, pt)

			// the sender can read its own copy
			pt, err = alice.Decrypt(c, s, b.Pubkey, ct)
			require.NoError(t, err, s)
			assert.Equal(t, msg, pt)
		}
	}
}

func TestDecryptMalformed(t *testing.T) {
	g, _ := withIdentity(t)
	_, other := withIdentity(t)
	c := context.Background()
	for _, s := range []Scheme{NIP04, NIP44} {
		_, err := g.Decrypt(c, s, other.Pubkey, "not a ciphertext")
		assert.ErrorIs(t, err, errs.ErrCrypto, s)
	}
	_, err := g.Decrypt(c, "nip99", other.Pubkey, "x")
	assert.ErrorIs(t, err, errs.ErrCrypto)
	_, err = g.Encrypt(c, NIP04, "npub-not-hex", "x")
	assert.ErrorIs(t, err, errs.ErrCrypto)
}

func TestSchemeOf(t *testing.T) {
	assert.Equal(t, NIP04, SchemeOf(&nostr.Event{Tags: nostr.Tags{{"p", "x"}}}))
	assert.Equal(t, NIP44, SchemeOf(&nostr.Event{Tags: nostr.Tags{{"p", "x"}, {"nip44"}}}))
	assert.Equal(t, NIP44, SchemeOf(&nostr.Event{Tags: MarkScheme(nostr.Tags{}, NIP44)}))
	assert.Len(t, MarkScheme(nostr.Tags{}, NIP04), 0)
	assert.Equal(t, "nip44Encrypt", NIP44.WireName(true))
	assert.Equal(t, "nip04Decrypt", NIP04.WireName(false))
}
