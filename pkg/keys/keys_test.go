package keys

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPublicKeyMatchesGoNostr(t *testing.T) {
	for i := 0; i < 20; i++ {
		sk := GeneratePrivateKey()
		require.True(t, IsValid32ByteHex(sk))
		pk, err := GetPublicKey(sk)
		require.NoError(t, err)
		want, err := nostr.GetPublicKey(sk)
		require.NoError(t, err)
		assert.Equal(t, want, pk)
	}
}

func TestDecodeSecret(t *testing.T) {
	sk := GeneratePrivateKey()
	want, err := GetPublicKey(sk)
	require.NoError(t, err)

	nsec, err := Nsec(sk)
	require.NoError(t, err)

	for _, in := range []string{sk, nsec, "  " + nsec + "\n"} {
		gotSk, gotPk, err := DecodeSecret(in)
		require.NoError(t, err, in)
		assert.Equal(t, sk, gotSk)
		assert.Equal(t, want, gotPk)
	}

	for _, bad := range []string{"", "nsec1qqqq", "abcd", sk[:62] + "zz"} {
		_, _, err := DecodeSecret(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodePublic(t *testing.T) {
	pk, err := GetPublicKey(GeneratePrivateKey())
	require.NoError(t, err)
	npub, err := Npub(pk)
	require.NoError(t, err)

	got, err := DecodePublic(npub)
	require.NoError(t, err)
	assert.Equal(t, pk, got)

	got, err = DecodePublic(pk)
	require.NoError(t, err)
	assert.Equal(t, pk, got)

	_, err = DecodePublic("npub1nope")
	assert.Error(t, err)
}
