package store

import (
	"context"
	"testing"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msg struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func backends(t *testing.T) map[string]I {
	t.Helper()
	b, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return map[string]I{"memory": NewMemory(), "badger": b}
}

func TestIdentity(t *testing.T) {
	c := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := LoadIdentity(c, s)
			require.NoError(t, err)
			assert.False(t, ok)

			want := Identity{Pubkey: "ab", Nsec: "cd"}
			require.NoError(t, SaveIdentity(c, s, want))
			got, ok, err := LoadIdentity(c, s)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, want, got)

			require.NoError(t, ClearIdentity(c, s))
			_, ok, err = LoadIdentity(c, s)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMessages(t *testing.T) {
	c := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var got []msg
			require.NoError(t, LoadMessages(c, s, &got))
			assert.Empty(t, got)

			want := []msg{{"1", "a"}, {"2", "b"}}
			require.NoError(t, SaveMessages(c, s, want))
			require.NoError(t, LoadMessages(c, s, &got))
			assert.Equal(t, want, got)

			v, err := s.Get(c, KeyMessages, "missing")
			require.NoError(t, err)
			assert.Contains(t, v, KeyMessages)
			assert.NotContains(t, v, "missing")
		})
	}
}

func TestBadgerDurable(t *testing.T) {
	dir := t.TempDir()
	c := context.Background()
	b, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, SaveIdentity(c, b, Identity{Pubkey: "p", Nsec: "s"}))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir)
	require.NoError(t, err)
	defer b.Close()
	id, ok, err := LoadIdentity(c, b)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "p", id.Pubkey)
}

func TestStorageError(t *testing.T) {
	m := NewMemory()
	m.Fail = true
	_, _, err := LoadIdentity(context.Background(), m)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.ErrorIs(t, SaveIdentity(context.Background(), m, Identity{}), errs.ErrStorage)

	m.Fail = false
	require.NoError(t, m.Set(context.Background(), Entries{KeyMessages: []byte("{")}))
	var got []msg
	assert.ErrorIs(t, LoadMessages(context.Background(), m, &got), errs.ErrStorage)
}
