package notify

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/stretchr/testify/assert"
)

func TestBell(t *testing.T) {
	var buf bytes.Buffer
	b := &Bell{W: &buf}
	b.Notify(msglog.StoredMessage{SenderPubkey: strings.Repeat("ab", 32), Content: "hello", Timestamp: 1700000000000})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\a"))
	assert.Contains(t, out, "abababab...")
	assert.Contains(t, out, "hello")

	buf.Reset()
	b.Quiet = true
	b.Name = func(string) string { return "alice" }
	b.Notify(msglog.StoredMessage{SenderPubkey: "x", Content: `{"message":"order placed"}`})
	out = buf.String()
	assert.NotContains(t, out, "\a")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "order placed")
}

func TestFunc(t *testing.T) {
	var got []string
	var n Notifier = Func(func(m msglog.StoredMessage) { got = append(got, m.ID) })
	n.Notify(msglog.StoredMessage{ID: "a"})
	Nop.Notify(msglog.StoredMessage{ID: "b"})
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, "abc", Short("abc"))
}

func TestBellTruncatesOnRunes(t *testing.T) {
	var buf bytes.Buffer
	b := &Bell{W: &buf, Quiet: true}
	b.Notify(msglog.StoredMessage{SenderPubkey: "x", Content: strings.Repeat("é", 90)})
	out := buf.String()
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, strings.Repeat("é", 77)+"...")
	assert.NotContains(t, out, strings.Repeat("é", 78))
}
