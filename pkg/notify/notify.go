// Package notify tells the user about newly stored messages.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/gookit/color"
)

// Notifier is told about each message the log did not have before. It must
// not block for long and has no error to report.
type Notifier interface {
	Notify(m msglog.StoredMessage)
}

// Func adapts a function to Notifier.
type Func func(m msglog.StoredMessage)

func (f Func) Notify(m msglog.StoredMessage) { f(m) }

// Nop drops every notification.
var Nop Notifier = Func(func(msglog.StoredMessage) {})

// Bell rings the terminal bell and prints a colored one line summary.
type Bell struct {
	mx sync.Mutex
	W  io.Writer
	// Name resolves a pubkey to a display name. Nil prints a shortened key.
	Name func(pubkey string) string
	// Quiet leaves out the bell character.
	Quiet bool
}

var (
	stamp  = color.Bit24(125, 125, 125, false).Sprint
	sender = color.Bit24(0, 200, 255, false).Sprint
)

func (b *Bell) Notify(m msglog.StoredMessage) {
	name := Short(m.SenderPubkey)
	if b.Name != nil {
		if n := b.Name(m.SenderPubkey); n != "" {
			name = n
		}
	}
	text := m.Content
	if p, ok := msglog.ParsePayload(m.Content); ok {
		if text = p.Message; text == "" {
			text = "(order payload)"
		}
	}
	if r := []rune(text); len(r) > 80 {
		text = string(r[:77]) + "..."
	}
	ts := time.UnixMilli(m.Timestamp).Format("02.01.2006 15:04")
	b.mx.Lock()
	defer b.mx.Unlock()
	if !b.Quiet {
		fmt.Fprint(b.W, "\a")
	}
	fmt.Fprintf(b.W, "%s %s %s\n", stamp(ts), sender(name+":"), text)
}

// Short abbreviates a pubkey for display.
func Short(pubkey string) string {
	if len(pubkey) <= 8 {
		return pubkey
	}
	return pubkey[:8] + "..."
}
