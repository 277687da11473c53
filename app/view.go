package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/contacts"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/notify"
	"github.com/gookit/color"
	"github.com/mdp/qrterminal/v3"
)

var (
	heading = color.Bit24(255, 255, 0, false).Sprint
	dim     = color.Bit24(125, 125, 125, false).Sprint
	mine    = color.Bit24(0, 255, 0, false).Sprint
)

// name resolves a pubkey through the contact book.
func (a *App) name(pk string) string {
	if n := a.Contacts.Name(pk); n != "" {
		return n
	}
	return notify.Short(pk)
}

// PrintInbox writes the stored conversations, newest thread first. A
// non-empty peer limits output to that conversation.
func (a *App) PrintInbox(c context.Context, w io.Writer, peer string) (err error) {
	if peer != "" {
		if peer, err = keys.DecodePublic(peer); err != nil {
			return
		}
	}
	var msgs []msglog.StoredMessage
	if msgs, err = a.Log.Snapshot(c); err != nil {
		return
	}
	threads := msglog.Threads(msgs)
	shown := 0
	for _, th := range threads {
		if peer != "" && th.Peer != peer {
			continue
		}
		shown++
		fmt.Fprintf(w, "%s %s\n", heading("== "+a.name(th.Peer)), dim(th.Peer))
		for _, m := range th.Messages {
			who := a.name(m.SenderPubkey)
			if m.Outgoing {
				who = mine("me")
			}
			ts := time.UnixMilli(m.Timestamp).Format("02.01.2006 15:04")
			for i, line := range msglog.Render(m.Content) {
				if i == 0 {
					fmt.Fprintf(w, "%s %s %s\n", dim(ts), who+":", line)
				} else {
					fmt.Fprintf(w, "    %s\n", line)
				}
			}
		}
		fmt.Fprintln(w)
	}
	if shown == 0 {
		fmt.Fprintln(w, "no messages")
	}
	return
}

// PrintContacts writes the loaded contact list.
func PrintContacts(w io.Writer, list []contacts.Contact) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no contacts")
		return
	}
	for _, ct := range list {
		npub, err := keys.Npub(ct.Pubkey)
		if chk.D(err) {
			npub = ct.Pubkey
		}
		line := fmt.Sprintf("%-24s %s", ct.Name, dim(npub))
		if ct.RelayHint != "" {
			line += " " + dim(ct.RelayHint)
		}
		fmt.Fprintln(w, line)
	}
}

// Whoami writes the npub of the stored identity and, when qr is set, a
// terminal QR code of its nostr: URI.
func (a *App) Whoami(c context.Context, w io.Writer, qr bool) (err error) {
	var pk, npub string
	if pk, err = a.Crypto.PublicKey(c); err != nil {
		return
	}
	if npub, err = keys.Npub(pk); chk.E(err) {
		return
	}
	fmt.Fprintln(w, npub)
	fmt.Fprintln(w, dim(pk))
	if qr {
		qrterminal.GenerateWithConfig("nostr:"+npub, qrterminal.Config{
			Level:     qrterminal.L,
			Writer:    w,
			WhiteChar: qrterminal.WHITE,
			BlackChar: qrterminal.BLACK,
			QuietZone: 2,
		})
	}
	return
}
