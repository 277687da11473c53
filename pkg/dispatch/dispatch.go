// Package dispatch sends direct messages: validate, encrypt, sign, publish
// and, once the relay accepted it, record the message in the log.
package dispatch

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/metrics"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

type Crypto interface {
	PublicKey(c context.Context) (string, error)
	Encrypt(c context.Context, s gateway.Scheme, recipient, plaintext string) (string, error)
	Sign(c context.Context, ev *nostr.Event) error
}

type Publisher interface {
	Publish(c context.Context, ev *nostr.Event) error
}

type Appender interface {
	Append(c context.Context, m msglog.StoredMessage) (bool, error)
}

type Sender struct {
	Crypto    Crypto
	Publisher Publisher
	Log       Appender
	// Scheme is used for outgoing messages. Empty means nip04.
	Scheme gateway.Scheme
}

func New(crypto Crypto, pub Publisher, l Appender, s gateway.Scheme) *Sender {
	if s == "" {
		s = gateway.NIP04
	}
	return &Sender{Crypto: crypto, Publisher: pub, Log: l, Scheme: s}
}

func fail(err error) error {
	metrics.MessagesSentTotal.WithLabelValues("error").Inc()
	return err
}

// Send encrypts plaintext to recipient (hex or npub) and publishes it. Input
// and identity are checked before anything goes to the network. A message is
// only recorded once the relay accepted it.
func (s *Sender) Send(c context.Context, recipient, plaintext string) (ev *nostr.Event, err error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || plaintext == "" {
		return nil, fail(errs.New(errs.ErrValidation, "send", "recipient and message are required"))
	}
	var to string
	if to, err = keys.DecodePublic(recipient); err != nil {
		return nil, fail(errs.New(errs.ErrValidation, "send", "invalid recipient %q", recipient))
	}
	var me string
	if me, err = s.Crypto.PublicKey(c); err != nil {
		if errors.Is(err, errs.ErrNoIdentity) {
			return nil, fail(errs.Wrap(errs.ErrSend, "send", err))
		}
		return nil, fail(err)
	}
	var ct string
	if ct, err = s.Crypto.Encrypt(c, s.Scheme, to, plaintext); chk.E(err) {
		return nil, fail(errs.Wrap(errs.ErrSend, "send", err))
	}
	ev = &nostr.Event{
		Kind:      nostr.KindEncryptedDirectMessage,
		CreatedAt: nostr.Now(),
		Tags:      gateway.MarkScheme(nostr.Tags{{"p", to}}, s.Scheme),
		Content:   ct,
	}
	if err = s.Crypto.Sign(c, ev); chk.E(err) {
		return nil, fail(errs.Wrap(errs.ErrSend, "send", err))
	}
	if err = s.Publisher.Publish(c, ev); err != nil {
		log.W.F("message to %s not sent: %v", to, err)
		if !errors.Is(err, errs.ErrSend) {
			err = errs.Wrap(errs.ErrSend, "send", err)
		}
		return nil, fail(err)
	}
	metrics.MessagesSentTotal.WithLabelValues("ok").Inc()
	log.I.F("sent %s to %s", ev.ID, to)
	m := msglog.StoredMessage{
		ID:           ev.ID,
		SenderPubkey: me,
		Content:      plaintext,
		Timestamp:    int64(ev.CreatedAt) * 1000,
		Peer:         to,
		Outgoing:     true,
	}
	// already on the relay; a failed local write is reported but the event
	// is still returned
	if _, err = s.Log.Append(c, m); chk.E(err) {
		return ev, err
	}
	return
}
