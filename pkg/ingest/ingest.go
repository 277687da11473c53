// Package ingest turns inbound kind 4 events into stored messages: verify,
// decrypt, deduplicate, persist, notify.
package ingest

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/metrics"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/notify"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

// BackfillLimit is how many stored direct messages are fetched at login.
const BackfillLimit = 100

type Decrypter interface {
	PublicKey(c context.Context) (string, error)
	Decrypt(c context.Context, s gateway.Scheme, counterparty, ciphertext string) (string, error)
}

type Appender interface {
	Append(c context.Context, m msglog.StoredMessage) (bool, error)
}

type Querier interface {
	Query(c context.Context, f nostr.Filter) ([]*nostr.Event, error)
}

type Pipeline struct {
	Crypto   Decrypter
	Log      Appender
	Notifier notify.Notifier
}

func New(crypto Decrypter, l Appender, n notify.Notifier) *Pipeline {
	if n == nil {
		n = notify.Nop
	}
	return &Pipeline{Crypto: crypto, Log: l, Notifier: n}
}

func count(result string) { metrics.MessagesIngestedTotal.WithLabelValues(result).Inc() }

// Ingest stores ev if it is a valid direct message to or from the current
// identity that decrypts. Invalid and undecryptable events are dropped
// without error; only a storage failure, or a missing identity, is returned.
func (p *Pipeline) Ingest(c context.Context, ev *nostr.Event) (added bool, err error) {
	if ev.Kind != nostr.KindEncryptedDirectMessage {
		count("skipped")
		return
	}
	if err = gateway.Verify(ev); err != nil {
		log.D.F("dropping %s: %v", ev.ID, err)
		count("invalid")
		return false, nil
	}
	var me string
	if me, err = p.Crypto.PublicKey(c); err != nil {
		return
	}
	counterparty := ev.PubKey
	if ev.PubKey == me {
		if counterparty = recipient(ev); counterparty == "" {
			log.D.F("dropping own message %s without a p tag", ev.ID)
			count("invalid")
			return false, nil
		}
	}
	scheme := gateway.SchemeOf(ev)
	var plaintext string
	if plaintext, err = p.Crypto.Decrypt(c, scheme, counterparty, ev.Content); err != nil {
		if errors.Is(err, errs.ErrNoIdentity) {
			return
		}
		log.W.F("could not decrypt %s from %s (%s): %s", ev.ID, ev.PubKey, scheme, errs.Reason(err))
		count("undecryptable")
		return false, nil
	}
	m := msglog.StoredMessage{
		ID:           ev.ID,
		SenderPubkey: ev.PubKey,
		Content:      plaintext,
		Timestamp:    int64(ev.CreatedAt) * 1000,
		Peer:         counterparty,
		Outgoing:     ev.PubKey == me,
	}
	if added, err = p.Log.Append(c, m); err != nil {
		count("error")
		return
	}
	if !added {
		count("duplicate")
		return
	}
	count("stored")
	p.Notifier.Notify(m)
	return
}

// Handle is an ingest call for subscription handlers, which have no one to
// return an error to.
func (p *Pipeline) Handle(c context.Context) func(ev *nostr.Event) {
	return func(ev *nostr.Event) {
		if _, err := p.Ingest(c, ev); err != nil {
			log.E.F("ingesting %s: %v", ev.ID, err)
		}
	}
}

// HistoryFilter selects the direct messages addressed to pubkey.
func HistoryFilter(pubkey string, limit int) nostr.Filter {
	return nostr.Filter{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Limit: limit,
	}
}

// Backfill fetches up to limit stored messages addressed to pubkey and
// ingests them oldest first. It returns how many were new.
func (p *Pipeline) Backfill(c context.Context, q Querier, pubkey string, limit int) (n int, err error) {
	if limit <= 0 {
		limit = BackfillLimit
	}
	var evs []*nostr.Event
	if evs, err = q.Query(c, HistoryFilter(pubkey, limit)); chk.E(err) {
		return
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].CreatedAt < evs[j].CreatedAt })
	for _, ev := range evs {
		var added bool
		if added, err = p.Ingest(c, ev); err != nil {
			return
		}
		if added {
			n++
		}
	}
	log.I.F("backfilled %d new of %d direct messages", n, len(evs))
	return
}

func recipient(ev *nostr.Event) string {
	if t := ev.Tags.GetFirst([]string{"p", ""}); t != nil && len(*t) > 1 {
		return (*t)[1]
	}
	return ""
}
