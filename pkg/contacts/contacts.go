// Package contacts builds the contact list of an identity from its newest
// kind 3 follow list and the kind 0 profiles of the people it follows.
package contacts

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/Hubmakerlabs/nsecbox/pkg/notify"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

type Contact struct {
	Pubkey    string `json:"pubkey"`
	Name      string `json:"name"`
	RelayHint string `json:"relayHint,omitempty"`
	Petname   string `json:"petname,omitempty"`
}

type Querier interface {
	Query(c context.Context, f nostr.Filter) ([]*nostr.Event, error)
}

type profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Fetch returns the contacts pubkey follows, in follow list order. No follow
// list gives an empty result.
func Fetch(c context.Context, q Querier, pubkey string) (list []Contact, err error) {
	var evs []*nostr.Event
	if evs, err = q.Query(c, nostr.Filter{
		Kinds:   []int{nostr.KindContactList},
		Authors: []string{pubkey},
		Limit:   1,
	}); chk.E(err) {
		return
	}
	follows := newest(evs)
	if follows == nil {
		log.D.Ln("no contact list for", pubkey)
		return
	}
	seen := make(map[string]bool)
	var authors []string
	for _, t := range follows.Tags {
		if len(t) < 2 || t[0] != "p" || t[1] == "" || seen[t[1]] {
			continue
		}
		seen[t[1]] = true
		ct := Contact{Pubkey: t[1]}
		if len(t) > 2 {
			ct.RelayHint = t[2]
		}
		if len(t) > 3 {
			ct.Petname = t[3]
		}
		list = append(list, ct)
		authors = append(authors, t[1])
	}
	if len(authors) == 0 {
		return
	}
	if evs, err = q.Query(c, nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: authors,
	}); chk.E(err) {
		return
	}
	profiles := make(map[string]*nostr.Event)
	for _, ev := range evs {
		if p, ok := profiles[ev.PubKey]; !ok || ev.CreatedAt > p.CreatedAt {
			profiles[ev.PubKey] = ev
		}
	}
	for i := range list {
		var meta profile
		if ev, ok := profiles[list[i].Pubkey]; ok {
			if err := json.Unmarshal([]byte(ev.Content), &meta); err != nil {
				log.D.F("bad metadata for %s: %v", ev.PubKey, err)
			}
		}
		list[i].Name = DisplayName(list[i].Petname, meta.Name, meta.DisplayName, list[i].Pubkey)
	}
	log.I.F("loaded %d contacts, %d with profiles", len(list), len(profiles))
	return
}

// DisplayName picks the first of petname, name and display name that is set,
// falling back to the shortened pubkey.
func DisplayName(petname, name, displayName, pubkey string) string {
	for _, n := range []string{petname, name, displayName} {
		if n != "" {
			return n
		}
	}
	return notify.Short(pubkey)
}

func newest(evs []*nostr.Event) (ev *nostr.Event) {
	for _, e := range evs {
		if ev == nil || e.CreatedAt > ev.CreatedAt {
			ev = e
		}
	}
	return
}

// Book is the current contact list, replaced on each login.
type Book struct {
	mx   sync.RWMutex
	list []Contact
}

func (b *Book) Set(list []Contact) {
	b.mx.Lock()
	b.list = list
	b.mx.Unlock()
}

func (b *Book) List() []Contact {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return append([]Contact(nil), b.list...)
}

// Name returns the contact name for pubkey, or "" when it is not a contact.
func (b *Book) Name(pubkey string) string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	for _, ct := range b.list {
		if ct.Pubkey == pubkey {
			return ct.Name
		}
	}
	return ""
}
