// Package app is the composition root: it owns the credential store, the
// relay session and the message log, and wires the gateway, ingest, dispatch
// and bridge components around them.
package app

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/Hubmakerlabs/nsecbox/pkg/bridge"
	"github.com/Hubmakerlabs/nsecbox/pkg/contacts"
	"github.com/Hubmakerlabs/nsecbox/pkg/dispatch"
	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/ingest"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/msglog"
	"github.com/Hubmakerlabs/nsecbox/pkg/notify"
	"github.com/Hubmakerlabs/nsecbox/pkg/session"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

type App struct {
	Config   *Config
	Store    store.I
	Crypto   *gateway.G
	Relay    *session.S
	Log      *msglog.Log
	Ingest   *ingest.Pipeline
	Sender   *dispatch.Sender
	Bridge   *bridge.B
	Contacts *contacts.Book

	mx  sync.Mutex
	sub *session.Sub
	// me is the identity the subscription was opened for.
	me string
}

// New wires the components around st. Notifications go to out; nil
// disables them.
func New(cfg *Config, st store.I, out io.Writer) (a *App, err error) {
	scheme := gateway.NIP04
	if cfg.Scheme != "" {
		scheme, err = gateway.ParseScheme(cfg.Scheme)
	}
	if err != nil {
		return nil, errs.New(errs.ErrValidation, "config", "unknown scheme %q", cfg.Scheme)
	}
	a = &App{
		Config:   cfg,
		Store:    st,
		Crypto:   gateway.New(st),
		Log:      msglog.New(st),
		Contacts: &contacts.Book{},
	}
	a.Relay = session.New(session.Config{
		URL:      cfg.Relay,
		Attempts: cfg.Attempts,
		Backoff:  cfg.Backoff.Duration,
	})
	var n notify.Notifier = notify.Nop
	if out != nil {
		n = &notify.Bell{W: out, Name: a.Contacts.Name, Quiet: cfg.Quiet}
	}
	a.Ingest = ingest.New(a.Crypto, a.Log, n)
	a.Sender = dispatch.New(a.Crypto, a.Relay, a.Log, scheme)
	var relays bridge.Relays
	if len(cfg.Relays) > 0 {
		relays = bridge.ReadWrite(cfg.Relays...)
	}
	a.Bridge = bridge.New(a.Crypto, relays)
	return
}

// OpenStore opens the configured credential store backend.
func OpenStore(cfg *Config) (st store.I, err error) {
	switch cfg.Store {
	case "memory":
		return store.NewMemory(), nil
	case "badger", "":
		var dir string
		if dir, err = cfg.Dir(); err != nil {
			return
		}
		return store.OpenBadger(dir + "/db")
	}
	return nil, errs.New(errs.ErrValidation, "config", "unknown store %q", cfg.Store)
}

// Login makes key the active identity, replacing any other, and returns its
// public key. The relay is not touched; call Start to go online.
func (a *App) Login(c context.Context, key string) (pk string, err error) {
	var sk string
	if sk, pk, err = keys.DecodeSecret(key); err != nil {
		return "", errs.New(errs.ErrValidation, "login", "%v", err)
	}
	a.Stop()
	if err = store.SaveIdentity(c, a.Store, store.Identity{Pubkey: pk, Nsec: sk}); chk.E(err) {
		return "", err
	}
	a.Log.Reset()
	a.Contacts.Set(nil)
	log.I.Ln("logged in as", pk)
	return
}

// Logout forgets the identity and drops the live subscription.
func (a *App) Logout(c context.Context) (err error) {
	a.Stop()
	if err = store.ClearIdentity(c, a.Store); chk.E(err) {
		return
	}
	a.Log.Reset()
	a.Contacts.Set(nil)
	log.I.Ln("logged out")
	return
}

// Start connects, subscribes to direct messages for the stored identity,
// backfills history and loads contacts. A live subscription for the same
// identity is kept.
func (a *App) Start(c context.Context) (err error) {
	var me string
	if me, err = a.Crypto.PublicKey(c); err != nil {
		return
	}
	if err = a.Relay.Connect(c); err != nil {
		return
	}
	a.mx.Lock()
	live := a.sub != nil && a.me == me
	if live {
		select {
		case <-a.sub.Done():
			live = false
		default:
		}
	}
	a.mx.Unlock()
	if !live {
		var sub *session.Sub
		if sub, err = a.Relay.Subscribe(context.Background(),
			ingest.HistoryFilter(me, 0), a.Ingest.Handle(context.Background())); err != nil {
			return
		}
		a.mx.Lock()
		if a.sub != nil {
			a.sub.Close()
		}
		a.sub, a.me = sub, me
		a.mx.Unlock()
	}
	if _, err = a.Ingest.Backfill(c, a.Relay, me, ingest.BackfillLimit); err != nil {
		return
	}
	var list []contacts.Contact
	if list, err = contacts.Fetch(c, a.Relay, me); err != nil {
		log.W.Ln("could not load contacts:", err)
		err = nil
	}
	a.Contacts.Set(list)
	return
}

// AutoLogin starts when an identity is already stored. ok is false when
// there is none.
func (a *App) AutoLogin(c context.Context) (ok bool, err error) {
	if ok, err = a.Crypto.HasIdentity(c); err != nil || !ok {
		return
	}
	log.I.Ln("resuming stored identity")
	return true, a.Start(c)
}

// Subscription returns the live direct message subscription, if any.
func (a *App) Subscription() *session.Sub {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.sub
}

// Stop ends the subscription. The connection stays up.
func (a *App) Stop() {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.sub != nil {
		a.sub.Close()
		a.sub, a.me = nil, ""
	}
}

// Send encrypts and publishes text to the recipient, connecting first when
// needed.
func (a *App) Send(c context.Context, to, text string) (ev *nostr.Event, err error) {
	ok, _ := a.Crypto.HasIdentity(c)
	if ok && to != "" && text != "" && a.Relay.State() != session.Connected {
		if err = a.Relay.Connect(c); err != nil {
			return nil, errs.Wrap(errs.ErrSend, "send", err)
		}
	}
	return a.Sender.Send(c, to, text)
}

// Close releases the relay connection and the store.
func (a *App) Close() (err error) {
	a.Stop()
	chk.D(a.Relay.Close())
	return a.Store.Close()
}
