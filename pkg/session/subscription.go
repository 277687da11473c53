package session

import (
	"context"
	"strings"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/relay"
	"github.com/nbd-wtf/go-nostr"
)

// Handler is called once per event, one call at a time per subscription.
type Handler func(ev *nostr.Event)

// Sub is a live subscription.
type Sub struct {
	inner *relay.Subscription
	done  chan struct{}
	err   error
	// reason is set when the relay sent CLOSED.
	reason string
}

// Done is closed when the subscription ends and its handler has returned.
func (sub *Sub) Done() <-chan struct{} { return sub.done }

// Err tells why the subscription ended: a connection error when the relay
// connection dropped or the relay closed it, nil when Close was called. Only
// valid after Done.
func (sub *Sub) Err() error { return sub.err }

// Refused reports whether the relay closed the subscription because it
// will not serve it to this client, with an auth-required: or restricted:
// reason. Only valid after Done.
func (sub *Sub) Refused() bool {
	return strings.HasPrefix(sub.reason, "auth-required:") ||
		strings.HasPrefix(sub.reason, "restricted:")
}

// Close ends the subscription.
func (sub *Sub) Close() { sub.inner.Unsub() }

// Subscribe registers f at the relay and runs h for each matching event in
// arrival order. The subscription is not restored after a reconnect.
func (s *S) Subscribe(c context.Context, f nostr.Filter, h Handler) (sub *Sub, err error) {
	var r *relay.Relay
	if r, err = s.conn("subscribe"); err != nil {
		return
	}
	var inner *relay.Subscription
	if inner, err = r.Subscribe(c, nostr.Filters{f}, relay.WithLabel("nsecbox")); err != nil {
		return nil, errs.Wrap(errs.ErrConnection, "subscribe", err)
	}
	sub = &Sub{inner: inner, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for ev := range inner.Events {
			h(ev)
		}
		select {
		case reason := <-inner.ClosedReason:
			sub.reason = reason
			sub.err = errs.New(errs.ErrConnection, "subscription", "closed by relay: %s", reason)
			return
		default:
		}
		if !r.IsConnected() {
			sub.err = errs.Wrap(errs.ErrConnection, "subscription", r.Err())
			if sub.err == nil {
				sub.err = errs.New(errs.ErrConnection, "subscription", "connection closed")
			}
		}
	}()
	log.D.F("subscribed %s to %v", inner.GetID(), f)
	return
}
