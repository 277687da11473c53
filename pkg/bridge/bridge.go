// Package bridge exposes a fixed set of key capabilities to callers that may
// not see the key: get the public key, sign an event, list relays, encrypt
// and decrypt. Requests are messages; each gets exactly one response and
// none waits for another.
package bridge

import (
	"context"
	"os"
	"time"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/Hubmakerlabs/nsecbox/pkg/metrics"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/nbd-wtf/go-nostr"
)

var log, chk = slog.New(os.Stderr)

// Capabilities is what the bridge may ask of the key holder.
type Capabilities interface {
	HasIdentity(c context.Context) (bool, error)
	PublicKey(c context.Context) (string, error)
	Sign(c context.Context, ev *nostr.Event) error
	Encrypt(c context.Context, s gateway.Scheme, recipient, plaintext string) (string, error)
	Decrypt(c context.Context, s gateway.Scheme, counterparty, ciphertext string) (string, error)
}

type B struct {
	Caps Capabilities
	// Relays is the getRelays answer. Nil means DefaultRelays.
	Relays Relays
}

func New(caps Capabilities, relays Relays) *B {
	return &B{Caps: caps, Relays: relays}
}

// Handle runs one request. Every request fails with a no identity error
// when no key is stored.
func (b *B) Handle(c context.Context, req Request) (result any, err error) {
	start := time.Now()
	defer func() {
		metrics.BridgeRequestsTotal.WithLabelValues(req.Type(), metrics.Result(err)).Inc()
		metrics.BridgeRequestDurationSeconds.WithLabelValues(req.Type()).Observe(time.Since(start).Seconds())
	}()
	var ok bool
	if ok, err = b.Caps.HasIdentity(c); err != nil {
		return
	}
	if !ok {
		return nil, errs.Wrap(errs.ErrNoIdentity, req.Type(), errs.ErrNoIdentity)
	}
	switch r := req.(type) {
	case GetPublicKey:
		return b.Caps.PublicKey(c)
	case SignEvent:
		if r.Event == nil {
			return nil, errs.New(errs.ErrValidation, r.Type(), "missing event")
		}
		ev := *r.Event
		if ev.Tags == nil {
			ev.Tags = nostr.Tags{}
		}
		if ev.CreatedAt == 0 {
			ev.CreatedAt = nostr.Now()
		}
		if err = b.Caps.Sign(c, &ev); err != nil {
			return
		}
		return &ev, nil
	case GetRelays:
		if b.Relays == nil {
			return DefaultRelays, nil
		}
		return b.Relays, nil
	case Encrypt:
		return b.Caps.Encrypt(c, r.Scheme, r.PubKey, r.Plaintext)
	case Decrypt:
		return b.Caps.Decrypt(c, r.Scheme, r.PubKey, r.Ciphertext)
	default:
		return nil, errs.New(errs.ErrValidation, "handle", "unsupported request %T", req)
	}
}

// HandleMessage decodes and runs one wire request.
func (b *B) HandleMessage(c context.Context, msg []byte) Response {
	id, req, err := Decode(msg)
	if err != nil {
		log.D.F("rejecting request %q: %v", id, err)
		return Reply(id, nil, err)
	}
	result, err := b.Handle(c, req)
	if err != nil {
		log.D.F("%s %s failed: %v", req.Type(), id, err)
	}
	return Reply(id, result, err)
}

// Call is a request delivered by message passing. Reply receives exactly one
// response and should be buffered.
type Call struct {
	ID      string
	Request Request
	Reply   chan<- Response
}

// Serve answers calls until c is done or calls is closed. Each call runs on
// its own goroutine so responses come back in completion order.
func (b *B) Serve(c context.Context, calls <-chan Call) {
	for {
		select {
		case <-c.Done():
			return
		case call, ok := <-calls:
			if !ok {
				return
			}
			go func(call Call) {
				result, err := b.Handle(c, call.Request)
				call.Reply <- Reply(call.ID, result, err)
			}(call)
		}
	}
}
