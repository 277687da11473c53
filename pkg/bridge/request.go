package bridge

import (
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/nbd-wtf/go-nostr"
)

// Request is one capability request. The set of implementations is closed.
type Request interface {
	// Type is the wire name of the request.
	Type() string
	isRequest()
}

type GetPublicKey struct{}

type SignEvent struct {
	Event *nostr.Event
}

type GetRelays struct{}

type Encrypt struct {
	Scheme    gateway.Scheme
	PubKey    string
	Plaintext string
}

type Decrypt struct {
	Scheme     gateway.Scheme
	PubKey     string
	Ciphertext string
}

func (GetPublicKey) Type() string { return "getPublicKey" }
func (SignEvent) Type() string    { return "signEvent" }
func (GetRelays) Type() string    { return "getRelays" }
func (r Encrypt) Type() string    { return r.Scheme.WireName(true) }
func (r Decrypt) Type() string    { return r.Scheme.WireName(false) }

func (GetPublicKey) isRequest() {}
func (SignEvent) isRequest()    {}
func (GetRelays) isRequest()    {}
func (Encrypt) isRequest()      {}
func (Decrypt) isRequest()      {}

// RelayPerms says what a relay is used for.
type RelayPerms struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// Relays maps relay URLs to their permissions.
type Relays map[string]RelayPerms

// DefaultRelays is handed out by getRelays when nothing is configured.
var DefaultRelays = Relays{
	"wss://relay.damus.io":     {Read: true, Write: true},
	"wss://relay.nostr.band":   {Read: true, Write: true},
	"wss://nos.lol":            {Read: true, Write: true},
	"wss://relay.snort.social": {Read: true, Write: true},
}

// ReadWrite gives every url both permissions.
func ReadWrite(urls ...string) Relays {
	r := make(Relays, len(urls))
	for _, u := range urls {
		r[u] = RelayPerms{Read: true, Write: true}
	}
	return r
}
