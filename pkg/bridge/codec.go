package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/gateway"
	"github.com/nbd-wtf/go-nostr"
)

// Message is the wire form of a request.
type Message struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Event      *nostr.Event `json:"event,omitempty"`
	PubKey     string       `json:"pubkey,omitempty"`
	Plaintext  string       `json:"plaintext,omitempty"`
	Ciphertext string       `json:"ciphertext,omitempty"`
}

// Response answers exactly one Message. Either Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Encode builds the wire form of req.
func Encode(id string, req Request) Message {
	m := Message{ID: id, Type: req.Type()}
	switch r := req.(type) {
	case SignEvent:
		m.Event = r.Event
	case Encrypt:
		m.PubKey, m.Plaintext = r.PubKey, r.Plaintext
	case Decrypt:
		m.PubKey, m.Ciphertext = r.PubKey, r.Ciphertext
	}
	return m
}

// Decode reads a request. The id is returned whenever it could be parsed so
// that a failure can still be answered.
func Decode(b []byte) (id string, req Request, err error) {
	var m Message
	if err = json.Unmarshal(b, &m); err != nil {
		return "", nil, errs.New(errs.ErrValidation, "decode", "malformed request: %v", err)
	}
	id = m.ID
	switch m.Type {
	case "getPublicKey":
		req = GetPublicKey{}
	case "getRelays":
		req = GetRelays{}
	case "signEvent":
		if m.Event == nil {
			return id, nil, errs.New(errs.ErrValidation, m.Type, "missing event")
		}
		req = SignEvent{Event: m.Event}
	default:
		for _, s := range []gateway.Scheme{gateway.NIP04, gateway.NIP44} {
			switch m.Type {
			case s.WireName(true):
				return id, Encrypt{Scheme: s, PubKey: m.PubKey, Plaintext: m.Plaintext}, nil
			case s.WireName(false):
				return id, Decrypt{Scheme: s, PubKey: m.PubKey, Ciphertext: m.Ciphertext}, nil
			}
		}
		return id, nil, errs.New(errs.ErrValidation, "decode", "unknown request type %q", m.Type)
	}
	return
}

// Reply builds the response for id from a handler outcome.
func Reply(id string, result any, err error) (r Response) {
	r.ID = id
	if err != nil {
		r.Error = err.Error()
		return
	}
	var b []byte
	if b, err = json.Marshal(result); err != nil {
		r.Error = fmt.Sprintf("encoding result: %v", err)
		return
	}
	r.Result = b
	return
}

// Err returns the rejection carried by r, if any.
func (r Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return fmt.Errorf("%s", r.Error)
}

// Text decodes a string result.
func (r Response) Text() (s string, err error) {
	if err = r.Err(); err != nil {
		return
	}
	err = json.Unmarshal(r.Result, &s)
	return
}
