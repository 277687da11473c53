// Package store is the credential store: a namespaced key/value layer holding
// the identity and the message log. Nothing else touches the backend.
package store

import (
	"context"
	"encoding/json"
	"os"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// Storage keys.
const (
	KeyPubkey   = "pubkey"
	KeyNsec     = "nsec"
	KeyMessages = "messages"
)

// Namespace prefixes every key inside a backend.
const Namespace = "nsecbox/"

type (
	// Values maps a key to its stored bytes. Missing keys are absent.
	Values map[string][]byte
	// Entries is a set of writes applied together.
	Entries map[string][]byte
)

// I is the get/set contract. Set and Delete are atomic across all the keys
// given in one call and durable once they return nil. Every error is a
// storage error.
type I interface {
	Get(c context.Context, keys ...string) (Values, error)
	Set(c context.Context, entries Entries) error
	Delete(c context.Context, keys ...string) error
	Close() error
}

// Identity is the active key pair. Nsec is hex.
type Identity struct {
	Pubkey string
	Nsec   string
}

// LoadIdentity returns the stored identity, or ok false when either field is
// missing.
func LoadIdentity(c context.Context, s I) (id Identity, ok bool, err error) {
	var v Values
	if v, err = s.Get(c, KeyPubkey, KeyNsec); chk.E(err) {
		return
	}
	if err = unmarshal(v, KeyPubkey, &id.Pubkey); err != nil {
		return
	}
	if err = unmarshal(v, KeyNsec, &id.Nsec); err != nil {
		return
	}
	ok = id.Pubkey != "" && id.Nsec != ""
	return
}

// SaveIdentity replaces both key fields in a single write.
func SaveIdentity(c context.Context, s I, id Identity) (err error) {
	pk, _ := json.Marshal(id.Pubkey)
	sk, _ := json.Marshal(id.Nsec)
	return s.Set(c, Entries{KeyPubkey: pk, KeyNsec: sk})
}

// ClearIdentity removes both key fields in a single write.
func ClearIdentity(c context.Context, s I) error {
	return s.Delete(c, KeyPubkey, KeyNsec)
}

// LoadMessages decodes the message log into dst, which must be a pointer to a
// slice. A missing log leaves dst untouched.
func LoadMessages(c context.Context, s I, dst any) (err error) {
	var v Values
	if v, err = s.Get(c, KeyMessages); chk.E(err) {
		return
	}
	return unmarshal(v, KeyMessages, dst)
}

// SaveMessages replaces the message log.
func SaveMessages(c context.Context, s I, msgs any) (err error) {
	var b []byte
	if b, err = json.Marshal(msgs); chk.E(err) {
		return errs.Wrap(errs.ErrStorage, "encode messages", err)
	}
	return s.Set(c, Entries{KeyMessages: b})
}

func unmarshal(v Values, key string, dst any) (err error) {
	b, ok := v[key]
	if !ok {
		return
	}
	if err = json.Unmarshal(b, dst); chk.E(err) {
		return errs.Wrap(errs.ErrStorage, "decode "+key, err)
	}
	return
}
