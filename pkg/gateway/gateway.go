// Package gateway signs, verifies, encrypts and decrypts on behalf of the
// stored identity. The private key is read from the credential store on each
// call and never returned.
package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/keys"
	"github.com/Hubmakerlabs/nsecbox/pkg/nip44"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/Hubmakerlabs/nsecbox/pkg/store"
	"github.com/minio/sha256-simd"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

var log, chk = slog.New(os.Stderr)

// Scheme names a direct message encryption scheme.
type Scheme string

const (
	NIP04 Scheme = "nip04"
	NIP44 Scheme = "nip44"
)

// MarkerTag is the tag name that flags scheme B content.
const MarkerTag = "nip44"

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case NIP04, NIP44:
		return Scheme(s), nil
	}
	return "", errs.New(errs.ErrCrypto, "scheme", "unsupported scheme %q", s)
}

// SchemeOf reports the scheme an event's content is encrypted with. Content is
// never inspected: a marker tag means nip44, no marker means nip04.
func SchemeOf(ev *nostr.Event) Scheme {
	for _, t := range ev.Tags {
		if len(t) > 0 && t[0] == MarkerTag {
			return NIP44
		}
	}
	return NIP04
}

// MarkScheme appends the marker tag for schemes that need one.
func MarkScheme(tags nostr.Tags, s Scheme) nostr.Tags {
	if s == NIP44 {
		return append(tags, nostr.Tag{MarkerTag})
	}
	return tags
}

type G struct {
	Store store.I
}

func New(s store.I) *G { return &G{Store: s} }

func (g *G) identity(c context.Context, op string) (id store.Identity, err error) {
	var ok bool
	if id, ok, err = store.LoadIdentity(c, g.Store); err != nil {
		return
	}
	if !ok {
		err = errs.Wrap(errs.ErrNoIdentity, op, errs.ErrNoIdentity)
	}
	return
}

// PublicKey returns the stored public key.
func (g *G) PublicKey(c context.Context) (pk string, err error) {
	var id store.Identity
	if id, err = g.identity(c, "public key"); err != nil {
		return
	}
	return id.Pubkey, nil
}

// HasIdentity reports whether a key pair is stored.
func (g *G) HasIdentity(c context.Context) (bool, error) {
	_, ok, err := store.LoadIdentity(c, g.Store)
	return ok, err
}

// Sign fills in PubKey, ID and Sig of ev.
func (g *G) Sign(c context.Context, ev *nostr.Event) (err error) {
	var id store.Identity
	if id, err = g.identity(c, "sign"); err != nil {
		return errs.Wrap(errs.ErrSigning, "sign", err)
	}
	if err = ev.Sign(id.Nsec); chk.E(err) {
		return errs.Wrap(errs.ErrSigning, "sign", err)
	}
	log.T.F("signed event %s kind %d", ev.ID, ev.Kind)
	return
}

// Encrypt seals plaintext for recipient.
func (g *G) Encrypt(c context.Context, s Scheme, recipient, plaintext string) (ct string, err error) {
	var id store.Identity
	if id, err = g.identity(c, "encrypt"); err != nil {
		return "", errs.Wrap(errs.ErrCrypto, "encrypt", err)
	}
	if !keys.IsValid32ByteHex(recipient) {
		return "", errs.New(errs.ErrCrypto, "encrypt", "invalid recipient key %q", recipient)
	}
	switch s {
	case NIP04:
		var shared []byte
		if shared, err = nip04.ComputeSharedSecret(recipient, id.Nsec); chk.D(err) {
			return "", errs.Wrap(errs.ErrCrypto, "encrypt", err)
		}
		if ct, err = nip04.Encrypt(plaintext, shared); chk.D(err) {
			return "", errs.Wrap(errs.ErrCrypto, "encrypt", err)
		}
	case NIP44:
		var key []byte
		if key, err = nip44.ConversationKey(id.Nsec, recipient); chk.D(err) {
			return "", errs.Wrap(errs.ErrCrypto, "encrypt", err)
		}
		if ct, err = nip44.Encrypt(key, plaintext, nil); chk.D(err) {
			return "", errs.Wrap(errs.ErrCrypto, "encrypt", err)
		}
	default:
		return "", errs.New(errs.ErrCrypto, "encrypt", "unsupported scheme %q", s)
	}
	return
}

// Decrypt opens ciphertext sent by (or to) counterparty.
func (g *G) Decrypt(c context.Context, s Scheme, counterparty, ciphertext string) (pt string, err error) {
	var id store.Identity
	if id, err = g.identity(c, "decrypt"); err != nil {
		return "", errs.Wrap(errs.ErrCrypto, "decrypt", err)
	}
	if !keys.IsValid32ByteHex(counterparty) {
		return "", errs.New(errs.ErrCrypto, "decrypt", "invalid counterparty key %q", counterparty)
	}
	switch s {
	case NIP04:
		var shared []byte
		if shared, err = nip04.ComputeSharedSecret(counterparty, id.Nsec); chk.D(err) {
			return "", errs.Wrap(errs.ErrCrypto, "decrypt", err)
		}
		if pt, err = nip04.Decrypt(ciphertext, shared); err != nil {
			return "", errs.Wrap(errs.ErrCrypto, "decrypt", err)
		}
	case NIP44:
		var key []byte
		if key, err = nip44.ConversationKey(id.Nsec, counterparty); chk.D(err) {
			return "", errs.Wrap(errs.ErrCrypto, "decrypt", err)
		}
		if pt, err = nip44.Decrypt(key, ciphertext); err != nil {
			return "", errs.Wrap(errs.ErrCrypto, "decrypt", err)
		}
	default:
		return "", errs.New(errs.ErrCrypto, "decrypt", "unsupported scheme %q", s)
	}
	return
}

// Verify checks that ev's id is the hash of its canonical serialization and
// that the signature verifies for its pubkey.
func Verify(ev *nostr.Event) error {
	sum := sha256.Sum256(ev.Serialize())
	if id := hex.EncodeToString(sum[:]); id != ev.ID {
		return errs.New(errs.ErrValidation, "verify", "id mismatch: have %s want %s", ev.ID, id)
	}
	ok, err := ev.CheckSignature()
	if err != nil {
		return errs.Wrap(errs.ErrValidation, "verify", err)
	}
	if !ok {
		return errs.New(errs.ErrValidation, "verify", "bad signature on %s", ev.ID)
	}
	return nil
}

func (s Scheme) String() string { return string(s) }

// WireName returns the capability request type for encrypting (or decrypting)
// with s, e.g. nip44Encrypt.
func (s Scheme) WireName(encrypt bool) string {
	if encrypt {
		return fmt.Sprintf("%sEncrypt", s)
	}
	return fmt.Sprintf("%sDecrypt", s)
}
