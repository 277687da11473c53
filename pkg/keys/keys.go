// Package keys derives and decodes nostr key material.
package keys

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"lukechampine.com/frand"
)

var log, chk = slog.New(os.Stderr)

// GeneratePrivateKey returns a fresh random private key as hex.
func GeneratePrivateKey() string {
	for {
		b := frand.Bytes(32)
		// PrivKeyFromBytes reduces modulo N, so reject anything that would wrap
		// or be zero rather than bias the key.
		var s btcec.ModNScalar
		if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
			continue
		}
		return hex.EncodeToString(b)
	}
}

// GetPublicKey derives the x-only public key of the hex private key sk.
func GetPublicKey(sk string) (pk string, err error) {
	var b []byte
	if b, err = hex.DecodeString(sk); chk.D(err) {
		return
	}
	if len(b) != 32 {
		err = fmt.Errorf("private key must be 32 bytes, got %d", len(b))
		return
	}
	_, pub := btcec.PrivKeyFromBytes(b)
	pk = hex.EncodeToString(schnorr.SerializePubKey(pub))
	return
}

// IsValid32ByteHex reports whether s is 64 lower case hex characters.
func IsValid32ByteHex(s string) bool {
	if strings.ToLower(s) != s {
		return false
	}
	dec, err := hex.DecodeString(s)
	return err == nil && len(dec) == 32
}

// DecodeSecret accepts a bech32 nsec or a hex private key and returns the
// hex form together with the derived public key.
func DecodeSecret(s string) (sk, pk string, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "nsec1") {
		var prefix string
		var value any
		if prefix, value, err = nip19.Decode(s); chk.D(err) {
			err = fmt.Errorf("invalid nsec: %w", err)
			return
		}
		var ok bool
		if sk, ok = value.(string); !ok || prefix != "nsec" {
			err = fmt.Errorf("invalid nsec: decoded to %s", prefix)
			return
		}
	} else {
		sk = strings.ToLower(s)
	}
	if !IsValid32ByteHex(sk) {
		err = fmt.Errorf("private key must be an nsec or 64 hex characters")
		return
	}
	if pk, err = GetPublicKey(sk); chk.D(err) {
		return
	}
	log.T.Ln("decoded secret for", pk)
	return
}

// DecodePublic accepts an npub or hex public key and returns the hex form.
func DecodePublic(s string) (pk string, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub1") {
		var value any
		if _, value, err = nip19.Decode(s); chk.D(err) {
			err = fmt.Errorf("invalid npub: %w", err)
			return
		}
		pk, _ = value.(string)
	} else {
		pk = strings.ToLower(s)
	}
	if !IsValid32ByteHex(pk) {
		err = fmt.Errorf("public key must be an npub or 64 hex characters")
		pk = ""
	}
	return
}

// Npub renders a hex public key in bech32.
func Npub(pk string) (string, error) { return nip19.EncodePublicKey(pk) }

// Nsec renders a hex private key in bech32.
func Nsec(sk string) (string, error) { return nip19.EncodePrivateKey(sk) }
