// Package nip44 implements version 2 of the nostr payload encryption scheme:
// ECDH conversation keys, HKDF message keys, ChaCha20 and HMAC-SHA256 over
// length-prefixed, padded plaintext.
package nip44

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/frand"
)

var log, chk = slog.New(os.Stderr)

const Version = 2

const (
	MinPlaintextSize = 0x0001 // 1b msg => padded to 32b
	MaxPlaintextSize = 0xffff // 65535 (64kb-1) => padded to 64kb
)

var (
	ErrVersion = errors.New("unknown version")
	ErrLength  = errors.New("invalid payload length")
	ErrBase64  = errors.New("invalid base64")
	ErrMAC     = errors.New("invalid hmac")
	ErrPadding = errors.New("invalid padding")
	ErrKey     = errors.New("invalid key")
)

// Options override the random salt, for test vectors.
type Options struct {
	Salt []byte
}

// ConversationKey derives the shared key between a hex private key and a hex
// x-only public key. It is symmetric: a's key with b's public equals b's key
// with a's public.
func ConversationKey(sk, pk string) (key []byte, err error) {
	var skb, pkb []byte
	if skb, err = hex.DecodeString(sk); err != nil || len(skb) != 32 {
		return nil, fmt.Errorf("%w: private key", ErrKey)
	}
	if pkb, err = hex.DecodeString(pk); err != nil || len(pkb) != 32 {
		return nil, fmt.Errorf("%w: public key", ErrKey)
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(skb); overflow || s.IsZero() {
		return nil, fmt.Errorf("%w: private key out of range", ErrKey)
	}
	var pub *secp256k1.PublicKey
	if pub, err = secp256k1.ParsePubKey(append([]byte{0x02}, pkb...)); chk.D(err) {
		return nil, fmt.Errorf("%w: %v", ErrKey, err)
	}
	shared := secp256k1.GenerateSharedSecret(secp256k1.PrivKeyFromBytes(skb), pub)
	return hkdf.Extract(sha256.New, shared, []byte("nip44-v2")), nil
}

// Encrypt seals plaintext under conversationKey. opts may be nil.
func Encrypt(conversationKey []byte, plaintext string, opts *Options) (string, error) {
	var (
		salt       []byte
		enc, nonce []byte
		auth       []byte
		padded     []byte
		ciphertext []byte
		mac        []byte
		err        error
	)
	if opts != nil && opts.Salt != nil {
		salt = opts.Salt
	} else {
		salt = frand.Bytes(32)
	}
	if len(salt) != 32 {
		return "", errors.New("salt must be 32 bytes")
	}
	if enc, nonce, auth, err = messageKeys(conversationKey, salt); chk.E(err) {
		return "", err
	}
	if padded, err = pad(plaintext); chk.D(err) {
		return "", err
	}
	if ciphertext, err = xor(enc, nonce, padded); chk.E(err) {
		return "", err
	}
	mac = hmacAAD(auth, ciphertext, salt)
	concat := make([]byte, 0, 1+len(salt)+len(ciphertext)+len(mac))
	concat = append(concat, Version)
	concat = append(concat, salt...)
	concat = append(concat, ciphertext...)
	concat = append(concat, mac...)
	return base64.StdEncoding.EncodeToString(concat), nil
}

// Decrypt opens a payload produced by Encrypt.
func Decrypt(conversationKey []byte, payload string) (string, error) {
	var (
		dcd        []byte
		enc, nonce []byte
		auth       []byte
		padded     []byte
		err        error
	)
	cLen := len(payload)
	if cLen == 0 || payload[0] == '#' {
		return "", ErrVersion
	}
	if cLen < 132 || cLen > 87472 {
		return "", fmt.Errorf("%w: %d", ErrLength, cLen)
	}
	if dcd, err = base64.StdEncoding.DecodeString(payload); chk.D(err) {
		return "", ErrBase64
	}
	if v := int(dcd[0]); v != Version {
		return "", fmt.Errorf("%w %d", ErrVersion, v)
	}
	dLen := len(dcd)
	if dLen < 99 || dLen > 65603 {
		return "", fmt.Errorf("%w: data %d", ErrLength, dLen)
	}
	salt, ciphertext, mac := dcd[1:33], dcd[33:dLen-32], dcd[dLen-32:]
	if enc, nonce, auth, err = messageKeys(conversationKey, salt); chk.E(err) {
		return "", err
	}
	if !hmac.Equal(mac, hmacAAD(auth, ciphertext, salt)) {
		return "", ErrMAC
	}
	if padded, err = xor(enc, nonce, ciphertext); chk.E(err) {
		return "", err
	}
	return unpad(padded)
}

func xor(key, nonce, message []byte) ([]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(message))
	cipher.XORKeyStream(dst, message)
	return dst, nil
}

func hmacAAD(key, ciphertext, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(ciphertext)
	return h.Sum(nil)
}

func messageKeys(conversationKey, salt []byte) (enc, nonce, auth []byte, err error) {
	if len(conversationKey) != 32 {
		err = errors.New("conversation key must be 32 bytes")
		return
	}
	if len(salt) != 32 {
		err = errors.New("salt must be 32 bytes")
		return
	}
	r := hkdf.Expand(sha256.New, conversationKey, salt)
	enc, nonce, auth = make([]byte, 32), make([]byte, 12), make([]byte, 32)
	for _, b := range [][]byte{enc, nonce, auth} {
		if _, err = io.ReadFull(r, b); err != nil {
			return
		}
	}
	return
}

func pad(s string) ([]byte, error) {
	sb := []byte(s)
	sbLen := len(sb)
	if sbLen < MinPlaintextSize || sbLen > MaxPlaintextSize {
		return nil, errors.New("plaintext should be between 1b and 64kB")
	}
	result := make([]byte, 2+calcPadding(sbLen))
	binary.BigEndian.PutUint16(result, uint16(sbLen))
	copy(result[2:], sb)
	return result, nil
}

func unpad(padded []byte) (string, error) {
	if len(padded) < 2 {
		return "", ErrPadding
	}
	n := int(binary.BigEndian.Uint16(padded[:2]))
	if n < MinPlaintextSize || len(padded) != 2+calcPadding(n) {
		return "", ErrPadding
	}
	if !bytes.Equal(padded[2+n:], make([]byte, len(padded)-2-n)) {
		log.D.Ln("non-zero padding bytes")
		return "", ErrPadding
	}
	return string(padded[2 : 2+n]), nil
}

// calcPadding rounds up to 32 bytes, then to chunks of an eighth of the next
// power of two.
func calcPadding(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1
	for nextPower < n {
		nextPower <<= 1
	}
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}
