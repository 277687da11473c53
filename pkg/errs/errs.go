// Package errs holds the error kinds shared by the key store, crypto gateway,
// relay session and capability bridge.
//
// Every failure handed to a caller is an *Error whose Kind is one of the
// sentinels below, so callers match with errors.Is(err, errs.ErrSend) and
// friends. The cause is kept too, which lets a send failure caused by a
// missing identity also match ErrNoIdentity.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage is returned when the persisted store is unavailable or
	// refuses a write.
	ErrStorage = errors.New("storage unavailable")

	// ErrCrypto is returned for malformed ciphertext, an unsupported scheme
	// or a bad counterparty key.
	ErrCrypto = errors.New("crypto failure")

	// ErrSigning is returned when an event cannot be signed.
	ErrSigning = errors.New("signing failed")

	// ErrConnection is returned when the relay cannot be reached within the
	// retry budget, or the connection was lost.
	ErrConnection = errors.New("relay connection failed")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("invalid input")

	// ErrSend is returned when a relay does not accept a published event.
	ErrSend = errors.New("send failed")

	// ErrNoIdentity is returned when a capability needs the private key and
	// none is stored.
	ErrNoIdentity = errors.New("No private key found. Please log in.")
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is implements errors.Is for kind matching.
func (e *Error) Is(target error) bool { return target == e.Kind }

// New makes an error of kind with a formatted reason.
func New(kind error, op, format string, a ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, a...)}
}

// Wrap makes an error of kind caused by err. A nil err gives nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Reason returns the human readable reason of err for status lines and
// bridge rejections.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
