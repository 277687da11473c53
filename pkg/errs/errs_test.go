package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndCauseMatch(t *testing.T) {
	err := Wrap(ErrSend, "send", Wrap(ErrNoIdentity, "gateway", ErrNoIdentity))
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestErrorText(t *testing.T) {
	err := New(ErrSend, "publish", "blocked: spam")
	assert.Equal(t, "publish: send failed: blocked: spam", err.Error())
	assert.Equal(t, "blocked: spam", Reason(err))
	assert.Equal(t, "plain", Reason(errors.New("plain")))
	assert.Nil(t, Wrap(ErrCrypto, "x", nil))
}
