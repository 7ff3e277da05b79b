package lcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseConnectionClassification(t *testing.T) {
	closing := []Kind{VersionMismatch, BadHandshake, CryptoFailure, Timeout, FrameTooLarge}
	for _, k := range closing {
		assert.True(t, k.CloseConnection(), "expected %s to close the connection", k)
	}

	open := []Kind{Unauthorized, InvalidState, ValidationFailed, NotFound, Forbidden, Conflict, RateLimited, Unsupported, InternalErrorKind}
	for _, k := range open {
		assert.False(t, k.CloseConnection(), "expected %s to keep the connection open", k)
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(InvalidState, "bad state", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "bad state")
}

func TestInternalNeverLeaksMessage(t *testing.T) {
	cause := errors.New("password=hunter2")
	err := Internal(cause)

	assert.Equal(t, InternalErrorKind, err.Kind)
	assert.Equal(t, "internal error", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestConvenienceConstructors(t *testing.T) {
	cases := []struct {
		build func(string) *Error
		kind  Kind
	}{
		{NotFoundErr, NotFound},
		{ForbiddenErr, Forbidden},
		{ConflictErr, Conflict},
		{ValidationFailedErr, ValidationFailed},
		{UnauthorizedErr, Unauthorized},
		{InvalidStateErr, InvalidState},
		{RateLimitedErr, RateLimited},
		{UnsupportedErr, Unsupported},
	}
	for _, c := range cases {
		err := c.build("msg")
		assert.Equal(t, c.kind, err.Kind)
		assert.Nil(t, err.Cause)
	}
}
