package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePasswordPolicy(t *testing.T) {
	cases := []struct {
		name    string
		pw      string
		wantErr bool
	}{
		{"valid", "abcd1234", false},
		{"too short", "ab1", true},
		{"no digit", "abcdefgh", true},
		{"no letter", "12345678", true},
		{"too long", string(make([]byte, 129)), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidatePasswordPolicy(c.pw)
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasswordHasherVerify(t *testing.T) {
	h := NewPasswordHasher()
	hash, err := h.Hash("correcthorse1")
	require.NoError(t, err)

	assert.True(t, h.Verify("correcthorse1", hash))
	assert.False(t, h.Verify("wrongpassword1", hash))
}

func TestPasswordHasherVerifyDummyDoesNotPanic(t *testing.T) {
	h := NewPasswordHasher()
	assert.NotPanics(t, func() { h.VerifyDummy() })
}
