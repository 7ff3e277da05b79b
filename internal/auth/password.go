// Package auth implements the credential and token services of §4.2: a
// bcrypt password hasher and a self-contained signed token service.
package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/berrym/lair-chat/internal/lcerr"
)

// BcryptCost is the work factor for password hashing. bcrypt salts each
// password and its cost is tunable; it is CPU-hard only, not memory-hard.
const BcryptCost = 12

const (
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

var (
	hasLetter = regexp.MustCompile(`[a-zA-Z]`)
	hasDigit  = regexp.MustCompile(`[0-9]`)
)

// ValidatePasswordPolicy enforces §4.2: 8-128 chars, at least one letter
// and one digit.
func ValidatePasswordPolicy(password string) error {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return lcerr.ValidationFailedErr("password must be between 8 and 128 characters")
	}
	if !hasLetter.MatchString(password) || !hasDigit.MatchString(password) {
		return lcerr.ValidationFailedErr("password must contain at least one letter and one digit")
	}
	return nil
}

// PasswordHasher hashes and verifies passwords (§4.2).
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: BcryptCost}
}

// Hash produces an opaque hashed string suitable for User.PasswordHash.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", lcerr.Internal(err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches hashed. bcrypt's comparison is
// constant-time with respect to the candidate password, satisfying §8's
// requirement that failed logins be indistinguishable in timing from an
// unknown user when paired with a dummy-hash comparison (see
// TokenService-independent Verify call in the engine's login path).
func (h *PasswordHasher) Verify(plaintext, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)) == nil
}

// dummyHash is compared against when a username/email lookup misses, so the
// login operation always performs one bcrypt comparison and the timing
// profile of "unknown user" matches "wrong password" (§8 round-trip law).
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("constant-time-padding-0000"), BcryptCost)

func (h *PasswordHasher) VerifyDummy() {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte("irrelevant"))
}
