package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/types"
)

// clockSkew is the tolerance applied to token expiry/issued-at checks
// (§4.2: "clock skew tolerance ≤5 s").
const clockSkew = 5 * time.Second

// DefaultTokenTTL is used when a caller issues a token without an explicit
// lifetime.
const DefaultTokenTTL = 24 * time.Hour

// claims is the self-contained signed artifact's payload: it carries enough
// to reconstruct (UserID, SessionID) without a storage round-trip, per
// §4.2's "self-contained signed artifacts".
type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenService issues and validates signed session tokens (§4.2).
type TokenService struct {
	secret []byte
}

func NewTokenService(secret []byte) *TokenService {
	return &TokenService{secret: secret}
}

// Issue mints a signed token binding userID and sessionID, expiring after
// ttl (or DefaultTokenTTL if ttl is zero).
func (t *TokenService) Issue(userID types.UserID, sessionID types.SessionID, ttl time.Duration) (string, time.Time, error) {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		SessionID: sessionID.String(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, lcerr.Internal(err)
	}
	return signed, expires, nil
}

// Validate verifies a token's signature and expiry and extracts the bound
// identifiers. The caller (engine.ValidateToken) is responsible for
// cross-checking the session repository so a token surviving past logout
// is rejected (§4.2: "Token reuse after logout is rejected by
// cross-checking the session repository").
func (t *TokenService) Validate(tokenString string) (types.UserID, types.SessionID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithLeeway(clockSkew))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.ZeroUserID, types.ZeroSessionID, lcerr.New(lcerr.Unauthorized, "token expired")
		}
		return types.ZeroUserID, types.ZeroSessionID, lcerr.New(lcerr.Unauthorized, "invalid token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return types.ZeroUserID, types.ZeroSessionID, lcerr.New(lcerr.Unauthorized, "invalid token")
	}
	userID, err := types.ParseUserID(c.Subject)
	if err != nil {
		return types.ZeroUserID, types.ZeroSessionID, lcerr.New(lcerr.Unauthorized, "invalid token subject")
	}
	sessionID, err := types.ParseSessionID(c.SessionID)
	if err != nil {
		return types.ZeroUserID, types.ZeroSessionID, lcerr.New(lcerr.Unauthorized, "invalid token session")
	}
	return userID, sessionID, nil
}
