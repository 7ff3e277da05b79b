package engine

import (
	"context"
	"strings"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// Register implements §4.4 register. Validates inputs, rejects duplicate
// username/email (case-insensitive), hashes the password, creates the
// user and an initial session, and issues a token — then emits UserOnline
// after the writes commit.
func (e *Engine) Register(ctx context.Context, username, email, password string, proto types.Protocol) (*types.User, *types.Session, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if !types.ValidUsername(username) {
		return nil, nil, "", lcerr.ValidationFailedErr("username must be 3-32 characters of letters, digits, or underscore")
	}
	if email == "" {
		return nil, nil, "", lcerr.ValidationFailedErr("email is required")
	}
	if err := auth.ValidatePasswordPolicy(password); err != nil {
		return nil, nil, "", err
	}

	if existing, err := e.repos.Users.FindByUsernameCI(ctx, username); err == nil && existing != nil {
		return nil, nil, "", lcerr.ConflictErr("username already taken")
	}
	if existing, err := e.repos.Users.FindByEmailCI(ctx, email); err == nil && existing != nil {
		return nil, nil, "", lcerr.ConflictErr("email already registered")
	}

	hashed, err := e.hasher.Hash(password)
	if err != nil {
		return nil, nil, "", err
	}

	now := e.now()
	user := &types.User{
		ID:           types.NewUserID(),
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Public:       map[string]interface{}{},
		Settings:     map[string]interface{}{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := store.Retry(ctx, func() (*types.User, error) { return e.repos.Users.Create(ctx, user) })
	if err != nil {
		return nil, nil, "", lcerr.Internal(err)
	}

	session, token, err := e.createSession(ctx, created.ID, proto)
	if err != nil {
		return nil, nil, "", err
	}

	e.UserConnected(created)
	return created, session, token, nil
}

// Login implements §4.4 login. identifier may be a username or an email.
// The password comparison always runs exactly once against a real or
// dummy hash, so an unknown identifier is indistinguishable in timing
// from a wrong password (§8 round-trip law).
func (e *Engine) Login(ctx context.Context, identifier, password string, proto types.Protocol) (*types.User, *types.Session, string, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		user *types.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = e.repos.Users.FindByEmailCI(ctx, identifier)
	} else {
		user, err = e.repos.Users.FindByUsernameCI(ctx, identifier)
	}
	if err != nil || user == nil {
		e.hasher.VerifyDummy()
		return nil, nil, "", lcerr.UnauthorizedErr("invalid credentials")
	}
	if !e.hasher.Verify(password, user.PasswordHash) {
		return nil, nil, "", lcerr.UnauthorizedErr("invalid credentials")
	}

	session, token, err := e.createSession(ctx, user.ID, proto)
	if err != nil {
		return nil, nil, "", err
	}

	e.UserConnected(user)
	return user, session, token, nil
}

func (e *Engine) createSession(ctx context.Context, userID types.UserID, proto types.Protocol) (*types.Session, string, error) {
	now := e.now()
	session := &types.Session{
		ID:           types.NewSessionID(),
		UserID:       userID,
		Protocol:     proto,
		CreatedAt:    now,
		LastActivity: now,
	}
	created, err := store.Retry(ctx, func() (*types.Session, error) { return e.repos.Sessions.Create(ctx, session) })
	if err != nil {
		return nil, "", lcerr.Internal(err)
	}
	token, _, err := e.tokens.Issue(userID, created.ID, e.sessTTL)
	if err != nil {
		return nil, "", err
	}
	return created, token, nil
}

// ValidateToken implements §4.4 validate_token: verifies the signature and
// expiry, then cross-checks the session repository so a token surviving
// past logout is rejected (§4.2).
func (e *Engine) ValidateToken(ctx context.Context, token string) (*types.User, *types.Session, error) {
	userID, sessionID, err := e.tokens.Validate(token)
	if err != nil {
		return nil, nil, err
	}
	session, err := e.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		return nil, nil, lcerr.UnauthorizedErr("session no longer exists")
	}
	if session.UserID != userID {
		return nil, nil, lcerr.UnauthorizedErr("token does not match session")
	}
	if !session.Active(e.now()) {
		return nil, nil, lcerr.New(lcerr.Unauthorized, "session expired")
	}
	user, err := e.repos.Users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return nil, nil, lcerr.UnauthorizedErr("user no longer exists")
	}
	return user, session, nil
}

// Logout implements §4.4 logout: deletes the session and emits UserOffline
// if this was the user's last active session.
func (e *Engine) Logout(ctx context.Context, sessionID types.SessionID) error {
	session, err := e.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		return lcerr.NotFoundErr("session not found")
	}
	if err := store.WithRetry(ctx, func() error { return e.repos.Sessions.Delete(ctx, sessionID) }); err != nil {
		return lcerr.Internal(err)
	}
	user, err := e.repos.Users.FindByID(ctx, session.UserID)
	if err != nil || user == nil {
		user = &types.User{ID: session.UserID}
	}
	e.UserDisconnected(user)
	return nil
}

// TouchActivity advances a session's last_activity, used by the connection
// layer on every received frame to keep the idle timer and the monotonic
// last_activity invariant (§8 invariant 5) in sync.
func (e *Engine) TouchActivity(ctx context.Context, sessionID types.SessionID) error {
	if err := store.WithRetry(ctx, func() error { return e.repos.Sessions.TouchActivity(ctx, sessionID, e.now()) }); err != nil {
		return lcerr.Internal(err)
	}
	return nil
}
