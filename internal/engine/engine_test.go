package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store/memstore"
	"github.com/berrym/lair-chat/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New(nil)
	repos := memstore.New().Repositories()
	e := New(repos, b, auth.NewPasswordHasher(), auth.NewTokenService([]byte("test-secret")), nil)
	return e, b
}

func registerUser(t *testing.T, e *Engine, username string) (*types.User, *types.Session) {
	t.Helper()
	ctx := context.Background()
	user, session, _, err := e.Register(ctx, username, username+"@example.com", "password1", types.ProtocolTCP)
	require.NoError(t, err)
	return user, session
}

func TestRegisterSucceedsForFirstEverUser(t *testing.T) {
	e, _ := newTestEngine(t)
	user, session, token, err := e.Register(context.Background(), "firstuser", "firstuser@example.com", "password1", types.ProtocolTCP)
	require.NoError(t, err)
	assert.NotNil(t, user)
	assert.NotNil(t, session)
	assert.NotEmpty(t, token)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	e, _ := newTestEngine(t)
	registerUser(t, e, "alice")

	_, _, _, err := e.Register(context.Background(), "alice", "other@example.com", "password1", types.ProtocolTCP)
	require.Error(t, err)
	assert.Equal(t, lcerr.Conflict, err.(*lcerr.Error).Kind)
}

func TestRegisterRejectsInvalidUsername(t *testing.T) {
	e, _ := newTestEngine(t)
	_, _, _, err := e.Register(context.Background(), "a", "a@example.com", "password1", types.ProtocolTCP)
	require.Error(t, err)
	assert.Equal(t, lcerr.ValidationFailed, err.(*lcerr.Error).Kind)
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	e, _ := newTestEngine(t)
	registerUser(t, e, "bob")

	user, session, token, err := e.Login(context.Background(), "bob", "password1", types.ProtocolTCP)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, session.UserID)
}

func TestLoginFailsWithWrongPassword(t *testing.T) {
	e, _ := newTestEngine(t)
	registerUser(t, e, "carol")

	_, _, _, err := e.Login(context.Background(), "carol", "wrongpassword", types.ProtocolTCP)
	require.Error(t, err)
	assert.Equal(t, lcerr.Unauthorized, err.(*lcerr.Error).Kind)
}

func TestLoginFailsForUnknownIdentifierSameKindAsWrongPassword(t *testing.T) {
	e, _ := newTestEngine(t)
	_, _, _, err := e.Login(context.Background(), "nobody", "whatever1", types.ProtocolTCP)
	require.Error(t, err)
	assert.Equal(t, lcerr.Unauthorized, err.(*lcerr.Error).Kind)
}

func TestValidateTokenRejectsAfterLogout(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, session, token, err := e.Register(ctx, "dave", "dave@example.com", "password1", types.ProtocolTCP)
	require.NoError(t, err)

	_, _, err = e.ValidateToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, e.Logout(ctx, session.ID))

	_, _, err = e.ValidateToken(ctx, token)
	require.Error(t, err)
	assert.Equal(t, lcerr.Unauthorized, err.(*lcerr.Error).Kind)
}

func TestUserConnectedEmitsOnlineOnFirstConnectionOnly(t *testing.T) {
	e, b := newTestEngine(t)
	user := &types.User{ID: types.NewUserID(), Username: "eve"}

	sub := b.Subscribe(types.NewUserID())
	defer sub.Close()

	e.UserConnected(user)
	e.UserConnected(user) // second connection, no second event

	select {
	case ev := <-sub.Events():
		assert.Equal(t, bus.UserOnline, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected UserOnline event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event: %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	assert.True(t, e.IsOnline(user.ID))
}

func TestUserDisconnectedEmitsOfflineOnlyOnLastDisconnect(t *testing.T) {
	e, b := newTestEngine(t)
	user := &types.User{ID: types.NewUserID()}

	e.UserConnected(user)
	e.UserConnected(user)

	sub := b.Subscribe(types.NewUserID())
	defer sub.Close()

	e.UserDisconnected(user)
	select {
	case <-sub.Events():
		t.Fatal("should not emit offline on first of two disconnects")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, e.IsOnline(user.ID))

	e.UserDisconnected(user)
	select {
	case ev := <-sub.Events():
		assert.Equal(t, bus.UserOffline, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected UserOffline event")
	}
	assert.False(t, e.IsOnline(user.ID))
}

func TestSendTypingCoalescesWithinWindow(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	b := bus.New(nil)
	repos := memstore.New().Repositories()
	e := New(repos, b, auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil, WithClock(clock))

	ctx := context.Background()
	_, session, err := createRoomWithOwner(ctx, e)
	require.NoError(t, err)

	sub := b.Subscribe(types.NewUserID())
	defer sub.Close()

	target := types.DirectTarget(types.NewUserID())
	require.NoError(t, e.SendTyping(ctx, session, target))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, bus.UserTyping, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected first typing event")
	}

	require.NoError(t, e.SendTyping(ctx, session, target))
	select {
	case <-sub.Events():
		t.Fatal("second typing call inside window must be coalesced")
	case <-time.After(50 * time.Millisecond):
	}

	now = now.Add(3 * time.Second)
	require.NoError(t, e.SendTyping(ctx, session, target))
	select {
	case ev := <-sub.Events():
		assert.Equal(t, bus.UserTyping, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected typing event after window elapses")
	}
}

func createRoomWithOwner(ctx context.Context, e *Engine) (*types.Room, *types.Session, error) {
	_, session, _, err := e.Register(ctx, "typer", "typer@example.com", "password1", types.ProtocolTCP)
	if err != nil {
		return nil, nil, err
	}
	room, err := e.CreateRoom(ctx, session, "room", "", types.RoomSettings{IsPublic: true})
	return room, session, err
}
