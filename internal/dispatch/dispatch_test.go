package dispatch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/store/memstore"
	"github.com/berrym/lair-chat/internal/types"
	"github.com/berrym/lair-chat/internal/wire"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	repos := memstore.New().Repositories()
	e := engine.New(repos, bus.New(nil), auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil)
	return New(e, nil)
}

func TestHandleRegisterReturnsSessionAndUser(t *testing.T) {
	d := newTestDispatcher(t)
	msg := &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister, RequestID: "r1"},
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password1",
	}

	result := d.Handle(context.Background(), nil, msg)
	require.NoError(t, result.Err)
	require.NotNil(t, result.NewSession)
	require.NotNil(t, result.NewUser)

	resp, ok := result.Response.(*wire.RegisterResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.NotEmpty(t, resp.Token)
}

func TestHandleLogoutRequiresSession(t *testing.T) {
	d := newTestDispatcher(t)
	msg := &wire.Logout{Envelope: wire.Envelope{Type: wire.TypeLogout, RequestID: "r2"}}

	result := d.Handle(context.Background(), nil, msg)
	require.Error(t, result.Err)
	assert.Equal(t, lcerr.Unauthorized, result.Err.(*lcerr.Error).Kind)
}

func TestHandlePingAlwaysAllowed(t *testing.T) {
	d := newTestDispatcher(t)
	msg := &wire.Ping{Envelope: wire.Envelope{Type: wire.TypePing, RequestID: "r3"}}

	result := d.Handle(context.Background(), nil, msg)
	require.NoError(t, result.Err)
	pong, ok := result.Response.(*wire.Pong)
	require.True(t, ok)
	assert.Equal(t, "r3", pong.RequestID)
}

func TestHandleSendMessageRequiresSession(t *testing.T) {
	d := newTestDispatcher(t)
	msg := &wire.SendMessage{
		Envelope: wire.Envelope{Type: wire.TypeSendMessage, RequestID: "r4"},
		Target:   wire.TargetToWire(types.RoomTarget(types.NewRoomID())),
		Content:  "hi",
	}

	result := d.Handle(context.Background(), nil, msg)
	require.Error(t, result.Err)
	assert.Equal(t, lcerr.Unauthorized, result.Err.(*lcerr.Error).Kind)
}

func TestHandleSendMessageWithSessionSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	reg := d.Handle(ctx, nil, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "bob",
		Email:    "bob@example.com",
		Password: "password1",
	})
	require.NoError(t, reg.Err)
	session := reg.NewSession

	create := d.Handle(ctx, session, &wire.CreateRoom{
		Envelope: wire.Envelope{Type: wire.TypeCreateRoom},
		Name:     "general",
	})
	require.NoError(t, create.Err)
	roomResp := create.Response.(*wire.CreateRoomResponse)

	roomID, err := types.ParseRoomID(roomResp.Room.ID)
	require.NoError(t, err)

	send := d.Handle(ctx, session, &wire.SendMessage{
		Envelope: wire.Envelope{Type: wire.TypeSendMessage, RequestID: "r5"},
		Target:   wire.TargetToWire(types.RoomTarget(roomID)),
		Content:  "hello",
	})
	require.NoError(t, send.Err)
	sendResp := send.Response.(*wire.SendMessageResponse)
	assert.True(t, sendResp.Success)
	assert.Equal(t, "hello", sendResp.Message.Content)
}

func TestHandleEditMessageRejectsMalformedID(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	reg := d.Handle(ctx, nil, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "carol",
		Email:    "carol@example.com",
		Password: "password1",
	})
	require.NoError(t, reg.Err)

	result := d.Handle(ctx, reg.NewSession, &wire.EditMessage{
		Envelope:  wire.Envelope{Type: wire.TypeEditMessage, RequestID: "r6"},
		MessageID: "not-a-uuid",
		Content:   "x",
	})
	require.Error(t, result.Err)
	assert.Equal(t, lcerr.ValidationFailed, result.Err.(*lcerr.Error).Kind)
}

func TestHandleRejectsReauthenticationWhileAlreadyAuthenticated(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	reg := d.Handle(ctx, nil, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "dave",
		Email:    "dave@example.com",
		Password: "password1",
	})
	require.NoError(t, reg.Err)
	session := reg.NewSession

	loginResult := d.Handle(ctx, session, &wire.Login{
		Envelope:   wire.Envelope{Type: wire.TypeLogin, RequestID: "r7"},
		Identifier: "dave",
		Password:   "password1",
	})
	require.Error(t, loginResult.Err)
	assert.Equal(t, lcerr.InvalidState, loginResult.Err.(*lcerr.Error).Kind)
	assert.Nil(t, loginResult.NewSession, "an already-authenticated connection's session must not be swapped out")

	registerResult := d.Handle(ctx, session, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister, RequestID: "r8"},
		Username: "eve",
		Email:    "eve@example.com",
		Password: "password1",
	})
	require.Error(t, registerResult.Err)
	assert.Equal(t, lcerr.InvalidState, registerResult.Err.(*lcerr.Error).Kind)

	authResult := d.Handle(ctx, session, &wire.Authenticate{
		Envelope: wire.Envelope{Type: wire.TypeAuthenticate, RequestID: "r9"},
		Token:    "irrelevant",
	})
	require.Error(t, authResult.Err)
	assert.Equal(t, lcerr.InvalidState, authResult.Err.(*lcerr.Error).Kind)
}

// TestHandleSetMemberRoleRejectsUnrecognizedRole guards against an
// unrecognized new_role string silently falling through to RoleMember
// (which would demote an Owner to Member instead of reporting an error).
func TestHandleSetMemberRoleRejectsUnrecognizedRole(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	reg := d.Handle(ctx, nil, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "frank",
		Email:    "frank@example.com",
		Password: "password1",
	})
	require.NoError(t, reg.Err)
	session := reg.NewSession

	create := d.Handle(ctx, session, &wire.CreateRoom{
		Envelope: wire.Envelope{Type: wire.TypeCreateRoom},
		Name:     "general",
	})
	require.NoError(t, create.Err)
	roomResp := create.Response.(*wire.CreateRoomResponse)

	result := d.Handle(ctx, session, &wire.SetMemberRole{
		Envelope: wire.Envelope{Type: wire.TypeSetMemberRole, RequestID: "r10"},
		RoomID:   roomResp.Room.ID,
		UserID:   session.UserID.String(),
		NewRole:  "Moderator", // wrong case: must be rejected, not silently coerced
	})
	require.Error(t, result.Err)
	assert.Equal(t, lcerr.ValidationFailed, result.Err.(*lcerr.Error).Kind)

	// The owner's role must be unaffected by the rejected request.
	members := d.Handle(ctx, session, &wire.GetRoomMembers{
		Envelope: wire.Envelope{Type: wire.TypeGetRoomMembers},
		RoomID:   roomResp.Room.ID,
	})
	require.NoError(t, members.Err)
	membersResp := members.Response.(*wire.GetRoomMembersResponse)
	require.Len(t, membersResp.Members, 1)
	assert.Equal(t, "owner", membersResp.Members[0].Role)
}

// TestHandleSendMessageEnrichesAuthorUsername covers §4.7's enrichment
// requirement at the dispatcher boundary: the response to SendMessage
// carries the author's username, not just their id.
func TestHandleSendMessageEnrichesAuthorUsername(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	reg := d.Handle(ctx, nil, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "grace",
		Email:    "grace@example.com",
		Password: "password1",
	})
	require.NoError(t, reg.Err)
	session := reg.NewSession

	create := d.Handle(ctx, session, &wire.CreateRoom{
		Envelope: wire.Envelope{Type: wire.TypeCreateRoom},
		Name:     "general",
	})
	require.NoError(t, create.Err)
	roomResp := create.Response.(*wire.CreateRoomResponse)

	send := d.Handle(ctx, session, &wire.SendMessage{
		Envelope: wire.Envelope{Type: wire.TypeSendMessage},
		Target:   wire.TargetToWire(types.RoomTarget(mustParseRoomID(t, roomResp.Room.ID))),
		Content:  "hello",
	})
	require.NoError(t, send.Err)
	sendResp := send.Response.(*wire.SendMessageResponse)
	assert.Equal(t, "grace", sendResp.Message.AuthorUsername)
}

// TestHandleLoginLogsDeprecationWarning covers SPEC_FULL.md's claim that the
// deprecated Login/Register shims log a warning on use.
func TestHandleLoginLogsDeprecationWarning(t *testing.T) {
	repos := memstore.New().Repositories()
	e := engine.New(repos, bus.New(nil), auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil)
	core, logs := observer.New(zap.WarnLevel)
	d := New(e, zap.New(core))
	ctx := context.Background()

	reg := d.Handle(ctx, nil, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "heidi",
		Email:    "heidi@example.com",
		Password: "password1",
	})
	require.NoError(t, reg.Err)

	d.Handle(ctx, nil, &wire.Login{
		Envelope:   wire.Envelope{Type: wire.TypeLogin},
		Identifier: "heidi",
		Password:   "password1",
	})

	entries := logs.FilterMessage("deprecated wire message used, prefer authenticate").All()
	require.Len(t, entries, 2) // one for Register, one for Login
	assert.Equal(t, wire.TypeRegister, entries[0].ContextMap()["type"])
	assert.Equal(t, wire.TypeLogin, entries[1].ContextMap()["type"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

// TestHandleRecordsOperationMetrics covers comment (e): Handle must drive
// OperationLatency/OperationErrors from a registry attached via SetMetrics.
func TestHandleRecordsOperationMetrics(t *testing.T) {
	repos := memstore.New().Repositories()
	e := engine.New(repos, bus.New(nil), auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil)
	d := New(e, nil)
	reg := metrics.New(prometheus.NewRegistry())
	d.SetMetrics(reg)
	ctx := context.Background()

	d.Handle(ctx, nil, &wire.Ping{Envelope: wire.Envelope{Type: wire.TypePing}})

	var m dto.Metric
	require.NoError(t, reg.OperationLatency.WithLabelValues("Ping").(prometheus.Metric).Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())

	d.Handle(ctx, nil, &wire.Logout{Envelope: wire.Envelope{Type: wire.TypeLogout}})
	var errM dto.Metric
	require.NoError(t, reg.OperationErrors.WithLabelValues("Logout", "unauthorized").Write(&errM))
	assert.Equal(t, float64(1), errM.GetCounter().GetValue())
}

func mustParseRoomID(t *testing.T, s string) types.RoomID {
	t.Helper()
	id, err := types.ParseRoomID(s)
	require.NoError(t, err)
	return id
}
