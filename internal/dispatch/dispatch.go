// Package dispatch implements the command dispatcher of §4.8: a pure
// mapping from parsed client messages to engine calls. It holds no state
// beyond an engine handle; per-connection state (the current session) is
// passed in and threaded back out by the caller (internal/conn).
package dispatch

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/types"
	"github.com/berrym/lair-chat/internal/wire"
)

// Result is what Handle returns: the server message to send, an updated
// session when authentication succeeded (nil otherwise), and the error
// that produced the message, if any (the caller inspects its Kind via
// lcerr to decide whether to close the connection, per §7's propagation
// column).
type Result struct {
	Response   interface{}
	NewSession *types.Session
	NewUser    *types.User
	Err        error
}

type Dispatcher struct {
	engine  *engine.Engine
	log     *zap.Logger
	metrics *metrics.Registry
}

func New(e *engine.Engine, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{engine: e, log: log}
}

// SetMetrics attaches the Prometheus collectors Handle reports per-
// operation latency and error counts to. Nil disables reporting.
func (d *Dispatcher) SetMetrics(m *metrics.Registry) {
	d.metrics = m
}

// operationName derives the metrics label for msg from its concrete wire
// type, e.g. *wire.SendMessage -> "SendMessage".
func operationName(msg interface{}) string {
	t := reflect.TypeOf(msg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func errorKind(err error) string {
	if lerr, ok := err.(*lcerr.Error); ok {
		return string(lerr.Kind)
	}
	return string(lcerr.InternalErrorKind)
}

// Handle maps one parsed client message to an engine call and a server
// response. session is nil until authentication succeeds.
func (d *Dispatcher) Handle(ctx context.Context, session *types.Session, msg interface{}) Result {
	start := time.Now()
	op := operationName(msg)
	result := d.dispatch(ctx, session, msg)
	if d.metrics != nil {
		d.metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if result.Err != nil {
			d.metrics.OperationErrors.WithLabelValues(op, errorKind(result.Err)).Inc()
		}
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, session *types.Session, msg interface{}) Result {
	switch m := msg.(type) {

	case *wire.Authenticate:
		if session != nil {
			err := lcerr.InvalidStateErr("already authenticated")
			return resp(&wire.AuthenticateResponse{Response: wire.Fail(m.RequestID, wire.TypeAuthenticateResponse, err)}, err)
		}
		user, sess, err := d.engine.ValidateToken(ctx, m.Token)
		if err != nil {
			return resp(&wire.AuthenticateResponse{Response: wire.Fail(m.RequestID, wire.TypeAuthenticateResponse, err)}, err)
		}
		d.engine.UserConnected(user)
		uw, sw := wire.UserToWire(user), wire.SessionToWire(sess)
		return Result{
			Response:   &wire.AuthenticateResponse{Response: wire.OK(m.RequestID, wire.TypeAuthenticateResponse), User: &uw, Session: &sw},
			NewSession: sess,
			NewUser:    user,
		}

	case *wire.Login:
		d.log.Warn("deprecated wire message used, prefer authenticate", zap.String("type", wire.TypeLogin))
		if session != nil {
			err := lcerr.InvalidStateErr("already authenticated")
			return resp(&wire.LoginResponse{Response: wire.Fail(m.RequestID, wire.TypeLoginResponse, err)}, err)
		}
		user, sess, token, err := d.engine.Login(ctx, m.Identifier, m.Password, types.ProtocolTCP)
		if err != nil {
			return resp(&wire.LoginResponse{Response: wire.Fail(m.RequestID, wire.TypeLoginResponse, err)}, err)
		}
		uw, sw := wire.UserToWire(user), wire.SessionToWire(sess)
		return Result{
			Response:   &wire.LoginResponse{Response: wire.OK(m.RequestID, wire.TypeLoginResponse), User: &uw, Session: &sw, Token: token},
			NewSession: sess,
			NewUser:    user,
		}

	case *wire.Register:
		d.log.Warn("deprecated wire message used, prefer authenticate", zap.String("type", wire.TypeRegister))
		if session != nil {
			err := lcerr.InvalidStateErr("already authenticated")
			return resp(&wire.RegisterResponse{Response: wire.Fail(m.RequestID, wire.TypeRegisterResponse, err)}, err)
		}
		user, sess, token, err := d.engine.Register(ctx, m.Username, m.Email, m.Password, types.ProtocolTCP)
		if err != nil {
			return resp(&wire.RegisterResponse{Response: wire.Fail(m.RequestID, wire.TypeRegisterResponse, err)}, err)
		}
		uw, sw := wire.UserToWire(user), wire.SessionToWire(sess)
		return Result{
			Response:   &wire.RegisterResponse{Response: wire.OK(m.RequestID, wire.TypeRegisterResponse), User: &uw, Session: &sw, Token: token},
			NewSession: sess,
			NewUser:    user,
		}

	case *wire.Logout:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeLogoutResponse)
		}
		err := d.engine.Logout(ctx, session.ID)
		if err != nil {
			return resp(&wire.LogoutResponse{Response: wire.Fail(m.RequestID, wire.TypeLogoutResponse, err)}, err)
		}
		return Result{Response: &wire.LogoutResponse{Response: wire.OK(m.RequestID, wire.TypeLogoutResponse)}}

	case *wire.Ping:
		return Result{Response: &wire.Pong{Envelope: wire.Envelope{Type: wire.TypePong, RequestID: m.RequestID}}}

	case *wire.SendMessage:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeSendMessageResponse)
		}
		target, err := wire.TargetFromWire(m.Target)
		if err != nil {
			return resp(&wire.SendMessageResponse{Response: wire.Fail(m.RequestID, wire.TypeSendMessageResponse, err)}, err)
		}
		msgOut, err := d.engine.SendMessage(ctx, session, target, m.Content)
		if err != nil {
			return resp(&wire.SendMessageResponse{Response: wire.Fail(m.RequestID, wire.TypeSendMessageResponse, err)}, err)
		}
		w := wire.MessageToWire(msgOut, d.authorUsername(ctx, msgOut.Author))
		return Result{Response: &wire.SendMessageResponse{Response: wire.OK(m.RequestID, wire.TypeSendMessageResponse), Message: &w}}

	case *wire.EditMessage:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeEditMessageResponse)
		}
		id, err := types.ParseMessageID(m.MessageID)
		if err != nil {
			return badID(m.RequestID, wire.TypeEditMessageResponse)
		}
		msgOut, err := d.engine.EditMessage(ctx, session, id, m.Content)
		if err != nil {
			return resp(&wire.EditMessageResponse{Response: wire.Fail(m.RequestID, wire.TypeEditMessageResponse, err)}, err)
		}
		w := wire.MessageToWire(msgOut, d.authorUsername(ctx, msgOut.Author))
		return Result{Response: &wire.EditMessageResponse{Response: wire.OK(m.RequestID, wire.TypeEditMessageResponse), Message: &w}}

	case *wire.DeleteMessage:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeDeleteMessageResponse)
		}
		id, err := types.ParseMessageID(m.MessageID)
		if err != nil {
			return badID(m.RequestID, wire.TypeDeleteMessageResponse)
		}
		if err := d.engine.DeleteMessage(ctx, session, id); err != nil {
			return resp(&wire.DeleteMessageResponse{Response: wire.Fail(m.RequestID, wire.TypeDeleteMessageResponse, err)}, err)
		}
		return Result{Response: &wire.DeleteMessageResponse{Response: wire.OK(m.RequestID, wire.TypeDeleteMessageResponse)}}

	case *wire.GetMessages:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGetMessagesResponse)
		}
		target, err := wire.TargetFromWire(m.Target)
		if err != nil {
			return resp(&wire.GetMessagesResponse{Response: wire.Fail(m.RequestID, wire.TypeGetMessagesResponse, err)}, err)
		}
		before, err := parseBefore(m.Before)
		if err != nil {
			return resp(&wire.GetMessagesResponse{Response: wire.Fail(m.RequestID, wire.TypeGetMessagesResponse, err)}, err)
		}
		page, err := d.engine.GetMessages(ctx, session, target, types.Pagination{Offset: m.Offset, Limit: m.Limit}, before)
		if err != nil {
			return resp(&wire.GetMessagesResponse{Response: wire.Fail(m.RequestID, wire.TypeGetMessagesResponse, err)}, err)
		}
		out := make([]wire.MessageWire, len(page.Items))
		usernames := make(map[types.UserID]string, len(page.Items))
		for i := range page.Items {
			author := page.Items[i].Author
			name, cached := usernames[author]
			if !cached {
				name = d.authorUsername(ctx, author)
				usernames[author] = name
			}
			out[i] = wire.MessageToWire(&page.Items[i], name)
		}
		return Result{Response: &wire.GetMessagesResponse{Response: wire.OK(m.RequestID, wire.TypeGetMessagesResponse), Messages: out, HasMore: page.HasMore}}

	case *wire.CreateRoom:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeCreateRoomResponse)
		}
		settings := types.RoomSettings{IsPublic: true, AllowInvites: true}
		if m.Settings != nil {
			settings = wire.RoomSettingsFromWire(*m.Settings)
		}
		room, err := d.engine.CreateRoom(ctx, session, m.Name, m.Description, settings)
		if err != nil {
			return resp(&wire.CreateRoomResponse{Response: wire.Fail(m.RequestID, wire.TypeCreateRoomResponse, err)}, err)
		}
		w := wire.RoomToWire(room)
		return Result{Response: &wire.CreateRoomResponse{Response: wire.OK(m.RequestID, wire.TypeCreateRoomResponse), Room: &w}}

	case *wire.JoinRoom:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeJoinRoomResponse)
		}
		roomID, err := types.ParseRoomID(m.RoomID)
		if err != nil {
			return badID(m.RequestID, wire.TypeJoinRoomResponse)
		}
		membership, err := d.engine.JoinRoom(ctx, session, roomID)
		if err != nil {
			return resp(&wire.JoinRoomResponse{Response: wire.Fail(m.RequestID, wire.TypeJoinRoomResponse, err)}, err)
		}
		w := wire.MembershipToWire(membership)
		return Result{Response: &wire.JoinRoomResponse{Response: wire.OK(m.RequestID, wire.TypeJoinRoomResponse), Membership: &w}}

	case *wire.LeaveRoom:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeLeaveRoomResponse)
		}
		roomID, err := types.ParseRoomID(m.RoomID)
		if err != nil {
			return badID(m.RequestID, wire.TypeLeaveRoomResponse)
		}
		if err := d.engine.LeaveRoom(ctx, session, roomID); err != nil {
			return resp(&wire.LeaveRoomResponse{Response: wire.Fail(m.RequestID, wire.TypeLeaveRoomResponse, err)}, err)
		}
		return Result{Response: &wire.LeaveRoomResponse{Response: wire.OK(m.RequestID, wire.TypeLeaveRoomResponse)}}

	case *wire.ListRooms:
		p := types.Pagination{Offset: m.Offset, Limit: m.Limit}
		var page types.Page[types.Room]
		var err error
		if m.Scope == "mine" {
			if session == nil {
				return unauthorized(m.RequestID, wire.TypeListRoomsResponse)
			}
			page, err = d.engine.ListUserRooms(ctx, session, p)
		} else {
			page, err = d.engine.ListPublicRooms(ctx, p)
		}
		if err != nil {
			return resp(&wire.ListRoomsResponse{Response: wire.Fail(m.RequestID, wire.TypeListRoomsResponse, err)}, err)
		}
		out := make([]wire.RoomWire, len(page.Items))
		for i := range page.Items {
			out[i] = wire.RoomToWire(&page.Items[i])
		}
		return Result{Response: &wire.ListRoomsResponse{Response: wire.OK(m.RequestID, wire.TypeListRoomsResponse), Rooms: out, HasMore: page.HasMore}}

	case *wire.GetRoom:
		roomID, err := types.ParseRoomID(m.RoomID)
		if err != nil {
			return badID(m.RequestID, wire.TypeGetRoomResponse)
		}
		room, err := d.engine.GetRoom(ctx, roomID)
		if err != nil {
			return resp(&wire.GetRoomResponse{Response: wire.Fail(m.RequestID, wire.TypeGetRoomResponse, err)}, err)
		}
		w := wire.RoomToWire(room)
		return Result{Response: &wire.GetRoomResponse{Response: wire.OK(m.RequestID, wire.TypeGetRoomResponse), Room: &w}}

	case *wire.GetRoomMembers:
		roomID, err := types.ParseRoomID(m.RoomID)
		if err != nil {
			return badID(m.RequestID, wire.TypeGetRoomMembersResponse)
		}
		page, err := d.engine.GetRoomMembers(ctx, roomID, types.Pagination{Offset: m.Offset, Limit: m.Limit})
		if err != nil {
			return resp(&wire.GetRoomMembersResponse{Response: wire.Fail(m.RequestID, wire.TypeGetRoomMembersResponse, err)}, err)
		}
		out := make([]wire.MembershipWire, len(page.Items))
		for i := range page.Items {
			out[i] = wire.MembershipToWire(&page.Items[i])
		}
		return Result{Response: &wire.GetRoomMembersResponse{Response: wire.OK(m.RequestID, wire.TypeGetRoomMembersResponse), Members: out, HasMore: page.HasMore}}

	case *wire.SetMemberRole:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGenericOKResponse)
		}
		roomID, err1 := types.ParseRoomID(m.RoomID)
		userID, err2 := types.ParseUserID(m.UserID)
		if err1 != nil || err2 != nil {
			return badID(m.RequestID, wire.TypeGenericOKResponse)
		}
		role, ok := parseRole(m.NewRole)
		if !ok {
			err := lcerr.ValidationFailedErr("unrecognized role: " + m.NewRole)
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		if err := d.engine.SetMemberRole(ctx, session, roomID, userID, role); err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		return Result{Response: &wire.OKResponse{Response: wire.OK(m.RequestID, wire.TypeGenericOKResponse)}}

	case *wire.KickMember:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGenericOKResponse)
		}
		roomID, err1 := types.ParseRoomID(m.RoomID)
		userID, err2 := types.ParseUserID(m.UserID)
		if err1 != nil || err2 != nil {
			return badID(m.RequestID, wire.TypeGenericOKResponse)
		}
		if err := d.engine.KickMember(ctx, session, roomID, userID); err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		return Result{Response: &wire.OKResponse{Response: wire.OK(m.RequestID, wire.TypeGenericOKResponse)}}

	case *wire.UpdateRoom:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeCreateRoomResponse)
		}
		roomID, err := types.ParseRoomID(m.RoomID)
		if err != nil {
			return badID(m.RequestID, wire.TypeCreateRoomResponse)
		}
		patch := engine.RoomPatch{
			Name:         m.Name,
			Description:  m.Description,
			IsPublic:     m.IsPublic,
			AllowInvites: m.AllowInvites,
			MaxMembers:   m.MaxMembers,
		}
		room, err := d.engine.UpdateRoom(ctx, session, roomID, patch)
		if err != nil {
			return resp(&wire.UpdateRoomResponse{Response: wire.Fail(m.RequestID, wire.TypeCreateRoomResponse, err)}, err)
		}
		w := wire.RoomToWire(room)
		return Result{Response: &wire.UpdateRoomResponse{Response: wire.OK(m.RequestID, wire.TypeCreateRoomResponse), Room: &w}}

	case *wire.DeleteRoom:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGenericOKResponse)
		}
		roomID, err := types.ParseRoomID(m.RoomID)
		if err != nil {
			return badID(m.RequestID, wire.TypeGenericOKResponse)
		}
		if err := d.engine.DeleteRoom(ctx, session, roomID); err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		return Result{Response: &wire.OKResponse{Response: wire.OK(m.RequestID, wire.TypeGenericOKResponse)}}

	case *wire.InviteToRoom:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeInviteToRoomResponse)
		}
		roomID, err1 := types.ParseRoomID(m.RoomID)
		userID, err2 := types.ParseUserID(m.UserID)
		if err1 != nil || err2 != nil {
			return badID(m.RequestID, wire.TypeInviteToRoomResponse)
		}
		inv, err := d.engine.InviteToRoom(ctx, session, roomID, userID)
		if err != nil {
			return resp(&wire.InviteToRoomResponse{Response: wire.Fail(m.RequestID, wire.TypeInviteToRoomResponse, err)}, err)
		}
		w := wire.InvitationToWire(inv)
		return Result{Response: &wire.InviteToRoomResponse{Response: wire.OK(m.RequestID, wire.TypeInviteToRoomResponse), Invitation: &w}}

	case *wire.ListInvitations:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeListInvitationsResponse)
		}
		invs, err := d.engine.ListInvitations(ctx, session)
		if err != nil {
			return resp(&wire.ListInvitationsResponse{Response: wire.Fail(m.RequestID, wire.TypeListInvitationsResponse, err)}, err)
		}
		out := make([]wire.InvitationWire, len(invs))
		for i := range invs {
			out[i] = wire.InvitationToWire(&invs[i])
		}
		return Result{Response: &wire.ListInvitationsResponse{Response: wire.OK(m.RequestID, wire.TypeListInvitationsResponse), Invitations: out}}

	case *wire.AcceptInvitation:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeAcceptInvitationResponse)
		}
		id, err := types.ParseInvitationID(m.InvitationID)
		if err != nil {
			return badID(m.RequestID, wire.TypeAcceptInvitationResponse)
		}
		membership, err := d.engine.AcceptInvitation(ctx, session, id)
		if err != nil {
			return resp(&wire.AcceptInvitationResponse{Response: wire.Fail(m.RequestID, wire.TypeAcceptInvitationResponse, err)}, err)
		}
		w := wire.MembershipToWire(membership)
		return Result{Response: &wire.AcceptInvitationResponse{Response: wire.OK(m.RequestID, wire.TypeAcceptInvitationResponse), Membership: &w}}

	case *wire.DeclineInvitation:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGenericOKResponse)
		}
		id, err := types.ParseInvitationID(m.InvitationID)
		if err != nil {
			return badID(m.RequestID, wire.TypeGenericOKResponse)
		}
		if err := d.engine.DeclineInvitation(ctx, session, id); err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		return Result{Response: &wire.OKResponse{Response: wire.OK(m.RequestID, wire.TypeGenericOKResponse)}}

	case *wire.CancelInvitation:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGenericOKResponse)
		}
		id, err := types.ParseInvitationID(m.InvitationID)
		if err != nil {
			return badID(m.RequestID, wire.TypeGenericOKResponse)
		}
		if err := d.engine.CancelInvitation(ctx, session, id); err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		return Result{Response: &wire.OKResponse{Response: wire.OK(m.RequestID, wire.TypeGenericOKResponse)}}

	case *wire.GetCurrentUser:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGetCurrentUserResponse)
		}
		user, err := d.engine.GetUser(ctx, session.UserID)
		if err != nil {
			return resp(&wire.GetCurrentUserResponse{Response: wire.Fail(m.RequestID, wire.TypeGetCurrentUserResponse, err)}, err)
		}
		w := wire.UserToWire(user)
		return Result{Response: &wire.GetCurrentUserResponse{Response: wire.OK(m.RequestID, wire.TypeGetCurrentUserResponse), User: &w}}

	case *wire.GetUser:
		userID, err := types.ParseUserID(m.UserID)
		if err != nil {
			return badID(m.RequestID, wire.TypeGetUserResponse)
		}
		user, err := d.engine.GetUser(ctx, userID)
		if err != nil {
			return resp(&wire.GetUserResponse{Response: wire.Fail(m.RequestID, wire.TypeGetUserResponse, err)}, err)
		}
		w := wire.UserToWire(user)
		return Result{Response: &wire.GetUserResponse{Response: wire.OK(m.RequestID, wire.TypeGetUserResponse), User: &w}}

	case *wire.ListUsers:
		page, err := d.engine.ListUsers(ctx, types.Pagination{Offset: m.Offset, Limit: m.Limit})
		if err != nil {
			return resp(&wire.ListUsersResponse{Response: wire.Fail(m.RequestID, wire.TypeListUsersResponse, err)}, err)
		}
		out := make([]wire.UserWire, len(page.Items))
		for i := range page.Items {
			out[i] = wire.UserToWire(&page.Items[i])
		}
		return Result{Response: &wire.ListUsersResponse{Response: wire.OK(m.RequestID, wire.TypeListUsersResponse), Users: out, HasMore: page.HasMore}}

	case *wire.Typing:
		if session == nil {
			return unauthorized(m.RequestID, wire.TypeGenericOKResponse)
		}
		target, err := wire.TargetFromWire(m.Target)
		if err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		if err := d.engine.SendTyping(ctx, session, target); err != nil {
			return resp(&wire.OKResponse{Response: wire.Fail(m.RequestID, wire.TypeGenericOKResponse, err)}, err)
		}
		return Result{Response: &wire.OKResponse{Response: wire.OK(m.RequestID, wire.TypeGenericOKResponse)}}

	default:
		err := lcerr.New(lcerr.InvalidState, "message not valid in current state")
		return Result{Response: wire.NewError("", err), Err: err}
	}
}

