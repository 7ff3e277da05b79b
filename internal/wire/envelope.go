// Package wire implements the JSON message vocabulary shared by the TCP
// and WebSocket transports (§4.5): a single envelope with a `type`
// discriminator, TCP length-prefix framing, and the protocol version
// handshake.
package wire

import (
	"encoding/json"

	"github.com/berrym/lair-chat/internal/lcerr"
)

// ProtocolVersion is the version this server speaks, sent in ServerHello.
const ProtocolVersion = "1.0"

// ProtocolMajorPrefix is the prefix a ClientHello.Version must start with
// to be accepted (§4.5: "version starts with 1.").
const ProtocolMajorPrefix = "1."

// Client message type discriminators (§4.5).
const (
	TypeClientHello       = "ClientHello"
	TypeKeyExchange       = "KeyExchange"
	TypeAuthenticate      = "Authenticate"
	TypeLogin             = "Login"
	TypeRegister          = "Register"
	TypeLogout            = "Logout"
	TypePing              = "Ping"
	TypeSendMessage       = "SendMessage"
	TypeEditMessage       = "EditMessage"
	TypeDeleteMessage     = "DeleteMessage"
	TypeGetMessages       = "GetMessages"
	TypeCreateRoom        = "CreateRoom"
	TypeJoinRoom          = "JoinRoom"
	TypeLeaveRoom         = "LeaveRoom"
	TypeListRooms         = "ListRooms"
	TypeGetRoom           = "GetRoom"
	TypeGetRoomMembers    = "GetRoomMembers"
	TypeSetMemberRole     = "SetMemberRole"
	TypeKickMember        = "KickMember"
	TypeUpdateRoom        = "UpdateRoom"
	TypeDeleteRoom        = "DeleteRoom"
	TypeInviteToRoom      = "InviteToRoom"
	TypeListInvitations   = "ListInvitations"
	TypeAcceptInvitation  = "AcceptInvitation"
	TypeDeclineInvitation = "DeclineInvitation"
	TypeCancelInvitation  = "CancelInvitation"
	TypeGetCurrentUser    = "GetCurrentUser"
	TypeGetUser           = "GetUser"
	TypeListUsers         = "ListUsers"
	TypeTyping            = "Typing"
)

// Server message type discriminators (§4.5).
const (
	TypeServerHello            = "ServerHello"
	TypeKeyExchangeResponse    = "KeyExchangeResponse"
	TypeAuthenticateResponse   = "AuthenticateResponse"
	TypeLoginResponse          = "LoginResponse"
	TypeRegisterResponse       = "RegisterResponse"
	TypeLogoutResponse         = "LogoutResponse"
	TypePong                   = "Pong"
	TypeSendMessageResponse    = "SendMessageResponse"
	TypeEditMessageResponse    = "EditMessageResponse"
	TypeDeleteMessageResponse  = "DeleteMessageResponse"
	TypeGetMessagesResponse    = "GetMessagesResponse"
	TypeCreateRoomResponse     = "CreateRoomResponse"
	TypeJoinRoomResponse       = "JoinRoomResponse"
	TypeLeaveRoomResponse      = "LeaveRoomResponse"
	TypeListRoomsResponse      = "ListRoomsResponse"
	TypeGetRoomResponse        = "GetRoomResponse"
	TypeGetRoomMembersResponse = "GetRoomMembersResponse"
	TypeGenericOKResponse      = "OKResponse"
	TypeInviteToRoomResponse   = "InviteToRoomResponse"
	TypeListInvitationsResponse = "ListInvitationsResponse"
	TypeAcceptInvitationResponse = "AcceptInvitationResponse"
	TypeDeclineInvitationResponse = "DeclineInvitationResponse"
	TypeGetCurrentUserResponse = "GetCurrentUserResponse"
	TypeGetUserResponse        = "GetUserResponse"
	TypeListUsersResponse      = "ListUsersResponse"
	TypeMessageReceived        = "MessageReceived"
	TypeMessageEdited          = "MessageEdited"
	TypeMessageDeleted         = "MessageDeleted"
	TypeUserJoinedRoom         = "UserJoinedRoom"
	TypeUserLeftRoom           = "UserLeftRoom"
	TypeMemberRoleChanged      = "MemberRoleChanged"
	TypeRoomUpdated            = "RoomUpdated"
	TypeRoomDeleted            = "RoomDeleted"
	TypeUserOnline             = "UserOnline"
	TypeUserOffline            = "UserOffline"
	TypeUserTyping             = "UserTyping"
	TypeInvitationReceived     = "InvitationReceived"
	TypeInvitationCancelled    = "InvitationCancelled"
	TypeServerNotice           = "ServerNotice"
	TypeError                  = "Error"
)

// Envelope is embedded in every client and server message. Client request
// messages carry an optional RequestID; servers copy it back verbatim.
// Unsolicited server events omit it.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

func (e Envelope) envelopeType() string { return e.Type }

// ErrorPayload is the `error{code, message}` object of §7.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPayloadFrom maps an engine/domain error to the wire error taxonomy.
// Non-lcerr errors are treated as internal_error, never leaking details.
func ErrorPayloadFrom(err error) ErrorPayload {
	lerr, ok := err.(*lcerr.Error)
	if !ok {
		return ErrorPayload{Code: string(lcerr.InternalErrorKind), Message: "internal error"}
	}
	if lerr.Kind == lcerr.InternalErrorKind {
		return ErrorPayload{Code: string(lcerr.InternalErrorKind), Message: "internal error"}
	}
	return ErrorPayload{Code: string(lerr.Kind), Message: lerr.Message}
}

// peekType extracts just the `type` field from a raw JSON message without
// decoding the rest, so the dispatcher can pick the right concrete struct
// to unmarshal into.
func peekType(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", lcerr.New(lcerr.ValidationFailed, "malformed JSON message")
	}
	if env.Type == "" {
		return "", lcerr.New(lcerr.ValidationFailed, "message missing required 'type' field")
	}
	return env.Type, nil
}
