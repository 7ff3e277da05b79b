package wire

// Server messages (§4.5). Responses embed Envelope (carrying the echoed
// request_id), Success, and on failure an Error payload; on success they
// carry the relevant entity snapshot.

type ServerHello struct {
	Envelope
	Version string `json:"version"`
	Build   string `json:"build"`
}

type KeyExchangeResponse struct {
	Envelope
	PublicKey string `json:"public_key"`
}

type Pong struct {
	Envelope
}

// Response is embedded by every *Response message to carry the common
// success/error shape.
type Response struct {
	Envelope
	Success bool          `json:"success"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

func OK(reqID, typ string) Response {
	return Response{Envelope: Envelope{Type: typ, RequestID: reqID}, Success: true}
}

func Fail(reqID, typ string, err error) Response {
	e := ErrorPayloadFrom(err)
	return Response{Envelope: Envelope{Type: typ, RequestID: reqID}, Success: false, Error: &e}
}

type AuthenticateResponse struct {
	Response
	User    *UserWire    `json:"user,omitempty"`
	Session *SessionWire `json:"session,omitempty"`
}

type LoginResponse struct {
	Response
	User    *UserWire    `json:"user,omitempty"`
	Session *SessionWire `json:"session,omitempty"`
	Token   string       `json:"token,omitempty"`
}

type RegisterResponse struct {
	Response
	User    *UserWire    `json:"user,omitempty"`
	Session *SessionWire `json:"session,omitempty"`
	Token   string       `json:"token,omitempty"`
}

type LogoutResponse struct {
	Response
}

type SendMessageResponse struct {
	Response
	Message *MessageWire `json:"message,omitempty"`
}

type EditMessageResponse struct {
	Response
	Message *MessageWire `json:"message,omitempty"`
}

type DeleteMessageResponse struct {
	Response
}

type GetMessagesResponse struct {
	Response
	Messages []MessageWire `json:"messages,omitempty"`
	HasMore  bool          `json:"has_more"`
}

type CreateRoomResponse struct {
	Response
	Room *RoomWire `json:"room,omitempty"`
}

type JoinRoomResponse struct {
	Response
	Membership *MembershipWire `json:"membership,omitempty"`
}

type LeaveRoomResponse struct {
	Response
}

type ListRoomsResponse struct {
	Response
	Rooms   []RoomWire `json:"rooms,omitempty"`
	HasMore bool       `json:"has_more"`
}

type GetRoomResponse struct {
	Response
	Room *RoomWire `json:"room,omitempty"`
}

type GetRoomMembersResponse struct {
	Response
	Members []MembershipWire `json:"members,omitempty"`
	HasMore bool             `json:"has_more"`
}

// OKResponse is a minimal success/error envelope for operations with no
// entity snapshot to return: SetMemberRole, KickMember, DeleteRoom,
// DeclineInvitation, CancelInvitation, Typing.
type OKResponse struct {
	Response
}

type UpdateRoomResponse struct {
	Response
	Room *RoomWire `json:"room,omitempty"`
}

type InviteToRoomResponse struct {
	Response
	Invitation *InvitationWire `json:"invitation,omitempty"`
}

type ListInvitationsResponse struct {
	Response
	Invitations []InvitationWire `json:"invitations,omitempty"`
}

type AcceptInvitationResponse struct {
	Response
	Membership *MembershipWire `json:"membership,omitempty"`
}

type GetCurrentUserResponse struct {
	Response
	User *UserWire `json:"user,omitempty"`
}

type GetUserResponse struct {
	Response
	User *UserWire `json:"user,omitempty"`
}

type ListUsersResponse struct {
	Response
	Users   []UserWire `json:"users,omitempty"`
	HasMore bool       `json:"has_more"`
}

// Unsolicited server events omit request_id (Envelope.RequestID left
// empty).

type MessageReceived struct {
	Envelope
	Message MessageWire `json:"message"`
}

type MessageEdited struct {
	Envelope
	Message         MessageWire `json:"message"`
	PreviousContent string      `json:"previous_content"`
}

type MessageDeleted struct {
	Envelope
	MessageID string     `json:"message_id"`
	Target    TargetWire `json:"target"`
}

type UserJoinedRoom struct {
	Envelope
	Room   RoomWire `json:"room"`
	UserID string   `json:"user_id"`
}

type UserLeftRoom struct {
	Envelope
	Room   RoomWire `json:"room"`
	UserID string   `json:"user_id"`
	Reason string   `json:"reason,omitempty"`
}

type MemberRoleChanged struct {
	Envelope
	Room   RoomWire `json:"room"`
	UserID string   `json:"user_id"`
}

type RoomUpdated struct {
	Envelope
	Room RoomWire `json:"room"`
}

type RoomDeleted struct {
	Envelope
	RoomID string `json:"room_id"`
}

type UserOnline struct {
	Envelope
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type UserOffline struct {
	Envelope
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type UserTyping struct {
	Envelope
	Target TargetWire `json:"target"`
	UserID string     `json:"user_id"`
}

type InvitationReceived struct {
	Envelope
	Invitation InvitationWire `json:"invitation"`
}

type InvitationCancelled struct {
	Envelope
	InvitationID string `json:"invitation_id"`
}

type ServerNotice struct {
	Envelope
	Text string `json:"text"`
}

type Error struct {
	Envelope
	Error ErrorPayload `json:"error"`
}

func NewError(reqID string, err error) Error {
	return Error{Envelope: Envelope{Type: TypeError, RequestID: reqID}, Error: ErrorPayloadFrom(err)}
}
