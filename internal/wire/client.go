package wire

// Client request messages (§4.5). Each embeds Envelope so `type` and the
// optional `request_id` sit alongside its own fields in one flat JSON
// object.

type ClientHello struct {
	Envelope
	Version string `json:"version"`
}

type KeyExchange struct {
	Envelope
	PublicKey string `json:"public_key"`
}

type Authenticate struct {
	Envelope
	Token string `json:"token"`
}

// Login and Register are deprecated compatibility shims (§9 open
// question (a)): Authenticate is the canonical entry point.
type Login struct {
	Envelope
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type Register struct {
	Envelope
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Logout struct {
	Envelope
}

type Ping struct {
	Envelope
}

type SendMessage struct {
	Envelope
	Target  TargetWire `json:"target"`
	Content string     `json:"content"`
}

type EditMessage struct {
	Envelope
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	Envelope
	MessageID string `json:"message_id"`
}

type GetMessages struct {
	Envelope
	Target TargetWire `json:"target"`
	Offset int        `json:"offset,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Before *string    `json:"before,omitempty"` // RFC3339 timestamp
}

type CreateRoom struct {
	Envelope
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Settings    *RoomSettingsWire `json:"settings,omitempty"`
}

type JoinRoom struct {
	Envelope
	RoomID string `json:"room_id"`
}

type LeaveRoom struct {
	Envelope
	RoomID string `json:"room_id"`
}

type ListRooms struct {
	Envelope
	Scope  string `json:"scope,omitempty"` // "public" (default) or "mine"
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type GetRoom struct {
	Envelope
	RoomID string `json:"room_id"`
}

type GetRoomMembers struct {
	Envelope
	RoomID string `json:"room_id"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type SetMemberRole struct {
	Envelope
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	NewRole string `json:"new_role"`
}

type KickMember struct {
	Envelope
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type UpdateRoom struct {
	Envelope
	RoomID       string  `json:"room_id"`
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsPublic     *bool   `json:"is_public,omitempty"`
	AllowInvites *bool   `json:"allow_invites,omitempty"`
	MaxMembers   *int    `json:"max_members,omitempty"`
}

type DeleteRoom struct {
	Envelope
	RoomID string `json:"room_id"`
}

type InviteToRoom struct {
	Envelope
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type ListInvitations struct {
	Envelope
}

type AcceptInvitation struct {
	Envelope
	InvitationID string `json:"invitation_id"`
}

type DeclineInvitation struct {
	Envelope
	InvitationID string `json:"invitation_id"`
}

type CancelInvitation struct {
	Envelope
	InvitationID string `json:"invitation_id"`
}

type GetCurrentUser struct {
	Envelope
}

type GetUser struct {
	Envelope
	UserID string `json:"user_id"`
}

type ListUsers struct {
	Envelope
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

type Typing struct {
	Envelope
	Target TargetWire `json:"target"`
}
