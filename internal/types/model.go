package types

import (
	"regexp"
	"strings"
	"time"
)

// Protocol identifies the transport a Session was created over.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolWebSocket
	ProtocolHTTP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolWebSocket:
		return "websocket"
	case ProtocolHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Role is a membership's position in a room's authorization lattice:
// Owner ⊃ Moderator ⊃ Member.
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleModerator
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleModerator:
		return "moderator"
	case RoleMember:
		return "member"
	default:
		return "none"
	}
}

// AtLeast reports whether r sits at or above min in the lattice.
func (r Role) AtLeast(min Role) bool { return r >= min }

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// ValidUsername enforces the §3 username invariant: 3-32 chars from
// [a-zA-Z0-9_]. Uniqueness is enforced case-insensitively by the store.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// NormalizeUsername lower-cases a username for case-insensitive comparisons
// and unique-constraint checks.
func NormalizeUsername(name string) string {
	return strings.ToLower(name)
}

// User is an account identity (§3).
type User struct {
	ID           UserID
	Username     string
	Email        string
	PasswordHash string
	Public       map[string]interface{}
	Settings     map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session records an authenticated connection (§3).
type Session struct {
	ID           SessionID
	UserID       UserID
	Protocol     Protocol
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    *time.Time
}

// Active reports whether the session has not passed its expiry, as of now.
func (s *Session) Active(now time.Time) bool {
	if s.ExpiresAt == nil {
		return true
	}
	return now.Before(*s.ExpiresAt)
}

// RoomSettings is the settings blob carried by a Room (§3).
type RoomSettings struct {
	IsPublic     bool `json:"is_public"`
	AllowInvites bool `json:"allow_invites"`
	MaxMembers   int  `json:"max_members"`
}

// Room is a persistent, role-based chat room (§3).
type Room struct {
	ID          RoomID
	Name        string
	Description string
	CreatedBy   UserID
	Settings    RoomSettings
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoomMembership is a (room, user, role) triple (§3).
type RoomMembership struct {
	RoomID   RoomID
	UserID   UserID
	Role     Role
	JoinedAt time.Time
}

// MessageTargetKind discriminates a message's recipient kind.
type MessageTargetKind int

const (
	TargetRoom MessageTargetKind = iota
	TargetDirect
)

// MessageTarget is a sum type: either Room(room_id) or Direct(user_id).
type MessageTarget struct {
	Kind   MessageTargetKind
	RoomID RoomID
	UserID UserID
}

func RoomTarget(id RoomID) MessageTarget   { return MessageTarget{Kind: TargetRoom, RoomID: id} }
func DirectTarget(id UserID) MessageTarget { return MessageTarget{Kind: TargetDirect, UserID: id} }

// Message is a chat message addressed to a room or a direct peer (§3).
type Message struct {
	ID        MessageID
	Target    MessageTarget
	Author    UserID
	Content   string
	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
}

// Live reports whether the message has not been soft-deleted.
func (m *Message) Live() bool { return m.DeletedAt == nil }

const (
	MinMessageLen = 1
	MaxMessageLen = 4000
)

// InvitationState is the invitation state machine: Pending is the only
// actionable state; the rest are terminal (§4.4).
type InvitationState int

const (
	InvitationPending InvitationState = iota
	InvitationAccepted
	InvitationDeclined
	InvitationCancelled
	InvitationExpired
)

func (s InvitationState) String() string {
	switch s {
	case InvitationPending:
		return "pending"
	case InvitationAccepted:
		return "accepted"
	case InvitationDeclined:
		return "declined"
	case InvitationCancelled:
		return "cancelled"
	case InvitationExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s InvitationState) Terminal() bool { return s != InvitationPending }

// Invitation is a pending or resolved invite to join a room (§3).
type Invitation struct {
	ID        InvitationID
	RoomID    RoomID
	Inviter   UserID
	Invitee   UserID
	State     InvitationState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pagination is the standard {offset, limit} page request used by every
// list operation (§4.1), with a server-enforced cap.
type Pagination struct {
	Offset int
	Limit  int
}

// MaxPageSize is the server-enforced cap on any single page (§4.1, §8).
const MaxPageSize = 100

// Clamp normalizes Offset/Limit: negative offsets become 0, limit<=0 or
// limit>MaxPageSize is clamped to MaxPageSize.
func (p Pagination) Clamp() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Page wraps a list result with the has_more hint derived from page-size
// saturation, per §4.4 get_messages.
type Page[T any] struct {
	Items   []T
	HasMore bool
}
