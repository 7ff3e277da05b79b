// Package bus implements the single global event bus of §4.3: a
// multi-producer, multi-subscriber broadcast channel guarded by a
// visibility predicate evaluated per subscriber. The spec deliberately
// rejects a per-room channel topology in favor of one bus plus a
// predicate, trading a small per-event filtering cost for membership
// changes that never require re-subscription.
package bus

import "github.com/berrym/lair-chat/internal/types"

// Kind identifies the tagged-union variant of an Event.
type Kind int

const (
	MessageReceived Kind = iota
	MessageEdited
	MessageDeleted
	UserJoinedRoom
	UserLeftRoom
	MemberRoleChanged
	RoomUpdated
	RoomDeleted
	UserOnline
	UserOffline
	UserTyping
	InvitationReceived
	InvitationCancelled
	ServerNotice
	SessionExpiring
)

func (k Kind) String() string {
	switch k {
	case MessageReceived:
		return "MessageReceived"
	case MessageEdited:
		return "MessageEdited"
	case MessageDeleted:
		return "MessageDeleted"
	case UserJoinedRoom:
		return "UserJoinedRoom"
	case UserLeftRoom:
		return "UserLeftRoom"
	case MemberRoleChanged:
		return "MemberRoleChanged"
	case RoomUpdated:
		return "RoomUpdated"
	case RoomDeleted:
		return "RoomDeleted"
	case UserOnline:
		return "UserOnline"
	case UserOffline:
		return "UserOffline"
	case UserTyping:
		return "UserTyping"
	case InvitationReceived:
		return "InvitationReceived"
	case InvitationCancelled:
		return "InvitationCancelled"
	case ServerNotice:
		return "ServerNotice"
	case SessionExpiring:
		return "SessionExpiring"
	default:
		return "Unknown"
	}
}

// LeaveReason qualifies a UserLeftRoom event.
type LeaveReason string

const (
	LeaveVoluntary LeaveReason = "left"
	LeaveKicked    LeaveReason = "kicked"
)

// Event is the envelope carried on the bus. Only the fields relevant to
// Kind are populated; each carries the entity snapshot at emission time
// so subscribers never need to re-query storage for common fields.
type Event struct {
	Kind Kind

	Message         *types.Message
	PreviousContent string // set on MessageEdited

	Room    *types.Room
	Members []types.UserID // snapshot of former members, set on RoomDeleted

	Membership *types.RoomMembership
	ActorID    types.UserID // user who joined/left (the kicked member on a kick) for UserJoinedRoom/UserLeftRoom; acting user for MemberRoleChanged/RoomUpdated/RoomDeleted
	LeaveReason LeaveReason

	User *types.User // subject of UserOnline/UserOffline

	TypingTarget types.MessageTarget
	TypingUser   types.UserID

	Invitation *types.Invitation

	NoticeText    string
	NoticeTargets []types.UserID // empty means broadcast to all

	ExpiringSessionID types.SessionID
	ExpiringUserID    types.UserID
}
