package bus

import "github.com/berrym/lair-chat/internal/types"

// RoomSet is the set of room ids a user currently belongs to, as consulted
// by ShouldReceive. Callers (the per-connection event listener, C9) are
// expected to cache this with invalidation on UserJoinedRoom/UserLeftRoom
// for the subscribing user.
type RoomSet map[types.RoomID]struct{}

func NewRoomSet(ids ...types.RoomID) RoomSet {
	s := make(RoomSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s RoomSet) Has(id types.RoomID) bool {
	_, ok := s[id]
	return ok
}

// ShouldReceive implements the §4.3 visibility predicate table.
func ShouldReceive(ev Event, user types.UserID, userRooms RoomSet) bool {
	switch ev.Kind {
	case MessageReceived, MessageEdited, MessageDeleted:
		if ev.Message == nil {
			return false
		}
		switch ev.Message.Target.Kind {
		case types.TargetRoom:
			return userRooms.Has(ev.Message.Target.RoomID)
		case types.TargetDirect:
			return ev.Message.Author == user || ev.Message.Target.UserID == user
		}
		return false

	case UserJoinedRoom, UserLeftRoom, MemberRoleChanged, RoomUpdated:
		if ev.Room == nil {
			return false
		}
		return userRooms.Has(ev.Room.ID)

	case RoomDeleted:
		for _, m := range ev.Members {
			if m == user {
				return true
			}
		}
		return false

	case UserOnline, UserOffline:
		return true

	case UserTyping:
		switch ev.TypingTarget.Kind {
		case types.TargetRoom:
			return userRooms.Has(ev.TypingTarget.RoomID)
		case types.TargetDirect:
			return ev.TypingUser == user || ev.TypingTarget.UserID == user
		}
		return false

	case InvitationReceived:
		return ev.Invitation != nil && ev.Invitation.Invitee == user

	case ServerNotice:
		if len(ev.NoticeTargets) == 0 {
			return true
		}
		for _, t := range ev.NoticeTargets {
			if t == user {
				return true
			}
		}
		return false

	case InvitationCancelled:
		return ev.Invitation != nil && ev.Invitation.Invitee == user

	case SessionExpiring:
		return ev.ExpiringUserID == user

	default:
		return false
	}
}
