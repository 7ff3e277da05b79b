package engine

import (
	"context"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// UserConnected implements §4.4 user_connected: records a new active
// connection for the user and emits UserOnline only on the first
// connection (idempotent on additional connections). register, login, and
// the connection state machine's transition into Authenticated all route
// through this single entry point so presence bookkeeping lives in one
// place.
func (e *Engine) UserConnected(user *types.User) {
	if e.presence.incr(user.ID) {
		e.bus.Publish(bus.Event{Kind: bus.UserOnline, User: user})
	}
}

// UserDisconnected implements §4.4 user_disconnected: emits UserOffline
// only on the last disconnection for the user.
func (e *Engine) UserDisconnected(user *types.User) {
	if e.presence.decr(user.ID) {
		e.bus.Publish(bus.Event{Kind: bus.UserOffline, User: user})
	}
}

// IsOnline reports whether a user currently has at least one active
// connection.
func (e *Engine) IsOnline(userID types.UserID) bool {
	return e.presence.isOnline(userID)
}

// OnlineUserIDs implements §4.4 online_user_ids.
func (e *Engine) OnlineUserIDs() []types.UserID {
	return e.presence.onlineIDs()
}

// SendTyping implements §4.4 send_typing: rate-limited to at most one
// emission per (user, target) per 2s (§8 idempotence law).
func (e *Engine) SendTyping(ctx context.Context, session *types.Session, target types.MessageTarget) error {
	switch target.Kind {
	case types.TargetRoom:
		member, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.IsMember(ctx, target.RoomID, session.UserID) })
		if err != nil {
			return lcerr.Internal(err)
		}
		if !member {
			return lcerr.ForbiddenErr("not a member of this room")
		}
	case types.TargetDirect:
		if target.UserID == session.UserID {
			return lcerr.ValidationFailedErr("cannot send typing indicator to yourself")
		}
	default:
		return lcerr.ValidationFailedErr("invalid typing target")
	}

	if !e.typing.allow(session.UserID, target, e.now()) {
		return nil
	}
	e.bus.Publish(bus.Event{Kind: bus.UserTyping, TypingTarget: target, TypingUser: session.UserID})
	return nil
}
