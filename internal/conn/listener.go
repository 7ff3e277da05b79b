package conn

import (
	"context"

	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
	"github.com/berrym/lair-chat/internal/wire"
)

// Listener is the per-connection event listener of §4.7: it subscribes to
// the bus on authentication, filters by the visibility predicate using a
// cached view of the user's room memberships, and enriches/serializes
// events for delivery on the connection's outbound channel.
type Listener struct {
	userID   types.UserID
	username string
	repos    store.Repositories
	sub      *bus.Subscription
	deliver  func(payload []byte, droppable bool) bool
	log      *zap.Logger

	roomsValid bool
	rooms      bus.RoomSet

	usernames map[types.UserID]string
}

func NewListener(userID types.UserID, username string, repos store.Repositories, sub *bus.Subscription, deliver func([]byte, bool) bool, log *zap.Logger) *Listener {
	return &Listener{userID: userID, username: username, repos: repos, sub: sub, deliver: deliver, log: log}
}

// Run processes events until ctx is cancelled (the connection closes) or
// the subscription is closed.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.sub.Events():
			if !ok {
				return
			}
			l.handle(ctx, ev)
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev bus.Event) {
	if lag := l.sub.Lagged(); lag > 0 {
		l.log.Debug("event listener resynchronizing after lag",
			zap.String("user_id", l.userID.String()), zap.Uint64("dropped", lag))
	}

	if (ev.Kind == bus.UserJoinedRoom || ev.Kind == bus.UserLeftRoom) && ev.ActorID == l.userID {
		l.invalidate()
	}

	rooms, err := l.roomSet(ctx)
	if err != nil {
		l.log.Warn("event listener failed to load room memberships", zap.Error(err))
		return
	}
	if !bus.ShouldReceive(ev, l.userID, rooms) {
		return
	}

	msg := l.convert(ctx, ev)
	if msg == nil {
		return
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		l.log.Warn("event listener failed to encode message", zap.Error(err))
		return
	}
	l.deliver(payload, ev.Kind == bus.UserTyping)
}

func (l *Listener) invalidate() { l.roomsValid = false }

func (l *Listener) roomSet(ctx context.Context) (bus.RoomSet, error) {
	if l.roomsValid {
		return l.rooms, nil
	}
	memberships, err := l.repos.Memberships.ListForUser(ctx, l.userID)
	if err != nil {
		return nil, err
	}
	ids := make([]types.RoomID, len(memberships))
	for i, m := range memberships {
		ids[i] = m.RoomID
	}
	l.rooms = bus.NewRoomSet(ids...)
	l.roomsValid = true
	return l.rooms, nil
}

// authorUsername resolves a message author's username for wire enrichment
// (§4.7: "for MessageReceived, enrich with author username via a user
// lookup"), caching it for the lifetime of the listener since a user's
// username rarely changes and every room's message stream repeats authors.
func (l *Listener) authorUsername(ctx context.Context, id types.UserID) string {
	if l.usernames == nil {
		l.usernames = make(map[types.UserID]string)
	}
	if name, ok := l.usernames[id]; ok {
		return name
	}
	name := ""
	if user, err := l.repos.Users.FindByID(ctx, id); err == nil && user != nil {
		name = user.Username
	}
	l.usernames[id] = name
	return name
}

// convert maps a domain event to its wire server message, or nil if the
// event carries nothing to deliver.
func (l *Listener) convert(ctx context.Context, ev bus.Event) interface{} {
	switch ev.Kind {
	case bus.MessageReceived:
		w := wire.MessageToWire(ev.Message, l.authorUsername(ctx, ev.Message.Author))
		return wire.MessageReceived{Message: w}
	case bus.MessageEdited:
		w := wire.MessageToWire(ev.Message, l.authorUsername(ctx, ev.Message.Author))
		return wire.MessageEdited{Message: w, PreviousContent: ev.PreviousContent}
	case bus.MessageDeleted:
		return wire.MessageDeleted{MessageID: ev.Message.ID.String(), Target: wire.TargetToWire(ev.Message.Target)}
	case bus.UserJoinedRoom:
		return wire.UserJoinedRoom{Room: wire.RoomToWire(ev.Room), UserID: ev.ActorID.String()}
	case bus.UserLeftRoom:
		return wire.UserLeftRoom{Room: wire.RoomToWire(ev.Room), UserID: ev.ActorID.String(), Reason: string(ev.LeaveReason)}
	case bus.MemberRoleChanged:
		return wire.MemberRoleChanged{Room: wire.RoomToWire(ev.Room), UserID: ev.ActorID.String()}
	case bus.RoomUpdated:
		return wire.RoomUpdated{Room: wire.RoomToWire(ev.Room)}
	case bus.RoomDeleted:
		return wire.RoomDeleted{RoomID: ev.Room.ID.String()}
	case bus.UserOnline:
		return wire.UserOnline{UserID: ev.User.ID.String(), Username: ev.User.Username}
	case bus.UserOffline:
		return wire.UserOffline{UserID: ev.User.ID.String(), Username: ev.User.Username}
	case bus.UserTyping:
		return wire.UserTyping{Target: wire.TargetToWire(ev.TypingTarget), UserID: ev.TypingUser.String()}
	case bus.InvitationReceived:
		return wire.InvitationReceived{Invitation: wire.InvitationToWire(ev.Invitation)}
	case bus.InvitationCancelled:
		return wire.InvitationCancelled{InvitationID: ev.Invitation.ID.String()}
	case bus.ServerNotice:
		return wire.ServerNotice{Text: ev.NoticeText}
	case bus.SessionExpiring:
		return wire.ServerNotice{Text: "your session is expiring soon"}
	default:
		return nil
	}
}
