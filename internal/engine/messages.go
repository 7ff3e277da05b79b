package engine

import (
	"context"
	"strings"
	"time"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// SendMessage implements §4.4 send_message.
func (e *Engine) SendMessage(ctx context.Context, session *types.Session, target types.MessageTarget, content string) (*types.Message, error) {
	content = strings.TrimSpace(content)
	if len(content) < types.MinMessageLen || len(content) > types.MaxMessageLen {
		return nil, lcerr.ValidationFailedErr("message content must be 1-4000 characters")
	}

	switch target.Kind {
	case types.TargetRoom:
		member, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.IsMember(ctx, target.RoomID, session.UserID) })
		if err != nil {
			return nil, lcerr.Internal(err)
		}
		if !member {
			return nil, lcerr.ForbiddenErr("not a member of this room")
		}
	case types.TargetDirect:
		if target.UserID == session.UserID {
			return nil, lcerr.ValidationFailedErr("cannot direct-message yourself")
		}
		if recipient, err := e.repos.Users.FindByID(ctx, target.UserID); err != nil || recipient == nil {
			return nil, lcerr.NotFoundErr("recipient not found")
		}
	default:
		return nil, lcerr.ValidationFailedErr("invalid message target")
	}

	now := e.now()
	msg := &types.Message{
		ID:        types.NewMessageID(),
		Target:    target,
		Author:    session.UserID,
		Content:   content,
		CreatedAt: now,
	}
	created, err := store.Retry(ctx, func() (*types.Message, error) { return e.repos.Messages.Append(ctx, msg) })
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	e.bus.Publish(bus.Event{Kind: bus.MessageReceived, Message: created})
	return created, nil
}

// GetMessages implements §4.4 get_messages.
func (e *Engine) GetMessages(ctx context.Context, session *types.Session, target types.MessageTarget, p types.Pagination, before *time.Time) (types.Page[types.Message], error) {
	p = p.Clamp()

	switch target.Kind {
	case types.TargetRoom:
		member, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.IsMember(ctx, target.RoomID, session.UserID) })
		if err != nil {
			return types.Page[types.Message]{}, lcerr.Internal(err)
		}
		if !member {
			return types.Page[types.Message]{}, lcerr.ForbiddenErr("not a member of this room")
		}
		msgs, err := store.Retry(ctx, func() ([]types.Message, error) { return e.repos.Messages.ListByRoom(ctx, target.RoomID, p, before) })
		if err != nil {
			return types.Page[types.Message]{}, lcerr.Internal(err)
		}
		return pageOf(msgs, p), nil

	case types.TargetDirect:
		msgs, err := store.Retry(ctx, func() ([]types.Message, error) {
			return e.repos.Messages.ListDirectConversation(ctx, session.UserID, target.UserID, p, before)
		})
		if err != nil {
			return types.Page[types.Message]{}, lcerr.Internal(err)
		}
		return pageOf(msgs, p), nil

	default:
		return types.Page[types.Message]{}, lcerr.ValidationFailedErr("invalid message target")
	}
}

func pageOf(msgs []types.Message, p types.Pagination) types.Page[types.Message] {
	return types.Page[types.Message]{Items: msgs, HasMore: len(msgs) == p.Limit}
}

// EditMessage implements §4.4 edit_message.
func (e *Engine) EditMessage(ctx context.Context, session *types.Session, messageID types.MessageID, content string) (*types.Message, error) {
	content = strings.TrimSpace(content)
	if len(content) < types.MinMessageLen || len(content) > types.MaxMessageLen {
		return nil, lcerr.ValidationFailedErr("message content must be 1-4000 characters")
	}

	msg, err := e.repos.Messages.Get(ctx, messageID)
	if err != nil || msg == nil {
		return nil, lcerr.NotFoundErr("message not found")
	}
	if !msg.Live() {
		return nil, lcerr.InvalidStateErr("message has been deleted")
	}
	if msg.Author != session.UserID {
		return nil, lcerr.ForbiddenErr("only the author may edit this message")
	}

	previous := msg.Content
	now := e.now()
	msg.Content = content
	msg.EditedAt = &now
	if err := store.WithRetry(ctx, func() error { return e.repos.Messages.Update(ctx, msg) }); err != nil {
		return nil, lcerr.Internal(err)
	}
	e.bus.Publish(bus.Event{Kind: bus.MessageEdited, Message: msg, PreviousContent: previous})
	return msg, nil
}

// DeleteMessage implements §4.4 delete_message.
func (e *Engine) DeleteMessage(ctx context.Context, session *types.Session, messageID types.MessageID) error {
	msg, err := e.repos.Messages.Get(ctx, messageID)
	if err != nil || msg == nil {
		return lcerr.NotFoundErr("message not found")
	}
	if !msg.Live() {
		return lcerr.InvalidStateErr("message already deleted")
	}

	if msg.Author != session.UserID {
		if msg.Target.Kind != types.TargetRoom {
			return lcerr.ForbiddenErr("only the author may delete this message")
		}
		membership, err := e.repos.Memberships.Get(ctx, msg.Target.RoomID, session.UserID)
		if err != nil || membership == nil || !membership.Role.AtLeast(types.RoleModerator) {
			return lcerr.ForbiddenErr("only the author or a room moderator may delete this message")
		}
	}

	now := e.now()
	if err := store.WithRetry(ctx, func() error { return e.repos.Messages.MarkDeleted(ctx, messageID, now) }); err != nil {
		return lcerr.Internal(err)
	}
	msg.DeletedAt = &now
	e.bus.Publish(bus.Event{Kind: bus.MessageDeleted, Message: msg})
	return nil
}
