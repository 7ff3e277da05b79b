package engine

import (
	"context"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// RoomPatch carries the optional fields update_room may change; nil means
// leave unchanged.
type RoomPatch struct {
	Name         *string
	Description  *string
	IsPublic     *bool
	AllowInvites *bool
	MaxMembers   *int
}

// CreateRoom implements §4.4 create_room.
func (e *Engine) CreateRoom(ctx context.Context, session *types.Session, name, description string, settings types.RoomSettings) (*types.Room, error) {
	if name == "" || len(name) > 128 {
		return nil, lcerr.ValidationFailedErr("room name must be 1-128 characters")
	}

	now := e.now()
	room := &types.Room{
		ID:          types.NewRoomID(),
		Name:        name,
		Description: description,
		CreatedBy:   session.UserID,
		Settings:    settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := store.Retry(ctx, func() (*types.Room, error) { return e.repos.Rooms.Create(ctx, room) })
	if err != nil {
		return nil, lcerr.Internal(err)
	}

	membership := types.RoomMembership{
		RoomID:   created.ID,
		UserID:   session.UserID,
		Role:     types.RoleOwner,
		JoinedAt: now,
	}
	if _, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.Add(ctx, membership) }); err != nil {
		return nil, lcerr.Internal(err)
	}

	e.bus.Publish(bus.Event{Kind: bus.UserJoinedRoom, Room: created, ActorID: session.UserID})
	return created, nil
}

// JoinRoom implements §4.4 join_room: idempotent on an existing
// membership, emitting no event on the idempotent path (§8 round-trip
// law).
func (e *Engine) JoinRoom(ctx context.Context, session *types.Session, roomID types.RoomID) (*types.RoomMembership, error) {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil || room.Deleted {
		return nil, lcerr.NotFoundErr("room not found")
	}

	if existing, err := e.repos.Memberships.Get(ctx, roomID, session.UserID); err == nil && existing != nil {
		return existing, nil
	}

	if !room.Settings.IsPublic {
		return nil, lcerr.ForbiddenErr("room requires an accepted invitation to join")
	}

	membership := types.RoomMembership{
		RoomID:   roomID,
		UserID:   session.UserID,
		Role:     types.RoleMember,
		JoinedAt: e.now(),
	}
	added, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.Add(ctx, membership) })
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	if !added {
		existing, err := store.Retry(ctx, func() (*types.RoomMembership, error) { return e.repos.Memberships.Get(ctx, roomID, session.UserID) })
		if err != nil {
			return nil, lcerr.Internal(err)
		}
		return existing, nil
	}

	e.bus.Publish(bus.Event{Kind: bus.UserJoinedRoom, Room: room, ActorID: session.UserID})
	return &membership, nil
}

// LeaveRoom implements §4.4 leave_room.
func (e *Engine) LeaveRoom(ctx context.Context, session *types.Session, roomID types.RoomID) error {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil {
		return lcerr.NotFoundErr("room not found")
	}
	membership, err := e.repos.Memberships.Get(ctx, roomID, session.UserID)
	if err != nil || membership == nil {
		return lcerr.NotFoundErr("not a member of this room")
	}

	if membership.Role == types.RoleOwner {
		if sole, err := e.isSoleOwner(ctx, roomID, session.UserID); err != nil {
			return err
		} else if sole {
			return lcerr.ForbiddenErr("cannot leave as sole owner")
		}
	}

	removed, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.Remove(ctx, roomID, session.UserID) })
	if err != nil {
		return lcerr.Internal(err)
	}
	if !removed {
		return lcerr.NotFoundErr("not a member of this room")
	}

	e.bus.Publish(bus.Event{Kind: bus.UserLeftRoom, Room: room, ActorID: session.UserID, LeaveReason: bus.LeaveVoluntary})
	return nil
}

func (e *Engine) isSoleOwner(ctx context.Context, roomID types.RoomID, userID types.UserID) (bool, error) {
	members, err := store.Retry(ctx, func() ([]types.RoomMembership, error) {
		return e.repos.Memberships.ListMembers(ctx, roomID, types.Pagination{Limit: types.MaxPageSize})
	})
	if err != nil {
		return false, lcerr.Internal(err)
	}
	owners := 0
	for _, m := range members {
		if m.Role == types.RoleOwner {
			owners++
		}
	}
	return owners <= 1, nil
}

// ListPublicRooms implements §4.4 list_public_rooms.
func (e *Engine) ListPublicRooms(ctx context.Context, p types.Pagination) (types.Page[types.Room], error) {
	p = p.Clamp()
	rooms, err := store.Retry(ctx, func() ([]types.Room, error) { return e.repos.Rooms.ListPublic(ctx, p) })
	if err != nil {
		return types.Page[types.Room]{}, lcerr.Internal(err)
	}
	return types.Page[types.Room]{Items: rooms, HasMore: len(rooms) == p.Limit}, nil
}

// ListUserRooms implements §4.4 list_user_rooms.
func (e *Engine) ListUserRooms(ctx context.Context, session *types.Session, p types.Pagination) (types.Page[types.Room], error) {
	p = p.Clamp()
	rooms, err := store.Retry(ctx, func() ([]types.Room, error) { return e.repos.Rooms.ListForUser(ctx, session.UserID, p) })
	if err != nil {
		return types.Page[types.Room]{}, lcerr.Internal(err)
	}
	return types.Page[types.Room]{Items: rooms, HasMore: len(rooms) == p.Limit}, nil
}

// GetRoom implements §4.4 get_room.
func (e *Engine) GetRoom(ctx context.Context, roomID types.RoomID) (*types.Room, error) {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil || room.Deleted {
		return nil, lcerr.NotFoundErr("room not found")
	}
	return room, nil
}

// GetRoomMembers implements §4.4 get_room_members.
func (e *Engine) GetRoomMembers(ctx context.Context, roomID types.RoomID, p types.Pagination) (types.Page[types.RoomMembership], error) {
	p = p.Clamp()
	members, err := store.Retry(ctx, func() ([]types.RoomMembership, error) { return e.repos.Memberships.ListMembers(ctx, roomID, p) })
	if err != nil {
		return types.Page[types.RoomMembership]{}, lcerr.Internal(err)
	}
	return types.Page[types.RoomMembership]{Items: members, HasMore: len(members) == p.Limit}, nil
}

// SetMemberRole implements §4.4 set_member_role: requires Owner, and
// prevents demoting the last Owner.
func (e *Engine) SetMemberRole(ctx context.Context, session *types.Session, roomID types.RoomID, target types.UserID, newRole types.Role) error {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil {
		return lcerr.NotFoundErr("room not found")
	}
	actor, err := e.repos.Memberships.Get(ctx, roomID, session.UserID)
	if err != nil || actor == nil || actor.Role != types.RoleOwner {
		return lcerr.ForbiddenErr("only the room owner may change roles")
	}

	targetMembership, err := e.repos.Memberships.Get(ctx, roomID, target)
	if err != nil || targetMembership == nil {
		return lcerr.NotFoundErr("user is not a member of this room")
	}

	if targetMembership.Role == types.RoleOwner && newRole != types.RoleOwner {
		if sole, err := e.isSoleOwner(ctx, roomID, target); err != nil {
			return err
		} else if sole {
			return lcerr.ForbiddenErr("cannot demote the last owner")
		}
	}

	if err := store.WithRetry(ctx, func() error { return e.repos.Memberships.SetRole(ctx, roomID, target, newRole) }); err != nil {
		return lcerr.Internal(err)
	}
	e.bus.Publish(bus.Event{Kind: bus.MemberRoleChanged, Room: room, ActorID: session.UserID})
	return nil
}

// KickMember implements §4.4 kick_member: requires Owner or Moderator;
// cannot kick an Owner.
func (e *Engine) KickMember(ctx context.Context, session *types.Session, roomID types.RoomID, target types.UserID) error {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil {
		return lcerr.NotFoundErr("room not found")
	}
	actor, err := e.repos.Memberships.Get(ctx, roomID, session.UserID)
	if err != nil || actor == nil || !actor.Role.AtLeast(types.RoleModerator) {
		return lcerr.ForbiddenErr("only an owner or moderator may remove members")
	}

	targetMembership, err := e.repos.Memberships.Get(ctx, roomID, target)
	if err != nil || targetMembership == nil {
		return lcerr.NotFoundErr("user is not a member of this room")
	}
	if targetMembership.Role == types.RoleOwner {
		return lcerr.ForbiddenErr("cannot kick the room owner")
	}

	removed, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.Remove(ctx, roomID, target) })
	if err != nil {
		return lcerr.Internal(err)
	}
	if !removed {
		return lcerr.NotFoundErr("user is not a member of this room")
	}

	e.bus.Publish(bus.Event{Kind: bus.UserLeftRoom, Room: room, ActorID: target, LeaveReason: bus.LeaveKicked})
	return nil
}

// UpdateRoom implements §4.4 update_room: requires Owner.
func (e *Engine) UpdateRoom(ctx context.Context, session *types.Session, roomID types.RoomID, patch RoomPatch) (*types.Room, error) {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil {
		return nil, lcerr.NotFoundErr("room not found")
	}
	actor, err := e.repos.Memberships.Get(ctx, roomID, session.UserID)
	if err != nil || actor == nil || actor.Role != types.RoleOwner {
		return nil, lcerr.ForbiddenErr("only the room owner may update room settings")
	}

	if patch.Name != nil {
		if *patch.Name == "" || len(*patch.Name) > 128 {
			return nil, lcerr.ValidationFailedErr("room name must be 1-128 characters")
		}
		room.Name = *patch.Name
	}
	if patch.Description != nil {
		room.Description = *patch.Description
	}
	if patch.IsPublic != nil {
		room.Settings.IsPublic = *patch.IsPublic
	}
	if patch.AllowInvites != nil {
		room.Settings.AllowInvites = *patch.AllowInvites
	}
	if patch.MaxMembers != nil {
		room.Settings.MaxMembers = *patch.MaxMembers
	}
	room.UpdatedAt = e.now()

	if err := store.WithRetry(ctx, func() error { return e.repos.Rooms.Update(ctx, room) }); err != nil {
		return nil, lcerr.Internal(err)
	}
	e.bus.Publish(bus.Event{Kind: bus.RoomUpdated, Room: room, ActorID: session.UserID})
	return room, nil
}

// DeleteRoom implements §4.4 delete_room: requires Owner, cascades by
// removing memberships and soft-archiving the room (existing messages are
// kept; future sends against this target will fail membership checks
// once no memberships remain).
func (e *Engine) DeleteRoom(ctx context.Context, session *types.Session, roomID types.RoomID) error {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil {
		return lcerr.NotFoundErr("room not found")
	}
	actor, err := e.repos.Memberships.Get(ctx, roomID, session.UserID)
	if err != nil || actor == nil || actor.Role != types.RoleOwner {
		return lcerr.ForbiddenErr("only the room owner may delete the room")
	}

	members, err := store.Retry(ctx, func() ([]types.RoomMembership, error) {
		return e.repos.Memberships.ListMembers(ctx, roomID, types.Pagination{Limit: types.MaxPageSize})
	})
	if err != nil {
		return lcerr.Internal(err)
	}
	formerMembers := make([]types.UserID, 0, len(members))
	for _, m := range members {
		formerMembers = append(formerMembers, m.UserID)
		if _, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.Remove(ctx, roomID, m.UserID) }); err != nil {
			return lcerr.Internal(err)
		}
	}

	if err := store.WithRetry(ctx, func() error { return e.repos.Rooms.Delete(ctx, roomID) }); err != nil {
		return lcerr.Internal(err)
	}

	room.Deleted = true
	e.bus.Publish(bus.Event{Kind: bus.RoomDeleted, Room: room, Members: formerMembers, ActorID: session.UserID})
	return nil
}
