package engine

import (
	"context"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// InviteToRoom implements §4.4 invite_to_room.
func (e *Engine) InviteToRoom(ctx context.Context, session *types.Session, roomID types.RoomID, invitee types.UserID) (*types.Invitation, error) {
	room, err := e.repos.Rooms.Get(ctx, roomID)
	if err != nil || room == nil {
		return nil, lcerr.NotFoundErr("room not found")
	}

	inviter, err := e.repos.Memberships.Get(ctx, roomID, session.UserID)
	if err != nil || inviter == nil {
		return nil, lcerr.ForbiddenErr("must be a member of the room to invite others")
	}
	if inviter.Role == types.RoleMember && !room.Settings.AllowInvites {
		return nil, lcerr.ForbiddenErr("members may not invite to this room")
	}

	if invited, err := e.repos.Users.FindByID(ctx, invitee); err != nil || invited == nil {
		return nil, lcerr.NotFoundErr("invitee not found")
	}
	if member, err := store.Retry(ctx, func() (bool, error) { return e.repos.Memberships.IsMember(ctx, roomID, invitee) }); err != nil {
		return nil, lcerr.Internal(err)
	} else if member {
		return nil, lcerr.ConflictErr("user is already a member of this room")
	}
	if existing, err := store.Retry(ctx, func() (*types.Invitation, error) { return e.repos.Invitations.FindPending(ctx, roomID, invitee) }); err != nil {
		return nil, lcerr.Internal(err)
	} else if existing != nil {
		return nil, lcerr.ConflictErr("user already has a pending invitation to this room")
	}

	now := e.now()
	inv := &types.Invitation{
		ID:        types.NewInvitationID(),
		RoomID:    roomID,
		Inviter:   session.UserID,
		Invitee:   invitee,
		State:     types.InvitationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := store.Retry(ctx, func() (*types.Invitation, error) { return e.repos.Invitations.Create(ctx, inv) })
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	e.bus.Publish(bus.Event{Kind: bus.InvitationReceived, Invitation: created})
	return created, nil
}

// ListInvitations implements §4.4 list_invitations.
func (e *Engine) ListInvitations(ctx context.Context, session *types.Session) ([]types.Invitation, error) {
	invs, err := store.Retry(ctx, func() ([]types.Invitation, error) { return e.repos.Invitations.ListPendingForUser(ctx, session.UserID) })
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	return invs, nil
}

// AcceptInvitation implements §4.4 accept_invitation.
func (e *Engine) AcceptInvitation(ctx context.Context, session *types.Session, invitationID types.InvitationID) (*types.RoomMembership, error) {
	inv, err := e.repos.Invitations.Get(ctx, invitationID)
	if err != nil || inv == nil {
		return nil, lcerr.NotFoundErr("invitation not found")
	}
	if inv.Invitee != session.UserID {
		return nil, lcerr.ForbiddenErr("invitation does not target this user")
	}
	if inv.State != types.InvitationPending {
		return nil, lcerr.ConflictErr("invitation is no longer pending")
	}

	membership := types.RoomMembership{
		RoomID:   inv.RoomID,
		UserID:   session.UserID,
		Role:     types.RoleMember,
		JoinedAt: e.now(),
	}
	created, err := store.Retry(ctx, func() (*types.RoomMembership, error) {
		return e.repos.Invitations.AcceptAtomically(ctx, invitationID, membership)
	})
	if err != nil {
		return nil, err
	}

	room, err := e.repos.Rooms.Get(ctx, inv.RoomID)
	if err == nil && room != nil {
		e.bus.Publish(bus.Event{Kind: bus.UserJoinedRoom, Room: room, ActorID: session.UserID})
	}
	return created, nil
}

// DeclineInvitation implements §4.4 decline_invitation.
func (e *Engine) DeclineInvitation(ctx context.Context, session *types.Session, invitationID types.InvitationID) error {
	inv, err := e.repos.Invitations.Get(ctx, invitationID)
	if err != nil || inv == nil {
		return lcerr.NotFoundErr("invitation not found")
	}
	if inv.Invitee != session.UserID {
		return lcerr.ForbiddenErr("invitation does not target this user")
	}
	if inv.State != types.InvitationPending {
		return lcerr.ConflictErr("invitation is no longer pending")
	}
	if err := store.WithRetry(ctx, func() error { return e.repos.Invitations.UpdateState(ctx, invitationID, types.InvitationDeclined) }); err != nil {
		return lcerr.Internal(err)
	}
	return nil
}

// CancelInvitation implements §4.4 cancel_invitation.
func (e *Engine) CancelInvitation(ctx context.Context, session *types.Session, invitationID types.InvitationID) error {
	inv, err := e.repos.Invitations.Get(ctx, invitationID)
	if err != nil || inv == nil {
		return lcerr.NotFoundErr("invitation not found")
	}
	if inv.State != types.InvitationPending {
		return lcerr.ConflictErr("invitation is no longer pending")
	}

	if inv.Inviter != session.UserID {
		membership, err := e.repos.Memberships.Get(ctx, inv.RoomID, session.UserID)
		if err != nil || membership == nil || !membership.Role.AtLeast(types.RoleModerator) {
			return lcerr.ForbiddenErr("only the inviter or a room owner/moderator may cancel this invitation")
		}
	}

	if err := store.WithRetry(ctx, func() error { return e.repos.Invitations.UpdateState(ctx, invitationID, types.InvitationCancelled) }); err != nil {
		return lcerr.Internal(err)
	}
	e.bus.Publish(bus.Event{Kind: bus.InvitationCancelled, Invitation: inv})
	return nil
}
