// Package store declares the repository contracts that the engine (§4.4)
// consumes from the external storage collaborator (§6). The core never
// imports a concrete database driver; it only calls these interfaces.
// internal/store/memstore provides an in-memory reference implementation
// used by tests and by the server's demo/standalone mode.
package store

import (
	"context"
	"time"

	"github.com/berrym/lair-chat/internal/types"
)

// UserRepository is the storage contract for users (§4.1).
type UserRepository interface {
	Create(ctx context.Context, u *types.User) (*types.User, error)
	FindByID(ctx context.Context, id types.UserID) (*types.User, error)
	FindByUsernameCI(ctx context.Context, username string) (*types.User, error)
	FindByEmailCI(ctx context.Context, email string) (*types.User, error)
	Update(ctx context.Context, u *types.User) error
	List(ctx context.Context, p types.Pagination) ([]types.User, error)
	Search(ctx context.Context, prefix string, p types.Pagination) ([]types.User, error)
}

// RoomRepository is the storage contract for rooms (§4.1).
type RoomRepository interface {
	Create(ctx context.Context, r *types.Room) (*types.Room, error)
	Get(ctx context.Context, id types.RoomID) (*types.Room, error)
	Update(ctx context.Context, r *types.Room) error
	Delete(ctx context.Context, id types.RoomID) error
	ListPublic(ctx context.Context, p types.Pagination) ([]types.Room, error)
	ListForUser(ctx context.Context, userID types.UserID, p types.Pagination) ([]types.Room, error)
}

// MembershipRepository is the storage contract for room memberships (§4.1).
type MembershipRepository interface {
	Add(ctx context.Context, m types.RoomMembership) (added bool, err error)
	Remove(ctx context.Context, roomID types.RoomID, userID types.UserID) (removed bool, err error)
	SetRole(ctx context.Context, roomID types.RoomID, userID types.UserID, role types.Role) error
	IsMember(ctx context.Context, roomID types.RoomID, userID types.UserID) (bool, error)
	Get(ctx context.Context, roomID types.RoomID, userID types.UserID) (*types.RoomMembership, error)
	ListMembers(ctx context.Context, roomID types.RoomID, p types.Pagination) ([]types.RoomMembership, error)
	CountMembers(ctx context.Context, roomID types.RoomID) (int, error)
	ListForUser(ctx context.Context, userID types.UserID) ([]types.RoomMembership, error)
}

// MessageRepository is the storage contract for messages (§4.1).
type MessageRepository interface {
	Append(ctx context.Context, m *types.Message) (*types.Message, error)
	Get(ctx context.Context, id types.MessageID) (*types.Message, error)
	Update(ctx context.Context, m *types.Message) error
	MarkDeleted(ctx context.Context, id types.MessageID, now time.Time) error
	ListByRoom(ctx context.Context, roomID types.RoomID, p types.Pagination, before *time.Time) ([]types.Message, error)
	ListDirectConversation(ctx context.Context, a, b types.UserID, p types.Pagination, before *time.Time) ([]types.Message, error)
}

// InvitationRepository is the storage contract for invitations (§4.1).
type InvitationRepository interface {
	Create(ctx context.Context, inv *types.Invitation) (*types.Invitation, error)
	Get(ctx context.Context, id types.InvitationID) (*types.Invitation, error)
	FindPending(ctx context.Context, roomID types.RoomID, invitee types.UserID) (*types.Invitation, error)
	ListPendingForUser(ctx context.Context, userID types.UserID) ([]types.Invitation, error)
	UpdateState(ctx context.Context, id types.InvitationID, state types.InvitationState) error
	// AcceptAtomically transitions the invitation to Accepted and adds the
	// membership within a single atomic unit, per §6's requirement that
	// accept_invitation = add_membership + update_invitation be atomic.
	AcceptAtomically(ctx context.Context, invitationID types.InvitationID, membership types.RoomMembership) (*types.RoomMembership, error)
}

// SessionRepository is the storage contract for sessions (§4.1).
type SessionRepository interface {
	Create(ctx context.Context, s *types.Session) (*types.Session, error)
	GetByID(ctx context.Context, id types.SessionID) (*types.Session, error)
	TouchActivity(ctx context.Context, id types.SessionID, now time.Time) error
	Delete(ctx context.Context, id types.SessionID) error
	ListForUser(ctx context.Context, userID types.UserID) ([]types.Session, error)
}

// Repositories bundles every repository contract the engine depends on,
// mirroring the teacher's single `store` package handle passed around the
// hub/topic/session machinery.
type Repositories struct {
	Users        UserRepository
	Rooms        RoomRepository
	Memberships  MembershipRepository
	Messages     MessageRepository
	Invitations  InvitationRepository
	Sessions     SessionRepository
}
