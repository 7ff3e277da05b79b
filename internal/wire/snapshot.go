package wire

import (
	"time"

	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/types"
)

// TargetWire is the wire representation of types.MessageTarget.
type TargetWire struct {
	Kind   string `json:"kind"`
	RoomID string `json:"room_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

func TargetToWire(t types.MessageTarget) TargetWire {
	switch t.Kind {
	case types.TargetRoom:
		return TargetWire{Kind: "room", RoomID: t.RoomID.String()}
	case types.TargetDirect:
		return TargetWire{Kind: "direct", UserID: t.UserID.String()}
	default:
		return TargetWire{}
	}
}

func TargetFromWire(w TargetWire) (types.MessageTarget, error) {
	switch w.Kind {
	case "room":
		id, err := types.ParseRoomID(w.RoomID)
		if err != nil {
			return types.MessageTarget{}, lcerr.ValidationFailedErr("invalid room_id")
		}
		return types.RoomTarget(id), nil
	case "direct":
		id, err := types.ParseUserID(w.UserID)
		if err != nil {
			return types.MessageTarget{}, lcerr.ValidationFailedErr("invalid user_id")
		}
		return types.DirectTarget(id), nil
	default:
		return types.MessageTarget{}, lcerr.ValidationFailedErr("invalid target kind")
	}
}

// UserWire is the public snapshot of a user sent over the wire (never
// includes PasswordHash).
type UserWire struct {
	ID        string                 `json:"id"`
	Username  string                 `json:"username"`
	Public    map[string]interface{} `json:"public,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func UserToWire(u *types.User) UserWire {
	return UserWire{ID: u.ID.String(), Username: u.Username, Public: u.Public, CreatedAt: u.CreatedAt}
}

type SessionWire struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func SessionToWire(s *types.Session) SessionWire {
	return SessionWire{ID: s.ID.String(), UserID: s.UserID.String(), CreatedAt: s.CreatedAt}
}

type RoomSettingsWire struct {
	IsPublic     bool `json:"is_public"`
	AllowInvites bool `json:"allow_invites"`
	MaxMembers   int  `json:"max_members,omitempty"`
}

func RoomSettingsToWire(s types.RoomSettings) RoomSettingsWire {
	return RoomSettingsWire{IsPublic: s.IsPublic, AllowInvites: s.AllowInvites, MaxMembers: s.MaxMembers}
}

func RoomSettingsFromWire(w RoomSettingsWire) types.RoomSettings {
	return types.RoomSettings{IsPublic: w.IsPublic, AllowInvites: w.AllowInvites, MaxMembers: w.MaxMembers}
}

type RoomWire struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	CreatedBy   string           `json:"created_by"`
	Settings    RoomSettingsWire `json:"settings"`
	CreatedAt   time.Time        `json:"created_at"`
}

func RoomToWire(r *types.Room) RoomWire {
	return RoomWire{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		CreatedBy:   r.CreatedBy.String(),
		Settings:    RoomSettingsToWire(r.Settings),
		CreatedAt:   r.CreatedAt,
	}
}

type MembershipWire struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func MembershipToWire(m *types.RoomMembership) MembershipWire {
	return MembershipWire{
		RoomID:   m.RoomID.String(),
		UserID:   m.UserID.String(),
		Role:     m.Role.String(),
		JoinedAt: m.JoinedAt,
	}
}

type MessageWire struct {
	ID             string     `json:"id"`
	Target         TargetWire `json:"target"`
	Author         string     `json:"author"`
	AuthorUsername string     `json:"author_username,omitempty"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
}

// MessageToWire builds the wire snapshot of m. authorUsername is resolved by
// the caller via a user lookup (§4.7: MessageReceived is enriched with the
// author's username so subscribers don't have to re-query for it).
func MessageToWire(m *types.Message, authorUsername string) MessageWire {
	return MessageWire{
		ID:             m.ID.String(),
		Target:         TargetToWire(m.Target),
		Author:         m.Author.String(),
		AuthorUsername: authorUsername,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
}

type InvitationWire struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Inviter   string    `json:"inviter"`
	Invitee   string    `json:"invitee"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func InvitationToWire(i *types.Invitation) InvitationWire {
	return InvitationWire{
		ID:        i.ID.String(),
		RoomID:    i.RoomID.String(),
		Inviter:   i.Inviter.String(),
		Invitee:   i.Invitee.String(),
		State:     i.State.String(),
		CreatedAt: i.CreatedAt,
	}
}
