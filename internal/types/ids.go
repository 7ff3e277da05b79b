// Package types defines the identifier and value types shared by every
// other package in lair-chat: opaque IDs, usernames, timestamps and the
// small value objects that make up the domain model (§3 of the design).
package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// UserID is an opaque 128-bit identifier for a User.
type UserID uuid.UUID

// SessionID is an opaque 128-bit identifier for a Session.
type SessionID uuid.UUID

// RoomID is an opaque 128-bit identifier for a Room.
type RoomID uuid.UUID

// MessageID is an opaque 128-bit identifier for a Message.
type MessageID uuid.UUID

// InvitationID is an opaque 128-bit identifier for an Invitation.
type InvitationID uuid.UUID

// NewUserID, NewSessionID, ... mint fresh random (v4) identifiers.
func NewUserID() UserID             { return UserID(uuid.New()) }
func NewSessionID() SessionID       { return SessionID(uuid.New()) }
func NewRoomID() RoomID             { return RoomID(uuid.New()) }
func NewMessageID() MessageID       { return MessageID(uuid.New()) }
func NewInvitationID() InvitationID { return InvitationID(uuid.New()) }

// ZeroUserID etc. are the nil identifiers, used as sentinel "unset" values.
var (
	ZeroUserID       UserID
	ZeroSessionID    SessionID
	ZeroRoomID       RoomID
	ZeroMessageID    MessageID
	ZeroInvitationID InvitationID
)

func (id UserID) IsZero() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RoomID) IsZero() bool       { return uuid.UUID(id) == uuid.Nil }
func (id MessageID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id InvitationID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id SessionID) String() string    { return uuid.UUID(id).String() }
func (id RoomID) String() string       { return uuid.UUID(id).String() }
func (id MessageID) String() string    { return uuid.UUID(id).String() }
func (id InvitationID) String() string { return uuid.UUID(id).String() }

func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	return UserID(u), err
}

func ParseRoomID(s string) (RoomID, error) {
	u, err := uuid.Parse(s)
	return RoomID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	return SessionID(u), err
}

func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	return MessageID(u), err
}

func ParseInvitationID(s string) (InvitationID, error) {
	u, err := uuid.Parse(s)
	return InvitationID(u), err
}

// MarshalText/UnmarshalText make every ID type serialize as a plain UUID
// string in JSON, matching the wire protocol's expectation of opaque
// string identifiers (§3).
func (id UserID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id RoomID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id MessageID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id InvitationID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("types: invalid user id: %w", err)
	}
	*id = UserID(u)
	return nil
}

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("types: invalid session id: %w", err)
	}
	*id = SessionID(u)
	return nil
}

func (id *RoomID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("types: invalid room id: %w", err)
	}
	*id = RoomID(u)
	return nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("types: invalid message id: %w", err)
	}
	*id = MessageID(u)
	return nil
}

func (id *InvitationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("types: invalid invitation id: %w", err)
	}
	*id = InvitationID(u)
	return nil
}

// Value/Scan let repository adapters (§6's storage collaborator) store IDs
// directly as database driver values without a manual conversion at every
// call site.
func (id UserID) Value() (driver.Value, error) { return id.String(), nil }
func (id *UserID) Scan(src interface{}) error {
	s, ok := src.(string)
	if !ok {
		return fmt.Errorf("types: cannot scan %T into UserID", src)
	}
	return id.UnmarshalText([]byte(s))
}
