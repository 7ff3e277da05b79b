package wire

import (
	"encoding/json"

	"github.com/berrym/lair-chat/internal/lcerr"
)

// Decode inspects raw's `type` field and unmarshals raw into the matching
// concrete client message struct, returned as interface{}. Callers type-
// switch on the result. Unknown types yield validation_failed.
func Decode(raw []byte) (interface{}, error) {
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}

	var msg interface{}
	switch typ {
	case TypeClientHello:
		msg = &ClientHello{}
	case TypeKeyExchange:
		msg = &KeyExchange{}
	case TypeAuthenticate:
		msg = &Authenticate{}
	case TypeLogin:
		msg = &Login{}
	case TypeRegister:
		msg = &Register{}
	case TypeLogout:
		msg = &Logout{}
	case TypePing:
		msg = &Ping{}
	case TypeSendMessage:
		msg = &SendMessage{}
	case TypeEditMessage:
		msg = &EditMessage{}
	case TypeDeleteMessage:
		msg = &DeleteMessage{}
	case TypeGetMessages:
		msg = &GetMessages{}
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeListRooms:
		msg = &ListRooms{}
	case TypeGetRoom:
		msg = &GetRoom{}
	case TypeGetRoomMembers:
		msg = &GetRoomMembers{}
	case TypeSetMemberRole:
		msg = &SetMemberRole{}
	case TypeKickMember:
		msg = &KickMember{}
	case TypeUpdateRoom:
		msg = &UpdateRoom{}
	case TypeDeleteRoom:
		msg = &DeleteRoom{}
	case TypeInviteToRoom:
		msg = &InviteToRoom{}
	case TypeListInvitations:
		msg = &ListInvitations{}
	case TypeAcceptInvitation:
		msg = &AcceptInvitation{}
	case TypeDeclineInvitation:
		msg = &DeclineInvitation{}
	case TypeCancelInvitation:
		msg = &CancelInvitation{}
	case TypeGetCurrentUser:
		msg = &GetCurrentUser{}
	case TypeGetUser:
		msg = &GetUser{}
	case TypeListUsers:
		msg = &ListUsers{}
	case TypeTyping:
		msg = &Typing{}
	default:
		return nil, lcerr.New(lcerr.ValidationFailed, "unknown message type: "+typ)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, lcerr.New(lcerr.ValidationFailed, "malformed message body")
	}
	return msg, nil
}

// Encode marshals any server message to its wire JSON form.
func Encode(msg interface{}) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	return b, nil
}
