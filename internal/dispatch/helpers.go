package dispatch

import (
	"context"
	"time"

	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/types"
	"github.com/berrym/lair-chat/internal/wire"
)

// authorUsername resolves a message author's username for wire enrichment
// (§4.7). A failed lookup degrades to an empty field rather than failing
// the whole response: the id is still present and authoritative.
func (d *Dispatcher) authorUsername(ctx context.Context, id types.UserID) string {
	user, err := d.engine.GetUser(ctx, id)
	if err != nil || user == nil {
		return ""
	}
	return user.Username
}

func resp(response interface{}, err error) Result {
	return Result{Response: response, Err: err}
}

func unauthorized(reqID, typ string) Result {
	err := lcerr.UnauthorizedErr("authentication required")
	return Result{Response: wire.Fail(reqID, typ, err), Err: err}
}

func badID(reqID, typ string) Result {
	err := lcerr.ValidationFailedErr("malformed identifier")
	return Result{Response: wire.Fail(reqID, typ, err), Err: err}
}

func parseBefore(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, lcerr.ValidationFailedErr("before must be an RFC3339 timestamp")
	}
	return &t, nil
}

func parseRole(s string) (types.Role, bool) {
	switch s {
	case "owner":
		return types.RoleOwner, true
	case "moderator":
		return types.RoleModerator, true
	case "member":
		return types.RoleMember, true
	default:
		return types.RoleNone, false
	}
}
