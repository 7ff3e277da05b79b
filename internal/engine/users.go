package engine

import (
	"context"

	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// GetUser implements §4.4 get_user.
func (e *Engine) GetUser(ctx context.Context, userID types.UserID) (*types.User, error) {
	user, err := e.repos.Users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return nil, lcerr.NotFoundErr("user not found")
	}
	return user, nil
}

// ListUsers implements §4.4 list_users.
func (e *Engine) ListUsers(ctx context.Context, p types.Pagination) (types.Page[types.User], error) {
	p = p.Clamp()
	users, err := store.Retry(ctx, func() ([]types.User, error) { return e.repos.Users.List(ctx, p) })
	if err != nil {
		return types.Page[types.User]{}, lcerr.Internal(err)
	}
	return types.Page[types.User]{Items: users, HasMore: len(users) == p.Limit}, nil
}
