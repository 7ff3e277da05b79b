// Package ratelimit implements the per-session operation throttles of §5:
// auth attempts, message sends, room creation, and typing indicators.
package ratelimit

import (
	"context"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/berrym/lair-chat/internal/lcerr"
)

// Category names the operation class being throttled.
type Category string

const (
	Auth         Category = "auth"
	Message      Category = "message"
	RoomCreation Category = "room_creation"
	Typing       Category = "typing"
)

// Limits is the rate table of §5, expressed as limiter.Rate values.
var Limits = map[Category]limiter.Rate{
	Auth:         {Period: limiter.Minute, Limit: 5},
	Message:      {Period: limiter.Minute, Limit: 60},
	RoomCreation: {Period: limiter.Hour, Limit: 10},
	Typing:       {Period: limiter.Minute, Limit: 30},
}

// Limiters bundles one in-memory limiter per throttled category. Each is
// keyed per call by the caller's session or user ID, so the limit tracks
// per-identity usage rather than a global rate.
type Limiters struct {
	byCategory map[Category]*limiter.Limiter
}

func New() *Limiters {
	store := memory.NewStore()
	l := &Limiters{byCategory: make(map[Category]*limiter.Limiter)}
	for cat, rate := range Limits {
		l.byCategory[cat] = limiter.New(store, rate)
	}
	return l
}

// Allow reports whether the operation in category cat is permitted for
// key (typically a session ID or user ID string), consuming one unit of
// the budget if so. A false return with a nil error means the caller is
// rate_limited (§7); a non-nil error means the limiter backend failed and
// the caller should fail open rather than block legitimate traffic.
func (l *Limiters) Allow(ctx context.Context, cat Category, key string) (bool, error) {
	lim, ok := l.byCategory[cat]
	if !ok {
		return true, nil
	}
	res, err := lim.Get(ctx, string(cat)+":"+key)
	if err != nil {
		return true, lcerr.Internal(err)
	}
	return !res.Reached, nil
}

// Err builds the standard rate_limited wire error for cat.
func Err(cat Category) error {
	return lcerr.RateLimitedErr("rate limit exceeded for " + string(cat))
}
