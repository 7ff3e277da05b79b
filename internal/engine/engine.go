// Package engine implements the domain-operation layer of §4.4: the flat
// set of chat operations (auth, messaging, rooms, invitations, presence,
// users), their authorization rules, and the write-then-publish ordering
// guarantee of §5 ("storage writes must complete before the corresponding
// event is emitted").
package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
)

// Clock is injected so tests can control time; defaults to time.Now.
type Clock func() time.Time

// Engine is the single handle the dispatcher (C7) and HTTP adapter (C10)
// call into. It owns no transport state — only domain logic over the
// repositories and the bus.
type Engine struct {
	repos    store.Repositories
	bus      *bus.Bus
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenService
	log      *zap.Logger
	now      Clock
	sessTTL  time.Duration

	presence *presenceTable
	typing   *typingCoalescer
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.now = c } }

func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.sessTTL = ttl }
}

func New(repos store.Repositories, b *bus.Bus, hasher *auth.PasswordHasher, tokens *auth.TokenService, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		repos:    repos,
		bus:      b,
		hasher:   hasher,
		tokens:   tokens,
		log:      log,
		now:      time.Now,
		sessTTL:  auth.DefaultTokenTTL,
		presence: newPresenceTable(),
		typing:   newTypingCoalescer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// presenceTable tracks active session counts per user so user_connected/
// user_disconnected can emit UserOnline/UserOffline only on the first
// connection / last disconnection (§4.4, §9's "derived view" note).
type presenceTable struct {
	mu    sync.Mutex
	count map[types.UserID]int
}

func newPresenceTable() *presenceTable {
	return &presenceTable{count: make(map[types.UserID]int)}
}

// incr returns true if this is the user's first active connection.
func (p *presenceTable) incr(id types.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count[id]++
	return p.count[id] == 1
}

// decr returns true if this was the user's last active connection.
func (p *presenceTable) decr(id types.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.count[id]
	if !ok || n <= 0 {
		return false
	}
	n--
	if n <= 0 {
		delete(p.count, id)
		return true
	}
	p.count[id] = n
	return false
}

func (p *presenceTable) isOnline(id types.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count[id] > 0
}

func (p *presenceTable) onlineIDs() []types.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]types.UserID, 0, len(p.count))
	for id := range p.count {
		ids = append(ids, id)
	}
	return ids
}

// typingCoalescer enforces "at most one emission per (user, target) per
// 2s" (§4.4, §8 idempotence law).
type typingCoalescer struct {
	mu   sync.Mutex
	last map[typingKey]time.Time
}

type typingKey struct {
	user   types.UserID
	target types.MessageTarget
}

func newTypingCoalescer() *typingCoalescer {
	return &typingCoalescer{last: make(map[typingKey]time.Time)}
}

const typingWindow = 2 * time.Second

// allow reports whether an emission is due, recording now as the last
// emission time when it is.
func (t *typingCoalescer) allow(user types.UserID, target types.MessageTarget, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := typingKey{user, target}
	if last, ok := t.last[k]; ok && now.Sub(last) < typingWindow {
		return false
	}
	t.last[k] = now
	return true
}
