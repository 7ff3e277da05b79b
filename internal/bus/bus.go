package bus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/types"
)

// DefaultBufferSize is the bounded per-subscriber buffer (§4.3).
const DefaultBufferSize = 256

// Subscription is a single subscriber's view of the bus. Events arrives on
// C; if the subscriber falls behind, Lagged increments and each new event
// that finds the buffer full is dropped rather than blocking the publisher.
type Subscription struct {
	id     uint64
	userID types.UserID
	c      chan Event
	lagged atomic.Uint64
	bus    *Bus
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan Event { return s.c }

// Lagged reports how many events have been dropped for this subscriber
// since the last call, resetting the counter. A non-zero return means the
// subscriber fell behind and must treat its cached state conservatively,
// per §4.3 ("they must not disconnect the connection on Lagged").
func (s *Subscription) Lagged() uint64 { return s.lagged.Swap(0) }

// Close unregisters the subscription. Safe to call multiple times.
func (s *Subscription) Close() { s.bus.unsubscribe(s) }

// Bus is the single process-wide broadcast channel. All domain events flow
// through one Bus instance; visibility is enforced downstream by
// ShouldReceive, not by topology, per §9's "single global bus with a
// predicate" design note.
type Bus struct {
	log     *zap.Logger
	metrics *metrics.Registry

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, subs: make(map[uint64]*Subscription)}
}

// SetMetrics attaches the Prometheus collectors Subscribe/unsubscribe/
// Publish report to. Nil disables reporting (the zero value behaves like
// no metrics were ever attached).
func (b *Bus) SetMetrics(m *metrics.Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// Subscribe registers a new subscriber bound to userID (used only for
// logging; visibility filtering happens at the caller via ShouldReceive).
func (b *Bus) Subscribe(userID types.UserID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		userID: userID,
		c:      make(chan Event, DefaultBufferSize),
		bus:    b,
	}
	b.subs[sub.id] = sub
	if b.metrics != nil {
		b.metrics.BusSubscribers.Set(float64(len(b.subs)))
	}
	return sub
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(s.c)
		if b.metrics != nil {
			b.metrics.BusSubscribers.Set(float64(len(b.subs)))
		}
	}
}

// Publish broadcasts ev to every current subscriber. A subscriber whose
// buffer is full does not block the publisher or other subscribers: the
// event is dropped for that subscriber and its Lagged counter increments
// (§4.3). Publish itself performs no visibility filtering — every
// subscriber's listener applies ShouldReceive against its own cached
// room membership.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.c <- ev:
		default:
			sub.lagged.Add(1)
			if b.metrics != nil {
				b.metrics.BusLagged.Inc()
			}
			b.log.Debug("bus: subscriber lagged, dropping event",
				zap.Uint64("subscriber_id", sub.id),
				zap.String("user_id", sub.userID.String()),
				zap.String("event", ev.Kind.String()),
			)
		}
	}
}

// SubscriberCount reports the current number of live subscriptions, used by
// metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
