package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the domain services.
const (
	TypeMessageInserted = "message.inserted"
	TypeThreadUpdated   = "thread.updated"
	TypeOrderUpdated    = "order.updated"
	TypeJobUpdated      = "job.updated"
	TypeReviewSubmitted = "review.submitted"
)

// Event is a single change notification fanned out to subscribers of a scope.
// Delivery is at-least-once with no cross-scope ordering; consumers de-duplicate
// by ID.
type Event struct {
	ID       string
	Scope    string
	Type     string
	EntityID string
	At       time.Time
	Payload  map[string]any
}

// JobScope keys message-level events for one job.
func JobScope(jobID string) string { return "job:" + jobID }

// UserScope keys thread/order-level events for one participant.
func UserScope(userID string) string { return "user:" + userID }

// subscriberBuffer bounds each subscription channel. Publishers never block;
// when a consumer lags, the oldest event is dropped because consumers
// re-aggregate from the store anyway.
const subscriberBuffer = 64

// Bus is an in-process, scope-keyed publish/subscribe fan-out.
type Bus struct {
	mu     sync.RWMutex
	scopes map[string]map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{scopes: make(map[string]map[*Subscription]struct{})}
}

// Subscription is a live listener on one scope. Unsubscribe is idempotent and
// closes the event channel.
type Subscription struct {
	bus    *Bus
	scope  string
	filter func(Event) bool
	ch     chan Event
	once   sync.Once
}

// C returns the channel events are delivered on. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Subscribe registers a listener on scope. A nil filter accepts every event.
func (b *Bus) Subscribe(scope string, filter func(Event) bool) *Subscription {
	sub := &Subscription{
		bus:    b,
		scope:  scope,
		filter: filter,
		ch:     make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	subs, ok := b.scopes[scope]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.scopes[scope] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.scopes[sub.scope]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.scopes, sub.scope)
	}
}

// Publish delivers ev to every live subscription on ev.Scope whose filter
// accepts it. Publish never blocks: a full subscriber buffer sheds its oldest
// event to make room.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.scopes[ev.Scope] {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		for {
			select {
			case sub.ch <- ev:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}
