package events

import (
	"sync"
	"time"

	"praxis/internal/models"
)

const (
	// TypeAvailabilityUpdated fires whenever a week of slots lands in the cache.
	TypeAvailabilityUpdated = "availability.updated"
	// TypeAvailabilityPreloaded fires once the near-term preload phase is complete.
	TypeAvailabilityPreloaded = "availability.preloaded"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WeekUpdated is the payload of TypeAvailabilityUpdated.
type WeekUpdated struct {
	Week      models.WeekKey `json:"week"`
	SlotCount int            `json:"slot_count"`
}

// Preloaded is the payload of TypeAvailabilityPreloaded.
// NextAvailable is nil when no near-term week had a slot.
type Preloaded struct {
	Weeks         []models.WeekKey `json:"weeks"`
	NextAvailable *models.Slot     `json:"next_available,omitempty"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      uint64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a function
// that removes it.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *EventBus) remove(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range subs {
		// Handlers run synchronously; caller decides concurrency model.
		s.handler(event)
	}
}

// SubscriberCount returns the number of handlers for eventType.
func (b *EventBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}
