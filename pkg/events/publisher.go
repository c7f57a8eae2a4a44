// Package events decouples the game core from the transport: state
// changes that happen outside any client request (clock expiry, bot
// replies, grace-period forfeits) are published here and broadcast by
// whoever subscribes.
package events

import "sync"

// EventType represents the type of event
type EventType string

// Events the core publishes.
const (
	EventBoardUpdated   EventType = "BOARD_UPDATED"
	EventSessionOver    EventType = "SESSION_OVER"
	EventPendingChanged EventType = "PENDING_CHANGED"
)

// Event represents an event in the system. SessionID addresses the
// session's broadcast group; it is empty for lobby-wide events.
type Event struct {
	Type      EventType
	SessionID string
	Payload   interface{}
}

// Handler is a function that processes events
type Handler func(event Event)

// Publisher is the central event publisher
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// Publish broadcasts an event to all subscribers
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	p.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event) // Run handlers concurrently
	}
}
