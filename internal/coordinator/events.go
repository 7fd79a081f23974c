package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/store"
)

// Event types
const (
	EventAccessoryCreated   = "accessory_created"
	EventAccessoryUpdated   = "accessory_updated"
	EventAccessoryRemoved   = "accessory_removed"
	EventDiscoveryCompleted = "discovery_completed"
	EventDiscoveryFailed    = "discovery_failed"
	EventAttributeRead      = "attribute_read"
	EventAttributeWritten   = "attribute_written"
)

// Event is published on the bus by the reconciliation engine and controller.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// DiscoveryEvent is the payload of discovery_completed and discovery_failed.
type DiscoveryEvent struct {
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Removed   int           `json:"removed"`
	Unchanged int           `json:"unchanged"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// AttributeEvent is the payload of attribute_read and attribute_written.
type AttributeEvent struct {
	AccessoryID string                  `json:"accessory_id"`
	Query       string                  `json:"query"`
	Key         capability.AttributeKey `json:"key"`
	Status      string                  `json:"status,omitempty"`
	Raw         string                  `json:"raw,omitempty"`
	Value       string                  `json:"value,omitempty"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for accessory lifecycle and attribute events.
// A subscription with no types receives every event.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	logger *slog.Logger
}

type subscription struct {
	types   map[string]bool
	handler EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[uint64]subscription),
		logger: logger,
	}
}

// On registers handler for the given event types, or for all events when
// none are given. Returns an unsubscribe function.
func (eb *EventBus) On(handler EventHandler, types ...string) func() {
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = sub
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.subs, id)
	}
}

// OnAll registers a handler that receives all events.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.On(handler)
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.subs))
	for _, sub := range eb.subs {
		if sub.types == nil || sub.types[event.Type] {
			handlers = append(handlers, sub.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}

func accessoryEvent(eventType string, acc *store.Accessory) Event {
	return Event{Type: eventType, Data: acc}
}
