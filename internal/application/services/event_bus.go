package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
)

// EventType is an alias to the domain type
type EventType = events.EventType

// EventHandler is a function that handles an event.
type EventHandler = ports.EventHandler

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus manages the in-process publish-subscribe system.
// It implements ports.EventPublisher interface.
type EventBus struct {
	handlers map[EventType][]subscription
	nextID   uint64
	mu       sync.RWMutex
	logger   *zap.Logger
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new EventBus instance
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers: make(map[EventType][]subscription),
		logger:   logger.Named("eventbus"),
	}
}

// Subscribe registers a handler for a specific event type
// Returns an unsubscribe function
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		subs := eb.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish runs every handler for eventType in subscription order. All
// handlers run even if one fails; the first error is returned.
func (eb *EventBus) Publish(ctx context.Context, eventType EventType, payload interface{}) error {
	eb.mu.RLock()
	subs := eb.handlers[eventType]
	eb.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		if err := s.handler(ctx, payload); err != nil {
			eb.logger.Warn("event handler failed", zap.String("event", eventType.String()), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("EventBus handler error for %s: %w", eventType, err)
			}
		}
	}
	return firstErr
}

// HandlerCount returns the number of handlers registered for eventType
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// publishQuietly publishes and logs any failure. State changes that raised the
// event are never rolled back because a consumer failed.
func publishQuietly(ctx context.Context, publisher ports.EventPublisher, logger *zap.Logger, eventType EventType, payload interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, eventType, payload); err != nil {
		logger.Warn("event publish failed", zap.String("event", eventType.String()), zap.Error(err))
	}
}
