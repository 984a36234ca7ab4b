// Package events fans booking lifecycle events out to observers.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"marketbook/internal/logging"
	"marketbook/internal/metrics"
	"marketbook/internal/models"

	"github.com/rs/zerolog"
)

// AnyStatus subscribes a handler to every event regardless of target status.
const AnyStatus = "*"

// Handler reacts to an event.
type Handler func(event models.BookingEvent) error

// Bus provides in-process pub/sub keyed by the event's target status.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
		logger:      logging.Component(logger, "events"),
	}
}

// Subscribe registers handler for events moving a booking into status, or
// for all events when status is AnyStatus.
func (b *Bus) Subscribe(status string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[status] = append(b.subscribers[status], handler)
}

// Publish notifies status subscribers, then wildcard subscribers. Handlers
// run synchronously on the caller's goroutine; their errors are logged and
// never reach the publisher.
func (b *Bus) Publish(event models.BookingEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[string(event.To)]...)
	handlers = append(handlers, b.subscribers[AnyStatus]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			metrics.IncFeedHandlerError()
			b.logger.Error().Err(err).
				Str("booking_id", event.BookingID).
				Str("to", string(event.To)).
				Msg("Feed handler failed")
		}
	}
}

// Marshal encodes an event for the outbox and external consumers.
func Marshal(event models.BookingEvent) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return raw, nil
}

// Unmarshal decodes an event produced by Marshal.
func Unmarshal(raw []byte) (models.BookingEvent, error) {
	var event models.BookingEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return models.BookingEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
