package domain

import (
	"context"
	"time"

	"marketbook/internal/models"
)

// HoldStore persists ledger claims keyed by booking id.
type HoldStore interface {
	SaveHold(ctx context.Context, hold models.SlotHold) error
	DeleteHold(ctx context.Context, bookingID string) error
	ListHolds(ctx context.Context) ([]models.SlotHold, error)
}

// BookingStore persists bookings, their status history and the event outbox.
type BookingStore interface {
	InsertBooking(ctx context.Context, booking *models.Booking, event models.BookingEvent) error
	SaveTransition(ctx context.Context, booking *models.Booking, fromVersion int64, event models.BookingEvent) error
	ListBookings(ctx context.Context, includeArchived bool) ([]*models.Booking, error)
	ArchiveBookings(ctx context.Context, ids []string, at time.Time) error
}

// ResourceCatalog resolves resources owned by vendors outside the core.
type ResourceCatalog interface {
	Resource(id string) (*models.Resource, bool)
}

// EventPublisher fans lifecycle events out to in-process observers.
type EventPublisher interface {
	Publish(event models.BookingEvent)
}

// EventSink delivers persisted events to out-of-process consumers.
type EventSink interface {
	Deliver(ctx context.Context, event models.BookingEvent) error
}

// RequestThrottle counts booking requests per key in fixed windows.
type RequestThrottle interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
