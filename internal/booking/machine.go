// Package booking holds the lifecycle rules of a single booking.
package booking

import (
	"fmt"
	"time"

	"marketbook/internal/domain"
	"marketbook/internal/models"

	"github.com/google/uuid"
)

type Event string

const (
	EventHoldGranted  Event = "hold_granted"
	EventHoldRejected Event = "hold_rejected"
	EventAccept       Event = "accept"
	EventDecline      Event = "decline"
	EventExpire       Event = "expire"
	EventComplete     Event = "complete"
	EventCancel       Event = "cancel"
)

// Effect is the ledger work a transition requires.
type Effect int

const (
	EffectNone Effect = iota
	EffectConfirm
	EffectRelease
)

func (e Effect) String() string {
	switch e {
	case EffectConfirm:
		return "confirm"
	case EffectRelease:
		return "release"
	default:
		return "none"
	}
}

type transition struct {
	to     models.BookingStatus
	effect Effect
}

var table = map[models.BookingStatus]map[Event]transition{
	models.StatusRequested: {
		EventHoldGranted:  {models.StatusHeld, EffectNone},
		EventHoldRejected: {models.StatusDeclined, EffectNone},
	},
	models.StatusHeld: {
		EventAccept:  {models.StatusAccepted, EffectConfirm},
		EventDecline: {models.StatusDeclined, EffectRelease},
		EventExpire:  {models.StatusExpired, EffectRelease},
		EventCancel:  {models.StatusCancelled, EffectRelease},
	},
	models.StatusAccepted: {
		EventComplete: {models.StatusCompleted, EffectNone},
		EventCancel:   {models.StatusCancelled, EffectRelease},
	},
}

// Next resolves ev against from without touching any booking.
func Next(from models.BookingStatus, ev Event) (models.BookingStatus, Effect, error) {
	tr, ok := table[from][ev]
	if !ok {
		return "", EffectNone, fmt.Errorf("%s on %s booking: %w", ev, from, domain.ErrInvalidTransition)
	}
	return tr.to, tr.effect, nil
}

// New builds the Requested booking for req with its first history entry.
func New(req models.BookingRequest, at time.Time) (*models.Booking, models.BookingEvent) {
	b := &models.Booking{
		ID:      req.ID,
		Request: req,
		Status:  models.StatusRequested,
		StatusHistory: []models.StatusEntry{{
			Status:    models.StatusRequested,
			Timestamp: at,
			Actor:     req.RequesterID,
		}},
		LastUpdatedAt: at,
	}
	return b, newEvent(b, "", req.RequesterID, "", at)
}

// Apply moves b by ev and appends exactly one history entry. On error b is
// left untouched.
func Apply(b *models.Booking, ev Event, actor, reason string, at time.Time) (models.BookingEvent, error) {
	from := b.Status
	to, _, err := Next(from, ev)
	if err != nil {
		return models.BookingEvent{}, fmt.Errorf("booking %s: %w", b.ID, err)
	}

	b.Status = to
	b.StatusHistory = append(b.StatusHistory, models.StatusEntry{
		Status:    to,
		Timestamp: at,
		Actor:     actor,
		Reason:    reason,
	})
	b.LastUpdatedAt = at
	if to != models.StatusHeld {
		b.HoldExpiresAt = time.Time{}
	}
	return newEvent(b, from, actor, reason, at), nil
}

func newEvent(b *models.Booking, from models.BookingStatus, actor, reason string, at time.Time) models.BookingEvent {
	return models.BookingEvent{
		ID:          uuid.NewString(),
		BookingID:   b.ID,
		ResourceID:  b.Request.ResourceID,
		RequesterID: b.Request.RequesterID,
		VendorID:    b.Request.VendorID,
		From:        from,
		To:          b.Status,
		Actor:       actor,
		Reason:      reason,
		Timestamp:   at,
	}
}
