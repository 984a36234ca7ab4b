package models

import "time"

type BookingStatus string

const (
	StatusRequested BookingStatus = "requested"
	StatusHeld      BookingStatus = "held"
	StatusAccepted  BookingStatus = "accepted"
	StatusDeclined  BookingStatus = "declined"
	StatusExpired   BookingStatus = "expired"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// AllStatuses lists statuses in lifecycle order; used by dashboards.
var AllStatuses = []BookingStatus{
	StatusRequested,
	StatusHeld,
	StatusAccepted,
	StatusDeclined,
	StatusExpired,
	StatusCancelled,
	StatusCompleted,
}

func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusExpired, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s BookingStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Actors recorded in status history for transitions not driven by a user.
const (
	ActorSystem = "system"
)

// Reasons attached to history entries and feed events.
const (
	ReasonSlotUnavailable = "slot_unavailable"
	ReasonHoldExpired     = "hold_expired"
	ReasonSlotEnded       = "slot_ended"
	ReasonHoldFailed      = "hold_failed"
)

const (
	// DefaultHoldTTL is how long a vendor has to answer a request.
	DefaultHoldTTL = 15 * time.Minute

	// DefaultSweepInterval is the period of the expiry sweeper.
	DefaultSweepInterval = 30 * time.Second

	// DefaultRetention keeps terminal bookings in memory before archival.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultOutboxBatchSize bounds one outbox poll.
	DefaultOutboxBatchSize = 50

	// DefaultCurrency is used when a catalog entry does not name one.
	DefaultCurrency = "USD"
)
