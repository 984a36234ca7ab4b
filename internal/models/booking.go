package models

import "time"

// BookingRequest is the immutable client input that spawns a Booking.
type BookingRequest struct {
	ID          string    `json:"id"`
	ResourceID  string    `json:"resource_id"`
	RequesterID string    `json:"requester_id"`
	VendorID    string    `json:"vendor_id"`
	Slot        TimeSlot  `json:"slot"`
	Quote       Quote     `json:"quote"`
	CreatedAt   time.Time `json:"created_at"`
}

type StatusEntry struct {
	Status    BookingStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     string        `json:"actor"`
	Reason    string        `json:"reason,omitempty"`
}

// Booking is the mutable aggregate. Status changes only through the
// booking state machine; StatusHistory is append-only.
type Booking struct {
	ID            string         `json:"id"`
	Request       BookingRequest `json:"request"`
	Status        BookingStatus  `json:"status"`
	StatusHistory []StatusEntry  `json:"status_history"`
	HoldExpiresAt time.Time      `json:"hold_expires_at,omitzero"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	Version       int64          `json:"version"`
	ArchivedAt    *time.Time     `json:"archived_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.Request.Quote = b.Request.Quote.Clone()
	out.StatusHistory = append([]StatusEntry(nil), b.StatusHistory...)
	if b.ArchivedAt != nil {
		at := *b.ArchivedAt
		out.ArchivedAt = &at
	}
	return &out
}

func (b *Booking) LastEntry() (StatusEntry, bool) {
	if len(b.StatusHistory) == 0 {
		return StatusEntry{}, false
	}
	return b.StatusHistory[len(b.StatusHistory)-1], true
}

// HoldLapsed reports whether a held booking's vendor window has passed.
func (b *Booking) HoldLapsed(now time.Time) bool {
	return b.Status == StatusHeld && !b.HoldExpiresAt.IsZero() && !now.Before(b.HoldExpiresAt)
}

// SlotHold is a ledger claim. Unconfirmed claims expire at ExpiresAt;
// confirmed claims are the booked interval of an accepted booking.
type SlotHold struct {
	ResourceID string    `json:"resource_id"`
	Slot       TimeSlot  `json:"slot"`
	BookingID  string    `json:"booking_id"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	Confirmed  bool      `json:"confirmed"`
}

func (h SlotHold) Live(now time.Time) bool {
	return h.Confirmed || now.Before(h.ExpiresAt)
}

// BookingEvent is one item of the read-only lifecycle feed.
type BookingEvent struct {
	ID          string        `json:"id"`
	BookingID   string        `json:"booking_id"`
	ResourceID  string        `json:"resource_id"`
	RequesterID string        `json:"requester_id"`
	VendorID    string        `json:"vendor_id"`
	From        BookingStatus `json:"from_status,omitempty"`
	To          BookingStatus `json:"to_status"`
	Actor       string        `json:"actor"`
	Reason      string        `json:"reason,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
