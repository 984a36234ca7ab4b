package models

import "time"

// VendorStats is the per-status booking count shown on vendor dashboards.
type VendorStats struct {
	VendorID string                `json:"vendor_id"`
	Total    int                   `json:"total"`
	ByStatus map[BookingStatus]int `json:"by_status"`
	Upcoming int                   `json:"upcoming"`
	AsOf     time.Time             `json:"as_of"`
}

// NewVendorStats tallies bookings; Upcoming counts accepted bookings that
// have not started yet.
func NewVendorStats(vendorID string, bookings []*Booking, now time.Time) VendorStats {
	stats := VendorStats{
		VendorID: vendorID,
		ByStatus: make(map[BookingStatus]int, len(AllStatuses)),
		AsOf:     now,
	}
	for _, st := range AllStatuses {
		stats.ByStatus[st] = 0
	}
	for _, b := range bookings {
		stats.Total++
		stats.ByStatus[b.Status]++
		if b.Status == StatusAccepted && b.Request.Slot.Start.After(now) {
			stats.Upcoming++
		}
	}
	return stats
}

// Claim is a read-only view of a live ledger entry.
type Claim struct {
	BookingID string    `json:"booking_id"`
	Slot      TimeSlot  `json:"slot"`
	Confirmed bool      `json:"confirmed"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}
