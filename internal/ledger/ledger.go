// Package ledger tracks which time slots of each resource are held or booked.
//
// Every mutation of a resource's claims happens under that resource's mutex;
// different resources never contend. Unconfirmed holds whose ExpiresAt has
// passed are treated as absent and are evicted lazily, under the same lock,
// by whichever operation next touches the resource. The booking sweeper
// expires the owning bookings and releases their persisted rows.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketbook/internal/clock"
	"marketbook/internal/domain"
	"marketbook/internal/logging"
	"marketbook/internal/models"

	"github.com/rs/zerolog"
)

type resourceClaims struct {
	mu     sync.Mutex
	claims map[string]models.SlotHold // by booking id
}

type Ledger struct {
	mu        sync.Mutex
	resources map[string]*resourceClaims

	store  domain.HoldStore
	clock  clock.Clock
	logger *zerolog.Logger
}

// New creates a ledger. store may be nil for a purely in-memory ledger.
func New(store domain.HoldStore, clk clock.Clock, logger *zerolog.Logger) *Ledger {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Ledger{
		resources: make(map[string]*resourceClaims),
		store:     store,
		clock:     clk,
		logger:    logging.Component(logger, "ledger"),
	}
}

func (l *Ledger) resource(id string) *resourceClaims {
	l.mu.Lock()
	defer l.mu.Unlock()
	rc, ok := l.resources[id]
	if !ok {
		rc = &resourceClaims{claims: make(map[string]models.SlotHold)}
		l.resources[id] = rc
	}
	return rc
}

// evictExpired must be called with rc.mu held.
func (l *Ledger) evictExpired(resourceID string, rc *resourceClaims, now time.Time) {
	for id, h := range rc.claims {
		if !h.Live(now) {
			delete(rc.claims, id)
			l.logger.Debug().
				Str("resource_id", resourceID).
				Str("booking_id", id).
				Time("expired_at", h.ExpiresAt).
				Msg("Evicted expired hold")
		}
	}
}

// Hold claims slot on resourceID for bookingID until now+ttl. It fails with
// ErrSlotUnavailable when any live hold or booked interval of another
// booking overlaps slot. Holding the same slot again for the same booking
// returns the existing claim.
func (l *Ledger) Hold(ctx context.Context, resourceID string, slot models.TimeSlot, bookingID string, ttl time.Duration) (models.SlotHold, error) {
	if err := slot.Validate(); err != nil {
		return models.SlotHold{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidSlot)
	}
	if ttl <= 0 {
		return models.SlotHold{}, fmt.Errorf("hold ttl must be positive, got %s", ttl)
	}

	rc := l.resource(resourceID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := l.clock.Now()
	l.evictExpired(resourceID, rc, now)

	if existing, ok := rc.claims[bookingID]; ok {
		if existing.Slot.Equal(slot) {
			return existing, nil
		}
		return models.SlotHold{}, fmt.Errorf("booking %s already claims %s: %w", bookingID, existing.Slot, domain.ErrSlotUnavailable)
	}
	for id, h := range rc.claims {
		if h.Slot.Overlaps(slot) {
			return models.SlotHold{}, fmt.Errorf("%s on %s overlaps booking %s: %w", slot, resourceID, id, domain.ErrSlotUnavailable)
		}
	}

	hold := models.SlotHold{
		ResourceID: resourceID,
		Slot:       slot,
		BookingID:  bookingID,
		ExpiresAt:  now.Add(ttl),
	}
	if l.store != nil {
		if err := l.store.SaveHold(ctx, hold); err != nil {
			return models.SlotHold{}, fmt.Errorf("persist hold: %w", err)
		}
	}
	rc.claims[bookingID] = hold
	return hold, nil
}

// Release drops the hold or booked interval bookingID owns for slot.
// Releasing something that does not exist is a no-op.
func (l *Ledger) Release(ctx context.Context, resourceID string, slot models.TimeSlot, bookingID string) error {
	rc := l.resource(resourceID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	existing, ok := rc.claims[bookingID]
	if ok && !existing.Slot.Equal(slot) {
		return nil
	}
	// Expired holds may already be gone from memory but still persisted.
	if l.store != nil {
		if err := l.store.DeleteHold(ctx, bookingID); err != nil {
			return fmt.Errorf("delete hold: %w", err)
		}
	}
	delete(rc.claims, bookingID)
	return nil
}

// Confirm turns bookingID's live hold on slot into a booked interval that
// never expires. It fails with ErrHoldNotFound when the hold is missing,
// expired or belongs to another booking. Confirming twice succeeds.
func (l *Ledger) Confirm(ctx context.Context, resourceID string, slot models.TimeSlot, bookingID string) error {
	rc := l.resource(resourceID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	l.evictExpired(resourceID, rc, l.clock.Now())

	existing, ok := rc.claims[bookingID]
	if !ok || !existing.Slot.Equal(slot) {
		return fmt.Errorf("booking %s on %s: %w", bookingID, resourceID, domain.ErrHoldNotFound)
	}
	if existing.Confirmed {
		return nil
	}

	booked := existing
	booked.Confirmed = true
	booked.ExpiresAt = time.Time{}
	if l.store != nil {
		if err := l.store.SaveHold(ctx, booked); err != nil {
			return fmt.Errorf("persist booked interval: %w", err)
		}
	}
	rc.claims[bookingID] = booked
	return nil
}

// Unconfirm turns bookingID's booked interval back into a hold expiring at
// expiresAt. It undoes a Confirm whose booking transition was not recorded.
// The in-memory claim is reverted even when persisting fails.
func (l *Ledger) Unconfirm(ctx context.Context, resourceID string, slot models.TimeSlot, bookingID string, expiresAt time.Time) error {
	rc := l.resource(resourceID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	existing, ok := rc.claims[bookingID]
	if !ok || !existing.Slot.Equal(slot) || !existing.Confirmed {
		return nil
	}

	hold := existing
	hold.Confirmed = false
	hold.ExpiresAt = expiresAt
	rc.claims[bookingID] = hold
	if l.store != nil {
		if err := l.store.SaveHold(ctx, hold); err != nil {
			return fmt.Errorf("persist reverted hold: %w", err)
		}
	}
	return nil
}

// Availability lists live claims on resourceID that overlap window, by start.
func (l *Ledger) Availability(resourceID string, window models.TimeSlot) []models.Claim {
	rc := l.resource(resourceID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	l.evictExpired(resourceID, rc, l.clock.Now())

	out := make([]models.Claim, 0, len(rc.claims))
	for _, h := range rc.claims {
		if !h.Slot.Overlaps(window) {
			continue
		}
		out = append(out, models.Claim{
			BookingID: h.BookingID,
			Slot:      h.Slot,
			Confirmed: h.Confirmed,
			ExpiresAt: h.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot.Start.Equal(out[j].Slot.Start) {
			return out[i].BookingID < out[j].BookingID
		}
		return out[i].Slot.Start.Before(out[j].Slot.Start)
	})
	return out
}

// Restore loads persisted claims, skipping holds that lapsed while the
// process was down. It returns the number of claims loaded.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	holds, err := l.store.ListHolds(ctx)
	if err != nil {
		return 0, fmt.Errorf("list holds: %w", err)
	}

	now := l.clock.Now()
	loaded := 0
	for _, h := range holds {
		if !h.Live(now) {
			continue
		}
		rc := l.resource(h.ResourceID)
		rc.mu.Lock()
		rc.claims[h.BookingID] = h
		rc.mu.Unlock()
		loaded++
	}
	l.logger.Info().Int("loaded", loaded).Int("stored", len(holds)).Msg("Ledger restored")
	return loaded, nil
}
