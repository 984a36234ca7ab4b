package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketbook/internal/booking"
	"marketbook/internal/clock"
	"marketbook/internal/domain"
	"marketbook/internal/ledger"
	"marketbook/internal/logging"
	"marketbook/internal/metrics"
	"marketbook/internal/models"
	"marketbook/internal/pricing"
	"marketbook/internal/registry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errHoldLapsed = errors.New("hold lapsed")

// RequestInput is what a requester submits. RequestID doubles as the
// idempotency key; an empty one gets a generated UUID.
type RequestInput struct {
	RequestID   string            `json:"request_id,omitempty"`
	ResourceID  string            `json:"resource_id"`
	RequesterID string            `json:"requester_id"`
	Slot        models.TimeSlot   `json:"slot"`
	Selections  models.Selections `json:"selections"`
}

type Options struct {
	HoldTTL         time.Duration
	RequesterLimit  int
	RequesterWindow time.Duration
}

// BookingService is the entry point for every booking operation. It prices
// against the catalog, claims slots in the ledger and drives bookings in the
// registry through the lifecycle rules of package booking.
type BookingService struct {
	catalog  domain.ResourceCatalog
	registry *registry.Registry
	ledger   *ledger.Ledger
	throttle domain.RequestThrottle
	opts     Options
	clock    clock.Clock
	logger   *zerolog.Logger
}

func NewBookingService(
	catalog domain.ResourceCatalog,
	reg *registry.Registry,
	led *ledger.Ledger,
	throttle domain.RequestThrottle,
	opts Options,
	clk clock.Clock,
	logger *zerolog.Logger,
) *BookingService {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = models.DefaultHoldTTL
	}
	if opts.RequesterWindow <= 0 {
		opts.RequesterWindow = time.Minute
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &BookingService{
		catalog:  catalog,
		registry: reg,
		ledger:   led,
		throttle: throttle,
		opts:     opts,
		clock:    clk,
		logger:   logging.Component(logger, "booking_service"),
	}
}

func (s *BookingService) resource(id string) (*models.Resource, error) {
	r, ok := s.catalog.Resource(id)
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, domain.ErrResourceNotFound)
	}
	return r, nil
}

// Quote prices selections for resourceID without booking anything.
func (s *BookingService) Quote(_ context.Context, resourceID string, sel models.Selections) (models.Quote, error) {
	r, err := s.resource(resourceID)
	if err != nil {
		return models.Quote{}, err
	}
	q, err := pricing.Quote(r, sel, s.clock.Now())
	if err != nil {
		metrics.IncQuote("invalid")
		return models.Quote{}, err
	}
	metrics.IncQuote("ok")
	return q, nil
}

// RequestBooking quotes the selection, registers a Requested booking and
// tries to hold the slot. A granted hold moves the booking to Held; a slot
// that is already taken declines it with reason slot_unavailable and the
// call fails with ErrSlotUnavailable.
func (s *BookingService) RequestBooking(ctx context.Context, in RequestInput) (*models.Booking, error) {
	if in.RequesterID == "" {
		return nil, fmt.Errorf("requester id is required: %w", domain.ErrInvalidSelection)
	}
	if err := in.Slot.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidSlot)
	}
	now := s.clock.Now()
	if !in.Slot.Start.After(now) {
		return nil, fmt.Errorf("slot %s starts in the past: %w", in.Slot, domain.ErrInvalidSlot)
	}

	r, err := s.resource(in.ResourceID)
	if err != nil {
		return nil, err
	}

	if err := s.checkThrottle(ctx, in.RequesterID); err != nil {
		return nil, err
	}

	sel := in.Selections
	if r.Kind == models.ResourceVenue {
		switch slotHours := in.Slot.WholeHours(); {
		case sel.Hours == 0:
			sel.Hours = slotHours
		case sel.Hours < slotHours:
			return nil, fmt.Errorf("%d hours do not cover the %d-hour slot: %w", sel.Hours, slotHours, domain.ErrInvalidSelection)
		}
	}
	quote, err := pricing.Quote(r, sel, now)
	if err != nil {
		metrics.IncQuote("invalid")
		return nil, err
	}
	metrics.IncQuote("ok")

	id := in.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	created, err := s.registry.Create(ctx, models.BookingRequest{
		ID:          id,
		ResourceID:  r.ID,
		RequesterID: in.RequesterID,
		VendorID:    r.VendorID,
		Slot:        in.Slot,
		Quote:       quote,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	metrics.IncTransition("", string(created.Status))

	hold, holdErr := s.ledger.Hold(ctx, r.ID, in.Slot, id, s.opts.HoldTTL)
	if holdErr != nil {
		return nil, s.rejectHold(ctx, id, holdErr)
	}
	metrics.IncHoldAttempt("granted")

	held, err := s.registry.Update(ctx, id, func(b *models.Booking) (models.BookingEvent, error) {
		ev, err := booking.Apply(b, booking.EventHoldGranted, models.ActorSystem, "", s.clock.Now())
		if err != nil {
			return ev, err
		}
		b.HoldExpiresAt = hold.ExpiresAt
		return ev, nil
	})
	if err != nil {
		// The sweeper rejects bookings stuck in Requested; drop the claim now.
		if relErr := s.ledger.Release(ctx, r.ID, in.Slot, id); relErr != nil {
			s.logger.Error().Err(relErr).Str("booking_id", id).Msg("Failed to release hold of unrecorded booking")
		}
		return nil, fmt.Errorf("record hold for %s: %w", id, err)
	}
	metrics.IncTransition(string(models.StatusRequested), string(held.Status))

	s.logger.Info().
		Str("booking_id", id).
		Str("resource_id", r.ID).
		Str("requester_id", in.RequesterID).
		Time("hold_expires_at", held.HoldExpiresAt).
		Msg("Booking held")
	return held, nil
}

func (s *BookingService) checkThrottle(ctx context.Context, requesterID string) error {
	if s.throttle == nil || s.opts.RequesterLimit <= 0 {
		return nil
	}
	allowed, err := s.throttle.CheckRateLimit(ctx, requesterID, s.opts.RequesterLimit, s.opts.RequesterWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("requester_id", requesterID).Msg("Throttle check failed, letting request through")
		return nil
	}
	if !allowed {
		return fmt.Errorf("requester %s: %w", requesterID, domain.ErrRateLimited)
	}
	return nil
}

// rejectHold declines a Requested booking whose hold was refused and returns
// the error RequestBooking reports.
func (s *BookingService) rejectHold(ctx context.Context, id string, holdErr error) error {
	reason := models.ReasonHoldFailed
	if errors.Is(holdErr, domain.ErrSlotUnavailable) {
		reason = models.ReasonSlotUnavailable
		metrics.IncHoldAttempt("unavailable")
	} else {
		metrics.IncHoldAttempt("error")
	}

	declined, err := s.apply(ctx, id, booking.EventHoldRejected, models.ActorSystem, reason, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Msg("Failed to decline booking after refused hold")
	} else {
		s.logger.Info().Str("booking_id", id).Str("reason", reason).Str("status", string(declined.Status)).Msg("Booking declined")
	}
	return fmt.Errorf("booking %s: %w", id, holdErr)
}

// RespondToBooking applies the vendor's decision to a Held booking. A hold
// that has lapsed is expired first and the decision is refused.
func (s *BookingService) RespondToBooking(ctx context.Context, bookingID, vendorID string, decision models.Decision) (*models.Booking, error) {
	var ev booking.Event
	switch decision {
	case models.DecisionAccept:
		ev = booking.EventAccept
	case models.DecisionDecline:
		ev = booking.EventDecline
	default:
		return nil, fmt.Errorf("unknown decision %q: %w", decision, domain.ErrInvalidTransition)
	}

	current, err := s.registry.Find(bookingID)
	if err != nil {
		return nil, err
	}
	if current.Request.VendorID != vendorID {
		return nil, fmt.Errorf("vendor %s on booking %s: %w", vendorID, bookingID, domain.ErrForbidden)
	}

	return s.applyUnlessLapsed(ctx, bookingID, ev, vendorID)
}

// CancelBooking cancels a Held or Accepted booking on behalf of its
// requester or vendor. A lapsed hold is expired instead.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	current, err := s.registry.Find(bookingID)
	if err != nil {
		return nil, err
	}
	if actorID == "" || (actorID != current.Request.RequesterID && actorID != current.Request.VendorID) {
		return nil, fmt.Errorf("actor %q on booking %s: %w", actorID, bookingID, domain.ErrForbidden)
	}
	return s.applyUnlessLapsed(ctx, bookingID, booking.EventCancel, actorID)
}

// applyUnlessLapsed applies ev unless the booking's hold has lapsed, in
// which case the booking is expired and ev is refused.
func (s *BookingService) applyUnlessLapsed(ctx context.Context, bookingID string, ev booking.Event, actor string) (*models.Booking, error) {
	b, err := s.apply(ctx, bookingID, ev, actor, "", func(b *models.Booking) error {
		if b.HoldLapsed(s.clock.Now()) {
			return errHoldLapsed
		}
		return nil
	})
	if errors.Is(err, errHoldLapsed) {
		if _, expErr := s.Expire(ctx, bookingID); expErr != nil && !errors.Is(expErr, domain.ErrInvalidTransition) {
			s.logger.Error().Err(expErr).Str("booking_id", bookingID).Msg("Failed to expire lapsed hold")
		}
		return nil, fmt.Errorf("booking %s hold expired: %w", bookingID, domain.ErrInvalidTransition)
	}
	return b, err
}

// MarkCompleted completes an Accepted booking.
func (s *BookingService) MarkCompleted(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.apply(ctx, bookingID, booking.EventComplete, models.ActorSystem, "", nil)
}

// Expire moves a Held booking to Expired and releases its hold.
func (s *BookingService) Expire(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.apply(ctx, bookingID, booking.EventExpire, models.ActorSystem, models.ReasonHoldExpired, nil)
}

// apply runs one lifecycle event under the registry's per-booking lock.
// Confirm must succeed before the transition is recorded and is reverted
// if recording fails; Release only runs once the transition is durable, so
// a booking that stays Accepted or Held keeps its claim.
func (s *BookingService) apply(ctx context.Context, bookingID string, ev booking.Event, actor, reason string, check func(*models.Booking) error) (*models.Booking, error) {
	var from models.BookingStatus
	b, err := s.registry.Transition(ctx, bookingID, func(b *models.Booking) (models.BookingEvent, registry.Effects, error) {
		var eff registry.Effects
		if check != nil {
			if err := check(b); err != nil {
				return models.BookingEvent{}, eff, err
			}
		}
		from = b.Status
		_, effect, err := booking.Next(b.Status, ev)
		if err != nil {
			return models.BookingEvent{}, eff, fmt.Errorf("booking %s: %w", b.ID, err)
		}

		req := b.Request
		switch effect {
		case booking.EffectConfirm:
			if err := s.ledger.Confirm(ctx, req.ResourceID, req.Slot, b.ID); err != nil {
				return models.BookingEvent{}, eff, fmt.Errorf("confirm slot: %w", err)
			}
			expiresAt := b.HoldExpiresAt
			eff.Undo = func() {
				if err := s.ledger.Unconfirm(ctx, req.ResourceID, req.Slot, b.ID, expiresAt); err != nil {
					s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to revert booked interval")
				}
			}
		case booking.EffectRelease:
			eff.AfterCommit = func() {
				// Left for the sweeper's archive pass when this fails.
				if err := s.ledger.Release(ctx, req.ResourceID, req.Slot, b.ID); err != nil {
					s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to release slot")
				}
			}
		}

		out, err := booking.Apply(b, ev, actor, reason, s.clock.Now())
		if err != nil && eff.Undo != nil {
			eff.Undo()
		}
		return out, eff, err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(from), string(b.Status))
	s.logger.Info().
		Str("booking_id", bookingID).
		Str("from", string(from)).
		Str("to", string(b.Status)).
		Str("actor", actor).
		Msg("Booking transitioned")
	return b, nil
}

// settle expires b first when its hold has lapsed, so reads never report a
// Held booking past its TTL.
func (s *BookingService) settle(ctx context.Context, b *models.Booking) *models.Booking {
	if !b.HoldLapsed(s.clock.Now()) {
		return b
	}
	expired, err := s.Expire(ctx, b.ID)
	if err == nil {
		return expired
	}
	if !errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to expire lapsed hold on read")
	}
	if current, findErr := s.registry.Find(b.ID); findErr == nil {
		return current
	}
	return b
}

func (s *BookingService) settleAll(ctx context.Context, bookings []*models.Booking) []*models.Booking {
	for i, b := range bookings {
		bookings[i] = s.settle(ctx, b)
	}
	return bookings
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.registry.Find(bookingID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, b), nil
}

func (s *BookingService) ListByResource(ctx context.Context, resourceID string) []*models.Booking {
	return s.settleAll(ctx, s.registry.ListByResource(resourceID))
}

func (s *BookingService) ListByRequester(ctx context.Context, requesterID string) []*models.Booking {
	return s.settleAll(ctx, s.registry.ListByRequester(requesterID))
}

func (s *BookingService) ListByVendor(ctx context.Context, vendorID string) []*models.Booking {
	return s.settleAll(ctx, s.registry.ListByVendor(vendorID))
}

// VendorStats counts the vendor's live (non-archived) bookings by status.
func (s *BookingService) VendorStats(ctx context.Context, vendorID string) models.VendorStats {
	return models.NewVendorStats(vendorID, s.ListByVendor(ctx, vendorID), s.clock.Now())
}

// Availability lists the holds and booked intervals on resourceID that
// overlap window.
func (s *BookingService) Availability(_ context.Context, resourceID string, window models.TimeSlot) ([]models.Claim, error) {
	if _, err := s.resource(resourceID); err != nil {
		return nil, err
	}
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidSlot)
	}
	return s.ledger.Availability(resourceID, window), nil
}
