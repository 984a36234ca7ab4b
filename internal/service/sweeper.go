package service

import (
	"context"
	"errors"
	"time"

	"marketbook/internal/booking"
	"marketbook/internal/domain"
	"marketbook/internal/logging"
	"marketbook/internal/models"

	"github.com/rs/zerolog"
)

type SweepOptions struct {
	Interval     time.Duration
	Retention    time.Duration
	AutoComplete bool
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Expired   int
	Rejected  int
	Completed int
	Archived  int
}

// Sweeper periodically expires lapsed holds, rejects bookings left in
// Requested by a failed hold write, completes accepted bookings whose slot
// has ended and archives old terminal bookings. Reads already treat lapsed
// holds as gone; the sweeper makes the owning bookings agree.
type Sweeper struct {
	svc    *BookingService
	opts   SweepOptions
	logger *zerolog.Logger
}

func NewSweeper(svc *BookingService, opts SweepOptions, logger *zerolog.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = models.DefaultSweepInterval
	}
	return &Sweeper{
		svc:    svc,
		opts:   opts,
		logger: logging.Component(logger, "sweeper"),
	}
}

// Start sweeps every Interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("Sweeper started")
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			res := s.RunOnce(ctx)
			if res != (SweepResult{}) {
				s.logger.Info().
					Int("expired", res.Expired).
					Int("rejected", res.Rejected).
					Int("completed", res.Completed).
					Int("archived", res.Archived).
					Msg("Sweep finished")
			}
		}
	}
}

// RunOnce performs a single sweep. Failures on one booking are logged and
// do not stop the rest.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult
	now := s.svc.clock.Now()
	reg := s.svc.registry

	for _, b := range reg.Select(func(b *models.Booking) bool { return b.HoldLapsed(now) }) {
		if _, err := s.svc.Expire(ctx, b.ID); err != nil {
			s.skip(err, b.ID, "expire")
			continue
		}
		res.Expired++
	}

	stale := now.Add(-s.svc.opts.HoldTTL)
	for _, b := range reg.Select(func(b *models.Booking) bool {
		return b.Status == models.StatusRequested && b.Request.CreatedAt.Before(stale)
	}) {
		if err := s.svc.ledger.Release(ctx, b.Request.ResourceID, b.Request.Slot, b.ID); err != nil {
			s.skip(err, b.ID, "release stale hold")
			continue
		}
		if _, err := s.svc.apply(ctx, b.ID, booking.EventHoldRejected, models.ActorSystem, models.ReasonHoldFailed, nil); err != nil {
			s.skip(err, b.ID, "reject")
			continue
		}
		res.Rejected++
	}

	if s.opts.AutoComplete {
		for _, b := range reg.Select(func(b *models.Booking) bool {
			return b.Status == models.StatusAccepted && !b.Request.Slot.End.After(now)
		}) {
			if _, err := s.svc.apply(ctx, b.ID, booking.EventComplete, models.ActorSystem, models.ReasonSlotEnded, nil); err != nil {
				s.skip(err, b.ID, "complete")
				continue
			}
			res.Completed++
		}
	}

	if s.opts.Retention > 0 {
		res.Archived = s.archive(ctx, now.Add(-s.opts.Retention))
	}
	return res
}

// archive moves old terminal bookings out of memory and drops any claim
// they still have in the ledger: the booked intervals of completed bookings
// and releases that failed after their transition was recorded.
func (s *Sweeper) archive(ctx context.Context, cutoff time.Time) int {
	reg := s.svc.registry
	candidates := reg.Select(func(b *models.Booking) bool {
		return b.Status.IsTerminal() && b.LastUpdatedAt.Before(cutoff)
	})
	if len(candidates) == 0 {
		return 0
	}

	ids, err := reg.Archive(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Archive failed")
		return 0
	}
	archived := make(map[string]bool, len(ids))
	for _, id := range ids {
		archived[id] = true
	}
	for _, b := range candidates {
		if !archived[b.ID] {
			continue
		}
		if err := s.svc.ledger.Release(ctx, b.Request.ResourceID, b.Request.Slot, b.ID); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("Failed to drop claim of archived booking")
		}
	}
	return len(ids)
}

func (s *Sweeper) skip(err error, bookingID, op string) {
	// Another caller moved the booking first.
	if errors.Is(err, domain.ErrInvalidTransition) {
		return
	}
	s.logger.Error().Err(err).Str("booking_id", bookingID).Str("op", op).Msg("Sweep step failed")
}
