// Package registry is the single source of truth for live bookings.
//
// Index maps are guarded by one RWMutex. Each booking has its own mutex that
// serializes transitions; the committed booking is swapped in atomically and
// never mutated afterwards, so readers take snapshots without that mutex.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"marketbook/internal/booking"
	"marketbook/internal/clock"
	"marketbook/internal/domain"
	"marketbook/internal/logging"
	"marketbook/internal/models"

	"github.com/rs/zerolog"
)

type entry struct {
	mu      sync.Mutex
	current atomic.Pointer[models.Booking]
	seq     uint64
}

// Registry indexes bookings by id, resource, requester and vendor.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*entry
	byResource  map[string][]*entry
	byRequester map[string][]*entry
	byVendor    map[string][]*entry
	reserved    map[string]struct{} // ids being inserted
	seq         uint64

	store     domain.BookingStore
	publisher domain.EventPublisher
	clock     clock.Clock
	logger    *zerolog.Logger
}

// New creates a registry. store and publisher may be nil.
func New(store domain.BookingStore, publisher domain.EventPublisher, clk clock.Clock, logger *zerolog.Logger) *Registry {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Registry{
		byID:        make(map[string]*entry),
		byResource:  make(map[string][]*entry),
		byRequester: make(map[string][]*entry),
		byVendor:    make(map[string][]*entry),
		reserved:    make(map[string]struct{}),
		store:       store,
		publisher:   publisher,
		clock:       clk,
		logger:      logging.Component(logger, "registry"),
	}
}

// Create registers the Requested booking spawned by req. A second booking
// for the same request id fails with ErrDuplicateRequest.
func (r *Registry) Create(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("booking request without id")
	}

	// The id is reserved so the store write happens outside r.mu.
	r.mu.Lock()
	_, exists := r.byID[req.ID]
	_, pending := r.reserved[req.ID]
	if exists || pending {
		r.mu.Unlock()
		return nil, fmt.Errorf("request %s: %w", req.ID, domain.ErrDuplicateRequest)
	}
	r.reserved[req.ID] = struct{}{}
	r.mu.Unlock()

	b, ev := booking.New(req, r.clock.Now())
	b.Version = 1
	if r.store != nil {
		if err := r.store.InsertBooking(ctx, b, ev); err != nil {
			r.mu.Lock()
			delete(r.reserved, req.ID)
			r.mu.Unlock()
			return nil, fmt.Errorf("insert booking %s: %w", b.ID, err)
		}
	}

	r.mu.Lock()
	delete(r.reserved, req.ID)
	r.index(b)
	r.mu.Unlock()
	r.publish(ev)

	r.logger.Debug().Str("booking_id", b.ID).Str("resource_id", req.ResourceID).Msg("Booking registered")
	return b.Clone(), nil
}

// index must be called with r.mu held for writing.
func (r *Registry) index(b *models.Booking) {
	r.seq++
	e := &entry{seq: r.seq}
	e.current.Store(b)
	r.byID[b.ID] = e
	r.byResource[b.Request.ResourceID] = append(r.byResource[b.Request.ResourceID], e)
	r.byRequester[b.Request.RequesterID] = append(r.byRequester[b.Request.RequesterID], e)
	r.byVendor[b.Request.VendorID] = append(r.byVendor[b.Request.VendorID], e)
}

// Find returns a snapshot of booking id.
func (r *Registry) Find(id string) (*models.Booking, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return e.current.Load().Clone(), nil
}

// Mutator changes a working copy of a booking and reports the feed event
// for the change. Returning an error discards the working copy.
type Mutator func(b *models.Booking) (models.BookingEvent, error)

// Effects are side effects of a transition outside the registry. Both run
// under the booking's lock.
type Effects struct {
	// Undo reverts what the mutator already did when persisting fails.
	Undo func()
	// AfterCommit runs once the transition is persisted, before it is
	// published.
	AfterCommit func()
}

// EffectMutator is a Mutator that also reports its Effects.
type EffectMutator func(b *models.Booking) (models.BookingEvent, Effects, error)

// Update serializes fn with every other update of booking id. The result is
// persisted, swapped in and published before the booking's lock is
// released, so the feed of one booking follows commit order. Event handlers
// must not update the same booking synchronously.
func (r *Registry) Update(ctx context.Context, id string, fn Mutator) (*models.Booking, error) {
	return r.Transition(ctx, id, func(b *models.Booking) (models.BookingEvent, Effects, error) {
		ev, err := fn(b)
		return ev, Effects{}, err
	})
}

// Transition is Update with effects: Undo runs if the store rejects the
// change, AfterCommit once the change is durable.
func (r *Registry) Transition(ctx context.Context, id string, fn EffectMutator) (*models.Booking, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.current.Load().Clone()
	fromVersion := working.Version

	ev, eff, err := fn(working)
	if err != nil {
		return nil, err
	}
	working.Version = fromVersion + 1

	if r.store != nil {
		if err := r.store.SaveTransition(ctx, working, fromVersion, ev); err != nil {
			if eff.Undo != nil {
				eff.Undo()
			}
			return nil, fmt.Errorf("save booking %s: %w", id, err)
		}
	}
	e.current.Store(working)
	if eff.AfterCommit != nil {
		eff.AfterCommit()
	}
	r.publish(ev)

	return working.Clone(), nil
}

func (r *Registry) publish(ev models.BookingEvent) {
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

func (r *Registry) ListByResource(resourceID string) []*models.Booking {
	return r.list(func() []*entry { return r.byResource[resourceID] })
}

func (r *Registry) ListByRequester(requesterID string) []*models.Booking {
	return r.list(func() []*entry { return r.byRequester[requesterID] })
}

func (r *Registry) ListByVendor(vendorID string) []*models.Booking {
	return r.list(func() []*entry { return r.byVendor[vendorID] })
}

// Select returns snapshots of every booking matching pred.
func (r *Registry) Select(pred func(*models.Booking) bool) []*models.Booking {
	return r.list(func() []*entry {
		out := make([]*entry, 0)
		for _, e := range r.byID {
			if pred(e.current.Load()) {
				out = append(out, e)
			}
		}
		return out
	})
}

// list snapshots the entries returned by pick, ordered by CreatedAt and
// then by registration order.
func (r *Registry) list(pick func() []*entry) []*models.Booking {
	r.mu.RLock()
	entries := append([]*entry(nil), pick()...)
	r.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		a := entries[i].current.Load().Request.CreatedAt
		b := entries[j].current.Load().Request.CreatedAt
		if a.Equal(b) {
			return entries[i].seq < entries[j].seq
		}
		return a.Before(b)
	})

	out := make([]*models.Booking, len(entries))
	for i, e := range entries {
		out[i] = e.current.Load().Clone()
	}
	return out
}

// Archive drops terminal bookings last updated before cutoff from memory and
// marks them archived in storage. It returns the archived ids.
func (r *Registry) Archive(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, e := range r.byID {
		b := e.current.Load()
		if b.Status.IsTerminal() && b.LastUpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	if r.store != nil {
		if err := r.store.ArchiveBookings(ctx, ids, r.clock.Now()); err != nil {
			return nil, fmt.Errorf("archive bookings: %w", err)
		}
	}

	drop := make(map[*entry]struct{}, len(ids))
	for _, id := range ids {
		drop[r.byID[id]] = struct{}{}
		delete(r.byID, id)
	}
	prune(r.byResource, drop)
	prune(r.byRequester, drop)
	prune(r.byVendor, drop)

	r.logger.Info().Int("count", len(ids)).Time("cutoff", cutoff).Msg("Archived bookings")
	return ids, nil
}

func prune(index map[string][]*entry, drop map[*entry]struct{}) {
	for key, entries := range index {
		kept := entries[:0]
		for _, e := range entries {
			if _, gone := drop[e]; !gone {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(index, key)
			continue
		}
		index[key] = kept
	}
}

// Restore loads non-archived bookings from storage. It must run before the
// registry serves requests.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	bookings, err := r.store.ListBookings(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list bookings: %w", err)
	}
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].Request.CreatedAt.Before(bookings[j].Request.CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bookings {
		if _, exists := r.byID[b.ID]; exists {
			continue
		}
		r.index(b)
	}
	r.logger.Info().Int("loaded", len(bookings)).Msg("Registry restored")
	return len(bookings), nil
}
