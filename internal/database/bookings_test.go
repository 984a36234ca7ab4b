package database

import (
	"context"
	"testing"
	"time"

	"marketbook/internal/booking"
	"marketbook/internal/domain"
	"marketbook/internal/events"
	"marketbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTestBooking(t *testing.T, db *DB, id string) *models.Booking {
	t.Helper()
	b, ev := booking.New(testRequest(id), t0)
	b.Version = 1
	require.NoError(t, db.InsertBooking(context.Background(), b, ev))
	return b
}

func applyAndSave(t *testing.T, db *DB, b *models.Booking, ev booking.Event, at time.Time) error {
	t.Helper()
	from := b.Version
	working := b.Clone()
	feed, err := booking.Apply(working, ev, "v1", "", at)
	require.NoError(t, err)
	working.Version = from + 1
	if err := db.SaveTransition(context.Background(), working, from, feed); err != nil {
		return err
	}
	*b = *working
	return nil
}

func TestInsertAndListBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := insertTestBooking(t, db, "b1")

	t.Run("Duplicate", func(t *testing.T) {
		dup, ev := booking.New(testRequest("b1"), t0)
		err := db.InsertBooking(ctx, dup, ev)
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	})

	require.NoError(t, applyAndSave(t, db, b, booking.EventHoldGranted, t0.Add(time.Minute)))

	bookings, err := db.ListBookings(ctx, false)
	require.NoError(t, err)
	require.Len(t, bookings, 1)

	got := bookings[0]
	assert.Equal(t, "b1", got.ID)
	assert.Equal(t, models.StatusHeld, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, b.Request.Slot.Equal(got.Request.Slot))
	assert.Equal(t, "250.50", got.Request.Quote.Total.StringFixed(2))
	assert.Equal(t, []string{"a"}, got.Request.Quote.Selections.AddOnIDs)
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, models.StatusRequested, got.StatusHistory[0].Status)
	assert.Equal(t, "alice", got.StatusHistory[0].Actor)
	assert.Equal(t, models.StatusHeld, got.StatusHistory[1].Status)
	assert.True(t, got.StatusHistory[1].Timestamp.Equal(t0.Add(time.Minute)))
}

func TestSaveTransitionVersionCheck(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := insertTestBooking(t, db, "b1")

	stale := b.Clone()
	require.NoError(t, applyAndSave(t, db, b, booking.EventHoldGranted, t0))

	err := applyAndSave(t, db, stale, booking.EventHoldRejected, t0)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	bookings, err := db.ListBookings(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHeld, bookings[0].Status)
	assert.Len(t, bookings[0].StatusHistory, 2, "rejected transition leaves no history row")
}

func TestTransitionsQueueOutboxEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := insertTestBooking(t, db, "b1")
	require.NoError(t, applyAndSave(t, db, b, booking.EventHoldGranted, t0))
	require.NoError(t, applyAndSave(t, db, b, booking.EventAccept, t0))

	entries, err := db.GetPendingOutbox(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var statuses []models.BookingStatus
	for _, e := range entries {
		ev, err := events.Unmarshal([]byte(e.Payload))
		require.NoError(t, err)
		assert.Equal(t, e.EventID, ev.ID)
		statuses = append(statuses, ev.To)
	}
	assert.Equal(t, []models.BookingStatus{models.StatusRequested, models.StatusHeld, models.StatusAccepted}, statuses)
}

func TestArchiveBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	insertTestBooking(t, db, "b1")
	insertTestBooking(t, db, "b2")

	at := t0.Add(48 * time.Hour)
	require.NoError(t, db.ArchiveBookings(ctx, []string{"b1"}, at))
	require.NoError(t, db.ArchiveBookings(ctx, nil, at))

	live, err := db.ListBookings(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "b2", live[0].ID)

	all, err := db.ListBookings(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[0].ArchivedAt)
	assert.True(t, all[0].ArchivedAt.Equal(at))
	assert.Len(t, all[0].StatusHistory, 1)
}
