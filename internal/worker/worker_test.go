package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketbook/internal/booking"
	"marketbook/internal/clock"
	"marketbook/internal/config"
	"marketbook/internal/database"
	"marketbook/internal/events"
	"marketbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu        sync.Mutex
	err       error
	delivered []models.BookingEvent
}

func (f *fakeSink) Deliver(_ context.Context, ev models.BookingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, ev)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBooking(t *testing.T, db *database.DB, id string) models.BookingEvent {
	t.Helper()
	now := time.Now().UTC()
	b, ev := booking.New(models.BookingRequest{
		ID:          id,
		ResourceID:  "hall",
		RequesterID: "alice",
		VendorID:    "v1",
		Slot:        models.TimeSlot{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		CreatedAt:   now,
	}, now)
	b.Version = 1
	require.NoError(t, db.InsertBooking(context.Background(), b, ev))
	return ev
}

func TestRunOnceDelivers(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{}
	w := NewOutboxWorker(db, sink, nil, RetryPolicy{}, OutboxOptions{}, nil, nil)

	ev1 := seedBooking(t, db, "b1")
	ev2 := seedBooking(t, db, "b2")

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Equal(t, 2, sink.count())
	assert.Equal(t, ev1.ID, sink.delivered[0].ID)
	assert.Equal(t, ev2.ID, sink.delivered[1].ID)

	n, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "completed entries are not redelivered")
}

func TestRetryThenDeadLetter(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	db := newTestDB(t)
	sink := &fakeSink{err: errors.New("redis down")}
	clk := clock.NewManual(time.Now().Truncate(time.Second))
	w := NewOutboxWorker(db, sink, client,
		RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: time.Minute},
		OutboxOptions{DeadLetterKey: "dlq"}, clk, nil)

	seedBooking(t, db, "b1")
	ctx := context.Background()

	// Attempt 1 schedules a retry one second out.
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _ = w.RunOnce(ctx)
	assert.Zero(t, n, "not due before backoff elapses")

	clk.Advance(time.Second)
	n, _ = w.RunOnce(ctx)
	assert.Equal(t, 1, n)

	// Third attempt exhausts MaxRetries.
	clk.Advance(2 * time.Second)
	n, _ = w.RunOnce(ctx)
	assert.Equal(t, 1, n)

	failed, err := db.GetFailedOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "redis down", failed[0].LastError)
	assert.Equal(t, 2, failed[0].RetryCount)

	raw, err := client.LRange(ctx, "dlq", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var dead models.OutboxEntry
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &dead))
	assert.Equal(t, "b1", dead.BookingID)

	clk.Advance(time.Hour)
	n, _ = w.RunOnce(ctx)
	assert.Zero(t, n)
}

type memOutbox struct {
	entries []models.OutboxEntry
	updates map[int64]models.OutboxStatus
}

func (m *memOutbox) GetPendingOutbox(context.Context, time.Time, int) ([]models.OutboxEntry, error) {
	out := m.entries
	m.entries = nil
	return out, nil
}

func (m *memOutbox) UpdateOutboxStatus(_ context.Context, id int64, status models.OutboxStatus, _ string, _ *time.Time) error {
	m.updates[id] = status
	return nil
}

func (m *memOutbox) PurgeCompletedOutbox(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestUndecodablePayloadFailsImmediately(t *testing.T) {
	store := &memOutbox{
		entries: []models.OutboxEntry{{ID: 7, EventID: "e7", Payload: "{not json"}},
		updates: make(map[int64]models.OutboxStatus),
	}
	sink := &fakeSink{}
	w := NewOutboxWorker(store, sink, nil, RetryPolicy{}, OutboxOptions{}, nil, nil)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutboxFailed, store.updates[7])
	assert.Zero(t, sink.count())
}

func TestStartDeliversToRedisSink(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	db := newTestDB(t)
	sink := events.NewRedisSink(client, "feed", 10, 0)
	w := NewOutboxWorker(db, sink, client, RetryPolicy{}, OutboxOptions{PollInterval: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	seedBooking(t, db, "b1")
	w.Notify()

	assert.Eventually(t, func() bool {
		status, err := sink.BookingStatus(context.Background(), "b1")
		return err == nil && status == models.StatusRequested
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
	if d := policy.NextDelay(500); d != 5*time.Second {
		t.Fatalf("huge attempt expected capped 5s, got %s", d)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.OutboxConfig{MaxRetries: 4, InitialDelay: "500ms", MaxDelay: "10s"})
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
}
