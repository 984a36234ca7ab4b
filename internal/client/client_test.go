package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketbook/internal/api"
	"marketbook/internal/catalog"
	"marketbook/internal/clock"
	"marketbook/internal/config"
	"marketbook/internal/events"
	"marketbook/internal/ledger"
	"marketbook/internal/models"
	"marketbook/internal/registry"
	"marketbook/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	clk := clock.NewManual(t0)

	cat, err := catalog.New([]*models.Resource{{
		ID:           "loft",
		VendorID:     "v-halls",
		Kind:         models.ResourceVenue,
		Currency:     "USD",
		PricePerHour: decimal.NewFromInt(100),
		AddOns:       []models.VenueAddOn{{ID: "projector", Price: decimal.NewFromInt(50)}},
	}})
	require.NoError(t, err)

	bus := events.NewBus(&logger)
	reg := registry.New(nil, bus, clk, &logger)
	led := ledger.New(nil, clk, &logger)
	svc := service.NewBookingService(cat, reg, led, nil, service.Options{}, clk, &logger)

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "k1", Extra: "e1", Name: "tests"}},
		},
	}
	srv := api.NewHTTPServer(cfg, svc, api.Options{}, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func tomorrow(h1, h2 int) models.TimeSlot {
	day := t0.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	return models.TimeSlot{Start: day.Add(time.Duration(h1) * time.Hour), End: day.Add(time.Duration(h2) * time.Hour)}
}

func TestClientLifecycle(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL, "k1", "e1")
	ctx := context.Background()

	q, err := c.Quote(ctx, "loft", models.Selections{Hours: 2, AddOnIDs: []string{"projector"}})
	require.NoError(t, err)
	assert.True(t, q.Total.Equal(decimal.NewFromInt(250)), "got %s", q.Total)

	b, err := c.RequestBooking(ctx, BookingInput{
		RequestID:   "req-1",
		ResourceID:  "loft",
		RequesterID: "alice",
		Slot:        tomorrow(14, 16),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", b.ID)
	assert.Equal(t, models.StatusHeld, b.Status)

	_, err = c.RequestBooking(ctx, BookingInput{ResourceID: "loft", RequesterID: "bob", Slot: tomorrow(15, 17)})
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	b, err = c.Respond(ctx, b.ID, "v-halls", models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, b.Status)

	got, err := c.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, got.StatusHistory, 3)

	avail, err := c.Availability(ctx, "loft", "2025-06-02")
	require.NoError(t, err)
	require.Len(t, avail.Claims, 1)
	assert.True(t, avail.Claims[0].Confirmed)

	b, err = c.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)

	_, err = c.Cancel(ctx, b.ID, "alice")
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	st, err := c.VendorStats(ctx, "v-halls")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ByStatus[models.StatusCompleted])

	_, err = c.VendorFeed(ctx, "v-halls", 10)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err), "no feed without redis")
}

func TestClientAuthErrors(t *testing.T) {
	ts := newServer(t)

	_, err := New(ts.URL, "", "").GetBooking(context.Background(), "x")
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	_, err = New(ts.URL, "k1", "e1").GetBooking(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
	assert.Zero(t, StatusCode(assert.AnError))
}

func TestClientCachesAvailability(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resource_id":"loft","claims":[]}`))
	}))
	t.Cleanup(ts.Close)

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := New(ts.URL, "", "")
	c.UseRedisCache(rdb, time.Minute)
	ctx := context.Background()

	for range 3 {
		avail, err := c.Availability(ctx, "loft", "2025-06-02")
		require.NoError(t, err)
		assert.Equal(t, "loft", avail.ResourceID)
	}
	assert.Equal(t, int32(1), hits.Load())

	s.FastForward(2 * time.Minute)
	_, err = c.Availability(ctx, "loft", "2025-06-02")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
