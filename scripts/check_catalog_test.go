package main

import (
	"testing"

	"marketbook/internal/catalog"
	"marketbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBookings(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
resources:
  - id: hall
    vendor_id: v1
    name: Hall
    kind: venue
    price_per_hour: 100
`))
	require.NoError(t, err)

	booking := func(id, resource, vendor string, status models.BookingStatus) *models.Booking {
		return &models.Booking{
			ID:      id,
			Status:  status,
			Request: models.BookingRequest{ID: id, ResourceID: resource, VendorID: vendor},
		}
	}

	problems := checkBookings(cat, []*models.Booking{
		booking("ok", "hall", "v1", models.StatusAccepted),
		booking("gone", "garden", "v1", models.StatusHeld),
		booking("moved", "hall", "v2", models.StatusCompleted),
	})

	require.Len(t, problems, 2)
	assert.Equal(t, "gone", problems[0].BookingID)
	assert.Contains(t, problems[0].Detail, `"garden"`)
	assert.False(t, problems[0].Status.IsTerminal())
	assert.Equal(t, "moved", problems[1].BookingID)
	assert.True(t, problems[1].Status.IsTerminal())
}
