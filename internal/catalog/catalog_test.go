package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"marketbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
resources:
  - id: loft
    vendor_id: v-halls
    name: Riverside Loft
    kind: venue
    price_per_hour: "100"
    capacity_min: 10
    capacity_max: 80
    add_ons:
      - {id: projector, name: Projector, price: "50"}
      - {id: catering, name: Catering setup, price: 30}
  - id: photo
    vendor_id: v-photo
    name: Event photography
    kind: service
    currency: EUR
    packages:
      - id: basic
        name: Basic
        price: "199.99"
        features: [2 hours, 50 edited photos]
    additional_items:
      - {id: album, name: Printed album, price: "45.50"}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	loft, ok := c.Resource("loft")
	require.True(t, ok)
	assert.Equal(t, models.ResourceVenue, loft.Kind)
	assert.Equal(t, "USD", loft.Currency)
	assert.Equal(t, "100", loft.PricePerHour.String())
	assert.Equal(t, 80, loft.CapacityMax)
	require.Len(t, loft.AddOns, 2)
	assert.Equal(t, "30", loft.AddOns[1].Price.String(), "unquoted prices are accepted")

	photo, ok := c.Resource("photo")
	require.True(t, ok)
	assert.Equal(t, "EUR", photo.Currency)
	pkg, ok := photo.Package("basic")
	require.True(t, ok)
	assert.Equal(t, "199.99", pkg.Price.String())
	assert.Equal(t, []string{"2 hours", "50 edited photos"}, pkg.Features)

	_, ok = c.Resource("missing")
	assert.False(t, ok)

	ids := []string{}
	for _, r := range c.Resources() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"loft", "photo"}, ids)
	require.Len(t, c.ByVendor("v-photo"), 1)
	assert.Empty(t, c.ByVendor("nobody"))
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"no vendor":  `resources: [{id: a, kind: venue, price_per_hour: "1"}]`,
		"bad kind":   `resources: [{id: a, vendor_id: v, kind: castle}]`,
		"no price":   `resources: [{id: a, vendor_id: v, kind: venue}]`,
		"bad price":  `resources: [{id: a, vendor_id: v, kind: venue, price_per_hour: "ten"}]`,
		"zero rate":  `resources: [{id: a, vendor_id: v, kind: venue, price_per_hour: "0"}]`,
		"capacity":   `resources: [{id: a, vendor_id: v, kind: venue, price_per_hour: "1", capacity_min: 10, capacity_max: 5}]`,
		"no package": `resources: [{id: a, vendor_id: v, kind: service}]`,
		"service with rate": `resources: [{id: a, vendor_id: v, kind: service, price_per_hour: "1",
			packages: [{id: p, price: "1"}]}]`,
		"venue with package": `resources: [{id: a, vendor_id: v, kind: venue, price_per_hour: "1",
			packages: [{id: p, price: "1"}]}]`,
		"duplicate add-on": `resources: [{id: a, vendor_id: v, kind: venue, price_per_hour: "1",
			add_ons: [{id: x, price: "1"}, {id: x, price: "2"}]}]`,
		"negative item": `resources: [{id: a, vendor_id: v, kind: service,
			packages: [{id: p, price: "1"}], additional_items: [{id: i, price: "-1"}]}]`,
		"duplicate resource": `resources: [{id: a, vendor_id: v, kind: venue, price_per_hour: "1"},
			{id: a, vendor_id: v, kind: venue, price_per_hour: "1"}]`,
		"not yaml": `resources: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
