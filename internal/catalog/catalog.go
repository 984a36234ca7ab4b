// Package catalog loads the vendor-owned resource list the booking core
// prices and schedules against. The core never edits it.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"marketbook/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Catalog is an immutable id → resource index. Safe for concurrent reads.
type Catalog struct {
	resources map[string]*models.Resource
	order     []string
}

type fileDTO struct {
	Resources []resourceDTO `yaml:"resources"`
}

type resourceDTO struct {
	ID              string       `yaml:"id"`
	VendorID        string       `yaml:"vendor_id"`
	Name            string       `yaml:"name"`
	Kind            string       `yaml:"kind"`
	Currency        string       `yaml:"currency"`
	PricePerHour    string       `yaml:"price_per_hour"`
	CapacityMin     int          `yaml:"capacity_min"`
	CapacityMax     int          `yaml:"capacity_max"`
	AddOns          []priceDTO   `yaml:"add_ons"`
	Packages        []packageDTO `yaml:"packages"`
	AdditionalItems []priceDTO   `yaml:"additional_items"`
}

type priceDTO struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
}

type packageDTO struct {
	priceDTO `yaml:",inline"`
	Features []string `yaml:"features"`
}

// Load reads a catalog YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Prices are decimal strings.
func Parse(data []byte) (*Catalog, error) {
	var file fileDTO
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	resources := make([]*models.Resource, 0, len(file.Resources))
	for i := range file.Resources {
		r, err := file.Resources[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("resource %d (%q): %w", i, file.Resources[i].ID, err)
		}
		resources = append(resources, r)
	}
	return New(resources)
}

// New indexes resources, rejecting duplicates.
func New(resources []*models.Resource) (*Catalog, error) {
	c := &Catalog{resources: make(map[string]*models.Resource, len(resources))}
	for _, r := range resources {
		if r == nil {
			continue
		}
		if _, dup := c.resources[r.ID]; dup {
			return nil, fmt.Errorf("duplicate resource id %q", r.ID)
		}
		c.resources[r.ID] = r
		c.order = append(c.order, r.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

func (c *Catalog) Resource(id string) (*models.Resource, bool) {
	r, ok := c.resources[id]
	return r, ok
}

// Resources returns every resource ordered by id.
func (c *Catalog) Resources() []*models.Resource {
	out := make([]*models.Resource, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.resources[id])
	}
	return out
}

func (c *Catalog) ByVendor(vendorID string) []*models.Resource {
	var out []*models.Resource
	for _, id := range c.order {
		if r := c.resources[id]; r.VendorID == vendorID {
			out = append(out, r)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}

func (d *resourceDTO) toModel() (*models.Resource, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	if d.VendorID == "" {
		return nil, fmt.Errorf("vendor_id is required")
	}

	r := &models.Resource{
		ID:       d.ID,
		VendorID: d.VendorID,
		Name:     d.Name,
		Kind:     models.ResourceKind(d.Kind),
		Currency: d.Currency,
	}
	if r.Currency == "" {
		r.Currency = models.DefaultCurrency
	}

	switch r.Kind {
	case models.ResourceVenue:
		if len(d.Packages) > 0 || len(d.AdditionalItems) > 0 {
			return nil, fmt.Errorf("venue cannot define packages or additional items")
		}
		price, err := parsePrice("price_per_hour", d.PricePerHour)
		if err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("price_per_hour must be positive")
		}
		if d.CapacityMin < 0 || (d.CapacityMax > 0 && d.CapacityMax < d.CapacityMin) {
			return nil, fmt.Errorf("invalid capacity range %d..%d", d.CapacityMin, d.CapacityMax)
		}
		r.PricePerHour = price
		r.CapacityMin = d.CapacityMin
		r.CapacityMax = d.CapacityMax

		seen := map[string]bool{}
		for _, a := range d.AddOns {
			p, err := a.parse(seen)
			if err != nil {
				return nil, fmt.Errorf("add_on: %w", err)
			}
			r.AddOns = append(r.AddOns, models.VenueAddOn{ID: a.ID, Name: a.Name, Price: p})
		}

	case models.ResourceService:
		if d.PricePerHour != "" || len(d.AddOns) > 0 || d.CapacityMin != 0 || d.CapacityMax != 0 {
			return nil, fmt.Errorf("service cannot define venue pricing, capacity or add-ons")
		}
		if len(d.Packages) == 0 {
			return nil, fmt.Errorf("service needs at least one package")
		}
		seen := map[string]bool{}
		for _, pkg := range d.Packages {
			p, err := pkg.parse(seen)
			if err != nil {
				return nil, fmt.Errorf("package: %w", err)
			}
			r.Packages = append(r.Packages, models.Package{
				ID:       pkg.ID,
				Name:     pkg.Name,
				Price:    p,
				Features: append([]string(nil), pkg.Features...),
			})
		}
		seen = map[string]bool{}
		for _, it := range d.AdditionalItems {
			p, err := it.parse(seen)
			if err != nil {
				return nil, fmt.Errorf("additional_item: %w", err)
			}
			r.AdditionalItems = append(r.AdditionalItems, models.AdditionalItem{ID: it.ID, Name: it.Name, Price: p})
		}

	default:
		return nil, fmt.Errorf("unknown kind %q", d.Kind)
	}

	return r, nil
}

func (d priceDTO) parse(seen map[string]bool) (decimal.Decimal, error) {
	if d.ID == "" {
		return decimal.Decimal{}, fmt.Errorf("id is required")
	}
	if seen[d.ID] {
		return decimal.Decimal{}, fmt.Errorf("duplicate id %q", d.ID)
	}
	seen[d.ID] = true

	p, err := parsePrice(d.ID, d.Price)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if p.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s: price must not be negative", d.ID)
	}
	return p, nil
}

func parsePrice(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("%s: price is required", field)
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid price %q: %w", field, raw, err)
	}
	return p, nil
}
