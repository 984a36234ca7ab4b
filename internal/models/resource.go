package models

import "github.com/shopspring/decimal"

type ResourceKind string

const (
	ResourceVenue   ResourceKind = "venue"
	ResourceService ResourceKind = "service"
)

// Resource is a bookable venue or service. Ownership (VendorID) is managed
// outside the booking core and only carried here.
type Resource struct {
	ID       string       `json:"id"`
	VendorID string       `json:"vendor_id"`
	Name     string       `json:"name"`
	Kind     ResourceKind `json:"kind"`
	Currency string       `json:"currency"`

	// Venue fields.
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	CapacityMin  int             `json:"capacity_min,omitempty"`
	CapacityMax  int             `json:"capacity_max,omitempty"`
	AddOns       []VenueAddOn    `json:"add_ons,omitempty"`

	// Service fields.
	Packages        []Package        `json:"packages,omitempty"`
	AdditionalItems []AdditionalItem `json:"additional_items,omitempty"`
}

type VenueAddOn struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Package struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Features []string        `json:"features,omitempty"`
}

type AdditionalItem struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func (r *Resource) AddOn(id string) (VenueAddOn, bool) {
	for _, a := range r.AddOns {
		if a.ID == id {
			return a, true
		}
	}
	return VenueAddOn{}, false
}

func (r *Resource) Package(id string) (Package, bool) {
	for _, p := range r.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

func (r *Resource) AdditionalItem(id string) (AdditionalItem, bool) {
	for _, it := range r.AdditionalItems {
		if it.ID == id {
			return it, true
		}
	}
	return AdditionalItem{}, false
}
