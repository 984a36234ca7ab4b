package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Selections is the quote-scoped choice set. Catalog entries are never
// flagged as selected; concurrent quotes share the catalog read-only.
type Selections struct {
	PackageID         string   `json:"package_id,omitempty"`
	AdditionalItemIDs []string `json:"additional_item_ids,omitempty"`
	AddOnIDs          []string `json:"add_on_ids,omitempty"`
	Hours             int      `json:"hours,omitempty"`
	Guests            int      `json:"guests,omitempty"`
}

func (s Selections) clone() Selections {
	out := s
	out.AdditionalItemIDs = append([]string(nil), s.AdditionalItemIDs...)
	out.AddOnIDs = append([]string(nil), s.AddOnIDs...)
	return out
}

type QuoteLine struct {
	Kind     string          `json:"kind"` // package, additional_item, add_on, hours
	RefID    string          `json:"ref_id,omitempty"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// Quote is an immutable priced selection. Use NewQuote; do not mutate.
type Quote struct {
	ResourceID string          `json:"resource_id"`
	Selections Selections      `json:"selections"`
	Lines      []QuoteLine     `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	QuotedAt   time.Time       `json:"quoted_at"`
}

func NewQuote(resourceID string, sel Selections, lines []QuoteLine, total decimal.Decimal, currency string, at time.Time) Quote {
	return Quote{
		ResourceID: resourceID,
		Selections: sel.clone(),
		Lines:      append([]QuoteLine(nil), lines...),
		Total:      total,
		Currency:   currency,
		QuotedAt:   at,
	}
}

// Clone returns a copy that shares no slices with q.
func (q Quote) Clone() Quote {
	return NewQuote(q.ResourceID, q.Selections, q.Lines, q.Total, q.Currency, q.QuotedAt)
}
