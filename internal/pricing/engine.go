// Package pricing computes quotes for venue hours and service packages.
package pricing

import (
	"fmt"
	"time"

	"marketbook/internal/domain"
	"marketbook/internal/models"

	"github.com/shopspring/decimal"
)

const (
	LinePackage        = "package"
	LineAdditionalItem = "additional_item"
	LineAddOn          = "add_on"
	LineHours          = "hours"
)

// Quote prices selections against resource. It reads resource only and
// keeps no state, so it is safe for concurrent use.
func Quote(resource *models.Resource, sel models.Selections, at time.Time) (models.Quote, error) {
	if resource == nil {
		return models.Quote{}, fmt.Errorf("nil resource: %w", domain.ErrInvalidSelection)
	}

	var (
		lines []models.QuoteLine
		err   error
	)
	switch resource.Kind {
	case models.ResourceVenue:
		lines, err = venueLines(resource, sel)
	case models.ResourceService:
		lines, err = serviceLines(resource, sel)
	default:
		err = fmt.Errorf("resource %s has unknown kind %q: %w", resource.ID, resource.Kind, domain.ErrInvalidSelection)
	}
	if err != nil {
		return models.Quote{}, err
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}

	currency := resource.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return models.NewQuote(resource.ID, sel, lines, total, currency, at), nil
}

func venueLines(r *models.Resource, sel models.Selections) ([]models.QuoteLine, error) {
	if sel.PackageID != "" || len(sel.AdditionalItemIDs) > 0 {
		return nil, invalid("venue %s does not offer packages or additional items", r.ID)
	}
	if sel.Hours <= 0 {
		return nil, invalid("hours must be positive, got %d", sel.Hours)
	}
	if sel.Guests != 0 {
		if sel.Guests < 0 || (r.CapacityMin > 0 && sel.Guests < r.CapacityMin) || (r.CapacityMax > 0 && sel.Guests > r.CapacityMax) {
			return nil, invalid("guests %d outside capacity %d-%d", sel.Guests, r.CapacityMin, r.CapacityMax)
		}
	}
	if err := checkUnique(sel.AddOnIDs); err != nil {
		return nil, err
	}

	lines := make([]models.QuoteLine, 0, len(sel.AddOnIDs)+1)
	lines = append(lines, models.QuoteLine{
		Kind:     LineHours,
		Name:     r.Name,
		Quantity: sel.Hours,
		Amount:   r.PricePerHour.Mul(decimal.NewFromInt(int64(sel.Hours))),
	})
	for _, id := range sel.AddOnIDs {
		addOn, ok := r.AddOn(id)
		if !ok {
			return nil, invalid("add-on %s does not belong to venue %s", id, r.ID)
		}
		lines = append(lines, models.QuoteLine{Kind: LineAddOn, RefID: addOn.ID, Name: addOn.Name, Quantity: 1, Amount: addOn.Price})
	}
	return lines, nil
}

func serviceLines(r *models.Resource, sel models.Selections) ([]models.QuoteLine, error) {
	if len(sel.AddOnIDs) > 0 || sel.Hours != 0 || sel.Guests != 0 {
		return nil, invalid("service %s is priced per package", r.ID)
	}
	if sel.PackageID == "" {
		return nil, invalid("service %s requires exactly one package", r.ID)
	}
	pkg, ok := r.Package(sel.PackageID)
	if !ok {
		return nil, invalid("package %s does not belong to service %s", sel.PackageID, r.ID)
	}
	if err := checkUnique(sel.AdditionalItemIDs); err != nil {
		return nil, err
	}

	lines := make([]models.QuoteLine, 0, len(sel.AdditionalItemIDs)+1)
	lines = append(lines, models.QuoteLine{Kind: LinePackage, RefID: pkg.ID, Name: pkg.Name, Quantity: 1, Amount: pkg.Price})
	for _, id := range sel.AdditionalItemIDs {
		item, ok := r.AdditionalItem(id)
		if !ok {
			return nil, invalid("additional item %s does not belong to service %s", id, r.ID)
		}
		lines = append(lines, models.QuoteLine{Kind: LineAdditionalItem, RefID: item.ID, Name: item.Name, Quantity: 1, Amount: item.Price})
	}
	return lines, nil
}

func checkUnique(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return invalid("selection %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrInvalidSelection)
}
