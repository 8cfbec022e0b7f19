package refdata

import (
	"strings"

	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/pricing"
)

// Resolution carries MSRP and current retail price converted into the
// listing's currency.
type Resolution struct {
	Brand       string
	Model       string
	MSRP        decimal.Decimal
	RetailPrice decimal.Decimal
	Currency    string
}

// Resolver looks up retail reference rows for a (brand, model) and converts
// the figures into the listing currency. It never fails the pipeline: any
// gap (no row, no FX rate) resolves to nil and scoring degrades.
type Resolver struct {
	exact    map[string]models.RetailReference
	brandLvl map[string]models.RetailReference
	rates    pricing.Rates
}

func NewResolver(refs []models.RetailReference, rates pricing.Rates) *Resolver {
	r := &Resolver{
		exact:    make(map[string]models.RetailReference),
		brandLvl: make(map[string]models.RetailReference),
		rates:    rates,
	}
	for _, ref := range refs {
		brand := strings.ToLower(ref.Brand)
		model := strings.ToLower(ref.Model)
		if model == "" {
			r.brandLvl[brand] = ref
			continue
		}
		r.exact[brand+"\x00"+model] = ref
	}
	return r
}

// Resolve returns the reference prices for (brand, model) in listingCurrency,
// falling back to the brand-level row when the exact model is unknown.
func (r *Resolver) Resolve(brand, model, listingCurrency string) *Resolution {
	if brand == "" {
		return nil
	}
	b := strings.ToLower(brand)

	ref, ok := r.exact[b+"\x00"+strings.ToLower(model)]
	if !ok {
		ref, ok = r.brandLvl[b]
	}
	if !ok {
		return nil
	}

	msrp, err := r.rates.Convert(ref.MSRP, ref.Currency, listingCurrency)
	if err != nil {
		return nil
	}
	retail, err := r.rates.Convert(ref.RetailPrice, ref.Currency, listingCurrency)
	if err != nil {
		return nil
	}

	return &Resolution{
		Brand:       ref.Brand,
		Model:       ref.Model,
		MSRP:        msrp,
		RetailPrice: retail,
		Currency:    strings.ToUpper(listingCurrency),
	}
}
