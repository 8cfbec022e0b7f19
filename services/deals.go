package services

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/refdata"
	"dealtracker/scoring"
	"dealtracker/storage"
)

// RescoreAll recomputes and stores the deal score for every active listing.
// Called after retail reference data changes outside a scrape cycle.
func RescoreAll(ctx context.Context, store storage.Store, resolver *refdata.Resolver, cfg scoring.Config) (int, error) {
	listings, err := store.GetListings(ctx, models.ListingFilters{ActiveOnly: true, ShowHidden: true})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for i := range listings {
		l := &listings[i]
		var ref *refdata.Resolution
		if resolver != nil {
			ref = resolver.Resolve(l.Brand, l.Model, l.Currency)
		}
		b := scoring.Score(l, ref, now, cfg)
		if err := store.UpdateDealScore(ctx, l.ID, b.Score); err != nil {
			return i, err
		}
	}
	return len(listings), nil
}

// ComputeDeals builds the ranked deal view over active, visible listings.
// Scores are recomputed from current state rather than read from the stored
// column so the newness factor decays between scrape cycles.
func ComputeDeals(ctx context.Context, store storage.Store, resolver *refdata.Resolver, cfg scoring.Config, limit int) ([]models.Deal, error) {
	listings, err := store.GetListings(ctx, models.ListingFilters{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	hundred := decimal.NewFromInt(100)

	deals := make([]models.Deal, 0, len(listings))
	for i := range listings {
		l := &listings[i]

		var ref *refdata.Resolution
		if resolver != nil {
			ref = resolver.Resolve(l.Brand, l.Model, l.Currency)
		}
		b := scoring.Score(l, ref, now, cfg)

		d := models.Deal{
			ListingID:     l.ID,
			Title:         l.Title,
			URL:           l.URL,
			Source:        l.Source,
			Brand:         l.Brand,
			Model:         l.Model,
			Currency:      l.Currency,
			CurrentPrice:  l.Price,
			OriginalPrice: l.OriginalPrice,
			Location:      l.Location,
			DaysTracked:   int(now.Sub(l.FirstSeenAt).Hours() / 24),
			Score:         b.Score,
		}

		d.PriceDropAbs = l.OriginalPrice.Sub(l.Price)
		if l.OriginalPrice.IsPositive() {
			d.PriceDropPct = d.PriceDropAbs.Div(l.OriginalPrice).Mul(hundred).Round(1)
		}

		if ref != nil {
			if ref.RetailPrice.IsPositive() {
				retail := ref.RetailPrice
				d.RetailPrice = &retail
				ratio := l.Price.Div(retail).Round(3)
				d.PriceToRetailRatio = &ratio
			}
			if ref.MSRP.IsPositive() {
				msrp := ref.MSRP
				d.MSRP = &msrp
				if d.PriceToRetailRatio == nil {
					ratio := l.Price.Div(msrp).Round(3)
					d.PriceToRetailRatio = &ratio
				}
			}
		}

		deals = append(deals, d)
	}

	sort.SliceStable(deals, func(i, j int) bool {
		return deals[i].Score.GreaterThan(deals[j].Score)
	})

	if limit > 0 && len(deals) > limit {
		deals = deals[:limit]
	}
	return deals, nil
}
