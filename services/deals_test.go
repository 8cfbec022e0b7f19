package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/pricing"
	"dealtracker/refdata"
	"dealtracker/scoring"
)

func TestComputeDeals_RanksAndAnnotates(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.listings["cheap"] = &models.Listing{
		ID: "cheap", Title: "Bambu P1S", Brand: "bambu", Model: "p1s",
		Price: decimal.NewFromInt(400), OriginalPrice: decimal.NewFromInt(800),
		NominalPrice: decimal.NewFromInt(400), Currency: "USD",
		FirstSeenAt: now.Add(-24 * time.Hour), LastSeenAt: now, Active: true,
	}
	store.listings["dear"] = &models.Listing{
		ID: "dear", Title: "Bambu P1S", Brand: "bambu", Model: "p1s",
		Price: decimal.NewFromInt(780), OriginalPrice: decimal.NewFromInt(800),
		NominalPrice: decimal.NewFromInt(780), Currency: "USD",
		FirstSeenAt: now.Add(-40 * 24 * time.Hour), LastSeenAt: now, Active: true,
	}
	store.listings["hidden"] = &models.Listing{
		ID: "hidden", Title: "Bambu P1S", Price: decimal.NewFromInt(1),
		OriginalPrice: decimal.NewFromInt(1), Currency: "USD",
		FirstSeenAt: now, LastSeenAt: now, Active: true, Hidden: true,
	}

	refs := []models.RetailReference{
		{Brand: "bambu", Model: "p1s", MSRP: decimal.NewFromInt(699), RetailPrice: decimal.NewFromInt(599), Currency: "USD"},
	}
	resolver := refdata.NewResolver(refs, pricing.Rates{})

	deals, err := ComputeDeals(context.Background(), store, resolver, scoring.DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("hidden listings excluded, expected 2 deals, got %d", len(deals))
	}
	if deals[0].ListingID != "cheap" {
		t.Fatalf("expected cheap listing ranked first, got %s", deals[0].ListingID)
	}

	top := deals[0]
	if !top.PriceDropAbs.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected drop 400, got %s", top.PriceDropAbs)
	}
	if !top.PriceDropPct.Equal(decimal.NewFromFloat(50.0)) {
		t.Fatalf("expected drop 50%%, got %s", top.PriceDropPct)
	}
	if top.RetailPrice == nil || !top.RetailPrice.Equal(decimal.NewFromInt(599)) {
		t.Fatalf("expected retail price annotation, got %v", top.RetailPrice)
	}
	if top.PriceToRetailRatio == nil || !top.PriceToRetailRatio.Equal(decimal.NewFromFloat(0.668)) {
		t.Fatalf("expected ratio 0.668, got %v", top.PriceToRetailRatio)
	}
}

func TestRescoreAll(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.listings["a"] = &models.Listing{
		ID: "a", Title: "Bambu P1S", Brand: "bambu", Model: "p1s",
		Price: decimal.NewFromInt(400), OriginalPrice: decimal.NewFromInt(800),
		NominalPrice: decimal.NewFromInt(400), Currency: "USD",
		FirstSeenAt: now.Add(-24 * time.Hour), LastSeenAt: now, Active: true,
	}
	store.listings["gone"] = &models.Listing{
		ID: "gone", Title: "Old", Price: decimal.NewFromInt(100),
		OriginalPrice: decimal.NewFromInt(100), Currency: "USD",
		FirstSeenAt: now, LastSeenAt: now, Active: false,
	}

	refs := []models.RetailReference{
		{Brand: "bambu", Model: "p1s", MSRP: decimal.NewFromInt(699), RetailPrice: decimal.NewFromInt(599), Currency: "USD"},
	}
	resolver := refdata.NewResolver(refs, pricing.Rates{})

	n, err := RescoreAll(context.Background(), store, resolver, scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("rescore failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("inactive listings skipped, expected 1 rescored, got %d", n)
	}
	if store.listings["a"].DealScore == nil || !store.listings["a"].DealScore.IsPositive() {
		t.Fatalf("expected positive stored score, got %v", store.listings["a"].DealScore)
	}
	if store.listings["gone"].DealScore != nil {
		t.Fatalf("inactive listing must not be rescored")
	}
}

func TestComputeDeals_Limit(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		store.listings[id] = &models.Listing{
			ID: id, Title: id, Price: decimal.NewFromInt(100),
			OriginalPrice: decimal.NewFromInt(200), NominalPrice: decimal.NewFromInt(100),
			Currency: "USD", FirstSeenAt: now, LastSeenAt: now, Active: true,
		}
	}
	deals, err := ComputeDeals(context.Background(), store, refdata.NewResolver(nil, pricing.Rates{}), scoring.DefaultConfig(), 2)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("expected limit 2, got %d", len(deals))
	}
}
