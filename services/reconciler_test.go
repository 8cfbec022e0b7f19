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

func testReconciler(store *fakeStore) *Reconciler {
	rates := pricing.Rates{"CAD": decimal.NewFromFloat(0.74)}
	resolver := refdata.NewResolver(nil, rates)
	return NewReconciler(store, rates, decimal.NewFromFloat(0.01), resolver, scoring.DefaultConfig())
}

func candidate(sourceID string, observed time.Time) *models.Candidate {
	return &models.Candidate{
		SourceID:     sourceID,
		Source:       "kijiji",
		URL:          "https://www.kijiji.ca/v-3d-printer/" + sourceID,
		Title:        "Bambu Lab P1S, like new",
		RawPriceText: "$800",
		CurrencyHint: "CAD",
		Location:     "Toronto, ON",
		ObservedAt:   observed,
	}
}

func parsed(amount float64, currency string) pricing.Parsed {
	return pricing.Parsed{Amount: decimal.NewFromFloat(amount), Currency: currency}
}

func TestProcess_NewListing(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	now := time.Now()

	res, err := rec.Process(context.Background(), candidate("1001", now), parsed(800, "CAD"), "bambu", "p1s")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomeNew {
		t.Fatalf("expected NEW, got %s", res.Outcome)
	}

	l := res.Listing
	if !l.Price.Equal(decimal.NewFromInt(800)) || !l.OriginalPrice.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("original must equal first observed price: %s / %s", l.Price, l.OriginalPrice)
	}
	if !l.Active || l.ConsecutiveMisses != 0 {
		t.Fatalf("new listing must start active with zero misses")
	}
	if l.Brand != "bambu" || l.Model != "p1s" {
		t.Fatalf("detection not stored: %s/%s", l.Brand, l.Model)
	}
	if len(store.snapshots) != 0 {
		t.Fatalf("first sighting must not append a snapshot, got %d", len(store.snapshots))
	}
	if l.DealScore == nil {
		t.Fatalf("expected deal score on create")
	}
}

func TestProcess_UnchangedSecondPass(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()
	first := time.Now().Add(-time.Hour)

	created, err := rec.Process(ctx, candidate("1001", first), parsed(800, "CAD"), "bambu", "p1s")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	later := time.Now()
	res, err := rec.Process(ctx, candidate("1001", later), parsed(800, "CAD"), "bambu", "p1s")
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if res.Outcome != OutcomeUnchanged {
		t.Fatalf("expected UNCHANGED, got %s", res.Outcome)
	}
	if res.Listing.ID != created.Listing.ID {
		t.Fatalf("same candidate must reconcile to the same listing")
	}
	if !res.Listing.LastSeenAt.Equal(later) {
		t.Fatalf("unchanged must still refresh last_seen_at")
	}
	if len(store.snapshots) != 0 {
		t.Fatalf("unchanged must not append snapshots")
	}
}

func TestProcess_PriceChanged(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	created, _ := rec.Process(ctx, candidate("1001", time.Now().Add(-time.Hour)), parsed(800, "CAD"), "bambu", "p1s")

	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(650, "CAD"), "bambu", "p1s")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomePriceChanged {
		t.Fatalf("expected PRICE_CHANGED, got %s", res.Outcome)
	}
	if res.Snapshot == nil || !res.Snapshot.Price.Equal(decimal.NewFromInt(650)) {
		t.Fatalf("expected snapshot at new price, got %+v", res.Snapshot)
	}

	stored, _ := store.GetListing(ctx, created.Listing.ID)
	if !stored.Price.Equal(decimal.NewFromInt(650)) {
		t.Fatalf("price not updated: %s", stored.Price)
	}
	if !stored.OriginalPrice.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("original price must never move: %s", stored.OriginalPrice)
	}
}

func TestProcess_SubCentNoise(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	rec.Process(ctx, candidate("1001", time.Now().Add(-time.Hour)), parsed(800.00, "CAD"), "", "")
	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(800.01, "CAD"), "", "")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomeUnchanged {
		t.Fatalf("one-cent delta within epsilon must be UNCHANGED, got %s", res.Outcome)
	}
}

func TestProcess_CurrencySwitchIsChange(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	rec.Process(ctx, candidate("1001", time.Now().Add(-time.Hour)), parsed(800, "CAD"), "", "")
	// 800 CAD = 592 USD; 800 USD is a real move.
	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(800, "USD"), "", "")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomePriceChanged {
		t.Fatalf("expected USD-normalized change, got %s", res.Outcome)
	}
}

func TestProcess_MissingRateTreatedAsChange(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	rec.Process(ctx, candidate("1001", time.Now().Add(-time.Hour)), parsed(800, "CAD"), "", "")
	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(800, "JPY"), "", "")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomePriceChanged {
		t.Fatalf("unconvertible comparison must err toward recording history, got %s", res.Outcome)
	}
}

func TestProcess_SaleFlipIsChange(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	rec.Process(ctx, candidate("1001", time.Now().Add(-time.Hour)), parsed(800, "CAD"), "", "")

	nominal := decimal.NewFromInt(1000)
	onSale := pricing.Parsed{Amount: decimal.NewFromInt(800), Currency: "CAD", IsSale: true, NominalAmount: &nominal}
	res, err := rec.Process(ctx, candidate("1001", time.Now()), onSale, "", "")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomePriceChanged {
		t.Fatalf("sale flip at the same amount is a material change, got %s", res.Outcome)
	}
	if res.Snapshot == nil || !res.Snapshot.IsSale {
		t.Fatalf("expected a sale-marked snapshot, got %+v", res.Snapshot)
	}
	if !res.Listing.IsSale || !res.Listing.NominalPrice.Equal(nominal) {
		t.Fatalf("sale state not stored: is_sale=%v nominal=%s", res.Listing.IsSale, res.Listing.NominalPrice)
	}
}

func TestProcess_EqualValueCurrencyRelabel(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	rec.Process(ctx, candidate("1001", time.Now().Add(-time.Hour)), parsed(800, "CAD"), "", "")
	// 800 CAD = 592 USD exactly at the test rate: same value in a new
	// currency is not price movement.
	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(592, "USD"), "", "")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomeUnchanged {
		t.Fatalf("expected UNCHANGED on equal USD value, got %s", res.Outcome)
	}
	if len(store.snapshots) != 0 {
		t.Fatalf("no snapshot expected, got %d", len(store.snapshots))
	}
}

func TestProcess_Reactivation(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	created, _ := rec.Process(ctx, candidate("1001", time.Now().Add(-48*time.Hour)), parsed(800, "CAD"), "bambu", "p1s")
	store.listings[created.Listing.ID].Active = false
	store.listings[created.Listing.ID].ConsecutiveMisses = 3

	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(800, "CAD"), "bambu", "p1s")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomeReactivated {
		t.Fatalf("expected REACTIVATED, got %s", res.Outcome)
	}
	if res.PriceChanged {
		t.Fatalf("same price on return is not a price change")
	}
	if res.Snapshot != nil {
		t.Fatalf("no snapshot without a price move")
	}

	stored, _ := store.GetListing(ctx, created.Listing.ID)
	if !stored.Active || stored.ConsecutiveMisses != 0 {
		t.Fatalf("reactivation must reset active/misses: %+v", stored)
	}
}

func TestProcess_ReactivationWithNewPrice(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	created, _ := rec.Process(ctx, candidate("1001", time.Now().Add(-48*time.Hour)), parsed(800, "CAD"), "bambu", "p1s")
	store.listings[created.Listing.ID].Active = false

	res, err := rec.Process(ctx, candidate("1001", time.Now()), parsed(700, "CAD"), "bambu", "p1s")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != OutcomeReactivated {
		t.Fatalf("reactivation is the single outcome even with a new price, got %s", res.Outcome)
	}
	if !res.PriceChanged || res.Snapshot == nil {
		t.Fatalf("price move on reactivation must still be recorded")
	}
}

func TestProcess_URLKeyedCandidate(t *testing.T) {
	store := newFakeStore()
	rec := testReconciler(store)
	ctx := context.Background()

	c := &models.Candidate{
		Source:       "retail",
		URL:          "https://www.sovol3d.com/products/sv06",
		Title:        "Sovol SV06",
		RawPriceText: "US$219",
		ObservedAt:   time.Now(),
	}
	first, err := rec.Process(ctx, c, parsed(219, "USD"), "sovol", "sv06")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if first.Outcome != OutcomeNew {
		t.Fatalf("expected NEW, got %s", first.Outcome)
	}

	// Same page with URL noise resolves to the same listing.
	c2 := *c
	c2.URL = "https://sovol3d.com/products/sv06/?utm_source=feed"
	second, err := rec.Process(ctx, &c2, parsed(219, "USD"), "sovol", "sv06")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if second.Outcome != OutcomeUnchanged || second.Listing.ID != first.Listing.ID {
		t.Fatalf("normalized URL must identify the listing: %s", second.Outcome)
	}
}
