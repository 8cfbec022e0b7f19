package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/refdata"
)

func listing(price, original float64, firstSeen time.Time) *models.Listing {
	return &models.Listing{
		Price:         decimal.NewFromFloat(price),
		OriginalPrice: decimal.NewFromFloat(original),
		Currency:      "USD",
		FirstSeenAt:   firstSeen,
	}
}

func resolution(retail, msrp float64) *refdata.Resolution {
	return &refdata.Resolution{
		RetailPrice: decimal.NewFromFloat(retail),
		MSRP:        decimal.NewFromFloat(msrp),
		Currency:    "USD",
	}
}

func TestScore_FullBreakdown(t *testing.T) {
	now := time.Now()
	l := listing(500, 1000, now)
	ref := resolution(1000, 1200)

	b := Score(l, ref, now, DefaultConfig())

	if !b.RetailSavings.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected retail savings 0.5, got %s", b.RetailSavings)
	}
	if !b.PriceDrop.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected price drop 0.5, got %s", b.PriceDrop)
	}
	if !b.Newness.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected newness 1 for fresh listing, got %s", b.Newness)
	}
	if !b.BelowRetail.IsZero() {
		t.Fatalf("price at exactly half retail is not below the bonus cutoff, got %s", b.BelowRetail)
	}
	// 0.4*0.5 + 0.3*0.5 + 0.2*1 + 0.1*0 = 0.55
	if !b.Score.Equal(decimal.NewFromFloat(0.55)) {
		t.Fatalf("expected score 0.55, got %s", b.Score)
	}
}

func TestScore_BelowRetailBonus(t *testing.T) {
	now := time.Now()
	l := listing(400, 400, now)
	ref := resolution(1000, 1200)

	b := Score(l, ref, now, DefaultConfig())
	if !b.BelowRetail.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected below-retail bonus, got %s", b.BelowRetail)
	}
}

func TestScore_NilReferenceDegrades(t *testing.T) {
	now := time.Now()
	l := listing(500, 1000, now)

	b := Score(l, nil, now, DefaultConfig())
	if !b.RetailSavings.IsZero() || !b.BelowRetail.IsZero() {
		t.Fatalf("retail factors must be zero without a reference: %+v", b)
	}
	// 0.3*0.5 + 0.2*1 = 0.35
	if !b.Score.Equal(decimal.NewFromFloat(0.35)) {
		t.Fatalf("expected degraded score 0.35, got %s", b.Score)
	}
}

func TestScore_MSRPFallback(t *testing.T) {
	now := time.Now()
	l := listing(600, 600, now)
	ref := &refdata.Resolution{MSRP: decimal.NewFromInt(1200), Currency: "USD"}

	b := Score(l, ref, now, DefaultConfig())
	if !b.RetailSavings.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected MSRP-based savings 0.5, got %s", b.RetailSavings)
	}
}

func TestScore_ClampsOutliers(t *testing.T) {
	now := time.Now()
	// Price above retail and above original: both ratios go negative.
	l := listing(2000, 1000, now.Add(-90*24*time.Hour))
	ref := resolution(1000, 1000)

	b := Score(l, ref, now, DefaultConfig())
	if b.RetailSavings.IsNegative() || b.PriceDrop.IsNegative() || b.Newness.IsNegative() {
		t.Fatalf("factors must clamp to [0,1]: %+v", b)
	}
	if !b.Newness.IsZero() {
		t.Fatalf("expected newness 0 past cutoff, got %s", b.Newness)
	}
}

func TestScore_MonotoneInPrice(t *testing.T) {
	now := time.Now()
	ref := resolution(1000, 1200)
	cfg := DefaultConfig()

	cheap := Score(listing(300, 900, now), ref, now, cfg)
	dear := Score(listing(800, 900, now), ref, now, cfg)
	if !cheap.Score.GreaterThan(dear.Score) {
		t.Fatalf("lower price must score higher: %s vs %s", cheap.Score, dear.Score)
	}
}

func TestScore_NewnessDecay(t *testing.T) {
	now := time.Now()
	ref := resolution(1000, 1200)
	cfg := DefaultConfig()

	fresh := Score(listing(500, 500, now.Add(-24*time.Hour)), ref, now, cfg)
	stale := Score(listing(500, 500, now.Add(-20*24*time.Hour)), ref, now, cfg)
	if !fresh.Newness.GreaterThan(stale.Newness) {
		t.Fatalf("newness must decay: %s vs %s", fresh.Newness, stale.Newness)
	}
}
