package refdata

import (
	"testing"

	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/pricing"
)

func testResolver() *Resolver {
	refs := []models.RetailReference{
		{Brand: "bambu", Model: "x1 carbon", MSRP: decimal.NewFromInt(1449), RetailPrice: decimal.NewFromInt(1249), Currency: "USD"},
		{Brand: "bambu", Model: "", MSRP: decimal.NewFromInt(699), RetailPrice: decimal.NewFromInt(599), Currency: "USD"},
		{Brand: "sovol", Model: "sv06", MSRP: decimal.NewFromInt(259), RetailPrice: decimal.NewFromInt(219), Currency: "JPY"},
	}
	rates := pricing.Rates{"CAD": decimal.NewFromFloat(0.74)}
	return NewResolver(refs, rates)
}

func TestResolve_ExactMatch(t *testing.T) {
	r := testResolver()

	res := r.Resolve("bambu", "x1 carbon", "USD")
	if res == nil {
		t.Fatalf("expected resolution")
	}
	if !res.RetailPrice.Equal(decimal.NewFromInt(1249)) {
		t.Fatalf("expected retail 1249, got %s", res.RetailPrice)
	}
	if !res.MSRP.Equal(decimal.NewFromInt(1449)) {
		t.Fatalf("expected msrp 1449, got %s", res.MSRP)
	}
}

func TestResolve_BrandFallback(t *testing.T) {
	r := testResolver()

	res := r.Resolve("Bambu", "a1 mini", "USD")
	if res == nil {
		t.Fatalf("expected brand-level fallback")
	}
	if !res.RetailPrice.Equal(decimal.NewFromInt(599)) {
		t.Fatalf("expected brand-level retail 599, got %s", res.RetailPrice)
	}
}

func TestResolve_CurrencyConversion(t *testing.T) {
	r := testResolver()

	res := r.Resolve("bambu", "x1 carbon", "CAD")
	if res == nil {
		t.Fatalf("expected resolution")
	}
	// 1249 USD / 0.74 = 1687.84 CAD
	if !res.RetailPrice.Equal(decimal.NewFromFloat(1687.84)) {
		t.Fatalf("expected 1687.84 CAD, got %s", res.RetailPrice)
	}
	if res.Currency != "CAD" {
		t.Fatalf("expected CAD, got %s", res.Currency)
	}
}

func TestResolve_MissingRateDegradesToNil(t *testing.T) {
	r := testResolver()

	if res := r.Resolve("sovol", "sv06", "USD"); res != nil {
		t.Fatalf("expected nil for unconvertible reference currency, got %+v", res)
	}
}

func TestResolve_UnknownBrand(t *testing.T) {
	r := testResolver()

	if res := r.Resolve("voron", "trident", "USD"); res != nil {
		t.Fatalf("expected nil for unknown brand, got %+v", res)
	}
	if res := r.Resolve("", "", "USD"); res != nil {
		t.Fatalf("expected nil for empty brand, got %+v", res)
	}
}
