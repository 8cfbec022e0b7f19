package scoring

import (
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/refdata"
)

// Weights order the scoring factors by priority. Retail savings carries the
// largest weight.
type Weights struct {
	RetailSavings decimal.Decimal
	PriceDrop     decimal.Decimal
	Newness       decimal.Decimal
	BelowRetail   decimal.Decimal
}

// Config holds the tunables for deal scoring.
type Config struct {
	Weights           Weights
	BelowRetailRatio  decimal.Decimal
	NewnessCutoffDays int
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			RetailSavings: decimal.NewFromFloat(0.40),
			PriceDrop:     decimal.NewFromFloat(0.30),
			Newness:       decimal.NewFromFloat(0.20),
			BelowRetail:   decimal.NewFromFloat(0.10),
		},
		BelowRetailRatio:  decimal.NewFromFloat(0.5),
		NewnessCutoffDays: 30,
	}
}

// Breakdown keeps the per-factor values alongside the composite score so a
// score can be explained, not just ranked.
type Breakdown struct {
	RetailSavings decimal.Decimal `json:"retail_savings"`
	PriceDrop     decimal.Decimal `json:"price_drop"`
	Newness       decimal.Decimal `json:"newness"`
	BelowRetail   decimal.Decimal `json:"below_retail"`
	Score         decimal.Decimal `json:"score"`
}

// Score computes the composite deal score for a listing. Pure and
// deterministic given its inputs; ref may be nil, in which case the
// retail-based factors contribute zero. Each factor is clamped to [0,1]
// before weighting so no outlier ratio can dominate.
func Score(l *models.Listing, ref *refdata.Resolution, now time.Time, cfg Config) Breakdown {
	var b Breakdown

	retail := retailReference(ref)
	if retail.IsPositive() {
		b.RetailSavings = clamp01(retail.Sub(l.Price).Div(retail))
		if l.Price.LessThan(retail.Mul(cfg.BelowRetailRatio)) {
			b.BelowRetail = decimal.NewFromInt(1)
		}
	}

	if l.OriginalPrice.IsPositive() {
		b.PriceDrop = clamp01(l.OriginalPrice.Sub(l.Price).Div(l.OriginalPrice))
	}

	if cfg.NewnessCutoffDays > 0 && !l.FirstSeenAt.IsZero() {
		ageDays := decimal.NewFromFloat(now.Sub(l.FirstSeenAt).Hours() / 24)
		cutoff := decimal.NewFromInt(int64(cfg.NewnessCutoffDays))
		b.Newness = clamp01(decimal.NewFromInt(1).Sub(ageDays.Div(cutoff)))
	}

	b.Score = cfg.Weights.RetailSavings.Mul(b.RetailSavings).
		Add(cfg.Weights.PriceDrop.Mul(b.PriceDrop)).
		Add(cfg.Weights.Newness.Mul(b.Newness)).
		Add(cfg.Weights.BelowRetail.Mul(b.BelowRetail)).
		Round(4)
	return b
}

// retailReference prefers the current retail price and falls back to MSRP
// when the retailer figure is absent.
func retailReference(ref *refdata.Resolution) decimal.Decimal {
	if ref == nil {
		return decimal.Zero
	}
	if ref.RetailPrice.IsPositive() {
		return ref.RetailPrice
	}
	return ref.MSRP
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
