package models

import "github.com/shopspring/decimal"

// Deal is the computed ranking view of a listing for the deals page,
// CLI table, and webhook payloads.
type Deal struct {
	ListingID          string           `json:"listing_id"`
	Title              string           `json:"title"`
	URL                string           `json:"url"`
	Source             string           `json:"source"`
	Brand              string           `json:"brand"`
	Model              string           `json:"model"`
	Currency           string           `json:"currency"`
	CurrentPrice       decimal.Decimal  `json:"current_price"`
	OriginalPrice      decimal.Decimal  `json:"original_price"`
	PriceDropAbs       decimal.Decimal  `json:"price_drop_abs"`
	PriceDropPct       decimal.Decimal  `json:"price_drop_pct"`
	DaysTracked        int              `json:"days_tracked"`
	RetailPrice        *decimal.Decimal `json:"retail_price"`
	MSRP               *decimal.Decimal `json:"msrp"`
	PriceToRetailRatio *decimal.Decimal `json:"price_to_retail_ratio"`
	Score              decimal.Decimal  `json:"score"`
	Location           string           `json:"location"`
}
