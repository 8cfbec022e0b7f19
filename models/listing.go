package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is a tracked marketplace or retailer listing for a 3D printer.
type Listing struct {
	ID                string           `json:"id" db:"id"`
	SourceID          string           `json:"source_id" db:"source_id"`
	Source            string           `json:"source" db:"source"`
	URL               string           `json:"url" db:"url"`
	Title             string           `json:"title" db:"title"`
	Brand             string           `json:"brand" db:"brand"`
	Model             string           `json:"model" db:"model"`
	Location          string           `json:"location" db:"location"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	Currency          string           `json:"currency" db:"currency"`
	IsSale            bool             `json:"is_sale" db:"is_sale"`
	NominalPrice      decimal.Decimal  `json:"nominal_price" db:"nominal_price"`
	OriginalPrice     decimal.Decimal  `json:"original_price" db:"original_price"`
	FirstSeenAt       time.Time        `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt        time.Time        `json:"last_seen_at" db:"last_seen_at"`
	ConsecutiveMisses int              `json:"consecutive_misses" db:"consecutive_misses"`
	Active            bool             `json:"active" db:"active"`
	Hidden            bool             `json:"hidden" db:"hidden"`
	DealScore         *decimal.Decimal `json:"deal_score" db:"deal_score"`
}

// PriceSnapshot is one append-only price-history row. A snapshot is written
// when a listing's effective price changes, never on first sighting.
type PriceSnapshot struct {
	ID         int64           `json:"id" db:"id"`
	ListingID  string          `json:"listing_id" db:"listing_id"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Currency   string          `json:"currency" db:"currency"`
	IsSale     bool            `json:"is_sale" db:"is_sale"`
	ObservedAt time.Time       `json:"observed_at" db:"observed_at"`
}

// ListingFilters narrows listing queries for the API and CLI.
type ListingFilters struct {
	Brand      string
	Location   string
	Search     string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	ActiveOnly bool
	ShowHidden bool
	SortBy     string
}
