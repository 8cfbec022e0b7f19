package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RetailReference is an MSRP/retail row for a (brand, model). Read-mostly
// reference data; the engine looks it up and never mutates it. A row with an
// empty model is the brand-level fallback.
type RetailReference struct {
	ID          int64           `json:"id" db:"id"`
	Brand       string          `json:"brand" db:"brand"`
	Model       string          `json:"model" db:"model"`
	MSRP        decimal.Decimal `json:"msrp" db:"msrp"`
	RetailPrice decimal.Decimal `json:"retail_price" db:"retail_price"`
	Currency    string          `json:"currency" db:"currency"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// BrandKeyword is one keyword row of the ordered brand detection table.
// Position orders brands for the first-match-wins tie-break; IsModel marks
// keywords that also name a specific model.
type BrandKeyword struct {
	ID       int64  `json:"id" db:"id"`
	Brand    string `json:"brand" db:"brand"`
	Keyword  string `json:"keyword" db:"keyword"`
	IsModel  bool   `json:"is_model" db:"is_model"`
	Position int    `json:"position" db:"position"`
}

// SearchQuery is one configured scrape target.
type SearchQuery struct {
	ID      int64  `json:"id" db:"id"`
	URL     string `json:"url" db:"url"`
	Label   string `json:"label" db:"label"`
	Enabled bool   `json:"enabled" db:"enabled"`
}
