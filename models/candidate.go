package models

import "time"

// Candidate is one raw scraped record, as handed to the reconciliation
// pipeline. Price text is unparsed; everything else is already extracted
// from markup by a scraper handler.
type Candidate struct {
	SourceID     string    `json:"source_id"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	RawPriceText string    `json:"raw_price_text"`
	CurrencyHint string    `json:"currency_hint"`
	Location     string    `json:"location"`
	ObservedAt   time.Time `json:"observed_at"`
}
