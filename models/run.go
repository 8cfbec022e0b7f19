package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun is the bookkeeping record for one scrape cycle.
type ScrapeRun struct {
	ID            int64      `json:"id" db:"id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	SearchQuery   string     `json:"search_query" db:"search_query"`
	ListingsSeen  int        `json:"listings_seen" db:"listings_seen"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	PriceChanges  int        `json:"price_changes" db:"price_changes"`
	Reactivated   int        `json:"reactivated" db:"reactivated"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
	Deactivated   int        `json:"deactivated" db:"deactivated"`
	SkippedParse  int        `json:"skipped_parse" db:"skipped_parse"`
}

// Stats is the aggregate view exposed on the dashboard and CLI.
type Stats struct {
	TotalListings     int        `json:"total_listings"`
	ActiveListings    int        `json:"active_listings"`
	TotalSnapshots    int        `json:"total_snapshots"`
	TotalRuns         int        `json:"total_runs"`
	ListingsWithDrops int        `json:"listings_with_drops"`
	LastRun           *ScrapeRun `json:"last_run"`
}
