package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/identity"
	"dealtracker/models"
)

// Store is the persistence surface shared by the SQLite and Postgres
// backends. The reconciler only uses the listing/snapshot subset; the rest
// serves the API, CLI, and cycle bookkeeping.
type Store interface {
	Close() error

	// Listings
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetListingByKey(ctx context.Context, key identity.Key) (*models.Listing, error)
	CreateListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
	TouchListing(ctx context.Context, id string, seenAt time.Time) error
	UpdateDealScore(ctx context.Context, id string, score decimal.Decimal) error
	GetListings(ctx context.Context, f models.ListingFilters) ([]models.Listing, error)
	SetListingHidden(ctx context.Context, id string, hidden bool) error
	ActiveListingIDs(ctx context.Context) ([]string, error)
	RecordMiss(ctx context.Context, id string) (int, error)
	MarkListingInactive(ctx context.Context, id string) error
	DistinctBrands(ctx context.Context) ([]string, error)

	// Price history
	AddPriceSnapshot(ctx context.Context, s *models.PriceSnapshot) error
	GetPriceHistory(ctx context.Context, listingID string) ([]models.PriceSnapshot, error)

	// Runs and logs
	CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error)
	UpdateRun(ctx context.Context, run *models.ScrapeRun) error
	Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error
	GetStats(ctx context.Context) (*models.Stats, error)

	// Search queries
	GetSearchQueries(ctx context.Context, enabledOnly bool) ([]models.SearchQuery, error)
	AddSearchQuery(ctx context.Context, q *models.SearchQuery) error
	UpdateSearchQuery(ctx context.Context, q *models.SearchQuery) error
	DeleteSearchQuery(ctx context.Context, id int64) error

	// Brand keyword table
	GetBrandKeywords(ctx context.Context) ([]models.BrandKeyword, error)
	AddBrandKeyword(ctx context.Context, k *models.BrandKeyword) error
	DeleteBrandKeyword(ctx context.Context, id int64) error

	// Retail references
	GetRetailReferences(ctx context.Context) ([]models.RetailReference, error)
	UpsertRetailReference(ctx context.Context, ref *models.RetailReference) error
	DeleteRetailReference(ctx context.Context, id int64) error

	// Settings (JSON values keyed by name)
	GetSetting(ctx context.Context, key string, out any) (bool, error)
	SetSetting(ctx context.Context, key string, value any) error
	GetAllSettings(ctx context.Context) (map[string]json.RawMessage, error)
}

// GetSettingInt reads an integer setting with a default.
func GetSettingInt(ctx context.Context, s Store, key string, def int) int {
	var v int
	ok, err := s.GetSetting(ctx, key, &v)
	if err != nil || !ok {
		return def
	}
	return v
}

// GetSettingFloat reads a float setting with a default.
func GetSettingFloat(ctx context.Context, s Store, key string, def float64) float64 {
	var v float64
	ok, err := s.GetSetting(ctx, key, &v)
	if err != nil || !ok {
		return def
	}
	return v
}

// Seed populates empty reference tables on first run.
func Seed(ctx context.Context, s Store, queries []models.SearchQuery, brands []models.BrandKeyword, refs []models.RetailReference, settings map[string]any) error {
	existing, err := s.GetSearchQueries(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for i := range queries {
			if err := s.AddSearchQuery(ctx, &queries[i]); err != nil {
				return err
			}
		}
	}

	kws, err := s.GetBrandKeywords(ctx)
	if err != nil {
		return err
	}
	if len(kws) == 0 {
		for i := range brands {
			if err := s.AddBrandKeyword(ctx, &brands[i]); err != nil {
				return err
			}
		}
	}

	existingRefs, err := s.GetRetailReferences(ctx)
	if err != nil {
		return err
	}
	if len(existingRefs) == 0 {
		for i := range refs {
			if err := s.UpsertRetailReference(ctx, &refs[i]); err != nil {
				return err
			}
		}
	}

	all, err := s.GetAllSettings(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		for k, v := range settings {
			if err := s.SetSetting(ctx, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}
