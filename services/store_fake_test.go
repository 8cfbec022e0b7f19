package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/identity"
	"dealtracker/models"
)

// fakeStore is an in-memory Store for service tests.
type fakeStore struct {
	listings  map[string]*models.Listing
	snapshots []models.PriceSnapshot
	runs      map[int64]*models.ScrapeRun
	queries   []models.SearchQuery
	keywords  []models.BrandKeyword
	refs      []models.RetailReference
	settings  map[string]json.RawMessage
	nextRunID int64
	nextSnap  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: make(map[string]*models.Listing),
		runs:     make(map[int64]*models.ScrapeRun),
		settings: make(map[string]json.RawMessage),
	}
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) GetListing(_ context.Context, id string) (*models.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	copied := *l
	return &copied, nil
}

func (s *fakeStore) GetListingByKey(_ context.Context, key identity.Key) (*models.Listing, error) {
	for _, l := range s.listings {
		if identity.ListingKey(l) == key {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateListing(_ context.Context, l *models.Listing) error {
	copied := *l
	s.listings[l.ID] = &copied
	return nil
}

func (s *fakeStore) UpdateListing(_ context.Context, l *models.Listing) error {
	stored, ok := s.listings[l.ID]
	if !ok {
		return fmt.Errorf("no listing %s", l.ID)
	}
	copied := *l
	// Immutable columns are not part of the update statement.
	copied.OriginalPrice = stored.OriginalPrice
	copied.FirstSeenAt = stored.FirstSeenAt
	copied.DealScore = stored.DealScore
	s.listings[l.ID] = &copied
	return nil
}

func (s *fakeStore) TouchListing(_ context.Context, id string, seenAt time.Time) error {
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("no listing %s", id)
	}
	l.LastSeenAt = seenAt
	l.ConsecutiveMisses = 0
	l.Active = true
	return nil
}

func (s *fakeStore) UpdateDealScore(_ context.Context, id string, score decimal.Decimal) error {
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("no listing %s", id)
	}
	l.DealScore = &score
	return nil
}

func (s *fakeStore) GetListings(_ context.Context, f models.ListingFilters) ([]models.Listing, error) {
	var out []models.Listing
	for _, l := range s.listings {
		if f.ActiveOnly && !l.Active {
			continue
		}
		if !f.ShowHidden && l.Hidden {
			continue
		}
		if f.Brand != "" && l.Brand != f.Brand {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (s *fakeStore) SetListingHidden(_ context.Context, id string, hidden bool) error {
	if l, ok := s.listings[id]; ok {
		l.Hidden = hidden
	}
	return nil
}

func (s *fakeStore) ActiveListingIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id, l := range s.listings {
		if l.Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) RecordMiss(_ context.Context, id string) (int, error) {
	l, ok := s.listings[id]
	if !ok {
		return 0, fmt.Errorf("no listing %s", id)
	}
	l.ConsecutiveMisses++
	return l.ConsecutiveMisses, nil
}

func (s *fakeStore) MarkListingInactive(_ context.Context, id string) error {
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("no listing %s", id)
	}
	l.Active = false
	return nil
}

func (s *fakeStore) DistinctBrands(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var brands []string
	for _, l := range s.listings {
		if l.Brand != "" && !seen[l.Brand] {
			seen[l.Brand] = true
			brands = append(brands, l.Brand)
		}
	}
	return brands, nil
}

func (s *fakeStore) AddPriceSnapshot(_ context.Context, snap *models.PriceSnapshot) error {
	s.nextSnap++
	snap.ID = s.nextSnap
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *fakeStore) GetPriceHistory(_ context.Context, listingID string) ([]models.PriceSnapshot, error) {
	var out []models.PriceSnapshot
	for _, snap := range s.snapshots {
		if snap.ListingID == listingID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateRun(_ context.Context, run *models.ScrapeRun) (int64, error) {
	s.nextRunID++
	copied := *run
	copied.ID = s.nextRunID
	s.runs[s.nextRunID] = &copied
	return s.nextRunID, nil
}

func (s *fakeStore) UpdateRun(_ context.Context, run *models.ScrapeRun) error {
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *fakeStore) Log(_ context.Context, _ *int64, _ models.LogLevel, _ string) error {
	return nil
}

func (s *fakeStore) GetStats(_ context.Context) (*models.Stats, error) {
	return &models.Stats{TotalListings: len(s.listings)}, nil
}

func (s *fakeStore) GetSearchQueries(_ context.Context, enabledOnly bool) ([]models.SearchQuery, error) {
	var out []models.SearchQuery
	for _, q := range s.queries {
		if enabledOnly && !q.Enabled {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *fakeStore) AddSearchQuery(_ context.Context, q *models.SearchQuery) error {
	q.ID = int64(len(s.queries) + 1)
	s.queries = append(s.queries, *q)
	return nil
}

func (s *fakeStore) UpdateSearchQuery(_ context.Context, q *models.SearchQuery) error {
	for i := range s.queries {
		if s.queries[i].ID == q.ID {
			s.queries[i] = *q
		}
	}
	return nil
}

func (s *fakeStore) DeleteSearchQuery(_ context.Context, id int64) error {
	out := s.queries[:0]
	for _, q := range s.queries {
		if q.ID != id {
			out = append(out, q)
		}
	}
	s.queries = out
	return nil
}

func (s *fakeStore) GetBrandKeywords(_ context.Context) ([]models.BrandKeyword, error) {
	return append([]models.BrandKeyword(nil), s.keywords...), nil
}

func (s *fakeStore) AddBrandKeyword(_ context.Context, k *models.BrandKeyword) error {
	k.ID = int64(len(s.keywords) + 1)
	s.keywords = append(s.keywords, *k)
	return nil
}

func (s *fakeStore) DeleteBrandKeyword(_ context.Context, id int64) error {
	out := s.keywords[:0]
	for _, k := range s.keywords {
		if k.ID != id {
			out = append(out, k)
		}
	}
	s.keywords = out
	return nil
}

func (s *fakeStore) GetRetailReferences(_ context.Context) ([]models.RetailReference, error) {
	return append([]models.RetailReference(nil), s.refs...), nil
}

func (s *fakeStore) UpsertRetailReference(_ context.Context, ref *models.RetailReference) error {
	for i := range s.refs {
		if s.refs[i].Brand == ref.Brand && s.refs[i].Model == ref.Model {
			s.refs[i] = *ref
			return nil
		}
	}
	ref.ID = int64(len(s.refs) + 1)
	s.refs = append(s.refs, *ref)
	return nil
}

func (s *fakeStore) DeleteRetailReference(_ context.Context, id int64) error {
	out := s.refs[:0]
	for _, ref := range s.refs {
		if ref.ID != id {
			out = append(out, ref)
		}
	}
	s.refs = out
	return nil
}

func (s *fakeStore) GetSetting(_ context.Context, key string, out any) (bool, error) {
	raw, ok := s.settings[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *fakeStore) SetSetting(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.settings[key] = raw
	return nil
}

func (s *fakeStore) GetAllSettings(_ context.Context) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}
