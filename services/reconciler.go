package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dealtracker/identity"
	"dealtracker/models"
	"dealtracker/pricing"
	"dealtracker/refdata"
	"dealtracker/scoring"
	"dealtracker/storage"
)

// Outcome classifies what one candidate did to the stored state.
type Outcome string

const (
	OutcomeNew          Outcome = "NEW"
	OutcomePriceChanged Outcome = "PRICE_CHANGED"
	OutcomeUnchanged    Outcome = "UNCHANGED"
	OutcomeReactivated  Outcome = "REACTIVATED"
)

// Result is the reconciliation verdict for one candidate. Snapshot is nil
// unless a price snapshot was appended this pass. PriceChanged is carried
// separately because a reactivation may or may not come with a new price.
type Result struct {
	Outcome      Outcome
	Listing      *models.Listing
	Snapshot     *models.PriceSnapshot
	PriceChanged bool
	Breakdown    *scoring.Breakdown
}

// Reconciler folds scraped candidates into the listing store: it matches a
// candidate to its stored listing by natural key, detects price movement,
// and recomputes the deal score whenever the listing's state moved.
type Reconciler struct {
	store    storage.Store
	rates    pricing.Rates
	epsilon  decimal.Decimal
	resolver *refdata.Resolver
	scoring  scoring.Config
}

func NewReconciler(store storage.Store, rates pricing.Rates, epsilon decimal.Decimal, resolver *refdata.Resolver, cfg scoring.Config) *Reconciler {
	return &Reconciler{
		store:    store,
		rates:    rates,
		epsilon:  epsilon,
		resolver: resolver,
		scoring:  cfg,
	}
}

// Process reconciles one candidate whose price has already been parsed and
// whose brand/model have been detected. Candidates are processed one at a
// time within a cycle, so natural-key lookups see the writes of earlier
// candidates in the same run.
func (r *Reconciler) Process(ctx context.Context, c *models.Candidate, parsed pricing.Parsed, brand, model string) (*Result, error) {
	key := identity.Resolve(c)

	existing, err := r.store.GetListingByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}

	observedAt := c.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	if existing == nil {
		return r.createListing(ctx, c, parsed, brand, model, observedAt)
	}

	wasInactive := !existing.Active
	changed := r.priceMoved(existing, parsed)

	if !wasInactive && !changed {
		if err := r.store.TouchListing(ctx, existing.ID, observedAt); err != nil {
			return nil, err
		}
		existing.LastSeenAt = observedAt
		existing.ConsecutiveMisses = 0
		return &Result{Outcome: OutcomeUnchanged, Listing: existing}, nil
	}

	existing.URL = c.URL
	existing.Title = c.Title
	if brand != "" {
		existing.Brand = brand
		existing.Model = model
	}
	if c.Location != "" {
		existing.Location = c.Location
	}
	existing.Price = parsed.Amount
	existing.Currency = parsed.Currency
	existing.IsSale = parsed.IsSale
	existing.NominalPrice = nominalOf(parsed)
	existing.LastSeenAt = observedAt
	existing.ConsecutiveMisses = 0
	existing.Active = true

	if err := r.store.UpdateListing(ctx, existing); err != nil {
		return nil, err
	}

	result := &Result{Listing: existing, PriceChanged: changed}
	if wasInactive {
		result.Outcome = OutcomeReactivated
	} else {
		result.Outcome = OutcomePriceChanged
	}

	if changed {
		snap := &models.PriceSnapshot{
			ListingID:  existing.ID,
			Price:      parsed.Amount,
			Currency:   parsed.Currency,
			IsSale:     parsed.IsSale,
			ObservedAt: observedAt,
		}
		if err := r.store.AddPriceSnapshot(ctx, snap); err != nil {
			return nil, err
		}
		result.Snapshot = snap
	}

	if err := r.rescore(ctx, existing, observedAt, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Reconciler) createListing(ctx context.Context, c *models.Candidate, parsed pricing.Parsed, brand, model string, observedAt time.Time) (*Result, error) {
	l := &models.Listing{
		ID:            uuid.New().String(),
		SourceID:      c.SourceID,
		Source:        c.Source,
		URL:           c.URL,
		Title:         c.Title,
		Brand:         brand,
		Model:         model,
		Location:      c.Location,
		Price:         parsed.Amount,
		Currency:      parsed.Currency,
		IsSale:        parsed.IsSale,
		NominalPrice:  nominalOf(parsed),
		OriginalPrice: parsed.Amount,
		FirstSeenAt:   observedAt,
		LastSeenAt:    observedAt,
		Active:        true,
	}

	if err := r.store.CreateListing(ctx, l); err != nil {
		return nil, err
	}

	// The first sighting is recorded on the listing row itself; the history
	// table only accumulates subsequent movement.
	result := &Result{Outcome: OutcomeNew, Listing: l}
	if err := r.rescore(ctx, l, observedAt, result); err != nil {
		return nil, err
	}
	return result, nil
}

// priceMoved compares the stored price, currency, and sale state against the
// freshly parsed ones. A sale-state flip is a material change even at the
// same amount. Prices across a currency switch are normalized to USD so an
// equal-value relabel does not read as movement; a missing FX rate is treated
// as movement, since a false PRICE_CHANGED costs one redundant snapshot while
// a false UNCHANGED loses history.
func (r *Reconciler) priceMoved(existing *models.Listing, parsed pricing.Parsed) bool {
	if existing.IsSale != parsed.IsSale {
		return true
	}
	if existing.Currency == parsed.Currency {
		return existing.Price.Sub(parsed.Amount).Abs().GreaterThan(r.epsilon)
	}
	oldUSD, err := r.rates.ToUSD(existing.Price, existing.Currency)
	if err != nil {
		return true
	}
	newUSD, err := r.rates.ToUSD(parsed.Amount, parsed.Currency)
	if err != nil {
		return true
	}
	return oldUSD.Sub(newUSD).Abs().GreaterThan(r.epsilon)
}

func (r *Reconciler) rescore(ctx context.Context, l *models.Listing, now time.Time, result *Result) error {
	var ref *refdata.Resolution
	if r.resolver != nil {
		ref = r.resolver.Resolve(l.Brand, l.Model, l.Currency)
	}
	b := scoring.Score(l, ref, now, r.scoring)
	if err := r.store.UpdateDealScore(ctx, l.ID, b.Score); err != nil {
		return err
	}
	l.DealScore = &b.Score
	result.Breakdown = &b
	return nil
}

func nominalOf(parsed pricing.Parsed) decimal.Decimal {
	if parsed.NominalAmount != nil {
		return *parsed.NominalAmount
	}
	return parsed.Amount
}
