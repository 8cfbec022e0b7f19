package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dealtracker/detect"
	"dealtracker/models"
	"dealtracker/pricing"
	"dealtracker/refdata"
	"dealtracker/scoring"
	"dealtracker/scraper"
	"dealtracker/storage"
)

// ErrCycleInProgress is returned when RunCycle is called while a previous
// cycle is still running. Cycles never overlap.
var ErrCycleInProgress = errors.New("scrape cycle already in progress")

// EventEmitter sends one engine event to the configured webhook targets.
// Implementations must not fail the cycle; delivery problems are theirs to
// log and swallow.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// CycleStats summarizes one scrape cycle.
type CycleStats struct {
	RunID        int64     `json:"run_id"`
	Found        int       `json:"found"`
	New          int       `json:"new"`
	PriceChanges int       `json:"price_changes"`
	Reactivated  int       `json:"reactivated"`
	Unchanged    int       `json:"unchanged"`
	Deactivated  int       `json:"deactivated"`
	SkippedParse int       `json:"skipped_parse"`
	Errors       int       `json:"errors"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunnerConfig carries the engine tunables. Several have runtime overrides
// in the settings table, read fresh at the start of every cycle.
type RunnerConfig struct {
	DefaultCurrency   string
	Rates             pricing.Rates
	Epsilon           decimal.Decimal
	InactiveThreshold int
	MaxPages          int
	Scoring           scoring.Config
	DealRatioMax      decimal.Decimal
	DealDropMinPct    decimal.Decimal
	DealBatchSize     int
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DefaultCurrency:   "CAD",
		Rates:             pricing.Rates{"CAD": decimal.NewFromFloat(0.74), "EUR": decimal.NewFromFloat(1.08), "GBP": decimal.NewFromFloat(1.27)},
		Epsilon:           decimal.NewFromFloat(0.01),
		InactiveThreshold: 3,
		MaxPages:          5,
		Scoring:           scoring.DefaultConfig(),
		DealRatioMax:      decimal.NewFromFloat(0.9),
		DealDropMinPct:    decimal.NewFromFloat(15.0),
		DealBatchSize:     5,
	}
}

// Runner drives one full scrape cycle: fetch every enabled query, parse and
// reconcile each candidate, sweep misses, then report.
type Runner struct {
	store    storage.Store
	handlers []scraper.Handler
	emitter  EventEmitter
	logger   *log.Logger
	cfg      RunnerConfig

	mu      sync.Mutex
	running bool
	last    *CycleStats
}

func NewRunner(store storage.Store, handlers []scraper.Handler, emitter EventEmitter, logger *log.Logger, cfg RunnerConfig) *Runner {
	return &Runner{
		store:    store,
		handlers: handlers,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
	}
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastStats returns the summary of the most recent completed cycle, or nil.
func (r *Runner) LastStats() *CycleStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	copied := *r.last
	return &copied
}

// RunCycle executes one scrape cycle. queryID filters to a single search
// query; pass 0 to run them all.
func (r *Runner) RunCycle(ctx context.Context, queryID int64) (*CycleStats, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	stats, err := r.runCycle(ctx, queryID)
	if err != nil {
		r.emit(ctx, "scrape_failed", map[string]any{
			"error":       err.Error(),
			"finished_at": time.Now().UTC().Format(time.RFC3339),
		})
		return nil, err
	}

	r.mu.Lock()
	r.last = stats
	r.mu.Unlock()
	return stats, nil
}

func (r *Runner) runCycle(ctx context.Context, queryID int64) (*CycleStats, error) {
	cfg := r.effectiveConfig(ctx)

	// Cycles never overlap, so adjusting handler pagination here is safe.
	for _, h := range r.handlers {
		if paged, ok := h.(interface{ SetMaxPages(int) }); ok {
			paged.SetMaxPages(cfg.MaxPages)
		}
	}

	keywords, err := r.store.GetBrandKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load brand keywords: %w", err)
	}
	detector := detect.FromRows(keywords)

	refs, err := r.store.GetRetailReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retail references: %w", err)
	}
	resolver := refdata.NewResolver(refs, cfg.Rates)

	reconciler := NewReconciler(r.store, cfg.Rates, cfg.Epsilon, resolver, cfg.Scoring)

	queries, err := r.store.GetSearchQueries(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load queries: %w", err)
	}
	if queryID != 0 {
		filtered := queries[:0]
		for _, q := range queries {
			if q.ID == queryID {
				filtered = append(filtered, q)
			}
		}
		queries = filtered
	}

	labels := make([]string, len(queries))
	for i, q := range queries {
		labels[i] = q.Label
	}

	run := &models.ScrapeRun{
		StartedAt:   time.Now(),
		Status:      models.RunStatusRunning,
		SearchQuery: strings.Join(labels, ", "),
	}
	run.ID, err = r.store.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	stats := &CycleStats{RunID: run.ID}
	seen := make(map[string]bool)

	for _, q := range queries {
		handler := scraper.For(r.handlers, q.URL)
		if handler == nil {
			r.log(ctx, run.ID, models.LogLevelWarn, fmt.Sprintf("no handler for query %q (%s)", q.Label, q.URL))
			stats.Errors++
			continue
		}

		r.log(ctx, run.ID, models.LogLevelInfo, fmt.Sprintf("searching %q via %s", q.Label, handler.Name()))
		candidates, err := handler.Scrape(ctx, q)
		if err != nil {
			r.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("scrape %q: %v", q.Label, err))
			stats.Errors++
			continue
		}
		stats.Found += len(candidates)

		for i := range candidates {
			c := &candidates[i]

			parsed, err := pricing.Parse(c.RawPriceText, c.CurrencyHint, cfg.DefaultCurrency)
			if err != nil {
				stats.SkippedParse++
				continue
			}

			brand, model := detector.Detect(c.Title)
			result, err := reconciler.Process(ctx, c, parsed, brand, model)
			if err != nil {
				r.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("process %q: %v", c.Title, err))
				stats.Errors++
				continue
			}

			seen[result.Listing.ID] = true
			switch result.Outcome {
			case OutcomeNew:
				stats.New++
			case OutcomePriceChanged:
				stats.PriceChanges++
			case OutcomeReactivated:
				stats.Reactivated++
				if result.PriceChanged {
					stats.PriceChanges++
				}
			default:
				stats.Unchanged++
			}
		}
	}

	deactivated, err := CloseCycle(ctx, r.store, seen, cfg.InactiveThreshold)
	stats.Deactivated = deactivated
	if err != nil {
		r.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("inactivity sweep: %v", err))
		stats.Errors++
	}

	now := time.Now()
	stats.FinishedAt = now
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	run.ListingsSeen = stats.Found
	run.ListingsNew = stats.New
	run.PriceChanges = stats.PriceChanges
	run.Reactivated = stats.Reactivated
	run.ErrorsCount = stats.Errors
	run.Deactivated = stats.Deactivated
	run.SkippedParse = stats.SkippedParse
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	r.log(ctx, run.ID, models.LogLevelInfo, fmt.Sprintf(
		"cycle done: %d found, %d new, %d price changes, %d reactivated, %d deactivated, %d skipped, %d errors",
		stats.Found, stats.New, stats.PriceChanges, stats.Reactivated, stats.Deactivated, stats.SkippedParse, stats.Errors))

	r.emit(ctx, "scrape_completed", stats)
	if stats.Errors > 0 {
		r.emit(ctx, "scrape_failed", map[string]any{
			"error":       fmt.Sprintf("%d query errors during scrape run", stats.Errors),
			"run_id":      stats.RunID,
			"finished_at": stats.FinishedAt.UTC().Format(time.RFC3339),
		})
	}
	r.notifyDeals(ctx, resolver, cfg)

	return stats, nil
}

// effectiveConfig layers runtime settings-table overrides over the static
// configuration, read fresh each cycle so tuning takes effect without a
// restart.
func (r *Runner) effectiveConfig(ctx context.Context) RunnerConfig {
	cfg := r.cfg

	cfg.InactiveThreshold = storage.GetSettingInt(ctx, r.store, "inactive_threshold", cfg.InactiveThreshold)
	cfg.MaxPages = storage.GetSettingInt(ctx, r.store, "max_pages_per_query", cfg.MaxPages)
	cfg.DealBatchSize = storage.GetSettingInt(ctx, r.store, "webhook_deal_batch_size", cfg.DealBatchSize)

	if v := storage.GetSettingFloat(ctx, r.store, "webhook_deal_max_price_to_retail_ratio", -1); v >= 0 {
		cfg.DealRatioMax = decimal.NewFromFloat(v)
	}
	if v := storage.GetSettingFloat(ctx, r.store, "webhook_deal_min_drop_pct", -1); v >= 0 {
		cfg.DealDropMinPct = decimal.NewFromFloat(v)
	}

	var currency string
	if ok, _ := r.store.GetSetting(ctx, "default_currency", &currency); ok && currency != "" {
		cfg.DefaultCurrency = strings.ToUpper(currency)
	}

	var rawRates map[string]float64
	if ok, _ := r.store.GetSetting(ctx, "fx_rates_to_usd", &rawRates); ok && len(rawRates) > 0 {
		rates := make(pricing.Rates, len(rawRates))
		for code, rate := range rawRates {
			rates[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
		}
		cfg.Rates = rates
	}
	return cfg
}

// notifyDeals emits a batched new_deal_detected event for listings that
// clear either deal threshold.
func (r *Runner) notifyDeals(ctx context.Context, resolver *refdata.Resolver, cfg RunnerConfig) {
	if r.emitter == nil {
		return
	}
	deals, err := ComputeDeals(ctx, r.store, resolver, cfg.Scoring, 0)
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("deal notify: %v", err)
		}
		return
	}

	var qualifying []models.Deal
	for _, d := range deals {
		ratioMatch := d.PriceToRetailRatio != nil && d.PriceToRetailRatio.LessThanOrEqual(cfg.DealRatioMax)
		dropMatch := d.PriceDropPct.GreaterThanOrEqual(cfg.DealDropMinPct)
		if ratioMatch || dropMatch {
			qualifying = append(qualifying, d)
		}
		if cfg.DealBatchSize > 0 && len(qualifying) >= cfg.DealBatchSize {
			break
		}
	}
	if len(qualifying) == 0 {
		return
	}

	r.emit(ctx, "new_deal_detected", map[string]any{
		"count": len(qualifying),
		"deals": qualifying,
		"thresholds": map[string]any{
			"max_price_to_retail_ratio": cfg.DealRatioMax,
			"min_drop_pct":              cfg.DealDropMinPct,
		},
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Runner) emit(ctx context.Context, eventType string, payload any) {
	if r.emitter != nil {
		r.emitter.Emit(ctx, eventType, payload)
	}
}

func (r *Runner) log(ctx context.Context, runID int64, level models.LogLevel, message string) {
	if r.logger != nil {
		r.logger.Println(message)
	}
	if err := r.store.Log(ctx, &runID, level, message); err != nil && r.logger != nil {
		r.logger.Printf("store log: %v", err)
	}
}
