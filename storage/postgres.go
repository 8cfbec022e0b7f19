package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dealtracker/identity"
	"dealtracker/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		url_key TEXT NOT NULL,
		title TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		currency TEXT NOT NULL,
		is_sale BOOLEAN NOT NULL DEFAULT FALSE,
		nominal_price TEXT NOT NULL,
		original_price TEXT NOT NULL,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		consecutive_misses INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		hidden BOOLEAN NOT NULL DEFAULT FALSE,
		deal_score TEXT
	);

	CREATE TABLE IF NOT EXISTS price_snapshots (
		id BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		price TEXT NOT NULL,
		currency TEXT NOT NULL,
		is_sale BOOLEAN NOT NULL DEFAULT FALSE,
		observed_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id BIGSERIAL PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		search_query TEXT NOT NULL DEFAULT '',
		listings_seen INTEGER NOT NULL DEFAULT 0,
		listings_new INTEGER NOT NULL DEFAULT 0,
		price_changes INTEGER NOT NULL DEFAULT 0,
		reactivated INTEGER NOT NULL DEFAULT 0,
		errors_count INTEGER NOT NULL DEFAULT 0,
		deactivated INTEGER NOT NULL DEFAULT 0,
		skipped_parse INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id BIGINT,
		timestamp TIMESTAMPTZ NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_queries (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		label TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS brand_keywords (
		id BIGSERIAL PRIMARY KEY,
		brand TEXT NOT NULL,
		keyword TEXT NOT NULL,
		is_model BOOLEAN NOT NULL DEFAULT FALSE,
		position INTEGER NOT NULL DEFAULT 0,
		UNIQUE(brand, keyword)
	);

	CREATE TABLE IF NOT EXISTS retail_references (
		id BIGSERIAL PRIMARY KEY,
		brand TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		msrp TEXT NOT NULL,
		retail_price TEXT NOT NULL,
		currency TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(brand, model)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_source_id ON listings(source_id) WHERE source_id != '';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_url_key ON listings(url_key) WHERE source_id = '';
	CREATE INDEX IF NOT EXISTS idx_listings_active ON listings(active);
	CREATE INDEX IF NOT EXISTS idx_listings_brand ON listings(brand);
	CREATE INDEX IF NOT EXISTS idx_snapshots_listing ON price_snapshots(listing_id, observed_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON scrape_runs(started_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func pgScanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var urlKey string
	var price, nominal, original string
	var score sql.NullString
	err := row.Scan(&l.ID, &l.SourceID, &l.Source, &l.URL, &urlKey, &l.Title, &l.Brand, &l.Model, &l.Location,
		&price, &l.Currency, &l.IsSale, &nominal, &original,
		&l.FirstSeenAt, &l.LastSeenAt, &l.ConsecutiveMisses, &l.Active, &l.Hidden, &score)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Price = mustDecimal(price)
	l.NominalPrice = mustDecimal(nominal)
	l.OriginalPrice = mustDecimal(original)
	if score.Valid {
		d := mustDecimal(score.String)
		l.DealScore = &d
	}
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return pgScanListing(row)
}

func (s *PostgresStore) GetListingByKey(ctx context.Context, key identity.Key) (*models.Listing, error) {
	var row pgx.Row
	switch key.Kind {
	case identity.BySourceID:
		row = s.pool.QueryRow(ctx,
			`SELECT `+listingColumns+` FROM listings WHERE source_id = $1`, key.Value)
	default:
		row = s.pool.QueryRow(ctx,
			`SELECT `+listingColumns+` FROM listings WHERE url_key = $1`, key.Value)
	}
	return pgScanListing(row)
}

func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		l.ID, l.SourceID, l.Source, l.URL, identity.NormalizeURL(l.URL), l.Title, l.Brand, l.Model, l.Location,
		l.Price.StringFixed(2), l.Currency, l.IsSale, l.NominalPrice.StringFixed(2), l.OriginalPrice.StringFixed(2),
		l.FirstSeenAt, l.LastSeenAt, l.ConsecutiveMisses, l.Active, l.Hidden, scoreString(l.DealScore))
	return err
}

func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET
			url = $1, url_key = $2, title = $3, brand = $4, model = $5, location = $6,
			price = $7, currency = $8, is_sale = $9, nominal_price = $10,
			last_seen_at = $11, consecutive_misses = $12, active = $13
		WHERE id = $14`,
		l.URL, identity.NormalizeURL(l.URL), l.Title, l.Brand, l.Model, l.Location,
		l.Price.StringFixed(2), l.Currency, l.IsSale, l.NominalPrice.StringFixed(2),
		l.LastSeenAt, l.ConsecutiveMisses, l.Active, l.ID)
	return err
}

func (s *PostgresStore) TouchListing(ctx context.Context, id string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET last_seen_at = $1, consecutive_misses = 0, active = TRUE WHERE id = $2`,
		seenAt, id)
	return err
}

func (s *PostgresStore) UpdateDealScore(ctx context.Context, id string, score decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET deal_score = $1 WHERE id = $2`, score.String(), id)
	return err
}

func (s *PostgresStore) GetListings(ctx context.Context, f models.ListingFilters) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.ShowHidden {
		query += ` AND hidden = FALSE`
	}
	if f.ActiveOnly {
		query += ` AND active = TRUE`
	}
	if f.Brand != "" {
		query += ` AND brand = ` + arg(f.Brand)
	}
	if f.Location != "" {
		query += ` AND location ILIKE ` + arg("%"+f.Location+"%")
	}
	if f.Search != "" {
		query += ` AND title ILIKE ` + arg("%"+f.Search+"%")
	}
	if f.MinPrice != nil {
		query += ` AND price::NUMERIC >= ` + arg(f.MinPrice.InexactFloat64())
	}
	if f.MaxPrice != nil {
		query += ` AND price::NUMERIC <= ` + arg(f.MaxPrice.InexactFloat64())
	}

	switch f.SortBy {
	case "price_asc":
		query += ` ORDER BY price::NUMERIC ASC`
	case "price_desc":
		query += ` ORDER BY price::NUMERIC DESC`
	case "newest":
		query += ` ORDER BY first_seen_at DESC`
	case "oldest":
		query += ` ORDER BY first_seen_at ASC`
	case "score":
		query += ` ORDER BY COALESCE(deal_score, '0')::NUMERIC DESC`
	default:
		query += ` ORDER BY last_seen_at DESC`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := pgScanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) SetListingHidden(ctx context.Context, id string, hidden bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET hidden = $1 WHERE id = $2`, hidden, id)
	return err
}

func (s *PostgresStore) ActiveListingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM listings WHERE active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) RecordMiss(ctx context.Context, id string) (int, error) {
	var misses int
	err := s.pool.QueryRow(ctx, `
		UPDATE listings SET consecutive_misses = consecutive_misses + 1
		WHERE id = $1 RETURNING consecutive_misses`, id).Scan(&misses)
	return misses, err
}

func (s *PostgresStore) MarkListingInactive(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET active = FALSE WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DistinctBrands(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT brand FROM listings WHERE brand != '' AND active = TRUE ORDER BY brand`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brands []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

func (s *PostgresStore) AddPriceSnapshot(ctx context.Context, snap *models.PriceSnapshot) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO price_snapshots (listing_id, price, currency, is_sale, observed_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		snap.ListingID, snap.Price.StringFixed(2), snap.Currency, snap.IsSale, snap.ObservedAt).Scan(&snap.ID)
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, listingID string) ([]models.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, price, currency, is_sale, observed_at
		FROM price_snapshots WHERE listing_id = $1 ORDER BY observed_at`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.PriceSnapshot
	for rows.Next() {
		var snap models.PriceSnapshot
		var price string
		if err := rows.Scan(&snap.ID, &snap.ListingID, &price, &snap.Currency, &snap.IsSale, &snap.ObservedAt); err != nil {
			return nil, err
		}
		snap.Price = mustDecimal(price)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scrape_runs (started_at, status, search_query)
		VALUES ($1, $2, $3) RETURNING id`,
		run.StartedAt, run.Status, run.SearchQuery).Scan(&id)
	return id, err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_runs SET finished_at = $1, status = $2, listings_seen = $3,
			listings_new = $4, price_changes = $5, reactivated = $6, errors_count = $7,
			deactivated = $8, skipped_parse = $9
		WHERE id = $10`,
		run.FinishedAt, run.Status, run.ListingsSeen, run.ListingsNew,
		run.PriceChanges, run.Reactivated, run.ErrorsCount, run.Deactivated, run.SkippedParse, run.ID)
	return err
}

func (s *PostgresStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message)
		VALUES ($1, $2, $3, $4)`,
		runID, time.Now(), level, message)
	return err
}

func (s *PostgresStore) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM listings`, &stats.TotalListings},
		{`SELECT COUNT(*) FROM listings WHERE active = TRUE`, &stats.ActiveListings},
		{`SELECT COUNT(*) FROM price_snapshots`, &stats.TotalSnapshots},
		{`SELECT COUNT(*) FROM scrape_runs`, &stats.TotalRuns},
		{`SELECT COUNT(*) FROM listings WHERE active = TRUE AND price::NUMERIC < original_price::NUMERIC`, &stats.ListingsWithDrops},
	}
	for _, c := range counts {
		if err := s.pool.QueryRow(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, status, search_query, listings_seen,
			listings_new, price_changes, reactivated, errors_count, deactivated, skipped_parse
		FROM scrape_runs ORDER BY started_at DESC LIMIT 1`)
	var run models.ScrapeRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.SearchQuery,
		&run.ListingsSeen, &run.ListingsNew, &run.PriceChanges, &run.Reactivated,
		&run.ErrorsCount, &run.Deactivated, &run.SkippedParse)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		stats.LastRun = &run
	}
	return stats, nil
}

func (s *PostgresStore) GetSearchQueries(ctx context.Context, enabledOnly bool) ([]models.SearchQuery, error) {
	query := `SELECT id, url, label, enabled FROM search_queries`
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []models.SearchQuery
	for rows.Next() {
		var q models.SearchQuery
		if err := rows.Scan(&q.ID, &q.URL, &q.Label, &q.Enabled); err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *PostgresStore) AddSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO search_queries (url, label, enabled) VALUES ($1, $2, $3) RETURNING id`,
		q.URL, q.Label, q.Enabled).Scan(&q.ID)
}

func (s *PostgresStore) UpdateSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_queries SET url = $1, label = $2, enabled = $3 WHERE id = $4`,
		q.URL, q.Label, q.Enabled, q.ID)
	return err
}

func (s *PostgresStore) DeleteSearchQuery(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM search_queries WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) GetBrandKeywords(ctx context.Context) ([]models.BrandKeyword, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, brand, keyword, is_model, position
		FROM brand_keywords ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kws []models.BrandKeyword
	for rows.Next() {
		var k models.BrandKeyword
		if err := rows.Scan(&k.ID, &k.Brand, &k.Keyword, &k.IsModel, &k.Position); err != nil {
			return nil, err
		}
		kws = append(kws, k)
	}
	return kws, rows.Err()
}

func (s *PostgresStore) AddBrandKeyword(ctx context.Context, k *models.BrandKeyword) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO brand_keywords (brand, keyword, is_model, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (brand, keyword) DO UPDATE SET is_model = EXCLUDED.is_model, position = EXCLUDED.position
		RETURNING id`,
		k.Brand, k.Keyword, k.IsModel, k.Position).Scan(&k.ID)
}

func (s *PostgresStore) DeleteBrandKeyword(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM brand_keywords WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) GetRetailReferences(ctx context.Context) ([]models.RetailReference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, brand, model, msrp, retail_price, currency, updated_at
		FROM retail_references ORDER BY brand, model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []models.RetailReference
	for rows.Next() {
		var ref models.RetailReference
		var msrp, retail string
		if err := rows.Scan(&ref.ID, &ref.Brand, &ref.Model, &msrp, &retail, &ref.Currency, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		ref.MSRP = mustDecimal(msrp)
		ref.RetailPrice = mustDecimal(retail)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) UpsertRetailReference(ctx context.Context, ref *models.RetailReference) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO retail_references (brand, model, msrp, retail_price, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (brand, model) DO UPDATE SET
			msrp = EXCLUDED.msrp,
			retail_price = EXCLUDED.retail_price,
			currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at`,
		ref.Brand, ref.Model, ref.MSRP.StringFixed(2), ref.RetailPrice.StringFixed(2), ref.Currency, ref.UpdatedAt)
	return err
}

func (s *PostgresStore) DeleteRetailReference(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM retail_references WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("setting %s: %w", key, err)
	}
	return true, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, string(raw))
	return err
}

func (s *PostgresStore) GetAllSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = json.RawMessage(value)
	}
	return settings, rows.Err()
}
