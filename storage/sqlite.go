package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"dealtracker/identity"
	"dealtracker/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
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
		is_sale INTEGER NOT NULL DEFAULT 0,
		nominal_price TEXT NOT NULL,
		original_price TEXT NOT NULL,
		first_seen_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		consecutive_misses INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		hidden INTEGER NOT NULL DEFAULT 0,
		deal_score TEXT
	);

	CREATE TABLE IF NOT EXISTS price_snapshots (
		id INTEGER PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		price TEXT NOT NULL,
		currency TEXT NOT NULL,
		is_sale INTEGER NOT NULL DEFAULT 0,
		observed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
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
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_queries (
		id INTEGER PRIMARY KEY,
		url TEXT NOT NULL,
		label TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS brand_keywords (
		id INTEGER PRIMARY KEY,
		brand TEXT NOT NULL,
		keyword TEXT NOT NULL,
		is_model INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0,
		UNIQUE(brand, keyword)
	);

	CREATE TABLE IF NOT EXISTS retail_references (
		id INTEGER PRIMARY KEY,
		brand TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		msrp TEXT NOT NULL,
		retail_price TEXT NOT NULL,
		currency TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
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
	CREATE INDEX IF NOT EXISTS idx_keywords_position ON brand_keywords(position, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const listingColumns = `id, source_id, source, url, url_key, title, brand, model, location,
	price, currency, is_sale, nominal_price, original_price,
	first_seen_at, last_seen_at, consecutive_misses, active, hidden, deal_score`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var urlKey string
	var price, nominal, original string
	var score sql.NullString
	err := row.Scan(&l.ID, &l.SourceID, &l.Source, &l.URL, &urlKey, &l.Title, &l.Brand, &l.Model, &l.Location,
		&price, &l.Currency, &l.IsSale, &nominal, &original,
		&l.FirstSeenAt, &l.LastSeenAt, &l.ConsecutiveMisses, &l.Active, &l.Hidden, &score)
	if err == sql.ErrNoRows {
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

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	return scanListing(row)
}

func (s *SQLiteStore) GetListingByKey(ctx context.Context, key identity.Key) (*models.Listing, error) {
	var row *sql.Row
	switch key.Kind {
	case identity.BySourceID:
		row = s.db.QueryRowContext(ctx,
			`SELECT `+listingColumns+` FROM listings WHERE source_id = ?`, key.Value)
	default:
		row = s.db.QueryRowContext(ctx,
			`SELECT `+listingColumns+` FROM listings WHERE url_key = ?`, key.Value)
	}
	return scanListing(row)
}

func (s *SQLiteStore) CreateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SourceID, l.Source, l.URL, identity.NormalizeURL(l.URL), l.Title, l.Brand, l.Model, l.Location,
		l.Price.StringFixed(2), l.Currency, l.IsSale, l.NominalPrice.StringFixed(2), l.OriginalPrice.StringFixed(2),
		l.FirstSeenAt, l.LastSeenAt, l.ConsecutiveMisses, l.Active, l.Hidden, scoreString(l.DealScore))
	return err
}

// UpdateListing writes the mutable listing fields. original_price and
// first_seen_at are set once at creation and deliberately excluded here.
func (s *SQLiteStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET
			url = ?, url_key = ?, title = ?, brand = ?, model = ?, location = ?,
			price = ?, currency = ?, is_sale = ?, nominal_price = ?,
			last_seen_at = ?, consecutive_misses = ?, active = ?
		WHERE id = ?`,
		l.URL, identity.NormalizeURL(l.URL), l.Title, l.Brand, l.Model, l.Location,
		l.Price.StringFixed(2), l.Currency, l.IsSale, l.NominalPrice.StringFixed(2),
		l.LastSeenAt, l.ConsecutiveMisses, l.Active, l.ID)
	return err
}

func (s *SQLiteStore) TouchListing(ctx context.Context, id string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET last_seen_at = ?, consecutive_misses = 0, active = 1 WHERE id = ?`,
		seenAt, id)
	return err
}

func (s *SQLiteStore) UpdateDealScore(ctx context.Context, id string, score decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET deal_score = ? WHERE id = ?`, score.String(), id)
	return err
}

func (s *SQLiteStore) GetListings(ctx context.Context, f models.ListingFilters) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	var args []any

	if !f.ShowHidden {
		query += ` AND hidden = 0`
	}
	if f.ActiveOnly {
		query += ` AND active = 1`
	}
	if f.Brand != "" {
		query += ` AND brand = ?`
		args = append(args, f.Brand)
	}
	if f.Location != "" {
		query += ` AND location LIKE ?`
		args = append(args, "%"+f.Location+"%")
	}
	if f.Search != "" {
		query += ` AND title LIKE ?`
		args = append(args, "%"+f.Search+"%")
	}
	if f.MinPrice != nil {
		query += ` AND CAST(price AS REAL) >= ?`
		args = append(args, f.MinPrice.InexactFloat64())
	}
	if f.MaxPrice != nil {
		query += ` AND CAST(price AS REAL) <= ?`
		args = append(args, f.MaxPrice.InexactFloat64())
	}

	switch f.SortBy {
	case "price_asc":
		query += ` ORDER BY CAST(price AS REAL) ASC`
	case "price_desc":
		query += ` ORDER BY CAST(price AS REAL) DESC`
	case "newest":
		query += ` ORDER BY first_seen_at DESC`
	case "oldest":
		query += ` ORDER BY first_seen_at ASC`
	case "score":
		query += ` ORDER BY CAST(COALESCE(deal_score, '0') AS REAL) DESC`
	default:
		query += ` ORDER BY last_seen_at DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) SetListingHidden(ctx context.Context, id string, hidden bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE listings SET hidden = ? WHERE id = ?`, hidden, id)
	return err
}

func (s *SQLiteStore) ActiveListingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM listings WHERE active = 1`)
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

func (s *SQLiteStore) RecordMiss(ctx context.Context, id string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET consecutive_misses = consecutive_misses + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	var misses int
	err = s.db.QueryRowContext(ctx,
		`SELECT consecutive_misses FROM listings WHERE id = ?`, id).Scan(&misses)
	return misses, err
}

func (s *SQLiteStore) MarkListingInactive(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE listings SET active = 0 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) DistinctBrands(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT brand FROM listings WHERE brand != '' AND active = 1 ORDER BY brand`)
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

func (s *SQLiteStore) AddPriceSnapshot(ctx context.Context, snap *models.PriceSnapshot) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (listing_id, price, currency, is_sale, observed_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ListingID, snap.Price.StringFixed(2), snap.Currency, snap.IsSale, snap.ObservedAt)
	if err != nil {
		return err
	}
	snap.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetPriceHistory(ctx context.Context, listingID string) ([]models.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, price, currency, is_sale, observed_at
		FROM price_snapshots WHERE listing_id = ? ORDER BY observed_at`, listingID)
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

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (started_at, status, search_query)
		VALUES (?, ?, ?)`,
		run.StartedAt, run.Status, run.SearchQuery)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, status = ?, listings_seen = ?,
			listings_new = ?, price_changes = ?, reactivated = ?, errors_count = ?,
			deactivated = ?, skipped_parse = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsSeen, run.ListingsNew,
		run.PriceChanges, run.Reactivated, run.ErrorsCount, run.Deactivated, run.SkippedParse, run.ID)
	return err
}

func (s *SQLiteStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message)
		VALUES (?, ?, ?, ?)`,
		runID, time.Now(), level, message)
	return err
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM listings`, &stats.TotalListings},
		{`SELECT COUNT(*) FROM listings WHERE active = 1`, &stats.ActiveListings},
		{`SELECT COUNT(*) FROM price_snapshots`, &stats.TotalSnapshots},
		{`SELECT COUNT(*) FROM scrape_runs`, &stats.TotalRuns},
		{`SELECT COUNT(*) FROM listings WHERE active = 1 AND CAST(price AS REAL) < CAST(original_price AS REAL)`, &stats.ListingsWithDrops},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, search_query, listings_seen,
			listings_new, price_changes, reactivated, errors_count, deactivated, skipped_parse
		FROM scrape_runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	stats.LastRun = run
	return stats, nil
}

func scanRun(row rowScanner) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.SearchQuery,
		&run.ListingsSeen, &run.ListingsNew, &run.PriceChanges, &run.Reactivated,
		&run.ErrorsCount, &run.Deactivated, &run.SkippedParse)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) GetSearchQueries(ctx context.Context, enabledOnly bool) ([]models.SearchQuery, error) {
	query := `SELECT id, url, label, enabled FROM search_queries`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
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

func (s *SQLiteStore) AddSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO search_queries (url, label, enabled) VALUES (?, ?, ?)`,
		q.URL, q.Label, q.Enabled)
	if err != nil {
		return err
	}
	q.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) UpdateSearchQuery(ctx context.Context, q *models.SearchQuery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_queries SET url = ?, label = ?, enabled = ? WHERE id = ?`,
		q.URL, q.Label, q.Enabled, q.ID)
	return err
}

func (s *SQLiteStore) DeleteSearchQuery(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_queries WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) GetBrandKeywords(ctx context.Context) ([]models.BrandKeyword, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) AddBrandKeyword(ctx context.Context, k *models.BrandKeyword) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO brand_keywords (brand, keyword, is_model, position)
		VALUES (?, ?, ?, ?)`,
		k.Brand, k.Keyword, k.IsModel, k.Position)
	if err != nil {
		return err
	}
	k.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) DeleteBrandKeyword(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM brand_keywords WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) GetRetailReferences(ctx context.Context) ([]models.RetailReference, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) UpsertRetailReference(ctx context.Context, ref *models.RetailReference) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retail_references (brand, model, msrp, retail_price, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(brand, model) DO UPDATE SET
			msrp = excluded.msrp,
			retail_price = excluded.retail_price,
			currency = excluded.currency,
			updated_at = excluded.updated_at`,
		ref.Brand, ref.Model, ref.MSRP.StringFixed(2), ref.RetailPrice.StringFixed(2), ref.Currency, ref.UpdatedAt)
	return err
}

func (s *SQLiteStore) DeleteRetailReference(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retail_references WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
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

func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, string(raw))
	return err
}

func (s *SQLiteStore) GetAllSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
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

func scoreString(score *decimal.Decimal) any {
	if score == nil {
		return nil
	}
	return score.String()
}
