package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/use-agent/promozone/models"
)

// Store keeps product records in schema.table. The dedupe key is the
// primary key, so concurrent loads of the same key insert one row.
type Store struct {
	pool   *Pool
	schema string
	table  string
}

// NewStore creates a Store for schema.table.
func NewStore(pool *Pool, schema, table string) (*Store, error) {
	if schema == "" || table == "" {
		return nil, fmt.Errorf("postgres: schema and table are required")
	}
	return &Store{pool: pool, schema: schema, table: table}, nil
}

func (s *Store) fqtn() string { return pgx.Identifier{s.schema, s.table}.Sanitize() }

// Name identifies the backend.
func (s *Store) Name() string { return "postgres" }

// EnsureSchema creates the schema, table and index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.fqtn() + ` (
			dedupe_key        TEXT PRIMARY KEY,
			marketplace       TEXT NOT NULL,
			item_id           TEXT NOT NULL,
			url               TEXT NOT NULL,
			title             TEXT NOT NULL,
			price             NUMERIC(18, 2) NOT NULL,
			original_price    NUMERIC(18, 2),
			discount_percent  DOUBLE PRECISION,
			seller            TEXT NOT NULL DEFAULT '',
			image_url         TEXT NOT NULL DEFAULT '',
			source            TEXT NOT NULL,
			currency          TEXT NOT NULL,
			execution_id      TEXT NOT NULL,
			collected_at      TIMESTAMPTZ NOT NULL,
			inserted_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{s.table + "_collected_at_idx"}.Sanitize() +
			` ON ` + s.fqtn() + ` (collected_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ExistingKeys returns the subset of keys already stored.
func (s *Store) ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(keys) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT dedupe_key FROM `+s.fqtn()+` WHERE dedupe_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		found[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return found, nil
}

// Append inserts records in one batch. Rows whose key already exists are
// skipped by the table constraint and not counted in the result.
func (s *Store) Append(ctx context.Context, records []models.Product) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO ` + s.fqtn() + ` (
			dedupe_key, marketplace, item_id, url, title, price, original_price, discount_percent,
			seller, image_url, source, currency, execution_id, collected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dedupe_key) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, p := range records {
		var discount *float64
		if p.DiscountPercent.Valid {
			f := p.DiscountPercent.Decimal.InexactFloat64()
			discount = &f
		}
		batch.Queue(query,
			p.DedupeKey(), p.Marketplace, p.ItemID, p.URL, p.Title,
			p.Price.StringFixed(2), nullNumeric(p.OriginalPrice), discount,
			p.Seller, p.ImageURL, p.Source, p.Currency, p.CrawlID, p.CollectedAt,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	written := 0
	for range records {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("insert record: %w", err)
		}
		written += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return written, nil
}

// Recent returns records collected in the last hours, newest first.
func (s *Store) Recent(ctx context.Context, hours, limit int) ([]models.StoredRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT marketplace, item_id, url, title, price::text, original_price::text, seller, image_url,
		       source, currency, execution_id, collected_at, inserted_at
		FROM `+s.fqtn()+`
		WHERE collected_at >= now() - make_interval(hours => $1)
		ORDER BY collected_at DESC
		LIMIT $2
	`, hours, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []models.StoredRecord
	for rows.Next() {
		var (
			in         models.ProductInput
			price      string
			original   *string
			insertedAt time.Time
		)
		if err := rows.Scan(
			&in.Marketplace, &in.ItemID, &in.URL, &in.Title, &price, &original,
			&in.Seller, &in.ImageURL, &in.Source, &in.Currency, &in.CrawlID,
			&in.CollectedAt, &insertedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if in.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if original != nil {
			op, err := decimal.NewFromString(*original)
			if err != nil {
				return nil, fmt.Errorf("parse original price %q: %w", *original, err)
			}
			in.OriginalPrice = decimal.NewNullDecimal(op)
		}
		out = append(out, models.StoredRecord{Product: models.NewProduct(in), InsertedAt: insertedAt.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Stats summarizes the table.
func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	var (
		stats       models.StoreStats
		first, last *time.Time
		avg         *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(DISTINCT item_id),
			count(DISTINCT execution_id),
			min(collected_at),
			max(collected_at),
			round(avg(price), 2)::text,
			count(*) FILTER (WHERE original_price > price)
		FROM `+s.fqtn()).Scan(
		&stats.TotalProducts, &stats.UniqueItems, &stats.TotalExecutions,
		&first, &last, &avg, &stats.ProductsOnSale,
	)
	if err != nil {
		return models.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}

	if first != nil {
		f := first.UTC()
		stats.FirstCollection = &f
	}
	if last != nil {
		l := last.UTC()
		stats.LastCollection = &l
	}
	if avg != nil {
		d, err := decimal.NewFromString(*avg)
		if err != nil {
			return models.StoreStats{}, fmt.Errorf("parse avg price %q: %w", *avg, err)
		}
		stats.AvgPrice = decimal.NewNullDecimal(d)
	}
	return stats, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullNumeric(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.StringFixed(2)
	return &v
}
