package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/use-agent/promozone/models"
)

// keyChunk bounds the size of one existence query.
const keyChunk = 1000

// Store keeps product records in a ReplacingMergeTree keyed by dedupe key,
// so a key inserted twice collapses to one row on merge.
type Store struct {
	conn     *Conn
	database string
	table    string
}

// NewStore creates a Store for database.table.
func NewStore(conn *Conn, database, table string) (*Store, error) {
	if !validIdent(database) || !validIdent(table) {
		return nil, fmt.Errorf("clickhouse: invalid table name %q.%q", database, table)
	}
	return &Store{conn: conn, database: database, table: table}, nil
}

func (s *Store) fqtn() string { return "`" + s.database + "`.`" + s.table + "`" }

// Name identifies the backend.
func (s *Store) Name() string { return "clickhouse" }

// EnsureSchema creates the database and table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+s.database+"`"); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.fqtn()+` (
			marketplace       LowCardinality(String),
			item_id           String,
			url               String,
			title             String,
			price             Decimal(18, 2),
			original_price    Nullable(Decimal(18, 2)),
			discount_percent  Nullable(Float64),
			seller            String,
			image_url         String,
			source            String,
			currency          LowCardinality(String),
			dedupe_key        String,
			execution_id      String,
			collected_at      DateTime64(3, 'UTC'),
			inserted_at       DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(inserted_at)
		ORDER BY dedupe_key
		SETTINGS index_granularity = 8192
	`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// ExistingKeys returns the subset of keys already stored.
func (s *Store) ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	for start := 0; start < len(keys); start += keyChunk {
		end := min(start+keyChunk, len(keys))

		rows, err := s.conn.Query(ctx,
			`SELECT DISTINCT dedupe_key FROM `+s.fqtn()+` WHERE has(?, dedupe_key)`, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("query existing keys: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan key: %w", err)
			}
			found[k] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate keys: %w", err)
		}
	}
	return found, nil
}

// Append bulk-inserts records in one batch and returns the rows sent.
func (s *Store) Append(ctx context.Context, records []models.Product) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO `+s.fqtn()+` (
			marketplace, item_id, url, title, price, original_price, discount_percent,
			seller, image_url, source, currency, dedupe_key, execution_id, collected_at
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range records {
		err = batch.Append(
			p.Marketplace, p.ItemID, p.URL, p.Title, p.Price,
			nullDecimal(p.OriginalPrice), nullFloat(p.DiscountPercent),
			p.Seller, p.ImageURL, p.Source, p.Currency,
			p.DedupeKey(), p.CrawlID, p.CollectedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}
	return len(records), nil
}

const selectColumns = `
	marketplace, item_id, url, title, price, original_price, seller, image_url,
	source, currency, execution_id, collected_at, inserted_at`

// Recent returns records collected in the last hours, newest first.
func (s *Store) Recent(ctx context.Context, hours, limit int) ([]models.StoredRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+selectColumns+`
		FROM `+s.fqtn()+` FINAL
		WHERE collected_at >= now64(3) - toIntervalHour(?)
		ORDER BY collected_at DESC
		LIMIT ?
	`, hours, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []models.StoredRecord
	for rows.Next() {
		var (
			in         models.ProductInput
			original   *decimal.Decimal
			insertedAt time.Time
		)
		if err := rows.Scan(
			&in.Marketplace, &in.ItemID, &in.URL, &in.Title, &in.Price, &original,
			&in.Seller, &in.ImageURL, &in.Source, &in.Currency, &in.CrawlID,
			&in.CollectedAt, &insertedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if original != nil {
			in.OriginalPrice = decimal.NewNullDecimal(*original)
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
		total, items, executions, onSale uint64
		first, last                      time.Time
		avg                              float64
	)
	row := s.conn.QueryRow(ctx, `
		SELECT
			count(),
			uniqExact(item_id),
			uniqExact(execution_id),
			min(collected_at),
			max(collected_at),
			if(count() = 0, 0, toFloat64(avg(price))),
			countIf(original_price > price)
		FROM `+s.fqtn()+` FINAL
	`)
	if err := row.Scan(&total, &items, &executions, &first, &last, &avg, &onSale); err != nil {
		return models.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}

	stats := models.StoreStats{
		TotalProducts:   int64(total),
		UniqueItems:     int64(items),
		TotalExecutions: int64(executions),
		ProductsOnSale:  int64(onSale),
	}
	if total > 0 {
		f, l := first.UTC(), last.UTC()
		stats.FirstCollection = &f
		stats.LastCollection = &l
		stats.AvgPrice = decimal.NewNullDecimal(decimal.NewFromFloat(avg).Round(2))
	}
	return stats, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}
