// Package store defines the record store contract and opens the configured
// backend.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/store/clickhouse"
	"github.com/use-agent/promozone/store/memory"
	"github.com/use-agent/promozone/store/postgres"
)

// Store is an append-only table of product records keyed by dedupe key.
type Store interface {
	// Name identifies the backend ("clickhouse", "postgres", "memory").
	Name() string

	// EnsureSchema creates the target table when missing. Idempotent.
	EnsureSchema(ctx context.Context) error

	// ExistingKeys returns the subset of keys already stored.
	ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error)

	// Append bulk-writes records and returns how many rows were written.
	// Backends with a uniqueness constraint skip keys already present.
	Append(ctx context.Context, records []models.Product) (int, error)

	// Recent returns records collected in the last hours, newest first.
	Recent(ctx context.Context, hours, limit int) ([]models.StoredRecord, error)

	// Stats summarizes the table.
	Stats(ctx context.Context) (models.StoreStats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Compile-time interface checks.
var (
	_ Store = (*clickhouse.Store)(nil)
	_ Store = (*postgres.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// Open connects the backend named by cfg. Network backends require a DSN;
// a configured credentials file must be readable.
func Open(ctx context.Context, cfg config.WarehouseConfig) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "memory" {
		return memory.New(), nil
	}
	if backend != "clickhouse" && backend != "postgres" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: PROMOZONE_WAREHOUSE_DSN is empty for backend %s", ErrNotConfigured, backend)
	}
	if cfg.Dataset == "" || cfg.Table == "" {
		return nil, fmt.Errorf("%w: dataset and table are required", ErrNotConfigured)
	}

	dsn := cfg.DSN
	if cfg.CredentialsPath != "" {
		creds, err := readCredentials(cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		if dsn, err = withCredentials(dsn, creds); err != nil {
			return nil, err
		}
	}

	switch backend {
	case "clickhouse":
		conn, err := clickhouse.NewConn(ctx, dsn)
		if err != nil {
			return nil, err
		}
		s, err := clickhouse.NewStore(conn, cfg.Dataset, cfg.Table)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return s, nil
	default:
		pool, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		s, err := postgres.NewStore(pool, cfg.Dataset, cfg.Table)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	}
}

// Credentials is the content of a warehouse credentials file.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func readCredentials(path string) (Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: read credentials file: %w", ErrNotConfigured, err)
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("%w: parse credentials file %s: %w", ErrNotConfigured, path, err)
	}
	if c.Username == "" {
		return Credentials{}, fmt.Errorf("%w: credentials file %s has no username", ErrNotConfigured, path)
	}
	return c, nil
}

// withCredentials replaces the user info of a URL-style DSN.
func withCredentials(dsn string, c Credentials) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("%w: credentials file requires a URL-style DSN", ErrNotConfigured)
	}
	u.User = url.UserPassword(c.Username, c.Password)
	return u.String(), nil
}
