package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/store/memory"
)

func products(ids ...string) []models.Product {
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.NewProduct(models.ProductInput{ItemID: id, Price: decimal.NewFromInt(10)}))
	}
	return out
}

// schemaFailStore fails EnsureSchema and counts Append calls.
type schemaFailStore struct {
	*memory.Store
	appends int
}

func (s *schemaFailStore) EnsureSchema(context.Context) error { return errors.New("no permission") }

func (s *schemaFailStore) Append(ctx context.Context, r []models.Product) (int, error) {
	s.appends++
	return s.Store.Append(ctx, r)
}

func TestInsertBatch_EmptyInput(t *testing.T) {
	s := &schemaFailStore{Store: memory.New()}
	res, err := NewLoader(s, nil).InsertBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, InsertResult{}, res)
	assert.Zero(t, s.appends, "empty input never touches the store")
}

func TestInsertBatch_NewThenDuplicate(t *testing.T) {
	mem := memory.New()
	l := NewLoader(mem, nil)
	ctx := context.Background()

	res, err := l.InsertBatch(ctx, products("MLB1", "MLB2", "MLB3"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 3}, res)

	res, err = l.InsertBatch(ctx, products("MLB1", "MLB2", "MLB3"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Duplicates: 3}, res)
	assert.Equal(t, 3, mem.Len())
}

func TestInsertBatch_AppendFailure(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_, err := NewLoader(mem, nil).InsertBatch(ctx, products("MLB1"))
	require.NoError(t, err)

	mem.FailAppend = errors.New("quota exceeded")
	res, err := NewLoader(mem, nil).InsertBatch(ctx, products("MLB1", "MLB2"))

	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 0, Duplicates: 1, Errors: 1}, res)
}

func TestInsertBatch_SchemaFailure(t *testing.T) {
	s := &schemaFailStore{Store: memory.New()}
	_, err := NewLoader(s, nil).InsertBatch(context.Background(), products("MLB1"))

	assert.Error(t, err)
	assert.Zero(t, s.appends)
}

func TestInsertBatch_LookupFailureInsertsAll(t *testing.T) {
	mem := memory.New()
	mem.FailLookup = errors.New("lookup down")

	res, err := NewLoader(mem, nil).InsertBatch(context.Background(), products("MLB1", "MLB2"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
}

// racingStore reports no existing keys, so the append hits the uniqueness rule.
type racingStore struct{ *memory.Store }

func (racingStore) ExistingKeys(context.Context, []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func TestInsertBatch_AppendRejectionsCountAsDuplicates(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_, err := mem.Append(ctx, products("MLB1"))
	require.NoError(t, err)

	res, err := NewLoader(racingStore{mem}, nil).InsertBatch(ctx, products("MLB1", "MLB2"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 1, Duplicates: 1}, res)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.WarehouseConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	_, err = Open(ctx, config.WarehouseConfig{Backend: "bigtable"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(ctx, config.WarehouseConfig{Backend: "clickhouse", Dataset: "d", Table: "t"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = Open(ctx, config.WarehouseConfig{
		Backend: "postgres", DSN: "postgres://localhost/db", Dataset: "d", Table: "t",
		CredentialsPath: filepath.Join(t.TempDir(), "missing.json"),
	})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestWithCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"svc","password":"p@ss"}`), 0o600))

	c, err := readCredentials(path)
	require.NoError(t, err)

	dsn, err := withCredentials("clickhouse://old:pw@ch:9000/promocoes", c)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse://svc:p%40ss@ch:9000/promocoes", dsn)

	_, err = withCredentials("host=localhost user=x", c)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
