package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/promozone/models"
)

func product(id string, price int64, collectedAt time.Time) models.Product {
	return models.NewProduct(models.ProductInput{
		ItemID:      id,
		Price:       decimal.NewFromInt(price),
		CrawlID:     "run1",
		CollectedAt: collectedAt,
	})
}

func TestStore_AppendIgnoresExistingKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	n, err := s.Append(ctx, []models.Product{product("MLB1", 10, now), product("MLB2", 20, now)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Append(ctx, []models.Product{product("MLB1", 10, now), product("MLB1", 11, now)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, s.Len())

	existing, err := s.ExistingKeys(ctx, []string{"mercado_livre_MLB1_10.00", "nope"})
	require.NoError(t, err)
	assert.Len(t, existing, 1)
}

func TestStore_RecentOrdersAndFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	_, err := s.Append(ctx, []models.Product{
		product("MLB1", 10, now.Add(-2*time.Hour)),
		product("MLB2", 10, now.Add(-30*time.Minute)),
		product("MLB3", 10, now.Add(-48*time.Hour)),
	})
	require.NoError(t, err)

	recent, err := s.Recent(ctx, 24, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "MLB2", recent[0].ItemID)
	assert.Equal(t, "MLB1", recent[1].ItemID)

	limited, err := s.Recent(ctx, 24, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Stats(t *testing.T) {
	s := New()
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalProducts)
	assert.False(t, empty.AvgPrice.Valid)

	onSale := models.NewProduct(models.ProductInput{
		ItemID: "MLB1", Price: decimal.NewFromInt(80), CrawlID: "a",
		OriginalPrice: decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	_, err = s.Append(ctx, []models.Product{onSale, product("MLB1", 70, time.Now()), product("MLB2", 30, time.Now())})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalProducts)
	assert.EqualValues(t, 2, stats.UniqueItems)
	assert.EqualValues(t, 2, stats.TotalExecutions)
	assert.EqualValues(t, 1, stats.ProductsOnSale)
	assert.True(t, decimal.NewFromInt(60).Equal(stats.AvgPrice.Decimal))
}

func TestStore_FailureHooks(t *testing.T) {
	s := New()
	s.FailAppend = errors.New("append down")
	s.FailLookup = errors.New("lookup down")

	_, err := s.Append(context.Background(), []models.Product{product("MLB1", 1, time.Now())})
	assert.Error(t, err)
	_, err = s.ExistingKeys(context.Background(), []string{"x"})
	assert.Error(t, err)
}
