package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/promozone/models"
)

type fakeLookup struct {
	existing map[string]struct{}
	err      error
	calls    int
	lastKeys []string
}

func (f *fakeLookup) ExistingKeys(_ context.Context, keys []string) (map[string]struct{}, error) {
	f.calls++
	f.lastKeys = keys
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]struct{}{}
	for _, k := range keys {
		if _, ok := f.existing[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func product(id string, price int64) models.Product {
	return models.NewProduct(models.ProductInput{ItemID: id, Price: decimal.NewFromInt(price)})
}

func TestFilterNew_EmptyMakesNoCall(t *testing.T) {
	l := &fakeLookup{}
	fresh, dup := FilterNew(context.Background(), nil, l)

	assert.Empty(t, fresh)
	assert.Zero(t, dup)
	assert.Zero(t, l.calls)
}

func TestFilterNew_DropsExisting(t *testing.T) {
	existing := product("MLB1", 10)
	l := &fakeLookup{existing: map[string]struct{}{existing.DedupeKey(): {}}}

	fresh, dup := FilterNew(context.Background(), []models.Product{
		existing, product("MLB2", 20), product("MLB1", 9),
	}, l)

	require.Len(t, fresh, 2)
	assert.Equal(t, 1, dup)
	assert.Equal(t, "MLB2", fresh[0].ItemID)
	assert.Equal(t, "MLB1", fresh[1].ItemID, "price change is a new key")
	assert.Equal(t, 1, l.calls)
	assert.Len(t, l.lastKeys, 3)
}

func TestFilterNew_CollapsesRepeatsInBatch(t *testing.T) {
	l := &fakeLookup{}
	fresh, dup := FilterNew(context.Background(), []models.Product{
		product("MLB1", 10), product("MLB1", 10), product("MLB2", 10),
	}, l)

	assert.Len(t, fresh, 2)
	assert.Equal(t, 1, dup)
	assert.Len(t, l.lastKeys, 2, "lookup receives each key once")
}

func TestFilterNew_LookupFailureTreatsAllAsNew(t *testing.T) {
	l := &fakeLookup{err: errors.New("warehouse down")}
	in := []models.Product{product("MLB1", 10), product("MLB2", 10)}

	fresh, dup := FilterNew(context.Background(), in, l)

	assert.Len(t, fresh, 2)
	assert.Zero(t, dup)
}
