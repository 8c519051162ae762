// Package dedup filters candidate records against keys already persisted.
package dedup

import (
	"context"
	"log/slog"

	"github.com/use-agent/promozone/models"
)

// KeyLookup reports which of the given dedupe keys already exist.
type KeyLookup interface {
	ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error)
}

// FilterNew splits candidates into fresh records and a duplicate count.
//
// Keys are checked in a single lookup call; empty input makes none. A
// candidate that repeats a key seen earlier in the same batch is also a
// duplicate. If the lookup fails every candidate is treated as new, so a
// store outage never drops data.
func FilterNew(ctx context.Context, candidates []models.Product, lookup KeyLookup) ([]models.Product, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	keys := make([]string, len(candidates))
	unique := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		keys[i] = c.DedupeKey()
		if _, ok := seen[keys[i]]; !ok {
			seen[keys[i]] = struct{}{}
			unique = append(unique, keys[i])
		}
	}

	existing, err := lookup.ExistingKeys(ctx, unique)
	if err != nil {
		slog.Warn("dedup: existence check failed, treating all candidates as new",
			"candidates", len(candidates), "error", err)
		existing = nil
	}

	fresh := make([]models.Product, 0, len(candidates))
	emitted := make(map[string]struct{}, len(unique))
	duplicates := 0
	for i, c := range candidates {
		k := keys[i]
		if _, ok := existing[k]; ok {
			duplicates++
			continue
		}
		if _, ok := emitted[k]; ok {
			duplicates++
			continue
		}
		emitted[k] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh, duplicates
}
