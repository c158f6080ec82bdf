// Package indexcache memoizes Legacy-ID Index lookups for the duration of a run.
package indexcache

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds the number of cached (entity, legacy id) pairs.
const DefaultSize = 4096

type cacheKey struct {
	entity   reconcile.EntityType
	legacyID reconcile.LegacyID
}

type cacheEntry struct {
	newID reconcile.NewID
	found bool
}

// Index caches hits and misses of an underlying reconcile.LegacyIndex. Errors are never cached.
type Index struct {
	next    reconcile.LegacyIndex
	entries *lru.Cache[cacheKey, cacheEntry]
	hits    int
	misses  int
}

// New wraps next with an LRU cache holding up to size entries.
func New(next reconcile.LegacyIndex, size int) (*Index, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: legacy index is nil", reconcile.ErrInvalidReconcilerConf)
	}
	entries, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrInvalidReconcilerConf, err)
	}
	return &Index{next: next, entries: entries}, nil
}

func (index *Index) LookupNewID(ctx context.Context, entity reconcile.EntityType, legacyID reconcile.LegacyID) (reconcile.NewID, bool, error) {
	key := cacheKey{entity: entity, legacyID: legacyID}
	if entry, ok := index.entries.Get(key); ok {
		index.hits++
		return entry.newID, entry.found, nil
	}
	index.misses++
	newID, found, err := index.next.LookupNewID(ctx, entity, legacyID)
	if err != nil {
		return reconcile.NewID{}, false, err
	}
	index.entries.Add(key, cacheEntry{newID: newID, found: found})
	return newID, found, nil
}

// Stats reports cache hits and misses since construction.
func (index *Index) Stats() (hits int, misses int) {
	return index.hits, index.misses
}
