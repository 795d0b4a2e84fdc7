// Package refcache implements a per-job reference/uniqueness cache:
// existence and uniqueness lookups memoized for the lifetime of a single
// job run so repeated references to the same key cost one round trip, not
// one per record.
//
// A mutex-guarded map keyed by a lookup string, holding a family of
// existence/uniqueness caches scoped to one job.
package refcache

import "sync"

// Cache memoizes lookups for one job run. It is never shared across jobs.
type Cache struct {
	mu sync.Mutex

	exists map[string]bool // "<kind>:<value>" -> exists
	claims map[string]int  // "<kind>:<value>" -> first record index that claimed it within the batch
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{
		exists: make(map[string]bool),
		claims: make(map[string]int),
	}
}

// ExistenceLookup returns a memoized existence result for kind+value,
// calling fetch on a cache miss and storing whatever fetch returns,
// including negative results.
func (c *Cache) ExistenceLookup(kind, value string, fetch func() (bool, error)) (bool, error) {
	key := kind + ":" + value
	c.mu.Lock()
	if v, ok := c.exists[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.exists[key] = v
	c.mu.Unlock()
	return v, nil
}

// ClaimBatchUnique records that recordIndex is the first record in this
// batch to claim kind+value (e.g. an email within an NDJSON file).
// Returns the index of the earlier claimant and false if the value was
// already claimed by a different record index.
func (c *Cache) ClaimBatchUnique(kind, value string, recordIndex int) (firstClaimIndex int, ok bool) {
	key := kind + ":" + value
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, claimed := c.claims[key]; claimed {
		return existing, existing == recordIndex
	}
	c.claims[key] = recordIndex
	return recordIndex, true
}

// Invalidate drops a memoized existence entry, used after an upsert
// creates or updates the referenced row so a later lookup in the same job
// observes the new state.
func (c *Cache) Invalidate(kind, value string) {
	key := kind + ":" + value
	c.mu.Lock()
	delete(c.exists, key)
	c.mu.Unlock()
}
