// Package cachel1 implements the L1 Revision Cache: a process-local,
// bounded LRU of recent check decisions keyed by a revision-bucketed key
// so that small, frequent writes don't thrash the cache (spec.md §3, "L1
// Cache Entry" / "Revision Bucket").
package cachel1

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// Decision is the cached outcome of a check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// Key identifies one cached decision. RevisionBucket, not the raw
// current_version, makes the key stable across writes that land in the
// same bucket (spec.md: "Revision Bucket = current_version /
// quantization_window").
type Key struct {
	Zone           tuple.Zone
	Subject        tuple.Subject
	Relation       string
	Object         tuple.Object
	RevisionBucket uint64
}

// Bucket computes the revision bucket for a raw store version.
func Bucket(version, window uint64) uint64 {
	if window == 0 {
		window = 1
	}
	return version / window
}

// Cache is the bounded LRU of decisions. It never talks to the store
// directly; the engine supplies the already-bucketed key.
type Cache struct {
	lru *lru.Cache[Key, Decision]
}

// New creates an L1 cache with the given capacity (config.L1Capacity).
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[Key, Decision](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Get returns the cached decision for key, if present.
func (c *Cache) Get(key Key) (Decision, bool) {
	return c.lru.Get(key)
}

// Put records a decision for key. The Check Engine calls this on every
// check outcome, allow or deny (spec.md §5: "writes into L1 always").
func (c *Cache) Put(key Key, decision Decision) {
	c.lru.Add(key, decision)
}

// Purge evicts every entry. Used by reset_zone; a full purge is simpler
// and safer than a selective sweep since L1 entries are cheap to
// recompute and keys don't carry an explicit zone-only index.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
