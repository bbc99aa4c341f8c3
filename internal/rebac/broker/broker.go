// Package broker implements the Revision Broker: a short-TTL cache of each
// zone's current_version so the Check Engine doesn't hit the tuple store
// on every request just to learn the revision bucket (spec.md §3,
// "Revision Broker").
package broker

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nexi-lab/nexus/internal/rebac/storage"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

type cachedRevision struct {
	version   uint64
	fetchedAt time.Time
}

// Broker caches each zone's current_version for TTL, collapsing concurrent
// refreshes for the same zone through singleflight the way the teacher
// collapses concurrent monitor syncs in its ticker loops
// (pkg/worker/health_monitor.go), adapted here to an on-demand refresh
// instead of a fixed ticker since checks arrive at unpredictable rates.
type Broker struct {
	store storage.TupleStore
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[tuple.Zone]cachedRevision

	group singleflight.Group
}

// New creates a Revision Broker backed by store, caching each zone's
// version for up to ttl (config.RevisionBrokerTTL).
func New(store storage.TupleStore, ttl time.Duration) *Broker {
	return &Broker{
		store: store,
		ttl:   ttl,
		cache: make(map[tuple.Zone]cachedRevision),
	}
}

// CurrentVersion returns zone's current_version, served from the TTL cache
// when fresh or refreshed from the store otherwise.
func (b *Broker) CurrentVersion(zone tuple.Zone) (uint64, error) {
	b.mu.RLock()
	entry, ok := b.cache[zone]
	fresh := ok && time.Since(entry.fetchedAt) < b.ttl
	b.mu.RUnlock()

	if fresh {
		return entry.version, nil
	}

	result, err, _ := b.group.Do(string(zone), func() (any, error) {
		version, err := b.store.CurrentVersion(zone)
		if err != nil {
			return uint64(0), err
		}

		b.mu.Lock()
		b.cache[zone] = cachedRevision{version: version, fetchedAt: time.Now()}
		b.mu.Unlock()

		return version, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(uint64), nil
}

// Invalidate drops the cached version for zone, forcing the next
// CurrentVersion call to refresh from the store. The Write-Through
// Coordinator calls this after every write so checks never observe a
// version older than the write that triggered them.
func (b *Broker) Invalidate(zone tuple.Zone) {
	b.mu.Lock()
	delete(b.cache, zone)
	b.mu.Unlock()
}
