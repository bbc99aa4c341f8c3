// Package cachel2 implements the "Tiger Cache": a subject-oriented
// inverted index mapping (subject, relation) to a compressed bitmap of
// the resource int-ids that subject can access (spec.md §3, "Tiger
// Cache"). Unlike L1, L2 is positive-only: it never stores a deny
// outcome, and a miss always falls through to tuple traversal.
package cachel2

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	bolt "go.etcd.io/bbolt"

	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

var bucketBitmaps = []byte("l2_bitmaps")

// Key identifies one subject's accessible-resource set for one relation
// and object type, scoped to a zone (spec.md: "(subject_type, subject_id,
// permission, object_type, zone)").
type Key struct {
	Zone       tuple.Zone
	Subject    tuple.Subject
	Relation   string
	ObjectType string
}

func (k Key) blobKey() []byte {
	return []byte(string(k.Zone) + "\x00" + k.Subject.Type + "\x00" + k.Subject.ID + "\x00" +
		k.Subject.Relation + "\x00" + k.Relation + "\x00" + k.ObjectType)
}

// Cache is the L2 Tiger Cache: an in-memory map of roaring bitmaps guarded
// by per-key locks, optionally persisted to bbolt so a process restart
// doesn't force a full rebuild from the tuple store.
type Cache struct {
	db *bolt.DB

	mu      sync.RWMutex
	bitmaps map[Key]*roaring64.Bitmap
	locks   map[Key]*sync.Mutex
}

// New creates an L2 cache. dataDir may be empty, in which case the cache
// is purely in-memory and a restart starts cold (acceptable per spec.md
// §6: L2 is a cache, never the source of truth).
func New(dataDir string) (*Cache, error) {
	c := &Cache{
		bitmaps: make(map[Key]*roaring64.Bitmap),
		locks:   make(map[Key]*sync.Mutex),
	}

	if dataDir == "" {
		return c, nil
	}

	dbPath := filepath.Join(dataDir, "nexus-l2.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, rebacerr.StorageUnavailable("open %s", dbPath)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBitmaps)
		return err
	}); err != nil {
		db.Close()
		return nil, rebacerr.StorageUnavailable("initialize l2 bucket")
	}
	c.db = db
	return c, nil
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) lockFor(key Key) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[key] = l
	return l
}

// Get returns the bitmap of accessible resource int-ids for key. The bool
// result is false on a miss, which the engine treats as "fall through to
// tuple traversal", never as "deny".
func (c *Cache) Get(key Key) (*roaring64.Bitmap, bool) {
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	bm, ok := c.bitmaps[key]
	c.mu.RUnlock()
	if ok {
		return bm.Clone(), true
	}

	if c.db == nil {
		return nil, false
	}

	var data []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBitmaps).Get(key.blobKey())
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if data == nil {
		return nil, false
	}

	bm = roaring64.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, false
	}

	c.mu.Lock()
	c.bitmaps[key] = bm
	c.mu.Unlock()

	return bm.Clone(), true
}

// Add adds resourceID to key's bitmap, creating it if absent. Called only
// on an allow decision (spec.md §5: "writes into L2 only on allow").
func (c *Cache) Add(key Key, resourceID uint64) error {
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	bm, ok := c.bitmaps[key]
	if !ok {
		bm = roaring64.New()
		c.bitmaps[key] = bm
	}
	bm.Add(resourceID)
	c.mu.Unlock()

	return c.persist(key, bm)
}

// Remove removes resourceID from key's bitmap, used for narrow-slice
// invalidation on delete or when a deny tuple is written.
func (c *Cache) Remove(key Key, resourceID uint64) error {
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	bm, ok := c.bitmaps[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	bm.Remove(resourceID)
	return c.persist(key, bm)
}

// Invalidate drops key's cached bitmap entirely, in memory and in the
// persisted blob store, so the next Get reports a miss.
func (c *Cache) Invalidate(key Key) error {
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	delete(c.bitmaps, key)
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBitmaps).Delete(key.blobKey())
	})
	if err != nil {
		return rebacerr.StorageUnavailable("invalidate l2 entry")
	}
	return nil
}

// InvalidateZone drops every cached bitmap scoped to zone, used by
// reset_zone (spec.md §6: "broad_rebuild" invalidation scope).
func (c *Cache) InvalidateZone(zone tuple.Zone) error {
	c.mu.Lock()
	for key := range c.bitmaps {
		if key.Zone == zone {
			delete(c.bitmaps, key)
		}
	}
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	prefix := []byte(string(zone) + "\x00")
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBitmaps)
		cur := b.Cursor()
		var toDelete [][]byte
		for k, _ := cur.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = cur.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rebacerr.StorageUnavailable("invalidate l2 zone")
	}
	return nil
}

func (c *Cache) persist(key Key, bm *roaring64.Bitmap) error {
	if c.db == nil {
		return nil
	}
	data, err := bm.MarshalBinary()
	if err != nil {
		return fmt.Errorf("l2: marshal bitmap: %w", err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBitmaps).Put(key.blobKey(), data)
	})
	if err != nil {
		return rebacerr.StorageUnavailable("persist l2 bitmap")
	}
	return nil
}

// Cardinality returns the number of resources in key's in-memory bitmap,
// or 0 when no bitmap for key is held in memory.
func (c *Cache) Cardinality(key Key) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bm, ok := c.bitmaps[key]
	if !ok {
		return 0
	}
	return bm.GetCardinality()
}
