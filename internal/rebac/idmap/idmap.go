// Package idmap implements the Resource Identity Map: it interns
// (type, id, zone) triples into dense uint64 coordinates so the L2 Tiger
// Cache can store accessible-resource sets as compact bitmaps rather than
// string sets (spec.md §4.2).
package idmap

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

var (
	bucketForward = []byte("idmap_forward") // key -> uint64 id
	bucketReverse = []byte("idmap_reverse") // uint64 id -> key
	bucketCounter = []byte("idmap_counter") // single key "next" -> uint64
)

func resourceKey(resourceType, resourceID string, zone tuple.Zone) string {
	return string(zone) + "\x00" + resourceType + "\x00" + resourceID
}

// ResourceIdentityMap assigns and recalls dense uint64 ids for resources,
// durable in bbolt and cached in memory behind a RWMutex the way the
// teacher keeps hot-path reads lock-light (pkg/manager read paths).
type ResourceIdentityMap struct {
	db *bolt.DB

	mu      sync.RWMutex
	forward map[string]uint64
	reverse map[uint64]string
}

// New opens (or creates) a durable identity map under dataDir, sharing the
// bbolt file naming convention with the tuple store.
func New(dataDir string) (*ResourceIdentityMap, error) {
	dbPath := filepath.Join(dataDir, "nexus-idmap.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, rebacerr.StorageUnavailable("open %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketForward, bucketReverse, bucketCounter} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, rebacerr.StorageUnavailable("initialize idmap buckets")
	}

	m := &ResourceIdentityMap{
		db:      db,
		forward: make(map[string]uint64),
		reverse: make(map[uint64]string),
	}
	if err := m.warm(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *ResourceIdentityMap) warm() error {
	return m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketForward).ForEach(func(k, v []byte) error {
			id := binary.BigEndian.Uint64(v)
			key := string(k)
			m.forward[key] = id
			m.reverse[id] = key
			return nil
		})
	})
}

func (m *ResourceIdentityMap) Close() error {
	return m.db.Close()
}

// GetOrCreateIntID interns (resourceType, resourceID, zone), returning its
// dense uint64 coordinate. Repeated calls for the same triple return the
// same id.
func (m *ResourceIdentityMap) GetOrCreateIntID(resourceType, resourceID string, zone tuple.Zone) (uint64, error) {
	key := resourceKey(resourceType, resourceID, zone)

	m.mu.RLock()
	if id, ok := m.forward[key]; ok {
		m.mu.RUnlock()
		return id, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.forward[key]; ok {
		return id, nil
	}

	var id uint64
	err := m.db.Update(func(tx *bolt.Tx) error {
		forward := tx.Bucket(bucketForward)
		if existing := forward.Get([]byte(key)); existing != nil {
			id = binary.BigEndian.Uint64(existing)
			return nil
		}

		counter := tx.Bucket(bucketCounter)
		id = binary.BigEndian.Uint64(padTo8(counter.Get([]byte("next")))) + 1

		idBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(idBuf, id)

		if err := forward.Put([]byte(key), idBuf); err != nil {
			return err
		}
		if err := tx.Bucket(bucketReverse).Put(idBuf, []byte(key)); err != nil {
			return err
		}
		return counter.Put([]byte("next"), idBuf)
	})
	if err != nil {
		return 0, rebacerr.StorageUnavailable("intern resource id")
	}

	m.forward[key] = id
	m.reverse[id] = key
	return id, nil
}

// Lookup returns the resourceType/resourceID/zone for a previously
// interned id. The bool result is false if id is unknown.
func (m *ResourceIdentityMap) Lookup(id uint64) (resourceType, resourceID string, zone tuple.Zone, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, found := m.reverse[id]
	if !found {
		return "", "", "", false
	}
	parts := splitKey(key)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[1], parts[2], tuple.Zone(parts[0]), true
}

func padTo8(b []byte) []byte {
	if len(b) == 8 {
		return b
	}
	return make([]byte, 8)
}

func splitKey(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}
