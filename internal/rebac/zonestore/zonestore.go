// Package zonestore durably persists each zone's configured userset
// rewrite schema so it survives past the process that applied it
// (spec.md §6, `apply_zone_schema`): every cmd/nexus subcommand opens a
// fresh Nexus instance and tears it down on exit, so a schema held only
// in memory would vanish between `nexus apply` and the next `nexus
// check`. Durability follows the same bbolt-bucket-plus-in-memory-warm
// shape as internal/rebac/idmap.
package zonestore

import (
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

var bucketSchemas = []byte("zone_schemas")

// Store durably holds the configured rewrite.Schema for every zone,
// cached in memory behind a RWMutex the way idmap.ResourceIdentityMap
// keeps its hot-path lookups lock-light.
type Store struct {
	db *bolt.DB

	mu      sync.RWMutex
	schemas map[tuple.Zone]rewrite.Schema
}

// New opens (or creates) a durable zone schema store under dataDir.
func New(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "nexus-zones.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, rebacerr.StorageUnavailable("open %s", dbPath)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSchemas)
		return err
	}); err != nil {
		db.Close()
		return nil, rebacerr.StorageUnavailable("initialize zone schema bucket")
	}

	s := &Store{db: db, schemas: make(map[tuple.Zone]rewrite.Schema)}
	if err := s.warm(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) warm() error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchemas).ForEach(func(k, v []byte) error {
			var schema rewrite.Schema
			if err := yaml.Unmarshal(v, &schema); err != nil {
				return fmt.Errorf("zonestore: decode schema for zone %s: %w", k, err)
			}
			s.schemas[tuple.Zone(k)] = schema
			return nil
		})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists schema as zone's current rewrite rules and updates the
// in-memory copy used by All.
func (s *Store) Save(zone tuple.Zone, schema rewrite.Schema) error {
	data, err := yaml.Marshal(schema)
	if err != nil {
		return fmt.Errorf("zonestore: encode schema for zone %s: %w", zone, err)
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchemas).Put([]byte(zone), data)
	}); err != nil {
		return rebacerr.StorageUnavailable("persist zone schema for %s", string(zone))
	}

	s.mu.Lock()
	s.schemas[zone] = schema
	s.mu.Unlock()
	return nil
}

// All returns every zone's schema as loaded from disk at New (and kept
// current by every Save since).
func (s *Store) All() map[tuple.Zone]rewrite.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[tuple.Zone]rewrite.Schema, len(s.schemas))
	for z, schema := range s.schemas {
		out[z] = schema
	}
	return out
}
