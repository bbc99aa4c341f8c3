// Package nexus is the Admin/Bulk Interface facade (spec.md §6): the
// boundary a caller (in production, the filesystem layer; here, cmd/nexus)
// uses to create tuples, run checks, and manage zones, wiring together the
// tuple store, both cache tiers, the revision broker, and the check
// engine. Constructor shape follows the teacher's NewManager(cfg)
// (pkg/manager/manager.go): validate inputs, construct dependencies
// bottom-up, return one facade struct.
package nexus

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/nexi-lab/nexus/internal/rebac/broker"
	"github.com/nexi-lab/nexus/internal/rebac/cachel1"
	"github.com/nexi-lab/nexus/internal/rebac/cachel2"
	"github.com/nexi-lab/nexus/internal/rebac/config"
	"github.com/nexi-lab/nexus/internal/rebac/coordinator"
	"github.com/nexi-lab/nexus/internal/rebac/engine"
	"github.com/nexi-lab/nexus/internal/rebac/idmap"
	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
	"github.com/nexi-lab/nexus/internal/rebac/storage"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
	"github.com/nexi-lab/nexus/internal/rebac/zonestore"
	"github.com/nexi-lab/nexus/pkg/metrics"
)

// Config holds the settings needed to construct a Nexus instance.
type Config struct {
	DataDir string
	Rebac   config.Config
}

// Nexus is the authorization core: tuple store + caches + check engine,
// exposed through the Admin/Bulk Interface operations of spec.md §6.
type Nexus struct {
	dataDir string
	cfg     config.Config

	store   storage.TupleStore
	idmap   *idmap.ResourceIdentityMap
	l1      *cachel1.Cache
	l2      *cachel2.Cache
	broker  *broker.Broker
	engine  *engine.Engine
	coord   *coordinator.Coordinator
	zoneDB  *zonestore.Store

	mu    sync.RWMutex
	zones map[tuple.Zone]rewrite.Schema
}

// New constructs a Nexus instance, wiring every layer bottom-up: store,
// identity map, caches, broker, engine, coordinator.
func New(cfg Config) (*Nexus, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("nexus: DataDir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("nexus: create data dir: %w", err)
	}

	rebacCfg := cfg.Rebac
	if (rebacCfg == config.Config{}) {
		rebacCfg = config.Default()
	}

	store, err := storage.NewBoltTupleStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("nexus: open tuple store: %w", err)
	}

	idm, err := idmap.New(cfg.DataDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("nexus: open identity map: %w", err)
	}

	l1, err := cachel1.New(rebacCfg.L1Capacity)
	if err != nil {
		store.Close()
		idm.Close()
		return nil, fmt.Errorf("nexus: create l1 cache: %w", err)
	}

	l2Dir := ""
	if rebacCfg.L2Enabled {
		l2Dir = cfg.DataDir
	}
	l2, err := cachel2.New(l2Dir)
	if err != nil {
		store.Close()
		idm.Close()
		return nil, fmt.Errorf("nexus: create l2 cache: %w", err)
	}

	b := broker.New(store, rebacCfg.RevisionBrokerTTL)

	zoneDB, err := zonestore.New(cfg.DataDir)
	if err != nil {
		store.Close()
		idm.Close()
		l2.Close()
		return nil, fmt.Errorf("nexus: open zone schema store: %w", err)
	}

	n := &Nexus{
		dataDir: cfg.DataDir,
		cfg:     rebacCfg,
		store:   store,
		idmap:   idm,
		l1:      l1,
		l2:      l2,
		broker:  b,
		zoneDB:  zoneDB,
		zones:   zoneDB.All(),
	}

	n.engine = engine.New(store, b, l1, l2, idm, n.lookupSchema, rebacCfg)
	n.coord = coordinator.New(store, b, l1, l2, idm)

	return n, nil
}

// Close releases the durable resources backing this Nexus instance.
func (n *Nexus) Close() error {
	var firstErr error
	if err := n.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := n.idmap.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := n.l2.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := n.zoneDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ConfigureZone registers the userset rewrite schema for zone, loaded from
// a config.ZoneManifest applied the way the teacher applies resource YAML,
// and persists it to disk so it survives past this process (apply and a
// later check are ordinarily two separate cmd/nexus invocations).
func (n *Nexus) ConfigureZone(zone tuple.Zone, schema rewrite.Schema) error {
	if err := n.zoneDB.Save(zone, schema); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.zones[zone] = schema
	return nil
}

func (n *Nexus) lookupSchema(zone tuple.Zone) (rewrite.Schema, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	schema, ok := n.zones[zone]
	return schema, ok
}

// RebacCreate implements the `rebac_create` admin operation.
func (n *Nexus) RebacCreate(subject tuple.Subject, relation string, object tuple.Object, zone tuple.Zone) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TupleWriteDuration)

	t := tuple.Tuple{
		ID:       uuid.NewString(),
		Subject:  subject,
		Relation: relation,
		Object:   object,
		Zone:     zone,
	}

	written, err := n.coord.Create(t)
	if err != nil {
		return "", err
	}

	op := "create"
	metrics.TupleWritesTotal.WithLabelValues(string(zone), op).Inc()
	return written.ID, nil
}

// RebacDelete implements the `rebac_delete` admin operation. Unlike the
// abstract spec.md signature keyed by tuple_id alone, the store indexes
// tuples by their natural key, so delete takes the same
// (subject, relation, object, zone) tuple used to create it.
func (n *Nexus) RebacDelete(subject tuple.Subject, relation string, object tuple.Object, zone tuple.Zone) error {
	if err := n.coord.Delete(zone, subject, relation, object); err != nil {
		return err
	}
	metrics.TupleWritesTotal.WithLabelValues(string(zone), "delete").Inc()
	return nil
}

// RebacCheck implements the `rebac_check` admin operation.
func (n *Nexus) RebacCheck(subject tuple.Subject, permission string, object tuple.Object, zone tuple.Zone) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckLatency)

	allow, err := n.engine.Check(zone, subject, permission, object)
	decision := "deny"
	if allow {
		decision = "allow"
	}
	metrics.ChecksTotal.WithLabelValues(decision).Inc()

	if err != nil {
		// Fail closed per spec.md §7: the error already resolved to deny
		// inside the engine; surface it so the caller can log/alert.
		return false, err
	}
	return allow, nil
}

// RebacCheckBulk implements the `rebac_check_bulk` admin operation.
func (n *Nexus) RebacCheckBulk(zone tuple.Zone, queries []engine.Query) (map[engine.Query]bool, error) {
	return n.engine.CheckBulk(zone, queries)
}

// RebacExpand implements the `rebac_expand` admin operation.
func (n *Nexus) RebacExpand(permission string, object tuple.Object, zone tuple.Zone, opts engine.ExpandOptions) ([]tuple.Subject, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ExpandDuration)
	return n.engine.Expand(zone, permission, object, opts)
}

// AccessibleResources implements the `accessible_resources` admin operation.
func (n *Nexus) AccessibleResources(subject tuple.Subject, permission string, objectType string, zone tuple.Zone) ([]string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AccessibleResourcesDuration)
	return n.engine.AccessibleResources(zone, subject, permission, objectType)
}

// ResetZone implements the `reset_zone` admin operation. Runs
// synchronously (see DESIGN.md for the Open Question resolution).
func (n *Nexus) ResetZone(zone tuple.Zone) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ResetZoneDuration)
	return n.coord.ResetZone(zone)
}

// ZoneStats implements metrics.StatsSource so the metrics.Collector can
// poll live tuple counts and revisions per zone.
func (n *Nexus) ZoneStats() ([]metrics.ZoneStats, error) {
	n.mu.RLock()
	zones := make([]tuple.Zone, 0, len(n.zones))
	for z := range n.zones {
		zones = append(zones, z)
	}
	n.mu.RUnlock()

	stats := make([]metrics.ZoneStats, 0, len(zones))
	for _, z := range zones {
		version, err := n.store.CurrentVersion(z)
		if err != nil {
			continue
		}
		tuples, err := n.store.ReadSince(z, 0)
		count := 0
		if err == nil {
			for _, change := range tuples {
				if change.Op == storage.ChangeCreate {
					count++
				} else {
					count--
				}
			}
		}
		stats = append(stats, metrics.ZoneStats{Zone: string(z), TupleCount: count, CurrentRev: version})
	}
	return stats, nil
}
