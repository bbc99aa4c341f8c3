// Package config holds the tunables for the Nexus ReBAC core and the
// per-zone userset rewrite rule sets, loadable from YAML the way the
// teacher's cmd/warren apply.go loads resource manifests.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
)

// Config holds the tunables enumerated in spec.md §6.
type Config struct {
	// RevisionQuantizationWindow buckets raw store versions so that L1 keys
	// stay stable across small, frequent writes (spec.md §3, "Revision Bucket").
	RevisionQuantizationWindow uint64 `yaml:"revision_quantization_window"`

	// RevisionBrokerTTL bounds how long a cached current_version may be
	// served before the broker refreshes it from the store.
	RevisionBrokerTTL time.Duration `yaml:"revision_broker_ttl_ms"`

	// L1Capacity is the maximum number of decision entries held in the L1 LRU.
	L1Capacity int `yaml:"l1_capacity"`

	// L2Enabled toggles the Tiger Cache; when false, accessible_resources
	// always falls through to tuple traversal.
	L2Enabled bool `yaml:"l2_enabled"`

	// EnforcePermissions, when true, rejects checks against relations with
	// no rewrite rule instead of silently denying.
	EnforcePermissions bool `yaml:"enforce_permissions"`

	// EnforceZoneIsolation, when true, makes Check reject a zone with no
	// configured rewrite schema with ErrZoneNotFound before any cache or
	// store lookup. Tuple writes are not checked against it, and store
	// reads are always scoped to a single zone whatever its value.
	EnforceZoneIsolation bool `yaml:"enforce_zone_isolation"`

	// DenyPrecedence, when true (the default), makes any matching deny
	// tuple override all allow tuples; the engine skips the deny check
	// entirely when false, matching spec.md §6's tunable of the same name.
	DenyPrecedence bool `yaml:"deny_precedence"`
}

// Default returns the spec.md §6 defaults.
func Default() Config {
	return Config{
		RevisionQuantizationWindow: 10,
		RevisionBrokerTTL:          1000 * time.Millisecond,
		L1Capacity:                 100_000,
		L2Enabled:                  true,
		EnforcePermissions:         true,
		EnforceZoneIsolation:       true,
		DenyPrecedence:             true,
	}
}

// yamlConfig is the on-disk shape; RevisionBrokerTTL is expressed in
// milliseconds in YAML but stored as a time.Duration in Config.
type yamlConfig struct {
	RevisionQuantizationWindow uint64 `yaml:"revision_quantization_window"`
	RevisionBrokerTTLMS        int64  `yaml:"revision_broker_ttl_ms"`
	L1Capacity                 int    `yaml:"l1_capacity"`
	L2Enabled                  bool   `yaml:"l2_enabled"`
	EnforcePermissions         bool   `yaml:"enforce_permissions"`
	EnforceZoneIsolation       bool   `yaml:"enforce_zone_isolation"`
	DenyPrecedence             bool   `yaml:"deny_precedence"`
}

// Load reads a Config from a YAML file, starting from the defaults so a
// partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	raw := yamlConfig{
		RevisionQuantizationWindow: cfg.RevisionQuantizationWindow,
		RevisionBrokerTTLMS:        cfg.RevisionBrokerTTL.Milliseconds(),
		L1Capacity:                 cfg.L1Capacity,
		L2Enabled:                  cfg.L2Enabled,
		EnforcePermissions:         cfg.EnforcePermissions,
		EnforceZoneIsolation:       cfg.EnforceZoneIsolation,
		DenyPrecedence:             cfg.DenyPrecedence,
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.RevisionQuantizationWindow = raw.RevisionQuantizationWindow
	cfg.RevisionBrokerTTL = time.Duration(raw.RevisionBrokerTTLMS) * time.Millisecond
	cfg.L1Capacity = raw.L1Capacity
	cfg.L2Enabled = raw.L2Enabled
	cfg.EnforcePermissions = raw.EnforcePermissions
	cfg.EnforceZoneIsolation = raw.EnforceZoneIsolation
	cfg.DenyPrecedence = raw.DenyPrecedence

	return cfg, nil
}

// RuleEntry binds one rewrite rule to the (object type, relation) pair it
// defines within a zone's schema.
type RuleEntry struct {
	ObjectType string       `yaml:"object_type"`
	Relation   string       `yaml:"relation"`
	Rule       rewrite.Rule `yaml:"rule"`
}

// ZoneManifest is the YAML document applied to configure a zone's userset
// rewrite rules, mirroring the teacher's Kind-dispatched apply manifests
// (cmd/warren/apply.go) but with a single fixed kind.
type ZoneManifest struct {
	Kind  string      `yaml:"kind"`
	Zone  string      `yaml:"zone"`
	Rules []RuleEntry `yaml:"rules"`
}

// Schema builds a rewrite.Schema from the manifest's rule entries.
func (m ZoneManifest) Schema() rewrite.Schema {
	schema := make(rewrite.Schema)
	for _, entry := range m.Rules {
		if schema[entry.ObjectType] == nil {
			schema[entry.ObjectType] = make(rewrite.RuleSet)
		}
		schema[entry.ObjectType][entry.Relation] = entry.Rule
	}
	return schema
}

// LoadZoneManifest reads a per-zone rewrite rule manifest from a YAML file.
func LoadZoneManifest(path string) (ZoneManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ZoneManifest{}, fmt.Errorf("config: read zone manifest %s: %w", path, err)
	}

	var manifest ZoneManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return ZoneManifest{}, fmt.Errorf("config: parse zone manifest %s: %w", path, err)
	}
	if manifest.Kind != "ZoneRewriteRules" {
		return ZoneManifest{}, fmt.Errorf("config: %s: unsupported kind %q", path, manifest.Kind)
	}
	return manifest, nil
}
