package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexi-lab/nexus/internal/rebac/broker"
	"github.com/nexi-lab/nexus/internal/rebac/cachel1"
	"github.com/nexi-lab/nexus/internal/rebac/cachel2"
	"github.com/nexi-lab/nexus/internal/rebac/config"
	"github.com/nexi-lab/nexus/internal/rebac/idmap"
	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
	"github.com/nexi-lab/nexus/internal/rebac/storage"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// fileSchema implements the rewrite rule used across the scenario tests:
// read = this | computed_userset(viewer) | computed_userset(owner) |
//
//	tuple_to_userset(parent, read)
func fileSchema() rewrite.Schema {
	return rewrite.Schema{
		"file": rewrite.RuleSet{
			"viewer": rewrite.Rule{Op: rewrite.This},
			"owner":  rewrite.Rule{Op: rewrite.This},
			"read": rewrite.Rule{Op: rewrite.Union, Children: []rewrite.Rule{
				{Op: rewrite.This},
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
				{Op: rewrite.ComputedUserset, Relation: "owner"},
				{Op: rewrite.TupleToUserset, TuplesetRelation: "parent", ComputedRelation: "read"},
			}},
		},
		"folder": rewrite.RuleSet{
			"viewer": rewrite.Rule{Op: rewrite.This},
			"read": rewrite.Rule{Op: rewrite.Union, Children: []rewrite.Rule{
				{Op: rewrite.This},
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
			}},
		},
		"group": rewrite.RuleSet{
			"member": rewrite.Rule{Op: rewrite.This, Relation: "member-of"},
		},
		// report exercises Intersection and Exclusion, which nothing above
		// needs: dual_viewer is the diamond-convergence case where both
		// operands of an intersection resolve the very same (subject,
		// permission, object) sub-evaluation; co_owner requires two
		// distinct relations to both hold; viewer_not_owner subtracts one
		// relation from another.
		"report": rewrite.RuleSet{
			"viewer": rewrite.Rule{Op: rewrite.This},
			"owner":  rewrite.Rule{Op: rewrite.This},
			"dual_viewer": rewrite.Rule{Op: rewrite.Intersection, Children: []rewrite.Rule{
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
			}},
			"co_owner": rewrite.Rule{Op: rewrite.Intersection, Children: []rewrite.Rule{
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
				{Op: rewrite.ComputedUserset, Relation: "owner"},
			}},
			"viewer_not_owner": rewrite.Rule{Op: rewrite.Exclusion, Children: []rewrite.Rule{
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
				{Op: rewrite.ComputedUserset, Relation: "owner"},
			}},
		},
	}
}

type testStack struct {
	store   storage.TupleStore
	idmap   *idmap.ResourceIdentityMap
	l1      *cachel1.Cache
	l2      *cachel2.Cache
	broker  *broker.Broker
	engine  *Engine
}

func newTestStack(t *testing.T, cfg config.Config) *testStack {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewBoltTupleStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idm, err := idmap.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idm.Close() })

	l1, err := cachel1.New(cfg.L1Capacity)
	require.NoError(t, err)

	l2, err := cachel2.New("")
	require.NoError(t, err)

	b := broker.New(store, cfg.RevisionBrokerTTL)

	schema := fileSchema()
	resolver := func(zone tuple.Zone) (rewrite.Schema, bool) {
		return schema, true
	}

	e := New(store, b, l1, l2, idm, resolver, cfg)

	return &testStack{store: store, idmap: idm, l1: l1, l2: l2, broker: b, engine: e}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RevisionBrokerTTL = time.Millisecond
	return cfg
}

func write(t *testing.T, s *testStack, subject tuple.Subject, relation string, object tuple.Object, zone tuple.Zone) {
	t.Helper()
	_, err := s.store.Write(tuple.Tuple{Subject: subject, Relation: relation, Object: object, Zone: zone})
	require.NoError(t, err)
	s.broker.Invalidate(zone)
}

// Scenario 1: direct grant.
func TestScenarioDirectGrant(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.True(t, allow)
}

// Scenario 2: group indirection.
func TestScenarioGroupIndirection(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "member-of", tuple.Object{Type: "group", ID: "eng"}, "z1")
	write(t, s, tuple.Subject{Type: "group", ID: "eng", Relation: "member"}, "viewer", tuple.Object{Type: "file", ID: "/src"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/src"})
	require.NoError(t, err)
	require.True(t, allow)
}

// Scenario 3: deny overrides.
func TestScenarioDenyOverrides(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "member-of", tuple.Object{Type: "group", ID: "eng"}, "z1")
	write(t, s, tuple.Subject{Type: "group", ID: "eng", Relation: "member"}, "viewer", tuple.Object{Type: "file", ID: "/src"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, tuple.DenyRelation("read"), tuple.Object{Type: "file", ID: "/src"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/src"})
	require.NoError(t, err)
	require.False(t, allow)
}

// Scenario 4: public subject.
func TestScenarioPublicSubject(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "role", ID: "public"}, "viewer", tuple.Object{Type: "file", ID: "/public"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "anyone"}, "read", tuple.Object{Type: "file", ID: "/public"})
	require.NoError(t, err)
	require.True(t, allow)
}

// Scenario 5: tuple-to-userset.
func TestScenarioTupleToUserset(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "folder", ID: "/repo"}, "parent", tuple.Object{Type: "file", ID: "/src"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "bob"}, "viewer", tuple.Object{Type: "folder", ID: "/repo"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "bob"}, "read", tuple.Object{Type: "file", ID: "/src"})
	require.NoError(t, err)
	require.True(t, allow)
}

// Scenario 6: cache refresh within and after the broker TTL.
func TestScenarioCacheRefreshAfterDelete(t *testing.T) {
	cfg := testConfig()
	cfg.RevisionBrokerTTL = 20 * time.Millisecond
	// The first allow would be written through to L2, and this test
	// deletes through the store directly rather than the coordinator, so
	// nothing would clear that L2 bit. L2 is disabled to isolate the
	// L1/broker staleness bound that scenario 6 targets.
	cfg.L2Enabled = false
	s := newTestStack(t, cfg)

	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.True(t, allow)

	require.NoError(t, s.store.Delete("z1", tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}))
	// Note: no s.broker.Invalidate here — this simulates a process that
	// did not itself perform the delete and must wait out the TTL.

	time.Sleep(30 * time.Millisecond)

	s.l1.Purge() // a stale L1 allow would otherwise mask the revision check
	allow, err = s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.False(t, allow)
}

func TestDenyPrecedenceProperty(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, tuple.DenyRelation("read"), tuple.Object{Type: "file", ID: "/doc"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.False(t, allow)
}

func TestZoneIsolationProperty(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")

	allow, err := s.engine.Check("z2", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.False(t, allow)
}

func TestCycleSafetyProperty(t *testing.T) {
	s := newTestStack(t, testConfig())
	// group A's members include group B's members and vice versa; neither
	// group ever names alice directly, so the cycle must terminate false
	// rather than loop forever.
	write(t, s, tuple.Subject{Type: "group", ID: "b", Relation: "member"}, "member-of", tuple.Object{Type: "group", ID: "a"}, "z1")
	write(t, s, tuple.Subject{Type: "group", ID: "a", Relation: "member"}, "member-of", tuple.Object{Type: "group", ID: "b"}, "z1")
	write(t, s, tuple.Subject{Type: "group", ID: "a", Relation: "member"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.False(t, allow)
}

func TestBulkMatchesPerCheck(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, tuple.DenyRelation("read"), tuple.Object{Type: "file", ID: "/secret"}, "z1")

	queries := []Query{
		{Subject: tuple.Subject{Type: "user", ID: "alice"}, Permission: "read", Object: tuple.Object{Type: "file", ID: "/doc"}},
		{Subject: tuple.Subject{Type: "user", ID: "alice"}, Permission: "read", Object: tuple.Object{Type: "file", ID: "/secret"}},
		{Subject: tuple.Subject{Type: "user", ID: "alice"}, Permission: "read", Object: tuple.Object{Type: "file", ID: "/doc"}}, // duplicate
	}

	results, err := s.engine.CheckBulk("z1", queries)
	require.NoError(t, err)

	for _, q := range queries {
		want, err := s.engine.Check("z1", q.Subject, q.Permission, q.Object)
		require.NoError(t, err)
		require.Equal(t, want, results[q])
	}
}

func TestExpandReturnsLeafSubjects(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "member-of", tuple.Object{Type: "group", ID: "eng"}, "z1")
	write(t, s, tuple.Subject{Type: "group", ID: "eng", Relation: "member"}, "viewer", tuple.Object{Type: "file", ID: "/src"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "bob"}, "viewer", tuple.Object{Type: "file", ID: "/src"}, "z1")

	subjects, err := s.engine.Expand("z1", "viewer", tuple.Object{Type: "file", ID: "/src"}, ExpandOptions{})
	require.NoError(t, err)

	var ids []string
	for _, subj := range subjects {
		ids = append(ids, subj.ID)
	}
	// "eng" is expanded through its "member-of" tuples down to its one
	// leaf member, alice; bob is a direct leaf viewer.
	require.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

// TestIntersectionConvergentBranchesBothTrue covers the diamond case: both
// children of the intersection resolve the identical (subject, viewer,
// object) sub-evaluation. A memo keyed on the completed result must let the
// second branch see the first branch's true answer rather than mistaking
// the revisit for a cycle and forcing it false.
func TestIntersectionConvergentBranchesBothTrue(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "report", ID: "/q1"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "dual_viewer", tuple.Object{Type: "report", ID: "/q1"})
	require.NoError(t, err)
	require.True(t, allow)
}

func TestIntersectionRequiresAllChildren(t *testing.T) {
	s := newTestStack(t, testConfig())

	// alice is a viewer but not an owner: co_owner must deny.
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "report", ID: "/q1"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "co_owner", tuple.Object{Type: "report", ID: "/q1"})
	require.NoError(t, err)
	require.False(t, allow)

	// bob holds both relations: co_owner must allow.
	write(t, s, tuple.Subject{Type: "user", ID: "bob"}, "viewer", tuple.Object{Type: "report", ID: "/q1"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "bob"}, "owner", tuple.Object{Type: "report", ID: "/q1"}, "z1")

	allow, err = s.engine.Check("z1", tuple.Subject{Type: "user", ID: "bob"}, "co_owner", tuple.Object{Type: "report", ID: "/q1"})
	require.NoError(t, err)
	require.True(t, allow)
}

func TestExclusionSubtractsRelation(t *testing.T) {
	s := newTestStack(t, testConfig())

	// alice is both viewer and owner: viewer_not_owner must deny.
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "report", ID: "/q1"}, "z1")
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "owner", tuple.Object{Type: "report", ID: "/q1"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "viewer_not_owner", tuple.Object{Type: "report", ID: "/q1"})
	require.NoError(t, err)
	require.False(t, allow)

	// bob is a viewer but not an owner: viewer_not_owner must allow.
	write(t, s, tuple.Subject{Type: "user", ID: "bob"}, "viewer", tuple.Object{Type: "report", ID: "/q1"}, "z1")

	allow, err = s.engine.Check("z1", tuple.Subject{Type: "user", ID: "bob"}, "viewer_not_owner", tuple.Object{Type: "report", ID: "/q1"})
	require.NoError(t, err)
	require.True(t, allow)
}

func TestAccessibleResourcesUsesL2AfterFirstAllow(t *testing.T) {
	s := newTestStack(t, testConfig())
	write(t, s, tuple.Subject{Type: "user", ID: "alice"}, "viewer", tuple.Object{Type: "file", ID: "/doc"}, "z1")

	allow, err := s.engine.Check("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"})
	require.NoError(t, err)
	require.True(t, allow)

	resources, err := s.engine.AccessibleResources("z1", tuple.Subject{Type: "user", ID: "alice"}, "read", "file")
	require.NoError(t, err)
	require.Contains(t, resources, "/doc")
}
