package nexus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexi-lab/nexus/internal/rebac/engine"
	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

func newTestNexus(t *testing.T) *Nexus {
	t.Helper()
	n, err := New(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	err = n.ConfigureZone("z1", rewrite.Schema{
		"file": rewrite.RuleSet{
			"viewer": rewrite.Rule{Op: rewrite.This},
			"read": rewrite.Rule{Op: rewrite.Union, Children: []rewrite.Rule{
				{Op: rewrite.This},
				{Op: rewrite.ComputedUserset, Relation: "viewer"},
			}},
		},
	})
	require.NoError(t, err)
	return n
}

func TestNexusCreateCheckDeleteRoundTrip(t *testing.T) {
	n := newTestNexus(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	id, err := n.RebacCreate(subject, "viewer", object, "z1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	allow, err := n.RebacCheck(subject, "read", object, "z1")
	require.NoError(t, err)
	require.True(t, allow)

	require.NoError(t, n.RebacDelete(subject, "viewer", object, "z1"))

	allow, err = n.RebacCheck(subject, "read", object, "z1")
	require.NoError(t, err)
	require.False(t, allow)
}

func TestNexusCheckUnconfiguredZoneIsDenied(t *testing.T) {
	n := newTestNexus(t)

	allow, err := n.RebacCheck(tuple.Subject{Type: "user", ID: "alice"}, "read", tuple.Object{Type: "file", ID: "/doc"}, "unknown-zone")
	require.Error(t, err)
	require.False(t, allow)
}

func TestNexusResetZoneClearsChecks(t *testing.T) {
	n := newTestNexus(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err := n.RebacCreate(subject, "viewer", object, "z1")
	require.NoError(t, err)

	allow, err := n.RebacCheck(subject, "read", object, "z1")
	require.NoError(t, err)
	require.True(t, allow)

	require.NoError(t, n.ResetZone("z1"))

	allow, err = n.RebacCheck(subject, "read", object, "z1")
	require.NoError(t, err)
	require.False(t, allow)
}

func TestNexusCheckBulkAndExpand(t *testing.T) {
	n := newTestNexus(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err := n.RebacCreate(subject, "viewer", object, "z1")
	require.NoError(t, err)

	results, err := n.RebacCheckBulk("z1", []engine.Query{
		{Subject: subject, Permission: "read", Object: object},
	})
	require.NoError(t, err)
	require.True(t, results[engine.Query{Subject: subject, Permission: "read", Object: object}])

	subjects, err := n.RebacExpand("viewer", object, "z1", engine.ExpandOptions{})
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	require.Equal(t, "alice", subjects[0].ID)
}

func TestNexusAccessibleResources(t *testing.T) {
	n := newTestNexus(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err := n.RebacCreate(subject, "viewer", object, "z1")
	require.NoError(t, err)

	_, err = n.RebacCheck(subject, "read", object, "z1")
	require.NoError(t, err)

	resources, err := n.AccessibleResources(subject, "read", "file", "z1")
	require.NoError(t, err)
	require.Contains(t, resources, "/doc")
}

func TestConfigureZonePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	n1, err := New(Config{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, n1.ConfigureZone("z1", rewrite.Schema{
		"file": rewrite.RuleSet{"viewer": rewrite.Rule{Op: rewrite.This}},
	}))
	require.NoError(t, n1.Close())

	n2, err := New(Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n2.Close() })

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err = n2.RebacCreate(subject, "viewer", object, "z1")
	require.NoError(t, err)

	allow, err := n2.RebacCheck(subject, "viewer", object, "z1")
	require.NoError(t, err)
	require.True(t, allow, "zone schema applied by a prior process must survive into a new Nexus instance")
}

func TestNexusZoneStatsTracksTupleCount(t *testing.T) {
	n := newTestNexus(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err := n.RebacCreate(subject, "viewer", object, "z1")
	require.NoError(t, err)

	stats, err := n.ZoneStats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "z1", stats[0].Zone)
	require.Equal(t, 1, stats[0].TupleCount)
}
