package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexi-lab/nexus/internal/rebac/broker"
	"github.com/nexi-lab/nexus/internal/rebac/cachel1"
	"github.com/nexi-lab/nexus/internal/rebac/cachel2"
	"github.com/nexi-lab/nexus/internal/rebac/idmap"
	"github.com/nexi-lab/nexus/internal/rebac/storage"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

type harness struct {
	store storage.TupleStore
	idmap *idmap.ResourceIdentityMap
	l1    *cachel1.Cache
	l2    *cachel2.Cache
	coord *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewBoltTupleStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idm, err := idmap.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idm.Close() })

	l1, err := cachel1.New(10)
	require.NoError(t, err)

	l2, err := cachel2.New("")
	require.NoError(t, err)

	b := broker.New(store, time.Hour)
	coord := New(store, b, l1, l2, idm)

	return &harness{store: store, idmap: idm, l1: l1, l2: l2, coord: coord}
}

func TestCreateBumpsRevisionAndInvalidatesBroker(t *testing.T) {
	h := newHarness(t)

	v0, err := h.coord.broker.CurrentVersion("z1")
	require.NoError(t, err)

	_, err = h.coord.Create(tuple.Tuple{
		Subject:  tuple.Subject{Type: "user", ID: "alice"},
		Relation: "viewer",
		Object:   tuple.Object{Type: "file", ID: "/doc"},
		Zone:     "z1",
	})
	require.NoError(t, err)

	v1, err := h.coord.broker.CurrentVersion("z1")
	require.NoError(t, err)
	require.Greater(t, v1, v0)
}

func TestDeleteNarrowlyInvalidatesL2Entry(t *testing.T) {
	h := newHarness(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err := h.coord.Create(tuple.Tuple{Subject: subject, Relation: "viewer", Object: object, Zone: "z1"})
	require.NoError(t, err)

	// Simulate the engine's write-through: a prior allow populated L2.
	intID, err := h.idmap.GetOrCreateIntID(object.Type, object.ID, "z1")
	require.NoError(t, err)
	l2Key := cachel2.Key{Zone: "z1", Subject: subject, Relation: "viewer", ObjectType: object.Type}
	require.NoError(t, h.l2.Add(l2Key, intID))

	require.NoError(t, h.coord.Delete("z1", subject, "viewer", object))

	bm, ok := h.l2.Get(l2Key)
	require.True(t, ok)
	require.False(t, bm.Contains(intID), "deleting the tuple must clear its L2 bit")
}

func TestCreateDenyTupleInvalidatesAccessibleEntry(t *testing.T) {
	h := newHarness(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/secret"}

	intID, err := h.idmap.GetOrCreateIntID(object.Type, object.ID, "z1")
	require.NoError(t, err)
	l2Key := cachel2.Key{Zone: "z1", Subject: subject, Relation: "read", ObjectType: object.Type}
	require.NoError(t, h.l2.Add(l2Key, intID))

	_, err = h.coord.Create(tuple.Tuple{
		Subject:  subject,
		Relation: tuple.DenyRelation("read"),
		Object:   object,
		Zone:     "z1",
	})
	require.NoError(t, err)

	bm, ok := h.l2.Get(l2Key)
	require.True(t, ok)
	require.False(t, bm.Contains(intID), "a deny tuple must clear the subject's prior accessible-entry bit")
}

func TestResetZoneDropsTuplesAndPurgesCaches(t *testing.T) {
	h := newHarness(t)

	subject := tuple.Subject{Type: "user", ID: "alice"}
	object := tuple.Object{Type: "file", ID: "/doc"}

	_, err := h.coord.Create(tuple.Tuple{Subject: subject, Relation: "viewer", Object: object, Zone: "z1"})
	require.NoError(t, err)

	l1Key := cachel1.Key{Zone: "z1", Subject: subject, Relation: "read", Object: object, RevisionBucket: 0}
	h.l1.Put(l1Key, cachel1.Allow)

	intID, err := h.idmap.GetOrCreateIntID(object.Type, object.ID, "z1")
	require.NoError(t, err)
	l2Key := cachel2.Key{Zone: "z1", Subject: subject, Relation: "read", ObjectType: object.Type}
	require.NoError(t, h.l2.Add(l2Key, intID))

	require.NoError(t, h.coord.ResetZone("z1"))

	require.Equal(t, 0, h.l1.Len())
	_, ok := h.l2.Get(l2Key)
	require.False(t, ok)

	tuples, err := h.store.ReadByObject("z1", object, "viewer")
	require.NoError(t, err)
	require.Empty(t, tuples)
}
