package cachel2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

func TestAddAndGet(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	key := Key{Zone: "z1", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}

	_, ok := c.Get(key)
	require.False(t, ok)

	require.NoError(t, c.Add(key, 7))

	bm, ok := c.Get(key)
	require.True(t, ok)
	require.True(t, bm.Contains(7))
	require.False(t, bm.Contains(8))
}

func TestRemove(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	key := Key{Zone: "z1", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}
	require.NoError(t, c.Add(key, 7))
	require.NoError(t, c.Remove(key, 7))

	bm, ok := c.Get(key)
	require.True(t, ok)
	require.False(t, bm.Contains(7))
}

func TestInvalidate(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	key := Key{Zone: "z1", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}
	require.NoError(t, c.Add(key, 7))
	require.NoError(t, c.Invalidate(key))

	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestInvalidateZoneOnlyAffectsThatZone(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	keyZ1 := Key{Zone: "z1", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}
	keyZ2 := Key{Zone: "z2", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}

	require.NoError(t, c.Add(keyZ1, 1))
	require.NoError(t, c.Add(keyZ2, 1))

	require.NoError(t, c.InvalidateZone("z1"))

	_, ok := c.Get(keyZ1)
	require.False(t, ok)

	_, ok = c.Get(keyZ2)
	require.True(t, ok)
}

func TestGetReturnsCloneNotSharedState(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	key := Key{Zone: "z1", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}
	require.NoError(t, c.Add(key, 7))

	bm, ok := c.Get(key)
	require.True(t, ok)
	bm.Add(999) // mutate the returned clone

	fresh, ok := c.Get(key)
	require.True(t, ok)
	require.False(t, fresh.Contains(999), "caller mutation of Get's result must not leak back into the cache")
}

func TestPersistsAcrossRestartWhenDataDirSet(t *testing.T) {
	dir := t.TempDir()

	c1, err := New(dir)
	require.NoError(t, err)
	key := Key{Zone: "z1", Subject: tuple.Subject{Type: "user", ID: "alice"}, Relation: "read", ObjectType: "file"}
	require.NoError(t, c1.Add(key, 7))
	require.NoError(t, c1.Close())

	c2, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })

	bm, ok := c2.Get(key)
	require.True(t, ok)
	require.True(t, bm.Contains(7))
}
