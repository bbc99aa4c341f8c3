// Package coordinator implements the Write-Through Coordinator: the
// component that keeps the tuple store, L1, and L2 consistent on every
// mutation (spec.md §4.6). Lock order is always store -> broker
// invalidation -> L2 invalidation, matching the engine's L1 -> L2 ->
// store read order in reverse so no lock is ever held across store I/O.
package coordinator

import (
	"github.com/nexi-lab/nexus/internal/rebac/broker"
	"github.com/nexi-lab/nexus/internal/rebac/cachel1"
	"github.com/nexi-lab/nexus/internal/rebac/cachel2"
	"github.com/nexi-lab/nexus/internal/rebac/idmap"
	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/storage"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// Coordinator wraps the tuple store's Write/Delete with the cache
// invalidation the spec requires around every mutation.
type Coordinator struct {
	store  storage.TupleStore
	broker *broker.Broker
	l1     *cachel1.Cache
	l2     *cachel2.Cache
	idmap  *idmap.ResourceIdentityMap
}

// New creates a Write-Through Coordinator.
func New(store storage.TupleStore, b *broker.Broker, l1 *cachel1.Cache, l2 *cachel2.Cache, idm *idmap.ResourceIdentityMap) *Coordinator {
	return &Coordinator{store: store, broker: b, l1: l1, l2: l2, idmap: idm}
}

// Create writes a tuple and invalidates the affected caches. On a deny
// tuple, it proactively removes the denied subject's accessible-resource
// entry for the base relation — the narrowest slice the coordinator can
// identify, per spec.md §4.6 and §9 ("an over-broad invalidation is a
// performance regression, not a correctness bug").
func (c *Coordinator) Create(t tuple.Tuple) (tuple.Tuple, error) {
	written, err := c.store.Write(t)
	if err != nil {
		return tuple.Tuple{}, err
	}

	c.broker.Invalidate(written.Zone)

	if written.IsDeny() {
		c.invalidateSubjectObjectType(written)
	}

	return written, nil
}

// Delete removes a tuple and invalidates the affected caches. The
// narrowest L2 slice to invalidate is the deleted tuple's own
// (subject, relation, object type); if the subject was itself a userset,
// the coordinator cannot cheaply enumerate every downstream subject
// affected without a rebuild, so it invalidates that userset's own entry
// only — a conservative narrow invalidation, not a broad rebuild.
func (c *Coordinator) Delete(zone tuple.Zone, subject tuple.Subject, relation string, object tuple.Object) error {
	if err := c.store.Delete(zone, subject, relation, object); err != nil {
		return err
	}

	c.broker.Invalidate(zone)

	t := tuple.Tuple{Zone: zone, Subject: subject, Relation: relation, Object: object}
	c.invalidateSubjectObjectType(t)

	return nil
}

func (c *Coordinator) invalidateSubjectObjectType(t tuple.Tuple) {
	l2Key := cachel2.Key{Zone: t.Zone, Subject: t.Subject, Relation: t.BaseRelation(), ObjectType: t.Object.Type}

	intID, err := c.idmap.GetOrCreateIntID(t.Object.Type, t.Object.ID, t.Zone)
	if err != nil {
		// Best-effort: if the id-map can't be reached, fall back to
		// invalidating the whole entry rather than leaving a stale allow.
		_ = c.l2.Invalidate(l2Key)
		return
	}
	_ = c.l2.Remove(l2Key, intID)
}

// ResetZone drops every tuple and cache entry for zone (spec.md §6,
// `reset_zone`). It runs synchronously with a bound determined by the
// tuple count already in the zone, per spec.md §9's Open Question
// resolution (see DESIGN.md): synchronous, not a background job.
func (c *Coordinator) ResetZone(zone tuple.Zone) error {
	if err := c.store.ResetZone(zone); err != nil {
		return rebacerr.StorageUnavailable("reset zone %s", string(zone))
	}
	c.broker.Invalidate(zone)
	c.l1.Purge()
	if err := c.l2.InvalidateZone(zone); err != nil {
		return err
	}
	return nil
}
