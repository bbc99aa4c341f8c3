package engine

import (
	"github.com/nexi-lab/nexus/internal/rebac/cachel2"
	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// AccessibleResources returns every object of objectType in zone that
// subject can reach via permission (spec.md §4.5). Served from L2 when a
// bitmap is already materialized; otherwise falls through to running Check
// on every object of that type that the subject names directly in a stored
// tuple (see candidateObjectIDs).
func (e *Engine) AccessibleResources(zone tuple.Zone, subject tuple.Subject, permission string, objectType string) ([]string, error) {
	if e.cfg.L2Enabled {
		l2Key := cachel2.Key{Zone: zone, Subject: subject, Relation: permission, ObjectType: objectType}
		if bm, ok := e.l2.Get(l2Key); ok {
			ids := make([]string, 0, bm.GetCardinality())
			it := bm.Iterator()
			for it.HasNext() {
				intID := it.Next()
				resourceType, resourceID, resourceZone, found := e.idmap.Lookup(intID)
				if !found || resourceType != objectType || resourceZone != zone {
					continue
				}
				ids = append(ids, resourceID)
			}
			return ids, nil
		}
	}

	candidates, err := e.candidateObjectIDs(zone, subject, objectType)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, objectID := range candidates {
		allow, err := e.Check(zone, subject, permission, tuple.Object{Type: objectType, ID: objectID})
		if err != nil {
			return out, err
		}
		if allow {
			out = append(out, objectID)
		}
	}
	return out, nil
}

// candidateObjectIDs enumerates every object of objectType that subject is
// connected to by a stored tuple naming subject directly. Usersets the
// subject belongs to are not followed, so objects reachable only through
// group membership or rewrites are not candidates. This is the traversal
// fallback when L2 has no materialized bitmap yet; it trades completeness
// against the simplicity of not requiring a global object-type index.
func (e *Engine) candidateObjectIDs(zone tuple.Zone, subject tuple.Subject, objectType string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	direct, err := e.store.ReadBySubject(zone, subject, "")
	if err != nil {
		return nil, rebacerr.StorageUnavailable("candidate scan: read by subject")
	}
	for _, t := range direct {
		if t.Object.Type == objectType && !seen[t.Object.ID] {
			seen[t.Object.ID] = true
			out = append(out, t.Object.ID)
		}
	}
	return out, nil
}
