// Package engine implements the Check Engine: userset-rewrite evaluation
// with memoization, cycle detection, and the negative-grant shortcut
// (spec.md §4.5).
package engine

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nexi-lab/nexus/internal/rebac/broker"
	"github.com/nexi-lab/nexus/internal/rebac/cachel1"
	"github.com/nexi-lab/nexus/internal/rebac/cachel2"
	"github.com/nexi-lab/nexus/internal/rebac/config"
	"github.com/nexi-lab/nexus/internal/rebac/idmap"
	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
	"github.com/nexi-lab/nexus/internal/rebac/storage"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// checkBulkConcurrency bounds how many queries within one CheckBulk call
// evaluate concurrently. Every layer a query touches (store, L1, L2,
// broker, idmap) is already safe for concurrent use, so this is purely a
// fan-out width, not a correctness requirement.
const checkBulkConcurrency = 8

// Query is one (subject, permission, object) check request within a zone.
type Query struct {
	Subject    tuple.Subject
	Permission string
	Object     tuple.Object
}

// visitKey identifies one (subject, permission, object) sub-evaluation
// within a single Check call (spec.md §9: "evaluate with ... a visited
// set keyed on (subject, permission, object)").
type visitKey struct {
	subject    tuple.Subject
	permission string
	object     tuple.Object
}

// evalState is threaded through one Check call's recursive evaluation.
// inProgress and memo are kept separate on purpose (spec.md:89 requires
// "recursive with memoization", and spec.md:92 requires an L2 hit be
// memoized and returned on a later identical subquery):
//
//   - inProgress marks a key for the duration of its own call frame only
//     (cleared via defer on return) and exists solely for cycle detection:
//     revisiting a key still on the call stack means the tuple graph
//     cycles back on itself, which evaluates to false without being
//     remembered as the key's final answer.
//   - memo remembers the actual completed result for a key once its
//     evaluation finishes, for the rest of this Check call. This matters
//     whenever two branches of the same rule converge on the same key
//     without the tuple graph actually cycling — e.g.
//     intersection(computed_userset(viewer), computed_userset(viewer)):
//     the second branch must see the first branch's real answer, not be
//     treated as a cycle and forced to false.
type evalState struct {
	inProgress map[visitKey]bool
	memo       map[visitKey]bool
}

func newEvalState() *evalState {
	return &evalState{inProgress: make(map[visitKey]bool), memo: make(map[visitKey]bool)}
}

// Engine ties the tuple store, both cache tiers, the revision broker, and
// the zone rewrite schema together to answer checks.
type Engine struct {
	store  storage.TupleStore
	broker *broker.Broker
	l1     *cachel1.Cache
	l2     *cachel2.Cache
	idmap  *idmap.ResourceIdentityMap
	schema func(zone tuple.Zone) (rewrite.Schema, bool)
	cfg    config.Config
}

// New creates a Check Engine. schema resolves a zone to its configured
// rewrite rules; the bool result is false for an unconfigured zone.
func New(
	store storage.TupleStore,
	b *broker.Broker,
	l1 *cachel1.Cache,
	l2 *cachel2.Cache,
	idm *idmap.ResourceIdentityMap,
	schema func(zone tuple.Zone) (rewrite.Schema, bool),
	cfg config.Config,
) *Engine {
	return &Engine{store: store, broker: b, l1: l1, l2: l2, idmap: idm, schema: schema, cfg: cfg}
}

// Check answers whether subject holds permission on object in zone
// (spec.md §4.5, steps 1-6). It is the only entry point that consults L1
// at the top level and writes through afterward; recursive sub-evaluation
// happens in evalRelation.
func (e *Engine) Check(zone tuple.Zone, subject tuple.Subject, permission string, object tuple.Object) (bool, error) {
	if e.cfg.EnforceZoneIsolation {
		if _, ok := e.schema(zone); !ok {
			return false, rebacerr.ZoneNotFound("check: zone %s", string(zone))
		}
	}

	version, err := e.broker.CurrentVersion(zone)
	if err != nil {
		return false, rebacerr.StorageUnavailable("check: fetch revision for zone %s", string(zone))
	}
	bucket := cachel1.Bucket(version, e.cfg.RevisionQuantizationWindow)
	l1Key := cachel1.Key{Zone: zone, Subject: subject, Relation: permission, Object: object, RevisionBucket: bucket}

	if decision, ok := e.l1.Get(l1Key); ok {
		return bool(decision), nil
	}

	decision, err := e.evalRelation(zone, subject, permission, object, newEvalState())
	if err != nil {
		// Fail closed: an engine error is deny at the boundary, never allow
		// (spec.md §7). The error still propagates so callers can log it.
		e.l1.Put(l1Key, cachel1.Deny)
		return false, err
	}

	if decision {
		e.l1.Put(l1Key, cachel1.Allow)
		e.writeThroughAllow(zone, subject, permission, object)
	} else {
		e.l1.Put(l1Key, cachel1.Deny)
	}
	return decision, nil
}

func (e *Engine) writeThroughAllow(zone tuple.Zone, subject tuple.Subject, permission string, object tuple.Object) {
	if !e.cfg.L2Enabled {
		return
	}
	intID, err := e.idmap.GetOrCreateIntID(object.Type, object.ID, zone)
	if err != nil {
		return
	}
	l2Key := cachel2.Key{Zone: zone, Subject: subject, Relation: permission, ObjectType: object.Type}
	_ = e.l2.Add(l2Key, intID)
}

// evalRelation evaluates (subject, permission, object) against the deny
// shortcut, L2, and the rewrite schema, in that order (spec.md §4.5:
// "Evaluation order is an optimization only"). It memoizes its result for
// the lifetime of state (one Check call) and guards against cycles in the
// tuple graph separately from that memo — see evalState's doc comment.
func (e *Engine) evalRelation(zone tuple.Zone, subject tuple.Subject, permission string, object tuple.Object, state *evalState) (bool, error) {
	key := visitKey{subject: subject, permission: permission, object: object}

	if result, ok := state.memo[key]; ok {
		return result, nil
	}
	if state.inProgress[key] {
		return false, nil
	}
	state.inProgress[key] = true
	defer delete(state.inProgress, key)

	result, err := e.evalRelationUncached(zone, subject, permission, object, state)
	if err != nil {
		return false, err
	}
	state.memo[key] = result
	return result, nil
}

func (e *Engine) evalRelationUncached(zone tuple.Zone, subject tuple.Subject, permission string, object tuple.Object, state *evalState) (bool, error) {
	if e.cfg.DenyPrecedence {
		denied, err := e.deniedDirectly(zone, subject, object, permission)
		if err != nil {
			return false, err
		}
		if denied {
			return false, nil
		}
	}

	if e.cfg.L2Enabled {
		if allow, ok := e.checkL2(zone, subject, permission, object); ok && allow {
			return true, nil
		}
	}

	schema, ok := e.schema(zone)
	if !ok {
		return false, rebacerr.ZoneNotFound("evaluate: zone %s", string(zone))
	}
	rule, ok := schema.Lookup(object.Type, permission)
	if !ok {
		if e.cfg.EnforcePermissions {
			return false, rebacerr.UnknownRelation("evaluate: %s#%s", object.Type, permission)
		}
		return false, nil
	}

	return e.evalRule(zone, rule, permission, subject, object, state)
}

// deniedDirectly reports whether a deny tuple for permission on object
// matches subject, directly or via the public subject.
func (e *Engine) deniedDirectly(zone tuple.Zone, subject tuple.Subject, object tuple.Object, permission string) (bool, error) {
	denies, err := e.store.ReadByObject(zone, object, tuple.DenyRelation(permission))
	if err != nil {
		return false, rebacerr.StorageUnavailable("read deny tuples")
	}
	for _, t := range denies {
		if t.Subject.IsPublic() || subjectMatches(t.Subject, subject) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) checkL2(zone tuple.Zone, subject tuple.Subject, permission string, object tuple.Object) (allow bool, ok bool) {
	intID, err := e.idmap.GetOrCreateIntID(object.Type, object.ID, zone)
	if err != nil {
		return false, false
	}
	l2Key := cachel2.Key{Zone: zone, Subject: subject, Relation: permission, ObjectType: object.Type}
	bm, found := e.l2.Get(l2Key)
	if !found {
		return false, false
	}
	return bm.Contains(intID), true
}

// subjectMatches reports whether a stored leaf tuple subject equals the
// subject under evaluation.
func subjectMatches(tupleSubject, querySubject tuple.Subject) bool {
	if tupleSubject.IsUserset() {
		return false
	}
	return tupleSubject.Type == querySubject.Type && tupleSubject.ID == querySubject.ID
}

// evalRule evaluates one rewrite rule node against (subject, object).
func (e *Engine) evalRule(zone tuple.Zone, rule rewrite.Rule, permission string, subject tuple.Subject, object tuple.Object, state *evalState) (bool, error) {
	switch rule.Op {
	case rewrite.This:
		return e.evalThis(zone, rule, permission, subject, object, state)

	case rewrite.ComputedUserset:
		return e.evalRelation(zone, subject, rule.Relation, object, state)

	case rewrite.TupleToUserset:
		return e.evalTupleToUserset(zone, rule, subject, state, object)

	case rewrite.Union:
		for _, child := range rule.Children {
			ok, err := e.evalRule(zone, child, permission, subject, object, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case rewrite.Intersection:
		for _, child := range rule.Children {
			ok, err := e.evalRule(zone, child, permission, subject, object, state)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case rewrite.Exclusion:
		if len(rule.Children) != 2 {
			return false, rebacerr.UnknownRelation("exclusion rule requires exactly 2 children")
		}
		base, err := e.evalRule(zone, rule.Children[0], permission, subject, object, state)
		if err != nil {
			return false, err
		}
		if !base {
			return false, nil
		}
		subtracted, err := e.evalRule(zone, rule.Children[1], permission, subject, object, state)
		if err != nil {
			return false, err
		}
		return !subtracted, nil

	default:
		return false, rebacerr.UnknownRelation("unrecognized rewrite op %q", rule.Op)
	}
}

func (e *Engine) evalThis(zone tuple.Zone, rule rewrite.Rule, permission string, subject tuple.Subject, object tuple.Object, state *evalState) (bool, error) {
	relation := rule.Relation
	if relation == "" {
		relation = permission
	}

	tuples, err := e.store.ReadByObject(zone, object, relation)
	if err != nil {
		return false, rebacerr.StorageUnavailable("read tuples for %s#%s", object.Type, relation)
	}

	for _, t := range tuples {
		if t.IsDeny() {
			continue
		}
		if t.Subject.IsPublic() || subjectMatches(t.Subject, subject) {
			return true, nil
		}
		if t.Subject.IsUserset() {
			usersetObject := tuple.Object{Type: t.Subject.Type, ID: t.Subject.ID}
			ok, err := e.evalRelation(zone, subject, t.Subject.Relation, usersetObject, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Engine) evalTupleToUserset(zone tuple.Zone, rule rewrite.Rule, subject tuple.Subject, state *evalState, object tuple.Object) (bool, error) {
	parentTuples, err := e.store.ReadByObject(zone, object, rule.TuplesetRelation)
	if err != nil {
		return false, rebacerr.StorageUnavailable("read parents via %s", rule.TuplesetRelation)
	}

	for _, t := range parentTuples {
		if t.IsDeny() || t.Subject.IsUserset() {
			continue
		}
		parent := tuple.Object{Type: t.Subject.Type, ID: t.Subject.ID}
		ok, err := e.evalRelation(zone, subject, rule.ComputedRelation, parent, state)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// CheckBulk evaluates every query in queries, deduplicating identical
// triples so each is evaluated at most once (spec.md §4.5: "must produce
// identical outcomes to per-check evaluation"), fanning the unique
// queries out across a bounded pool of goroutines via errgroup.
func (e *Engine) CheckBulk(zone tuple.Zone, queries []Query) (map[Query]bool, error) {
	unique := make([]Query, 0, len(queries))
	seen := make(map[Query]bool, len(queries))
	for _, q := range queries {
		if !seen[q] {
			seen[q] = true
			unique = append(unique, q)
		}
	}

	results := make(map[Query]bool, len(unique))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(checkBulkConcurrency)
	for _, q := range unique {
		q := q
		g.Go(func() error {
			decision, err := e.Check(zone, q.Subject, q.Permission, q.Object)
			if err != nil {
				return err
			}
			mu.Lock()
			results[q] = decision
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
