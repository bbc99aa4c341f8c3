package engine

import (
	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/rewrite"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// ExpandOptions bounds an expand call. MaxResults enforces the explicit
// result limit spec.md §5 requires for long-running expansions; 0 means
// unbounded.
type ExpandOptions struct {
	MaxResults int
}

type expandKey struct {
	permission string
	object     tuple.Object
}

// Expand returns the flattened set of leaf subjects that satisfy
// permission on object in zone (spec.md §4.5). Subject order is not
// guaranteed (spec.md §9, Open Question: expand ordering is unspecified).
func (e *Engine) Expand(zone tuple.Zone, permission string, object tuple.Object, opts ExpandOptions) ([]tuple.Subject, error) {
	schema, ok := e.schema(zone)
	if !ok {
		return nil, rebacerr.ZoneNotFound("expand: zone %s", string(zone))
	}

	seen := make(map[tuple.Subject]bool)
	var out []tuple.Subject
	visited := make(map[expandKey]bool)

	err := e.expandRelation(zone, schema, permission, object, visited, func(s tuple.Subject) bool {
		if seen[s] {
			return true
		}
		seen[s] = true
		out = append(out, s)
		return opts.MaxResults == 0 || len(out) < opts.MaxResults
	})
	return out, err
}

// expandRelation walks the rewrite rule for (object.Type, permission),
// calling emit for every leaf subject found. emit returns false to stop
// the walk early (result limit reached).
func (e *Engine) expandRelation(zone tuple.Zone, schema rewrite.Schema, permission string, object tuple.Object, visited map[expandKey]bool, emit func(tuple.Subject) bool) error {
	key := expandKey{permission: permission, object: object}
	if visited[key] {
		return nil
	}
	visited[key] = true

	rule, ok := schema.Lookup(object.Type, permission)
	if !ok {
		if e.cfg.EnforcePermissions {
			return rebacerr.UnknownRelation("expand: %s#%s", object.Type, permission)
		}
		return nil
	}
	return e.expandRule(zone, schema, rule, permission, object, visited, emit)
}

func (e *Engine) expandRule(zone tuple.Zone, schema rewrite.Schema, rule rewrite.Rule, permission string, object tuple.Object, visited map[expandKey]bool, emit func(tuple.Subject) bool) error {
	switch rule.Op {
	case rewrite.This:
		relation := rule.Relation
		if relation == "" {
			relation = permission
		}
		tuples, err := e.store.ReadByObject(zone, object, relation)
		if err != nil {
			return rebacerr.StorageUnavailable("expand: read tuples for %s#%s", object.Type, relation)
		}
		for _, t := range tuples {
			if t.IsDeny() {
				continue
			}
			if t.Subject.IsUserset() {
				usersetObject := tuple.Object{Type: t.Subject.Type, ID: t.Subject.ID}
				if err := e.expandRelation(zone, schema, t.Subject.Relation, usersetObject, visited, emit); err != nil {
					return err
				}
				continue
			}
			if !emit(t.Subject) {
				return nil
			}
		}
		return nil

	case rewrite.ComputedUserset:
		return e.expandRelation(zone, schema, rule.Relation, object, visited, emit)

	case rewrite.TupleToUserset:
		parentTuples, err := e.store.ReadByObject(zone, object, rule.TuplesetRelation)
		if err != nil {
			return rebacerr.StorageUnavailable("expand: read parents via %s", rule.TuplesetRelation)
		}
		for _, t := range parentTuples {
			if t.IsDeny() || t.Subject.IsUserset() {
				continue
			}
			parent := tuple.Object{Type: t.Subject.Type, ID: t.Subject.ID}
			if err := e.expandRelation(zone, schema, rule.ComputedRelation, parent, visited, emit); err != nil {
				return err
			}
		}
		return nil

	case rewrite.Union:
		for _, child := range rule.Children {
			if err := e.expandRule(zone, schema, child, permission, object, visited, emit); err != nil {
				return err
			}
		}
		return nil

	case rewrite.Intersection, rewrite.Exclusion:
		// Expand over intersection/exclusion would require materializing
		// each operand's full subject set before combining; callers needing
		// the exact membership of such a relation should use Check per
		// candidate subject instead.
		return nil

	default:
		return rebacerr.UnknownRelation("expand: unrecognized rewrite op %q", rule.Op)
	}
}
