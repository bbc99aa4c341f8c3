// Package tuple defines the core ReBAC data model: subjects, objects, zones,
// and the permission tuples that connect them.
package tuple

import (
	"strings"
	"time"
)

// DenyPrefix marks a relation as a deny tuple (spec: "Deny Tuple").
const DenyPrefix = "deny:"

// Subject identifies who a tuple grants a relation to. A Relation of ""
// means the subject is a leaf (a concrete user or the public role); a
// non-empty Relation means the subject is itself a userset, e.g.
// ("group", "eng", "member") meaning "every member of group eng".
type Subject struct {
	Type     string
	ID       string
	Relation string
}

// IsUserset reports whether the subject is defined indirectly via a relation.
func (s Subject) IsUserset() bool {
	return s.Relation != ""
}

// PublicRoleType and PublicSubjectID denote the anonymous/public subject:
// subject_type = "role", subject_id = "public".
const (
	PublicRoleType  = "role"
	PublicSubjectID = "public"
)

// IsPublic reports whether the subject is the anonymous/public subject.
func (s Subject) IsPublic() bool {
	return s.Type == PublicRoleType && s.ID == PublicSubjectID
}

// Object identifies the resource a tuple grants access to.
type Object struct {
	Type string
	ID   string
}

// Zone is the tenancy boundary. Every tuple, cache entry, and bitmap lives
// inside exactly one zone.
type Zone string

// Tuple is the atomic permission grant, or a deny grant when Relation has
// the "deny:" prefix. Tuples are immutable: an update is a delete+create.
type Tuple struct {
	ID        string
	Subject   Subject
	Relation  string
	Object    Object
	Zone      Zone
	CreatedAt time.Time
}

// IsDeny reports whether this tuple is a deny tuple.
func (t Tuple) IsDeny() bool {
	return strings.HasPrefix(t.Relation, DenyPrefix)
}

// BaseRelation strips the "deny:" prefix, if present, returning the relation
// the tuple actually grants or denies.
func (t Tuple) BaseRelation() string {
	return strings.TrimPrefix(t.Relation, DenyPrefix)
}

// DenyRelation returns the deny-prefixed form of a relation name.
func DenyRelation(relation string) string {
	return DenyPrefix + relation
}

// UniqueKey identifies a tuple for the store's uniqueness constraint:
// (subject, relation, object, zone) must be unique. Two creates with an
// identical key are idempotent (spec: "Idempotent create").
func (t Tuple) UniqueKey() string {
	return string(t.Zone) + "\x00" +
		t.Subject.Type + "\x00" + t.Subject.ID + "\x00" + t.Subject.Relation + "\x00" +
		t.Relation + "\x00" +
		t.Object.Type + "\x00" + t.Object.ID
}
