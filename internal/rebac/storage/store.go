// Package storage defines the TupleStore interface: the durable,
// versioned home of every permission tuple (spec.md §4, "Tuple Store").
package storage

import (
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

// ChangeOp names what kind of change a changelog entry records.
type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeDelete ChangeOp = "delete"
)

// Change is one entry in a zone's changelog, consumed by ReadSince for
// incremental L2 rebuild.
type Change struct {
	Version uint64
	Op      ChangeOp
	Tuple   tuple.Tuple
}

// TupleStore is the durable backend for permission tuples. Every write
// bumps the zone's current_version in the same transaction as the tuple
// mutation, so CurrentVersion never observes a partially-applied write.
type TupleStore interface {
	// Write creates a tuple. If an identical tuple (same UniqueKey) already
	// exists, Write is a no-op and returns the existing tuple unchanged —
	// this is the idempotent-create testable property (spec.md §8).
	Write(t tuple.Tuple) (tuple.Tuple, error)

	// Delete removes the tuple matching (subject, relation, object) in zone.
	// Returns rebacerr.ErrNotFound (wrapped) if no such tuple exists.
	Delete(zone tuple.Zone, subject tuple.Subject, relation string, object tuple.Object) error

	// ReadByObject returns every tuple naming the given object in zone,
	// optionally filtered to a single relation (empty string means any).
	ReadByObject(zone tuple.Zone, object tuple.Object, relation string) ([]tuple.Tuple, error)

	// ReadBySubject returns every tuple naming the given subject in zone,
	// optionally filtered to a single relation (empty string means any).
	ReadBySubject(zone tuple.Zone, subject tuple.Subject, relation string) ([]tuple.Tuple, error)

	// CurrentVersion returns the zone's monotonic version counter. A zone
	// that has never been written to is at version 0.
	CurrentVersion(zone tuple.Zone) (uint64, error)

	// ReadSince returns changelog entries for zone with Version > fromVersion,
	// in ascending version order, for incremental L2 rebuild.
	ReadSince(zone tuple.Zone, fromVersion uint64) ([]Change, error)

	// ResetZone deletes every tuple in zone and resets its version to 0.
	ResetZone(zone tuple.Zone) error

	Close() error
}
