// Package rebacerr defines the sentinel error kinds shared across the
// rebac packages. Callers use errors.Is against these sentinels; the
// engine's fail-closed rule treats every one of them as "deny".
package rebacerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrX) to add context,
// or use the constructors below.
var (
	// ErrNotFound means the requested tuple, zone, or resource does not exist.
	ErrNotFound = errors.New("rebac: not found")

	// ErrConflict means a write violates a store-level invariant (e.g. a
	// conflicting deny/allow pair under a uniqueness constraint that forbids it).
	ErrConflict = errors.New("rebac: conflict")

	// ErrStorageUnavailable means the tuple store (bbolt) could not be reached
	// or the operation timed out talking to it.
	ErrStorageUnavailable = errors.New("rebac: storage unavailable")

	// ErrInvalidSubject means a subject reference is malformed (missing type/id,
	// or a userset subject with an empty relation).
	ErrInvalidSubject = errors.New("rebac: invalid subject")

	// ErrInvalidObject means an object reference is malformed.
	ErrInvalidObject = errors.New("rebac: invalid object")

	// ErrCycle means tuple traversal detected a cycle in userset rewrites
	// that never reached a leaf subject.
	ErrCycle = errors.New("rebac: cycle detected")

	// ErrZoneNotFound means the referenced zone has no configuration loaded.
	ErrZoneNotFound = errors.New("rebac: zone not found")

	// ErrUnknownRelation means a relation name has no rewrite rule configured
	// for the object type in question.
	ErrUnknownRelation = errors.New("rebac: unknown relation")
)

// NotFound wraps ErrNotFound with context, mirroring the teacher's
// fmt.Errorf("...: %w", ...) wrapping convention.
func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Conflict wraps ErrConflict with context.
func Conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// StorageUnavailable wraps ErrStorageUnavailable with context.
func StorageUnavailable(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrStorageUnavailable)...)
}

// InvalidSubject wraps ErrInvalidSubject with context.
func InvalidSubject(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidSubject)...)
}

// InvalidObject wraps ErrInvalidObject with context.
func InvalidObject(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidObject)...)
}

// Cycle wraps ErrCycle with context.
func Cycle(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrCycle)...)
}

// ZoneNotFound wraps ErrZoneNotFound with context.
func ZoneNotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrZoneNotFound)...)
}

// UnknownRelation wraps ErrUnknownRelation with context.
func UnknownRelation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnknownRelation)...)
}

// IsDenyable reports whether err wraps one of this package's sentinels,
// every one of which resolves to deny at the check boundary; spec: "errors
// become deny, never allow". The check engine itself returns deny together
// with the error for any error, without consulting this function.
func IsDenyable(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{
		ErrNotFound, ErrConflict, ErrStorageUnavailable, ErrInvalidSubject,
		ErrInvalidObject, ErrCycle, ErrZoneNotFound, ErrUnknownRelation,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
