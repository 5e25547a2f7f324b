// Package rerr holds the resolver's error taxonomy as sentinel values, so
// every internal package and the public [github.com/kvresolve/resolver]
// package can wrap and inspect the same underlying errors with
// errors.Is/errors.As, instead of each layer inventing its own.
//
// Grounded in the teacher's flat sentinel-error style (root package
// errors.go: one var block of wrapped, documented errors.New values) rather
// than custom error struct types.
package rerr

import "errors"

var (
	// ErrNotFound is returned by MustResolve/ReverseLookup/
	// UpdateMetadataAndVersion when the requested key or value does not
	// exist in the scope. Read reports absence with ok=false instead.
	ErrNotFound = errors.New("resolver: not found")

	// ErrLocked is returned when a create is attempted against a
	// write-locked or retired scope, when a pre-write check rejects a
	// create, or when ExclusiveLock loses a race.
	ErrLocked = errors.New("resolver: locked")

	// ErrConflict is returned by SetMapping when an existing forward or
	// reverse entry diverges from the requested mapping, and by Create
	// when the key already exists.
	ErrConflict = errors.New("resolver: conflict")

	// ErrAlreadyExists is returned by Create when the key is already
	// mapped.
	ErrAlreadyExists = errors.New("resolver: already exists")

	// ErrRetryExhausted is returned when the allocator or a state CAS
	// could not make progress within its retry budget.
	ErrRetryExhausted = errors.New("resolver: retry budget exhausted")

	// ErrStateCorrupt is returned when the persisted state record cannot
	// be decoded, or a bidirectional entry is missing its other half.
	// Once a Resolver has observed it, every later operation of that
	// Resolver that opens a transaction or reads state fails with it;
	// entries already in the shared cache are still served.
	ErrStateCorrupt = errors.New("resolver: state corrupt")
)
