package resolver

import "github.com/kvresolve/resolver/internal/rerr"

// Sentinel errors returned by Resolver operations (§7). They wrap
// internal/rerr's values directly so errors.Is/errors.As work the same way
// whether the error originated in this package or a lower layer.
var (
	// ErrNotFound is returned by MustResolve and ReverseLookup when the
	// requested key or value does not exist in the scope.
	ErrNotFound = rerr.ErrNotFound

	// ErrLocked is returned when a create is attempted against a
	// write-locked or retired scope, when a PreWriteCheck rejects a
	// create, or when ExclusiveLock loses a race.
	ErrLocked = rerr.ErrLocked

	// ErrConflict is returned by SetMapping when an existing forward or
	// reverse entry diverges from the requested mapping, and by Create
	// when the key already exists.
	ErrConflict = rerr.ErrConflict

	// ErrAlreadyExists is returned by Create when the key is already
	// mapped.
	ErrAlreadyExists = rerr.ErrAlreadyExists

	// ErrRetryExhausted is returned when the allocator or a state CAS
	// could not make progress within its retry budget.
	ErrRetryExhausted = rerr.ErrRetryExhausted

	// ErrStateCorrupt is returned when the persisted state record cannot
	// be decoded, or a bidirectional entry is missing its other half. Once
	// a Resolver has observed it, every later operation of that Resolver
	// that opens a transaction or reads state fails with it; entries already
	// in the shared cache are still served by Resolve, Read and
	// ReverseLookup.
	ErrStateCorrupt = rerr.ErrStateCorrupt
)
