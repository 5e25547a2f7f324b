// Package txkv defines the transactional, ordered key-value store the
// resolver is built on (§6 of the design), plus the sentinel errors that let
// callers distinguish a conflict worth retrying from a genuine failure.
//
// The interfaces here are intentionally small: everything the resolver needs
// from its storage layer is a handful of byte-oriented operations inside a
// serializable transaction. Two implementations ship in sibling packages:
// [txkv/memkv] (in-process, for tests) and [txkv/pebblekv] (durable, backed
// by github.com/cockroachdb/pebble).
package txkv

import (
	"context"
	"errors"
)

// ErrConflict is returned internally by a [Transaction] when another
// transaction committed a conflicting write to a key this transaction read.
// [Store.Run] retries transparently on ErrConflict up to its
// configured retry budget; callers of Run never see it directly — they see
// [ErrRetryExhausted] if the budget is exhausted.
var ErrConflict = errors.New("txkv: transaction conflict")

// ErrRetryExhausted is returned by [Store.Run] when a transaction could not
// commit without conflict within the store's retry budget.
var ErrRetryExhausted = errors.New("txkv: retry budget exhausted")

// ErrClosed is returned by a [Store] or [Transaction] method once the store
// has been closed.
var ErrClosed = errors.New("txkv: store closed")

// Transaction is a single serializable transaction against a [Store].
// pebblekv's reads observe a snapshot taken when the transaction began;
// memkv's reads see the latest committed value at each Get. In both, a
// commit succeeds only if nothing the transaction read has changed since;
// writes are buffered and only become visible to other transactions on a
// successful commit at the end of the enclosing [Store.Run] call.
type Transaction interface {
	// Get returns the value for key, or (nil, false, nil) if key is unset.
	// Reading a key adds it to the transaction's read-set for conflict
	// detection at commit time.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// Set buffers key=value for this transaction. Visible to this
	// transaction's own subsequent Gets; visible to others only after
	// commit.
	Set(key, value []byte)

	// ClearRange buffers the removal of every key in [lo, hi). A nil hi
	// means "to the end of the keyspace".
	ClearRange(lo, hi []byte)

	// ReadVersion returns the store's commit sequence as observed at the
	// start of this transaction, for callers that need a cheap liveness
	// signal independent of any particular key.
	ReadVersion() uint64
}

// Store is the transactional store the resolver is built on.
type Store interface {
	// Run executes fn inside a fresh transaction, committing if fn returns
	// nil and retrying the entire transaction (with fresh state) if the
	// commit failed due to a conflict, up to the store's retry budget.
	// fn may run more than once; it must be free of externally visible
	// side effects other than its Transaction calls.
	Run(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// Close releases resources held by the store. Run returns ErrClosed
	// after Close.
	Close() error
}

// Scanner is an optional capability a [Store] backend may implement to
// support read-only, non-transactional range inspection. It is not part of
// the resolver engine's contract — only the resolverctl inspection mirror
// (§4.9) uses it, via a type assertion.
type Scanner interface {
	// Scan returns a point-in-time snapshot of every key in [lo, hi). A nil
	// hi means "to the end of the keyspace". The snapshot need not be
	// linearizable with concurrent transactions; it is for operator
	// inspection only.
	Scan(ctx context.Context, lo, hi []byte) (map[string][]byte, error)
}

// RetryBudget is the default number of commit attempts [Store.Run]
// implementations make before surfacing [ErrRetryExhausted], matching the
// allocator's own retry budget in §4.3.
const RetryBudget = 30
