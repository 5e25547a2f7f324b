// Package resolver implements the Locatable Resolver: a transactional,
// scope-aware bidirectional directory mapping opaque string keys to dense
// uint64 identifiers, backed by a serializable-transaction ordered
// key-value store (github.com/kvresolve/resolver/txkv).
//
// Grounded in the teacher's internal/ticket package as the "entity +
// lifecycle operations over a store" shape: a flat set of exported
// functions/methods, one per operation, each opening exactly the
// transactions it needs and returning the package's own sentinel errors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kvresolve/resolver/internal/alloc"
	"github.com/kvresolve/resolver/internal/fwdstore"
	"github.com/kvresolve/resolver/internal/rcache"
	"github.com/kvresolve/resolver/internal/refresh"
	"github.com/kvresolve/resolver/internal/revstore"
	"github.com/kvresolve/resolver/internal/rstate"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
)

// ResolverResult is a resolved entry: the dense integer assigned to a key,
// plus its immutable-unless-updated metadata.
type ResolverResult struct {
	Value    uint64
	Metadata []byte
}

// Resolver is a bidirectional directory over one scope (a resolved byte
// prefix). Two Resolver values constructed over the same scope share the
// same process-wide caches (internal/rcache), but each keeps its own state
// refresher and allocator cursor.
type Resolver struct {
	store     txkv.Store
	sub       subspace.Subspace
	cfg       *config
	alloc     *alloc.Allocator
	refresher *refresh.Refresher
	cache     *rcache.ScopeCache
	corrupt   atomic.Bool
}

// New constructs a Resolver over sub, backed by store.
func New(store txkv.Store, sub subspace.Subspace, opts ...Option) *Resolver {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.cacheSize > 0 {
		rcache.SetDefaultSize(cfg.cacheSize)
	}

	r := &Resolver{
		store:     store,
		sub:       sub,
		cfg:       cfg,
		alloc:     alloc.New(cfg.defaultWindowHigh),
		refresher: refresh.New(store, sub, cfg.defaultWindowHigh, cfg.refreshPeriod, cfg.metrics),
		cache:     rcache.ForScope(sub),
	}

	r.refresher.StartBackground()

	return r
}

// Close stops this Resolver's background state-refresh goroutine. It does
// not close the underlying Store, which may be shared with other
// Resolvers. Safe to call more than once.
func (r *Resolver) Close() {
	r.refresher.Close()
}

// Open resolves supplier to a byte prefix and constructs a Resolver over
// it. Use New directly when the caller already has a Subspace (e.g. in
// tests, via subspace.New).
func Open(ctx context.Context, store txkv.Store, supplier subspace.PathSupplier, opts ...Option) (*Resolver, error) {
	sub, err := subspace.Resolve(ctx, supplier)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve path: %w", err)
	}

	return New(store, sub, opts...), nil
}

func (r *Resolver) markCorruptIfNeeded(err error) {
	if errors.Is(err, ErrStateCorrupt) {
		r.corrupt.Store(true)
	}
}

func (r *Resolver) checkHealthy() error {
	if r.corrupt.Load() {
		return fmt.Errorf("resolver: scope %q previously observed a corrupt state record; construct a new Resolver: %w", r.sub.ID(), ErrStateCorrupt)
	}

	return nil
}

// runTx runs fn inside a transaction, tracking the sticky corrupt-state flag
// and the commit metric.
func (r *Resolver) runTx(ctx context.Context, fn func(ctx context.Context, tx txkv.Transaction) error) error {
	if err := r.checkHealthy(); err != nil {
		return err
	}

	err := r.store.Run(ctx, fn)
	if errors.Is(err, txkv.ErrRetryExhausted) {
		err = fmt.Errorf("%w: %w", ErrRetryExhausted, err)
	}

	r.markCorruptIfNeeded(err)
	r.cfg.metrics.Commit(err == nil)

	return err
}

func (r *Resolver) resolveConfig(opts []Option) *config {
	if len(opts) == 0 {
		return r.cfg
	}

	clone := *r.cfg
	for _, opt := range opts {
		opt(&clone)
	}

	return &clone
}

// Resolve returns the value for key, creating it if it does not yet exist.
func (r *Resolver) Resolve(ctx context.Context, key string, opts ...Option) (ResolverResult, error) {
	if e, ok := r.cache.GetForward(key); ok {
		return ResolverResult{Value: e.Value, Metadata: e.Metadata}, nil
	}

	cfg := r.resolveConfig(opts)

	start := time.Now()

	var result ResolverResult

	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		r.cfg.metrics.DirectoryRead()

		entry, ok, err := fwdstore.Get(ctx, tx, r.sub, key)
		if err != nil {
			return err
		}

		if ok {
			result = ResolverResult{Value: entry.Value, Metadata: entry.Metadata}

			return nil
		}

		state, err := r.refresher.MaybeReloadWithTx(ctx, tx)
		if err != nil {
			return err
		}

		if !state.CreatesAllowed() {
			return fmt.Errorf("resolve %q: %w", key, ErrLocked)
		}

		allowed, err := cfg.preWriteCheck(ctx, r)
		if err != nil {
			return fmt.Errorf("resolve %q: prewrite check: %w", key, err)
		}

		if !allowed {
			return fmt.Errorf("resolve %q: prewrite check failed: %w", key, ErrLocked)
		}

		metadata, err := cfg.metadataHook(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve %q: metadata hook: %w", key, err)
		}

		value, err := alloc.AllocateWithAllocator(ctx, tx, r.sub, state.WindowHigh, r.alloc)
		if err != nil {
			return fmt.Errorf("resolve %q: allocate: %w", key, err)
		}

		fwdstore.Put(tx, r.sub, key, fwdstore.Entry{Value: value, Metadata: metadata})
		revstore.Put(tx, r.sub, value, key)

		result = ResolverResult{Value: value, Metadata: metadata}

		return nil
	})
	if err != nil {
		return ResolverResult{}, err
	}

	r.cache.PutForward(key, fwdstore.Entry{Value: result.Value, Metadata: result.Metadata})
	r.cache.PutReverse(result.Value, key)
	r.cfg.metrics.WaitDirectoryResolve(time.Since(start).Nanoseconds())

	return result, nil
}

// ResolveWithMetadata is equivalent to Resolve; metadata is already part of
// ResolverResult.
func (r *Resolver) ResolveWithMetadata(ctx context.Context, key string, opts ...Option) (ResolverResult, error) {
	return r.Resolve(ctx, key, opts...)
}

// ReverseLookup returns the key mapped to value, failing with ErrNotFound
// if value has never been claimed in this scope.
func (r *Resolver) ReverseLookup(ctx context.Context, value uint64) (string, error) {
	if key, ok := r.cache.GetReverse(value); ok {
		return key, nil
	}

	var key string

	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		k, ok, err := revstore.Get(ctx, tx, r.sub, value)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("reverse lookup %d: %w", value, ErrNotFound)
		}

		key = k

		return nil
	})
	if err != nil {
		return "", err
	}

	r.cache.PutReverse(value, key)

	return key, nil
}

// MustResolve returns the value for key, failing with ErrNotFound if it
// does not already exist. It never creates and never runs hooks.
func (r *Resolver) MustResolve(ctx context.Context, key string) (ResolverResult, error) {
	result, ok, err := r.Read(ctx, key)
	if err != nil {
		return ResolverResult{}, err
	}

	if !ok {
		return ResolverResult{}, fmt.Errorf("must resolve %q: %w", key, ErrNotFound)
	}

	return result, nil
}

// Read returns the value for key if it exists, without creating it.
func (r *Resolver) Read(ctx context.Context, key string) (ResolverResult, bool, error) {
	if e, ok := r.cache.GetForward(key); ok {
		return ResolverResult{Value: e.Value, Metadata: e.Metadata}, true, nil
	}

	var (
		result ResolverResult
		found  bool
	)

	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		r.cfg.metrics.DirectoryRead()

		entry, ok, err := fwdstore.Get(ctx, tx, r.sub, key)
		if err != nil {
			return err
		}

		if ok {
			result = ResolverResult{Value: entry.Value, Metadata: entry.Metadata}
			found = true
		}

		return nil
	})
	if err != nil {
		return ResolverResult{}, false, err
	}

	if found {
		r.cache.PutForward(key, fwdstore.Entry{Value: result.Value, Metadata: result.Metadata})
		r.cache.PutReverse(result.Value, key)
	}

	return result, found, nil
}

// Create unconditionally creates key, failing with an error that matches
// both ErrAlreadyExists and ErrConflict if it is already mapped.
func (r *Resolver) Create(ctx context.Context, key string, opts ...Option) (ResolverResult, error) {
	cfg := r.resolveConfig(opts)

	var result ResolverResult

	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		_, ok, err := fwdstore.Get(ctx, tx, r.sub, key)
		if err != nil {
			return err
		}

		if ok {
			return fmt.Errorf("create %q: %w: %w", key, ErrAlreadyExists, ErrConflict)
		}

		state, err := r.refresher.MaybeReloadWithTx(ctx, tx)
		if err != nil {
			return err
		}

		if !state.CreatesAllowed() {
			return fmt.Errorf("create %q: %w", key, ErrLocked)
		}

		allowed, err := cfg.preWriteCheck(ctx, r)
		if err != nil {
			return fmt.Errorf("create %q: prewrite check: %w", key, err)
		}

		if !allowed {
			return fmt.Errorf("create %q: prewrite check failed: %w", key, ErrLocked)
		}

		metadata, err := cfg.metadataHook(ctx, key)
		if err != nil {
			return fmt.Errorf("create %q: metadata hook: %w", key, err)
		}

		value, err := alloc.AllocateWithAllocator(ctx, tx, r.sub, state.WindowHigh, r.alloc)
		if err != nil {
			return fmt.Errorf("create %q: allocate: %w", key, err)
		}

		fwdstore.Put(tx, r.sub, key, fwdstore.Entry{Value: value, Metadata: metadata})
		revstore.Put(tx, r.sub, value, key)

		result = ResolverResult{Value: value, Metadata: metadata}

		return nil
	})
	if err != nil {
		return ResolverResult{}, err
	}

	r.cache.PutForward(key, fwdstore.Entry{Value: result.Value, Metadata: result.Metadata})
	r.cache.PutReverse(result.Value, key)

	return result, nil
}

// SetMapping introduces key -> value at a caller-chosen value. It is
// idempotent when an existing mapping matches exactly, and fails with
// ErrConflict ("mapping already exists with different value" or "reverse
// mapping already exists with different key") otherwise.
func (r *Resolver) SetMapping(ctx context.Context, key string, value uint64) error {
	return r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		fwd, fwdOK, err := fwdstore.Get(ctx, tx, r.sub, key)
		if err != nil {
			return err
		}

		rev, revOK, err := revstore.Get(ctx, tx, r.sub, value)
		if err != nil {
			return err
		}

		if fwdOK && fwd.Value != value {
			return fmt.Errorf("set mapping %q: mapping already exists with different value: %w", key, ErrConflict)
		}

		if revOK && rev != key {
			return fmt.Errorf("set mapping %q: reverse mapping already exists with different key: %w", key, ErrConflict)
		}

		if fwdOK && revOK {
			return nil // already set exactly as requested
		}

		metadata := []byte(nil)
		if fwdOK {
			metadata = fwd.Metadata
		}

		fwdstore.Put(tx, r.sub, key, fwdstore.Entry{Value: value, Metadata: metadata})
		revstore.Put(tx, r.sub, value, key)

		return nil
	})
}

// SetWindow raises the scope's allocation floor to w if it is currently
// lower, and bumps the state version.
func (r *Resolver) SetWindow(ctx context.Context, w uint64) error {
	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		state, err := r.refresher.ReloadWithTx(ctx, tx)
		if err != nil {
			return err
		}

		if w > state.WindowHigh {
			state.WindowHigh = w
		}

		state.Version++
		rstate.Save(tx, r.sub, state)

		return nil
	})
	if err != nil {
		return err
	}

	r.alloc.RaiseFloor(w)
	r.refresher.Invalidate()

	return nil
}

// IncrementVersion bumps the scope's state version, forcing every process's
// caches to invalidate within refresh_period.
func (r *Resolver) IncrementVersion(ctx context.Context) error {
	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		state, err := r.refresher.ReloadWithTx(ctx, tx)
		if err != nil {
			return err
		}

		state.Version++
		rstate.Save(tx, r.sub, state)

		return nil
	})
	if err != nil {
		return err
	}

	r.refresher.Invalidate()

	return nil
}

// EnableWriteLock sets the scope's lock to WRITE_LOCKED, rejecting creates
// until DisableWriteLock.
func (r *Resolver) EnableWriteLock(ctx context.Context) error {
	return r.setLock(ctx, rstate.WriteLocked, nil)
}

// DisableWriteLock returns the scope's lock to UNLOCKED.
func (r *Resolver) DisableWriteLock(ctx context.Context) error {
	return r.setLock(ctx, rstate.Unlocked, nil)
}

// ExclusiveLock transitions the scope from UNLOCKED to the terminal RETIRED
// state. It requires the scope to currently be UNLOCKED; under concurrent
// callers, at most one succeeds.
func (r *Resolver) ExclusiveLock(ctx context.Context) error {
	return r.setLock(ctx, rstate.Retired, func(cur rstate.State) error {
		if cur.Lock != rstate.Unlocked {
			return fmt.Errorf("exclusive lock: resolver must be unlocked to get exclusive lock: %w", ErrLocked)
		}

		return nil
	})
}

func (r *Resolver) setLock(ctx context.Context, target rstate.Lock, precondition func(rstate.State) error) error {
	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		state, err := r.refresher.ReloadWithTx(ctx, tx)
		if err != nil {
			return err
		}

		if precondition != nil {
			if err := precondition(state); err != nil {
				return err
			}
		}

		if state.Lock == target {
			return nil
		}

		state.Lock = target
		state.Version++
		rstate.Save(tx, r.sub, state)

		return nil
	})
	if err != nil {
		return err
	}

	r.refresher.Invalidate()

	return nil
}

// UpdateMetadataAndVersion overwrites the metadata on an existing entry and
// bumps the state version so caches refresh.
func (r *Resolver) UpdateMetadataAndVersion(ctx context.Context, key string, metadata []byte) error {
	err := r.runTx(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		entry, ok, err := fwdstore.Get(ctx, tx, r.sub, key)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("update metadata %q: %w", key, ErrNotFound)
		}

		entry.Metadata = metadata
		fwdstore.Put(tx, r.sub, key, entry)

		state, err := r.refresher.ReloadWithTx(ctx, tx)
		if err != nil {
			return err
		}

		state.Version++
		rstate.Save(tx, r.sub, state)

		return nil
	})
	if err != nil {
		return err
	}

	r.refresher.Invalidate()

	return nil
}

// GetVersion returns the scope's state version, subject to the refresher's
// bounded staleness.
func (r *Resolver) GetVersion(ctx context.Context) (uint32, error) {
	if err := r.checkHealthy(); err != nil {
		return 0, err
	}

	state, err := r.refresher.Current(ctx)
	r.markCorruptIfNeeded(err)

	if err != nil {
		return 0, err
	}

	return state.Version, nil
}

// LockStatus returns the scope's current lock state, subject to the
// refresher's bounded staleness. Intended for inspection tooling
// (cmd/resolverctl); engine operations consult state.CreatesAllowed()
// internally rather than calling this.
func (r *Resolver) LockStatus(ctx context.Context) (rstate.Lock, error) {
	if err := r.checkHealthy(); err != nil {
		return 0, err
	}

	state, err := r.refresher.Current(ctx)
	r.markCorruptIfNeeded(err)

	if err != nil {
		return 0, err
	}

	return state.Lock, nil
}
