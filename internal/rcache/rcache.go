// Package rcache implements the bounded, LRU forward/reverse caches of
// §4.6, and the process-wide registry that lets two Resolver instances
// anchored at the same resolved prefix share one pair of caches.
//
// Grounded in the teacher's pkg/slotcache.globalRegistry: a sync.Map keyed
// by a stable identity (there, a file's device+inode; here, a scope's byte
// prefix) handing out one shared entry per identity via LoadOrStore, so
// unrelated Resolver values never duplicate cache state for the same scope.
package rcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kvresolve/resolver/internal/fwdstore"
	"github.com/kvresolve/resolver/internal/subspace"
)

// DefaultSize is the default capacity of each LRU cache, per scope.
const DefaultSize = 100

// ScopeCache holds the forward and reverse caches for one scope.
type ScopeCache struct {
	mu      sync.RWMutex
	forward *lru.Cache[string, fwdstore.Entry]
	reverse *lru.Cache[uint64, string]
}

// newScopeCache builds an empty pair of caches of the given size.
func newScopeCache(size int) *ScopeCache {
	fwd, err := lru.New[string, fwdstore.Entry](size)
	if err != nil {
		// size is always a positive constant supplied by this package;
		// lru.New only errors on size <= 0.
		panic("rcache: invalid cache size " + err.Error())
	}

	rev, err := lru.New[uint64, string](size)
	if err != nil {
		panic("rcache: invalid cache size " + err.Error())
	}

	return &ScopeCache{forward: fwd, reverse: rev}
}

// GetForward returns the cached forward entry for key, if present.
func (c *ScopeCache) GetForward(key string) (fwdstore.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.forward.Get(key)
}

// PutForward caches a committed forward entry. Callers must never call this
// for a read observed inside an in-flight, uncommitted transaction.
func (c *ScopeCache) PutForward(key string, e fwdstore.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forward.Add(key, e)
}

// GetReverse returns the cached key for value, if present.
func (c *ScopeCache) GetReverse(value uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.reverse.Get(value)
}

// PutReverse caches a committed reverse entry.
func (c *ScopeCache) PutReverse(value uint64, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reverse.Add(value, key)
}

// Purge drops every cached entry for this scope, used when the scope's
// state version advances.
func (c *ScopeCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forward.Purge()
	c.reverse.Purge()
}

// registry maps a scope's stable ID (§4.1, byte-prefix equality) to its
// shared ScopeCache.
var registry sync.Map // map[string]*ScopeCache

// size is process-wide since the registry is process-wide; every Resolver
// constructed with a cache-size option overwrites it, and each scope's caches
// keep the size in effect when they were first created. This mirrors the teacher's registry,
// which likewise has no per-open size parameter.
var size = DefaultSize

// SetDefaultSize overrides the capacity used for caches created from now
// on. Existing caches are unaffected. Intended for tests and resolverctl,
// not for steady-state production tuning.
func SetDefaultSize(n int) {
	if n <= 0 {
		return
	}

	size = n
}

// ForScope returns the shared ScopeCache for sub, creating it on first use.
func ForScope(sub subspace.Subspace) *ScopeCache {
	id := sub.ID()

	if v, ok := registry.Load(id); ok {
		return v.(*ScopeCache)
	}

	actual, _ := registry.LoadOrStore(id, newScopeCache(size))

	return actual.(*ScopeCache)
}
