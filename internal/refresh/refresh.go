// Package refresh implements the bounded-staleness state cache of §4.7: each
// Resolver keeps its own last-read state and only goes back to the store
// when that reading is older than a configurable period, so cache hits
// don't each cost a transaction.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/kvresolve/resolver/internal/rcache"
	"github.com/kvresolve/resolver/internal/rmetrics"
	"github.com/kvresolve/resolver/internal/rstate"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
)

// DefaultPeriod is the default staleness bound: a reading older than this
// triggers a fresh transactional read on next use.
const DefaultPeriod = 30 * time.Second

// Refresher tracks one Resolver's most recently observed state and
// opportunistically re-reads it once it goes stale, invalidating that
// scope's caches when the version has moved on.
type Refresher struct {
	store      txkv.Store
	sub        subspace.Subspace
	windowHigh uint64
	period     time.Duration
	metrics    rmetrics.Sink

	mu       sync.Mutex
	state    rstate.State
	readAt   time.Time
	primed   bool // fresh enough that cached() can serve it without a read
	hasState bool // a state has been observed at least once, ever

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns a Refresher for sub backed by store, with the given default
// window floor (used the first time state is read and no record exists
// yet) and staleness period.
func New(store txkv.Store, sub subspace.Subspace, defaultWindowHigh uint64, period time.Duration, metrics rmetrics.Sink) *Refresher {
	if period <= 0 {
		period = DefaultPeriod
	}

	if metrics == nil {
		metrics = rmetrics.NoOp
	}

	return &Refresher{store: store, sub: sub, windowHigh: defaultWindowHigh, period: period, metrics: metrics, stop: make(chan struct{})}
}

// StartBackground launches a goroutine that re-reads state every period and
// purges this scope's caches when the version has moved on, so a version
// bump is observed by idle callers (ones not otherwise calling Resolve)
// within one period, not just by callers who happen to make a request.
//
// Grounded in the teacher corpus's periodic-ticker background loops (e.g.
// AKJUS-bsc-erigon's snapshotsync poller): a ticker plus a select against a
// stop channel, nothing fancier. Call Close to stop it.
func (r *Refresher) StartBackground() {
	go r.loop()
}

func (r *Refresher) loop() {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.period)
			_, _ = r.Current(ctx)
			cancel()
		}
	}
}

// Close stops the background refresh goroutine, if one was started. Safe
// to call more than once and safe to call even if StartBackground never
// ran.
func (r *Refresher) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Current returns the most recently observed state, opening its own
// read-only transaction to refresh it if the cached reading is stale or
// this is the first call. Use this for operations (like GetVersion) that
// don't otherwise need a transaction.
func (r *Refresher) Current(ctx context.Context) (rstate.State, error) {
	if s, ok := r.cached(); ok {
		return s, nil
	}

	var s rstate.State

	err := r.store.Run(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		var loadErr error
		s, loadErr = r.ReloadWithTx(ctx, tx)

		return loadErr
	})

	return s, err
}

// MaybeReloadWithTx returns the cached state if it is still within the
// staleness period, otherwise performs a fresh read joined to tx (see
// ReloadWithTx). Use this from inside an already-open transaction when the
// caller only needs a bounded-staleness reading, not a guaranteed-fresh one.
func (r *Refresher) MaybeReloadWithTx(ctx context.Context, tx txkv.Transaction) (rstate.State, error) {
	if s, ok := r.cached(); ok {
		return s, nil
	}

	return r.ReloadWithTx(ctx, tx)
}

// ReloadWithTx unconditionally re-reads state inside the caller's own
// already-open transaction, so the read joins that transaction's read-set,
// and caches the result. Use this from inside Resolver operations that
// already hold a transaction, so state reads participate in the same
// commit's conflict detection.
func (r *Refresher) ReloadWithTx(ctx context.Context, tx txkv.Transaction) (rstate.State, error) {
	r.metrics.ResolverStateRead()

	s, err := rstate.Load(ctx, tx, r.sub, r.windowHigh)
	if err != nil {
		return rstate.State{}, err
	}

	r.record(s)

	return s, nil
}

func (r *Refresher) cached() (rstate.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.primed && time.Since(r.readAt) < r.period {
		return r.state, true
	}

	return rstate.State{}, false
}

func (r *Refresher) record(s rstate.State) {
	r.mu.Lock()
	prev := r.state
	hadState := r.hasState
	r.state = s
	r.readAt = time.Now()
	r.primed = true
	r.hasState = true
	r.mu.Unlock()

	if hadState && s.Version != prev.Version {
		rcache.ForScope(r.sub).Purge()
	}
}

// Invalidate forces the next Current/MaybeReloadWithTx call to perform a
// fresh read, regardless of the staleness period. Used after this engine's
// own writes bump the version, so it never serves itself a reading older
// than its own commit. It does not discard the last-observed state used by
// record to detect a version change — only the freshness timer.
func (r *Refresher) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.primed = false
}
