// Package memkv is an in-process, map-backed [txkv.Store] used by tests.
//
// Concurrency control is optimistic, in the spirit of the teacher's
// internal/store.Tx: a transaction buffers its reads and writes entirely in
// memory and only takes the store-wide commit lock once, at commit time, to
// validate that nothing it read has changed since and to apply its writes.
// Unlike the teacher's WAL-based store (durability via fsync'd log replay),
// memkv holds no state outside the process — it is a reference
// implementation of the txkv contract, not a production backend; see
// [github.com/kvresolve/resolver/txkv/pebblekv] for that.
package memkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kvresolve/resolver/txkv"
)

type entry struct {
	value   []byte
	version uint64
	present bool
}

// Store is an in-memory [txkv.Store].
type Store struct {
	mu      sync.Mutex
	data    map[string]entry
	version uint64
	closed  bool
}

// New returns an empty, ready-to-use in-memory store.
func New() *Store {
	return &Store{data: make(map[string]entry)}
}

// Run implements [txkv.Store]. Conflicting commits are retried with
// exponential backoff (github.com/cenkalti/backoff/v4) up to
// [txkv.RetryBudget] attempts.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, tx txkv.Transaction) error) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoff.DefaultInitialInterval / 10
	bo.MaxInterval = backoff.DefaultMaxInterval / 50

	for {
		attempts++

		tx := s.begin()

		err := fn(ctx, tx)
		if err != nil {
			return err
		}

		commitErr := s.commit(tx)
		if commitErr == nil {
			return nil
		}

		if errors.Is(commitErr, txkv.ErrClosed) {
			return commitErr
		}

		if attempts >= txkv.RetryBudget {
			return fmt.Errorf("%w: %w", txkv.ErrRetryExhausted, commitErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// Close marks the store closed. Subsequent Run calls return [txkv.ErrClosed].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// Scan implements [txkv.Scanner] for the resolverctl inspection mirror: it
// returns a point-in-time copy of every key in [lo, hi).
func (s *Store) Scan(_ context.Context, lo, hi []byte) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte)

	for k, e := range s.data {
		if !e.present {
			continue
		}

		kb := []byte(k)
		if bytes.Compare(kb, lo) < 0 {
			continue
		}

		if hi != nil && bytes.Compare(kb, hi) >= 0 {
			continue
		}

		out[k] = e.value
	}

	return out, nil
}

func (s *Store) begin() *tx {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &tx{
		store:      s,
		snapshot:   s.version,
		reads:      make(map[string]uint64),
		readAbsent: make(map[string]bool),
		writes:     make(map[string][]byte),
		deletes:    make(map[string]bool),
	}
}

type rangeClear struct{ lo, hi []byte }

type tx struct {
	store      *Store
	snapshot   uint64
	reads      map[string]uint64
	readAbsent map[string]bool
	writes     map[string][]byte
	deletes    map[string]bool
	ranges     []rangeClear
}

func (t *tx) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)

	if v, ok := t.writes[k]; ok {
		return v, true, nil
	}

	if t.deletes[k] {
		return nil, false, nil
	}

	t.store.mu.Lock()
	e, ok := t.store.data[k]
	t.store.mu.Unlock()

	if !ok || !e.present {
		t.readAbsent[k] = true

		return nil, false, nil
	}

	t.reads[k] = e.version

	return append([]byte(nil), e.value...), true, nil
}

func (t *tx) Set(key, value []byte) {
	k := string(key)
	t.writes[k] = append([]byte(nil), value...)
	delete(t.deletes, k)
}

func (t *tx) ClearRange(lo, hi []byte) {
	t.ranges = append(t.ranges, rangeClear{
		lo: append([]byte(nil), lo...),
		hi: append([]byte(nil), hi...),
	})
}

func (t *tx) ReadVersion() uint64 {
	return t.snapshot
}

// commit validates the transaction's read-set against the current store
// state and, if nothing conflicts, applies its write-set atomically under
// the store's single commit mutex.
func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return txkv.ErrClosed
	}

	for k, sawVersion := range t.reads {
		e, ok := s.data[k]
		if !ok || !e.present || e.version != sawVersion {
			return fmt.Errorf("%w: key %q changed since read", txkv.ErrConflict, k)
		}
	}

	for k := range t.readAbsent {
		if e, ok := s.data[k]; ok && e.present {
			return fmt.Errorf("%w: key %q created since read", txkv.ErrConflict, k)
		}
	}

	s.version++

	for _, rc := range t.ranges {
		for k := range s.data {
			kb := []byte(k)
			if inRange(kb, rc.lo, rc.hi) {
				s.data[k] = entry{present: false, version: s.version}
			}
		}
	}

	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}

	sort.Strings(keys) // deterministic application order, not load-bearing for correctness

	for _, k := range keys {
		s.data[k] = entry{value: t.writes[k], version: s.version, present: true}
	}

	return nil
}

func inRange(k, lo, hi []byte) bool {
	if bytes.Compare(k, lo) < 0 {
		return false
	}

	return hi == nil || bytes.Compare(k, hi) < 0
}
