// Package rstate persists and decodes the single resolver state record
// (version, lock, window_high) for a scope (§4.2 of the design).
//
// Grounded in the teacher's internal/store schema-version check in
// internal/store.Open: a single small record gates every read/write path,
// absence is a valid "fresh store" state, and a decode failure is treated
// as fatal rather than silently repaired.
package rstate

import (
	"context"
	"fmt"

	"github.com/kvresolve/resolver/internal/rerr"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/internal/tuple"
	"github.com/kvresolve/resolver/txkv"
)

// Lock is the scope-wide lock state guarding create operations.
type Lock uint8

const (
	// Unlocked allows reads and creates.
	Unlocked Lock = iota
	// WriteLocked allows reads of existing entries but rejects creates.
	WriteLocked
	// Retired is a terminal state reached only via ExclusiveLock; like
	// WriteLocked, it allows reads but rejects creates, and additionally
	// makes ExclusiveLock itself permanently unavailable.
	Retired
)

// String implements fmt.Stringer for diagnostics.
func (l Lock) String() string {
	switch l {
	case Unlocked:
		return "UNLOCKED"
	case WriteLocked:
		return "WRITE_LOCKED"
	case Retired:
		return "RETIRED"
	default:
		return fmt.Sprintf("Lock(%d)", uint8(l))
	}
}

// State is the resolver state record for one scope.
type State struct {
	Version    uint32
	Lock       Lock
	WindowHigh uint64
}

// CreatesAllowed reports whether a create (not just a read) is permitted
// under this lock state.
func (s State) CreatesAllowed() bool {
	return s.Lock == Unlocked
}

// Default is the state a scope has before any state record has ever been
// written: version 0, unlocked, with the caller-supplied default window
// floor.
func Default(defaultWindowHigh uint64) State {
	return State{Version: 0, Lock: Unlocked, WindowHigh: defaultWindowHigh}
}

// Load reads the state record for sub from tx, returning [Default] if no
// record has been written yet. A record that fails to decode is reported as
// [rerr.ErrStateCorrupt], never silently replaced.
func Load(ctx context.Context, tx txkv.Transaction, sub subspace.Subspace, defaultWindowHigh uint64) (State, error) {
	raw, ok, err := tx.Get(ctx, sub.StateKey())
	if err != nil {
		return State{}, fmt.Errorf("rstate: read state: %w", err)
	}

	if !ok {
		return Default(defaultWindowHigh), nil
	}

	state, err := decode(raw)
	if err != nil {
		return State{}, fmt.Errorf("rstate: decode state for scope %q: %w: %w", sub.ID(), rerr.ErrStateCorrupt, err)
	}

	return state, nil
}

// Save buffers the state record write for sub within tx. The caller is
// responsible for bumping Version before calling Save, per the "every
// mutation bumps version" invariant.
func Save(tx txkv.Transaction, sub subspace.Subspace, s State) {
	tx.Set(sub.StateKey(), encode(s))
}

func encode(s State) []byte {
	buf := make([]byte, 0, 13)
	buf = tuple.AppendUint64(buf, uint64(s.Version))
	buf = append(buf, byte(s.Lock))
	buf = tuple.AppendUint64(buf, s.WindowHigh)

	return buf
}

func decode(raw []byte) (State, error) {
	version, rest, err := tuple.ConsumeUint64(raw)
	if err != nil {
		return State{}, fmt.Errorf("version: %w", err)
	}

	if len(rest) < 1 {
		return State{}, fmt.Errorf("missing lock byte")
	}

	lock := Lock(rest[0])
	rest = rest[1:]

	windowHigh, rest, err := tuple.ConsumeUint64(rest)
	if err != nil {
		return State{}, fmt.Errorf("window_high: %w", err)
	}

	if len(rest) != 0 {
		return State{}, fmt.Errorf("%d trailing bytes", len(rest))
	}

	if lock > Retired {
		return State{}, fmt.Errorf("invalid lock byte %d", lock)
	}

	return State{Version: uint32(version), Lock: lock, WindowHigh: windowHigh}, nil
}
