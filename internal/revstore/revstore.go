// Package revstore persists the reverse direction of a scope's bidirectional
// mapping: value -> key, under the reverse/ subspace (§4.4).
package revstore

import (
	"context"
	"fmt"

	"github.com/kvresolve/resolver/internal/rerr"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/internal/tuple"
	"github.com/kvresolve/resolver/txkv"
)

// Get reads the key mapped to value under sub, reporting ok=false if value
// is unclaimed.
func Get(ctx context.Context, tx txkv.Transaction, sub subspace.Subspace, value uint64) (string, bool, error) {
	raw, ok, err := tx.Get(ctx, sub.ReverseKey(value))
	if err != nil {
		return "", false, fmt.Errorf("revstore: read %d: %w", value, err)
	}

	if !ok {
		return "", false, nil
	}

	key, rest, err := tuple.ConsumeString(raw)
	if err != nil {
		return "", false, fmt.Errorf("revstore: decode entry for %d: %w: %w", value, rerr.ErrStateCorrupt, err)
	}

	if len(rest) != 0 {
		return "", false, fmt.Errorf("revstore: decode entry for %d: %w: %d trailing bytes", value, rerr.ErrStateCorrupt, len(rest))
	}

	return key, true, nil
}

// Put buffers the reverse entry write for value under sub.
func Put(tx txkv.Transaction, sub subspace.Subspace, value uint64, key string) {
	tx.Set(sub.ReverseKey(value), tuple.AppendString(nil, key))
}
